package model

import "time"

// Feed はニュースカテゴリごとに購読するRSS/Atomフィードを表す。
// カテゴリ定義と1対1で対応し、フェッチ状態を保持する。
type Feed struct {
	ID                string
	Category          string
	FeedURL           string
	SiteURL           string
	Title             string
	Description       string
	LastBuildDate     *time.Time
	ETag              string
	LastModified      string
	FetchStatus       FetchStatus
	ConsecutiveErrors int
	ErrorMessage      string
	NextFetchAt       time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// FetchStatus はフィードのフェッチ状態を表す。
type FetchStatus string

const (
	// FetchStatusActive はアクティブなフェッチ状態。
	FetchStatusActive FetchStatus = "active"
	// FetchStatusStopped は停止されたフェッチ状態。
	FetchStatusStopped FetchStatus = "stopped"
)
