package model

import "time"

// Item はフィードから取得した記事を表す。
// PublishedAt はフィードに公開日時がない場合nilのまま保存し、通知対象から外す。
type Item struct {
	ID          string
	FeedID      string
	GuidOrID    string
	Title       string
	Link        string
	Summary     string // タグを除去したテキスト
	Categories  []string
	PublishedAt *time.Time
	FetchedAt   time.Time
	ContentHash string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ParsedItem はフィードパーサーから取得した未保存の記事データを表す。
type ParsedItem struct {
	GuidOrID    string
	Title       string
	Link        string
	Summary     string // 未サニタイズのHTML
	Categories  []string
	PublishedAt *time.Time
}

// FeedWithItems はフィードとその記事一覧をまとめたもの。ニュース画面とSlack通知で使う。
type FeedWithItems struct {
	Feed  *Feed
	Items []Item
}
