// Package hackernews はHacker News APIからストーリー一覧を取得し、itemをRedisにキャッシュする。
package hackernews

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/workday/internal/model"
)

// DefaultBaseURL はHacker News APIのベースURL。
const DefaultBaseURL = "https://hacker-news.firebaseio.com/v0"

// maxBodySize はレスポンスボディの読み取り上限。
const maxBodySize = 2 << 20

// ErrItemNotFound はAPIがnullを返した（存在しない）itemのエラー。
var ErrItemNotFound = errors.New("Hacker News itemが存在しません")

// Client はHacker News APIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
}

// NewClient はClientを生成する。baseURLが空の場合はDefaultBaseURLを使う。
func NewClient(httpClient *http.Client, baseURL string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}
}

// StoryIDs は一覧種別（top, new, best, ask, show, job）のストーリーIDを取得する。
func (c *Client) StoryIDs(ctx context.Context, list string) ([]int64, error) {
	var ids []int64
	if err := c.getJSON(ctx, fmt.Sprintf("/%sstories.json", list), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// Item は1件のitemを取得する。APIがnullを返した場合はErrItemNotFoundを返す。
func (c *Client) Item(ctx context.Context, id int64) (*model.HackerNewsItem, error) {
	var item *model.HackerNewsItem
	if err := c.getJSON(ctx, fmt.Sprintf("/item/%d.json", id), &item); err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("%w (id=%d)", ErrItemNotFound, id)
	}
	return item, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Hacker News APIの呼び出しに失敗しました",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("Hacker News APIの呼び出しに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Hacker News APIがステータス %d を返しました (%s)", resp.StatusCode, path)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	return nil
}
