package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/workday/internal/metrics"
	"github.com/hitoshi/workday/internal/model"
	"github.com/hitoshi/workday/internal/repository"
)

const userAgent = "workday-news/1.0 (+feed fetcher)"

// ItemUpserter は記事のUPSERT処理のインターフェース。
type ItemUpserter interface {
	UpsertItems(ctx context.Context, feedID string, items []model.ParsedItem) (int, int, error)
}

// SSRFValidator はSSRF検証のインターフェース。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// FetcherConfig はフェッチャーのタイムアウト・サイズ上限・取得間隔。
type FetcherConfig struct {
	Timeout     time.Duration
	MaxBodySize int64
	// Interval は成功時に次回フェッチまで空ける時間。
	Interval time.Duration
}

// Fetcher は個別フィードのHTTPフェッチとパースを行う。
// ETag/Last-Modifiedを使用した条件付きGET、SSRF検証、
// gofeedによるパース、ItemUpserterによる記事保存を実行する。
type Fetcher struct {
	feedRepo  repository.FeedRepository
	upsertSvc ItemUpserter
	ssrfGuard SSRFValidator
	logger    *slog.Logger
	metrics   metrics.MetricsCollector
	config    FetcherConfig
}

// NewFetcher はFetcherの新しいインスタンスを生成する。collectorがnilの場合は記録しない。
func NewFetcher(
	feedRepo repository.FeedRepository,
	upsertSvc ItemUpserter,
	ssrfGuard SSRFValidator,
	logger *slog.Logger,
	collector metrics.MetricsCollector,
	config FetcherConfig,
) *Fetcher {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Fetcher{
		feedRepo:  feedRepo,
		upsertSvc: upsertSvc,
		ssrfGuard: ssrfGuard,
		logger:    logger,
		metrics:   collector,
		config:    config,
	}
}

// Fetch はフィードをフェッチし、結果に応じてフィード状態を更新する。
func (f *Fetcher) Fetch(ctx context.Context, feed *model.Feed) error {
	start := time.Now()

	if err := f.ssrfGuard.ValidateURL(feed.FeedURL); err != nil {
		f.logger.Error("SSRF検証に失敗しました",
			slog.String("feed_id", feed.ID),
			slog.String("feed_url", feed.FeedURL),
			slog.String("error", err.Error()),
		)
		f.metrics.RecordFetchFailure(feed.ID, "ssrf")
		ApplyStopFeed(feed, fmt.Sprintf("SSRF検証失敗: %s", err.Error()))
		f.saveFetchState(ctx, feed)
		return fmt.Errorf("SSRF検証に失敗: %w", err)
	}

	client := f.ssrfGuard.NewSafeClient(f.config.Timeout, f.config.MaxBodySize)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.FeedURL, nil)
	if err != nil {
		return fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")
	if feed.ETag != "" {
		req.Header.Set("If-None-Match", feed.ETag)
	}
	if feed.LastModified != "" {
		req.Header.Set("If-Modified-Since", feed.LastModified)
	}

	resp, err := client.Do(req)
	if err != nil {
		f.logger.Error("HTTPリクエストに失敗しました",
			slog.String("feed_id", feed.ID),
			slog.String("feed_url", feed.FeedURL),
			slog.String("error", err.Error()),
		)
		f.metrics.RecordFetchFailure(feed.ID, "network")
		ApplyBackoff(feed, fmt.Sprintf("HTTPリクエスト失敗: %s", err.Error()))
		f.saveFetchState(ctx, feed)
		return fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start)
	f.metrics.RecordHTTPStatus(resp.StatusCode)
	f.metrics.RecordFetchLatency(duration)

	switch ClassifyHTTPStatus(resp.StatusCode) {
	case FetchResultNotModified:
		f.logger.Info("フィードは未変更です（304）",
			slog.String("feed_id", feed.ID),
			slog.Int("http_status", resp.StatusCode),
			slog.Float64("duration_ms", float64(duration.Milliseconds())),
		)
		f.metrics.RecordFetchSuccess(feed.ID)
		ApplySuccess(feed, f.config.Interval)
		return f.feedRepo.UpdateFetchState(ctx, feed)

	case FetchResultStop:
		reason := fmt.Sprintf("HTTPステータス %d によりフェッチを停止しました", resp.StatusCode)
		f.logger.Warn("フィードフェッチを停止します",
			slog.String("feed_id", feed.ID),
			slog.String("feed_url", feed.FeedURL),
			slog.Int("http_status", resp.StatusCode),
		)
		f.metrics.RecordFetchFailure(feed.ID, "stopped")
		ApplyStopFeed(feed, reason)
		return f.feedRepo.UpdateFetchState(ctx, feed)

	case FetchResultBackoff:
		f.logger.Warn("フィードフェッチにバックオフを適用します",
			slog.String("feed_id", feed.ID),
			slog.String("feed_url", feed.FeedURL),
			slog.Int("http_status", resp.StatusCode),
			slog.Int("consecutive_errors", feed.ConsecutiveErrors+1),
		)
		f.metrics.RecordFetchFailure(feed.ID, "backoff")
		ApplyBackoff(feed, fmt.Sprintf("HTTPステータス %d によりバックオフを適用しました", resp.StatusCode))
		return f.feedRepo.UpdateFetchState(ctx, feed)

	case FetchResultOK:
	default:
		f.logger.Warn("予期しないHTTPステータスコード",
			slog.String("feed_id", feed.ID),
			slog.Int("http_status", resp.StatusCode),
		)
		f.metrics.RecordFetchFailure(feed.ID, "unexpected_status")
		ApplyBackoff(feed, fmt.Sprintf("予期しないHTTPステータス: %d", resp.StatusCode))
		return f.feedRepo.UpdateFetchState(ctx, feed)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBodySize))
	if err != nil {
		f.logger.Error("レスポンスボディの読み取りに失敗しました",
			slog.String("feed_id", feed.ID),
			slog.String("error", err.Error()),
		)
		f.metrics.RecordFetchFailure(feed.ID, "read")
		ApplyBackoff(feed, fmt.Sprintf("レスポンス読み取り失敗: %s", err.Error()))
		return f.feedRepo.UpdateFetchState(ctx, feed)
	}

	if etag := resp.Header.Get("ETag"); etag != "" {
		feed.ETag = etag
	}
	if lastMod := resp.Header.Get("Last-Modified"); lastMod != "" {
		feed.LastModified = lastMod
	}

	parsedFeed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		f.logger.Error("フィードのパースに失敗しました",
			slog.String("feed_id", feed.ID),
			slog.String("feed_url", feed.FeedURL),
			slog.String("error", err.Error()),
		)
		f.metrics.RecordParseFailure(feed.ID)
		ApplyParseFailure(feed, err.Error())
		f.saveFetchState(ctx, feed)
		return nil // パース失敗はカウントして継続
	}

	if applyMetadata(feed, parsedFeed) {
		if err := f.feedRepo.UpdateMetadata(ctx, feed); err != nil {
			f.logger.Error("フィード情報の更新に失敗しました",
				slog.String("feed_id", feed.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	parsedItems := convertGofeedItems(parsedFeed.Items)
	inserted, updated, err := f.upsertSvc.UpsertItems(ctx, feed.ID, parsedItems)
	if err != nil {
		f.logger.Error("記事のUPSERTに失敗しました",
			slog.String("feed_id", feed.ID),
			slog.String("error", err.Error()),
		)
		f.metrics.RecordFetchFailure(feed.ID, "upsert")
		ApplyParseFailure(feed, fmt.Sprintf("記事UPSERT失敗: %s", err.Error()))
		f.saveFetchState(ctx, feed)
		return nil
	}
	f.metrics.RecordItemsUpserted(inserted + updated)

	ApplySuccess(feed, f.config.Interval)
	if err := f.feedRepo.UpdateFetchState(ctx, feed); err != nil {
		f.logger.Error("フィード状態の更新に失敗しました",
			slog.String("feed_id", feed.ID),
			slog.String("error", err.Error()),
		)
		return err
	}
	f.metrics.RecordFetchSuccess(feed.ID)

	f.logger.Info("フィードフェッチが完了しました",
		slog.String("feed_id", feed.ID),
		slog.String("category", feed.Category),
		slog.Int("http_status", resp.StatusCode),
		slog.Int("items_inserted", inserted),
		slog.Int("items_updated", updated),
		slog.Int("items_total", len(parsedItems)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return nil
}

// saveFetchState はエラー経路でのフェッチ状態保存。失敗はログのみ。
func (f *Fetcher) saveFetchState(ctx context.Context, feed *model.Feed) {
	if err := f.feedRepo.UpdateFetchState(ctx, feed); err != nil {
		f.logger.Error("フィード状態の更新に失敗しました",
			slog.String("feed_id", feed.ID),
			slog.String("error", err.Error()),
		)
	}
}

// applyMetadata はパース結果のタイトル・サイトURL・説明・最終更新日時をfeedに反映する。
// 値が変わった場合にtrueを返す。
func applyMetadata(feed *model.Feed, parsed *gofeed.Feed) bool {
	changed := false
	set := func(dst *string, v string) {
		if v != "" && *dst != v {
			*dst = v
			changed = true
		}
	}
	set(&feed.Title, parsed.Title)
	set(&feed.SiteURL, parsed.Link)
	set(&feed.Description, parsed.Description)

	built := parsed.UpdatedParsed
	if built == nil {
		built = parsed.PublishedParsed
	}
	if built != nil && (feed.LastBuildDate == nil || !feed.LastBuildDate.Equal(*built)) {
		t := *built
		feed.LastBuildDate = &t
		changed = true
	}
	return changed
}

// convertGofeedItems はgofeedの記事をmodel.ParsedItemに変換する。
// 要約はDescription、空の場合はContentを使う。
func convertGofeedItems(items []*gofeed.Item) []model.ParsedItem {
	parsedItems := make([]model.ParsedItem, 0, len(items))

	for _, item := range items {
		if item == nil {
			continue
		}

		parsed := model.ParsedItem{
			GuidOrID: item.GUID,
			Title:    item.Title,
			Link:     item.Link,
			Summary:  item.Description,
		}
		if parsed.Summary == "" {
			parsed.Summary = item.Content
		}
		if len(item.Categories) > 0 {
			parsed.Categories = append([]string(nil), item.Categories...)
		}

		if item.PublishedParsed != nil {
			t := *item.PublishedParsed
			parsed.PublishedAt = &t
		} else if item.UpdatedParsed != nil {
			t := *item.UpdatedParsed
			parsed.PublishedAt = &t
		}

		// LinkがなくGUIDがURL形式の場合はGUIDをLinkとして使用
		if parsed.Link == "" &&
			(strings.HasPrefix(parsed.GuidOrID, "http://") || strings.HasPrefix(parsed.GuidOrID, "https://")) {
			parsed.Link = parsed.GuidOrID
		}

		parsedItems = append(parsedItems, parsed)
	}

	return parsedItems
}
