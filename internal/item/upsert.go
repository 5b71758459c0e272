// Package item はフィードから取得した記事の保存処理を提供する。
package item

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/workday/internal/feed"
	"github.com/hitoshi/workday/internal/model"
	"github.com/hitoshi/workday/internal/repository"
	"github.com/hitoshi/workday/internal/security"
)

// UpsertService は記事の同一性判定とUPSERT処理を提供する。
// 同一性は (feed_id, guid_or_id)、(feed_id, link)、hash(title+published+summary) の順に判定する。
type UpsertService struct {
	itemRepo  repository.ItemRepository
	sanitizer security.ContentSanitizerService
	logger    *slog.Logger
	now       func() time.Time
}

// NewUpsertService はUpsertServiceの新しいインスタンスを生成する。
func NewUpsertService(
	itemRepo repository.ItemRepository,
	sanitizer security.ContentSanitizerService,
	logger *slog.Logger,
) *UpsertService {
	return &UpsertService{
		itemRepo:  itemRepo,
		sanitizer: sanitizer,
		logger:    logger,
		now:       time.Now,
	}
}

// UpsertItems はフィードから取得した記事をUPSERTし、挿入数と更新数を返す。
// 概要はサニタイズしたうえでテキストだけを保存する。
func (s *UpsertService) UpsertItems(
	ctx context.Context,
	feedID string,
	items []model.ParsedItem,
) (inserted int, updated int, err error) {
	if len(items) == 0 {
		return 0, 0, nil
	}

	now := s.now()

	for _, parsed := range items {
		summary := feed.ExtractText(s.sanitizer.Sanitize(parsed.Summary))
		contentHash := computeContentHash(parsed.Title, parsed.PublishedAt, summary)

		existing, err := s.findExistingItem(ctx, feedID, parsed, contentHash)
		if err != nil {
			return inserted, updated, fmt.Errorf("記事の同一性判定に失敗: %w", err)
		}

		if existing != nil {
			applyParsed(existing, parsed, summary, contentHash)
			existing.UpdatedAt = now
			if err := s.itemRepo.Update(ctx, existing); err != nil {
				return inserted, updated, fmt.Errorf("記事の更新に失敗: %w", err)
			}
			updated++
			continue
		}

		item := &model.Item{
			ID:        uuid.New().String(),
			FeedID:    feedID,
			FetchedAt: now,
			CreatedAt: now,
			UpdatedAt: now,
		}
		applyParsed(item, parsed, summary, contentHash)
		if err := s.itemRepo.Create(ctx, item); err != nil {
			return inserted, updated, fmt.Errorf("記事の挿入に失敗: %w", err)
		}
		inserted++
	}

	s.logger.Info("記事UPSERT完了",
		slog.String("feed_id", feedID),
		slog.Int("inserted", inserted),
		slog.Int("updated", updated),
	)
	return inserted, updated, nil
}

// applyParsed はパース結果を記事に反映する。公開日時がない場合は既存の値を維持する。
func applyParsed(item *model.Item, parsed model.ParsedItem, summary, contentHash string) {
	item.GuidOrID = parsed.GuidOrID
	item.Title = parsed.Title
	item.Link = parsed.Link
	item.Summary = summary
	item.Categories = parsed.Categories
	item.ContentHash = contentHash
	if parsed.PublishedAt != nil {
		item.PublishedAt = parsed.PublishedAt
	}
}

func (s *UpsertService) findExistingItem(
	ctx context.Context,
	feedID string,
	parsed model.ParsedItem,
	contentHash string,
) (*model.Item, error) {
	if parsed.GuidOrID != "" {
		item, err := s.itemRepo.FindByFeedAndGUID(ctx, feedID, parsed.GuidOrID)
		if err != nil || item != nil {
			return item, err
		}
	}
	if parsed.Link != "" {
		item, err := s.itemRepo.FindByFeedAndLink(ctx, feedID, parsed.Link)
		if err != nil || item != nil {
			return item, err
		}
	}
	return s.itemRepo.FindByContentHash(ctx, feedID, contentHash)
}

// computeContentHash はtitle + published + summaryのSHA-256ハッシュを計算する。
func computeContentHash(title string, publishedAt *time.Time, summary string) string {
	pubStr := ""
	if publishedAt != nil {
		pubStr = publishedAt.UTC().Format(time.RFC3339)
	}
	hash := sha256.Sum256([]byte(title + "|" + pubStr + "|" + summary))
	return fmt.Sprintf("%x", hash)
}
