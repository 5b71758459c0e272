package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/workday/internal/model"
	"github.com/hitoshi/workday/internal/repository"
)

// DefaultItemLimit は1フィードあたりに返す記事数の上限。
const DefaultItemLimit = 50

// ErrCategoryNotFound はカテゴリ一覧にないkeyが指定された場合のエラー。
var ErrCategoryNotFound = errors.New("カテゴリが見つかりません")

// AllNews は全カテゴリの記事を新しい順にまとめたもの。
type AllNews struct {
	Title         string
	LastBuildDate *time.Time
	Items         []model.Item
}

// Service はカテゴリ定義とフィード・記事の保存内容を突き合わせてニュースを返す。
type Service struct {
	feedRepo  repository.FeedRepository
	itemRepo  repository.ItemRepository
	catalog   *Catalog
	logger    *slog.Logger
	itemLimit int
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	feedRepo repository.FeedRepository,
	itemRepo repository.ItemRepository,
	catalog *Catalog,
	logger *slog.Logger,
) *Service {
	return &Service{
		feedRepo:  feedRepo,
		itemRepo:  itemRepo,
		catalog:   catalog,
		logger:    logger,
		itemLimit: DefaultItemLimit,
		now:       time.Now,
	}
}

// Catalog はカテゴリ一覧を返す。
func (s *Service) Catalog() *Catalog {
	return s.catalog
}

// SyncCategories はカテゴリ定義をfeedsテーブルに反映する。
// 未登録のカテゴリはフィードを作成し、URLが変わったカテゴリはフェッチ状態をリセットする。
func (s *Service) SyncCategories(ctx context.Context) error {
	for _, cat := range s.catalog.All() {
		existing, err := s.feedRepo.FindByCategory(ctx, cat.Key)
		if err != nil {
			return fmt.Errorf("フィードの検索に失敗しました (category=%s): %w", cat.Key, err)
		}

		if existing == nil {
			now := s.now()
			feed := &model.Feed{
				ID:          uuid.New().String(),
				Category:    cat.Key,
				FeedURL:     cat.URL,
				Title:       cat.Label, // フェッチ時にフィードのタイトルで上書きされる
				FetchStatus: model.FetchStatusActive,
				NextFetchAt: now,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := s.feedRepo.Create(ctx, feed); err != nil {
				return fmt.Errorf("フィードの作成に失敗しました (category=%s): %w", cat.Key, err)
			}
			s.logger.Info("カテゴリのフィードを登録しました",
				slog.String("category", cat.Key),
				slog.String("feed_url", cat.URL),
			)
			continue
		}

		if existing.FeedURL != cat.URL {
			if err := s.feedRepo.UpdateFeedURL(ctx, existing.ID, cat.URL); err != nil {
				return fmt.Errorf("フィードURLの更新に失敗しました (category=%s): %w", cat.Key, err)
			}
			s.logger.Info("カテゴリのフィードURLを更新しました",
				slog.String("category", cat.Key),
				slog.String("old_url", existing.FeedURL),
				slog.String("new_url", cat.URL),
			)
		}
	}
	return nil
}

// Category はカテゴリのフィードと新しい順の記事を返す。
// まだ同期されていないカテゴリは、カテゴリ定義から組み立てた記事なしのフィードを返す。
func (s *Service) Category(ctx context.Context, key string) (*model.FeedWithItems, error) {
	cat, ok := s.catalog.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCategoryNotFound, key)
	}

	feed, err := s.feedRepo.FindByCategory(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("フィードの取得に失敗しました: %w", err)
	}
	if feed == nil {
		return &model.FeedWithItems{
			Feed:  &model.Feed{Category: cat.Key, FeedURL: cat.URL, Title: cat.Label},
			Items: []model.Item{},
		}, nil
	}

	items, err := s.itemRepo.ListRecentByFeed(ctx, feed.ID, s.itemLimit)
	if err != nil {
		return nil, fmt.Errorf("記事の取得に失敗しました: %w", err)
	}
	return &model.FeedWithItems{Feed: feed, Items: derefItems(items)}, nil
}

// Recent はカテゴリの記事のうち公開日時がsince以降で、カテゴリのフィルタを通過したものを返す。
func (s *Service) Recent(ctx context.Context, key string, since time.Time) (*model.FeedWithItems, error) {
	fw, err := s.Category(ctx, key)
	if err != nil {
		return nil, err
	}
	fw.Items = s.catalog.Filter(key).Apply(SelectRecent(fw.Items, since))
	return fw, nil
}

// All は全カテゴリの記事を公開日時の新しい順にまとめて返す。
// 取得に失敗したカテゴリはログに残して除外する。
func (s *Service) All(ctx context.Context) (*AllNews, error) {
	feeds, err := s.feedRepo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("フィード一覧の取得に失敗しました: %w", err)
	}

	news := &AllNews{Title: "ALL Category RSS Feeds", Items: []model.Item{}}
	for _, feed := range feeds {
		if _, ok := s.catalog.Lookup(feed.Category); !ok {
			continue
		}
		items, err := s.itemRepo.ListRecentByFeed(ctx, feed.ID, s.itemLimit)
		if err != nil {
			s.logger.Error("カテゴリの記事取得に失敗しました",
				slog.String("category", feed.Category),
				slog.String("error", err.Error()),
			)
			continue
		}
		news.Items = append(news.Items, derefItems(items)...)
		if feed.LastBuildDate != nil && (news.LastBuildDate == nil || feed.LastBuildDate.After(*news.LastBuildDate)) {
			t := *feed.LastBuildDate
			news.LastBuildDate = &t
		}
	}

	SortNewestFirst(news.Items)
	return news, nil
}

// SortNewestFirst は記事を公開日時の降順に並べる。公開日時のない記事は末尾に置く。
func SortNewestFirst(items []model.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].PublishedAt, items[j].PublishedAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
}

func derefItems(items []*model.Item) []model.Item {
	out := make([]model.Item, 0, len(items))
	for _, item := range items {
		if item != nil {
			out = append(out, *item)
		}
	}
	return out
}
