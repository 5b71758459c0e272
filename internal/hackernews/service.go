package hackernews

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/workday/internal/model"
	"github.com/hitoshi/workday/internal/repository"
	"github.com/hitoshi/workday/internal/semaphore"
)

const (
	// DefaultLimit は1回に返すストーリー数の既定値。
	DefaultLimit = 30
	// fetchConcurrency はキャッシュにないitemを同時に取得する数。
	fetchConcurrency = 10
)

// Lists は受け付ける一覧種別。
var Lists = []string{"top", "new", "best", "ask", "show", "job"}

// ErrUnknownList はListsにない一覧種別が指定された場合のエラー。
var ErrUnknownList = errors.New("不明なHacker Newsの一覧です")

// ItemSource はHacker News APIの呼び出しのインターフェース。
type ItemSource interface {
	StoryIDs(ctx context.Context, list string) ([]int64, error)
	Item(ctx context.Context, id int64) (*model.HackerNewsItem, error)
}

// Service はストーリー一覧を、Redisのキャッシュを優先して組み立てる。
type Service struct {
	source ItemSource
	cache  repository.HackerNewsRepository
	gate   *semaphore.Gate
	logger *slog.Logger
	limit  int
}

// NewService はServiceを生成する。limitが0以下の場合はDefaultLimitを使う。
func NewService(source ItemSource, cache repository.HackerNewsRepository, logger *slog.Logger, limit int) *Service {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Service{
		source: source,
		cache:  cache,
		gate:   semaphore.New(fetchConcurrency, 0),
		logger: logger,
		limit:  limit,
	}
}

// IsValidList は一覧種別が受け付け可能かを返す。
func IsValidList(list string) bool {
	for _, l := range Lists {
		if l == list {
			return true
		}
	}
	return false
}

// Stories は一覧のストーリーを上位limit件、APIの並び順で返す。
// キャッシュにないitemはAPIから取得して保存する。取得に失敗したitemは結果から除く。
func (s *Service) Stories(ctx context.Context, list string) ([]model.HackerNewsItem, error) {
	if !IsValidList(list) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownList, list)
	}

	ids, err := s.source.StoryIDs(ctx, list)
	if err != nil {
		return nil, fmt.Errorf("ストーリーIDの取得に失敗しました: %w", err)
	}
	if len(ids) > s.limit {
		ids = ids[:s.limit]
	}

	items := make([]*model.HackerNewsItem, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		if err := s.gate.Acquire(ctx); err != nil {
			break
		}
		g.Go(func() error {
			defer s.gate.Release()
			items[i] = s.load(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stories := make([]model.HackerNewsItem, 0, len(items))
	for _, item := range items {
		if item != nil {
			stories = append(stories, *item)
		}
	}
	return stories, nil
}

// load はキャッシュからitemを読み、なければAPIから取得して保存する。失敗時はnilを返す。
func (s *Service) load(ctx context.Context, id int64) *model.HackerNewsItem {
	cached, err := s.cache.Get(ctx, id)
	if err != nil {
		s.logger.Warn("キャッシュの読み取りに失敗しました",
			slog.Int64("item_id", id),
			slog.String("error", err.Error()),
		)
	}
	if cached != nil {
		return cached
	}

	item, err := s.source.Item(ctx, id)
	if err != nil {
		s.logger.Error("Hacker News itemの取得に失敗しました",
			slog.Int64("item_id", id),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if err := s.cache.Save(ctx, item); err != nil {
		s.logger.Warn("キャッシュへの保存に失敗しました",
			slog.Int64("item_id", id),
			slog.String("error", err.Error()),
		)
	}
	return item
}
