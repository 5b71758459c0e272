package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/workday/internal/model"
)

const itemColumns = `id, feed_id, guid_or_id, title, link, summary, categories,
		        published_at, fetched_at, content_hash, created_at, updated_at`

// PostgresItemRepo はPostgreSQLを使用した記事リポジトリ。
type PostgresItemRepo struct {
	db *sql.DB
}

// NewPostgresItemRepo はPostgresItemRepoを生成する。
func NewPostgresItemRepo(db *sql.DB) *PostgresItemRepo {
	return &PostgresItemRepo{db: db}
}

func scanItem(s rowScanner) (*model.Item, error) {
	item := &model.Item{}
	var publishedAt sql.NullTime
	var guidOrID, link, summary, contentHash sql.NullString
	var categories pq.StringArray

	if err := s.Scan(
		&item.ID, &item.FeedID, &guidOrID, &item.Title, &link, &summary, &categories,
		&publishedAt, &item.FetchedAt, &contentHash, &item.CreatedAt, &item.UpdatedAt,
	); err != nil {
		return nil, err
	}

	item.GuidOrID = nullStringValue(guidOrID)
	item.Link = nullStringValue(link)
	item.Summary = nullStringValue(summary)
	item.ContentHash = nullStringValue(contentHash)
	item.Categories = []string(categories)
	if publishedAt.Valid {
		item.PublishedAt = &publishedAt.Time
	}
	return item, nil
}

func (r *PostgresItemRepo) findOne(ctx context.Context, where string, args ...any) (*model.Item, error) {
	item, err := scanItem(r.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE `+where,
		args...,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return item, err
}

// FindByFeedAndGUID はfeed_idとguid_or_idで記事を検索する。
func (r *PostgresItemRepo) FindByFeedAndGUID(ctx context.Context, feedID, guid string) (*model.Item, error) {
	item, err := r.findOne(ctx, `feed_id = $1 AND guid_or_id = $2`, feedID, guid)
	if err != nil {
		return nil, fmt.Errorf("GUID による記事の検索に失敗しました: %w", err)
	}
	return item, nil
}

// FindByFeedAndLink はfeed_idとlinkで記事を検索する。
func (r *PostgresItemRepo) FindByFeedAndLink(ctx context.Context, feedID, link string) (*model.Item, error) {
	item, err := r.findOne(ctx, `feed_id = $1 AND link = $2`, feedID, link)
	if err != nil {
		return nil, fmt.Errorf("link による記事の検索に失敗しました: %w", err)
	}
	return item, nil
}

// FindByContentHash はfeed_idとcontent_hashで記事を検索する。
func (r *PostgresItemRepo) FindByContentHash(ctx context.Context, feedID, contentHash string) (*model.Item, error) {
	item, err := r.findOne(ctx, `feed_id = $1 AND content_hash = $2`, feedID, contentHash)
	if err != nil {
		return nil, fmt.Errorf("content_hash による記事の検索に失敗しました: %w", err)
	}
	return item, nil
}

// ListRecentByFeed はフィードの記事をpublished_at降順で最大limit件返す。
func (r *PostgresItemRepo) ListRecentByFeed(ctx context.Context, feedID string, limit int) ([]*model.Item, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+itemColumns+`
		 FROM items
		 WHERE feed_id = $1
		 ORDER BY published_at DESC NULLS LAST, fetched_at DESC
		 LIMIT $2`,
		feedID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("記事一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var items []*model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("記事行の読み取りに失敗しました: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("記事一覧の走査に失敗しました: %w", err)
	}

	return items, nil
}

// Create は新規記事を作成する。
func (r *PostgresItemRepo) Create(ctx context.Context, item *model.Item) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO items (id, feed_id, guid_or_id, title, link, summary, categories,
		                    published_at, fetched_at, content_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		item.ID, item.FeedID, nullString(item.GuidOrID), item.Title,
		nullString(item.Link), nullString(item.Summary), pq.Array(item.Categories),
		item.PublishedAt, item.FetchedAt, nullString(item.ContentHash),
		item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("記事の作成に失敗しました: %w", err)
	}
	return nil
}

// Update は既存記事を上書き更新する。履歴は保持しない。
func (r *PostgresItemRepo) Update(ctx context.Context, item *model.Item) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE items SET
		    guid_or_id = $2, title = $3, link = $4, summary = $5,
		    categories = $6, published_at = $7, content_hash = $8,
		    fetched_at = $9, updated_at = $10
		 WHERE id = $1`,
		item.ID, nullString(item.GuidOrID), item.Title, nullString(item.Link),
		nullString(item.Summary), pq.Array(item.Categories), item.PublishedAt,
		nullString(item.ContentHash), item.FetchedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("記事の更新に失敗しました: %w", err)
	}
	return nil
}

// DeleteFetchedBefore はfetched_atがbefore以前の記事を削除し、削除件数を返す。
func (r *PostgresItemRepo) DeleteFetchedBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM items WHERE fetched_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("古い記事の削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ ItemRepository = (*PostgresItemRepo)(nil)
