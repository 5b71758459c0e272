package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/workday/internal/model"
)

const feedColumns = `id, category, feed_url, site_url, title, description, last_build_date,
		        etag, last_modified, fetch_status, consecutive_errors,
		        error_message, next_fetch_at, created_at, updated_at`

// PostgresFeedRepo はPostgreSQLを使用したフィードリポジトリ。
type PostgresFeedRepo struct {
	db *sql.DB
}

// NewPostgresFeedRepo はPostgresFeedRepoを生成する。
func NewPostgresFeedRepo(db *sql.DB) *PostgresFeedRepo {
	return &PostgresFeedRepo{db: db}
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeed(s rowScanner) (*model.Feed, error) {
	feed := &model.Feed{}
	var siteURL, description, etag, lastModified, errorMessage sql.NullString
	var lastBuildDate sql.NullTime

	if err := s.Scan(
		&feed.ID, &feed.Category, &feed.FeedURL, &siteURL, &feed.Title,
		&description, &lastBuildDate,
		&etag, &lastModified, &feed.FetchStatus, &feed.ConsecutiveErrors,
		&errorMessage, &feed.NextFetchAt, &feed.CreatedAt, &feed.UpdatedAt,
	); err != nil {
		return nil, err
	}

	feed.SiteURL = nullStringValue(siteURL)
	feed.Description = nullStringValue(description)
	feed.ETag = nullStringValue(etag)
	feed.LastModified = nullStringValue(lastModified)
	feed.ErrorMessage = nullStringValue(errorMessage)
	if lastBuildDate.Valid {
		feed.LastBuildDate = &lastBuildDate.Time
	}
	return feed, nil
}

// FindByCategory はカテゴリキーでフィードを取得する。見つからない場合はnilを返す。
func (r *PostgresFeedRepo) FindByCategory(ctx context.Context, category string) (*model.Feed, error) {
	feed, err := scanFeed(r.db.QueryRowContext(ctx,
		`SELECT `+feedColumns+` FROM feeds WHERE category = $1`,
		category,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("カテゴリによるフィードの取得に失敗しました: %w", err)
	}
	return feed, nil
}

// ListAll は全フィードをカテゴリ順で返す。
func (r *PostgresFeedRepo) ListAll(ctx context.Context) ([]*model.Feed, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+feedColumns+` FROM feeds ORDER BY category ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("フィード一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var feeds []*model.Feed
	for rows.Next() {
		feed, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("フィード行の読み取りに失敗しました: %w", err)
		}
		feeds = append(feeds, feed)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("フィード一覧の走査に失敗しました: %w", err)
	}
	return feeds, nil
}

// Create はフィードを作成する。
func (r *PostgresFeedRepo) Create(ctx context.Context, feed *model.Feed) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO feeds (id, category, feed_url, site_url, title, description, last_build_date,
		                    etag, last_modified, fetch_status, consecutive_errors,
		                    error_message, next_fetch_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		feed.ID, feed.Category, feed.FeedURL, nullString(feed.SiteURL), feed.Title,
		nullString(feed.Description), feed.LastBuildDate,
		nullString(feed.ETag), nullString(feed.LastModified),
		feed.FetchStatus, feed.ConsecutiveErrors,
		nullString(feed.ErrorMessage), feed.NextFetchAt,
		feed.CreatedAt, feed.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("フィードの作成に失敗しました: %w", err)
	}
	return nil
}

// UpdateFeedURL はフィードURLを更新し、条件付きGETの状態とエラー状態をリセットする。
func (r *PostgresFeedRepo) UpdateFeedURL(ctx context.Context, feedID, feedURL string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE feeds SET
		    feed_url = $2, etag = NULL, last_modified = NULL,
		    fetch_status = 'active', consecutive_errors = 0, error_message = NULL,
		    next_fetch_at = now(), updated_at = now()
		 WHERE id = $1`,
		feedID, feedURL,
	)
	if err != nil {
		return fmt.Errorf("フィードURLの更新に失敗しました: %w", err)
	}
	return nil
}

// UpdateMetadata はフィードのタイトル・サイトURL・説明・最終更新日時を更新する。
func (r *PostgresFeedRepo) UpdateMetadata(ctx context.Context, feed *model.Feed) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE feeds SET
		    title = $2, site_url = $3, description = $4, last_build_date = $5,
		    updated_at = now()
		 WHERE id = $1`,
		feed.ID, feed.Title, nullString(feed.SiteURL),
		nullString(feed.Description), feed.LastBuildDate,
	)
	if err != nil {
		return fmt.Errorf("フィード情報の更新に失敗しました: %w", err)
	}
	return nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// ListDueForFetch はフェッチ対象のフィードを取得する。
// next_fetch_at <= now() かつ fetch_status = 'active' のフィードを
// FOR UPDATE SKIP LOCKEDで排他的に取得する。
func (r *PostgresFeedRepo) ListDueForFetch(ctx context.Context) ([]*model.Feed, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+feedColumns+`
		 FROM feeds
		 WHERE next_fetch_at <= now()
		   AND fetch_status = 'active'
		 ORDER BY next_fetch_at ASC
		 FOR UPDATE SKIP LOCKED`,
	)
	if err != nil {
		return nil, fmt.Errorf("フェッチ対象フィードの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var feeds []*model.Feed
	for rows.Next() {
		feed, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("フェッチ対象フィードの読み取りに失敗しました: %w", err)
		}
		feeds = append(feeds, feed)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("フェッチ対象フィードの走査に失敗しました: %w", err)
	}

	return feeds, nil
}

// UpdateFetchState はフィードのフェッチ状態を更新する。
func (r *PostgresFeedRepo) UpdateFetchState(ctx context.Context, feed *model.Feed) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE feeds SET
		    fetch_status = $2,
		    consecutive_errors = $3,
		    error_message = $4,
		    next_fetch_at = $5,
		    etag = $6,
		    last_modified = $7,
		    updated_at = now()
		 WHERE id = $1`,
		feed.ID,
		feed.FetchStatus,
		feed.ConsecutiveErrors,
		nullString(feed.ErrorMessage),
		feed.NextFetchAt,
		nullString(feed.ETag),
		nullString(feed.LastModified),
	)
	if err != nil {
		return fmt.Errorf("フェッチ状態の更新に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ FeedRepository = (*PostgresFeedRepo)(nil)
