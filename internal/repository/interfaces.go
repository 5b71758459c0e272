// Package repository はデータ永続化のインターフェースと実装を定義する。
// ログインユーザー・セッション・ニュース記事はPostgreSQLに、
// freee連携情報・トークン更新ロック・Hacker Newsキャッシュは Redis に保存する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/workday/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// UpdateProfile はIdPから受け取ったメールアドレスと表示名で上書きする。
	UpdateProfile(ctx context.Context, id, email, name string, updatedAt time.Time) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// FeedRepository はカテゴリごとのフィードの永続化インターフェース。
type FeedRepository interface {
	// FindByCategory はカテゴリキーでフィードを取得する。見つからない場合はnilを返す。
	FindByCategory(ctx context.Context, category string) (*model.Feed, error)

	// ListAll は全フィードをカテゴリ順で返す。
	ListAll(ctx context.Context) ([]*model.Feed, error)

	// Create はフィードを作成する。
	Create(ctx context.Context, feed *model.Feed) error

	// UpdateFeedURL はカテゴリ定義の変更に追従してフィードURLを更新し、フェッチ状態をリセットする。
	UpdateFeedURL(ctx context.Context, feedID, feedURL string) error

	// UpdateMetadata はフィードのタイトル・サイトURL・説明・最終更新日時を更新する。
	UpdateMetadata(ctx context.Context, feed *model.Feed) error

	// ListDueForFetch はフェッチ対象のフィードを取得する。
	// next_fetch_at <= now() かつ fetch_status = 'active' のフィードを
	// FOR UPDATE SKIP LOCKEDで排他的に取得する。
	ListDueForFetch(ctx context.Context) ([]*model.Feed, error)

	// UpdateFetchState はフィードのフェッチ状態を更新する。
	// fetch_status、consecutive_errors、error_message、next_fetch_at、etag、last_modifiedを更新する。
	UpdateFetchState(ctx context.Context, feed *model.Feed) error
}

// ItemRepository は記事データの永続化インターフェース。
// 記事の同一性判定（3段階の優先順位）と一覧・削除操作を提供する。
type ItemRepository interface {
	// FindByFeedAndGUID はfeed_idとguid_or_idで記事を検索する。
	// 同一性判定の最優先手段。見つからない場合はnilを返す。
	FindByFeedAndGUID(ctx context.Context, feedID, guid string) (*model.Item, error)

	// FindByFeedAndLink はfeed_idとlinkで記事を検索する。
	// 同一性判定の第2優先手段。見つからない場合はnilを返す。
	FindByFeedAndLink(ctx context.Context, feedID, link string) (*model.Item, error)

	// FindByContentHash はfeed_idとcontent_hashで記事を検索する。
	// 同一性判定の第3優先手段（hash(title+published+summary)）。見つからない場合はnilを返す。
	FindByContentHash(ctx context.Context, feedID, contentHash string) (*model.Item, error)

	// ListRecentByFeed はフィードの記事をpublished_at降順で最大limit件返す。
	// published_atがNULLの記事は末尾に並ぶ。
	ListRecentByFeed(ctx context.Context, feedID string, limit int) ([]*model.Item, error)

	// Create は新規記事を作成する。
	Create(ctx context.Context, item *model.Item) error

	// Update は既存記事を上書き更新する。履歴は保持しない。
	Update(ctx context.Context, item *model.Item) error

	// DeleteFetchedBefore はfetched_atがbefore以前の記事を削除し、削除件数を返す。
	DeleteFetchedBefore(ctx context.Context, before time.Time) (int64, error)
}

// HRUserRepository はfreee連携情報（トークンストア）の永続化インターフェース。
// キーはアプリケーションのユーザーID。
type HRUserRepository interface {
	// Get は連携情報を取得する。存在しない場合はnil, nilを返す。
	Get(ctx context.Context, userID string) (*model.HRUser, error)
	// Save は連携情報を全体上書きで保存する。
	Save(ctx context.Context, userID string, user *model.HRUser) error
}

// HackerNewsRepository はHacker News itemのキャッシュインターフェース。
type HackerNewsRepository interface {
	// Get はキャッシュ済みitemを取得する。存在しない場合はnil, nilを返す。
	Get(ctx context.Context, id int64) (*model.HackerNewsItem, error)
	// Save はitemをキャッシュに保存する。
	Save(ctx context.Context, item *model.HackerNewsItem) error
}
