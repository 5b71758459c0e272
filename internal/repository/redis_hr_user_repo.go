package repository

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/workday/internal/model"
)

const (
	hrUserKeyPrefix = "freeeuser:"
	hrUserIndexName = "idx:freeeusers"
)

// RedisHRUserRepo はRedisJSONを使用したfreee連携情報リポジトリ。
// 1ユーザーにつき1ドキュメント（freeeuser:{userID}）を保持する。
type RedisHRUserRepo struct {
	rdb *redis.Client
}

// NewRedisHRUserRepo はRedisHRUserRepoを生成する。
func NewRedisHRUserRepo(rdb *redis.Client) *RedisHRUserRepo {
	return &RedisHRUserRepo{rdb: rdb}
}

func hrUserKey(userID string) string {
	return hrUserKeyPrefix + userID
}

// hrUserIndexSchema は連携情報インデックスのフィールド定義。
var hrUserIndexSchema = []*redis.FieldSchema{
	{FieldName: "$.id", As: "id", FieldType: redis.SearchFieldTypeNumeric, Sortable: true},
	{FieldName: "$.updated_at", As: "updated_at", FieldType: redis.SearchFieldTypeNumeric, Sortable: true},
	{FieldName: "$.companies[*].id", As: "company_id", FieldType: redis.SearchFieldTypeNumeric},
	{FieldName: "$.companies[*].name", As: "company_name", FieldType: redis.SearchFieldTypeText},
	{FieldName: "$.companies[*].role", As: "company_role", FieldType: redis.SearchFieldTypeText},
	{FieldName: "$.companies[*].external_cid", As: "external_cid", FieldType: redis.SearchFieldTypeNumeric},
	{FieldName: "$.companies[*].employee_id", As: "employee_id", FieldType: redis.SearchFieldTypeNumeric},
	{FieldName: "$.oauth.expires_in", As: "expires_in", FieldType: redis.SearchFieldTypeNumeric, Sortable: true},
	{FieldName: "$.oauth.created_at", As: "created_at", FieldType: redis.SearchFieldTypeNumeric, Sortable: true},
	{FieldName: "$.oauth.company_id", As: "oauth_company_id", FieldType: redis.SearchFieldTypeNumeric},
}

// EnsureIndex は連携情報の検索インデックスを作成する。既に存在する場合は成功扱いとする。
func (r *RedisHRUserRepo) EnsureIndex(ctx context.Context) error {
	return ensureJSONIndex(ctx, r.rdb, hrUserIndexName, hrUserKeyPrefix, hrUserIndexSchema)
}

// Get は連携情報を取得する。存在しない場合はnil, nilを返す。
func (r *RedisHRUserRepo) Get(ctx context.Context, userID string) (*model.HRUser, error) {
	var user model.HRUser
	found, err := getJSON(ctx, r.rdb, hrUserKey(userID), &user)
	if err != nil {
		return nil, fmt.Errorf("freee連携情報の取得に失敗しました: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &user, nil
}

// Save は連携情報を全体上書きで保存する。
func (r *RedisHRUserRepo) Save(ctx context.Context, userID string, user *model.HRUser) error {
	if err := setJSON(ctx, r.rdb, hrUserKey(userID), user); err != nil {
		return fmt.Errorf("freee連携情報の保存に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ HRUserRepository = (*RedisHRUserRepo)(nil)
