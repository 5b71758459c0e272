package repository

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/workday/internal/model"
)

const (
	hackerNewsKeyPrefix = "hackernews:"
	hackerNewsIndexName = "idx:hackernews"
)

// RedisHackerNewsRepo はRedisJSONを使用したHacker News itemキャッシュ。
// itemは一度取得すると更新しない。
type RedisHackerNewsRepo struct {
	rdb *redis.Client
}

// NewRedisHackerNewsRepo はRedisHackerNewsRepoを生成する。
func NewRedisHackerNewsRepo(rdb *redis.Client) *RedisHackerNewsRepo {
	return &RedisHackerNewsRepo{rdb: rdb}
}

func hackerNewsKey(id int64) string {
	return hackerNewsKeyPrefix + strconv.FormatInt(id, 10)
}

// hackerNewsIndexSchema はitemインデックスのフィールド定義。
var hackerNewsIndexSchema = []*redis.FieldSchema{
	{FieldName: "$.id", As: "id", FieldType: redis.SearchFieldTypeNumeric, Sortable: true},
	{FieldName: "$.type", As: "type", FieldType: redis.SearchFieldTypeTag},
	{FieldName: "$.by", As: "by", FieldType: redis.SearchFieldTypeText},
	{FieldName: "$.time", As: "time", FieldType: redis.SearchFieldTypeNumeric, Sortable: true},
	{FieldName: "$.url", As: "url", FieldType: redis.SearchFieldTypeText},
	{FieldName: "$.score", As: "score", FieldType: redis.SearchFieldTypeNumeric, Sortable: true},
	{FieldName: "$.title", As: "title", FieldType: redis.SearchFieldTypeText},
	{FieldName: "$.descendants", As: "descendants", FieldType: redis.SearchFieldTypeNumeric},
	{FieldName: "$.parent", As: "parent", FieldType: redis.SearchFieldTypeNumeric},
}

// EnsureIndex はitemの検索インデックスを作成する。既に存在する場合は成功扱いとする。
func (r *RedisHackerNewsRepo) EnsureIndex(ctx context.Context) error {
	return ensureJSONIndex(ctx, r.rdb, hackerNewsIndexName, hackerNewsKeyPrefix, hackerNewsIndexSchema)
}

// Get はキャッシュ済みitemを取得する。存在しない場合はnil, nilを返す。
func (r *RedisHackerNewsRepo) Get(ctx context.Context, id int64) (*model.HackerNewsItem, error) {
	var item model.HackerNewsItem
	found, err := getJSON(ctx, r.rdb, hackerNewsKey(id), &item)
	if err != nil {
		return nil, fmt.Errorf("Hacker News itemの取得に失敗しました (id=%d): %w", id, err)
	}
	if !found {
		return nil, nil
	}
	return &item, nil
}

// Save はitemをキャッシュに保存する。
func (r *RedisHackerNewsRepo) Save(ctx context.Context, item *model.HackerNewsItem) error {
	if err := setJSON(ctx, r.rdb, hackerNewsKey(item.ID), item); err != nil {
		return fmt.Errorf("Hacker News itemの保存に失敗しました (id=%d): %w", item.ID, err)
	}
	return nil
}

// compile-time interface check
var _ HackerNewsRepository = (*RedisHackerNewsRepo)(nil)
