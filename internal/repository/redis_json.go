package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// indexExistsMessage はFT.CREATEで既存インデックスを作ろうとした場合のエラーメッセージ。
const indexExistsMessage = "Index already exists"

// ensureJSONIndex はprefix配下のRedisJSONドキュメント向けの検索インデックスを作成する。
// 既に存在する場合は何もしない。
func ensureJSONIndex(ctx context.Context, rdb *redis.Client, name, prefix string, schema []*redis.FieldSchema) error {
	opts := &redis.FTCreateOptions{OnJSON: true, Prefix: []any{prefix}}
	if err := rdb.FTCreate(ctx, name, opts, schema...).Err(); err != nil {
		if strings.Contains(err.Error(), indexExistsMessage) {
			return nil
		}
		return fmt.Errorf("検索インデックス %s の作成に失敗しました: %w", name, err)
	}
	return nil
}

// setJSON はvをJSONにエンコードしてkeyのドキュメント全体を置き換える。
func setJSON(ctx context.Context, rdb *redis.Client, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("JSONエンコードに失敗しました: %w", err)
	}
	return rdb.JSONSet(ctx, key, "$", data).Err()
}

// getJSON はkeyのドキュメントをvにデコードする。キーが存在しない場合はfalseを返す。
func getJSON(ctx context.Context, rdb *redis.Client, key string, v any) (bool, error) {
	raw, err := rdb.JSONGet(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if raw == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("JSONデコードに失敗しました: %w", err)
	}
	return true, nil
}
