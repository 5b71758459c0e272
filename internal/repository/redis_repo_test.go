package repository

import (
	"context"
	"encoding/json"
	"errors"
		"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/workday/internal/model"
	"github.com/hitoshi/workday/internal/oauth"
)

func sampleHRUser() *model.HRUser {
	employeeID := int64(501)
	return &model.HRUser{
		ID: 42,
		Companies: []model.Company{
			{ID: 1001, Name: "株式会社テスト", Role: "self_only", ExternalCID: 9001, EmployeeID: &employeeID},
		},
		OAuth: oauth.Token{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			TokenType:    "bearer",
			ExpiresIn:    21600,
			CreatedAt:    1700000000,
			CompanyID:    1001,
		},
		UpdatedAt: 1700000000000,
	}
}

func TestRedisHRUserRepo_Save_OverwritesWholeDocument(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	repo := NewRedisHRUserRepo(rdb)
	user := sampleHRUser()
	data, err := json.Marshal(user)
	require.NoError(t, err)

	mock.ExpectDo("JSON.SET", "freeeuser:user-1", "$", string(data)).SetVal("OK")

	require.NoError(t, repo.Save(context.Background(), "user-1", user))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisHRUserRepo_Get(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	repo := NewRedisHRUserRepo(rdb)
	data, err := json.Marshal(sampleHRUser())
	require.NoError(t, err)

	mock.ExpectDo("JSON.GET", "freeeuser:user-1").SetVal(string(data))

	got, err := repo.Get(context.Background(), "user-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(42), got.ID)
	assert.Equal(t, "refresh-1", got.OAuth.RefreshToken)
	require.Len(t, got.Companies, 1)
	require.NotNil(t, got.Companies[0].EmployeeID)
	assert.Equal(t, int64(501), *got.Companies[0].EmployeeID)
}

func TestRedisHRUserRepo_Get_Absent(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	repo := NewRedisHRUserRepo(rdb)

	mock.ExpectDo("JSON.GET", "freeeuser:nobody").RedisNil()

	got, err := repo.Get(context.Background(), "nobody")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisHRUserRepo_Get_Error(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	repo := NewRedisHRUserRepo(rdb)
	redisErr := errors.New("connection refused")

	mock.ExpectDo("JSON.GET", "freeeuser:user-1").SetErr(redisErr)

	_, err := repo.Get(context.Background(), "user-1")
	assert.ErrorIs(t, err, redisErr)
}

// ftCreateArgs はON JSONの検索インデックス作成で送られるFT.CREATEの引数列を組み立てる。
func ftCreateArgs(index, prefix string, schema []*redis.FieldSchema) []interface{} {
	args := []interface{}{"FT.CREATE", index, "ON", "JSON", "PREFIX", 1, prefix, "SCHEMA"}
	for _, f := range schema {
		args = append(args, f.FieldName, "AS", f.As, f.FieldType.String())
		if f.Sortable {
			args = append(args, "SORTABLE")
		}
	}
	return args
}

func TestEnsureIndex(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{name: "作成成功", err: nil},
		{name: "既に存在する場合は成功扱い", err: errors.New("Index already exists")},
		{name: "その他のエラーは返す", err: errors.New("unknown command 'FT.CREATE'"), wantErr: true},
	}

	repos := []struct {
		name   string
		args   []interface{}
		ensure func(rdb *redis.Client) error
	}{
		{
			name: "freeeuser",
			args: ftCreateArgs("idx:freeeusers", "freeeuser:", hrUserIndexSchema),
			ensure: func(rdb *redis.Client) error {
				return NewRedisHRUserRepo(rdb).EnsureIndex(context.Background())
			},
		},
		{
			name: "hackernews",
			args: ftCreateArgs("idx:hackernews", "hackernews:", hackerNewsIndexSchema),
			ensure: func(rdb *redis.Client) error {
				return NewRedisHackerNewsRepo(rdb).EnsureIndex(context.Background())
			},
		},
	}

	for _, repo := range repos {
		for _, tt := range tests {
			t.Run(repo.name+"/"+tt.name, func(t *testing.T) {
				rdb, mock := redismock.NewClientMock()
				expect := mock.ExpectDo(repo.args...)
				if tt.err != nil {
					expect.SetErr(tt.err)
				} else {
					expect.SetVal("OK")
				}

				err := repo.ensure(rdb)
				if tt.wantErr {
					assert.Error(t, err)
				} else {
					assert.NoError(t, err)
				}
				assert.NoError(t, mock.ExpectationsWereMet())
			})
		}
	}
}

func TestEnsureIndex_SchemaArgs(t *testing.T) {
	args := ftCreateArgs("idx:freeeusers", "freeeuser:", hrUserIndexSchema)

	assert.Equal(t, []interface{}{"FT.CREATE", "idx:freeeusers", "ON", "JSON", "PREFIX", 1, "freeeuser:", "SCHEMA"}, args[:8])
	assert.Equal(t, []interface{}{"$.id", "AS", "id", "NUMERIC", "SORTABLE"}, args[8:13])
}

func TestRedisHackerNewsRepo_SaveAndGet(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	repo := NewRedisHackerNewsRepo(rdb)
	item := &model.HackerNewsItem{ID: 8863, Type: "story", By: "dhouston", Time: 1175714200, Title: "My YC app", Score: 104}
	data, err := json.Marshal(item)
	require.NoError(t, err)

	mock.ExpectDo("JSON.SET", "hackernews:8863", "$", string(data)).SetVal("OK")
	mock.ExpectDo("JSON.GET", "hackernews:8863").SetVal(string(data))
	mock.ExpectDo("JSON.GET", "hackernews:1").RedisNil()

	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, item))

	got, err := repo.Get(ctx, 8863)
	require.NoError(t, err)
	assert.Equal(t, item, got)

	missing, err := repo.Get(ctx, 1)
	assert.NoError(t, err)
	assert.Nil(t, missing)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLock(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	lock := NewRedisLock(rdb)
	ctx := context.Background()

	mock.ExpectSetNX("lock:tokenrefresh:user-1", "1", 10*time.Second).SetVal(true)
	mock.ExpectSetNX("lock:tokenrefresh:user-1", "1", 10*time.Second).SetVal(false)
	mock.ExpectDel("lock:tokenrefresh:user-1").SetVal(1)

	ok, err := lock.TryLock(ctx, "lock:tokenrefresh:user-1", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = lock.TryLock(ctx, "lock:tokenrefresh:user-1", 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, lock.Unlock(ctx, "lock:tokenrefresh:user-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
