package hackernews

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/workday/internal/model"
)

type fakeSource struct {
	ids     []int64
	idsErr  error
	failing map[int64]bool

	mu      sync.Mutex
	fetched []int64
}

func (f *fakeSource) StoryIDs(context.Context, string) ([]int64, error) {
	return f.ids, f.idsErr
}

func (f *fakeSource) Item(_ context.Context, id int64) (*model.HackerNewsItem, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, id)
	f.mu.Unlock()
	if f.failing[id] {
		return nil, errors.New("boom")
	}
	return &model.HackerNewsItem{ID: id, Type: "story", Title: "fetched"}, nil
}

type fakeCache struct {
	mu    sync.Mutex
	items map[int64]*model.HackerNewsItem
	saved []int64
}

func newFakeCache(items ...*model.HackerNewsItem) *fakeCache {
	c := &fakeCache{items: map[int64]*model.HackerNewsItem{}}
	for _, item := range items {
		c.items[item.ID] = item
	}
	return c
}

func (c *fakeCache) Get(_ context.Context, id int64) (*model.HackerNewsItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items[id], nil
}

func (c *fakeCache) Save(_ context.Context, item *model.HackerNewsItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[item.ID] = item
	c.saved = append(c.saved, item.ID)
	return nil
}

func TestStories_UsesCacheAndKeepsOrder(t *testing.T) {
	source := &fakeSource{ids: []int64{5, 4, 3, 2, 1}}
	cache := newFakeCache(&model.HackerNewsItem{ID: 4, Title: "cached"})
	var buf bytes.Buffer
	svc := NewService(source, cache, newTestLogger(&buf), 3)

	stories, err := svc.Stories(context.Background(), "top")
	require.NoError(t, err)

	require.Len(t, stories, 3)
	assert.Equal(t, []int64{5, 4, 3}, []int64{stories[0].ID, stories[1].ID, stories[2].ID})
	assert.Equal(t, "cached", stories[1].Title)
	assert.ElementsMatch(t, []int64{5, 3}, source.fetched)
	assert.ElementsMatch(t, []int64{5, 3}, cache.saved)
}

func TestStories_OmitsFailedItems(t *testing.T) {
	source := &fakeSource{ids: []int64{1, 2, 3}, failing: map[int64]bool{2: true}}
	var buf bytes.Buffer
	svc := NewService(source, newFakeCache(), newTestLogger(&buf), 0)

	stories, err := svc.Stories(context.Background(), "new")
	require.NoError(t, err)
	require.Len(t, stories, 2)
	assert.Equal(t, int64(1), stories[0].ID)
	assert.Equal(t, int64(3), stories[1].ID)
}

func TestStories_UnknownList(t *testing.T) {
	var buf bytes.Buffer
	svc := NewService(&fakeSource{}, newFakeCache(), newTestLogger(&buf), 0)

	_, err := svc.Stories(context.Background(), "hot")
	assert.ErrorIs(t, err, ErrUnknownList)
}

func TestStories_StoryIDsError(t *testing.T) {
	var buf bytes.Buffer
	svc := NewService(&fakeSource{idsErr: errors.New("down")}, newFakeCache(), newTestLogger(&buf), 0)

	_, err := svc.Stories(context.Background(), "best")
	assert.ErrorContains(t, err, "down")
}

func TestIsValidList(t *testing.T) {
	for _, l := range []string{"top", "new", "best", "ask", "show", "job"} {
		assert.True(t, IsValidList(l), l)
	}
	assert.False(t, IsValidList("TOP"))
	assert.False(t, IsValidList(""))
}
