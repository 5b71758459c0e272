package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/workday/internal/feed"
	"github.com/hitoshi/workday/internal/metrics"
	"github.com/hitoshi/workday/internal/model"
)

const testCategories = `
- key: go
  url: https://go.dev/blog/feed.atom
  lang: en
  label: Go Blog
- key: aws
  url: https://aws.amazon.com/jp/about-aws/whats-new/recent/feed/
  lang: ja
  label: AWS
- key: azure
  url: https://azure.microsoft.com/ja-jp/blog/feed/
  lang: ja
  label: Azure
`

type fakeNews struct {
	catalog *feed.Catalog
	items   map[string][]model.Item
	errs    map[string]error
	since   time.Time
}

func (f *fakeNews) Catalog() *feed.Catalog { return f.catalog }

func (f *fakeNews) Recent(_ context.Context, key string, since time.Time) (*model.FeedWithItems, error) {
	f.since = since
	if err := f.errs[key]; err != nil {
		return nil, err
	}
	return &model.FeedWithItems{Feed: &model.Feed{Category: key}, Items: f.items[key]}, nil
}

type fakeFormatter struct{}

func (fakeFormatter) Format(fw *model.FeedWithItems) string {
	return fw.Feed.Category + " message"
}

type post struct{ channel, username, text string }

type fakePoster struct {
	mu    sync.Mutex
	posts []post
	err   error
}

func (p *fakePoster) Post(_ context.Context, channel, displayName, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.posts = append(p.posts, post{channel, displayName, text})
	return nil
}

type slackCounts struct {
	metrics.Nop
	results []string
}

func (c *slackCounts) RecordSlackPost(result string) { c.results = append(c.results, result) }

func newTestScheduler(t *testing.T, news *fakeNews, poster *fakePoster, counts *slackCounts) *Scheduler {
	t.Helper()
	catalog, err := feed.ParseCategories([]byte(testCategories))
	require.NoError(t, err)
	news.catalog = catalog

	var buf bytes.Buffer
	s := NewScheduler(news, fakeFormatter{}, poster, slog.New(slog.NewJSONHandler(&buf, nil)), counts, Config{
		Channel:  "#色々通知",
		Lookback: time.Hour,
		Buffer:   5 * time.Minute,
	})
	s.now = func() time.Time { return time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC) }
	return s
}

func TestRunOnce_PostsCategoriesWithItems(t *testing.T) {
	news := &fakeNews{items: map[string][]model.Item{
		"go":    {{Title: "Go 1.23"}},
		"azure": {{Title: "a"}, {Title: "b"}},
	}}
	poster := &fakePoster{}
	counts := &slackCounts{}
	s := newTestScheduler(t, news, poster, counts)

	require.NoError(t, s.RunOnce(context.Background()))

	assert.Equal(t, []post{
		{"#色々通知", "go", "go message"},
		{"#色々通知", "azure", "azure message"},
	}, poster.posts)
	assert.Equal(t, time.Date(2024, 6, 3, 8, 55, 0, 0, time.UTC), news.since)
	assert.Equal(t, []string{metrics.ResultSuccess, metrics.ResultSkipped, metrics.ResultSuccess}, counts.results)
}

func TestRunOnce_FailureDoesNotStopOtherCategories(t *testing.T) {
	news := &fakeNews{
		items: map[string][]model.Item{"azure": {{Title: "a"}}},
		errs:  map[string]error{"go": errors.New("db down")},
	}
	poster := &fakePoster{}
	s := newTestScheduler(t, news, poster, &slackCounts{})

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "go: db down")
	require.Len(t, poster.posts, 1)
	assert.Equal(t, "azure", poster.posts[0].username)
}

func TestRunOnce_PostErrorIsRecorded(t *testing.T) {
	news := &fakeNews{items: map[string][]model.Item{"aws": {{Title: "a"}}}}
	counts := &slackCounts{}
	s := newTestScheduler(t, news, &fakePoster{err: errors.New("channel_not_found")}, counts)

	require.Error(t, s.RunOnce(context.Background()))
	assert.Contains(t, counts.results, metrics.ResultFailure)
}

func TestRunOnce_StopsOnCancelledContext(t *testing.T) {
	news := &fakeNews{items: map[string][]model.Item{"go": {{Title: "a"}}}}
	poster := &fakePoster{}
	s := newTestScheduler(t, news, poster, &slackCounts{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.RunOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, poster.posts)
}
