package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/workday/internal/feed"
	"github.com/hitoshi/workday/internal/hackernews"
	"github.com/hitoshi/workday/internal/middleware"
	"github.com/hitoshi/workday/internal/model"
)

// NewsServiceInterface はRSSニュースの参照サービス。
type NewsServiceInterface interface {
	Category(ctx context.Context, key string) (*model.FeedWithItems, error)
	All(ctx context.Context) (*feed.AllNews, error)
}

// StoryServiceInterface はHacker Newsの一覧取得サービス。
type StoryServiceInterface interface {
	Stories(ctx context.Context, list string) ([]model.HackerNewsItem, error)
}

// NewsHandler はニュース参照のHTTPハンドラー。
type NewsHandler struct {
	news    NewsServiceInterface
	stories StoryServiceInterface
	logger  *slog.Logger
}

// NewNewsHandler はNewsHandlerを生成する。
func NewNewsHandler(news NewsServiceInterface, stories StoryServiceInterface, logger *slog.Logger) *NewsHandler {
	return &NewsHandler{news: news, stories: stories, logger: logger}
}

type newsItemResponse struct {
	Title       string     `json:"title"`
	Link        string     `json:"link"`
	Summary     string     `json:"summary"`
	Categories  []string   `json:"categories"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
}

type newsFeedResponse struct {
	Category      string             `json:"category,omitempty"`
	Title         string             `json:"title"`
	Link          string             `json:"link,omitempty"`
	Description   string             `json:"description,omitempty"`
	LastBuildDate *time.Time         `json:"lastBuildDate,omitempty"`
	Items         []newsItemResponse `json:"items"`
}

// ListAll は全カテゴリの記事を新しい順に返す。
// GET /api/news
func (h *NewsHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	all, err := h.news.All(r.Context())
	if err != nil {
		h.logger.Error("ニュース一覧の取得に失敗しました", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	writeJSON(w, http.StatusOK, newsFeedResponse{
		Title:         all.Title,
		LastBuildDate: all.LastBuildDate,
		Items:         toNewsItems(all.Items),
	})
}

// GetCategory はカテゴリのフィードと記事を返す。
// GET /api/news/{category}
func (h *NewsHandler) GetCategory(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "category")
	fw, err := h.news.Category(r.Context(), key)
	if err != nil {
		if errors.Is(err, feed.ErrCategoryNotFound) {
			middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewCategoryNotFoundError(key))
			return
		}
		h.logger.Error("カテゴリの取得に失敗しました",
			slog.String("category", key),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	link := fw.Feed.SiteURL
	if link == "" {
		link = fw.Feed.FeedURL
	}
	writeJSON(w, http.StatusOK, newsFeedResponse{
		Category:      fw.Feed.Category,
		Title:         fw.Feed.Title,
		Link:          link,
		Description:   fw.Feed.Description,
		LastBuildDate: fw.Feed.LastBuildDate,
		Items:         toNewsItems(fw.Items),
	})
}

// ListStories はHacker Newsの一覧を返す。
// GET /api/news/hacker-news/{list}
func (h *NewsHandler) ListStories(w http.ResponseWriter, r *http.Request) {
	list := chi.URLParam(r, "list")
	if !hackernews.IsValidList(list) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewUnknownStoryListError(list))
		return
	}

	stories, err := h.stories.Stories(r.Context(), list)
	if err != nil {
		h.logger.Error("Hacker Newsの取得に失敗しました",
			slog.String("list", list),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewUpstreamError("Hacker News API"))
		return
	}
	if stories == nil {
		stories = []model.HackerNewsItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"list":    list,
		"stories": stories,
	})
}

func toNewsItems(items []model.Item) []newsItemResponse {
	out := make([]newsItemResponse, 0, len(items))
	for _, it := range items {
		cats := it.Categories
		if cats == nil {
			cats = []string{}
		}
		out = append(out, newsItemResponse{
			Title:       it.Title,
			Link:        it.Link,
			Summary:     it.Summary,
			Categories:  cats,
			PublishedAt: it.PublishedAt,
		})
	}
	return out
}
