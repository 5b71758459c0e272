package feed

import (
	"time"

	"github.com/hitoshi/workday/internal/model"
)

// SelectRecent は公開日時がsince以降の記事を元の順序で返す。公開日時のない記事は含めない。
func SelectRecent(items []model.Item, since time.Time) []model.Item {
	out := make([]model.Item, 0, len(items))
	for _, item := range items {
		if item.PublishedAt == nil || item.PublishedAt.Before(since) {
			continue
		}
		out = append(out, item)
	}
	return out
}
