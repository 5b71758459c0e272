package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/workday/internal/model"
)

// summaryRunes は概要として表示する最大文字数。
const summaryRunes = 148

var jst = time.FixedZone("JST", 9*60*60)

// slackEscaper はSlackのmrkdwnで制御文字となる記号をエスケープする。
var slackEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// TextStripper はフィード由来の文字列からタグを除去する。
type TextStripper interface {
	StripTags(rawHTML string) string
}

// Formatter はカテゴリの新着記事をSlack投稿用のテキストに整形する。
type Formatter struct {
	stripper TextStripper
}

// NewFormatter はFormatterを生成する。
func NewFormatter(stripper TextStripper) *Formatter {
	return &Formatter{stripper: stripper}
}

// Format はフィードと記事一覧を投稿メッセージに整形する。記事は渡された順に番号を振る。
func (f *Formatter) Format(fw *model.FeedWithItems) string {
	feed := fw.Feed
	link := feed.SiteURL
	if link == "" {
		link = feed.FeedURL
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*フィードタイトル:* <%s|%s>\n*フィード詳細:* %s",
		link, f.text(feed.Title), f.text(feed.Description))
	if feed.LastBuildDate != nil {
		fmt.Fprintf(&b, "\n*最終更新日:* %s", feed.LastBuildDate.In(jst).Format(time.RFC3339))
	}
	b.WriteString("\n\n*最新の記事:*\n")

	for i, item := range fw.Items {
		published := ""
		if item.PublishedAt != nil {
			published = item.PublishedAt.In(jst).Format(time.RFC3339)
		}
		fmt.Fprintf(&b, "%d. *記事タイトル:* <%s|%s>\n    *公開日:* %s\n    *概要:* %s\n    *カテゴリ:* %s\n\n",
			i+1,
			item.Link,
			f.text(item.Title),
			published,
			slackEscaper.Replace(Truncate(item.Summary, summaryRunes)),
			f.text(strings.Join(item.Categories, ", ")),
		)
	}
	return b.String()
}

func (f *Formatter) text(s string) string {
	return slackEscaper.Replace(f.stripper.StripTags(s))
}

// Truncate は空白を1つにまとめ、max文字を超える場合は切り詰めて"..."を付ける。
func Truncate(s string, max int) string {
	runes := []rune(strings.Join(strings.Fields(s), " "))
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max]) + "..."
}
