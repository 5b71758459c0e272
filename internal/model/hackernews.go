package model

// HackerNewsItem はHacker News APIのitem。
// story/job/comment/poll/pollopt を1つの構造体で表し、種別ごとに使わないフィールドは空になる。
type HackerNewsItem struct {
	ID          int64   `json:"id"`
	Deleted     bool    `json:"deleted,omitempty"`
	Type        string  `json:"type"`
	By          string  `json:"by"`
	Time        int64   `json:"time"`
	Dead        bool    `json:"dead,omitempty"`
	Kids        []int64 `json:"kids,omitempty"`
	URL         string  `json:"url,omitempty"`
	Score       int     `json:"score,omitempty"`
	Title       string  `json:"title,omitempty"`
	Descendants int     `json:"descendants,omitempty"`
	Text        string  `json:"text,omitempty"`
	Parent      int64   `json:"parent,omitempty"`
	Parts       []int64 `json:"parts,omitempty"`
}
