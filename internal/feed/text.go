package feed

import (
	"strings"

	"golang.org/x/net/html"
)

// ExtractText はHTML断片からテキストだけを取り出す。
// script/style の中身は捨て、連続する空白は1つにまとめる。文字参照は展開される。
func ExtractText(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return strings.Join(strings.Fields(fragment), " ")
	}

	var b strings.Builder
	tokenizer := html.NewTokenizer(strings.NewReader(fragment))
	skip := 0

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")

		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			switch string(tn) {
			case "script", "style":
				skip++
			case "p", "div", "li", "br", "tr", "h1", "h2", "h3", "h4", "h5", "h6":
				b.WriteByte(' ')
			}

		case html.SelfClosingTagToken:
			b.WriteByte(' ')

		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			switch string(tn) {
			case "script", "style":
				if skip > 0 {
					skip--
				}
			case "p", "div", "li", "tr":
				b.WriteByte(' ')
			}

		case html.TextToken:
			if skip == 0 {
				b.Write(tokenizer.Text())
			}
		}
	}
}
