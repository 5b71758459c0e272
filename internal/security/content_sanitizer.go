// Package security はフィード取得とフィード本文の扱いに関わる防御機能を提供する。
package security

import (
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService はフィード由来のHTMLを無害化する。
type ContentSanitizerService interface {
	// Sanitize は許可リストにないタグと属性を除去したHTMLを返す。
	Sanitize(rawHTML string) string
}

// ContentSanitizer はbluemondayのポリシーでHTMLを無害化する。並行利用できる。
type ContentSanitizer struct {
	policy *bluemonday.Policy
	strict *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerを生成する。
//   - 許可タグ: p, br, a, ul, ol, li, blockquote, pre, code, strong, em, img
//   - aのhrefは絶対URLのみ。target="_blank" と rel="noreferrer noopener" を付与する
//   - imgのsrcはhttpsのみ
func NewContentSanitizer() *ContentSanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	p.AllowAttrs("src", "alt").OnElements("img")
	p.AllowURLSchemeWithCustomPolicy("https", func(*url.URL) bool { return true })

	return &ContentSanitizer{
		policy: p,
		strict: bluemonday.StrictPolicy(),
	}
}

// Sanitize は許可リストにないタグと属性を除去したHTMLを返す。
func (s *ContentSanitizer) Sanitize(rawHTML string) string {
	return s.policy.Sanitize(rawHTML)
}

// StripTags は全てのタグを除去し、文字参照を展開したテキストを返す。
// Slackのメッセージなど、HTMLとして解釈されない出力先に使う。
func (s *ContentSanitizer) StripTags(rawHTML string) string {
	text := html.UnescapeString(s.strict.Sanitize(rawHTML))
	return strings.Join(strings.Fields(text), " ")
}
