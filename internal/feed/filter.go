package feed

import (
	"fmt"
	"regexp"

	"github.com/hitoshi/workday/internal/model"
)

// ItemFilter はタイトルと概要に対する正規表現で記事を絞り込む。
// includeが空でなければいずれかに一致する記事だけを残し、excludeのいずれかに一致する記事は除く。
type ItemFilter struct {
	include []*regexp.Regexp
	exclude []*regexp.Regexp
}

// NewItemFilter はパターンをコンパイルしてItemFilterを生成する。
func NewItemFilter(include, exclude []string) (*ItemFilter, error) {
	inc, err := compileAll(include)
	if err != nil {
		return nil, err
	}
	exc, err := compileAll(exclude)
	if err != nil {
		return nil, err
	}
	return &ItemFilter{include: inc, exclude: exc}, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	res := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("正規表現 %q のコンパイルに失敗しました: %w", p, err)
		}
		res = append(res, re)
	}
	return res, nil
}

// Match は記事がフィルタを通過するかを返す。
func (f *ItemFilter) Match(item model.Item) bool {
	if len(f.include) > 0 && !matchAny(f.include, item) {
		return false
	}
	return !matchAny(f.exclude, item)
}

// Apply はフィルタを通過した記事だけを元の順序で返す。
func (f *ItemFilter) Apply(items []model.Item) []model.Item {
	out := make([]model.Item, 0, len(items))
	for _, item := range items {
		if f.Match(item) {
			out = append(out, item)
		}
	}
	return out
}

func matchAny(res []*regexp.Regexp, item model.Item) bool {
	for _, re := range res {
		if re.MatchString(item.Title) || re.MatchString(item.Summary) {
			return true
		}
	}
	return false
}
