// Package feed はニュースカテゴリの定義と、カテゴリごとのフィード・記事の参照ロジックを提供する。
package feed

import (
	_ "embed"
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed categories.yaml
var defaultCategories []byte

// Category はニュースカテゴリの定義。カテゴリとフィードは1対1で対応する。
type Category struct {
	Key     string   `yaml:"key"`
	URL     string   `yaml:"url"`
	Lang    string   `yaml:"lang"`
	Label   string   `yaml:"label"`
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

// Catalog は定義順を保持したカテゴリ一覧。
type Catalog struct {
	categories []Category
	index      map[string]int
	filters    map[string]*ItemFilter
}

// LoadCategories はカテゴリ一覧を読み込む。pathが空の場合は埋め込みの既定一覧を使う。
func LoadCategories(path string) (*Catalog, error) {
	if path == "" {
		return ParseCategories(defaultCategories)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("カテゴリ定義ファイルの読み込みに失敗しました: %w", err)
	}
	return ParseCategories(data)
}

// ParseCategories はYAMLのカテゴリ一覧をパースし、検証する。
func ParseCategories(data []byte) (*Catalog, error) {
	var categories []Category
	if err := yaml.Unmarshal(data, &categories); err != nil {
		return nil, fmt.Errorf("カテゴリ定義のパースに失敗しました: %w", err)
	}
	if len(categories) == 0 {
		return nil, fmt.Errorf("カテゴリが1件も定義されていません")
	}

	c := &Catalog{
		categories: categories,
		index:      make(map[string]int, len(categories)),
		filters:    make(map[string]*ItemFilter, len(categories)),
	}
	for i, cat := range categories {
		if cat.Key == "" {
			return nil, fmt.Errorf("%d番目のカテゴリにkeyがありません", i+1)
		}
		if _, dup := c.index[cat.Key]; dup {
			return nil, fmt.Errorf("カテゴリ %q が重複しています", cat.Key)
		}
		u, err := url.Parse(cat.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("カテゴリ %q のURLが不正です: %q", cat.Key, cat.URL)
		}
		filter, err := NewItemFilter(cat.Include, cat.Exclude)
		if err != nil {
			return nil, fmt.Errorf("カテゴリ %q のフィルタが不正です: %w", cat.Key, err)
		}
		c.index[cat.Key] = i
		c.filters[cat.Key] = filter
	}
	return c, nil
}

// All は定義順のカテゴリ一覧を返す。
func (c *Catalog) All() []Category {
	out := make([]Category, len(c.categories))
	copy(out, c.categories)
	return out
}

// Lookup はkeyに対応するカテゴリを返す。
func (c *Catalog) Lookup(key string) (Category, bool) {
	i, ok := c.index[key]
	if !ok {
		return Category{}, false
	}
	return c.categories[i], true
}

// Filter はカテゴリの記事フィルタを返す。未定義のkeyには全件を通すフィルタを返す。
func (c *Catalog) Filter(key string) *ItemFilter {
	if f, ok := c.filters[key]; ok {
		return f
	}
	return &ItemFilter{}
}
