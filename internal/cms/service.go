package cms

import (
	"context"
	"encoding/json"
	"fmt"
)

// Querier はCMSへのクエリ実行のインターフェース。
// Clientを抽象化してテスタビリティを向上させる。
type Querier interface {
	Query(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error)
}

// RenderedPage はレンダリング済みのページ。ハンドラーにそのまま渡せる形。
type RenderedPage struct {
	Slug    string `json:"slug"`
	Title   string `json:"title"`
	HTML    string `json:"html"`
	Excerpt string `json:"excerpt"`
}

// Service はCMSページの取得とレンダリングを提供する。
type Service struct {
	client   Querier
	renderer *Renderer
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(client Querier, renderer *Renderer) *Service {
	return &Service{
		client:   client,
		renderer: renderer,
	}
}

// pageQuery はslug指定でページ1件を取得するクエリ。
const pageQuery = `query PageBySlug($slug: String!) {
  page(slug: $slug) {
    slug
    title
    blocks
  }
}`

// pageData はpageQueryのdataフィールドの形。
type pageData struct {
	Page *Page `json:"page"`
}

// GetPage はslugでページを取得し、HTMLと抜粋にレンダリングして返す。
// ページが存在しない場合はnilを返す（エラーにはしない）。
func (s *Service) GetPage(ctx context.Context, slug string) (*RenderedPage, error) {
	data, err := s.client.Query(ctx, pageQuery, map[string]any{"slug": slug})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page %q: %w", slug, err)
	}

	var parsed pageData
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse page %q: %w", slug, err)
	}

	if parsed.Page == nil {
		return nil, nil
	}

	rendered := s.renderer.RenderHTML(parsed.Page.Blocks)

	return &RenderedPage{
		Slug:    parsed.Page.Slug,
		Title:   parsed.Page.Title,
		HTML:    rendered,
		Excerpt: Excerpt(rendered, DefaultExcerptLength),
	}, nil
}
