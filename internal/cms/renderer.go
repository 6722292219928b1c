package cms

import (
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Renderer はコンテンツブロックを安全なHTMLに変換する。
// 許可リストベースのサニタイズポリシーを持ち、CMS側が侵害された場合でも
// script等の危険なマークアップが出力に混入しないことを保証する。
type Renderer struct {
	policy *bluemonday.Policy
}

// NewRenderer はRendererを生成する。
// ポリシーの内容:
//   - 許可タグ: p, h1〜h6, ul, ol, li, blockquote, pre, code, hr, img
//   - imgのsrc属性: httpsスキームのみ許可
//   - codeのclass属性: シンタックスハイライト用に許可
//   - script, iframe, styleおよびon*イベント属性は許可リスト外のため除去される
func NewRenderer() *Renderer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "h1", "h2", "h3", "h4", "h5", "h6",
		"ul", "ol", "li",
		"blockquote", "pre", "code", "hr",
	)

	p.AllowAttrs("class").OnElements("code")

	p.AllowAttrs("src").OnElements("img")
	p.AllowAttrs("alt").OnElements("img")
	p.AllowURLSchemeWithCustomPolicy("https", func(u *url.URL) bool {
		return true
	})

	return &Renderer{policy: p}
}

// RenderHTML はブロック列をHTML文字列に変換する。
// 受け付けるタイプはBlockType定数の閉じた集合のみで、
// 未知のタイプと本文が空のブロックは黙ってスキップする。
// 出力全体をサニタイズポリシーに通してから返す。
func (r *Renderer) RenderHTML(blocks []Block) string {
	var b strings.Builder

	for _, block := range blocks {
		switch block.Type {
		case BlockParagraph:
			if block.Text == "" {
				continue
			}
			fmt.Fprintf(&b, "<p>%s</p>\n", html.EscapeString(block.Text))

		case BlockHeading:
			if block.Text == "" {
				continue
			}
			level := block.Level
			if level < 1 || level > 6 {
				level = 2
			}
			fmt.Fprintf(&b, "<h%d>%s</h%d>\n", level, html.EscapeString(block.Text), level)

		case BlockImage:
			if block.URL == "" {
				continue
			}
			fmt.Fprintf(&b, `<img src="%s" alt="%s">`+"\n",
				html.EscapeString(block.URL), html.EscapeString(block.Alt))

		case BlockCode:
			if block.Text == "" {
				continue
			}
			if block.Language != "" {
				fmt.Fprintf(&b, `<pre><code class="language-%s">%s</code></pre>`+"\n",
					html.EscapeString(block.Language), html.EscapeString(block.Text))
			} else {
				fmt.Fprintf(&b, "<pre><code>%s</code></pre>\n", html.EscapeString(block.Text))
			}

		case BlockList:
			if len(block.Items) == 0 {
				continue
			}
			tag := "ul"
			if block.Ordered {
				tag = "ol"
			}
			fmt.Fprintf(&b, "<%s>\n", tag)
			for _, item := range block.Items {
				fmt.Fprintf(&b, "<li>%s</li>\n", html.EscapeString(item))
			}
			fmt.Fprintf(&b, "</%s>\n", tag)

		case BlockQuote:
			if block.Text == "" {
				continue
			}
			fmt.Fprintf(&b, "<blockquote>%s</blockquote>\n", html.EscapeString(block.Text))

		case BlockDivider:
			b.WriteString("<hr>\n")

		default:
			// 未知のブロックタイプはスキップ
		}
	}

	return r.policy.Sanitize(b.String())
}
