package cms

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// DefaultExcerptLength は抜粋のデフォルト最大文字数。
const DefaultExcerptLength = 160

// Excerpt はレンダリング済みHTMLからプレーンテキストの抜粋を生成する。
// タグを除去してテキストノードを連結し、maxLength文字（rune単位）で切り詰める。
// script/style要素内のテキストは含めない。
func Excerpt(renderedHTML string, maxLength int) string {
	if maxLength <= 0 {
		maxLength = DefaultExcerptLength
	}

	var b strings.Builder
	tokenizer := html.NewTokenizer(strings.NewReader(renderedHTML))
	skipDepth := 0

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return truncate(collapseSpace(b.String()), maxLength)

		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			if isSkippedTag(string(tn)) {
				skipDepth++
			}

		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			if isSkippedTag(string(tn)) && skipDepth > 0 {
				skipDepth--
			}

		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			b.Write(tokenizer.Text())
			b.WriteByte(' ')
		}
	}
}

// isSkippedTag は抜粋に含めない要素かどうかを判定する。
func isSkippedTag(tag string) bool {
	return tag == "script" || tag == "style"
}

// collapseSpace は連続する空白文字を半角スペース1つにまとめる。
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate は文字列をrune単位でmax文字に切り詰め、省略記号を付与する。
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "…"
}
