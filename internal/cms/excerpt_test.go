package cms

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestExcerpt_StripsTags(t *testing.T) {
	out := Excerpt("<h1>題</h1>\n<p>本文です。</p>", 100)
	if strings.ContainsAny(out, "<>") {
		t.Errorf("タグが除去されるべき: %q", out)
	}
	if !strings.Contains(out, "題") || !strings.Contains(out, "本文です。") {
		t.Errorf("テキストが残るべき: %q", out)
	}
}

func TestExcerpt_CollapsesWhitespace(t *testing.T) {
	out := Excerpt("<p>一</p>\n\n<p>二</p>", 100)
	if out != "一 二" {
		t.Errorf("excerpt = %q, want 一 二", out)
	}
}

func TestExcerpt_TruncatesByRune(t *testing.T) {
	long := strings.Repeat("あ", 200)
	out := Excerpt("<p>"+long+"</p>", 50)
	if utf8.RuneCountInString(out) != 51 {
		t.Errorf("rune数 = %d, want 51（50文字 + 省略記号）", utf8.RuneCountInString(out))
	}
	if !strings.HasSuffix(out, "…") {
		t.Errorf("省略記号で終わるべき: %q", out)
	}
}

func TestExcerpt_ShortTextNotTruncated(t *testing.T) {
	out := Excerpt("<p>短い</p>", 160)
	if out != "短い" {
		t.Errorf("excerpt = %q, want 短い", out)
	}
}

func TestExcerpt_SkipsScriptAndStyle(t *testing.T) {
	out := Excerpt(`<p>可視</p><script>var x = 1;</script><style>p{}</style>`, 100)
	if strings.Contains(out, "var x") || strings.Contains(out, "p{}") {
		t.Errorf("script/styleの内容は含めない: %q", out)
	}
	if !strings.Contains(out, "可視") {
		t.Errorf("可視テキストは残るべき: %q", out)
	}
}

func TestExcerpt_ZeroMaxLengthUsesDefault(t *testing.T) {
	long := strings.Repeat("a", 300)
	out := Excerpt("<p>"+long+"</p>", 0)
	if utf8.RuneCountInString(out) != DefaultExcerptLength+1 {
		t.Errorf("rune数 = %d, want %d", utf8.RuneCountInString(out), DefaultExcerptLength+1)
	}
}
