package cms

// BlockType はコンテンツブロックの種類を表す。
// レンダラーはこの閉じた集合のみを受け付け、未知のタイプは黙ってスキップする。
type BlockType string

const (
	BlockParagraph BlockType = "paragraph"
	BlockHeading   BlockType = "heading"
	BlockImage     BlockType = "image"
	BlockCode      BlockType = "code"
	BlockList      BlockType = "list"
	BlockQuote     BlockType = "quote"
	BlockDivider   BlockType = "divider"
)

// Block はCMSが返すコンテンツブロック1件。
// タイプごとに使用するフィールドが異なる。
type Block struct {
	Type BlockType `json:"type"`

	// Text はparagraph/heading/code/quoteの本文。
	Text string `json:"text,omitempty"`
	// Level はheadingの見出しレベル（1〜6）。範囲外は2に丸める。
	Level int `json:"level,omitempty"`
	// URL / Alt はimageの画像URLと代替テキスト。
	URL string `json:"url,omitempty"`
	Alt string `json:"alt,omitempty"`
	// Language はcodeのシンタックス指定。クラス名として出力する。
	Language string `json:"language,omitempty"`
	// Items / Ordered はlistの項目と番号付きかどうか。
	Items   []string `json:"items,omitempty"`
	Ordered bool     `json:"ordered,omitempty"`
}

// Page はCMS上のページ1件。
type Page struct {
	Slug   string  `json:"slug"`
	Title  string  `json:"title"`
	Blocks []Block `json:"blocks"`
}
