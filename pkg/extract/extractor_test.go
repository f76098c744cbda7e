package extract_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/shouni/go-extract-api/pkg/extract"
	"github.com/stretchr/testify/assert"
)

const testURL = "https://example.com/article"

// 本文として抽出されるための十分な長さを持つパラグラフ
const longParagraph = "This domain is for use in illustrative examples in documents. You may use this domain in literature without prior coordination or asking for permission."

// TestExtract_RoundTrip は、既知のHTMLフィクスチャに対する往復テストです。
// タイトルがそのまま返り、本文は空白が畳み込まれた段落テキストになります。
func TestExtract_RoundTrip(t *testing.T) {
	html := fmt.Sprintf(`<html><head><title>Example</title></head><body>
		<p>   %s
		</p></body></html>`, longParagraph)

	extractor := extract.NewExtractor()
	content, err := extractor.Extract([]byte(html), testURL)

	assert.NoError(t, err)
	assert.Equal(t, "Example", content.Title)
	assert.Equal(t, longParagraph, content.Text)
}

func TestExtract_MainContentAndNoiseRemoval(t *testing.T) {
	html := fmt.Sprintf(`<html><head><title>Page</title></head><body>
		<nav>Home About Contact Careers Blog Press</nav>
		<article>
			<p>%s</p>
			<div class="ad-banner">Buy our product now with a big discount offer</div>
		</article>
		<footer>Copyright notice and legal boilerplate text here</footer>
	</body></html>`, longParagraph)

	extractor := extract.NewExtractor()
	content, err := extractor.Extract([]byte(html), testURL)

	assert.NoError(t, err)
	assert.Contains(t, content.Text, longParagraph)
	assert.NotContains(t, content.Text, "Buy our product")
}

// TestExtract_AuthorDateLead は、著者・公開日メタデータを持つページで
// 本文の先頭にリード行が付与されることを確認します。
func TestExtract_AuthorDateLead(t *testing.T) {
	var paragraphs strings.Builder
	for i := 0; i < 6; i++ {
		paragraphs.WriteString("<p>")
		paragraphs.WriteString(longParagraph)
		paragraphs.WriteString(fmt.Sprintf(" Section %d adds unique context.", i))
		paragraphs.WriteString("</p>")
	}
	html := fmt.Sprintf(`<html><head>
		<title>Metadata Article</title>
		<meta name="author" content="山田太郎">
		<meta property="article:published_time" content="2024-03-01T10:00:00Z">
	</head><body><article>%s</article></body></html>`, paragraphs.String())

	extractor := extract.NewExtractor()
	content, err := extractor.Extract([]byte(html), testURL)

	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(content.Text, "作者：山田太郎"),
		"本文の先頭にリード行がありません: %.80s", content.Text)
	assert.Contains(t, content.Text, "发布时间：2024-03-01")
	// リード行の後に本文が続くこと
	assert.Contains(t, content.Text, longParagraph)
}

// TestExtract_NoMetadataNoLead は、メタデータのないページでは本文に
// リード行が混入しないことを確認します。
func TestExtract_NoMetadataNoLead(t *testing.T) {
	html := fmt.Sprintf(`<html><head><title>Example</title></head><body>
		<p>%s</p></body></html>`, longParagraph)

	extractor := extract.NewExtractor()
	content, err := extractor.Extract([]byte(html), testURL)

	assert.NoError(t, err)
	assert.NotContains(t, content.Text, "作者：")
	assert.NotContains(t, content.Text, "发布时间：")
}

func TestExtract_HeadingsAndLists(t *testing.T) {
	html := fmt.Sprintf(`<html><head><title>List Test</title></head><body><main>
		<h2>Section Heading Long Enough</h2>
		<p>%s</p>
		<ul><li>First item</li><li>Second item</li></ul>
	</main></body></html>`, longParagraph)

	extractor := extract.NewExtractor()
	content, err := extractor.Extract([]byte(html), testURL)

	assert.NoError(t, err)
	assert.Equal(t, "List Test", content.Title)
	assert.Contains(t, content.Text, "First item")
	assert.Contains(t, content.Text, "Second item")
	assert.Contains(t, content.Text, longParagraph)
}

func TestExtract_TitleFallbackToHeading(t *testing.T) {
	html := fmt.Sprintf(`<html><body><main>
		<h1>Prominent Heading Title</h1>
		<p>%s</p>
	</main></body></html>`, longParagraph)

	extractor := extract.NewExtractor()
	content, err := extractor.Extract([]byte(html), testURL)

	assert.NoError(t, err)
	// document title が無い場合は最も目立つ見出しへフォールバックする
	assert.Equal(t, "Prominent Heading Title", content.Title)
}

func TestExtract_Failures(t *testing.T) {
	testCases := []struct {
		name string
		html string
	}{
		{"empty_input", ""},
		{"whitespace_only", "   \n\t  "},
		{"empty_body", `<html><head><title>Only Title</title></head><body></body></html>`},
		{"script_only", `<html><body><script>var a = "not content because script text is stripped";</script></body></html>`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			extractor := extract.NewExtractor()
			content, err := extractor.Extract([]byte(tc.html), testURL)

			assert.Error(t, err)
			assert.Nil(t, content)
		})
	}
}

// TestExtract_ControlCharacterSanitization は、制御文字が出力に残らないことを検証します。
func TestExtract_ControlCharacterSanitization(t *testing.T) {
	dirty := longParagraph[:70] + "\x00\x08\x1b" + longParagraph[70:]
	html := fmt.Sprintf(`<html><head><title>Ctrl</title></head><body><article><p>%s</p></article></body></html>`, dirty)

	extractor := extract.NewExtractor()
	content, err := extractor.Extract([]byte(html), testURL)

	assert.NoError(t, err)
	for _, r := range content.Text {
		if r < 0x20 && r != '\n' && r != '\t' {
			t.Fatalf("出力に制御文字が残っています: %q", r)
		}
	}
	for _, r := range content.Title {
		assert.GreaterOrEqual(t, int(r), 0x20)
	}
}

func TestExtract_DuplicateBlocksRemoved(t *testing.T) {
	html := fmt.Sprintf(`<html><head><title>Dup</title></head><body><main>
		<p>%s</p>
		<p>%s</p>
	</main></body></html>`, longParagraph, longParagraph)

	extractor := extract.NewExtractor()
	content, err := extractor.Extract([]byte(html), testURL)

	assert.NoError(t, err)
	assert.Equal(t, 1, strings.Count(content.Text, longParagraph[:40]))
}

func TestExtract_TextLengthCap(t *testing.T) {
	var sb strings.Builder
	sb.WriteString(`<html><head><title>Long</title></head><body><main>`)
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&sb, "<p>Paragraph number %d. %s</p>", i, longParagraph)
	}
	sb.WriteString(`</main></body></html>`)

	extractor := extract.NewExtractor(extract.WithMaxTextRunes(500))
	content, err := extractor.Extract([]byte(sb.String()), testURL)

	assert.NoError(t, err)
	assert.LessOrEqual(t, len([]rune(content.Text)), 500)
}

func TestExtract_TruncatedHTMLStillWorks(t *testing.T) {
	// バイト上限で打ち切られたHTML (閉じタグなし) でも抽出は続行される
	html := fmt.Sprintf(`<html><head><title>Cut</title></head><body><article><p>%s</p><p>this paragraph was cut of`, longParagraph)

	extractor := extract.NewExtractor()
	content, err := extractor.Extract([]byte(html), testURL)

	assert.NoError(t, err)
	assert.Contains(t, content.Text, longParagraph)
}
