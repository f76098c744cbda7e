package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	textUtils "github.com/shouni/go-utils/text"
)

// Content は、1ページ分の抽出結果です。Title と Text はどちらも空文字を
// 許容しますが、制御文字を含まない正しいテキストであることが保証されます。
type Content struct {
	Title string
	Text  string
}

// Extractor は、HTMLから本文テキストとタイトルを抽出します。
// まず readability アルゴリズムで主要コンテンツを特定し、特定できない
// 場合は goquery ベースのヒューリスティック抽出へフォールバックします。
type Extractor struct {
	maxTextRunes  int
	maxTitleRunes int
}

// ----------------------------------------------------------------------
// 定数定義 (解析関連のみ)
// ----------------------------------------------------------------------
const (
	MinParagraphLength   = 20
	MinHeadingLength     = 3
	mainContentSelectors = "article, main, div[role='main'], #main, #content, .post-content, .article-body, .entry-content, .markdown-body, .readme"
	noiseSelectors       = ".related-posts, .social-share, .comments, .ad-banner, .advertisement"

	// textExtractionTags は本文抽出に使用するHTMLタグを定義します。
	textExtractionTags = "p, h1, h2, h3, h4, h5, h6, li, blockquote"

	DefaultMaxTextRunes  = 12000
	DefaultMaxTitleRunes = 300
)

// Option はExtractorの設定を行うための関数型です。
type Option func(*Extractor)

// WithMaxTextRunes は本文テキストの最大文字数を設定します。
func WithMaxTextRunes(max int) Option {
	return func(e *Extractor) {
		if max > 0 {
			e.maxTextRunes = max
		}
	}
}

// NewExtractor は、新しいExtractorのインスタンスを生成します。
func NewExtractor(options ...Option) *Extractor {
	e := &Extractor{
		maxTextRunes:  DefaultMaxTextRunes,
		maxTitleRunes: DefaultMaxTitleRunes,
	}
	for _, opt := range options {
		opt(e)
	}
	return e
}

// ----------------------------------------------------------------------
// メイン関数
// ----------------------------------------------------------------------

// Extract は、取得済みHTMLと最終URLからタイトルと本文テキストを抽出します。
// 意味のある本文ブロックが特定できない場合はエラーを返します。
func (e *Extractor) Extract(htmlBytes []byte, finalURL string) (*Content, error) {
	if len(bytes.TrimSpace(htmlBytes)) == 0 {
		return nil, fmt.Errorf("HTMLが空のため抽出できません")
	}

	// 1. readability で主要コンテンツを特定
	title, text, lead := e.extractReadability(htmlBytes, finalURL)

	// 2. 足りない部分を goquery ヒューリスティックで補完
	var doc *goquery.Document
	if strings.TrimSpace(text) == "" || strings.TrimSpace(title) == "" {
		parsed, err := goquery.NewDocumentFromReader(bytes.NewReader(htmlBytes))
		if err == nil {
			doc = parsed
		}
	}
	if strings.TrimSpace(text) == "" && doc != nil {
		text = e.extractHeuristic(doc)
	}
	if strings.TrimSpace(title) == "" && doc != nil {
		title = fallbackTitle(doc)
	}

	// 3. 出力の正規化 (厳密なJSONエンコードに耐えるテキストのみ通す)
	content := &Content{
		Title: e.sanitizeTitle(title),
		Text:  e.sanitizeText(text),
	}
	if content.Text == "" {
		return nil, fmt.Errorf("webページから本文を抽出できませんでした")
	}

	// 4. 著者・公開日のメタデータが取れた場合は本文の先頭に付与する
	if lead != "" {
		content.Text = e.sanitizeText(lead + "\n\n" + content.Text)
	}
	return content, nil
}

// extractReadability は readability アルゴリズムによる抽出を試みます。
// 失敗は単なるフォールバック要因であり、エラーとしては扱いません。
// leadは、ページのメタデータから組み立てた著者・公開日の行です。
func (e *Extractor) extractReadability(htmlBytes []byte, finalURL string) (title, text, lead string) {
	pageURL, err := url.Parse(finalURL)
	if err != nil {
		return "", "", ""
	}
	article, err := readability.FromReader(bytes.NewReader(htmlBytes), pageURL)
	if err != nil {
		return "", "", ""
	}

	var published string
	if article.PublishedTime != nil {
		published = article.PublishedTime.Format("2006-01-02")
	}
	return article.Title, article.TextContent, buildLead(article.Byline, published)
}

// buildLead は、著者と公開日から本文冒頭に置くリード行を組み立てます。
// ラベルは既存サービスの出力形式に合わせています。
func buildLead(author, published string) string {
	var parts []string
	if a := strings.TrimSpace(author); a != "" {
		parts = append(parts, "作者："+a)
	}
	if d := strings.TrimSpace(published); d != "" {
		parts = append(parts, "发布时间："+d)
	}
	return strings.Join(parts, " ")
}

// extractHeuristic は goquery.Document から本文候補を抽出し、段落単位で結合します。
func (e *Extractor) extractHeuristic(doc *goquery.Document) string {
	mainContent := findMainContent(doc)
	mainContent.Find(noiseSelectors).Remove()

	var parts []string

	mainContent.Find(textExtractionTags + ", pre").Each(func(i int, s *goquery.Selection) {
		var content string
		if s.Is("pre") {
			content = strings.TrimSpace(s.Text())
		} else {
			content = e.processGeneralElement(s)
		}
		if content != "" {
			parts = append(parts, content)
		}
	})

	return strings.Join(parts, "\n\n")
}

// findMainContent はメインコンテンツ候補のノードを特定します。
// 既知のコンテンツセレクターに一致しない場合は、ナビゲーションや
// スクリプトを除いた文書全体を対象とします。
func findMainContent(doc *goquery.Document) *goquery.Selection {
	mainContent := doc.Find(mainContentSelectors).First()
	if mainContent.Length() == 0 {
		mainContent = doc.Selection.
			Not("header, footer, nav, aside, .sidebar, script, style, form")
	}
	return mainContent
}

// processGeneralElement は一般的なテキスト要素 (p, h*, li, blockquote) を処理します。
// 短すぎるテキストはノイズと見なして破棄します。
func (e *Extractor) processGeneralElement(s *goquery.Selection) string {
	tempSelection := s.Clone()
	tempSelection.Find("pre, table").Remove()

	text := textUtils.NormalizeText(tempSelection.Text())
	if text == "" {
		return ""
	}

	if s.Is("h1, h2, h3, h4, h5, h6") {
		if len(text) > MinHeadingLength {
			return text
		}
		return ""
	}
	if s.Is("li") || len(text) > MinParagraphLength {
		return text
	}
	return ""
}

// fallbackTitle は、document title → 先頭の見出し の順でタイトルを探します。
func fallbackTitle(doc *goquery.Document) string {
	if title := textUtils.NormalizeText(doc.Find("title").First().Text()); title != "" {
		return title
	}
	for _, sel := range []string{"h1", "h2"} {
		if heading := textUtils.NormalizeText(doc.Find(sel).First().Text()); heading != "" {
			return heading
		}
	}
	return ""
}

// ----------------------------------------------------------------------
// 出力の正規化
// ----------------------------------------------------------------------

// sanitizeText は本文テキストを正規化します。不正なUTF-8シーケンスと
// 改行・タブ以外の制御文字を除去し、行内の空白を畳み込み、空でない行を
// 段落ブロックとして空行区切りで再構成します。ナビゲーションやフッターが
// 本文と重複して抽出されるケースに備え、同一内容のブロックは最初の
// 出現だけを残します。最後に最大文字数で切り詰めます。
func (e *Extractor) sanitizeText(s string) string {
	s = stripControl(s)

	seen := make(map[string]struct{})
	var blocks []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			continue
		}
		key := strings.ToLower(line)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		blocks = append(blocks, line)
	}

	return truncateRunes(strings.Join(blocks, "\n\n"), e.maxTextRunes)
}

// sanitizeTitle はタイトルを1行のテキストへ正規化します。
func (e *Extractor) sanitizeTitle(s string) string {
	s = textUtils.NormalizeText(stripControl(s))
	return truncateRunes(s, e.maxTitleRunes)
}

// stripControl は、不正なUTF-8と改行・タブ以外の制御文字を除去します。
func stripControl(s string) string {
	s = strings.ToValidUTF8(s, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}

// truncateRunes は、文字境界を壊さずに最大文字数で切り詰めます。
func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max]))
}
