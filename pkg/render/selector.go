package render

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	textUtils "github.com/shouni/go-utils/text"
)

// ----------------------------------------------------------------------
// レンダリングフォールバックの判定
// ----------------------------------------------------------------------

const (
	// minPlainHTMLBytes 未満のレスポンスは、中身のあるページとは考えにくい
	minPlainHTMLBytes = 512

	// ページサイズに対して本文テキストが不自然に短い場合の閾値
	densityCheckHTMLBytes = 4096
	minUsefulTextLength   = 200
)

// spaShellMarkers は、スクリプト実行なしでは本文が得られない
// SPAシェルに特徴的なマーカーです。
var spaShellMarkers = []string{
	"__NEXT_DATA__",
	"__NUXT__",
	"data-reactroot",
	"ng-version=",
	"id=\"___gatsby\"",
}

// emptyShellSelectors は、空のままだとクライアントサイド描画待ちを
// 示唆するマウントポイントです。
var emptyShellSelectors = []string{"#root", "#app"}

// NeedsRender は、rawフェッチしたHTMLに対してヘッドレスレンダリングを
// 優先すべきかを判定します。小さすぎるページ、SPAシェルのマーカー、
// ページサイズに比して本文が乏しいページで true を返します。
// 判定はヒューリスティックであり、falseでもrawパスの抽出が失敗しうる点は
// 抽出側のエラーとして扱われます。
func NeedsRender(html []byte) bool {
	if len(bytes.TrimSpace(html)) < minPlainHTMLBytes {
		return true
	}

	for _, marker := range spaShellMarkers {
		if bytes.Contains(html, []byte(marker)) {
			return true
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		// パース不能なら描画しても改善は見込めない
		return false
	}

	for _, sel := range emptyShellSelectors {
		mount := doc.Find(sel).First()
		if mount.Length() > 0 && strings.TrimSpace(mount.Text()) == "" {
			return true
		}
	}

	if len(html) >= densityCheckHTMLBytes {
		body := doc.Find("body").First()
		text := textUtils.NormalizeText(body.Text())
		if len(text) < minUsefulTextLength {
			return true
		}
	}

	return false
}
