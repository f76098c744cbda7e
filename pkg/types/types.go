package types

// URLResult は、特定のURLから抽出された結果、またはその処理中に発生したエラーを保持します。
// これは、Scraperの出力として利用されます。
type URLResult struct {
	URL     string // リダイレクト追跡後の最終URL
	Title   string // 抽出された記事のタイトル
	Content string // 抽出された記事の本文
	Error   error  // 処理中に発生したエラー
}
