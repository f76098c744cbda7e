package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shouni/go-extract-api/pkg/feed"
	"github.com/shouni/go-extract-api/pkg/fetchsafe"
	"github.com/shouni/go-extract-api/pkg/netguard"
	"github.com/shouni/go-extract-api/pkg/scraper"
)

// コマンドラインフラグ変数を定義
var (
	feedURL     string // --feed フラグで受け取るフィードURL
	concurrency int    // --concurrency フラグで受け取る並列実行数
	maxItems    int    // --max-items フラグで受け取る処理件数の上限
)

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "RSS/Atomフィードの記事を並列で抽出します",
	Long:  `指定されたフィードURLを解析し、含まれる記事リンクを並列で抽出します。`,
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		logger := GetLogger()
		ctx := cmd.Context()

		// 1. フィードURLのスキーム補完
		processedURL, err := ensureScheme(feedURL)
		if err != nil {
			return fmt.Errorf("URLスキームの処理エラー: %w", err)
		}

		// 2. フィードの取得とパース
		guard := netguard.NewGuard()
		fetcher := fetchsafe.New(guard,
			fetchsafe.WithMaxRedirects(cfg.MaxRedirects),
			fetchsafe.WithMaxBodyBytes(cfg.MaxHTMLBytes),
		)
		parser := feed.NewParser(fetcher)

		parsed, err := parser.FetchAndParse(ctx, processedURL)
		if err != nil {
			return err
		}

		urls := feed.GetAllLinks(feed.NewFeedAdapter(parsed))
		if len(urls) == 0 {
			return fmt.Errorf("フィードに記事リンクが含まれていません: %s", processedURL)
		}
		if maxItems > 0 && len(urls) > maxItems {
			urls = urls[:maxItems]
		}

		logger.Info("フィードを解析しました",
			zap.String("feed", processedURL),
			zap.String("title", parsed.Title),
			zap.Int("items", len(urls)),
		)

		// 3. パイプラインの組み立てと並列抽出の実行
		runner, cleanup, err := buildRunner(cfg, logger)
		if err != nil {
			return err
		}
		defer cleanup()

		parallel := scraper.NewParallelScraper(runner, concurrency,
			scraper.WithPerURLTimeout(cfg.ClampTimeout(Flags.TimeoutSec)),
		)
		results := parallel.ScrapeInParallel(ctx, urls)

		// 4. 結果の出力
		fmt.Println("--- 並列抽出結果 ---")

		successCount := 0
		errorCount := 0

		for i, res := range results {
			if res.Error != nil {
				errorCount++
				fmt.Printf("❌ [%d] %s\n", i+1, res.URL)
				fmt.Printf("     エラー: %v\n", res.Error)
			} else {
				successCount++
				fmt.Printf("✅ [%d] %s\n", i+1, res.URL)
				fmt.Printf("     タイトル: %s\n", res.Title)
				fmt.Printf("     抽出コンテンツの長さ: %d 文字\n", len(res.Content))
			}
		}

		fmt.Println("-------------------------------")
		fmt.Printf("完了: 成功 %d 件, 失敗 %d 件\n", successCount, errorCount)

		return nil
	},
}

func init() {
	feedCmd.Flags().StringVarP(&feedURL, "feed", "f", "", "解析対象のフィードURL")
	feedCmd.Flags().IntVarP(&concurrency, "concurrency", "c",
		scraper.DefaultMaxConcurrency,
		fmt.Sprintf("最大並列実行数 (デフォルト: %d)", scraper.DefaultMaxConcurrency))
	feedCmd.Flags().IntVar(&maxItems, "max-items", 0, "処理する記事数の上限 (0は無制限)")

	_ = feedCmd.MarkFlagRequired("feed")
}
