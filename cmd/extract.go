package cmd

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shouni/go-extract-api/pkg/pipeline"
)

var rawUrl string

var extractCmd = &cobra.Command{
	Use:   "extract [URL]",
	Short: "指定されたURLまたは標準入力からWebコンテンツのテキストを取得します",
	Long:  `指定されたURLまたは標準入力からWebコンテンツのテキストを取得します。`,
	Args:  cobra.MaximumNArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		logger := GetLogger()

		// 1. 処理対象URLの決定 (位置引数 > フラグ > 標準入力)
		urlToProcess := rawUrl
		if len(args) > 0 {
			urlToProcess = args[0]
		}
		if urlToProcess == "" {
			scanner := bufio.NewScanner(os.Stdin)
			fmt.Print("処理するURLを入力してください: ")

			if !scanner.Scan() {
				if err := scanner.Err(); err != nil {
					return fmt.Errorf("標準入力の読み取りエラー: %w", err)
				}
				return fmt.Errorf("URLが入力されていません")
			}
			urlToProcess = scanner.Text()
		}

		// 2. URLのスキーム補完とバリデーション
		processedURL, err := ensureScheme(urlToProcess)
		if err != nil {
			return fmt.Errorf("URLスキームの処理エラー: %w", err)
		}

		// 3. 依存性の初期化 (DIコンテナの役割)
		runner, cleanup, err := buildRunner(cfg, logger)
		if err != nil {
			return err
		}
		defer cleanup()

		// 4. メインロジックの実行
		outcome := runner.Run(cmd.Context(), pipeline.Request{
			URL:     processedURL,
			Timeout: cfg.ClampTimeout(Flags.TimeoutSec),
		})
		if outcome.Failure != nil {
			return fmt.Errorf("コンテンツの抽出に失敗しました: %s", outcome.Failure.Detail())
		}

		// 5. 結果の出力
		fmt.Printf("URL: %s\n", outcome.Success.URL)
		fmt.Printf("タイトル: %s\n", outcome.Success.Title)
		fmt.Println("--- 抽出された本文 ---")
		fmt.Println(outcome.Success.Text)
		fmt.Println("-----------------------")

		return nil
	},
}

func init() {
	// rawUrl 変数にフラグのポインタをバインドします
	extractCmd.Flags().StringVarP(&rawUrl, "url", "u", "", "抽出対象のURL")
}
