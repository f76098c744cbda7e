package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shouni/go-extract-api/pkg/config"
)

// --- グローバル定数 ---

const (
	appName = "extract-api"
)

// --- グローバル変数とフラグ構造体 ---

// AppFlags はこのアプリケーション固有の永続フラグを保持
type AppFlags struct {
	Verbose    bool // --verbose 詳細ログ
	TimeoutSec int  // --timeout 1件あたりの処理期限(秒)
}

var Flags AppFlags

var (
	globalConfig *config.Config
	globalLogger *zap.Logger
)

// ルートコマンドの定義
var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "SSRF対策済みのWebコンテンツ抽出サービス",
	Long: `URLを受け取り、本文テキストとタイトルをJSONで返す抽出サービスです。
HTTPサーバー（serve）、単発抽出（extract）、フィード経由の一括抽出（feed）を実行します。`,
	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		// フラグは環境変数より優先する
		if Flags.Verbose {
			cfg.Verbose = true
		}
		if cmd.Flags().Changed("timeout") {
			cfg.DefaultTimeoutSec = Flags.TimeoutSec
			if cfg.DefaultTimeoutSec > cfg.MaxTimeoutSec {
				cfg.MaxTimeoutSec = cfg.DefaultTimeoutSec
			}
		}
		globalConfig = cfg

		logger, err := buildLogger(cfg.Verbose)
		if err != nil {
			return fmt.Errorf("ロガーの初期化に失敗しました: %w", err)
		}
		globalLogger = logger

		return nil
	},

	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if globalLogger != nil {
			_ = globalLogger.Sync()
		}
	},
}

// buildLogger は、実行モードに応じたzapロガーを構築します。
func buildLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// GetConfig は、初期化された設定を返す関数 (DIの代わり)
func GetConfig() *config.Config {
	return globalConfig
}

// GetLogger は、初期化されたロガーを返す関数 (DIの代わり)
func GetLogger() *zap.Logger {
	if globalLogger == nil {
		return zap.NewNop()
	}
	return globalLogger
}

// --- エントリポイント ---

// Execute は、rootCmd を実行するメイン関数です。
func Execute() {
	rootCmd.AddCommand(serveCmd, extractCmd, feedCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&Flags.Verbose, "verbose", "v", false,
		"詳細ログを出力します")
	rootCmd.PersistentFlags().IntVar(&Flags.TimeoutSec, "timeout", config.DefaultTimeoutSec,
		"1件あたりの処理期限（秒）")
}
