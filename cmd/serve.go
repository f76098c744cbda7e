package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shouni/go-extract-api/internal/server"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "抽出APIのHTTPサーバーを起動します",
	Long: `抽出APIのHTTPサーバーを起動します。
POST /extract がクエリパラメータ・JSON・プレーンテキストの3形式でURLを受け付けます。`,
	Args: cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		logger := GetLogger()

		if listenAddr != "" {
			cfg.ListenAddr = listenAddr
		}

		// 1. パイプライン一式の組み立て
		runner, cleanup, err := buildRunner(cfg, logger)
		if err != nil {
			return err
		}
		defer cleanup()

		// 2. HTTP境界層の組み立て
		metrics := server.NewMetrics(nil)
		handler := server.NewHandler(runner, cfg, metrics, logger)
		srv := server.New(cfg, handler, logger)

		// 3. シグナルによるグレースフル停止
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger.Info("抽出サービスを起動します",
			zap.String("addr", cfg.ListenAddr),
			zap.Bool("render", cfg.RenderEnabled()),
			zap.Bool("auth", cfg.APIKey != ""),
		)
		return srv.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&listenAddr, "addr", "a", "",
		"待ち受けアドレス (未指定時は EXTRACT_LISTEN_ADDR または :8000)")
}
