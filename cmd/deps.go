package cmd

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/shouni/go-extract-api/pkg/config"
	"github.com/shouni/go-extract-api/pkg/extract"
	"github.com/shouni/go-extract-api/pkg/fetchsafe"
	"github.com/shouni/go-extract-api/pkg/netguard"
	"github.com/shouni/go-extract-api/pkg/pipeline"
	"github.com/shouni/go-extract-api/pkg/render"
)

// buildRunner は、設定から抽出パイプライン一式を組み立てます (DIコンテナの役割)。
// 戻り値のcleanupは、確保したリソース(ヘッドレスブラウザ等)を解放します。
func buildRunner(cfg *config.Config, logger *zap.Logger) (*pipeline.Runner, func(), error) {
	guard := netguard.NewGuard()

	fetchOpts := []fetchsafe.Option{
		fetchsafe.WithMaxRedirects(cfg.MaxRedirects),
		fetchsafe.WithMaxBodyBytes(cfg.MaxHTMLBytes),
	}
	if cfg.UserAgent != "" {
		fetchOpts = append(fetchOpts, fetchsafe.WithUserAgent(cfg.UserAgent))
	}
	fetcher := fetchsafe.New(guard, fetchOpts...)

	extractor := extract.NewExtractor()

	renderer, cleanup := buildRenderer(cfg, guard, logger)

	runner, err := pipeline.NewRunner(fetcher, renderer, extractor, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("パイプラインの初期化に失敗しました: %w", err)
	}
	return runner, cleanup, nil
}

// buildRenderer は、設定に応じてヘッドレス描画を構築します。
// Chromeが利用できない環境では警告を出し、描画なしで続行します。
func buildRenderer(cfg *config.Config, guard *netguard.Guard, logger *zap.Logger) (pipeline.Renderer, func()) {
	if !cfg.RenderEnabled() {
		return render.Unavailable{}, func() {}
	}

	opts := []render.ChromeOption{render.WithSlots(cfg.RenderSlots)}
	if cfg.UserAgent != "" {
		opts = append(opts, render.WithUserAgent(cfg.UserAgent))
	}

	chrome, err := render.NewChromeRenderer(guard, opts...)
	if err != nil {
		logger.Warn("ヘッドレスChromeが利用できないため、描画なしで続行します", zap.Error(err))
		return render.Unavailable{}, func() {}
	}
	return chrome, chrome.Close
}
