package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/shouni/go-extract-api/pkg/config"
	"github.com/shouni/go-extract-api/pkg/pipeline"
)

// ----------------------------------------------------------------------
// 依存性の定義 (DI)
// ----------------------------------------------------------------------

// Runner は、1件のURLを処理するパイプラインのインターフェースです。
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) *pipeline.Outcome
}

// ----------------------------------------------------------------------
// リクエスト/レスポンスの型定義
// ----------------------------------------------------------------------

// extractResponse は、抽出成功時のレスポンスボディです。
type extractResponse struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// errorResponse は、失敗時のレスポンスボディです。
type errorResponse struct {
	Detail string `json:"detail"`
}

// ----------------------------------------------------------------------
// Handler 本体
// ----------------------------------------------------------------------

// Handler は、抽出エンドポイントのリクエスト解釈とレスポンス生成を行います。
type Handler struct {
	runner  Runner
	cfg     *config.Config
	logger  *zap.Logger
	metrics *Metrics
}

// NewHandler はHandlerを生成します。
func NewHandler(runner Runner, cfg *config.Config, metrics *Metrics, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		runner:  runner,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// HandleExtract は POST /extract を処理します。
// クエリパラメータ、JSONボディ、プレーンテキストの3形式を受け付け、
// パイプラインの結果分類をHTTPステータスへ写像します。
func (h *Handler) HandleExtract(c *gin.Context) {
	rawURL, timeoutSec := h.parseRequest(c)
	if rawURL == "" {
		h.metrics.ObserveResult("invalid_url")
		c.JSON(http.StatusUnprocessableEntity, errorResponse{Detail: "Invalid url"})
		return
	}

	outcome := h.runner.Run(c.Request.Context(), pipeline.Request{
		URL:     rawURL,
		Timeout: h.cfg.ClampTimeout(timeoutSec),
	})

	if outcome.Failure != nil {
		h.metrics.ObserveResult(resultLabel(outcome.Failure.Kind))
		c.JSON(statusForKind(outcome.Failure.Kind), errorResponse{Detail: outcome.Failure.Detail()})
		return
	}

	h.metrics.ObserveResult("success")
	c.JSON(http.StatusOK, extractResponse{
		URL:   outcome.Success.URL,
		Title: outcome.Success.Title,
		Text:  outcome.Success.Text,
	})
}

// statusForKind は、失敗分類をHTTPステータスへ写像します。
func statusForKind(kind pipeline.Kind) int {
	switch kind {
	case pipeline.KindInvalidURL, pipeline.KindExtractFailed:
		return http.StatusUnprocessableEntity
	case pipeline.KindTimeout:
		return http.StatusGatewayTimeout
	case pipeline.KindFetchFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// resultLabel は、失敗分類をメトリクスのラベル値へ変換します。
func resultLabel(kind pipeline.Kind) string {
	switch kind {
	case pipeline.KindInvalidURL:
		return "invalid_url"
	case pipeline.KindTimeout:
		return "timeout"
	case pipeline.KindFetchFailed:
		return "fetch_failed"
	case pipeline.KindExtractFailed:
		return "extract_failed"
	default:
		return "internal"
	}
}
