package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/shouni/go-extract-api/pkg/extract"
	"github.com/shouni/go-extract-api/pkg/fetchsafe"
	"github.com/shouni/go-extract-api/pkg/netguard"
	"github.com/shouni/go-extract-api/pkg/render"
)

// ----------------------------------------------------------------------
// 依存性の定義 (DI)
// ----------------------------------------------------------------------

// Fetcher は、検証済みURLの安全な取得機能のインターフェースを定義します。
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetchsafe.Result, error)
}

// Extractor は、HTMLから本文を抽出する機能のインターフェースを定義します。
type Extractor interface {
	Extract(html []byte, finalURL string) (*extract.Content, error)
}

// Renderer は、ヘッドレスブラウザによる描画機能のインターフェースを定義します。
type Renderer interface {
	Render(ctx context.Context, rawURL string) ([]byte, error)
	Available() bool
}

// ----------------------------------------------------------------------
// Runner 本体
// ----------------------------------------------------------------------

// Runner は、取得・描画・抽出の各段階を束ねるパイプラインです。
// 各段階の失敗を分類済みのFailureへ変換し、呼び出し側に判断を委ねません。
type Runner struct {
	fetcher   Fetcher
	renderer  Renderer
	extractor Extractor
	logger    *zap.Logger
}

// NewRunner はRunnerを生成します。rendererにnilを渡すと描画は無効になります。
func NewRunner(fetcher Fetcher, renderer Renderer, extractor Extractor, logger *zap.Logger) (*Runner, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcherは必須です")
	}
	if extractor == nil {
		return nil, fmt.Errorf("extractorは必須です")
	}
	if renderer == nil {
		renderer = render.Unavailable{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		fetcher:   fetcher,
		renderer:  renderer,
		extractor: extractor,
		logger:    logger,
	}, nil
}

// Run は1件の抽出処理を実行します。タイムアウトはここで期限として確定し、
// 配下のすべての段階(DNS解決・取得・描画・抽出)が同じ期限を共有します。
func (r *Runner) Run(ctx context.Context, req Request) (outcome *Outcome) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	// 取得・描画段階のpanic混入に備え、1件の失敗として回収する。
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("パイプラインがpanicから回復しました",
				zap.String("url", req.URL),
				zap.Any("panic", rec),
			)
			outcome = &Outcome{Failure: &Failure{Kind: KindInternal}}
		}
	}()

	// 1. 安全な取得 (URL検証とリダイレクト追跡を含む)
	result, err := r.fetcher.Fetch(ctx, req.URL)
	if err != nil {
		return &Outcome{Failure: r.classifyFetchError(ctx, err)}
	}

	// 2. 必要な場合のみヘッドレス描画へ切り替える
	html := r.maybeRender(ctx, result)

	// 3. 本文抽出
	return r.extractUnderDeadline(ctx, html, result.FinalURL)
}

// extractionResult は、抽出ゴルーチンからの戻り値です。
type extractionResult struct {
	content *extract.Content
	err     error
	failure *Failure
}

// extractUnderDeadline は、本文抽出を期限の監視下で実行します。
// Extractはコンテキストを認識しないため、別ゴルーチンで実行し、
// 期限が先に到来した場合は結果を待たずにTimeoutとして打ち切ります。
func (r *Runner) extractUnderDeadline(ctx context.Context, html []byte, finalURL string) *Outcome {
	resCh := make(chan extractionResult, 1)
	go func() {
		// 抽出ライブラリ由来のpanic混入に備え、1件の失敗として回収する。
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("本文抽出がpanicから回復しました",
					zap.String("url", finalURL),
					zap.Any("panic", rec),
				)
				resCh <- extractionResult{failure: &Failure{Kind: KindInternal}}
			}
		}()
		content, err := r.extractor.Extract(html, finalURL)
		resCh <- extractionResult{content: content, err: err}
	}()

	select {
	case <-ctx.Done():
		return &Outcome{Failure: &Failure{Kind: KindTimeout}}
	case res := <-resCh:
		if res.failure != nil {
			return &Outcome{Failure: res.failure}
		}
		if res.err != nil {
			if ctx.Err() != nil {
				return &Outcome{Failure: &Failure{Kind: KindTimeout}}
			}
			r.logger.Warn("本文抽出に失敗しました",
				zap.String("url", finalURL),
				zap.Error(res.err),
			)
			return &Outcome{Failure: &Failure{Kind: KindExtractFailed}}
		}
		// 抽出が期限後に完了した場合も成功とは扱わない
		if ctx.Err() != nil {
			return &Outcome{Failure: &Failure{Kind: KindTimeout}}
		}
		return &Outcome{Success: &Success{
			URL:   finalURL,
			Title: res.content.Title,
			Text:  res.content.Text,
		}}
	}
}

// maybeRender は、取得済みHTMLがSPAシェルと判定された場合に限り
// ヘッドレス描画を試みます。描画の失敗は取得済みHTMLへの縮退で吸収します。
func (r *Runner) maybeRender(ctx context.Context, result *fetchsafe.Result) []byte {
	if !r.renderer.Available() || !render.NeedsRender(result.Body) {
		return result.Body
	}

	rendered, err := r.renderer.Render(ctx, result.FinalURL)
	if err != nil {
		renderAttempts.WithLabelValues("fallback").Inc()
		r.logger.Warn("ヘッドレス描画に失敗したため取得済みHTMLへ縮退します",
			zap.String("url", result.FinalURL),
			zap.Error(err),
		)
		return result.Body
	}
	renderAttempts.WithLabelValues("rendered").Inc()
	return rendered
}

// classifyFetchError は、取得段階のエラーを失敗分類へ変換します。
// コンテキスト起因の中断(期限超過・キャンセル)の判定を最優先し、
// 内部のエラー文言が応答へ漏れないようにします。
func (r *Runner) classifyFetchError(ctx context.Context, err error) *Failure {
	if ctx.Err() != nil ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Failure{Kind: KindTimeout}
	}
	if errors.Is(err, netguard.ErrInvalidURL) {
		return &Failure{Kind: KindInvalidURL}
	}
	if errors.Is(err, fetchsafe.ErrTooManyRedirects) {
		return &Failure{Kind: KindFetchFailed, Reason: "too many redirects"}
	}
	return &Failure{Kind: KindFetchFailed, Reason: shortReason(err)}
}
