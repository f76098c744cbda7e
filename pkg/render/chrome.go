package render

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/shouni/go-extract-api/pkg/netguard"
)

// ----------------------------------------------------------------------
// 定数定義
// ----------------------------------------------------------------------

const (
	// DefaultSlots は、同時に描画できるページ数の既定値です。
	DefaultSlots = 2

	// 起動プローブの設定。プロセス起動時に一度だけ実行され、
	// 以降 Available はこの結果を返し続けます。
	probeTimeout     = 15 * time.Second
	probeMaxRetries  = 2
	probeBackoffBase = 500 * time.Millisecond

	// ナビゲーション完了後、スクリプトがDOMを構築する猶予
	settleDelay = 500 * time.Millisecond
)

// ----------------------------------------------------------------------
// 依存性の定義 (DI)
// ----------------------------------------------------------------------

// HostValidator は、描画中にページが発行するリクエストのURLを検証する
// 機能のインターフェースを定義します。フェッチ側と同じ Admission Guard を
// 渡すことで、レンダラーにもフェッチャーと同一の送信先制限が適用されます。
type HostValidator interface {
	Validate(ctx context.Context, rawURL string) (*netguard.ResolvedTarget, error)
}

// ----------------------------------------------------------------------
// ChromeRenderer
// ----------------------------------------------------------------------

// ChromeRenderer は、ヘッドレスChrome (chromedp) によるRendererの実装です。
// ブラウザプロセスはアロケータ単位で共有し、同時描画数はスロットで制限します。
// スロットが埋まっている場合は待機せず ErrUnavailable を返し、呼び出し側を
// rawフェッチ結果へ縮退させます。
type ChromeRenderer struct {
	guard       HostValidator
	allocCtx    context.Context
	allocCancel context.CancelFunc
	slots       chan struct{}
	userAgent   string
}

// ChromeOption はChromeRendererの設定を行うための関数型です。
type ChromeOption func(*ChromeRenderer)

// WithSlots は同時描画数の上限を設定します。
func WithSlots(n int) ChromeOption {
	return func(r *ChromeRenderer) {
		if n > 0 {
			r.slots = make(chan struct{}, n)
		}
	}
}

// WithUserAgent は描画時のUser-Agentを設定します。
func WithUserAgent(ua string) ChromeOption {
	return func(r *ChromeRenderer) {
		if ua != "" {
			r.userAgent = ua
		}
	}
}

// NewChromeRenderer は、ヘッドレスChromeを起動して動作確認まで行います。
// Chromeが存在しない環境では起動プローブが失敗し、エラーを返します。
// 呼び出し側はエラー時に Unavailable を選択してください。
func NewChromeRenderer(guard HostValidator, options ...ChromeOption) (*ChromeRenderer, error) {
	r := &ChromeRenderer{
		guard: guard,
		slots: make(chan struct{}, DefaultSlots),
	}
	for _, opt := range options {
		opt(r)
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.DisableGPU,
	)
	if r.userAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(r.userAgent))
	}

	r.allocCtx, r.allocCancel = chromedp.NewExecAllocator(context.Background(), allocOpts...)

	// 起動プローブ: バックオフ付きで数回だけ再試行する。
	// リクエスト処理中の自動リトライは行わないため、許されるのはここだけ。
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = probeBackoffBase
	if err := backoff.Retry(r.probe, backoff.WithMaxRetries(bo, probeMaxRetries)); err != nil {
		r.allocCancel()
		return nil, fmt.Errorf("ヘッドレスChromeの起動確認に失敗しました: %w", err)
	}

	return r, nil
}

// probe は、空ページの描画でChromeの起動可否を確認します。
func (r *ChromeRenderer) probe() error {
	ctx, cancel := context.WithTimeout(r.allocCtx, probeTimeout)
	defer cancel()

	browserCtx, browserCancel := chromedp.NewContext(ctx)
	defer browserCancel()

	return chromedp.Run(browserCtx, chromedp.Navigate("about:blank"))
}

// Available は Renderer インターフェースを満たします。
// 生成に成功したChromeRendererは常に利用可能です。
func (r *ChromeRenderer) Available() bool { return true }

// Close はブラウザプロセスを終了します。
func (r *ChromeRenderer) Close() {
	r.allocCancel()
}

// Render は Renderer インターフェースを満たします。検証済みの最終URLを
// ヘッドレスChromeで描画し、スクリプト実行後のHTMLを返します。
// ページが発行するすべてのサブリクエストは CDP の fetch ドメインで
// 一時停止させ、送信先を Admission Guard で再検証してから通します。
// Guardが拒否するアドレスには、描画中のページからも到達できません。
func (r *ChromeRenderer) Render(ctx context.Context, rawURL string) ([]byte, error) {
	// スロット確保。空きがなければ待機せずに縮退させる。
	select {
	case r.slots <- struct{}{}:
	default:
		return nil, ErrUnavailable
	}
	defer func() { <-r.slots }()

	// デッドラインはリクエストの ctx から引き継ぐ。
	// chromedpのコンテキスト木はアロケータ起点のため、明示的に移し替える。
	renderCtx := r.allocCtx
	var cancelTimeout context.CancelFunc
	if deadline, ok := ctx.Deadline(); ok {
		renderCtx, cancelTimeout = context.WithDeadline(renderCtx, deadline)
		defer cancelTimeout()
	}

	browserCtx, browserCancel := chromedp.NewContext(renderCtx)
	defer browserCancel()

	// 呼び出し元のキャンセルをブラウザ側へ伝播させ、描画プロセスを残さない。
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			browserCancel()
		case <-done:
		}
	}()

	r.restrictEgress(browserCtx)

	var html string
	err := chromedp.Run(browserCtx,
		fetch.Enable(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(settleDelay),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("ヘッドレス描画に失敗しました: %w", err)
	}

	html = strings.TrimSpace(html)
	if html == "" {
		return nil, fmt.Errorf("ヘッドレス描画の結果が空でした")
	}
	return []byte(html), nil
}

// restrictEgress は、描画中のすべてのネットワークリクエストを検査し、
// Admission Guard が拒否する送信先への通信を遮断します。
func (r *ChromeRenderer) restrictEgress(browserCtx context.Context) {
	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		if paused, ok := ev.(*fetch.EventRequestPaused); ok {
			go r.resolvePausedRequest(browserCtx, paused)
		}
	})
}

// resolvePausedRequest は、一時停止中のリクエストを許可または遮断します。
func (r *ChromeRenderer) resolvePausedRequest(browserCtx context.Context, ev *fetch.EventRequestPaused) {
	c := chromedp.FromContext(browserCtx)
	execCtx := cdp.WithExecutor(browserCtx, c.Target)

	if r.allowRequest(browserCtx, ev.Request.URL) {
		_ = fetch.ContinueRequest(ev.RequestID).Do(execCtx)
		return
	}
	_ = fetch.FailRequest(ev.RequestID, network.ErrorReasonAccessDenied).Do(execCtx)
}

// allowRequest は、サブリクエストURLがGuardの検証を通過するかを返します。
// data: スキームのみ通信を伴わないため無条件で許可します。
func (r *ChromeRenderer) allowRequest(ctx context.Context, rawURL string) bool {
	if strings.HasPrefix(rawURL, "data:") {
		return true
	}
	_, err := r.guard.Validate(ctx, rawURL)
	return err == nil
}
