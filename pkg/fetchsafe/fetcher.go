package fetchsafe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/shouni/go-extract-api/pkg/netguard"
)

// ----------------------------------------------------------------------
// 定数とエラー定義
// ----------------------------------------------------------------------

const (
	// DefaultMaxRedirects は、初回リクエストに続いて許可するリダイレクト回数の上限です。
	DefaultMaxRedirects = 5
	// DefaultMaxBodyBytes は、レスポンスボディから読み込む最大バイト数です。
	DefaultMaxBodyBytes = int64(5_000_000)

	// サイトからのブロックを避けるためのUser-Agent
	DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) ExtractService/1.0"

	acceptHeader   = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	acceptLanguage = "en-US,en;q=0.5"

	dialTimeout         = 10 * time.Second
	tlsHandshakeTimeout = 10 * time.Second
	keepAliveInterval   = 30 * time.Second

	// リダイレクトレスポンスを破棄する際に読み捨てる最大バイト数
	discardLimit = int64(64 * 1024)
)

// ErrTooManyRedirects は、リダイレクト回数が上限を超えたことを示します。
var ErrTooManyRedirects = errors.New("too many redirects")

// ----------------------------------------------------------------------
// 依存性の定義 (DI)
// ----------------------------------------------------------------------

// Validator は、初回URLおよびリダイレクトの各ホップを検証する機能の
// インターフェースを定義します。Fetcher はこの抽象に依存します。
type Validator interface {
	Validate(ctx context.Context, rawURL string) (*netguard.ResolvedTarget, error)
}

// ----------------------------------------------------------------------
// フェッチ結果
// ----------------------------------------------------------------------

// Result は、リダイレクト追跡後の最終レスポンスです。
// Body はUTF-8へデコード済みのバイト列で、上限 (maxBodyBytes) で
// 打ち切られている場合は Truncated が true になります。
// 打ち切り自体は致命的ではなく、抽出は切り詰められたバッファに対して続行されます。
type Result struct {
	FinalURL    string
	StatusCode  int
	ContentType string
	Body        []byte
	Truncated   bool
}

// ----------------------------------------------------------------------
// Bounded Fetcher
// ----------------------------------------------------------------------

// Fetcher は、デッドライン付きHTTP取得とリダイレクトの手動追跡を管理します。
// 各ホップで Validator による再検証を行い、accept できないアドレスへの
// 接続をトランスポート層 (接続直前の再解決) でも遮断します。
type Fetcher struct {
	httpClient   *http.Client
	guard        Validator
	maxRedirects int
	maxBodyBytes int64
	userAgent    string
}

// Option はFetcherの設定を行うための関数型です。
type Option func(*Fetcher)

// WithMaxRedirects はリダイレクト回数の上限を設定します。
func WithMaxRedirects(max int) Option {
	return func(f *Fetcher) {
		if max >= 0 {
			f.maxRedirects = max
		}
	}
}

// WithMaxBodyBytes はボディ読み込みの上限バイト数を設定します。
func WithMaxBodyBytes(max int64) Option {
	return func(f *Fetcher) {
		if max > 0 {
			f.maxBodyBytes = max
		}
	}
}

// WithUserAgent はリクエストのUser-Agentを設定します。
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithTransport はカスタムのトランスポートを設定します。主にテスト用です。
// 本番では接続直前の再検証を行う安全なトランスポートを使ってください。
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Fetcher) {
		f.httpClient.Transport = rt
	}
}

// New は、新しいFetcherを生成します。
// リダイレクトは http.Client に任せず自前で追跡するため、
// クライアント側の自動追跡は停止させています。
func New(guard Validator, options ...Option) *Fetcher {
	f := &Fetcher{
		httpClient: &http.Client{
			Transport: newSafeTransport(),
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		guard:        guard,
		maxRedirects: DefaultMaxRedirects,
		maxBodyBytes: DefaultMaxBodyBytes,
		userAgent:    DefaultUserAgent,
	}
	for _, opt := range options {
		opt(f)
	}
	return f
}

// newSafeTransport は、接続直前にホスト名を再解決し、全アドレスを再分類する
// トランスポートを生成します。Validate 通過後にDNS応答が差し替えられる
// time-of-check/time-of-use の隙間をここで塞ぎます。
func newSafeTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: keepAliveInterval,
	}

	safeDialContext := func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("不正な接続先アドレスです: %w", err)
		}

		if ip := net.ParseIP(host); ip != nil {
			if netguard.IsForbiddenIP(ip) {
				return nil, fmt.Errorf("%w: 禁止されたIPアドレスへの接続です: %s", netguard.ErrInvalidURL, ip)
			}
			return dialer.DialContext(ctx, network, addr)
		}

		addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("%w: 接続時のDNS解決に失敗しました: %s", netguard.ErrInvalidURL, host)
		}
		for _, ipAddr := range addrs {
			if netguard.IsForbiddenIP(ipAddr.IP) {
				return nil, fmt.Errorf("%w: 禁止されたアドレスへ解決されました: %s -> %s", netguard.ErrInvalidURL, host, ipAddr.IP)
			}
		}

		var lastErr error
		for _, ipAddr := range addrs {
			conn, dialErr := dialer.DialContext(ctx, network, net.JoinHostPort(ipAddr.IP.String(), port))
			if dialErr == nil {
				return conn, nil
			}
			lastErr = dialErr
		}
		return nil, fmt.Errorf("解決されたアドレスのいずれにも接続できませんでした: %w", lastErr)
	}

	return &http.Transport{
		DialContext:         safeDialContext,
		TLSHandshakeTimeout: tlsHandshakeTimeout,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
	}
}

// ----------------------------------------------------------------------
// メイン関数
// ----------------------------------------------------------------------

// Fetch は検証済みURLからコンテンツを取得します。3xxレスポンスは Location を
// 現在のURLに対して解決し、Validator の再検証を通してから次のホップへ進みます。
// デッドラインは ctx が1本で全ホップとボディ読み込みを貫きます。
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	current := rawURL
	redirects := 0

	for {
		target, err := f.guard.Validate(ctx, current)
		if err != nil {
			return nil, err
		}

		resp, err := f.doRequest(ctx, target.URL.String())
		if err != nil {
			return nil, err
		}

		if isRedirect(resp.StatusCode) {
			location := resp.Header.Get("Location")
			drainAndClose(resp.Body)

			if location == "" {
				return nil, fmt.Errorf("upstream http %d (Locationヘッダなし)", resp.StatusCode)
			}

			redirects++
			if redirects > f.maxRedirects {
				return nil, fmt.Errorf("%w (上限 %d 回)", ErrTooManyRedirects, f.maxRedirects)
			}

			next, parseErr := target.URL.Parse(location)
			if parseErr != nil {
				return nil, fmt.Errorf("%w: リダイレクト先のパースに失敗しました", netguard.ErrInvalidURL)
			}
			current = next.String()
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			drainAndClose(resp.Body)
			return nil, fmt.Errorf("upstream http %d", resp.StatusCode)
		}

		return f.readBody(resp, target.URL.String())
	}
}

// doRequest は1回のHTTP GETリクエストを実行します。
func (f *Fetcher) doRequest(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("GETリクエスト作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Accept-Language", acceptLanguage)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストに失敗しました: %w", err)
	}
	return resp, nil
}

// readBody はレスポンスボディを上限付きで読み込み、UTF-8へデコードします。
// Content-Length がどう申告されていても、読むのは maxBodyBytes までです。
func (f *Fetcher) readBody(resp *http.Response, finalURL string) (*Result, error) {
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, f.maxBodyBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み込みに失敗しました: %w", err)
	}

	truncated := int64(len(raw)) > f.maxBodyBytes
	if truncated {
		raw = raw[:f.maxBodyBytes]
	}

	contentType := resp.Header.Get("Content-Type")

	return &Result{
		FinalURL:    finalURL,
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Body:        decodeToUTF8(raw, contentType),
		Truncated:   truncated,
	}, nil
}

// decodeToUTF8 は、Content-Type と文書先頭の情報から文字コードを推定して
// UTF-8へ変換します。判定できない場合は元のバイト列をそのまま返します。
func decodeToUTF8(raw []byte, contentType string) []byte {
	reader, err := charset.NewReader(bytes.NewReader(raw), contentType)
	if err != nil {
		return raw
	}
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return raw
	}
	return decoded
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// drainAndClose は、コネクション再利用のためにボディを限度付きで読み捨てて閉じます。
func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, discardLimit))
	_ = body.Close()
}
