package netguard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// ----------------------------------------------------------------------
// 定数とエラー定義
// ----------------------------------------------------------------------

const (
	// DNSResolveTimeout は、1回のホスト名解決に許可する最大時間です。
	// リクエスト全体のデッドラインとは別に、解決だけが長引くことを防ぎます。
	DNSResolveTimeout = 3 * time.Second
)

// ErrInvalidURL は、URLが検証を通過しなかったことを示す基点エラーです。
// 呼び出し側は errors.Is でこのエラーを判別できます。
var ErrInvalidURL = errors.New("invalid url")

// ----------------------------------------------------------------------
// 依存性の定義 (DI)
// ----------------------------------------------------------------------

// Resolver は、ホスト名をIPアドレス群へ解決する機能のインターフェースを定義します。
// 本番では net.DefaultResolver を利用し、テストではスタブに差し替えます。
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// ----------------------------------------------------------------------
// 検証結果
// ----------------------------------------------------------------------

// ResolvedTarget は、検証を通過したURLと、検証時点でホスト名が解決された
// IPアドレス群の組です。寿命は1ホップ分の検証呼び出しに限られます。
// リダイレクト先では必ず Validate を再実行して作り直す必要があります。
// 過去の解決結果を新しいホップへ持ち回すと、DNSリバインディングによる
// 迂回を許してしまうためです。
type ResolvedTarget struct {
	URL   *url.URL
	Addrs []net.IP
}

// ----------------------------------------------------------------------
// Admission Guard
// ----------------------------------------------------------------------

// Guard は、フェッチ前のURL検証ゲートです。スキーム・ホスト名の検査と
// DNS解決後の全アドレス分類を行います。初回URLとリダイレクトの各ホップ、
// 両方でこのゲートを通過しなければなりません。
type Guard struct {
	resolver Resolver
}

// GuardOption はGuardの設定を行うための関数型です。
type GuardOption func(*Guard)

// WithResolver はカスタムのResolverを設定します。主にテスト用です。
func WithResolver(r Resolver) GuardOption {
	return func(g *Guard) {
		g.resolver = r
	}
}

// NewGuard は、新しいGuardを生成します。
func NewGuard(options ...GuardOption) *Guard {
	g := &Guard{
		resolver: net.DefaultResolver,
	}
	for _, opt := range options {
		opt(g)
	}
	return g
}

// Validate は候補URLを検証し、通過した場合は解決済みターゲットを返します。
// 検査は次の順で行います:
//  1. 絶対URLとしてパース可能であること
//  2. スキームが http または https であること
//  3. ホスト名がローカル系リテラルでないこと (DNS解決前の多層防御)
//  4. ホスト名が空でないアドレス集合へ解決できること
//  5. 解決された全アドレスが禁止レンジに含まれないこと
//
// 解決結果に1つでも禁止アドレスが含まれる場合、ホスト名全体を拒否します。
// パブリックとプライベートをラウンドロビンで返すホスト名は信用できません。
// DNS解決の失敗 (NXDOMAIN・タイムアウト) も ErrInvalidURL として扱います。
func (g *Guard) Validate(ctx context.Context, rawURL string) (*ResolvedTarget, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: URLのパースに失敗しました", ErrInvalidURL)
	}
	if !parsed.IsAbs() {
		return nil, fmt.Errorf("%w: 絶対URLではありません", ErrInvalidURL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: 許可されないスキームです: %s", ErrInvalidURL, parsed.Scheme)
	}
	if parsed.User != nil {
		return nil, fmt.Errorf("%w: ユーザー情報付きURLは許可されません", ErrInvalidURL)
	}

	host := strings.ToLower(strings.TrimSpace(parsed.Hostname()))
	if host == "" {
		return nil, fmt.Errorf("%w: ホスト名が空です", ErrInvalidURL)
	}
	if isForbiddenHostname(host) {
		return nil, fmt.Errorf("%w: ローカルホスト名は許可されません: %s", ErrInvalidURL, host)
	}

	// ホスト名がIPリテラルの場合はDNS解決なしで直接分類します。
	if ip := net.ParseIP(strings.Trim(host, "[]")); ip != nil {
		if IsForbiddenIP(ip) {
			return nil, fmt.Errorf("%w: 禁止されたIPアドレスです: %s", ErrInvalidURL, ip)
		}
		return &ResolvedTarget{URL: parsed, Addrs: []net.IP{ip}}, nil
	}

	resolveCtx, cancel := context.WithTimeout(ctx, DNSResolveTimeout)
	defer cancel()

	addrs, err := g.resolver.LookupIPAddr(resolveCtx, host)
	if err != nil {
		return nil, fmt.Errorf("%w: DNS解決に失敗しました: %s", ErrInvalidURL, host)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: ホスト名がアドレスへ解決されません: %s", ErrInvalidURL, host)
	}

	ips := make([]net.IP, 0, len(addrs))
	for _, addr := range addrs {
		if IsForbiddenIP(addr.IP) {
			return nil, fmt.Errorf("%w: 禁止されたアドレスへ解決されました: %s -> %s", ErrInvalidURL, host, addr.IP)
		}
		ips = append(ips, addr.IP)
	}

	return &ResolvedTarget{URL: parsed, Addrs: ips}, nil
}

// isForbiddenHostname は、DNS解決を待たずに拒否できるホスト名リテラルを判定します。
func isForbiddenHostname(host string) bool {
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}
	return strings.HasSuffix(host, ".localhost") ||
		strings.HasSuffix(host, ".local") ||
		strings.HasSuffix(host, ".internal")
}
