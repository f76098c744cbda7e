package netguard

import "net"

// 事前コンパイル済みのCIDR群です。net.IP の標準判定メソッドが扱わない
// 予約レンジのみをここで補完します。
var (
	cgnat    *net.IPNet // 100.64.0.0/10 - キャリアグレードNAT
	v6unique *net.IPNet // fc00::/7 - IPv6ユニークローカル
	v6link   *net.IPNet // fe80::/10 - IPv6リンクローカル
)

func init() {
	cgnat = mustParseCIDR("100.64.0.0/10")
	v6unique = mustParseCIDR("fc00::/7")
	v6link = mustParseCIDR("fe80::/10")
}

func mustParseCIDR(s string) *net.IPNet {
	_, network, err := net.ParseCIDR(s)
	if err != nil {
		panic("netguard: 不正なCIDR定義: " + err.Error())
	}
	return network
}

// IsForbiddenIP は、解決済みIPアドレスがフェッチ先として禁止されているかを判定します。
// ループバック、リンクローカル、プライベート、未指定、マルチキャスト、CGNAT、
// および埋め込みIPv4が禁止対象となるIPv4射影IPv6アドレスを禁止します。
// 副作用を持たない純粋関数であり、初回URL検証とリダイレクト各ホップの
// 再検証の両方から唯一の判定点として利用されます。
func IsForbiddenIP(ip net.IP) bool {
	if ip == nil {
		return true
	}

	if ip.IsUnspecified() || ip.IsLoopback() || ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast() {
		return true
	}

	// IPv4射影IPv6アドレス (::ffff:x.x.x.x) は、埋め込まれたIPv4として再判定します。
	if v4 := ip.To4(); v4 != nil {
		ip = v4
		if ip.IsUnspecified() || ip.IsLoopback() || ip.IsPrivate() ||
			ip.IsLinkLocalUnicast() || ip.IsMulticast() {
			return true
		}
	}

	return cgnat.Contains(ip) || v6unique.Contains(ip) || v6link.Contains(ip)
}
