package netguard

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsForbiddenIP(t *testing.T) {
	testCases := []struct {
		name      string
		ip        string
		forbidden bool
	}{
		// 禁止レンジ
		{"ipv4_loopback", "127.0.0.1", true},
		{"ipv4_loopback_high", "127.255.255.254", true},
		{"ipv6_loopback", "::1", true},
		{"ipv4_link_local", "169.254.10.20", true},
		{"ipv6_link_local", "fe80::1", true},
		{"ipv4_private_10", "10.0.0.5", true},
		{"ipv4_private_172", "172.16.0.1", true},
		{"ipv4_private_172_upper", "172.31.255.255", true},
		{"ipv4_private_192", "192.168.1.1", true},
		{"ipv6_unique_local", "fc00::1", true},
		{"ipv6_unique_local_fd", "fd12:3456::1", true},
		{"ipv4_unspecified", "0.0.0.0", true},
		{"ipv6_unspecified", "::", true},
		{"ipv4_multicast", "224.0.0.1", true},
		{"ipv6_multicast", "ff02::1", true},
		{"cgnat", "100.64.0.1", true},
		{"cgnat_upper", "100.127.255.255", true},

		// IPv4射影IPv6: 埋め込みIPv4として再判定される
		{"v4mapped_loopback", "::ffff:127.0.0.1", true},
		{"v4mapped_private", "::ffff:192.168.1.1", true},
		{"v4mapped_public", "::ffff:93.184.216.34", false},

		// 許可されるパブリックアドレス
		{"ipv4_public", "93.184.216.34", false},
		{"ipv4_public_dns", "8.8.8.8", false},
		{"ipv4_just_outside_172", "172.32.0.1", false},
		{"ipv4_just_outside_cgnat", "100.128.0.1", false},
		{"ipv6_public", "2606:2800:220:1:248:1893:25c8:1946", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ip := net.ParseIP(tc.ip)
			assert.NotNil(t, ip, "テストケースのIPがパースできません: %s", tc.ip)
			assert.Equal(t, tc.forbidden, IsForbiddenIP(ip))
		})
	}
}

func TestIsForbiddenIP_Nil(t *testing.T) {
	// nil は常に禁止扱い (解決結果が壊れている場合の防波堤)
	assert.True(t, IsForbiddenIP(nil))
}
