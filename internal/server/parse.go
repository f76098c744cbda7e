package server

import (
	"encoding/json"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// リクエストボディの解釈で読み込む最大バイト数。
// URLとタイムアウト指定だけが対象のため、大きなボディは不要。
const maxRequestBodyBytes = 64 * 1024

// プレーンテキストから url= / timeout= 指定を拾い上げるパターン。
// チャットツール経由の貼り付けを想定し、バッククォートや引用符で
// 囲まれたURLも受け付けます。
var (
	textURLPattern     = regexp.MustCompile(`(?i)\burl\s*=\s*[` + "`" + `"']?(https?://[^` + "`" + `"'\s]+)`)
	textTimeoutPattern = regexp.MustCompile(`(?i)\btimeout\s*=\s*(\d+)`)
)

// jsonExtractRequest は、JSON形式のリクエストボディです。
type jsonExtractRequest struct {
	URL     string `json:"url"`
	Timeout int    `json:"timeout"`
}

// parseRequest は、3形式のリクエストからURLとタイムアウト(秒)を取り出します。
// 優先順位は クエリパラメータ > JSONボディ > プレーンテキスト で、
// URLが見つからない場合は空文字列を返します。
func (h *Handler) parseRequest(c *gin.Context) (string, int) {
	// 1. クエリパラメータ (最優先)
	if qURL := strings.TrimSpace(c.Query("url")); qURL != "" {
		return trimURLQuotes(qURL), parseTimeoutValue(c.Query("timeout"))
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRequestBodyBytes))
	if err != nil {
		return "", 0
	}

	// 2. JSONボディ
	var req jsonExtractRequest
	if jsonErr := json.Unmarshal(body, &req); jsonErr == nil && req.URL != "" {
		return trimURLQuotes(strings.TrimSpace(req.URL)), req.Timeout
	}

	// 3. プレーンテキスト (url= 形式の拾い上げ)
	text := string(body)
	rawURL := ""
	if m := textURLPattern.FindStringSubmatch(text); m != nil {
		rawURL = m[1]
	}
	timeoutSec := 0
	if m := textTimeoutPattern.FindStringSubmatch(text); m != nil {
		timeoutSec = parseTimeoutValue(m[1])
	}
	return rawURL, timeoutSec
}

// trimURLQuotes は、URLを囲むバッククォートと引用符を除去します。
func trimURLQuotes(s string) string {
	return strings.Trim(s, "`\"'")
}

// parseTimeoutValue は、文字列のタイムアウト指定を秒数へ変換します。
// 解釈できない値は0を返し、呼び出し側で既定値へ丸められます。
func parseTimeoutValue(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	sec, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return sec
}
