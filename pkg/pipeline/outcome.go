package pipeline

import (
	"strings"
	"time"
)

// ----------------------------------------------------------------------
// 結果の型定義
// ----------------------------------------------------------------------

// Kind は、パイプラインの失敗分類を表します。
// 境界層はこの分類だけを見てHTTPステータスへ写像します。
type Kind int

const (
	// KindInvalidURL は、URLが検証を通過しなかったことを示します。
	KindInvalidURL Kind = iota
	// KindTimeout は、期限内に処理が完了しなかったことを示します。
	KindTimeout
	// KindFetchFailed は、取得段階の失敗を示します。
	KindFetchFailed
	// KindExtractFailed は、抽出段階の失敗を示します。
	KindExtractFailed
	// KindInternal は、分類できない内部エラーを示します。
	KindInternal
)

// Request は、1件の抽出処理の入力です。
type Request struct {
	URL     string
	Timeout time.Duration
}

// Success は、抽出に成功した結果です。URLはリダイレクト追跡後の最終URLです。
type Success struct {
	URL   string
	Title string
	Text  string
}

// Failure は、分類済みの失敗です。Reasonは取得失敗時の短い補足で、
// それ以外の分類では空のままです。
type Failure struct {
	Kind   Kind
	Reason string
}

// Outcome は、1件の処理結果を保持します。FailureがnilならSuccessが有効です。
type Outcome struct {
	Success *Success
	Failure *Failure
}

// maxReasonLength は、外部へ返す失敗理由の最大長です。
const maxReasonLength = 200

// Detail は、失敗をクライアント向けの固定文言へ変換します。
func (f *Failure) Detail() string {
	switch f.Kind {
	case KindInvalidURL:
		return "Invalid url"
	case KindTimeout:
		return "timeout"
	case KindFetchFailed:
		if f.Reason != "" {
			return "fetch failed: " + f.Reason
		}
		return "fetch failed"
	case KindExtractFailed:
		return "extract failed"
	default:
		return "internal error"
	}
}

// shortReason は、内部エラーの文字列をクライアントへ返せる形へ整えます。
// 改行と連続空白を潰し、長すぎるものは切り詰めます。
func shortReason(err error) string {
	if err == nil {
		return ""
	}
	reason := strings.Join(strings.Fields(err.Error()), " ")
	if len(reason) > maxReasonLength {
		reason = reason[:maxReasonLength]
	}
	return reason
}
