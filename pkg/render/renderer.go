package render

import (
	"context"
	"errors"
)

// ErrUnavailable は、レンダリングエンジンが利用できない (未導入・無効化・
// スロット枯渇) ことを示します。呼び出し側は rawフェッチ結果へ縮退します。
var ErrUnavailable = errors.New("ヘッドレスレンダラーは利用できません")

// Renderer は、検証済みURLをヘッドレスブラウザで描画し、スクリプト実行後の
// HTMLを返す機能のインターフェースを定義します。
// レンダリングの失敗はリクエスト全体の失敗ではなく、常にrawフェッチ結果への
// フォールバック要因として扱われます。
type Renderer interface {
	// Render は、描画後のHTMLを返します。デッドラインは ctx が持ちます。
	Render(ctx context.Context, url string) ([]byte, error)
	// Available は、このレンダラーが描画を試みられる状態かを返します。
	Available() bool
}

// Unavailable は、エンジン不在時に選択される何もしないRendererです。
// 起動時に一度だけ選択され、リクエスト処理中のアドホックな機能検出を
// 不要にします。
type Unavailable struct{}

func (Unavailable) Render(ctx context.Context, url string) ([]byte, error) {
	return nil, ErrUnavailable
}

func (Unavailable) Available() bool { return false }
