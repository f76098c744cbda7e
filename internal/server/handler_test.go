package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shouni/go-extract-api/pkg/config"
	"github.com/shouni/go-extract-api/pkg/pipeline"
)

// MockRunner は Runner インターフェースのモックで、受け取ったリクエストを記録します。
type MockRunner struct {
	LastRequest pipeline.Request
	Outcome     *pipeline.Outcome
}

func (m *MockRunner) Run(ctx context.Context, req pipeline.Request) *pipeline.Outcome {
	m.LastRequest = req
	return m.Outcome
}

func testConfig(apiKey string) *config.Config {
	return &config.Config{
		ListenAddr:        ":0",
		APIKey:            apiKey,
		DefaultTimeoutSec: 15,
		MaxTimeoutSec:     60,
	}
}

func newTestServer(t *testing.T, runner Runner, apiKey string) (*gin.Engine, *MockRunner) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mock, _ := runner.(*MockRunner)
	cfg := testConfig(apiKey)
	handler := NewHandler(runner, cfg, nil, nil)
	srv := New(cfg, handler, nil)
	return srv.Engine(), mock
}

func successOutcome() *pipeline.Outcome {
	return &pipeline.Outcome{Success: &pipeline.Success{
		URL:   "https://example.com/final",
		Title: "記事タイトル",
		Text:  "本文テキスト",
	}}
}

func TestHandleExtract_RequestFormats(t *testing.T) {
	tests := []struct {
		name        string
		target      string
		body        string
		contentType string
		wantURL     string
		wantTimeout time.Duration
	}{
		{
			name:        "クエリパラメータ形式",
			target:      "/extract?url=https://example.com/article&timeout=30",
			wantURL:     "https://example.com/article",
			wantTimeout: 30 * time.Second,
		},
		{
			name:        "JSONボディ形式",
			target:      "/extract",
			body:        `{"url": "https://example.com/article", "timeout": 20}`,
			contentType: "application/json",
			wantURL:     "https://example.com/article",
			wantTimeout: 20 * time.Second,
		},
		{
			name:        "プレーンテキスト形式",
			target:      "/extract",
			body:        "お手数ですが url=`https://example.com/article` timeout=25 でお願いします",
			contentType: "text/plain",
			wantURL:     "https://example.com/article",
			wantTimeout: 25 * time.Second,
		},
		{
			name:        "クエリがボディより優先される",
			target:      "/extract?url=https://example.com/query",
			body:        `{"url": "https://example.com/body"}`,
			contentType: "application/json",
			wantURL:     "https://example.com/query",
			wantTimeout: 15 * time.Second,
		},
		{
			name:        "引用符で囲まれたURLを受け付ける",
			target:      `/extract?url="https://example.com/quoted"`,
			wantURL:     "https://example.com/quoted",
			wantTimeout: 15 * time.Second,
		},
		{
			name:        "タイムアウト指定は上限へ丸められる",
			target:      "/extract?url=https://example.com/article&timeout=600",
			wantURL:     "https://example.com/article",
			wantTimeout: 60 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, mock := newTestServer(t, &MockRunner{Outcome: successOutcome()}, "")

			req := httptest.NewRequest(http.MethodPost, tt.target, strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()
			engine.ServeHTTP(rec, req)

			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantURL, mock.LastRequest.URL)
			assert.Equal(t, tt.wantTimeout, mock.LastRequest.Timeout)
			assert.JSONEq(t, `{
				"url": "https://example.com/final",
				"title": "記事タイトル",
				"text": "本文テキスト"
			}`, rec.Body.String())
		})
	}
}

func TestHandleExtract_FailureStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		failure    *pipeline.Failure
		wantStatus int
		wantDetail string
	}{
		{
			name:       "URL検証エラーは422",
			failure:    &pipeline.Failure{Kind: pipeline.KindInvalidURL},
			wantStatus: http.StatusUnprocessableEntity,
			wantDetail: "Invalid url",
		},
		{
			name:       "タイムアウトは504",
			failure:    &pipeline.Failure{Kind: pipeline.KindTimeout},
			wantStatus: http.StatusGatewayTimeout,
			wantDetail: "timeout",
		},
		{
			name:       "取得失敗は502",
			failure:    &pipeline.Failure{Kind: pipeline.KindFetchFailed, Reason: "upstream http 503"},
			wantStatus: http.StatusBadGateway,
			wantDetail: "fetch failed: upstream http 503",
		},
		{
			name:       "抽出失敗は422",
			failure:    &pipeline.Failure{Kind: pipeline.KindExtractFailed},
			wantStatus: http.StatusUnprocessableEntity,
			wantDetail: "extract failed",
		},
		{
			name:       "内部エラーは500",
			failure:    &pipeline.Failure{Kind: pipeline.KindInternal},
			wantStatus: http.StatusInternalServerError,
			wantDetail: "internal error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, _ := newTestServer(t, &MockRunner{Outcome: &pipeline.Outcome{Failure: tt.failure}}, "")

			req := httptest.NewRequest(http.MethodPost, "/extract?url=https://example.com/", nil)
			rec := httptest.NewRecorder()
			engine.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.JSONEq(t, `{"detail": "`+tt.wantDetail+`"}`, rec.Body.String())
		})
	}
}

func TestHandleExtract_MissingURL(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		contentType string
	}{
		{name: "空のリクエスト"},
		{name: "URLのないJSON", body: `{"timeout": 30}`, contentType: "application/json"},
		{name: "URLのないテキスト", body: "よろしくお願いします", contentType: "text/plain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, _ := newTestServer(t, &MockRunner{Outcome: successOutcome()}, "")

			req := httptest.NewRequest(http.MethodPost, "/extract", strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()
			engine.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			assert.JSONEq(t, `{"detail": "Invalid url"}`, rec.Body.String())
		})
	}
}

func TestAPIKeyAuth(t *testing.T) {
	t.Run("キー設定時は一致するヘッダーのみ通す", func(t *testing.T) {
		engine, _ := newTestServer(t, &MockRunner{Outcome: successOutcome()}, "secret-key")

		// ヘッダーなし
		req := httptest.NewRequest(http.MethodPost, "/extract?url=https://example.com/", nil)
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"detail": "unauthorized"}`, rec.Body.String())

		// 不一致のキー
		req = httptest.NewRequest(http.MethodPost, "/extract?url=https://example.com/", nil)
		req.Header.Set("x-api-key", "wrong-key")
		rec = httptest.NewRecorder()
		engine.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		// 正しいキー
		req = httptest.NewRequest(http.MethodPost, "/extract?url=https://example.com/", nil)
		req.Header.Set("x-api-key", "secret-key")
		rec = httptest.NewRecorder()
		engine.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("キー未設定時は認証なしで通す", func(t *testing.T) {
		engine, _ := newTestServer(t, &MockRunner{Outcome: successOutcome()}, "")

		req := httptest.NewRequest(http.MethodPost, "/extract?url=https://example.com/", nil)
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("死活監視は認証の対象外", func(t *testing.T) {
		engine, _ := newTestServer(t, &MockRunner{Outcome: successOutcome()}, "secret-key")

		for _, path := range []string{"/", "/health", "/api/health"} {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			rec := httptest.NewRecorder()
			engine.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusOK, rec.Code, path)
			assert.JSONEq(t, `{"ok": true}`, rec.Body.String())
		}
	})
}
