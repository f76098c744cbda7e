package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ----------------------------------------------------------------------
// 既定値の定義
// ----------------------------------------------------------------------

const (
	// envPrefix は、環境変数のプレフィックスです (例: EXTRACT_API_KEY)。
	envPrefix = "EXTRACT"

	// DefaultTimeoutSec は、リクエストで指定がない場合の処理期限(秒)です。
	DefaultTimeoutSec = 15
	// MaxTimeoutSec は、リクエストで指定できる処理期限の上限(秒)です。
	MaxTimeoutSec = 60

	defaultListenAddr   = ":8000"
	defaultMaxRedirects = 5
	defaultMaxHTMLBytes = 5_000_000
	defaultRenderSlots  = 2
	defaultRendererMode = "auto"
)

// ----------------------------------------------------------------------
// Config 本体
// ----------------------------------------------------------------------

// Config は、サービス全体の設定を保持します。
// 値は環境変数 (EXTRACT_ プレフィックス) と .env ファイルから読み込まれます。
type Config struct {
	ListenAddr        string `mapstructure:"listen_addr"`
	APIKey            string `mapstructure:"api_key"`
	MaxRedirects      int    `mapstructure:"max_redirects"`
	MaxHTMLBytes      int64  `mapstructure:"max_html_bytes"`
	DefaultTimeoutSec int    `mapstructure:"default_timeout_sec"`
	MaxTimeoutSec     int    `mapstructure:"max_timeout_sec"`
	Renderer          string `mapstructure:"renderer"`
	RenderSlots       int    `mapstructure:"render_slots"`
	UserAgent         string `mapstructure:"user_agent"`
	Verbose           bool   `mapstructure:"verbose"`
}

// Load は .env と環境変数から設定を構築します。
// .env ファイルが存在しない場合はエラーにせず、環境変数のみで動作します。
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen_addr", defaultListenAddr)
	v.SetDefault("api_key", "")
	v.SetDefault("max_redirects", defaultMaxRedirects)
	v.SetDefault("max_html_bytes", defaultMaxHTMLBytes)
	v.SetDefault("default_timeout_sec", DefaultTimeoutSec)
	v.SetDefault("max_timeout_sec", MaxTimeoutSec)
	v.SetDefault("renderer", defaultRendererMode)
	v.SetDefault("render_slots", defaultRenderSlots)
	v.SetDefault("user_agent", "")
	v.SetDefault("verbose", false)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗しました: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate は、設定値の整合性を確認します。
func (c *Config) validate() error {
	if c.MaxRedirects < 0 {
		return fmt.Errorf("max_redirects には0以上の値を指定してください: %d", c.MaxRedirects)
	}
	if c.MaxHTMLBytes <= 0 {
		return fmt.Errorf("max_html_bytes には正の値を指定してください: %d", c.MaxHTMLBytes)
	}
	if c.DefaultTimeoutSec <= 0 || c.MaxTimeoutSec <= 0 {
		return fmt.Errorf("タイムアウト設定には正の値を指定してください")
	}
	if c.DefaultTimeoutSec > c.MaxTimeoutSec {
		return fmt.Errorf("default_timeout_sec (%d) が max_timeout_sec (%d) を超えています",
			c.DefaultTimeoutSec, c.MaxTimeoutSec)
	}
	switch c.Renderer {
	case "auto", "off":
	default:
		return fmt.Errorf("renderer には auto または off を指定してください: %q", c.Renderer)
	}
	return nil
}

// ClampTimeout は、リクエストで指定されたタイムアウト(秒)を有効範囲へ丸めて
// time.Duration として返します。0以下の指定は既定値として扱います。
func (c *Config) ClampTimeout(sec int) time.Duration {
	if sec <= 0 {
		sec = c.DefaultTimeoutSec
	}
	if sec > c.MaxTimeoutSec {
		sec = c.MaxTimeoutSec
	}
	return time.Duration(sec) * time.Second
}

// RenderEnabled は、ヘッドレス描画を試みるべきかを返します。
func (c *Config) RenderEnabled() bool {
	return c.Renderer == "auto"
}
