package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/shouni/go-extract-api/pkg/config"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Server は、抽出パイプラインをHTTPで公開する境界層です。
// パイプラインの結果分類をHTTPステータスへ写像する責務だけを持ちます。
type Server struct {
	cfg     *config.Config
	logger  *zap.Logger
	handler *Handler
	engine  *gin.Engine
	httpSrv *http.Server
}

// New はServerを生成し、ルーティングとミドルウェアを構成します。
func New(cfg *config.Config, handler *Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(logger))

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		handler: handler,
		engine:  engine,
	}
	s.registerRoutes()

	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           engine,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// registerRoutes はエンドポイントを登録します。
// 抽出エンドポイントのみAPIキー認証の対象とし、死活監視と
// メトリクスは認証なしで公開します。
func (s *Server) registerRoutes() {
	s.engine.GET("/", s.handleHealth)
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/api/health", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authed := s.engine.Group("/", apiKeyAuth(s.cfg.APIKey))
	authed.POST("/extract", s.handler.HandleExtract)
	authed.POST("/api/extract", s.handler.HandleExtract)
}

// Engine はテスト用に内部のginエンジンを返します。
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Run はHTTPサーバーを起動し、ctxのキャンセルでグレースフルに停止します。
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTPサーバーを起動します", zap.String("addr", s.httpSrv.Addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTPサーバーの起動に失敗しました: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("HTTPサーバーを停止します")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTPサーバーの停止に失敗しました: %w", err)
	}
	return nil
}

// requestLogger は、1リクエスト1行の構造化ログを出力するミドルウェアです。
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		// 死活監視のポーリングはログに残さない
		if path == "/health" || path == "/api/health" || path == "/" {
			return
		}

		logger.Info("HTTPリクエスト",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
