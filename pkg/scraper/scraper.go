package scraper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shouni/go-extract-api/pkg/pipeline"
	"github.com/shouni/go-extract-api/pkg/types"
)

const (
	// DefaultMaxConcurrency は、並列スクレイピングのデフォルトの最大同時実行数を定義します。
	DefaultMaxConcurrency = 6
	// DefaultScrapeRateLimit は、リクエスト発行間隔の既定値を定義します。
	DefaultScrapeRateLimit = 1000 * time.Millisecond
)

// Runner は、1件のURLを処理するパイプラインのインターフェースです。
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) *pipeline.Outcome
}

// Scraper はWebコンテンツの抽出機能を提供するインターフェースです。
type Scraper interface {
	ScrapeInParallel(ctx context.Context, urls []string) []types.URLResult
}

// ParallelScraper は Scraper インターフェースを実装する並列処理構造体です。
type ParallelScraper struct {
	runner         Runner
	maxConcurrency int           // 最大並列数を保持するフィールド
	rateLimit      time.Duration // リクエスト発行間隔を保持するフィールド
	perURLTimeout  time.Duration // 1件あたりの処理期限
}

// Option は ParallelScraper の設定を行うための関数型です。
type Option func(*ParallelScraper)

// WithRateLimit はリクエスト発行間隔を設定します。
func WithRateLimit(d time.Duration) Option {
	return func(s *ParallelScraper) {
		if d > 0 {
			s.rateLimit = d
		}
	}
}

// WithPerURLTimeout は1件あたりの処理期限を設定します。
func WithPerURLTimeout(d time.Duration) Option {
	return func(s *ParallelScraper) {
		if d > 0 {
			s.perURLTimeout = d
		}
	}
}

// NewParallelScraper は ParallelScraper を初期化します。
// 依存性として Runner と、最大同時実行数を受け取ります。
func NewParallelScraper(runner Runner, maxConcurrency int, options ...Option) *ParallelScraper {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	s := &ParallelScraper{
		runner:         runner,
		maxConcurrency: maxConcurrency,
		rateLimit:      DefaultScrapeRateLimit,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// ScrapeInParallel は Scraper インターフェースのメソッドを実装します。
func (s *ParallelScraper) ScrapeInParallel(ctx context.Context, urls []string) []types.URLResult {
	var wg sync.WaitGroup
	resultsChan := make(chan types.URLResult, len(urls))

	// バッファ付きチャネルをセマフォとして使用し、同時実行数を制限する
	semaphore := make(chan struct{}, s.maxConcurrency)

	ticker := time.NewTicker(s.rateLimit)
	defer ticker.Stop()
	rateLimiter := ticker.C

	for _, url := range urls {
		wg.Add(1)

		// リソース（スロット）の確保。maxConcurrency件実行中の場合はここでブロックして待機。
		semaphore <- struct{}{}

		go func(u string) {
			defer wg.Done()

			// 処理完了後にリソース（スロット）を解放。他の待機中のGoroutineが実行可能になる。
			defer func() { <-semaphore }()

			select {
			case <-rateLimiter:
				// 発行間隔が経過し、リクエストが許可された
			case <-ctx.Done():
				resultsChan <- types.URLResult{
					URL:   u,
					Error: ctx.Err(),
				}
				return
			}

			outcome := s.runner.Run(ctx, pipeline.Request{URL: u, Timeout: s.perURLTimeout})
			if outcome.Failure != nil {
				resultsChan <- types.URLResult{
					URL:   u,
					Error: fmt.Errorf("コンテンツの抽出に失敗しました: %s", outcome.Failure.Detail()),
				}
				return
			}

			resultsChan <- types.URLResult{
				URL:     outcome.Success.URL,
				Title:   outcome.Success.Title,
				Content: outcome.Success.Text,
			}
		}(url)
	}

	wg.Wait()
	close(resultsChan)

	var finalResults []types.URLResult
	for res := range resultsChan {
		finalResults = append(finalResults, res)
	}

	return finalResults
}
