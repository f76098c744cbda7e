package scraper

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shouni/go-extract-api/pkg/pipeline"
)

// MockRunner は Runner インターフェースのモックで、URLごとの結果を返します。
type MockRunner struct {
	mu       sync.Mutex
	inflight int32
	peak     int32
	Outcomes map[string]*pipeline.Outcome
	Delay    time.Duration
}

func (m *MockRunner) Run(ctx context.Context, req pipeline.Request) *pipeline.Outcome {
	cur := atomic.AddInt32(&m.inflight, 1)
	defer atomic.AddInt32(&m.inflight, -1)

	m.mu.Lock()
	if cur > m.peak {
		m.peak = cur
	}
	m.mu.Unlock()

	if m.Delay > 0 {
		time.Sleep(m.Delay)
	}

	if outcome, ok := m.Outcomes[req.URL]; ok {
		return outcome
	}
	return &pipeline.Outcome{Success: &pipeline.Success{
		URL:   req.URL,
		Title: "タイトル",
		Text:  "本文",
	}}
}

func TestScrapeInParallel_MixedResults(t *testing.T) {
	runner := &MockRunner{
		Outcomes: map[string]*pipeline.Outcome{
			"https://example.com/bad": {
				Failure: &pipeline.Failure{Kind: pipeline.KindFetchFailed, Reason: "upstream http 500"},
			},
		},
	}

	scraper := NewParallelScraper(runner, 4, WithRateLimit(time.Millisecond))
	urls := []string{
		"https://example.com/a",
		"https://example.com/bad",
		"https://example.com/b",
	}

	results := scraper.ScrapeInParallel(context.Background(), urls)
	require.Len(t, results, len(urls))

	var failed, succeeded int
	for _, res := range results {
		if res.Error != nil {
			failed++
			assert.Contains(t, res.Error.Error(), "fetch failed")
		} else {
			succeeded++
			assert.Equal(t, "本文", res.Content)
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, 2, succeeded)
}

func TestScrapeInParallel_ConcurrencyLimit(t *testing.T) {
	runner := &MockRunner{Delay: 30 * time.Millisecond}

	scraper := NewParallelScraper(runner, 2, WithRateLimit(time.Millisecond))
	urls := make([]string, 8)
	for i := range urls {
		urls[i] = "https://example.com/"
	}

	results := scraper.ScrapeInParallel(context.Background(), urls)
	require.Len(t, results, len(urls))
	assert.LessOrEqual(t, runner.peak, int32(2), "同時実行数が上限を超えています")
}

func TestScrapeInParallel_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// 発行間隔を長くし、キャンセル分岐に必ず入るようにする
	scraper := NewParallelScraper(&MockRunner{}, 2, WithRateLimit(time.Hour))
	results := scraper.ScrapeInParallel(ctx, []string{"https://example.com/a", "https://example.com/b"})

	require.Len(t, results, 2)
	for _, res := range results {
		assert.ErrorIs(t, res.Error, context.Canceled)
	}
}
