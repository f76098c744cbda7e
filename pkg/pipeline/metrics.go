package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ヘッドレス描画の発動状況。result は "rendered" または "fallback"。
var renderAttempts = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "extract_render_attempts_total",
		Help: "ヘッドレス描画を試行した件数 (result: rendered|fallback)",
	},
	[]string{"result"},
)
