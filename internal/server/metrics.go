package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics は、抽出エンドポイントの処理結果を集計します。
type Metrics struct {
	requests *prometheus.CounterVec
}

// NewMetrics はメトリクスを生成し、レジストリへ登録します。
// registererにnilを渡すと既定のレジストリを使用します。
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extract_requests_total",
				Help: "抽出リクエストの処理結果ごとの累計数",
			},
			[]string{"result"},
		),
	}
	registerer.MustRegister(m.requests)
	return m
}

// ObserveResult は、1件の処理結果を記録します。
// Metricsがnilでも安全に呼び出せます。
func (m *Metrics) ObserveResult(result string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(result).Inc()
}
