package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TemplatesFetched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "p2pool",
		Name:      "templates_fetched_total",
		Help:      "Block templates fetched from the backend node, by chain ticker.",
	}, []string{"chain"})

	JobsGenerated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "p2pool",
		Name:      "jobs_generated_total",
		Help:      "Jobs built from a block template, by chain ticker.",
	}, []string{"chain"})

	CoinbaseBuildDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "p2pool",
		Name:      "coinbase_build_duration_seconds",
		Help:      "Time to build a coinbase transaction for a new Work, by chain ticker.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"chain"})

	BuildBlockDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "p2pool",
		Name:      "build_block_duration_seconds",
		Help:      "Time to assemble a submittable hex block from a Work, by chain ticker.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"chain"})
)

func init() {
	prometheus.MustRegister(
		TemplatesFetched,
		JobsGenerated,
		CoinbaseBuildDuration,
		BuildBlockDuration,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
