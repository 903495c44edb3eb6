package triage

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the triage pipeline.
type Metrics struct {
	JobsTotal      *prometheus.CounterVec
	JobDuration    *prometheus.HistogramVec
	LLMCalls       prometheus.Counter
	TokensSpent    prometheus.Counter
	ClassifyErrors prometheus.Counter
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	BudgetTripped  prometheus.Gauge
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiter_jobs_total",
			Help: "Total triage jobs by terminal state.",
		}, []string{"state"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "arbiter_job_duration_seconds",
			Help:    "Duration of triage jobs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s .. ~204s
		}, []string{"state"}),
		LLMCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arbiter_llm_calls_total",
			Help: "Total LLM provider calls that returned a reply.",
		}),
		TokensSpent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arbiter_llm_tokens_total",
			Help: "Total LLM tokens consumed, input plus output.",
		}),
		ClassifyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arbiter_classify_errors_total",
			Help: "Classifications that exhausted all attempts.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arbiter_cache_hits_total",
			Help: "Fingerprint cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arbiter_cache_misses_total",
			Help: "Fingerprint cache misses.",
		}),
		BudgetTripped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arbiter_budget_tripped",
			Help: "1 when the token budget governor has tripped.",
		}),
	}

	reg.MustRegister(
		m.JobsTotal,
		m.JobDuration,
		m.LLMCalls,
		m.TokensSpent,
		m.ClassifyErrors,
		m.CacheHits,
		m.CacheMisses,
		m.BudgetTripped,
	)

	return m
}
