package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NewRegistry returns a registry preloaded with the Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return reg
}

// PipelineMetrics covers detection and ranking.
type PipelineMetrics struct {
	Events        *prometheus.CounterVec
	Candidates    *prometheus.CounterVec
	Decisions     *prometheus.CounterVec
	DetectLatency *prometheus.HistogramVec
	DetectErrors  *prometheus.CounterVec
	QueueDepth    prometheus.Gauge
	ExpectedNet   *prometheus.HistogramVec
}

func NewPipelineMetrics(reg prometheus.Registerer, namespace string) *PipelineMetrics {
	f := promauto.With(reg)
	return &PipelineMetrics{
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Total number of events received by loop",
		}, []string{"loop"}),
		Candidates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_total",
			Help:      "Total number of detected opportunities by kind",
		}, []string{"kind"}),
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Ranker decisions by kind and outcome",
		}, []string{"kind", "decision"}),
		DetectLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "detect_latency_seconds",
			Help:      "Time spent in detectors per event",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"detector"}),
		DetectErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detect_errors_total",
			Help:      "Detector errors by detector",
		}, []string{"detector"}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "candidate_queue_depth",
			Help:      "Current depth of the candidate channel",
		}),
		ExpectedNet: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "expected_net_profit_wei",
			Help:      "Expected net profit of admitted opportunities",
			Buckets:   prometheus.ExponentialBuckets(1e14, 10, 8),
		}, []string{"kind"}),
	}
}

// ExecutorMetrics covers submission and outcome tracking.
type ExecutorMetrics struct {
	Submissions   *prometheus.CounterVec
	Outcomes      *prometheus.CounterVec
	NonceResyncs  prometheus.Counter
	InFlight      prometheus.Gauge
	SubmitLatency prometheus.Histogram
	// OpportunityAge is detection to broadcast, by kind.
	OpportunityAge *prometheus.HistogramVec
	GasUsed        prometheus.Histogram
}

func NewExecutorMetrics(reg prometheus.Registerer, namespace string) *ExecutorMetrics {
	f := promauto.With(reg)
	return &ExecutorMetrics{
		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Submissions by kind and result",
		}, []string{"kind", "result"}),
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "Terminal submission states by kind",
		}, []string{"kind", "outcome"}),
		NonceResyncs: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nonce_resyncs_total",
			Help:      "Total number of nonce counter re-synchronizations",
		}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "in_flight",
			Help:      "Opportunities submitted and awaiting an outcome",
		}),
		SubmitLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submit_latency_seconds",
			Help:      "Time from submit call to broadcast",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		OpportunityAge: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "opportunity_age_seconds",
			Help:      "Time from detection to broadcast",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"kind"}),
		GasUsed: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gas_used",
			Help:      "Gas used per confirmed transaction",
			Buckets:   prometheus.ExponentialBuckets(21000, 2, 10),
		}),
	}
}

// ChainMetrics covers the node connection.
type ChainMetrics struct {
	Requests    *prometheus.CounterVec
	Errors      *prometheus.CounterVec
	Reconnects  *prometheus.CounterVec
	RateLimited prometheus.Counter
	Head        prometheus.Gauge
	BaseFee     prometheus.Gauge
}

func NewChainMetrics(reg prometheus.Registerer, namespace string) *ChainMetrics {
	f := promauto.With(reg)
	return &ChainMetrics{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_requests_total",
			Help:      "RPC requests by method",
		}, []string{"method"}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_errors_total",
			Help:      "RPC errors by method and class",
		}, []string{"method", "class"}),
		Reconnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Total number of resubscription attempts by stream",
		}, []string{"stream"}),
		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests that timed out waiting on the local rate limiter",
		}),
		Head: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "head_block",
			Help:      "Latest observed block number",
		}),
		BaseFee: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "base_fee_gwei",
			Help:      "Base fee of the latest observed block",
		}),
	}
}
