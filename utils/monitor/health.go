// Package monitor watches the searcher from the outside: how old the head
// is and how much work is in flight.
package monitor

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Snapshot is what a probe reports on each check.
type Snapshot struct {
	Head       uint64
	HeadTime   time.Time
	InFlight   int
	NextNonce  uint64
	QueueDepth int
}

// Probe samples the running searcher. It must be safe to call from the
// monitor goroutine.
type Probe func() Snapshot

type Config struct {
	Interval time.Duration
	// StallAfter is the head age past which the chain is considered stalled.
	StallAfter time.Duration
}

// Health periodically samples a Probe, exports the head age and logs when
// the head stops advancing.
type Health struct {
	probe  Probe
	config Config
	logger *zap.Logger
	now    func() time.Time

	stalled bool
	metrics struct {
		headAge  prometheus.Gauge
		inFlight prometheus.Gauge
		stalls   prometheus.Counter
	}
}

func NewHealth(probe Probe, config Config, reg prometheus.Registerer, namespace string, logger *zap.Logger) *Health {
	f := promauto.With(reg)
	h := &Health{
		probe:  probe,
		config: config,
		logger: logger.Named("health"),
		now:    time.Now,
	}
	h.metrics.headAge = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "head_age_seconds",
		Help:      "Seconds since the timestamp of the current head",
	})
	h.metrics.inFlight = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "inflight_keys",
		Help:      "Opportunity keys currently held by the in-flight set",
	})
	h.metrics.stalls = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "head_stalls_total",
		Help:      "Times the head stopped advancing for longer than the stall limit",
	})
	return h
}

// Run checks on every interval until ctx is done.
func (h *Health) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.Check()
		}
	}
}

// Check samples the probe once and reports whether the head is stalled.
func (h *Health) Check() bool {
	s := h.probe()
	h.metrics.inFlight.Set(float64(s.InFlight))
	if s.Head == 0 {
		return false
	}

	age := h.now().Sub(s.HeadTime)
	h.metrics.headAge.Set(age.Seconds())

	fields := []zap.Field{
		zap.Uint64("head", s.Head),
		zap.Duration("head_age", age),
		zap.Int("in_flight", s.InFlight),
		zap.Uint64("next_nonce", s.NextNonce),
		zap.Int("queue_depth", s.QueueDepth),
	}
	switch stalled := age > h.config.StallAfter; {
	case stalled && !h.stalled:
		h.stalled = true
		h.metrics.stalls.Inc()
		h.logger.Warn("Head stopped advancing", fields...)
	case !stalled && h.stalled:
		h.stalled = false
		h.logger.Info("Head advancing again", fields...)
	default:
		h.logger.Debug("Heartbeat", fields...)
	}
	return h.stalled
}
