package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/michaelpento.lv/mevsearcher/utils/metrics"
	"go.uber.org/zap"
)

// SubscribeFunc opens a subscription delivering into ch.
type SubscribeFunc[T any] func(ctx context.Context, ch chan<- T) (ethereum.Subscription, error)

// StreamConfig controls resubscription.
type StreamConfig struct {
	// InitialBackoff is the first wait after a drop.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxRetries is the number of consecutive failed attempts tolerated
	// before Next gives up with ErrRetriesExhausted.
	MaxRetries int
	Buffer     int
}

// Stream turns a node subscription into a pull iterator that resubscribes
// with exponential backoff. The failure count resets after every delivered
// item. A Stream is not safe for concurrent use.
type Stream[T any] struct {
	name      string
	subscribe SubscribeFunc[T]
	cfg       StreamConfig
	backoff   backoff.BackOff
	metrics   *metrics.ChainMetrics
	logger    *zap.Logger

	ch       chan T
	sub      ethereum.Subscription
	retrying bool
}

func NewStream[T any](name string, subscribe SubscribeFunc[T], cfg StreamConfig, m *metrics.ChainMetrics, logger *zap.Logger) *Stream[T] {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = cfg.InitialBackoff
	exp.MaxInterval = cfg.MaxBackoff
	exp.MaxElapsedTime = 0

	var bo backoff.BackOff = exp
	if cfg.MaxRetries > 0 {
		bo = backoff.WithMaxRetries(exp, uint64(cfg.MaxRetries))
	}

	return &Stream[T]{
		name:      name,
		subscribe: subscribe,
		cfg:       cfg,
		backoff:   bo,
		metrics:   m,
		logger:    logger.Named("stream").With(zap.String("stream", name)),
	}
}

// Next blocks until an item arrives, ctx is done, or resubscription gives up.
func (s *Stream[T]) Next(ctx context.Context) (T, error) {
	var zero T
	for {
		if s.sub == nil {
			if err := s.connect(ctx); err != nil {
				return zero, err
			}
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case v := <-s.ch:
			if s.retrying {
				s.retrying = false
				s.backoff.Reset()
			}
			return v, nil
		case err := <-s.sub.Err():
			s.sub.Unsubscribe()
			s.sub = nil
			s.retrying = true
			s.logger.Warn("Subscription dropped", zap.Error(err))
		}
	}
}

func (s *Stream[T]) connect(ctx context.Context) error {
	for {
		if s.retrying {
			wait := s.backoff.NextBackOff()
			if wait == backoff.Stop {
				return fmt.Errorf("%w: %s after %d attempts", ErrRetriesExhausted, s.name, s.cfg.MaxRetries)
			}
			if s.metrics != nil {
				s.metrics.Reconnects.WithLabelValues(s.name).Inc()
			}
			s.logger.Info("Resubscribing", zap.Duration("backoff", wait))

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		ch := make(chan T, s.cfg.Buffer)
		sub, err := s.subscribe(ctx, ch)
		if err == nil {
			s.ch, s.sub = ch, sub
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.retrying = true
		s.logger.Warn("Subscribe failed", zap.Error(err), zap.Bool("retryable", IsRetryable(err)))
	}
}

// Close drops the current subscription.
func (s *Stream[T]) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
		s.sub = nil
	}
}
