package mempool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/mevsearcher/chain"
	"github.com/michaelpento.lv/mevsearcher/utils/metrics"
	"github.com/michaelpento.lv/mevsearcher/utils/testutils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var router = common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")

type result struct {
	tx  *Transaction
	err error
}

func newMonitor(t *testing.T, mc *testutils.MockChain, retries int) (*Monitor, *metrics.PipelineMetrics) {
	pm := metrics.NewPipelineMetrics(prometheus.NewRegistry(), "test")
	m, err := NewMonitor(mc, Config{
		CacheSize: 16,
		Stream: chain.StreamConfig{
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
			MaxRetries:     retries,
		},
	}, nil, pm, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m, pm
}

// run pulls from m until ctx ends and forwards everything it gets.
func run(ctx context.Context, m *Monitor) <-chan result {
	out := make(chan result, 16)
	go func() {
		defer close(out)
		for {
			tx, err := m.Next(ctx)
			out <- result{tx, err}
			if err != nil {
				return
			}
		}
	}()
	return out
}

func waitSubscribed(t *testing.T, mc *testutils.MockChain) {
	require.Eventually(t, func() bool {
		pending, _ := mc.Subscribers()
		return pending > 0
	}, time.Second, time.Millisecond)
}

func next(t *testing.T, out <-chan result) result {
	select {
	case r := <-out:
		return r
	case <-time.After(time.Second):
		t.Fatal("no result from monitor")
		return result{}
	}
}

func TestMonitorDeliversPendingOnce(t *testing.T) {
	mc := testutils.NewMockChain()
	m, pm := newMonitor(t, mc, 3)
	key := testutils.NewKey(t)

	first := testutils.SignedTx(t, key, 0, router, nil, nil)
	second := testutils.SignedTx(t, key, 1, router, nil, nil)
	mc.AddPending(first)
	mc.AddPending(second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := run(ctx, m)
	waitSubscribed(t, mc)

	mc.PushPending(ctx, first.Hash())
	mc.PushPending(ctx, first.Hash())
	mc.PushPending(ctx, second.Hash())

	r := next(t, out)
	require.NoError(t, r.err)
	assert.Equal(t, first.Hash(), r.tx.Hash())
	assert.False(t, r.tx.FirstSeen.IsZero())

	r = next(t, out)
	require.NoError(t, r.err)
	assert.Equal(t, second.Hash(), r.tx.Hash())

	assert.True(t, m.Seen(first.Hash()))
	assert.Equal(t, float64(3), testutil.ToFloat64(pm.Events.WithLabelValues("mempool")))
}

func TestMonitorSkipsUnknownAndMined(t *testing.T) {
	mc := testutils.NewMockChain()
	m, _ := newMonitor(t, mc, 3)
	key := testutils.NewKey(t)

	mined := testutils.SignedTx(t, key, 0, router, nil, nil)
	mc.AddPending(mined)
	mc.Mine(mined.Hash(), 1, 21000)
	live := testutils.SignedTx(t, key, 1, router, nil, nil)
	mc.AddPending(live)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := run(ctx, m)
	waitSubscribed(t, mc)

	mc.PushPending(ctx, common.HexToHash("0xdead"))
	mc.PushPending(ctx, mined.Hash())
	mc.PushPending(ctx, live.Hash())

	r := next(t, out)
	require.NoError(t, r.err)
	assert.Equal(t, live.Hash(), r.tx.Hash())
}

func TestMonitorResubscribesAfterDrop(t *testing.T) {
	mc := testutils.NewMockChain()
	m, _ := newMonitor(t, mc, 3)
	tx := testutils.SignedTx(t, testutils.NewKey(t), 0, router, nil, nil)
	mc.AddPending(tx)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := run(ctx, m)
	waitSubscribed(t, mc)

	mc.DropSubscriptions(errors.New("connection reset"))
	waitSubscribed(t, mc)
	mc.PushPending(ctx, tx.Hash())

	r := next(t, out)
	require.NoError(t, r.err)
	assert.Equal(t, tx.Hash(), r.tx.Hash())
}

func TestMonitorGivesUp(t *testing.T) {
	mc := testutils.NewMockChain()
	mc.FailSubscriptions(errors.New("dial tcp: connection refused"))
	m, _ := newMonitor(t, mc, 2)

	_, err := m.Next(context.Background())
	assert.ErrorIs(t, err, chain.ErrRetriesExhausted)
}

func TestMonitorStopsOnCancel(t *testing.T) {
	mc := testutils.NewMockChain()
	m, _ := newMonitor(t, mc, 3)

	ctx, cancel := context.WithCancel(context.Background())
	out := run(ctx, m)
	waitSubscribed(t, mc)
	cancel()

	r := next(t, out)
	assert.ErrorIs(t, r.err, context.Canceled)
}
