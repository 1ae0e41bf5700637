package triage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// flakyQueue fails while failing is set and records what it accepted
type flakyQueue struct {
	mu       sync.Mutex
	failing  bool
	calls    int
	accepted []Job
	block    chan struct{}
}

func (q *flakyQueue) Enqueue(ctx context.Context, job Job) error {
	if q.block != nil {
		<-q.block
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	if q.failing {
		return errors.New("connection refused")
	}
	q.accepted = append(q.accepted, job)
	return nil
}

func (q *flakyQueue) snapshot() (int, int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls, len(q.accepted)
}

func stopDispatcher(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Stop(ctx))
}

func TestDispatcher_DeliversToRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	q := NewRedisQueue(mr.Addr(), "", 0, 4, "test:triage", nil)
	defer q.Close()

	d, err := NewDispatcher(q, DefaultDispatcherConfig(), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	d.Start()

	d.Trigger(context.Background(), "Indicator", "i1", "alice")
	d.Trigger(context.Background(), "Indicator", "i2", "alice")
	stopDispatcher(t, d)

	n, err := q.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestDispatcher_TriggerBeforeStartDrops(t *testing.T) {
	q := &flakyQueue{}
	d, err := NewDispatcher(q, DefaultDispatcherConfig(), nil)
	require.NoError(t, err)

	assert.NotPanics(t, func() { d.Trigger(context.Background(), "Indicator", "i1", "alice") })
	assert.ErrorIs(t, d.Submit(Job{}), ErrDispatcherNotRunning)
	calls, _ := q.snapshot()
	assert.Zero(t, calls)
}

func TestDispatcher_BacklogFullDoesNotBlock(t *testing.T) {
	q := &flakyQueue{block: make(chan struct{})}
	cfg := DefaultDispatcherConfig()
	cfg.Workers = 1
	cfg.Backlog = 1
	d, err := NewDispatcher(q, cfg, nil)
	require.NoError(t, err)
	d.Start()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Trigger(context.Background(), "Indicator", "i", "alice")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Trigger blocked on a full backlog")
	}

	close(q.block)
	stopDispatcher(t, d)
	_, accepted := q.snapshot()
	assert.LessOrEqual(t, accepted, 2)
}

func TestDispatcher_BreakerOpensAfterFailures(t *testing.T) {
	q := &flakyQueue{failing: true}
	cfg := DefaultDispatcherConfig()
	cfg.Workers = 1
	cfg.Breaker = BreakerConfig{MaxFailures: 2, Cooldown: time.Hour}
	d, err := NewDispatcher(q, cfg, nil)
	require.NoError(t, err)
	d.Start()

	for i := 0; i < 5; i++ {
		d.Trigger(context.Background(), "Indicator", "i", "alice")
	}
	stopDispatcher(t, d)

	calls, _ := q.snapshot()
	assert.Equal(t, 2, calls, "open breaker rejects without calling the queue")
	assert.Equal(t, BreakerOpen, d.BreakerState())
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b := newBreaker(BreakerConfig{MaxFailures: 1, Cooldown: time.Minute})
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return clock }

	require.NoError(t, b.allow())
	assert.Equal(t, BreakerOpen, b.failure())
	assert.ErrorIs(t, b.allow(), ErrBreakerOpen)

	clock = clock.Add(2 * time.Minute)
	require.NoError(t, b.allow(), "cooldown elapsed, one probe allowed")
	assert.ErrorIs(t, b.allow(), ErrBreakerOpen, "only one probe at a time")

	b.success()
	assert.Equal(t, BreakerClosed, b.current())
	assert.NoError(t, b.allow())
}

func TestBreakerConfig_Validate(t *testing.T) {
	assert.Error(t, BreakerConfig{}.Validate())
	assert.Error(t, BreakerConfig{MaxFailures: 1}.Validate())
	assert.NoError(t, DefaultBreakerConfig().Validate())

	_, err := NewDispatcher(&flakyQueue{}, DispatcherConfig{}, nil)
	assert.Error(t, err)
}
