package triage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"crits/metrics"

	"go.uber.org/zap"
)

// Enqueuer accepts triage jobs. RedisQueue is the production implementation.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) error
}

// DispatcherConfig sizes the dispatcher
type DispatcherConfig struct {
	Workers        int
	Backlog        int
	EnqueueTimeout time.Duration
	Breaker        BreakerConfig
}

// DefaultDispatcherConfig returns the defaults used by the server
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers:        2,
		Backlog:        1024,
		EnqueueTimeout: 2 * time.Second,
		Breaker:        DefaultBreakerConfig(),
	}
}

// Dispatcher hands triage jobs to the queue without blocking the caller.
// Jobs go into a bounded in-process backlog drained by a few workers; when
// the backlog is full or the queue is failing, jobs are dropped and counted.
type Dispatcher struct {
	queue   Enqueuer
	cfg     DispatcherConfig
	breaker *breaker
	jobs    chan Job
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
	logger  *zap.SugaredLogger
	now     func() time.Time
}

// NewDispatcher creates a dispatcher. Call Start before triggering jobs.
func NewDispatcher(queue Enqueuer, cfg DispatcherConfig, logger *zap.SugaredLogger) (*Dispatcher, error) {
	if queue == nil {
		return nil, fmt.Errorf("triage queue is required")
	}
	if err := cfg.Breaker.Validate(); err != nil {
		return nil, fmt.Errorf("invalid triage breaker config: %w", err)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Backlog <= 0 {
		cfg.Backlog = DefaultDispatcherConfig().Backlog
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = DefaultDispatcherConfig().EnqueueTimeout
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Dispatcher{
		queue:   queue,
		cfg:     cfg,
		breaker: newBreaker(cfg.Breaker),
		jobs:    make(chan Job, cfg.Backlog),
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Start launches the workers
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true
	d.logger.Infow("Starting triage dispatcher", "workers", d.cfg.Workers, "backlog", d.cfg.Backlog)
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
}

// Stop closes the backlog and waits for workers to drain it, up to ctx's deadline
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	close(d.jobs)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Infow("Triage dispatcher stopped")
		return nil
	case <-ctx.Done():
		d.logger.Errorw("Triage dispatcher shutdown timed out", "pending", len(d.jobs))
		return ctx.Err()
	}
}

// Submit queues a job for dispatch without blocking
func (d *Dispatcher) Submit(job Job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.running {
		return ErrDispatcherNotRunning
	}
	select {
	case d.jobs <- job:
		return nil
	default:
		return ErrBacklogFull
	}
}

// Trigger schedules triage of a newly created object. It never blocks and
// never fails the caller; dropped jobs are logged and counted.
func (d *Dispatcher) Trigger(ctx context.Context, objectType, objectID, analyst string) {
	job := NewJob(objectType, objectID, analyst, d.now())
	if err := d.Submit(job); err != nil {
		metrics.TriageJobs.WithLabelValues("dropped").Inc()
		d.logger.Warnw("Dropping triage job",
			"object_type", objectType,
			"object_id", objectID,
			"error", err)
	}
}

// BreakerState reports the queue circuit breaker state
func (d *Dispatcher) BreakerState() BreakerState {
	return d.breaker.current()
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for job := range d.jobs {
		d.dispatch(id, job)
	}
}

func (d *Dispatcher) dispatch(worker int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			metrics.TriageJobs.WithLabelValues(metrics.ResultFailure).Inc()
			d.logger.Errorw("Triage dispatch panicked", "worker_id", worker, "job_id", job.ID, "panic", r)
		}
	}()

	if err := d.breaker.allow(); err != nil {
		metrics.TriageJobs.WithLabelValues("rejected").Inc()
		d.logger.Debugw("Triage queue unavailable, job rejected", "job_id", job.ID, "object_id", job.ObjectID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.EnqueueTimeout)
	defer cancel()

	if err := d.queue.Enqueue(ctx, job); err != nil {
		state := d.breaker.failure()
		metrics.TriageJobs.WithLabelValues(metrics.ResultFailure).Inc()
		d.logger.Warnw("Failed to enqueue triage job",
			"worker_id", worker,
			"job_id", job.ID,
			"object_type", job.ObjectType,
			"object_id", job.ObjectID,
			"breaker", state,
			"error", err)
		return
	}
	d.breaker.success()
	metrics.TriageJobs.WithLabelValues("queued").Inc()
}
