package worker

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"mailbridge/pkg/apperr"
	"mailbridge/pkg/metrics"

	"github.com/go-pkgz/pool"
	"github.com/rs/zerolog"
)

const maxRetries = 3

// Processor runs one job.
type Processor interface {
	Process(ctx context.Context, msg *Message) error
}

// PoolConfig holds worker pool configuration.
type PoolConfig struct {
	Workers          int
	JobTimeout       time.Duration
	JobTimeoutByType map[JobType]time.Duration
	BatchSize        int
	WorkerChanSize   int
	BaseBackoff      time.Duration
}

// DefaultPoolConfig returns default pool configuration.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		Workers:        8,
		JobTimeout:     60 * time.Second,
		BatchSize:      1,
		WorkerChanSize: 100,
		BaseBackoff:    time.Second,
		JobTimeoutByType: map[JobType]time.Duration{
			JobSyncUser:    3 * time.Minute,
			JobSyncChannel: 3 * time.Minute,
			JobSyncBatch:   15 * time.Minute, // every eligible user, sequential batches
		},
	}
}

// Pool runs jobs on a go-pkgz/pool worker group with retry and a dead letter log.
type Pool struct {
	handler Processor
	config  *PoolConfig

	pool *pool.WorkerGroup[*Message]

	ctx    context.Context
	cancel context.CancelFunc

	metrics *PoolMetrics
	latency *metrics.LatencyRegistry
	log     zerolog.Logger

	dlq   chan *Message
	dlqWg sync.WaitGroup

	started  bool
	stopping atomic.Bool
	mu       sync.RWMutex
}

// PoolMetrics holds pool metrics.
type PoolMetrics struct {
	JobsProcessed  int64
	JobsFailed     int64
	JobsRetried    int64
	AvgProcessTime int64 // milliseconds
	QueueSize      int32
}

// messageWorker implements pool.Worker for Message processing.
type messageWorker struct {
	pool *Pool
}

func (w *messageWorker) Do(ctx context.Context, msg *Message) error {
	return w.pool.processJob(ctx, msg)
}

func NewPool(handler Processor, config *PoolConfig, log zerolog.Logger) *Pool {
	if config == nil {
		config = DefaultPoolConfig()
	}
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		handler: handler,
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
		metrics: &PoolMetrics{},
		latency: metrics.NewLatencyRegistry(200),
		log:     log.With().Str("component", "worker_pool").Logger(),
		dlq:     make(chan *Message, 100),
	}
}

// Start starts the worker pool.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}

	p.pool = pool.New[*Message](p.config.Workers, &messageWorker{pool: p}).
		WithBatchSize(p.config.BatchSize).
		WithWorkerChanSize(p.config.WorkerChanSize).
		WithContinueOnError()

	if err := p.pool.Go(p.ctx); err != nil {
		p.log.Error().Err(err).Msg("failed to start pool")
		return
	}
	p.started = true

	p.dlqWg.Add(1)
	go p.dlqProcessor()
	go p.metricsReporter()

	p.log.Info().Int("workers", p.config.Workers).Msg("worker pool started")
}

// Stop drains submitted jobs for up to 30 seconds, then stops the pool.
func (p *Pool) Stop() {
	p.log.Info().Msg("stopping worker pool...")

	// new submits are refused from here; Lock waits only for sends already in flight
	p.stopping.Store(true)
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer closeCancel()

	if err := p.pool.Close(closeCtx); err != nil {
		p.log.Warn().Err(err).Msg("error closing pool")
	}

	p.cancel()
	close(p.dlq)
	p.dlqWg.Wait()

	p.log.Info().
		Int64("processed", atomic.LoadInt64(&p.metrics.JobsProcessed)).
		Int64("failed", atomic.LoadInt64(&p.metrics.JobsFailed)).
		Msg("worker pool stopped")
}

// Submit queues a job. It reports false once the pool is stopped.
// The send may block while worker channels are full.
func (p *Pool) Submit(msg *Message) bool {
	if p.stopping.Load() {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.started || p.pool == nil {
		return false
	}

	p.pool.Submit(msg)
	atomic.AddInt32(&p.metrics.QueueSize, 1)
	return true
}

func (p *Pool) getJobTimeout(jobType JobType) time.Duration {
	if timeout, ok := p.config.JobTimeoutByType[jobType]; ok {
		return timeout
	}
	return p.config.JobTimeout
}

// processJob runs one job under its timeout. Retryable failures are resubmitted with
// exponential backoff and jitter; everything else goes to the dead letter log.
// The pool keeps running either way.
func (p *Pool) processJob(ctx context.Context, msg *Message) error {
	start := time.Now()
	defer atomic.AddInt32(&p.metrics.QueueSize, -1)

	timeout := p.getJobTimeout(msg.Type)
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := p.handler.Process(jobCtx, msg)
	if err != nil && errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		p.log.Warn().
			Str("job_id", msg.ID).
			Str("job_type", msg.Type).
			Dur("timeout", timeout).
			Msg("job timed out")
		err = apperr.Timeout(msg.Type)
	}

	elapsed := time.Since(start)
	p.updateAvgProcessTime(elapsed.Milliseconds())
	p.latency.Record(msg.Type, elapsed)

	if err == nil {
		atomic.AddInt64(&p.metrics.JobsProcessed, 1)
		return nil
	}

	p.log.Error().
		Err(err).
		Str("job_id", msg.ID).
		Str("job_type", msg.Type).
		Int("retries", msg.Retries).
		Msg("job processing failed")

	if apperr.IsRetryable(err) && msg.Retries < maxRetries && ctx.Err() == nil {
		msg.Retries++
		atomic.AddInt64(&p.metrics.JobsRetried, 1)
		time.AfterFunc(p.backoff(msg.Retries), func() {
			if !p.Submit(msg) {
				p.log.Warn().Str("job_id", msg.ID).Msg("retry dropped, pool stopped")
			}
		})
		return nil
	}

	atomic.AddInt64(&p.metrics.JobsFailed, 1)
	p.deadLetter(msg)
	return nil
}

// backoff is base * 2^retries plus up to 500ms of jitter.
func (p *Pool) backoff(retries int) time.Duration {
	jitter := time.Duration(rand.Intn(500)) * time.Millisecond
	return p.config.BaseBackoff*time.Duration(1<<retries) + jitter
}

func (p *Pool) deadLetter(msg *Message) {
	defer func() {
		// dlq closed during shutdown
		if recover() != nil {
			p.log.Error().Str("job_id", msg.ID).Msg("DLQ: job lost during shutdown")
		}
	}()
	select {
	case p.dlq <- msg:
	default:
		p.log.Error().Str("job_id", msg.ID).Msg("DLQ full, job lost")
	}
}

func (p *Pool) updateAvgProcessTime(elapsed int64) {
	current := atomic.LoadInt64(&p.metrics.AvgProcessTime)
	if current == 0 {
		atomic.StoreInt64(&p.metrics.AvgProcessTime, elapsed)
		return
	}
	atomic.StoreInt64(&p.metrics.AvgProcessTime, (current*9+elapsed)/10)
}

func (p *Pool) dlqProcessor() {
	defer p.dlqWg.Done()

	for msg := range p.dlq {
		p.log.Error().
			Str("job_id", msg.ID).
			Str("job_type", msg.Type).
			Int("retries", msg.Retries).
			Interface("payload", msg.Payload).
			Msg("DLQ: job permanently failed")
	}
}

func (p *Pool) metricsReporter() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			m := p.GetMetrics()
			p.log.Info().
				Int64("processed", m.JobsProcessed).
				Int64("failed", m.JobsFailed).
				Int64("retried", m.JobsRetried).
				Int64("avg_process_ms", m.AvgProcessTime).
				Int32("queue_size", m.QueueSize).
				Msg("worker pool metrics")

			for jobType, st := range p.latency.AllStats() {
				p.log.Info().
					Str("job_type", jobType).
					Int64("count", st.Count).
					Dur("p50", st.P50).
					Dur("p95", st.P95).
					Dur("p99", st.P99).
					Msg("job latency")
			}
		}
	}
}

// GetMetrics returns current pool metrics.
func (p *Pool) GetMetrics() PoolMetrics {
	return PoolMetrics{
		JobsProcessed:  atomic.LoadInt64(&p.metrics.JobsProcessed),
		JobsFailed:     atomic.LoadInt64(&p.metrics.JobsFailed),
		JobsRetried:    atomic.LoadInt64(&p.metrics.JobsRetried),
		AvgProcessTime: atomic.LoadInt64(&p.metrics.AvgProcessTime),
		QueueSize:      atomic.LoadInt32(&p.metrics.QueueSize),
	}
}
