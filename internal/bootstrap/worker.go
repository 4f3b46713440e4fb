package bootstrap

import (
	"context"
	"errors"
	"os"
	"sync"

	"mailbridge/adapter/in/worker"
	"mailbridge/internal/stream"
	"mailbridge/pkg/apperr"

	"github.com/rs/zerolog"
)

type Worker struct {
	pool      *worker.Pool
	consumer  *stream.Consumer
	scheduler *worker.SyncScheduler
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	zlog      zerolog.Logger
}

// NewWorker wires the job consumer. It needs Redis for the stream.
func NewWorker(deps *Dependencies) (*Worker, error) {
	if deps.Stream == nil {
		return nil, apperr.InvalidConfiguration("worker requires REDIS_URL")
	}
	cfg := deps.Config

	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		With().Timestamp().Str("component", "worker").Logger()

	handler := worker.NewHandler(deps.Orchestrator, deps.Store, deps.Locker, deps.Producer, cfg.SyncMaxResults)

	poolConfig := worker.DefaultPoolConfig()
	if cfg.WorkerCount > 0 {
		poolConfig.Workers = cfg.WorkerCount
	}
	pool := worker.NewPool(handler, poolConfig, zlog)

	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		pool:     pool,
		consumer: stream.NewConsumer(deps.Stream, pool, cfg.WorkerID),
		ctx:      ctx,
		cancel:   cancel,
		zlog:     zlog,
	}

	if cfg.SchedulerEnabled {
		w.scheduler = worker.NewSyncScheduler(deps.Producer, cfg.SyncInterval, true)
	}
	return w, nil
}

// Start blocks until Stop is called.
func (w *Worker) Start() {
	w.pool.Start()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.zlog.Info().Msg("Starting Redis Stream Consumer...")
		if err := w.consumer.Run(w.ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.zlog.Error().Err(err).Msg("Redis Stream Consumer error")
		}
	}()

	if w.scheduler != nil {
		w.scheduler.Start()
		w.zlog.Info().Msg("Started Sync Scheduler")
	}

	<-w.ctx.Done()
}

func (w *Worker) Stop() {
	if w.scheduler != nil {
		w.scheduler.Stop()
	}
	w.cancel()
	w.wg.Wait()
	w.pool.Stop()
}
