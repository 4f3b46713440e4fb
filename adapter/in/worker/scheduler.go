package worker

import (
	"context"
	"time"

	"mailbridge/pkg/logger"
)

const schedulerStartDelay = 30 * time.Second

// SyncScheduler queues a batch sync on a fixed interval.
type SyncScheduler struct {
	jobs       Enqueuer
	interval   time.Duration
	startDelay time.Duration
	fanOut     bool
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

func NewSyncScheduler(jobs Enqueuer, interval time.Duration, fanOut bool) *SyncScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &SyncScheduler{
		jobs:       jobs,
		interval:   interval,
		startDelay: schedulerStartDelay,
		fanOut:     fanOut,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

func (s *SyncScheduler) Start() {
	logger.Info("[SyncScheduler] Starting with interval %v", s.interval)
	go s.run()
}

func (s *SyncScheduler) Stop() {
	logger.Info("[SyncScheduler] Stopping...")
	s.cancel()
	<-s.done
}

func (s *SyncScheduler) run() {
	defer close(s.done)

	// let the consumers come up first
	select {
	case <-s.ctx.Done():
		return
	case <-time.After(s.startDelay):
	}
	s.enqueue()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			logger.Info("[SyncScheduler] Stopped")
			return
		case <-ticker.C:
			s.enqueue()
		}
	}
}

func (s *SyncScheduler) enqueue() {
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()

	msg := NewSyncBatchMessage(s.fanOut)
	if err := s.jobs.Enqueue(ctx, msg); err != nil {
		logger.WithError(err).Error("[SyncScheduler] Failed to enqueue batch sync")
		return
	}
	logger.Info("[SyncScheduler] Queued batch sync %s", msg.ID)
}

// SetStartDelay overrides the initial delay (for testing).
func (s *SyncScheduler) SetStartDelay(d time.Duration) {
	s.startDelay = d
}
