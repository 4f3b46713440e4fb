package ingest

import (
	"context"
	"time"

	"mailbridge/core/domain"
	"mailbridge/pkg/apperr"
	"mailbridge/pkg/logger"

	"github.com/go-pkgz/pool"
)

// batchItem is one user slot of a batch run.
type batchItem struct {
	idx  int
	user *domain.User
}

// batchWorker implements pool.Worker for per-user syncs.
type batchWorker struct {
	o          *Orchestrator
	keywords   []string
	maxResults int
	results    []domain.UserReport
	done       []bool
}

// Do runs one user. Failures are recorded in the user's entry and never returned,
// so one user cannot stop the group.
func (w *batchWorker) Do(ctx context.Context, item batchItem) error {
	entry := domain.UserReport{UserID: item.user.ID, Email: item.user.Email}
	defer func() {
		w.results[item.idx] = entry
		w.done[item.idx] = true
	}()

	if ctx.Err() != nil {
		ae := apperr.Cancelled("batch sync")
		entry.Error = &domain.ItemError{Item: item.user.ID.String(), Code: ae.Code, Reason: ae.Message}
		return nil
	}

	report, err := w.o.syncStored(ctx, domain.UserTarget(item.user.ID), item.user.ID, w.keywords, w.maxResults)
	if report != nil {
		entry.Report = *report
	}
	if err != nil {
		ae := apperr.AsAppError(err)
		entry.Error = &domain.ItemError{Item: item.user.ID.String(), Code: ae.Code, Reason: ae.Message}
		logger.WithField("user_id", item.user.ID).Warn("[Orchestrator.RunBatch] %s skipped: %s", item.user.Email, ae.Code)
	}
	return nil
}

// RunBatch syncs every user holding a refresh token on a bounded worker pool.
// Cancelling ctx stops dispatch; users not reached are reported as cancelled.
func (o *Orchestrator) RunBatch(ctx context.Context, keywords []string, maxResults int) (*domain.BatchReport, error) {
	batch := &domain.BatchReport{}

	if _, err := o.matcher.BuildQuery(keywords); err != nil {
		return batch, err
	}

	users, err := o.store.ListEligibleUsers(ctx)
	if err != nil {
		return batch, apperr.AsAppError(err)
	}
	if len(users) == 0 {
		logger.Info("[Orchestrator.RunBatch] no eligible users")
		return batch, nil
	}

	start := time.Now()
	logger.Info("[Orchestrator.RunBatch] syncing %d users with %d workers", len(users), o.opts.BatchWorkers)

	worker := &batchWorker{
		o:          o,
		keywords:   keywords,
		maxResults: maxResults,
		results:    make([]domain.UserReport, len(users)),
		done:       make([]bool, len(users)),
	}

	workers := o.opts.BatchWorkers
	if workers > len(users) {
		workers = len(users)
	}

	// the channel holds every user so Submit never blocks after cancellation
	p := pool.New[batchItem](workers, worker).
		WithWorkerChanSize(len(users)).
		WithContinueOnError()

	if ctx.Err() == nil {
		if err := p.Go(ctx); err != nil {
			return batch, apperr.InternalWithError(err)
		}

		for i, u := range users {
			if ctx.Err() != nil {
				break
			}
			p.Submit(batchItem{idx: i, user: u})
		}

		if err := p.Close(ctx); err != nil && ctx.Err() == nil {
			logger.WithError(err).Warn("[Orchestrator.RunBatch] pool closed with error")
		}
	}

	for i, u := range users {
		entry := worker.results[i]
		if !worker.done[i] {
			ae := apperr.Cancelled("batch sync")
			entry = domain.UserReport{
				UserID: u.ID,
				Email:  u.Email,
				Error:  &domain.ItemError{Item: u.ID.String(), Code: ae.Code, Reason: ae.Message},
			}
		}
		batch.TotalSynced += entry.Report.SavedCount
		batch.Users = append(batch.Users, entry)
	}

	logger.WithDuration(time.Since(start)).Info("[Orchestrator.RunBatch] done: users=%d total_synced=%d failed=%d",
		len(users), batch.TotalSynced, len(batch.Errors()))

	return batch, nil
}
