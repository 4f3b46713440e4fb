package ingest

import (
	"context"
	"errors"
	"time"

	"mailbridge/core/domain"
	"mailbridge/core/port/in"
	"mailbridge/core/port/out"
	"mailbridge/pkg/apperr"
	"mailbridge/pkg/logger"

	"github.com/google/uuid"
)

// Options tune the orchestrator.
type Options struct {
	DefaultKeywords []string
	MaxResults      int
	BatchWorkers    int
	FetchTimeout    time.Duration
}

// DefaultOptions returns the defaults used when a field is left zero.
func DefaultOptions() Options {
	return Options{
		MaxResults:   50,
		BatchWorkers: 4,
		FetchTimeout: 30 * time.Second,
	}
}

// SyncStore is the slice of the Store the orchestrator needs.
type SyncStore interface {
	out.KeyReader
	out.RecordWriter
	out.CredentialStore
	ListEligibleUsers(ctx context.Context) ([]*domain.User, error)
}

// Orchestrator runs fetch, normalize, confirm, dedup and commit for a target.
type Orchestrator struct {
	source    out.MailSource
	store     SyncStore
	matcher   *KeywordMatcher
	publisher out.RecordPublisher
	opts      Options
}

func NewOrchestrator(source out.MailSource, store SyncStore, matcher *KeywordMatcher, publisher out.RecordPublisher, opts Options) *Orchestrator {
	def := DefaultOptions()
	if opts.MaxResults <= 0 {
		opts.MaxResults = def.MaxResults
	}
	if opts.BatchWorkers <= 0 {
		opts.BatchWorkers = def.BatchWorkers
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = def.FetchTimeout
	}
	if matcher == nil {
		matcher = NewKeywordMatcher(false)
	}
	return &Orchestrator{
		source:    source,
		store:     store,
		matcher:   matcher,
		publisher: publisher,
		opts:      opts,
	}
}

// DefaultKeywords returns the keyword set used for personal and batch syncs.
func (o *Orchestrator) DefaultKeywords() []string {
	return o.opts.DefaultKeywords
}

// Run syncs one user or channel target. The returned error is non-nil when the run was
// rejected or aborted before commit; the report still describes what happened.
func (o *Orchestrator) Run(ctx context.Context, target domain.SyncTarget, creds domain.Credentials, keywords []string, maxResults int) (*domain.SyncReport, error) {
	report := &domain.SyncReport{Target: target}

	query, err := o.matcher.BuildQuery(keywords)
	if err != nil {
		return report, err
	}
	if target.Scope != domain.ScopeUser && target.Scope != domain.ScopeChannel {
		return report, apperr.InvalidConfiguration("mailbox sync requires a user or channel target")
	}
	if err := target.Validate(); err != nil {
		return report, apperr.InvalidConfiguration(err.Error())
	}
	if maxResults <= 0 {
		maxResults = o.opts.MaxResults
	}

	start := time.Now()

	// 1. Fetch
	raws, err := o.fetch(ctx, creds, query, maxResults)
	if err != nil {
		ae := apperr.AsAppError(err)
		report.AddError(target.String(), ae.Code, ae.Message)
		logger.WithContext(ctx).WithError(err).Warn("[Orchestrator.Run] %s fetch failed: %s", target, ae.Code)
		return report, ae
	}
	report.Found = len(raws)

	// 2. Normalize, 3. Confirm
	candidates := make([]domain.NormalizedMessage, 0, len(raws))
	for _, raw := range raws {
		msg := Normalize(raw)
		if !o.matcher.Matches(msg, keywords) {
			continue
		}
		candidates = append(candidates, msg)
	}
	report.Confirmed = len(candidates)

	// 4. Dedup
	existing, err := o.store.ReadExistingKeys(ctx, target)
	if err != nil {
		ae := apperr.AsAppError(err)
		report.AddError(target.String(), ae.Code, ae.Message)
		return report, ae
	}
	fresh := FilterNew(candidates, existing)
	report.NewCount = len(fresh)

	// 5. Commit
	for _, msg := range fresh {
		o.commit(ctx, target, msg, report)
	}

	logger.WithContext(ctx).WithDuration(time.Since(start)).Info("[Orchestrator.Run] %s found=%d confirmed=%d new=%d saved=%d duplicates=%d errors=%d",
		target, report.Found, report.Confirmed, report.NewCount, report.SavedCount, report.Duplicates, len(report.Errors))

	return report, nil
}

// SyncUser runs a personal sync with the default keywords and the user's stored credentials.
func (o *Orchestrator) SyncUser(ctx context.Context, userID uuid.UUID, maxResults int) (*domain.SyncReport, error) {
	return o.syncStored(ctx, domain.UserTarget(userID), userID, o.opts.DefaultKeywords, maxResults)
}

// SyncChannel runs a channel sync with the channel keywords and the owner's credentials.
func (o *Orchestrator) SyncChannel(ctx context.Context, channel *domain.Channel, maxResults int) (*domain.SyncReport, error) {
	return o.syncStored(ctx, domain.ChannelTarget(channel.OwnerID, channel.ID), channel.OwnerID, channel.Keywords, maxResults)
}

func (o *Orchestrator) syncStored(ctx context.Context, target domain.SyncTarget, userID uuid.UUID, keywords []string, maxResults int) (*domain.SyncReport, error) {
	report := &domain.SyncReport{Target: target}
	if _, err := o.matcher.BuildQuery(keywords); err != nil {
		return report, err
	}

	creds, err := o.store.ReadCredentials(ctx, userID)
	if err != nil {
		ae := apperr.AsAppError(err)
		report.AddError(target.String(), ae.Code, ae.Message)
		return report, ae
	}
	if creds.AccessToken == "" && !creds.HasRefresh() {
		ae := apperr.CredentialExpired("gmail", nil)
		report.AddError(target.String(), ae.Code, "mailbox not connected")
		return report, ae
	}
	return o.Run(ctx, target, creds, keywords, maxResults)
}

// Accept dedups and commits one already-formed message, as delivered by a webhook.
func (o *Orchestrator) Accept(ctx context.Context, target domain.SyncTarget, msg domain.NormalizedMessage) (*domain.SyncReport, error) {
	report := &domain.SyncReport{Target: target, Found: 1, Confirmed: 1}
	if target.Scope == domain.ScopeAll {
		return report, apperr.InvalidConfiguration("webhook delivery requires a single target")
	}
	if err := target.Validate(); err != nil {
		return report, apperr.InvalidConfiguration(err.Error())
	}

	msg.BodyText = CleanBody(msg.BodyText)
	if msg.Snippet == "" {
		msg.Snippet = truncate(msg.BodyText, domain.MaxSnippetLength)
	}

	existing, err := o.store.ReadExistingKeys(ctx, target)
	if err != nil {
		return report, apperr.AsAppError(err)
	}
	if existing.Contains(msg) {
		report.Duplicates = 1
		return report, nil
	}

	report.NewCount = 1
	o.commit(ctx, target, msg, report)
	return report, nil
}

func (o *Orchestrator) fetch(ctx context.Context, creds domain.Credentials, query string, maxResults int) ([]domain.RawMessage, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, o.opts.FetchTimeout)
	defer cancel()

	raws, err := o.source.Search(fetchCtx, creds, query, maxResults)
	if err != nil {
		if errors.Is(fetchCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil &&
			apperr.CodeOf(err) != apperr.CodeCredentialExpired {
			return nil, apperr.Timeout("mail search").WithError(err)
		}
		return nil, err
	}
	return raws, nil
}

func (o *Orchestrator) commit(ctx context.Context, target domain.SyncTarget, msg domain.NormalizedMessage, report *domain.SyncReport) {
	rec := domain.NewPublishedRecord(target, msg)

	id, err := o.store.Insert(ctx, rec)
	switch {
	case errors.Is(err, apperr.ErrConflict):
		report.Duplicates++
		return
	case err != nil:
		ae := apperr.AsAppError(err)
		report.AddError(itemID(msg), ae.Code, ae.Message)
		logger.WithContext(ctx).WithError(err).Warn("[Orchestrator.commit] %s insert failed for %q", target, msg.Subject)
		return
	}

	rec.ID = id
	report.SavedCount++

	if o.publisher != nil {
		if err := o.publisher.PublishRecord(ctx, rec); err != nil {
			logger.WithError(err).Warn("[Orchestrator.commit] publish event failed for record %s", id)
		}
	}
}

func itemID(msg domain.NormalizedMessage) string {
	if msg.ProviderID != "" {
		return msg.ProviderID
	}
	return msg.Subject
}

var _ in.SyncService = (*Orchestrator)(nil)
