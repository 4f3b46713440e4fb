package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"mailbridge/core/domain"
	"mailbridge/pkg/apperr"

	"github.com/google/uuid"
)

const (
	date1 = "Mon, 01 Jan 2024 09:00:00 +0000"
	date2 = "Tue, 02 Jan 2024 09:00:00 +0000"
)

var keywords = []string{"[TIVING]", "notice"}

func setup() (*Orchestrator, *fakeSource, *fakeStore, uuid.UUID) {
	source := newFakeSource()
	store := newFakeStore()
	userID := uuid.New()
	store.creds[userID] = domain.Credentials{AccessToken: "tok-" + userID.String(), RefreshToken: "r"}
	o := NewOrchestrator(source, store, NewKeywordMatcher(false), nil, Options{DefaultKeywords: keywords})
	return o, source, store, userID
}

func TestRun_Idempotent(t *testing.T) {
	o, source, store, userID := setup()
	creds := store.creds[userID]
	source.messages[creds.AccessToken] = []domain.RawMessage{
		raw("m1", "[TIVING] first", date1),
		raw("m2", "[TIVING] second", date2),
	}
	target := domain.UserTarget(userID)

	first, err := o.Run(context.Background(), target, creds, keywords, 50)
	if err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	if first.NewCount != 2 || first.SavedCount != 2 {
		t.Fatalf("first run = %+v, want 2 new and 2 saved", first)
	}

	second, err := o.Run(context.Background(), target, creds, keywords, 50)
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if second.Found != 2 || second.NewCount != 0 || second.SavedCount != 0 {
		t.Errorf("second run = %+v, want found=2 new=0 saved=0", second)
	}
	if store.Count() != 2 {
		t.Errorf("store has %d records, want 2", store.Count())
	}
}

func TestRun_BatchInternalDuplicates(t *testing.T) {
	o, source, store, userID := setup()
	creds := store.creds[userID]
	source.messages[creds.AccessToken] = []domain.RawMessage{
		raw("m1", "[TIVING] same", date1),
		raw("m1", "[TIVING] same", date1),
		raw("", "notice legacy", date2),
		raw("", "notice legacy", date2),
	}

	report, err := o.Run(context.Background(), domain.UserTarget(userID), creds, keywords, 50)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.NewCount != 2 || report.SavedCount != 2 {
		t.Errorf("report = %+v, want 2 new and 2 saved", report)
	}
}

func TestRun_CrossRunProviderID(t *testing.T) {
	o, source, store, userID := setup()
	creds := store.creds[userID]
	uid := userID
	store.records = append(store.records, &domain.PublishedRecord{
		ID: uuid.New(), UserID: &uid, ProviderID: "m1", Subject: "[TIVING] original",
		Timestamp: "2024-01-01T09:00:00Z",
	})
	source.messages[creds.AccessToken] = []domain.RawMessage{raw("m1", "[TIVING] edited subject", date2)}

	report, err := o.Run(context.Background(), domain.UserTarget(userID), creds, keywords, 50)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.NewCount != 0 {
		t.Errorf("NewCount = %d, want 0", report.NewCount)
	}
}

func TestRun_DegradedKeys(t *testing.T) {
	o, source, store, userID := setup()
	creds := store.creds[userID]
	uid := userID
	store.records = append(store.records, &domain.PublishedRecord{
		ID: uuid.New(), UserID: &uid, Subject: "[TIVING] weekly", Timestamp: "2024-01-01T09:00:00Z",
	})
	source.messages[creds.AccessToken] = []domain.RawMessage{
		raw("m1", "[TIVING] weekly", date1), // same subject and time as the legacy record
		raw("m2", "[TIVING] weekly", date2), // resend
	}

	report, err := o.Run(context.Background(), domain.UserTarget(userID), creds, keywords, 50)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.NewCount != 1 || report.SavedCount != 1 {
		t.Fatalf("report = %+v, want exactly the resend", report)
	}
	last := store.records[len(store.records)-1]
	if last.ProviderID != "m2" {
		t.Errorf("saved %q, want m2", last.ProviderID)
	}
}

func TestRun_ConfigGuard(t *testing.T) {
	o, source, store, userID := setup()

	for _, kw := range [][]string{nil, {}, {"  "}} {
		_, err := o.Run(context.Background(), domain.UserTarget(userID), store.creds[userID], kw, 50)
		if !errors.Is(err, apperr.ErrInvalidConfiguration) {
			t.Fatalf("Run(%v) error = %v, want INVALID_CONFIGURATION", kw, err)
		}
	}
	if source.Calls() != 0 || store.Calls() != 0 {
		t.Errorf("collaborator calls: source=%d store=%d, want 0", source.Calls(), store.Calls())
	}

	channel := &domain.Channel{ID: uuid.New(), OwnerID: userID}
	if _, err := o.SyncChannel(context.Background(), channel, 50); !errors.Is(err, apperr.ErrInvalidConfiguration) {
		t.Fatalf("SyncChannel() error = %v, want INVALID_CONFIGURATION", err)
	}
	if source.Calls() != 0 || store.Calls() != 0 {
		t.Errorf("collaborator calls after channel sync: source=%d store=%d, want 0", source.Calls(), store.Calls())
	}
}

func TestRun_ConfirmDropsFalsePositives(t *testing.T) {
	o, source, store, userID := setup()
	creds := store.creds[userID]
	source.messages[creds.AccessToken] = []domain.RawMessage{
		raw("m1", "[TIVING] match", date1),
		raw("m2", "unrelated newsletter", date1),
	}

	report, err := o.Run(context.Background(), domain.UserTarget(userID), creds, keywords, 50)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Found != 2 || report.Confirmed != 1 || report.SavedCount != 1 {
		t.Errorf("report = %+v, want found=2 confirmed=1 saved=1", report)
	}
	if len(report.Errors) != 0 {
		t.Errorf("unconfirmed messages must not be errors: %+v", report.Errors)
	}
}

func TestRun_InsertFailureContinues(t *testing.T) {
	o, source, store, userID := setup()
	creds := store.creds[userID]
	source.messages[creds.AccessToken] = []domain.RawMessage{
		raw("m1", "[TIVING] one", date1),
		raw("m2", "[TIVING] two", date1),
		raw("m3", "[TIVING] three", date1),
	}
	store.insertErr["[TIVING] two"] = apperr.Unavailable("postgres", errors.New("connection reset"))

	report, err := o.Run(context.Background(), domain.UserTarget(userID), creds, keywords, 50)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.NewCount != 3 || report.SavedCount != 2 {
		t.Errorf("report = %+v, want new=3 saved=2", report)
	}
	if len(report.Errors) != 1 || report.Errors[0].Item != "m2" || report.Errors[0].Code != apperr.CodeUnavailable {
		t.Errorf("errors = %+v, want one UNAVAILABLE for m2", report.Errors)
	}
}

func TestRun_ConflictIsDuplicate(t *testing.T) {
	o, source, store, userID := setup()
	creds := store.creds[userID]
	source.messages[creds.AccessToken] = []domain.RawMessage{raw("m1", "[TIVING] raced", date1)}
	store.insertErr["[TIVING] raced"] = apperr.Conflict("duplicate provider id")

	report, err := o.Run(context.Background(), domain.UserTarget(userID), creds, keywords, 50)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Duplicates != 1 || len(report.Errors) != 0 || report.SavedCount != 0 {
		t.Errorf("report = %+v, want one duplicate and no errors", report)
	}
}

func TestRun_FetchFailures(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"expired credential", apperr.CredentialExpired("gmail", errors.New("invalid_grant")), apperr.CodeCredentialExpired},
		{"provider outage", apperr.Unavailable("gmail", errors.New("503")), apperr.CodeUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, source, store, userID := setup()
			creds := store.creds[userID]
			source.errs[creds.AccessToken] = tt.err

			report, err := o.Run(context.Background(), domain.UserTarget(userID), creds, keywords, 50)
			if apperr.CodeOf(err) != tt.wantCode {
				t.Fatalf("Run() error = %v, want %s", err, tt.wantCode)
			}
			if len(report.Errors) != 1 || report.Errors[0].Code != tt.wantCode {
				t.Errorf("report errors = %+v", report.Errors)
			}
			if store.Calls() != 0 {
				t.Errorf("store calls = %d, want 0 after fetch failure", store.Calls())
			}
		})
	}
}

// blockingSource waits for the context like a hung provider call.
type blockingSource struct{ fakeSource }

func (b *blockingSource) Search(ctx context.Context, creds domain.Credentials, query string, maxResults int) ([]domain.RawMessage, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRun_Timeout(t *testing.T) {
	store := newFakeStore()
	o := NewOrchestrator(&blockingSource{}, store, nil, nil, Options{FetchTimeout: 20 * time.Millisecond})

	report, err := o.Run(context.Background(), domain.UserTarget(uuid.New()), domain.Credentials{AccessToken: "t"}, keywords, 10)
	if apperr.CodeOf(err) != apperr.CodeTimeout {
		t.Fatalf("Run() error = %v, want TIMEOUT", err)
	}
	if len(report.Errors) != 1 {
		t.Errorf("report errors = %+v", report.Errors)
	}
}

func TestRun_ChannelScope(t *testing.T) {
	o, source, store, userID := setup()
	creds := store.creds[userID]
	source.messages[creds.AccessToken] = []domain.RawMessage{raw("m1", "[TIVING] shared", date1)}
	channel := &domain.Channel{ID: uuid.New(), OwnerID: userID, Keywords: []string{"tiving"}}

	// personal sync first; the channel feed dedups independently
	if _, err := o.SyncUser(context.Background(), userID, 50); err != nil {
		t.Fatalf("SyncUser() error = %v", err)
	}
	report, err := o.SyncChannel(context.Background(), channel, 50)
	if err != nil {
		t.Fatalf("SyncChannel() error = %v", err)
	}
	if report.SavedCount != 1 {
		t.Errorf("channel SavedCount = %d, want 1", report.SavedCount)
	}
	last := store.records[len(store.records)-1]
	if last.ChannelID == nil || *last.ChannelID != channel.ID {
		t.Errorf("record not attached to channel: %+v", last)
	}
}

func TestAccept(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	o := NewOrchestrator(newFakeSource(), store, nil, pub, Options{})
	in := domain.NormalizedMessage{Subject: "Hello", Sender: "a@b.c", Timestamp: "2024-01-01T00:00:00Z", BodyText: "<b>hi</b>"}

	first, err := o.Accept(context.Background(), domain.InboxTarget(), in)
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	if first.SavedCount != 1 {
		t.Fatalf("first Accept = %+v, want saved", first)
	}
	if got := store.records[0].BodyText; got != "hi" {
		t.Errorf("BodyText = %q, want cleaned", got)
	}
	if store.records[0].UserID != nil {
		t.Error("inbox records have no owner")
	}

	second, err := o.Accept(context.Background(), domain.InboxTarget(), in)
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	if second.Duplicates != 1 || second.SavedCount != 0 {
		t.Errorf("second Accept = %+v, want duplicate", second)
	}
	if len(pub.ids) != 1 {
		t.Errorf("published %d events, want 1", len(pub.ids))
	}
}
