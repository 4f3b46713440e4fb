package ingest

import (
	"context"
	"sync"

	"mailbridge/core/domain"
	"mailbridge/pkg/apperr"

	"github.com/google/uuid"
)

// fakeSource serves messages per access token.
type fakeSource struct {
	mu       sync.Mutex
	messages map[string][]domain.RawMessage
	errs     map[string]error
	calls    int
}

func newFakeSource() *fakeSource {
	return &fakeSource{messages: map[string][]domain.RawMessage{}, errs: map[string]error{}}
}

func (f *fakeSource) Search(ctx context.Context, creds domain.Credentials, query string, maxResults int) ([]domain.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[creds.AccessToken]; err != nil {
		return nil, err
	}
	msgs := f.messages[creds.AccessToken]
	if len(msgs) > maxResults {
		msgs = msgs[:maxResults]
	}
	return msgs, nil
}

func (f *fakeSource) Fetch(ctx context.Context, creds domain.Credentials, id string) (domain.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	for _, m := range f.messages[creds.AccessToken] {
		if m.ID == id {
			return m, nil
		}
	}
	return domain.RawMessage{}, apperr.NotFound("message")
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeStore keeps records in memory and enforces provider id uniqueness per feed.
type fakeStore struct {
	mu        sync.Mutex
	records   []*domain.PublishedRecord
	creds     map[uuid.UUID]domain.Credentials
	users     []*domain.User
	insertErr map[string]error // by subject
	calls     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{creds: map[uuid.UUID]domain.Credentials{}, insertErr: map[string]error{}}
}

func feedOf(rec *domain.PublishedRecord) string {
	var user, channel string
	if rec.UserID != nil {
		user = rec.UserID.String()
	}
	if rec.ChannelID != nil {
		channel = rec.ChannelID.String()
	}
	return user + "/" + channel
}

func inTarget(rec *domain.PublishedRecord, t domain.SyncTarget) bool {
	switch t.Scope {
	case domain.ScopeChannel:
		return rec.ChannelID != nil && *rec.ChannelID == t.ChannelID
	case domain.ScopeUser:
		return rec.ChannelID == nil && rec.UserID != nil && *rec.UserID == t.UserID
	default:
		return rec.ChannelID == nil && rec.UserID == nil
	}
}

func (s *fakeStore) ReadExistingKeys(ctx context.Context, target domain.SyncTarget) (domain.KeySet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	keys := domain.NewKeySet()
	for _, r := range s.records {
		if inTarget(r, target) {
			keys.Add(r.Message())
		}
	}
	return keys, nil
}

func (s *fakeStore) Insert(ctx context.Context, rec *domain.PublishedRecord) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err := s.insertErr[rec.Subject]; err != nil {
		return uuid.Nil, err
	}
	if rec.ProviderID != "" {
		for _, r := range s.records {
			if r.ProviderID == rec.ProviderID && feedOf(r) == feedOf(rec) {
				return uuid.Nil, apperr.Conflict("duplicate provider id")
			}
		}
	}
	s.records = append(s.records, rec)
	return rec.ID, nil
}

func (s *fakeStore) ReadCredentials(ctx context.Context, userID uuid.UUID) (domain.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	c, ok := s.creds[userID]
	if !ok {
		return domain.Credentials{}, apperr.NotFound("user")
	}
	return c, nil
}

func (s *fakeStore) ListEligibleUsers(ctx context.Context) ([]*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.users, nil
}

func (s *fakeStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *fakeStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// fakePublisher records published events.
type fakePublisher struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (p *fakePublisher) PublishRecord(ctx context.Context, rec *domain.PublishedRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, rec.ID)
	return nil
}

func raw(id, subject, date string) domain.RawMessage {
	return domain.RawMessage{
		ID: id,
		Headers: []domain.RawHeader{
			{Name: "Subject", Value: subject},
			{Name: "From", Value: "noreply@example.com"},
			{Name: "Date", Value: date},
		},
		Payload: domain.RawPart{Data: b64("<p>body of " + subject + "</p>")},
	}
}
