package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mailbridge/core/domain"
	"mailbridge/core/port/out"
	"mailbridge/pkg/apperr"
	"mailbridge/pkg/session"

	"github.com/google/uuid"
)

type fakeProvider struct {
	creds       domain.Credentials
	exchangeErr error
	identity    *out.ProviderIdentity
}

func (f *fakeProvider) AuthURL(state string) string {
	return "https://accounts.example.com/auth?state=" + state
}

func (f *fakeProvider) Exchange(ctx context.Context, code string) (domain.Credentials, error) {
	return f.creds, f.exchangeErr
}

func (f *fakeProvider) UserInfo(ctx context.Context, creds domain.Credentials) (*out.ProviderIdentity, error) {
	return f.identity, nil
}

type fakeUsers struct {
	mu    sync.Mutex
	users map[string]*domain.User
	creds map[string]domain.Credentials
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: map[string]*domain.User{}, creds: map[string]domain.Credentials{}}
}

func (f *fakeUsers) UpsertUser(ctx context.Context, user *domain.User, creds domain.Credentials) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.users[user.Email]
	if !ok {
		existing = &domain.User{ID: uuid.New(), Email: user.Email}
		f.users[user.Email] = existing
	}
	existing.Name = user.Name
	if creds.RefreshToken == "" {
		creds.RefreshToken = f.creds[user.Email].RefreshToken
	}
	f.creds[user.Email] = creds
	return existing, nil
}

func (f *fakeUsers) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return nil, apperr.NotFound("user")
}

func (f *fakeUsers) ListEligibleUsers(ctx context.Context) ([]*domain.User, error) {
	return nil, nil
}

type fakeJobs struct {
	enqueued chan uuid.UUID
}

func (f *fakeJobs) EnqueueUserSync(ctx context.Context, userID uuid.UUID) error {
	f.enqueued <- userID
	return nil
}

func TestHandleCallback(t *testing.T) {
	provider := &fakeProvider{
		creds:    domain.Credentials{AccessToken: "a1", RefreshToken: "r1"},
		identity: &out.ProviderIdentity{Email: "a@example.com", Name: "A"},
	}
	users := newFakeUsers()
	sessions := session.NewManager("secret", time.Hour)
	jobs := &fakeJobs{enqueued: make(chan uuid.UUID, 1)}
	svc := NewService(provider, users, sessions, jobs)

	result, err := svc.HandleCallback(context.Background(), "code")
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}

	userID, _, err := sessions.Parse(result.SessionToken)
	if err != nil || userID != result.User.ID {
		t.Errorf("session token user = %s (%v), want %s", userID, err, result.User.ID)
	}

	select {
	case got := <-jobs.enqueued:
		if got != result.User.ID {
			t.Errorf("enqueued sync for %s, want %s", got, result.User.ID)
		}
	case <-time.After(time.Second):
		t.Error("initial sync was not enqueued")
	}
}

func TestHandleCallback_KeepsRefreshToken(t *testing.T) {
	provider := &fakeProvider{
		creds:    domain.Credentials{AccessToken: "a1", RefreshToken: "r1"},
		identity: &out.ProviderIdentity{Email: "a@example.com"},
	}
	users := newFakeUsers()
	svc := NewService(provider, users, session.NewManager("secret", time.Hour), nil)

	first, err := svc.HandleCallback(context.Background(), "code")
	if err != nil {
		t.Fatalf("first HandleCallback() error = %v", err)
	}

	provider.creds = domain.Credentials{AccessToken: "a2"}
	second, err := svc.HandleCallback(context.Background(), "code")
	if err != nil {
		t.Fatalf("second HandleCallback() error = %v", err)
	}

	if first.User.ID != second.User.ID {
		t.Error("re-login should update the same user")
	}
	if got := users.creds["a@example.com"]; got.RefreshToken != "r1" || got.AccessToken != "a2" {
		t.Errorf("stored credentials = %+v, want access a2 and refresh r1", got)
	}
}

func TestHandleCallback_Errors(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		provider *fakeProvider
		wantCode string
	}{
		{"missing code", "", &fakeProvider{}, apperr.CodeMissingField},
		{"exchange failure", "code", &fakeProvider{exchangeErr: apperr.OAuthFailed("google", errors.New("bad code"))}, apperr.CodeOAuthFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.provider, newFakeUsers(), session.NewManager("secret", time.Hour), nil)
			_, err := svc.HandleCallback(context.Background(), tt.code)
			if got := apperr.CodeOf(err); got != tt.wantCode {
				t.Errorf("HandleCallback() code = %s, want %s", got, tt.wantCode)
			}
		})
	}
}
