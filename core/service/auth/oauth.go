// Package auth implements Google sign-in and session issuance.
package auth

import (
	"context"
	"time"

	"mailbridge/core/domain"
	"mailbridge/core/port/in"
	"mailbridge/core/port/out"
	"mailbridge/pkg/apperr"
	"mailbridge/pkg/logger"
	"mailbridge/pkg/session"

	"github.com/google/uuid"
)

// SyncEnqueuer schedules a background personal sync.
type SyncEnqueuer interface {
	EnqueueUserSync(ctx context.Context, userID uuid.UUID) error
}

// Service implements in.AuthService.
type Service struct {
	provider out.ProviderAuth
	users    out.UserStore
	sessions *session.Manager
	jobs     SyncEnqueuer
}

// NewService creates the auth service. jobs may be nil, which disables the post-login sync.
func NewService(provider out.ProviderAuth, users out.UserStore, sessions *session.Manager, jobs SyncEnqueuer) *Service {
	return &Service{
		provider: provider,
		users:    users,
		sessions: sessions,
		jobs:     jobs,
	}
}

func (s *Service) AuthURL(state string) string {
	return s.provider.AuthURL(state)
}

// HandleCallback completes sign-in. When Google omits the refresh token on re-consent,
// the stored one is kept by the user store.
func (s *Service) HandleCallback(ctx context.Context, code string) (*in.LoginResult, error) {
	if code == "" {
		return nil, apperr.MissingField("code")
	}

	creds, err := s.provider.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}

	identity, err := s.provider.UserInfo(ctx, creds)
	if err != nil {
		return nil, err
	}

	user, err := s.users.UpsertUser(ctx, &domain.User{
		Email:     identity.Email,
		Name:      identity.Name,
		AvatarURL: identity.AvatarURL,
	}, creds)
	if err != nil {
		return nil, err
	}

	token, err := s.sessions.Issue(user.ID, user.Email)
	if err != nil {
		return nil, apperr.InternalWithError(err)
	}

	s.enqueueInitialSync(user.ID)

	logger.WithFields(map[string]any{
		"user_id":       user.ID.String(),
		"refresh_token": creds.HasRefresh(),
	}).Info("[AuthService] user signed in: %s", user.Email)

	return &in.LoginResult{User: user, SessionToken: token}, nil
}

// enqueueInitialSync schedules a personal sync without delaying the redirect.
func (s *Service) enqueueInitialSync(userID uuid.UUID) {
	if s.jobs == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.jobs.EnqueueUserSync(ctx, userID); err != nil {
			logger.WithError(err).Warn("[AuthService] failed to enqueue initial sync for %s", userID)
		}
	}()
}

var _ in.AuthService = (*Service)(nil)
