package in

import (
	"context"

	"mailbridge/core/domain"
)

// LoginResult is the outcome of a completed OAuth callback.
type LoginResult struct {
	User         *domain.User
	SessionToken string
}

// AuthService drives the Google sign-in flow.
type AuthService interface {
	// AuthURL returns the provider consent URL bound to state.
	AuthURL(state string) string

	// HandleCallback exchanges the code, upserts the user and issues a session.
	HandleCallback(ctx context.Context, code string) (*LoginResult, error)
}
