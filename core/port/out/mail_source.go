package out

import (
	"context"

	"mailbridge/core/domain"
)

// MailSource lists and fetches messages from a remote mailbox.
// Credentials are passed per call; implementations keep no per-user client state.
//
// Errors: apperr CREDENTIAL_EXPIRED when the credentials are stale or revoked,
// UNAVAILABLE on transport or provider failure, TIMEOUT when the call deadline passes.
type MailSource interface {
	// Search returns full messages matching query, at most maxResults.
	Search(ctx context.Context, creds domain.Credentials, query string, maxResults int) ([]domain.RawMessage, error)

	// Fetch returns one message by provider id.
	Fetch(ctx context.Context, creds domain.Credentials, messageID string) (domain.RawMessage, error)
}

// ProviderAuth performs the OAuth code exchange and identity lookup for a mail provider.
type ProviderAuth interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (domain.Credentials, error)
	UserInfo(ctx context.Context, creds domain.Credentials) (*ProviderIdentity, error)
}

// ProviderIdentity is the account identity returned by the provider.
type ProviderIdentity struct {
	Email     string
	Name      string
	AvatarURL string
}
