package persistence

import (
	"context"
	"database/sql"
	"time"

	"mailbridge/core/domain"
	"mailbridge/pkg/apperr"
	"mailbridge/pkg/crypto"
	"mailbridge/pkg/logger"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// UserAdapter stores users and their OAuth credentials. Tokens are sealed when a cipher is configured.
type UserAdapter struct {
	db     *sqlx.DB
	cipher *crypto.TokenCipher
}

// NewUserAdapter creates a new UserAdapter. cipher may be nil.
func NewUserAdapter(db *sqlx.DB, cipher *crypto.TokenCipher) *UserAdapter {
	if !cipher.Enabled() {
		logger.Warn("Token encryption disabled: tokens are stored as plaintext")
	}
	return &UserAdapter{db: db, cipher: cipher}
}

type userRow struct {
	ID        uuid.UUID `db:"id"`
	Email     string    `db:"email"`
	Name      string    `db:"name"`
	AvatarURL string    `db:"avatar_url"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r userRow) toDomain() *domain.User {
	return &domain.User{
		ID:        r.ID,
		Email:     r.Email,
		Name:      r.Name,
		AvatarURL: r.AvatarURL,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

type credentialRow struct {
	AccessToken  string       `db:"access_token"`
	RefreshToken string       `db:"refresh_token"`
	TokenExpiry  sql.NullTime `db:"token_expiry"`
}

// UpsertUser creates or updates the user by email. An empty refresh token keeps the stored one,
// since Google only returns it on first consent.
func (a *UserAdapter) UpsertUser(ctx context.Context, user *domain.User, creds domain.Credentials) (*domain.User, error) {
	if user.Email == "" {
		return nil, apperr.MissingField("email")
	}

	access, err := a.cipher.Seal(creds.AccessToken)
	if err != nil {
		return nil, apperr.InternalWithError(err)
	}
	refresh, err := a.cipher.Seal(creds.RefreshToken)
	if err != nil {
		return nil, apperr.InternalWithError(err)
	}

	id := user.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	expiry := sql.NullTime{Time: creds.Expiry, Valid: !creds.Expiry.IsZero()}

	query := `
		INSERT INTO users (id, email, name, avatar_url, access_token, refresh_token, token_expiry, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (email) DO UPDATE SET
			name = EXCLUDED.name,
			avatar_url = EXCLUDED.avatar_url,
			access_token = EXCLUDED.access_token,
			refresh_token = COALESCE(NULLIF(EXCLUDED.refresh_token, ''), users.refresh_token),
			token_expiry = EXCLUDED.token_expiry,
			updated_at = NOW()
		RETURNING id, email, name, avatar_url, created_at, updated_at`

	var row userRow
	err = a.db.GetContext(ctx, &row, query, id, user.Email, user.Name, user.AvatarURL, access, refresh, expiry)
	if err != nil {
		return nil, mapError(err, "user")
	}
	return row.toDomain(), nil
}

// GetUser returns one user.
func (a *UserAdapter) GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	query := `SELECT id, email, name, avatar_url, created_at, updated_at FROM users WHERE id = $1`

	var row userRow
	if err := a.db.GetContext(ctx, &row, query, userID); err != nil {
		return nil, mapError(err, "user")
	}
	return row.toDomain(), nil
}

// ListEligibleUsers returns users holding a refresh token, oldest first.
func (a *UserAdapter) ListEligibleUsers(ctx context.Context) ([]*domain.User, error) {
	query := `
		SELECT id, email, name, avatar_url, created_at, updated_at
		FROM users
		WHERE refresh_token <> ''
		ORDER BY created_at, id`

	var rows []userRow
	if err := a.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, mapError(err, "users")
	}

	users := make([]*domain.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.toDomain())
	}
	return users, nil
}

// ReadCredentials returns the user's decrypted tokens.
func (a *UserAdapter) ReadCredentials(ctx context.Context, userID uuid.UUID) (domain.Credentials, error) {
	query := `SELECT access_token, refresh_token, token_expiry FROM users WHERE id = $1`

	var row credentialRow
	if err := a.db.GetContext(ctx, &row, query, userID); err != nil {
		return domain.Credentials{}, mapError(err, "user")
	}

	access, err := a.cipher.Open(row.AccessToken)
	if err != nil {
		logger.WithError(err).Warn("[UserAdapter.ReadCredentials] access token unreadable for user %s", userID)
		access = ""
	}
	refresh, err := a.cipher.Open(row.RefreshToken)
	if err != nil {
		return domain.Credentials{}, apperr.CredentialExpired("google", err).WithDetail("reason", "stored token unreadable")
	}

	creds := domain.Credentials{AccessToken: access, RefreshToken: refresh}
	if row.TokenExpiry.Valid {
		creds.Expiry = row.TokenExpiry.Time
	}
	return creds, nil
}
