package session

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func TestManager_IssueParse(t *testing.T) {
	m := NewManager("secret", time.Hour)
	userID := uuid.New()

	token, err := m.Issue(userID, "a@example.com")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	got, claims, err := m.Parse(token)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got != userID || claims.Email != "a@example.com" {
		t.Errorf("Parse() = %s/%s, want %s/a@example.com", got, claims.Email, userID)
	}
}

func TestManager_ParseRejects(t *testing.T) {
	m := NewManager("secret", time.Hour)
	userID := uuid.New()

	otherKey, _ := NewManager("other", time.Hour).Issue(userID, "")
	expired, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		},
	}).SignedString([]byte("secret"))
	foreign, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: userID.String(), Issuer: "someone-else"},
	}).SignedString([]byte("secret"))

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: userID.String(), Issuer: issuer})
	noneToken, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name  string
		token string
	}{
		{"wrong key", otherKey},
		{"alg none", noneToken},
		{"expired", expired},
		{"foreign issuer", foreign},
		{"garbage", "not.a.token"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := m.Parse(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Parse() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}
