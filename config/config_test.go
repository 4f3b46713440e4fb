package config

import (
	"errors"
	"testing"
	"time"

	"mailbridge/pkg/apperr"
)

func setRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/mailbridge")
	t.Setenv("GOOGLE_CLIENT_ID", "client")
	t.Setenv("GOOGLE_CLIENT_SECRET", "secret")
	t.Setenv("GOOGLE_REDIRECT_URL", "http://localhost:8080/auth/google/callback")
	t.Setenv("WEBHOOK_SECRET", "hook")
	t.Setenv("JWT_SECRET", "jwt")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SyncMaxResults != 50 {
		t.Errorf("SyncMaxResults = %d, want 50", cfg.SyncMaxResults)
	}
	if cfg.GmailTimeout != 30*time.Second {
		t.Errorf("GmailTimeout = %v, want 30s", cfg.GmailTimeout)
	}
	if cfg.KeywordCaseSensitive {
		t.Error("KeywordCaseSensitive should default to false")
	}
	if len(cfg.DefaultKeywords) == 0 {
		t.Error("DefaultKeywords should not be empty")
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("WEBHOOK_SECRET", "")
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	if !errors.Is(err, apperr.ErrInvalidConfiguration) {
		t.Fatalf("Load() error = %v, want INVALID_CONFIGURATION", err)
	}
}

func TestGetEnvSlice(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  []string
	}{
		{"trims and drops empties", " a, b ,,c ", []string{"a", "b", "c"}},
		{"single", "only", []string{"only"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_SLICE", tt.value)
			got := getEnvSlice("TEST_SLICE", nil)
			if len(got) != len(tt.want) {
				t.Fatalf("getEnvSlice() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("getEnvSlice()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}
