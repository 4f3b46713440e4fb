package ingest

import (
	"errors"
	"testing"

	"mailbridge/core/domain"
	"mailbridge/pkg/apperr"
)

func TestKeywordMatcher_BuildQuery(t *testing.T) {
	m := NewKeywordMatcher(false)

	tests := []struct {
		name     string
		keywords []string
		want     string
		wantErr  bool
	}{
		{"single", []string{"[TIVING]"}, `subject:"[TIVING]"`, false},
		{"disjunction", []string{"sale", "notice"}, `subject:"sale" OR subject:"notice"`, false},
		{"trims and dedups", []string{" sale ", "SALE", ""}, `subject:"sale"`, false},
		{"quotes removed", []string{`say "hi"`}, `subject:"say hi"`, false},
		{"empty set", nil, "", true},
		{"only blanks", []string{" ", ""}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.BuildQuery(tt.keywords)
			if tt.wantErr {
				if !errors.Is(err, apperr.ErrInvalidConfiguration) {
					t.Fatalf("BuildQuery() error = %v, want INVALID_CONFIGURATION", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("BuildQuery() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("BuildQuery() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKeywordMatcher_Matches(t *testing.T) {
	tests := []struct {
		name          string
		caseSensitive bool
		subject       string
		keywords      []string
		want          bool
	}{
		{"substring anywhere", false, "Your [TIVING] receipt", []string{"[TIVING]"}, true},
		{"case-insensitive default", false, "BIG SALE today", []string{"sale"}, true},
		{"case-sensitive rejects", true, "BIG SALE today", []string{"sale"}, false},
		{"no keyword present", false, "weekly digest", []string{"sale", "notice"}, false},
		{"korean keyword", false, "결제 확인 안내", []string{"확인"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewKeywordMatcher(tt.caseSensitive)
			got := m.Matches(domain.NormalizedMessage{Subject: tt.subject}, tt.keywords)
			if got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}
