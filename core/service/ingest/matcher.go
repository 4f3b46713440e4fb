package ingest

import (
	"strings"

	"mailbridge/core/domain"
	"mailbridge/pkg/apperr"
)

// KeywordMatcher builds provider queries and confirms subjects locally.
// Matching is substring containment anywhere in the subject.
type KeywordMatcher struct {
	CaseSensitive bool
}

func NewKeywordMatcher(caseSensitive bool) *KeywordMatcher {
	return &KeywordMatcher{CaseSensitive: caseSensitive}
}

// Clean trims keywords and drops empties and duplicates, keeping first-seen order.
func (m *KeywordMatcher) Clean(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(strings.ReplaceAll(kw, `"`, ""))
		if kw == "" {
			continue
		}
		key := kw
		if !m.CaseSensitive {
			key = strings.ToLower(kw)
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, kw)
	}
	return out
}

// BuildQuery returns a subject-scoped disjunction such as `subject:"a" OR subject:"b"`.
func (m *KeywordMatcher) BuildQuery(keywords []string) (string, error) {
	cleaned := m.Clean(keywords)
	if len(cleaned) == 0 {
		return "", apperr.InvalidConfiguration("at least one keyword is required")
	}
	terms := make([]string, len(cleaned))
	for i, kw := range cleaned {
		terms[i] = `subject:"` + kw + `"`
	}
	return strings.Join(terms, " OR "), nil
}

// Matches reports whether the subject of msg contains at least one keyword.
func (m *KeywordMatcher) Matches(msg domain.NormalizedMessage, keywords []string) bool {
	subject := msg.Subject
	if !m.CaseSensitive {
		subject = strings.ToLower(subject)
	}
	for _, kw := range m.Clean(keywords) {
		if !m.CaseSensitive {
			kw = strings.ToLower(kw)
		}
		if strings.Contains(subject, kw) {
			return true
		}
	}
	return false
}
