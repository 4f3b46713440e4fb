package ingest

import "mailbridge/core/domain"

// FilterNew returns the candidates that duplicate neither an existing record nor an earlier
// candidate, preserving order. existing is not modified.
func FilterNew(candidates []domain.NormalizedMessage, existing domain.KeySet) []domain.NormalizedMessage {
	seen := domain.NewKeySet()
	out := make([]domain.NormalizedMessage, 0, len(candidates))
	for _, c := range candidates {
		if existing.Contains(c) || seen.Contains(c) {
			continue
		}
		seen.Add(c)
		out = append(out, c)
	}
	return out
}
