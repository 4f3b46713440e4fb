package domain

import "strings"

// KeySet holds precomputed identity keys of committed records.
//
// A record contributes a provider-id key when it has one, plus subject keys tagged by
// whether the record carried a provider id. Contains applies the key priority:
// provider id when both sides have one, else (subject, timestamp) when both have a
// timestamp, else subject alone.
type KeySet map[string]struct{}

const (
	classLegacy = "L" // record without provider id
	classModern = "M" // record with provider id
	sep         = "\x00"
)

func NewKeySet() KeySet {
	return make(KeySet)
}

// Add records the identity keys of m.
func (k KeySet) Add(m NormalizedMessage) {
	id := strings.TrimSpace(m.ProviderID)
	subject := strings.TrimSpace(m.Subject)
	class := classLegacy
	if id != "" {
		k["id"+sep+id] = struct{}{}
		class = classModern
	}
	k[class+"s"+sep+subject] = struct{}{}
	if m.Timestamp != "" {
		k[class+"st"+sep+subject+sep+m.Timestamp] = struct{}{}
	} else {
		k[class+"n"+sep+subject] = struct{}{}
	}
}

// Contains reports whether m duplicates any record added to the set.
func (k KeySet) Contains(m NormalizedMessage) bool {
	id := strings.TrimSpace(m.ProviderID)
	subject := strings.TrimSpace(m.Subject)

	classes := []string{classLegacy, classModern}
	if id != "" {
		if k.has("id" + sep + id) {
			return true
		}
		// two provider ids that differ are two emails
		classes = classes[:1]
	}

	for _, class := range classes {
		if m.Timestamp != "" {
			if k.has(class+"st"+sep+subject+sep+m.Timestamp) || k.has(class+"n"+sep+subject) {
				return true
			}
			continue
		}
		if k.has(class + "s" + sep + subject) {
			return true
		}
	}
	return false
}

func (k KeySet) has(key string) bool {
	_, ok := k[key]
	return ok
}

// Clone returns an independent copy of the set.
func (k KeySet) Clone() KeySet {
	out := make(KeySet, len(k))
	for key := range k {
		out[key] = struct{}{}
	}
	return out
}
