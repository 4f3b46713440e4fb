package domain

import "time"

// MaxBodyLength caps the cleaned body text of a normalized message, in characters.
const MaxBodyLength = 2000

// MaxSnippetLength caps the derived snippet when the provider does not supply one.
const MaxSnippetLength = 200

// RawHeader is one provider header line.
type RawHeader struct {
	Name  string
	Value string
}

// RawPart is one MIME part of a provider payload. Data is base64url as delivered by the provider.
type RawPart struct {
	MimeType string
	Data     string
	Headers  []RawHeader
	Parts    []RawPart
}

// RawMessage is a provider message before normalization.
type RawMessage struct {
	ID           string
	ThreadID     string
	Snippet      string
	InternalDate int64 // unix millis, 0 when unknown
	Headers      []RawHeader
	Payload      RawPart
}

// NormalizedMessage is one inbound email after extraction.
type NormalizedMessage struct {
	ProviderID string `json:"provider_id,omitempty"`
	Subject    string `json:"subject"`
	Sender     string `json:"sender"`
	Timestamp  string `json:"timestamp,omitempty"` // RFC3339 UTC; empty when unknown
	Snippet    string `json:"snippet"`
	BodyText   string `json:"body_text"`
}

// Time parses Timestamp. ok is false when the message carries no usable date.
func (m NormalizedMessage) Time() (t time.Time, ok bool) {
	if m.Timestamp == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, m.Timestamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
