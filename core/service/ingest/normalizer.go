package ingest

import (
	"encoding/base64"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"mailbridge/core/domain"
)

var (
	tagPattern        = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// Normalize extracts the canonical record from a raw provider message.
// It never fails: missing headers, parts or undecodable data degrade to empty fields.
func Normalize(raw domain.RawMessage) domain.NormalizedMessage {
	headers := raw.Headers
	if len(headers) == 0 {
		headers = raw.Payload.Headers
	}

	body := CleanBody(extractBody(raw.Payload))

	snippet := strings.TrimSpace(raw.Snippet)
	if snippet == "" {
		snippet = truncate(body, domain.MaxSnippetLength)
	}

	return domain.NormalizedMessage{
		ProviderID: raw.ID,
		Subject:    strings.TrimSpace(headerValue(headers, "Subject")),
		Sender:     strings.TrimSpace(headerValue(headers, "From")),
		Timestamp:  messageTimestamp(headerValue(headers, "Date"), raw.InternalDate),
		Snippet:    snippet,
		BodyText:   body,
	}
}

// CleanBody strips tags, collapses whitespace and caps the result at MaxBodyLength characters.
func CleanBody(body string) string {
	if body == "" {
		return ""
	}
	if !utf8.ValidString(body) {
		body = strings.ToValidUTF8(body, " ")
	}
	cleaned := tagPattern.ReplaceAllString(body, " ")
	cleaned = whitespacePattern.ReplaceAllString(cleaned, " ")
	return truncate(strings.TrimSpace(cleaned), domain.MaxBodyLength)
}

// extractBody prefers the direct body, then text/plain, then text/html anywhere in the part tree.
func extractBody(payload domain.RawPart) string {
	if payload.Data != "" {
		if text := decodeBase64URL(payload.Data); text != "" {
			return text
		}
	}
	if text := findPart(payload.Parts, "text/plain"); text != "" {
		return text
	}
	return findPart(payload.Parts, "text/html")
}

func findPart(parts []domain.RawPart, mimeType string) string {
	for _, part := range parts {
		if strings.EqualFold(part.MimeType, mimeType) && part.Data != "" {
			if text := decodeBase64URL(part.Data); text != "" {
				return text
			}
		}
		if len(part.Parts) > 0 {
			if text := findPart(part.Parts, mimeType); text != "" {
				return text
			}
		}
	}
	return ""
}

func decodeBase64URL(data string) string {
	data = strings.TrimRight(data, "=")
	decoded, err := base64.RawURLEncoding.DecodeString(data)
	if err != nil {
		// some senders use the standard alphabet
		decoded, err = base64.RawStdEncoding.DecodeString(data)
		if err != nil {
			return ""
		}
	}
	return string(decoded)
}

func headerValue(headers []domain.RawHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func messageTimestamp(dateHeader string, internalDate int64) string {
	if dateHeader != "" {
		if t, err := mail.ParseDate(strings.TrimSpace(dateHeader)); err == nil {
			return t.UTC().Format(time.RFC3339)
		}
	}
	if internalDate > 0 {
		return time.UnixMilli(internalDate).UTC().Format(time.RFC3339)
	}
	return ""
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// ParseTimestamp converts a pushed date (RFC3339 or RFC 5322) to RFC3339 UTC, or "" when unparseable.
func ParseTimestamp(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC().Format(time.RFC3339)
	}
	return messageTimestamp(value, 0)
}
