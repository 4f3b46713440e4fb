package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"mailbridge/core/domain"
	"mailbridge/pkg/apperr"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
)

func TestWrapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"unauthorized", &googleapi.Error{Code: http.StatusUnauthorized}, apperr.CodeCredentialExpired},
		{"forbidden", &googleapi.Error{Code: http.StatusForbidden, Message: "insufficient permissions"}, apperr.CodeCredentialExpired},
		{"forbidden rate limit", &googleapi.Error{
			Code:   http.StatusForbidden,
			Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}},
		}, apperr.CodeRateLimited},
		{"too many requests", &googleapi.Error{Code: http.StatusTooManyRequests}, apperr.CodeRateLimited},
		{"not found", &googleapi.Error{Code: http.StatusNotFound}, apperr.CodeNotFound},
		{"server error", &googleapi.Error{Code: http.StatusBadGateway}, apperr.CodeUnavailable},
		{"invalid grant", &oauth2.RetrieveError{ErrorCode: "invalid_grant"}, apperr.CodeCredentialExpired},
		{"wrapped invalid grant", fmt.Errorf("token: %w", &oauth2.RetrieveError{ErrorCode: "invalid_grant"}), apperr.CodeCredentialExpired},
		{"breaker open", gobreaker.ErrOpenState, apperr.CodeUnavailable},
		{"deadline", context.DeadlineExceeded, apperr.CodeTimeout},
		{"cancelled", context.Canceled, apperr.CodeCancelled},
		{"network", errors.New("dial tcp: connection refused"), apperr.CodeUnavailable},
		{"already mapped", apperr.NotFound("thing"), apperr.CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := apperr.CodeOf(wrapError(tt.err, "list"))
			if got != tt.want {
				t.Errorf("wrapError(%v) code = %s, want %s", tt.err, got, tt.want)
			}
		})
	}

	if wrapError(nil, "list") != nil {
		t.Error("wrapError(nil) should be nil")
	}
}

func TestTripsBreaker(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"client error", &googleapi.Error{Code: http.StatusUnauthorized}, false},
		{"server error", &googleapi.Error{Code: http.StatusServiceUnavailable}, true},
		{"throttled", &googleapi.Error{Code: http.StatusTooManyRequests}, true},
		{"revoked token", &oauth2.RetrieveError{ErrorCode: "invalid_grant"}, false},
		{"cancelled", context.Canceled, false},
		{"network", errors.New("connection reset"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tripsBreaker(tt.err); got != tt.want {
				t.Errorf("tripsBreaker() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConvertMessage(t *testing.T) {
	msg := &gmail.Message{
		Id:           "m1",
		ThreadId:     "t1",
		Snippet:      "hello",
		InternalDate: 1704099600000,
		Payload: &gmail.MessagePart{
			MimeType: "multipart/alternative",
			Headers: []*gmail.MessagePartHeader{
				{Name: "Subject", Value: "[TIVING] hi"},
				{Name: "From", Value: "a@example.com"},
			},
			Parts: []*gmail.MessagePart{
				{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: "aGk"}},
				{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: "PGI-aGk8L2I-"}},
			},
		},
	}

	raw := convertMessage(msg)
	if raw.ID != "m1" || raw.ThreadID != "t1" || raw.InternalDate != 1704099600000 {
		t.Fatalf("convertMessage() ids = %+v", raw)
	}
	if len(raw.Headers) != 2 || raw.Headers[0].Value != "[TIVING] hi" {
		t.Errorf("headers = %+v", raw.Headers)
	}
	if len(raw.Payload.Parts) != 2 || raw.Payload.Parts[0].Data != "aGk" {
		t.Errorf("parts = %+v", raw.Payload.Parts)
	}
}

func TestToOAuthToken(t *testing.T) {
	tok := toOAuthToken(domain.Credentials{AccessToken: "a", RefreshToken: "r"})
	if !tok.Expiry.Before(time.Now()) {
		t.Error("zero expiry with refresh token should force a refresh")
	}

	expiry := time.Now().Add(time.Hour)
	tok = toOAuthToken(domain.Credentials{AccessToken: "a", RefreshToken: "r", Expiry: expiry})
	if !tok.Expiry.Equal(expiry) {
		t.Errorf("expiry = %v, want %v", tok.Expiry, expiry)
	}
}

func TestAccountKey(t *testing.T) {
	a := accountKey(domain.Credentials{AccessToken: "x", RefreshToken: "r1"})
	b := accountKey(domain.Credentials{AccessToken: "y", RefreshToken: "r1"})
	c := accountKey(domain.Credentials{AccessToken: "x", RefreshToken: "r2"})
	if a != b {
		t.Error("same refresh token should share a key")
	}
	if a == c {
		t.Error("different refresh tokens should not share a key")
	}
}

func TestSearch_NoCredentials(t *testing.T) {
	src := NewGmailSource(&GmailConfig{ClientID: "id", ClientSecret: "secret"}, nil)
	_, err := src.Search(context.Background(), domain.Credentials{}, "subject:x", 10)
	if !errors.Is(err, apperr.ErrCredentialExpired) {
		t.Errorf("Search() error = %v, want CREDENTIAL_EXPIRED", err)
	}
}

// fakeGmail serves the list and get endpoints. status overrides the get response per message id.
func fakeGmail(t *testing.T, ids []string, status map[string]int, inFlight, peak *int32) *httptest.Server {
	t.Helper()
	const base = "/gmail/v1/users/me/messages"

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if r.URL.Path == base {
			refs := make([]map[string]string, len(ids))
			for i, id := range ids {
				refs[i] = map[string]string{"id": id}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"messages": refs})
			return
		}

		id := strings.TrimPrefix(r.URL.Path, base+"/")
		n := atomic.AddInt32(inFlight, 1)
		defer atomic.AddInt32(inFlight, -1)
		for {
			p := atomic.LoadInt32(peak)
			if n <= p || atomic.CompareAndSwapInt32(peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)

		if code, ok := status[id]; ok {
			w.WriteHeader(code)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"code": code, "message": http.StatusText(code)},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":           id,
			"threadId":     "t-" + id,
			"snippet":      "snippet " + id,
			"internalDate": "1704099600000",
			"payload": map[string]any{
				"mimeType": "text/plain",
				"headers": []map[string]string{
					{"name": "Subject", "value": "[TIVING] " + id},
					{"name": "From", "value": "news@example.com"},
				},
				"body": map[string]any{"data": "aGVsbG8"},
			},
		})
	}))
}

func TestSearch_FetchesInListOrder(t *testing.T) {
	tests := []struct {
		name     string
		status   map[string]int
		wantIDs  []string
		wantCode string
	}{
		{
			name:    "all found",
			wantIDs: []string{"m1", "m2", "m3", "m4", "m5"},
		},
		{
			name:    "deleted message skipped",
			status:  map[string]int{"m2": http.StatusNotFound},
			wantIDs: []string{"m1", "m3", "m4", "m5"},
		},
		{
			name:     "server error aborts",
			status:   map[string]int{"m2": http.StatusServiceUnavailable},
			wantCode: apperr.CodeUnavailable,
		},
		{
			name:     "throttled aborts",
			status:   map[string]int{"m4": http.StatusTooManyRequests},
			wantCode: apperr.CodeRateLimited,
		},
		{
			name:     "revoked access aborts",
			status:   map[string]int{"m1": http.StatusUnauthorized},
			wantCode: apperr.CodeCredentialExpired,
		},
	}

	ids := []string{"m1", "m2", "m3", "m4", "m5"}
	creds := domain.Credentials{AccessToken: "access", Expiry: time.Now().Add(time.Hour)}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var inFlight, peak int32
			srv := fakeGmail(t, ids, tt.status, &inFlight, &peak)
			defer srv.Close()

			src := NewGmailSource(&GmailConfig{ClientID: "id", ClientSecret: "secret", FetchConcurrency: 2}, nil)
			src.endpoint = srv.URL + "/"

			got, err := src.Search(context.Background(), creds, `subject:"TIVING"`, 10)

			if tt.wantCode != "" {
				if got != nil {
					t.Errorf("Search() returned %d messages alongside an error", len(got))
				}
				if code := apperr.CodeOf(err); code != tt.wantCode {
					t.Fatalf("Search() error code = %s (%v), want %s", code, err, tt.wantCode)
				}
				return
			}

			if err != nil {
				t.Fatalf("Search() error = %v", err)
			}
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("Search() returned %d messages, want %d", len(got), len(tt.wantIDs))
			}
			for i, want := range tt.wantIDs {
				if got[i].ID != want {
					t.Errorf("message[%d] = %s, want %s", i, got[i].ID, want)
				}
			}
			if got[0].ThreadID != "t-"+tt.wantIDs[0] || got[0].InternalDate != 1704099600000 {
				t.Errorf("message[0] = %+v", got[0])
			}
			if got[0].Payload.Data != "aGVsbG8" || len(got[0].Headers) != 2 {
				t.Errorf("payload = %+v, headers = %+v", got[0].Payload, got[0].Headers)
			}
			if p := atomic.LoadInt32(&peak); p > 2 {
				t.Errorf("peak concurrent gets = %d, want <= 2", p)
			}
		})
	}
}
