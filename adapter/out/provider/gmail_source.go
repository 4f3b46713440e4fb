// Package provider implements mail provider adapters.
package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"mailbridge/core/domain"
	"mailbridge/core/port/out"
	"mailbridge/pkg/apperr"
	"mailbridge/pkg/httputil"
	"mailbridge/pkg/logger"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Limiter throttles provider calls per account.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// GmailConfig holds Gmail configuration.
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// FetchConcurrency bounds parallel message gets inside one search.
	FetchConcurrency int
	// MessageTimeout bounds a single message get.
	MessageTimeout time.Duration
}

// GmailSource implements out.MailSource for Gmail.
// It holds no per-user state: every call builds its own token source from the given credentials.
type GmailSource struct {
	config      *oauth2.Config
	cb          *gobreaker.CircuitBreaker
	limiter     Limiter
	concurrency int
	msgTimeout  time.Duration
	endpoint    string
}

// NewGmailSource creates a Gmail mail source. limiter may be nil.
func NewGmailSource(cfg *GmailConfig, limiter Limiter) *GmailSource {
	concurrency := cfg.FetchConcurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	msgTimeout := cfg.MessageTimeout
	if msgTimeout <= 0 {
		msgTimeout = 15 * time.Second
	}

	cbSettings := gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("[CircuitBreaker] %s: state changed from %s to %s", name, from.String(), to.String())
		},
	}

	return &GmailSource{
		config:      newGoogleOAuthConfig(cfg.ClientID, cfg.ClientSecret, cfg.RedirectURL),
		cb:          gobreaker.NewCircuitBreaker(cbSettings),
		limiter:     limiter,
		concurrency: concurrency,
		msgTimeout:  msgTimeout,
	}
}

// Search lists messages matching query and fetches each in full format.
// Messages deleted between list and get are skipped; any other get failure aborts the search.
func (g *GmailSource) Search(ctx context.Context, creds domain.Credentials, query string, maxResults int) ([]domain.RawMessage, error) {
	svc, err := g.service(ctx, creds)
	if err != nil {
		return nil, err
	}
	key := accountKey(creds)

	var resp *gmail.ListMessagesResponse
	err = g.execute(ctx, key, "list", func() error {
		var callErr error
		resp, callErr = svc.Users.Messages.List("me").
			Q(query).
			MaxResults(int64(maxResults)).
			Context(ctx).
			Do()
		return callErr
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}

	return g.fetchAll(ctx, svc, key, resp.Messages)
}

// Fetch returns one message in full format.
func (g *GmailSource) Fetch(ctx context.Context, creds domain.Credentials, messageID string) (domain.RawMessage, error) {
	svc, err := g.service(ctx, creds)
	if err != nil {
		return domain.RawMessage{}, err
	}
	return g.get(ctx, svc, accountKey(creds), messageID)
}

// fetchAll gets messages with bounded concurrency, preserving list order.
func (g *GmailSource) fetchAll(ctx context.Context, svc *gmail.Service, key string, refs []*gmail.Message) ([]domain.RawMessage, error) {
	type result struct {
		msg domain.RawMessage
		err error
	}

	results := make([]result, len(refs))
	sem := make(chan struct{}, g.concurrency)
	var wg sync.WaitGroup

	for i, ref := range refs {
		wg.Add(1)
		go func(idx int, id string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = result{err: wrapError(ctx.Err(), "get")}
				return
			}
			msg, err := g.get(ctx, svc, key, id)
			results[idx] = result{msg: msg, err: err}
		}(i, ref.Id)
	}
	wg.Wait()

	messages := make([]domain.RawMessage, 0, len(refs))
	for i, r := range results {
		if r.err != nil {
			if apperr.CodeOf(r.err) != apperr.CodeNotFound {
				return nil, r.err
			}
			logger.Warn("[GmailSource.fetchAll] message %s no longer exists, skipping", refs[i].Id)
			continue
		}
		messages = append(messages, r.msg)
	}
	return messages, nil
}

func (g *GmailSource) get(ctx context.Context, svc *gmail.Service, key, id string) (domain.RawMessage, error) {
	msgCtx, cancel := context.WithTimeout(ctx, g.msgTimeout)
	defer cancel()

	var msg *gmail.Message
	err := g.execute(msgCtx, key, "get", func() error {
		var callErr error
		msg, callErr = svc.Users.Messages.Get("me", id).Format("full").Context(msgCtx).Do()
		return callErr
	})
	if err != nil {
		return domain.RawMessage{}, err
	}
	return convertMessage(msg), nil
}

func (g *GmailSource) service(ctx context.Context, creds domain.Credentials) (*gmail.Service, error) {
	if creds.AccessToken == "" && creds.RefreshToken == "" {
		return nil, apperr.CredentialExpired(providerName, nil).WithDetail("reason", "no credentials")
	}
	httpCtx := context.WithValue(ctx, oauth2.HTTPClient, httputil.GmailClient())
	client := oauth2.NewClient(httpCtx, g.config.TokenSource(httpCtx, toOAuthToken(creds)))
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if g.endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.endpoint))
	}
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, apperr.Unavailable(providerName, err)
	}
	return svc, nil
}

// execute waits for the account's rate limit, then runs fn behind the circuit breaker.
func (g *GmailSource) execute(ctx context.Context, key, operation string, fn func() error) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx, key); err != nil {
			return wrapError(err, operation)
		}
	}

	_, err := g.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			if !tripsBreaker(err) {
				return nil, &nonCircuitError{err: err}
			}
			return nil, err
		}
		return nil, nil
	})

	if nce, ok := err.(*nonCircuitError); ok {
		return wrapError(nce.err, operation)
	}
	if err != nil {
		logger.WithError(err).Warn("[GmailSource] %s failed: breaker=%s", operation, g.cb.State().String())
	}
	return wrapError(err, operation)
}

// State returns the circuit breaker state for health reporting.
func (g *GmailSource) State() string {
	return g.cb.State().String()
}

// nonCircuitError wraps errors that should not trip the circuit breaker.
type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string {
	return e.err.Error()
}

func toOAuthToken(creds domain.Credentials) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       creds.Expiry,
	}
	// unknown expiry with a refresh token: refresh instead of trusting a possibly stale access token
	if tok.Expiry.IsZero() && tok.RefreshToken != "" {
		tok.Expiry = time.Now().Add(-time.Minute)
	}
	return tok
}

func accountKey(creds domain.Credentials) string {
	secret := creds.RefreshToken
	if secret == "" {
		secret = creds.AccessToken
	}
	sum := sha256.Sum256([]byte(secret))
	return "gmail:" + hex.EncodeToString(sum[:8])
}

func convertMessage(msg *gmail.Message) domain.RawMessage {
	raw := domain.RawMessage{
		ID:           msg.Id,
		ThreadID:     msg.ThreadId,
		Snippet:      msg.Snippet,
		InternalDate: msg.InternalDate,
	}
	if msg.Payload != nil {
		raw.Payload = convertPart(msg.Payload)
		raw.Headers = raw.Payload.Headers
	}
	return raw
}

func convertPart(part *gmail.MessagePart) domain.RawPart {
	out := domain.RawPart{MimeType: part.MimeType}
	if part.Body != nil {
		out.Data = part.Body.Data
	}
	for _, h := range part.Headers {
		out.Headers = append(out.Headers, domain.RawHeader{Name: h.Name, Value: h.Value})
	}
	for _, child := range part.Parts {
		if child != nil {
			out.Parts = append(out.Parts, convertPart(child))
		}
	}
	return out
}

var _ out.MailSource = (*GmailSource)(nil)
