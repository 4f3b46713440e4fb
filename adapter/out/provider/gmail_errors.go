package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"mailbridge/pkg/apperr"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

const providerName = "gmail"

// wrapError maps Google API, OAuth and transport failures to application errors.
func wrapError(err error, operation string) error {
	if err == nil {
		return nil
	}
	if apperr.IsAppError(err) {
		return err
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return apperr.Timeout("gmail " + operation).WithError(err)
	case errors.Is(err, context.Canceled):
		return apperr.Cancelled("gmail " + operation).WithError(err)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return apperr.Unavailable(providerName, err).WithDetail("circuit", "open")
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if isTokenRevoked(retrieveErr) {
			return apperr.CredentialExpired(providerName, err)
		}
		return apperr.Unavailable("google oauth", err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized:
			return apperr.CredentialExpired(providerName, err)
		case apiErr.Code == http.StatusForbidden && isRateLimit(apiErr):
			return apperr.Wrap(err, apperr.CodeRateLimited, "gmail rate limit exceeded", http.StatusTooManyRequests)
		case apiErr.Code == http.StatusForbidden:
			return apperr.CredentialExpired(providerName, err).WithDetail("reason", "access denied")
		case apiErr.Code == http.StatusNotFound:
			return apperr.NotFound("gmail message").WithError(err)
		case apiErr.Code == http.StatusTooManyRequests:
			return apperr.Wrap(err, apperr.CodeRateLimited, "gmail rate limit exceeded", http.StatusTooManyRequests)
		}
	}

	return apperr.Unavailable(providerName, err).WithDetail("operation", operation)
}

func isTokenRevoked(e *oauth2.RetrieveError) bool {
	switch e.ErrorCode {
	case "invalid_grant", "unauthorized_client", "invalid_client":
		return true
	}
	if e.Response != nil && (e.Response.StatusCode == http.StatusBadRequest || e.Response.StatusCode == http.StatusUnauthorized) {
		return true
	}
	return strings.Contains(string(e.Body), "invalid_grant")
}

func isRateLimit(e *googleapi.Error) bool {
	for _, item := range e.Errors {
		if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
			return true
		}
	}
	return strings.Contains(strings.ToLower(e.Message), "rate limit")
}

// tripsBreaker reports whether err indicates a provider-side problem.
// Client errors such as expired tokens must not open the circuit for every other user.
func tripsBreaker(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code >= 500 || apiErr.Code == http.StatusTooManyRequests
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= 500
	}
	return !errors.Is(err, context.Canceled)
}
