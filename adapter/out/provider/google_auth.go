package provider

import (
	"context"
	"time"

	"mailbridge/core/domain"
	"mailbridge/core/port/out"
	"mailbridge/pkg/apperr"
	"mailbridge/pkg/httputil"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

func newGoogleOAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes: []string{
			gmail.GmailReadonlyScope,
			oauth2api.UserinfoEmailScope,
			oauth2api.UserinfoProfileScope,
		},
		Endpoint: google.Endpoint,
	}
}

// GoogleAuth implements out.ProviderAuth for Google accounts.
type GoogleAuth struct {
	config *oauth2.Config
}

// NewGoogleAuth creates the Google OAuth adapter.
func NewGoogleAuth(cfg *GmailConfig) *GoogleAuth {
	return &GoogleAuth{config: newGoogleOAuthConfig(cfg.ClientID, cfg.ClientSecret, cfg.RedirectURL)}
}

// AuthURL returns the consent URL. Offline access with forced approval so a refresh token is always issued.
func (a *GoogleAuth) AuthURL(state string) string {
	return a.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for credentials.
func (a *GoogleAuth) Exchange(ctx context.Context, code string) (domain.Credentials, error) {
	if code == "" {
		return domain.Credentials{}, apperr.MissingField("code")
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httputil.GmailClient())
	tok, err := a.config.Exchange(ctx, code)
	if err != nil {
		return domain.Credentials{}, apperr.OAuthFailed("google", err)
	}
	return domain.Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}, nil
}

// UserInfo reads the account email and profile.
func (a *GoogleAuth) UserInfo(ctx context.Context, creds domain.Credentials) (*out.ProviderIdentity, error) {
	tok := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       creds.Expiry,
	}
	if tok.Expiry.IsZero() {
		tok.Expiry = time.Now().Add(time.Minute)
	}

	httpCtx := context.WithValue(ctx, oauth2.HTTPClient, httputil.GmailClient())
	client := oauth2.NewClient(httpCtx, a.config.TokenSource(httpCtx, tok))
	svc, err := oauth2api.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, apperr.Unavailable("google userinfo", err)
	}

	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, wrapError(err, "userinfo")
	}
	if info.Email == "" {
		return nil, apperr.OAuthFailed("google", nil).WithDetail("reason", "no email in profile")
	}
	return &out.ProviderIdentity{
		Email:     info.Email,
		Name:      info.Name,
		AvatarURL: info.Picture,
	}, nil
}

var _ out.ProviderAuth = (*GoogleAuth)(nil)
