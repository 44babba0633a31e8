package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Scopes requested at login: spreadsheet access, files the app creates, and
// the account email used as the tenant key.
var Scopes = []string{
	sheets.SpreadsheetsScope,
	drive.DriveFileScope,
	oauth2api.UserinfoEmailScope,
}

var ErrNoRefreshToken = errors.New("oauth token expired and missing refresh_token; log in again")

// OAuth runs the Google authorization-code flow for shop owners.
type OAuth struct {
	config *oauth2.Config
	// apiOptions are extra options for the userinfo service.
	apiOptions []option.ClientOption
}

// LoadOAuth reads a client_secret.json downloaded from the Google console.
func LoadOAuth(secretsFile, redirectURL string) (*OAuth, error) {
	b, err := os.ReadFile(secretsFile)
	if err != nil {
		return nil, fmt.Errorf("read oauth client file: %w", err)
	}
	cfg, err := google.ConfigFromJSON(b, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("oauth config: %w", err)
	}
	if redirectURL != "" {
		cfg.RedirectURL = redirectURL
	}
	return NewOAuth(cfg), nil
}

// NewOAuth wraps an existing oauth2 config.
func NewOAuth(cfg *oauth2.Config, opts ...option.ClientOption) *OAuth {
	return &OAuth{config: cfg, apiOptions: opts}
}

// AuthCodeURL returns the consent page URL. Offline access with a forced
// consent prompt guarantees a refresh token on every login.
func (o *OAuth) AuthCodeURL(state string) string {
	return o.config.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	)
}

// Exchange trades the callback code for a token.
func (o *OAuth) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if strings.TrimSpace(code) == "" {
		return nil, errors.New("missing authorization code")
	}
	tok, err := o.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging code: %w", err)
	}
	return tok, nil
}

// FetchEmail returns the Google account email the token belongs to.
func (o *OAuth) FetchEmail(ctx context.Context, tok *oauth2.Token) (string, error) {
	opts := append([]option.ClientOption{option.WithTokenSource(o.config.TokenSource(ctx, tok))}, o.apiOptions...)
	svc, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("userinfo service: %w", err)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("fetching userinfo: %w", err)
	}
	if info.Email == "" {
		return "", errors.New("userinfo returned no email")
	}
	return info.Email, nil
}

// TokenSource returns a refreshing token source that hands every new token
// to persist.
func (o *OAuth) TokenSource(ctx context.Context, tok *oauth2.Token, persist func(*oauth2.Token) error) (oauth2.TokenSource, error) {
	if !tok.Valid() && strings.TrimSpace(tok.RefreshToken) == "" {
		return nil, ErrNoRefreshToken
	}
	return NewPersistingTokenSource(o.config.TokenSource(ctx, tok), tok, persist), nil
}
