package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// EncodeToken serializes tok for the account database.
func EncodeToken(tok *oauth2.Token) (string, error) {
	b, err := json.Marshal(tok)
	if err != nil {
		return "", fmt.Errorf("encoding token: %w", err)
	}
	return string(b), nil
}

// DecodeToken parses a token stored by EncodeToken or written to token.json.
func DecodeToken(s string) (*oauth2.Token, error) {
	tok := &oauth2.Token{}
	if err := json.Unmarshal([]byte(s), tok); err != nil {
		return nil, fmt.Errorf("decoding token: %w", err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, fmt.Errorf("decoding token: no access or refresh token")
	}
	return tok, nil
}

// LoadTokenFile reads token.json.
func LoadTokenFile(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read oauth token file: %w", err)
	}
	return DecodeToken(string(data))
}

// SaveTokenFile writes tok to path readable by the owner only.
func SaveTokenFile(path string, tok *oauth2.Token) error {
	s, err := EncodeToken(tok)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(s), 0o600); err != nil {
		return fmt.Errorf("write oauth token file: %w", err)
	}
	return nil
}

// persistingTokenSource saves refreshed tokens so the next process start
// does not need a new login.
type persistingTokenSource struct {
	base    oauth2.TokenSource
	persist func(*oauth2.Token) error

	mu   sync.Mutex
	last string
}

// NewPersistingTokenSource wraps base; persist is called whenever base
// returns a token different from the previous one. A nil persist only
// refreshes.
func NewPersistingTokenSource(base oauth2.TokenSource, initial *oauth2.Token, persist func(*oauth2.Token) error) oauth2.TokenSource {
	last := ""
	if initial != nil {
		last = initial.AccessToken
	}
	return &persistingTokenSource{base: base, persist: persist, last: last}
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken == p.last || p.persist == nil {
		return tok, nil
	}
	p.last = tok.AccessToken
	if err := p.persist(tok); err != nil {
		log.Warn().Err(err).Msg("Failed to persist refreshed token")
	} else {
		log.Debug().Time("expiry", tok.Expiry).Msg("Persisted refreshed token")
	}
	return tok, nil
}
