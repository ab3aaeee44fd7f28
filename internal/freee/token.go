package freee

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

const (
	authURL  = "https://accounts.secure.freee.co.jp/public_api/authorize"
	tokenURL = "https://accounts.secure.freee.co.jp/public_api/token"

	// refreshBefore is how long before expiry the access token is refreshed.
	refreshBefore = 5 * time.Minute
)

// ErrTokenNotFound is returned when the token file does not exist.
var ErrTokenNotFound = errors.New("freee tokens not found")

// tokenFile is the on-disk token format; expires_at is in epoch milliseconds.
type tokenFile struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

func (f tokenFile) token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  f.AccessToken,
		RefreshToken: f.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       time.UnixMilli(f.ExpiresAt),
	}
}

func loadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w at %s", ErrTokenNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("loadToken: read %s: %w", path, err)
	}

	var f tokenFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("loadToken: decode %s: %w", path, err)
	}
	if f.RefreshToken == "" {
		return nil, fmt.Errorf("loadToken: %s has no refresh token", path)
	}
	return f.token(), nil
}

func saveToken(path string, tok *oauth2.Token) error {
	f := tokenFile{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry.UnixMilli(),
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("saveToken: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("saveToken: mkdir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("saveToken: write %s: %w", path, err)
	}
	return nil
}

// persistingSource refreshes with the stored refresh token on every call and
// writes the new token pair back to disk.
type persistingSource struct {
	ctx  context.Context
	conf *oauth2.Config
	path string

	mu           sync.Mutex
	refreshToken string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, err := s.conf.TokenSource(s.ctx, &oauth2.Token{RefreshToken: s.refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh freee token: %w", err)
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = s.refreshToken
	}
	s.refreshToken = tok.RefreshToken

	if err := saveToken(s.path, tok); err != nil {
		return nil, err
	}
	return tok, nil
}

// newTokenSource returns a token source that reuses the stored access token
// until five minutes before it expires.
func newTokenSource(ctx context.Context, conf *oauth2.Config, path string) (oauth2.TokenSource, error) {
	tok, err := loadToken(path)
	if err != nil {
		return nil, err
	}
	src := &persistingSource{ctx: ctx, conf: conf, path: path, refreshToken: tok.RefreshToken}
	return oauth2.ReuseTokenSourceWithExpiry(tok, src, refreshBefore), nil
}

func oauthConfig(clientID, clientSecret, tokenEndpoint string) *oauth2.Config {
	if tokenEndpoint == "" {
		tokenEndpoint = tokenURL
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   authURL,
			TokenURL:  tokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}
