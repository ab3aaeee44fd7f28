package drive

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
	"golang.org/x/oauth2/google"
	drivev3 "google.golang.org/api/drive/v3"
)

// ErrTokenNotFound is returned when the Google token file does not exist.
var ErrTokenNotFound = errors.New("google drive tokens not found")

// tokenFile is the stored Google credential; expiry_date is epoch milliseconds.
type tokenFile struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiryDate   int64  `json:"expiry_date"`
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
	tok := &oauth2.Token{
		AccessToken:  f.AccessToken,
		RefreshToken: f.RefreshToken,
		TokenType:    f.TokenType,
	}
	if f.ExpiryDate > 0 {
		tok.Expiry = time.UnixMilli(f.ExpiryDate)
	}
	return tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	f := tokenFile{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiryDate:   tok.Expiry.UnixMilli(),
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("saveToken: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("saveToken: create directory: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// savingSource writes the token back whenever the access token changes.
type savingSource struct {
	src  oauth2.TokenSource
	path string

	mu   sync.Mutex
	last string
}

func (s *savingSource) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		if err := saveToken(s.path, tok); err != nil {
			return nil, err
		}
		s.last = tok.AccessToken
	}
	return tok, nil
}

// TokenSource loads the stored credential and refreshes it with the client
// credentials, persisting refreshed tokens to path. The file is produced out of
// band; a missing file is ErrTokenNotFound.
func TokenSource(ctx context.Context, clientID, clientSecret, path string) (oauth2.TokenSource, error) {
	tok, err := loadToken(path)
	if err != nil {
		return nil, err
	}
	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drivev3.DriveFileScope, drivev3.DriveMetadataReadonlyScope},
	}
	return &savingSource{src: conf.TokenSource(ctx, tok), path: path, last: tok.AccessToken}, nil
}
