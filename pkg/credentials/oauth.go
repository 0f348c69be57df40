package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// GenerativeLanguageScope grants access to the Gemini API.
const GenerativeLanguageScope = "https://www.googleapis.com/auth/generative-language"

// OAuth returns bearer tokens from a token source.
type OAuth struct {
	src oauth2.TokenSource
}

// NewOAuth wraps ts. Tokens are refreshed by ts as needed.
func NewOAuth(ts oauth2.TokenSource) *OAuth {
	return &OAuth{src: oauth2.ReuseTokenSource(nil, ts)}
}

// NewDefaultOAuth uses Application Default Credentials.
func NewDefaultOAuth(ctx context.Context) (*OAuth, error) {
	ts, err := google.DefaultTokenSource(ctx, GenerativeLanguageScope)
	if err != nil {
		return nil, fmt.Errorf("credentials: default token source: %w", err)
	}
	return NewOAuth(ts), nil
}

// Resolve returns a valid access token.
func (o *OAuth) Resolve(ctx context.Context) (Credential, error) {
	tok, err := o.src.Token()
	if err != nil {
		return Credential{}, fmt.Errorf("credentials: token: %w", err)
	}
	if tok.AccessToken == "" {
		return Credential{}, ErrNoCredential
	}
	return Credential{Bearer: tok.AccessToken}, nil
}

// TokenFile is an oauth2.TokenSource backed by a JSON token on disk. Tokens
// refreshed through cfg are written back to the file.
type TokenFile struct {
	cfg  *oauth2.Config
	path string

	mu  sync.Mutex
	tok *oauth2.Token
}

// NewTokenFile loads the token saved at path.
func NewTokenFile(cfg *oauth2.Config, path string) (*TokenFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("credentials: read token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("credentials: parse token: %w", err)
	}
	return &TokenFile{cfg: cfg, path: path, tok: &tok}, nil
}

// Token returns the current token, refreshing and saving it when expired.
func (f *TokenFile) Token() (*oauth2.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.tok.Valid() || f.cfg == nil {
		return f.tok, nil
	}
	tok, err := f.cfg.TokenSource(context.Background(), f.tok).Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken != f.tok.AccessToken {
		f.tok = tok
		// A failed save only costs a refresh on the next start.
		_ = SaveToken(f.path, tok)
	}
	return tok, nil
}

// SaveToken writes tok to path with owner-only permissions.
func SaveToken(path string, tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

var (
	_ Provider           = (*OAuth)(nil)
	_ oauth2.TokenSource = (*TokenFile)(nil)
)
