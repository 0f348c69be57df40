// Package credentials resolves the secret used to open a live session.
package credentials

import (
	"context"
	"errors"
	"os"
	"sync"
)

// ErrNoCredential is returned when no key or token is available.
var ErrNoCredential = errors.New("credentials: no API key or token available")

// Credential authenticates one connection attempt.
type Credential struct {
	APIKey string
	Bearer string

	// Rotated is set when the provider switched to a different key than the
	// one it returned last time. Callers may persist the new key.
	Rotated bool
}

// Empty reports whether c carries nothing usable.
func (c Credential) Empty() bool {
	return c.APIKey == "" && c.Bearer == ""
}

// Provider yields a credential per connection attempt.
type Provider interface {
	Resolve(ctx context.Context) (Credential, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (Credential, error)

// Resolve calls f.
func (f ProviderFunc) Resolve(ctx context.Context) (Credential, error) { return f(ctx) }

// Static always returns the same API key.
type Static string

// Resolve returns the key.
func (s Static) Resolve(ctx context.Context) (Credential, error) {
	if s == "" {
		return Credential{}, ErrNoCredential
	}
	return Credential{APIKey: string(s)}, nil
}

// DefaultEnvVars are checked in order by Env.
var DefaultEnvVars = []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}

// Env reads the key from the first non-empty environment variable.
type Env struct {
	Vars []string
}

// Resolve looks the key up at call time.
func (e Env) Resolve(ctx context.Context) (Credential, error) {
	vars := e.Vars
	if len(vars) == 0 {
		vars = DefaultEnvVars
	}
	for _, v := range vars {
		if key := os.Getenv(v); key != "" {
			return Credential{APIKey: key}, nil
		}
	}
	return Credential{}, ErrNoCredential
}

// Pool spreads connections across several keys, starting from start and
// moving to the next key on every resolve.
type Pool struct {
	mu   sync.Mutex
	keys []string
	next int
	last string
}

// NewPool creates a rotating pool. Empty keys are dropped.
func NewPool(keys []string, start int) *Pool {
	var clean []string
	for _, k := range keys {
		if k != "" {
			clean = append(clean, k)
		}
	}
	p := &Pool{keys: clean}
	if len(clean) > 0 {
		p.next = ((start % len(clean)) + len(clean)) % len(clean)
	}
	return p
}

// Resolve returns the next key.
func (p *Pool) Resolve(ctx context.Context) (Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.keys) == 0 {
		return Credential{}, ErrNoCredential
	}
	key := p.keys[p.next]
	p.next = (p.next + 1) % len(p.keys)

	rotated := p.last != "" && p.last != key
	p.last = key
	return Credential{APIKey: key, Rotated: rotated}, nil
}

// Len returns the number of keys.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

// Chain returns the first credential any provider resolves.
type Chain []Provider

// Resolve tries each provider in order.
func (c Chain) Resolve(ctx context.Context) (Credential, error) {
	var errs []error
	for _, p := range c {
		cred, err := p.Resolve(ctx)
		if err == nil && !cred.Empty() {
			return cred, nil
		}
		if err != nil && !errors.Is(err, ErrNoCredential) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return Credential{}, errors.Join(append([]error{ErrNoCredential}, errs...)...)
	}
	return Credential{}, ErrNoCredential
}
