// Package secrets holds reviewer credentials with hot reload support.
package secrets

import (
	"fmt"
	"sync"
)

// Loader retrieves a token-to-reviewer map from a source.
type Loader func() (map[string]string, error)

// Vault holds reviewer tokens in memory and supports atomic reloading.
type Vault struct {
	mu     sync.RWMutex
	tokens map[string]string
	loader Loader
}

// NewVault creates a Vault, calling the loader once to populate initial tokens.
func NewVault(loader Loader) (*Vault, error) {
	tokens, err := loader()
	if err != nil {
		return nil, fmt.Errorf("initial token load: %w", err)
	}
	return &Vault{tokens: tokens, loader: loader}, nil
}

// Reviewer returns the reviewer owning token, or "" if the token is unknown.
func (v *Vault) Reviewer(token string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.tokens[token]
}

// Tokens returns the current token map. Reload swaps the whole map, so the
// result stays consistent; callers must not modify it.
func (v *Vault) Tokens() map[string]string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.tokens
}

// Len returns the number of known tokens.
func (v *Vault) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.tokens)
}

// Reload calls the loader and swaps in the new tokens atomically.
// If the loader returns an error, existing tokens are preserved.
func (v *Vault) Reload() error {
	tokens, err := v.loader()
	if err != nil {
		return fmt.Errorf("reload reviewer tokens: %w", err)
	}
	v.mu.Lock()
	v.tokens = tokens
	v.mu.Unlock()
	return nil
}

// Redacted returns a masked form of token suitable for logs.
func Redacted(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return token[:2] + "****"
}
