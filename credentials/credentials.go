// Package credentials resolves the API credentials handed to completion
// backends. Providers are consulted per prompt so rotated keys take effect
// without a restart.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// ErrNoCredentials is returned when a provider has nothing to offer. Callers
// treat it as an auth-required condition rather than an internal fault.
var ErrNoCredentials = errors.New("no credentials available")

// Credentials authenticate one backend call.
type Credentials struct {
	// APIKey is the bearer secret for the model API.
	APIKey string
	// BaseURL overrides the backend's default endpoint when set.
	BaseURL string
}

// Provider yields the current credentials. Implementations must be safe for
// concurrent use; the engine calls this on every prompt.
type Provider interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// Static always returns the same credentials.
type Static struct {
	creds Credentials
}

func NewStatic(creds Credentials) *Static {
	return &Static{creds: creds}
}

func (s *Static) Credentials(ctx context.Context) (Credentials, error) {
	if s.creds.APIKey == "" {
		return Credentials{}, ErrNoCredentials
	}
	return s.creds, nil
}

var _ Provider = (*Static)(nil)

// Env reads the key from an environment variable on every call.
type Env struct {
	keyVar     string
	baseURLVar string
}

// NewEnv builds a provider reading keyVar, and optionally baseURLVar when
// non-empty.
func NewEnv(keyVar, baseURLVar string) *Env {
	return &Env{keyVar: keyVar, baseURLVar: baseURLVar}
}

func (e *Env) Credentials(ctx context.Context) (Credentials, error) {
	key := os.Getenv(e.keyVar)
	if key == "" {
		return Credentials{}, fmt.Errorf("%s unset: %w", e.keyVar, ErrNoCredentials)
	}
	creds := Credentials{APIKey: key}
	if e.baseURLVar != "" {
		creds.BaseURL = os.Getenv(e.baseURLVar)
	}
	return creds, nil
}

var _ Provider = (*Env)(nil)
