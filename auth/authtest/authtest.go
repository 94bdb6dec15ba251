// Package authtest provides small auth.Authenticator implementations for
// exercising authenticated transports in tests.
package authtest

import (
	"context"
	"encoding/json"

	"github.com/DefikitTeam/claude-code-container-sub003/auth"
)

// Static authenticates against a fixed token table. It gives tests a
// deterministic authenticator without standing up an OIDC issuer.
type Static struct {
	subjects map[string]string
	failures map[string]error
}

var _ auth.Authenticator = (*Static)(nil)

// NewStatic builds a Static from a token to subject mapping. Tokens absent
// from the table fail with auth.ErrUnauthorized.
func NewStatic(subjects map[string]string) *Static {
	s := &Static{
		subjects: make(map[string]string, len(subjects)),
		failures: make(map[string]error),
	}
	for tok, sub := range subjects {
		s.subjects[tok] = sub
	}
	return s
}

// FailWith registers a token that fails authentication with the given error,
// e.g. auth.ErrInsufficientScope to exercise challenge handling.
func (s *Static) FailWith(tok string, err error) *Static {
	s.failures[tok] = err
	return s
}

func (s *Static) CheckAuthentication(ctx context.Context, tok string) (auth.UserInfo, error) {
	if err, ok := s.failures[tok]; ok {
		return nil, err
	}
	if sub, ok := s.subjects[tok]; ok {
		return staticUser{sub: sub}, nil
	}
	return nil, auth.ErrUnauthorized
}

type staticUser struct{ sub string }

func (u staticUser) UserID() string { return u.sub }

func (u staticUser) Claims(ref any) error {
	raw, err := json.Marshal(map[string]string{"sub": u.sub})
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, ref)
}
