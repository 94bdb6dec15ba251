package auth

import (
	"testing"
	"time"
)

func TestNormalizeFillsDefaultsOnly(t *testing.T) {
	c := SecurityConfig{Issuer: "https://issuer.test", Audiences: []string{"aud"}}
	c.Normalize()

	if len(c.AllowedAlgs) != 1 || c.AllowedAlgs[0] != "RS256" {
		t.Errorf("expected default algs [RS256], got %v", c.AllowedAlgs)
	}
	if c.Leeway != 60*time.Second {
		t.Errorf("expected default leeway 60s, got %v", c.Leeway)
	}
	if c.Advertise {
		t.Error("Normalize must not switch advertisement on")
	}

	c2 := SecurityConfig{
		Issuer:      "https://issuer.test",
		Audiences:   []string{"aud"},
		AllowedAlgs: []string{"ES256"},
		Leeway:      5 * time.Second,
	}
	c2.Normalize()
	if c2.AllowedAlgs[0] != "ES256" || c2.Leeway != 5*time.Second {
		t.Errorf("expected explicit values preserved, got %v %v", c2.AllowedAlgs, c2.Leeway)
	}
}

func TestValidateRejectsIncompleteConfigs(t *testing.T) {
	cases := []struct {
		name string
		cfg  SecurityConfig
	}{
		{"missing issuer", SecurityConfig{Audiences: []string{"aud"}}},
		{"missing audiences", SecurityConfig{Issuer: "https://issuer.test"}},
		{"empty audience entry", SecurityConfig{Issuer: "https://issuer.test", Audiences: []string{"aud", ""}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.cfg.Validate(); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}

	ok := SecurityConfig{Issuer: "https://issuer.test", Audiences: []string{"aud"}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestCopyIsolatesMutations(t *testing.T) {
	orig := SecurityConfig{
		Issuer:    "https://issuer.test",
		Audiences: []string{"aud-1"},
		OIDC:      &OIDCExtra{ScopesSupported: []string{"agent:read"}},
	}

	dup := orig.Copy()
	dup.Audiences[0] = "aud-2"
	dup.OIDC.ScopesSupported[0] = "agent:write"

	if orig.Audiences[0] != "aud-1" {
		t.Error("expected audience slice copied")
	}
	if orig.OIDC.ScopesSupported[0] != "agent:read" {
		t.Error("expected OIDC metadata copied")
	}
}

func TestEqualCoreIgnoresAudienceOrder(t *testing.T) {
	a := SecurityConfig{Issuer: "https://issuer.test", Audiences: []string{"x", "y"}}
	b := SecurityConfig{Issuer: "https://issuer.test", Audiences: []string{"y", "x"}}
	if !a.EqualCore(b) {
		t.Error("expected audience order not to matter")
	}

	c := SecurityConfig{Issuer: "https://issuer.test", Audiences: []string{"x"}}
	if a.EqualCore(c) {
		t.Error("expected differing audience sets to differ")
	}
	d := SecurityConfig{Issuer: "https://other.test", Audiences: []string{"x", "y"}}
	if a.EqualCore(d) {
		t.Error("expected differing issuers to differ")
	}
}
