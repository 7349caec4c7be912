package auth

import (
	"testing"

	"github.com/straja-ai/graphgate/internal/config"
)

func TestNewFromConfig(t *testing.T) {
	cfg := &config.Config{Projects: []config.ProjectConfig{
		{ID: "analytics", APIKeys: []string{"k1", "k2", ""}},
		{ID: "search", APIKeys: []string{"k3"}},
	}}
	a, err := NewFromConfig(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if a.Len() != 3 {
		t.Fatalf("expected 3 keys, got %d", a.Len())
	}
	if p, ok := a.Lookup("k2"); !ok || p.ID != "analytics" {
		t.Fatalf("lookup k2: ok=%v project=%+v", ok, p)
	}
	if _, ok := a.Lookup("nope"); ok {
		t.Fatalf("unknown key should not resolve")
	}
	if _, ok := a.Lookup(""); ok {
		t.Fatalf("empty key should not resolve")
	}
}

func TestNewFromConfig_DuplicateKey(t *testing.T) {
	cfg := &config.Config{Projects: []config.ProjectConfig{
		{ID: "a", APIKeys: []string{"secret-key"}},
		{ID: "b", APIKeys: []string{"secret-key"}},
	}}
	_, err := NewFromConfig(cfg)
	if err == nil {
		t.Fatalf("expected duplicate key error")
	}
	if got := err.Error(); got != `api key "secr****" is assigned to multiple projects` {
		t.Fatalf("unexpected error %q", got)
	}
}

func TestNilAuth(t *testing.T) {
	var a *Auth
	if _, ok := a.Lookup("k"); ok {
		t.Fatalf("nil auth should not resolve")
	}
}

func TestParseBearer(t *testing.T) {
	if tok, ok := ParseBearer("Bearer abc123"); !ok || tok != "abc123" {
		t.Fatalf("got ok=%v token=%q", ok, tok)
	}
	if tok, ok := ParseBearer("bearer xyz"); !ok || tok != "xyz" {
		t.Fatalf("scheme should be case-insensitive, got ok=%v token=%q", ok, tok)
	}
	for _, h := range []string{"", "abc123", "Bearer", "Bearer ", "Token abc123", "Bearer abc def"} {
		if tok, ok := ParseBearer(h); ok || tok != "" {
			t.Fatalf("expected failure for header %q, got ok=%v token=%q", h, ok, tok)
		}
	}
}
