// Package auth maps API keys to caller ids.
package auth

import (
	"fmt"
	"strings"

	"github.com/straja-ai/graphgate/internal/config"
)

// Project is the caller an API key resolves to. Its ID is the rate-limit and
// audit caller id.
type Project struct {
	ID string
}

// Auth holds mappings from API keys to projects.
type Auth struct {
	apiKeyToProject map[string]Project
}

// NewFromConfig builds an Auth instance from the loaded config.
func NewFromConfig(cfg *config.Config) (*Auth, error) {
	m := make(map[string]Project)

	for _, p := range cfg.Projects {
		if p.ID == "" {
			return nil, fmt.Errorf("project with empty id in config")
		}
		for _, key := range p.APIKeys {
			if key == "" {
				continue
			}
			if _, exists := m[key]; exists {
				return nil, fmt.Errorf("api key %q is assigned to multiple projects", redactKey(key))
			}
			m[key] = Project{ID: p.ID}
		}
	}

	return &Auth{apiKeyToProject: m}, nil
}

// Lookup returns the project for a given API key, if any.
func (a *Auth) Lookup(apiKey string) (Project, bool) {
	if a == nil || apiKey == "" {
		return Project{}, false
	}
	p, ok := a.apiKeyToProject[apiKey]
	return p, ok
}

// Len is the number of known keys.
func (a *Auth) Len() int {
	if a == nil {
		return 0
	}
	return len(a.apiKeyToProject)
}

// ParseBearer extracts the token from an Authorization: Bearer header.
func ParseBearer(h string) (string, bool) {
	if h == "" {
		return "", false
	}
	parts := strings.Fields(h)
	if len(parts) != 2 {
		return "", false
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

func redactKey(k string) string {
	if len(k) <= 4 {
		return "****"
	}
	return k[:4] + "****"
}
