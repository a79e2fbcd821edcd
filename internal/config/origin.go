package config

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
)

// OriginPolicy decides which browser origins may open the push channel or
// call the REST API. Origins are compared as lower-cased scheme://host.
type OriginPolicy struct {
	allowAll bool
	origins  map[string]struct{}
	list     []string
}

// NewOriginPolicy normalises origins. "*" allows every origin; invalid
// entries are logged and skipped.
func NewOriginPolicy(origins []string) *OriginPolicy {
	normalized, allowAll := normalizeOrigins(origins)
	p := &OriginPolicy{
		allowAll: allowAll,
		origins:  make(map[string]struct{}, len(normalized)),
		list:     normalized,
	}
	for _, origin := range normalized {
		p.origins[origin] = struct{}{}
	}
	return p
}

// AllowAll reports whether the policy accepts any origin.
func (p *OriginPolicy) AllowAll() bool {
	return p.allowAll
}

// List returns the normalised explicit origins.
func (p *OriginPolicy) List() []string {
	return append([]string(nil), p.list...)
}

// Allowed reports whether origin passes the policy.
func (p *OriginPolicy) Allowed(origin string) bool {
	if p.allowAll {
		return true
	}
	normalizedOrigin, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}
	_, exists := p.origins[normalizedOrigin]
	return exists
}

// CheckOrigin is a websocket.Upgrader CheckOrigin function. Requests
// without an Origin header only pass when every origin is allowed.
func (p *OriginPolicy) CheckOrigin(r *http.Request) bool {
	originHeader := r.Header.Get("Origin")
	if originHeader == "" && !p.allowAll {
		log.Warn().Msg("Blocked WebSocket connection without Origin header")
		return false
	}
	if p.Allowed(originHeader) {
		return true
	}

	log.Warn().Str("origin", originHeader).Msg("Blocked WebSocket connection from disallowed origin")
	return false
}

func normalizeOrigins(origins []string) ([]string, bool) {
	if len(origins) == 0 {
		return nil, false
	}

	normalized := make([]string, 0, len(origins))
	allowAll := false

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}

		if trimmed == "*" {
			allowAll = true
			continue
		}

		normalizedOrigin, ok := normalizeOrigin(trimmed)
		if !ok {
			log.Warn().Str("origin", origin).Msg("Ignoring invalid origin in configuration")
			continue
		}

		normalized = append(normalized, normalizedOrigin)
	}

	return normalized, allowAll
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}

	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}
