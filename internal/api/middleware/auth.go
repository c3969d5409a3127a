package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/hivemind/hivemind/internal/auth"
	"github.com/rs/zerolog/log"
)

// AuthMiddleware authenticates requests and stores the resulting Identity in
// context. Two credential forms are accepted: HMAC-signed bearer tokens
// carrying {tenant_id, agent_id}, and hm_ API keys matched by SHA-256 hash.
// Keys may arrive either as the bearer credential or in X-API-Key.
type AuthMiddleware struct {
	tokens *auth.TokenCodec
	keys   *auth.APIKeyService
}

func NewAuthMiddleware(tokens *auth.TokenCodec, keys *auth.APIKeyService) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, keys: keys}
}

// Handler authenticates the request. Public paths pass through anonymous;
// everything else requires a valid credential.
func (am *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		cred := extractCredential(r)
		if cred == "" {
			// The SSE feed degrades to the public stream for anonymous
			// callers rather than rejecting them.
			if r.URL.Path == "/api/v1/stream/feed" {
				next.ServeHTTP(w, r)
				return
			}
			unauthorized(w, "missing credential")
			return
		}

		identity, err := am.resolve(r, cred)
		if err != nil {
			log.Debug().Err(err).Str("path", r.URL.Path).Msg("Authentication failed")
			unauthorized(w, "invalid credential")
			return
		}
		next.ServeHTTP(w, r.WithContext(SetIdentity(r.Context(), identity)))
	})
}

func (am *AuthMiddleware) resolve(r *http.Request, cred string) (*auth.Identity, error) {
	if strings.HasPrefix(cred, auth.KeyPrefix) {
		return am.keys.Authenticate(r.Context(), cred)
	}
	return am.tokens.Verify(cred)
}

func extractCredential(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if cred, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(cred)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="hivemind"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   "authentication_failed",
		"message": message,
	})
}

// isPublicPath returns true for paths that skip authentication.
func isPublicPath(path string) bool {
	switch path {
	case "/health", "/version", "/.well-known/mcp/server-card.json":
		return true
	}
	return false
}
