package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const (
	apiKeyHeader    = "X-API-Key"
	tokenQueryParam = "token"
)

// requireSecret admits requests that present the configured shared secret as
// a bearer token or X-API-Key header. When allowQuery is set the secret may
// also arrive as ?token=, since browsers cannot set headers on a websocket
// upgrade. It is a no-op when no secret is configured.
func (s *Server) requireSecret(allowQuery bool) func(http.Handler) http.Handler {
	secret := []byte(s.cfg.WebhookSecret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(secret) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			given := presentedSecret(r, allowQuery)
			if given == "" {
				respondError(w, http.StatusUnauthorized, "missing_credentials", "bearer token or X-API-Key header is required")
				return
			}
			if subtle.ConstantTimeCompare([]byte(given), secret) != 1 {
				s.logger.Warnf("rejected %s %s with bad credentials from %s", r.Method, r.URL.Path, r.RemoteAddr)
				respondError(w, http.StatusUnauthorized, "invalid_credentials", "credentials rejected")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func presentedSecret(r *http.Request, allowQuery bool) string {
	if auth := strings.TrimSpace(r.Header.Get("Authorization")); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if key := strings.TrimSpace(r.Header.Get(apiKeyHeader)); key != "" {
		return key
	}
	if allowQuery {
		return strings.TrimSpace(r.URL.Query().Get(tokenQueryParam))
	}
	return ""
}
