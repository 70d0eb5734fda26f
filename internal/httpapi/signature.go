package httpapi

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"net/http"
	"strings"
)

const (
	signatureHeader = "X-Signature"
	maxSignedBody   = 1 << 20
)

// verifySignature rejects requests whose body does not match the base64
// HMAC-SHA256 in X-Signature. It is a no-op when no secret is configured.
func (s *Server) verifySignature(next http.Handler) http.Handler {
	secret := []byte(s.cfg.WebhookSecret)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(secret) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		given := strings.TrimSpace(r.Header.Get(signatureHeader))
		if given == "" {
			respondError(w, http.StatusUnauthorized, "missing_signature", "X-Signature header is required")
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
		_ = r.Body.Close()
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		if !validSignature(secret, body, given) {
			s.logger.Warnf("rejected request with bad signature from %s", r.RemoteAddr)
			respondError(w, http.StatusUnauthorized, "invalid_signature", "signature mismatch")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

func sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func validSignature(secret, body []byte, given string) bool {
	return hmac.Equal([]byte(sign(secret, body)), []byte(given))
}
