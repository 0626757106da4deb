package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/medqa-go/internal/logging"
)

// apiKeyHeader is accepted alongside "Authorization: Bearer <key>" for
// clients that cannot set the Authorization header.
const apiKeyHeader = "X-API-Key"

// requireAPIKey guards next with MEDQA_API_KEY. An empty key leaves next
// unguarded; New logs that once at startup.
//
// Both sides are hashed before the constant-time compare so the key length
// does not leak. The presented credential is never logged.
func requireAPIKey(key string, next http.Handler) http.Handler {
	if key == "" {
		return next
	}
	want := sha256.Sum256([]byte(key))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, scheme := presentedKey(r)
		if got == "" {
			logging.FromContext(r.Context()).Warn("api key missing", slog.String("path", r.URL.Path))
			w.Header().Set("WWW-Authenticate", `Bearer realm="medqa"`)
			http.Error(w, "api key required", http.StatusUnauthorized)
			return
		}

		digest := sha256.Sum256([]byte(got))
		if subtle.ConstantTimeCompare(digest[:], want[:]) != 1 {
			logging.FromContext(r.Context()).Warn("api key rejected",
				slog.String("path", r.URL.Path),
				slog.String("scheme", scheme),
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="medqa", error="invalid_token"`)
			http.Error(w, "api key rejected", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// presentedKey returns the credential on r and where it came from: a
// Bearer token wins over X-API-Key. Other Authorization schemes count as
// absent.
func presentedKey(r *http.Request) (key, scheme string) {
	if prefix, token, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(prefix, "bearer") {
		if token = strings.TrimSpace(token); token != "" {
			return token, "bearer"
		}
	}
	if k := strings.TrimSpace(r.Header.Get(apiKeyHeader)); k != "" {
		return k, "header"
	}
	return "", ""
}
