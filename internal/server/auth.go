package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/docrag-go/internal/logging"
)

// apiKeyHeader is the alternative to a Bearer token for clients that cannot
// set Authorization.
const apiKeyHeader = "X-API-Key"

// authMiddleware requires apiKey on every request it wraps, presented either
// as "Authorization: Bearer <key>" or in the X-API-Key header. Keys are
// compared in constant time and never logged. An empty apiKey disables the
// check.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := []byte(apiKey)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := presentedKey(r)
		switch {
		case got == "":
			denyAuth(w, r, "authorization required", `Bearer realm="docrag"`)
		case subtle.ConstantTimeCompare([]byte(got), want) != 1:
			denyAuth(w, r, "invalid api key", `Bearer realm="docrag", error="invalid_token"`)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// denyAuth answers 401 with a Bearer challenge and a JSON error body.
func denyAuth(w http.ResponseWriter, r *http.Request, reason, challenge string) {
	logging.FromContext(r.Context()).Warn("auth: request rejected",
		slog.String("reason", reason),
		slog.String("path", r.URL.Path),
	)
	w.Header().Set("WWW-Authenticate", challenge)
	writeJSON(w, http.StatusUnauthorized, errorResponse{Error: reason, Kind: "unauthorized"})
}

// presentedKey returns the key the client sent, preferring the Bearer token.
func presentedKey(r *http.Request) string {
	if tok := bearerToken(r); tok != "" {
		return tok
	}
	return strings.TrimSpace(r.Header.Get(apiKeyHeader))
}

// bearerToken extracts the token from "Authorization: Bearer <token>", or
// returns "" when the header is absent or uses another scheme.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
