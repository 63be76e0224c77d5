package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAuthMiddleware(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		apiKey        string
		headers       map[string]string
		wantStatus    int
		wantChallenge string
	}{
		{
			name:       "disabled without a key",
			wantStatus: http.StatusOK,
		},
		{
			name:          "missing credentials",
			apiKey:        "secret",
			wantStatus:    http.StatusUnauthorized,
			wantChallenge: `Bearer realm="docrag"`,
		},
		{
			name:          "wrong bearer token",
			apiKey:        "secret",
			headers:       map[string]string{"Authorization": "Bearer wrong-token"},
			wantStatus:    http.StatusUnauthorized,
			wantChallenge: `error="invalid_token"`,
		},
		{
			name:       "correct bearer token",
			apiKey:     "secret",
			headers:    map[string]string{"Authorization": "Bearer secret"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "lowercase scheme",
			apiKey:     "secret",
			headers:    map[string]string{"Authorization": "bearer secret"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "key header",
			apiKey:     "secret",
			headers:    map[string]string{"X-API-Key": "secret"},
			wantStatus: http.StatusOK,
		},
		{
			name:          "wrong key header",
			apiKey:        "secret",
			headers:       map[string]string{"X-API-Key": "nope"},
			wantStatus:    http.StatusUnauthorized,
			wantChallenge: `error="invalid_token"`,
		},
		{
			name:   "bearer wins over key header",
			apiKey: "secret",
			headers: map[string]string{
				"Authorization": "Bearer wrong",
				"X-API-Key":     "secret",
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:          "basic auth is not accepted",
			apiKey:        "secret",
			headers:       map[string]string{"Authorization": "Basic dXNlcjpwYXNz"},
			wantStatus:    http.StatusUnauthorized,
			wantChallenge: `Bearer realm="docrag"`,
		},
		{
			name:       "prefix of the key",
			apiKey:     "secret",
			headers:    map[string]string{"Authorization": "Bearer secre"},
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/api/collections", nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			authMiddleware(tc.apiKey, okHandler).ServeHTTP(w, req)

			if w.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tc.wantStatus)
			}
			if tc.wantStatus != http.StatusUnauthorized {
				return
			}
			challenge := w.Header().Get("WWW-Authenticate")
			if !strings.Contains(challenge, tc.wantChallenge) {
				t.Errorf("WWW-Authenticate = %q, want it to contain %q", challenge, tc.wantChallenge)
			}
			var body errorResponse
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Kind != "unauthorized" || body.Error == "" {
				t.Errorf("body = %+v", body)
			}
			if strings.Contains(w.Body.String(), "secret") {
				t.Error("response leaks the configured key")
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	cases := []struct {
		header string
		want   string
	}{
		{"Bearer mytoken", "mytoken"},
		{"bearer mytoken", "mytoken"},
		{"BEARER mytoken", "mytoken"},
		{"Bearer  spaced ", "spaced"},
		{"Basic dXNlcjpwYXNz", ""},
		{"", ""},
		{"Bearer", ""},
		{"token only", ""},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		if got := bearerToken(req); got != tc.want {
			t.Errorf("header=%q: got %q, want %q", tc.header, got, tc.want)
		}
	}
}
