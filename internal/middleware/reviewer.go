package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type reviewerCtxKey struct{}

// Reviewer returns middleware that authenticates approval reviewers with a
// bearer token. tokens maps each token to the reviewer name recorded on
// decisions. An empty map disables authentication.
//
// The WebSocket feed cannot send headers from a browser, so /ws also
// accepts ?token=.
func Reviewer(tokens map[string]string) func(http.Handler) http.Handler {
	return ReviewerFunc(func() map[string]string { return tokens })
}

// ReviewerFunc is Reviewer with tokens looked up on every request, so
// rotated tokens apply without a restart.
func ReviewerFunc(tokens func() map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			current := tokens()
			if len(current) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			token := bearerToken(r)
			if token == "" {
				writeAuthError(w, http.StatusUnauthorized, "authorization required")
				return
			}
			name, ok := lookupToken(current, token)
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "invalid reviewer token")
				return
			}
			ctx := context.WithValue(r.Context(), reviewerCtxKey{}, name)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ReviewerFromContext returns the authenticated reviewer, or "" when
// reviewer authentication is disabled.
func ReviewerFromContext(ctx context.Context) string {
	name, _ := ctx.Value(reviewerCtxKey{}).(string)
	return name
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		token := strings.TrimPrefix(h, "Bearer ")
		if token == h {
			return ""
		}
		return token
	}
	if strings.HasSuffix(r.URL.Path, "/ws") {
		return r.URL.Query().Get("token")
	}
	return ""
}

// lookupToken compares against every token so the time taken does not
// depend on which token matched.
func lookupToken(tokens map[string]string, token string) (string, bool) {
	var (
		name  string
		found bool
	)
	for t, n := range tokens {
		if subtle.ConstantTimeCompare([]byte(t), []byte(token)) == 1 {
			name, found = n, true
		}
	}
	return name, found
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
