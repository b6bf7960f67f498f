package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/star/aprstrack/internal/httputil"
)

// Config holds authentication configuration.
type Config struct {
	Enabled bool
	Token   string
}

// exemptPaths are always public regardless of auth configuration.
var exemptPaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

// isExempt reports whether a request needs no token. Reads of the telemetry
// and pointing views are public; anything that changes state is not.
func isExempt(r *http.Request) bool {
	if exemptPaths[r.URL.Path] {
		return true
	}
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return strings.HasPrefix(r.URL.Path, "/api/v1/")
	}
	return false
}

// authorized reports whether r carries "Authorization: Bearer <token>".
func authorized(r *http.Request, token string) bool {
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
}

// Middleware enforces bearer auth on non-exempt requests when cfg.Enabled.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Enabled && !isExempt(r) && !authorized(r, cfg.Token) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="aprstrack"`)
				httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
