package server

import (
	"crypto/subtle"
	"net/http"
	"os"
	"strings"

	"zair/zair-prover/logging"
)

// Endpoints served without a key.
var publicEndpoints = map[string]bool{
	"/health": true,
}

// APIKeyFromEnv reads ZAIR_PROVER_API_KEY.
func APIKeyFromEnv() string {
	return os.Getenv("ZAIR_PROVER_API_KEY")
}

// claimGuard rejects claim traffic (/prove, /prove/status, /verify,
// /queue/stats) that does not present the operator's key.
type claimGuard struct {
	key  []byte
	next http.Handler
}

func guardClaimEndpoints(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		return &claimGuard{key: []byte(apiKey), next: next}
	}
}

func (g *claimGuard) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if publicEndpoints[r.URL.Path] || g.admits(r) {
		g.next.ServeHTTP(w, r)
		return
	}

	logger := logging.Component("auth")
	logger.Warn().
		Str("remote_addr", r.RemoteAddr).
		Str("endpoint", r.URL.Path).
		Msg("Rejected claim request without a valid API key")

	w.Header().Set("WWW-Authenticate", `Bearer realm="zair-prover"`)
	(&Error{
		StatusCode: http.StatusUnauthorized,
		Code:       "unauthorized",
		Message:    "claim endpoints need an API key in X-API-Key or Authorization: Bearer",
	}).send(w)
}

func (g *claimGuard) admits(r *http.Request) bool {
	presented := presentedKey(r)
	return presented != "" && subtle.ConstantTimeCompare(g.key, []byte(presented)) == 1
}

// presentedKey prefers X-API-Key over a bearer token.
func presentedKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
