package dashboard

import (
	"crypto/subtle"
	"net"
	"net/http"
)

// requireToken enforces spec §6's dashboard auth rule: "when a token is
// configured, non-loopback requests require x-nxclaw-token header or
// ?token= matching", grounded on gateway/auth.go's ExtractAPIKey +
// constant-time comparison shape.
func requireToken(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isLoopback(r) {
			next.ServeHTTP(w, r)
			return
		}
		candidate := r.Header.Get("x-nxclaw-token")
		if candidate == "" {
			candidate = r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isLoopback(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// requestSizeLimit caps request bodies (grounded on
// gateway/cors.go's RequestSizeLimitMiddleware).
func requestSizeLimit(maxBytes int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		next.ServeHTTP(w, r)
	})
}
