package middleware

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"

	"github.com/chatsync/internal/logger"
)

// LocalOnly пускает к мосту только loopback-адреса. Если token задан, он обязателен
// в заголовке X-Bridge-Token (или ?token= для WebSocket из браузера).
func LocalOnly(token string) func(http.Handler) http.Handler {
	token = strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			if !isLoopback(host) {
				logger.Errorf("bridge: отказ для %s", host)
				writeJSONError(w, http.StatusForbidden, "forbidden")
				return
			}
			if token != "" {
				got := r.Header.Get("X-Bridge-Token")
				if got == "" {
					got = r.URL.Query().Get("token")
				}
				if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
					logger.Errorf("bridge: неверный токен %s", MaskToken(got))
					writeJSONError(w, http.StatusUnauthorized, "unauthorized")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isLoopback(s string) bool {
	ip := net.ParseIP(s)
	return ip != nil && ip.IsLoopback()
}

// MaskToken маскирует токен в логах.
func MaskToken(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "***"
}
