package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/zeusync/behaviortree/internal/core/observability/log"
)

// authMiddleware requires Config.Token when one is configured. Browsers
// cannot set headers on websocket upgrades, so the token query parameter is
// accepted too.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	if s.config.Token == "" {
		return next
	}
	want := []byte(s.config.Token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if got == "" {
			got = r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			s.logger.Debug("Rejected request", log.String("path", r.URL.Path), log.String("remote_addr", r.RemoteAddr))
			s.writeError(w, http.StatusUnauthorized, ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
