package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/ignite/investor-outreach/internal/pkg/httputil"
	"github.com/ignite/investor-outreach/internal/pkg/logger"
)

// requireSecret accepts "Authorization: Bearer <secret>" or
// "X-Cron-Secret: <secret>". Dev mode lets every call through.
func (s *Server) requireSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.DevMode {
			next.ServeHTTP(w, r)
			return
		}
		if s.cfg.CronSecret == "" || !secretMatches(presentedSecret(r), s.cfg.CronSecret) {
			logger.Warn("rejected unauthenticated call", "path", r.URL.Path, "remote", r.RemoteAddr)
			httputil.Unauthorized(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func presentedSecret(r *http.Request) string {
	if v := r.Header.Get("X-Cron-Secret"); v != "" {
		return v
	}
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

func secretMatches(got, want string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
