package httpserver

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"ttlpaste/internal/clock"
)

const testNowHeader = "X-Test-Now-Ms"

// testClock evaluates the request at the instant named by X-Test-Now-Ms
// (milliseconds since the Unix epoch). It is only installed in test mode.
func (s *Server) testClock(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(testNowHeader))
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.badRequest(w, r, "invalid "+testNowHeader+" header")
			return
		}
		ctx := clock.WithOverride(r.Context(), time.UnixMilli(ms))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func isAPIRequest(r *http.Request) bool {
	return r.URL.Path == "/api" || strings.HasPrefix(r.URL.Path, "/api/")
}
