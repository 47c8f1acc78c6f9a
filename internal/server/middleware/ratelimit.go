package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimit returns an HTTP middleware limiting requests per minute. The
// bucket is keyed by the machine key header when the request carries one,
// so each integration is throttled on its own budget; everything else is
// keyed by source IP.
func RateLimit(keyHeader string, requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if key := r.Header.Get(keyHeader); key != "" {
				return key, nil
			}
			return httprate.KeyByIP(r)
		}),
	)
}
