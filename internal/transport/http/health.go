package http

import (
	"context"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"
)

// HealthCheck verifies one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// NewHealthHandler answers 200 "ok" when every check passes and 503 naming the
// failed checks otherwise.
func NewHealthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		var failed []string
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				log.Printf("health check %s failed: %v", name, err)
				failed = append(failed, name)
			}
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if len(failed) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("unavailable: " + strings.Join(failed, ",")))
			return
		}
		_, _ = w.Write([]byte("ok"))
	}
}
