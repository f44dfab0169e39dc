package httpapi

import (
	"net/http"
	"time"

	"fitroom/internal/observability"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// RequestLogging logs one line per request with method, path, status and
// latency.
func RequestLogging(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Dur("latency", time.Since(start)).
				Msg("request")
		})
	}
}

// RateLimit blocks each request until the shared limiter admits it,
// recording wait time. Requests abandoned while waiting return 429.
func RateLimit(limiter *rate.Limiter, metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter != nil {
				start := time.Now()
				if err := limiter.Wait(r.Context()); err != nil {
					writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
					return
				}
				metrics.AddRateLimitWait(time.Since(start))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Chain applies middlewares around h, outermost first.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
