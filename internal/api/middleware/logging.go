package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// statusRecorder captures the status code written by downstream handlers.
// With a start time set it also stamps X-Process-Time just before headers
// flush (afterwards would be too late).
type statusRecorder struct {
	http.ResponseWriter
	status      int
	start       time.Time
	timing      bool
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.wroteHeader {
		return
	}
	r.wroteHeader = true
	r.status = status
	if r.timing {
		elapsed := time.Since(r.start)
		r.Header().Set("X-Process-Time", fmt.Sprintf("%.2fms", float64(elapsed.Microseconds())/1000))
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(b)
}

// RequestLogging logs one line per request with method, path, status and
// duration. When exposeTiming is set the duration is also returned in an
// X-Process-Time header; keep that off in production.
func RequestLogging(exposeTiming bool) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK, start: start, timing: exposeTiming}

			next(rec, r)

			zerolog.Ctx(r.Context()).Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Dur("duration", time.Since(start)).
				Msg("request completed")
		}
	}
}
