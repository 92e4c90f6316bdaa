package middleware

import (
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/information-sharing-networks/stp-demo/internal/logger"
	"github.com/information-sharing-networks/stp-demo/internal/stp"
)

// RequestSizeLimit caps request bodies at maxBytes.
//
// A declared Content-Length over the limit is refused with 413 before the handler runs.
// Bodies without a usable Content-Length are wrapped in http.MaxBytesReader, so the
// protocol decoder fails once it reads past the limit.
//
// Every response carries X-Max-Request-Size.
func RequestSizeLimit(maxBytes int64) func(http.Handler) http.Handler {
	limit := strconv.FormatInt(maxBytes, 10)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Max-Request-Size", limit)

			if r.ContentLength > maxBytes {
				stp.RespondWithErrorResponse(w, r, stp.NewRequestTooLargeError(
					fmt.Sprintf("request body is %d bytes, the limit is %d", r.ContentLength, maxBytes),
				))
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// RequireJSON refuses request bodies that are not declared as application/json.
// Requests without a body are passed through.
func RequireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength == 0 {
			next.ServeHTTP(w, r)
			return
		}

		mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "application/json" {
			stp.RespondWithErrorResponse(w, r, stp.NewValidationError(
				fmt.Sprintf("Content-Type must be application/json, got %q", r.Header.Get("Content-Type")),
			))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SecurityHeaders sets the standard hardening headers; HSTS only outside dev and test
func SecurityHeaders(environment string) func(http.Handler) http.Handler {
	hsts := environment == "prod" || environment == "staging"

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			// tokens and PINs must not be cached by intermediaries
			h.Set("Cache-Control", "no-store")

			if hsts {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit applies a single server-wide token bucket. rps <= 0 disables it.
func RateLimit(rps int32, burst int32) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	limiter := rate.NewLimiter(rate.Limit(rps), int(burst))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter.Allow() {
				next.ServeHTTP(w, r)
				return
			}

			logger.ContextRequestLogger(r.Context()).Warn("Rate limit exceeded",
				slog.String("component", "RateLimit"),
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("path", r.URL.Path),
			)
			logger.ContextWithLogAttrs(r.Context(), slog.String("remote_addr", r.RemoteAddr))

			w.Header().Set("Retry-After", "1")
			stp.RespondWithErrorResponse(w, r, stp.NewRateLimitError("too many requests, try again later"))
		})
	}
}
