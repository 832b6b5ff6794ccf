package ratelimit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const unknownClient = "unknown-client"

// ClientID identifies the caller from proxy headers: the first X-Forwarded-For
// entry, then X-Real-IP, then CF-Connecting-IP.
func ClientID(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	return unknownClient
}

// Middleware rejects requests over the limit with 429 and sets X-RateLimit-* headers.
func Middleware(fw *FixedWindow, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := ClientID(r)
			res := fw.Allow(client)
			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))
			if res.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			retry := res.RetryAfter(fw.now())
			logger.Info("rate limit exceeded",
				zap.String("client", client),
				zap.String("path", r.URL.Path),
				zap.Int("retry_after", retry),
			)
			h.Set("Retry-After", strconv.Itoa(retry))
			h.Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error":       "Rate limit exceeded. Please try again later.",
				"retry_after": retry,
			})
		})
	}
}
