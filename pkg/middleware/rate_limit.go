package middleware

import (
	"net/http"

	apperrors "turnstile/pkg/errors"
	"turnstile/pkg/logger"
)

const ParticipantIDHeader = "X-Participant-ID"

// Limiter is satisfied by *ratelimit.SlidingWindow.
type Limiter interface {
	Allow(key string) bool
}

type KeyExtractor func(r *http.Request) string

// ParticipantRateLimit throttles requests per participant. Requests with no
// participant key are not limited here; the join attempt guard still
// applies to them in the service.
func ParticipantRateLimit(limiter Limiter, extractor KeyExtractor, log *logger.Logger) func(http.Handler) http.Handler {
	if extractor == nil {
		extractor = DefaultParticipantExtractor
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := extractor(r)
			if key == "" || limiter.Allow(key) {
				next.ServeHTTP(w, r)
				return
			}

			log.Warn("Rate limit exceeded",
				"request_id", RequestIDFromContext(r.Context()),
				"participant_id", key,
				"path", r.URL.Path,
			)
			_ = apperrors.WriteError(w, apperrors.TooManyRequests("Rate limit exceeded"))
		})
	}
}

func DefaultParticipantExtractor(r *http.Request) string {
	return r.Header.Get(ParticipantIDHeader)
}
