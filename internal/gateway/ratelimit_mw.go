package gateway

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/manojgurugula/Chatbot-Backend/internal/ratelimit"
)

// RateLimit rejects requests with 429 once lim runs out of tokens.
// A nil limiter disables the middleware. clock must be the one lim reads.
func RateLimit(lim ratelimit.Limiter, clock clockwork.Clock, onLimited func(r *http.Request)) Middleware {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return func(next http.Handler) http.Handler {
		if lim == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !lim.TryConsume() {
				if onLimited != nil {
					onLimited(r)
				}
				WriteRateLimited(w, lim.Status(), clock.Now())
				return
			}
			SetRateLimitHeaders(w, lim.Status())
			next.ServeHTTP(w, r)
		})
	}
}

// SetRateLimitHeaders exposes the bucket state for good DX.
func SetRateLimitHeaders(w http.ResponseWriter, st ratelimit.Status) {
	if st.Limit <= 0 {
		return
	}
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(st.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(max(st.Remaining, 0)))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(st.ResetAt.Unix(), 10))
}

// WriteRateLimited answers 429 with rate limit headers and Retry-After.
func WriteRateLimited(w http.ResponseWriter, st ratelimit.Status, now time.Time) {
	SetRateLimitHeaders(w, st)
	wait := math.Ceil(st.ResetAt.Sub(now).Seconds())
	w.Header().Set("Retry-After", strconv.Itoa(int(max(wait, 1))))
	WriteError(w, http.StatusTooManyRequests, "rate_limited", "Too many requests - slow down.")
}
