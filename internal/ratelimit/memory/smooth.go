package memory

import (
	"math"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/manojgurugula/Chatbot-Backend/internal/ratelimit"
)

// Smooth refills continuously: capacity tokens per interval, at most
// capacity held at once.
type Smooth struct {
	capacity int
	every    time.Duration
	lim      *rate.Limiter
	clock    clockwork.Clock
}

func NewSmooth(capacity int, interval time.Duration, clock clockwork.Clock) *Smooth {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	every := interval / time.Duration(capacity)
	return &Smooth{
		capacity: capacity,
		every:    every,
		lim:      rate.NewLimiter(rate.Every(every), capacity),
		clock:    clock,
	}
}

func (s *Smooth) TryConsume() bool {
	return s.lim.AllowN(s.clock.Now(), 1)
}

func (s *Smooth) Status() ratelimit.Status {
	now := s.clock.Now()
	tokens := math.Min(s.lim.TokensAt(now), float64(s.capacity))
	missing := float64(s.capacity) - tokens
	return ratelimit.Status{
		Limit:     s.capacity,
		Remaining: int(math.Max(math.Floor(tokens), 0)),
		ResetAt:   now.Add(time.Duration(missing * float64(s.every))),
	}
}
