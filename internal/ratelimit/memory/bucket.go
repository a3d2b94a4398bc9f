package memory

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/atomic"

	"github.com/manojgurugula/Chatbot-Backend/internal/ratelimit"
)

// Bucket is a fixed-capacity token bucket that snaps back to full capacity
// once the refill interval has elapsed since the last reset. Tokens do not
// trickle back in between, so a full burst is admitted right after a reset.
type Bucket struct {
	capacity int64
	interval time.Duration
	clock    clockwork.Clock

	tokens *atomic.Int64

	mu         sync.Mutex // guards lastRefill; serializes the refill check
	lastRefill time.Time
}

// NewBucket creates a full bucket. Capacity and interval must be positive.
func NewBucket(capacity int, interval time.Duration, clock clockwork.Clock) *Bucket {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Bucket{
		capacity:   int64(capacity),
		interval:   interval,
		clock:      clock,
		tokens:     atomic.NewInt64(int64(capacity)),
		lastRefill: clock.Now(),
	}
}

// TryConsume takes one token if any is left.
func (b *Bucket) TryConsume() bool {
	b.refillIfDue()
	for {
		cur := b.tokens.Load()
		if cur <= 0 {
			return false
		}
		if b.tokens.CompareAndSwap(cur, cur-1) {
			return true
		}
	}
}

func (b *Bucket) refillIfDue() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	if now.Sub(b.lastRefill) >= b.interval {
		b.tokens.Store(b.capacity)
		b.lastRefill = now
	}
}

// Status reports the bucket state without consuming or refilling.
func (b *Bucket) Status() ratelimit.Status {
	b.mu.Lock()
	last := b.lastRefill
	b.mu.Unlock()

	now := b.clock.Now()
	st := ratelimit.Status{Limit: int(b.capacity)}
	if now.Sub(last) >= b.interval {
		// a refill is due on the next call
		st.Remaining = int(b.capacity)
		st.ResetAt = now
		return st
	}

	st.Remaining = int(max(b.tokens.Load(), 0))
	if int64(st.Remaining) >= b.capacity {
		st.ResetAt = now
	} else {
		st.ResetAt = last.Add(b.interval)
	}
	return st
}
