// Package memory holds the in-process limiter implementations.
package memory

import (
	"github.com/jonboulle/clockwork"

	"github.com/manojgurugula/Chatbot-Backend/internal/ratelimit"
)

// New builds the limiter selected by the policy. It returns nil when the
// policy is disabled.
func New(p ratelimit.Policy, clock clockwork.Clock) ratelimit.Limiter {
	if !p.Enabled() {
		return nil
	}
	if p.Algorithm == ratelimit.AlgorithmSmooth {
		return NewSmooth(p.Capacity, p.RefillInterval, clock)
	}
	return NewBucket(p.Capacity, p.RefillInterval, clock)
}
