package ratelimit

import (
	"fmt"
	"time"
)

// Algorithm selects how a bucket gets its tokens back.
type Algorithm string

const (
	// AlgorithmReset restores the bucket to full capacity once the refill
	// interval has elapsed since the last reset.
	AlgorithmReset Algorithm = "reset"
	// AlgorithmSmooth refills continuously at Capacity/RefillInterval tokens per second.
	AlgorithmSmooth Algorithm = "smooth"
)

func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case "", AlgorithmReset:
		return AlgorithmReset, nil
	case AlgorithmSmooth:
		return AlgorithmSmooth, nil
	}
	return "", fmt.Errorf("unknown rate limit algorithm %q", s)
}

type Policy struct {
	Capacity       int           // bucket capacity
	RefillInterval time.Duration // time until the bucket is full again
	Algorithm      Algorithm
}

// Enabled reports whether the policy limits anything at all.
func (p Policy) Enabled() bool {
	return p.Capacity > 0 && p.RefillInterval > 0
}

type Status struct {
	Limit     int
	Remaining int       // tokens currently available (min 0)
	ResetAt   time.Time // when the bucket is full again if no more traffic
}

// Limiter admits or rejects a request attempt. TryConsume never blocks;
// a denial is reported as false, not as an error.
type Limiter interface {
	TryConsume() bool
	Status() Status
}
