package memory

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestBucket_TryConsume(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := NewBucket(3, time.Minute, clock)

	for i := 0; i < 3; i++ {
		require.True(t, b.TryConsume(), "call %d", i+1)
	}
	require.False(t, b.TryConsume())
	require.False(t, b.TryConsume())
	require.Equal(t, 0, b.Status().Remaining)
}

func TestBucket_SnapsToFullAfterInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := NewBucket(10, 60*time.Second, clock)

	for i := 0; i < 10; i++ {
		require.True(t, b.TryConsume(), "t=0 call %d", i+1)
	}

	clock.Advance(5 * time.Second)
	require.False(t, b.TryConsume(), "t=5")

	clock.Advance(56 * time.Second) // t=61
	require.True(t, b.TryConsume(), "t=61 first call")
	require.Equal(t, 9, b.Status().Remaining)
	for i := 0; i < 9; i++ {
		require.True(t, b.TryConsume(), "t=61 call %d", i+2)
	}
	require.False(t, b.TryConsume(), "t=61 11th call")
}

func TestBucket_ResetIsFullNotIncremental(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := NewBucket(5, time.Second, clock)

	require.True(t, b.TryConsume())
	require.True(t, b.TryConsume())

	clock.Advance(time.Second)
	require.True(t, b.TryConsume())
	assert.Equal(t, 4, b.Status().Remaining)
}

func TestBucket_NoRefillBeforeInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := NewBucket(1, 10*time.Second, clock)

	require.True(t, b.TryConsume())
	clock.Advance(10*time.Second - time.Nanosecond)
	require.False(t, b.TryConsume())
	clock.Advance(time.Nanosecond)
	require.True(t, b.TryConsume())
}

func TestBucket_ConcurrentGrantsExactlyCapacity(t *testing.T) {
	const (
		capacity   = 50
		goroutines = 500
	)
	b := NewBucket(capacity, time.Hour, clockwork.NewFakeClock())

	granted := atomic.NewInt64(0)
	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			<-start
			if b.TryConsume() {
				granted.Inc()
			}
		}()
	}
	close(start)
	wg.Wait()

	require.EqualValues(t, capacity, granted.Load())
	require.Equal(t, 0, b.Status().Remaining)
}

func TestBucket_ConcurrentAcrossReset(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := NewBucket(20, time.Minute, clock)
	for b.TryConsume() {
	}
	clock.Advance(time.Minute)

	granted := atomic.NewInt64(0)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.TryConsume() {
				granted.Inc()
			}
		}()
	}
	wg.Wait()

	// a single reset happens for the whole wave
	require.EqualValues(t, 20, granted.Load())
}

func TestBucket_Status(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := NewBucket(2, time.Minute, clock)
	start := clock.Now()

	st := b.Status()
	assert.Equal(t, 2, st.Limit)
	assert.Equal(t, 2, st.Remaining)
	assert.Equal(t, start, st.ResetAt)

	require.True(t, b.TryConsume())
	clock.Advance(10 * time.Second)
	st = b.Status()
	assert.Equal(t, 1, st.Remaining)
	assert.Equal(t, start.Add(time.Minute), st.ResetAt)

	clock.Advance(time.Minute)
	st = b.Status()
	assert.Equal(t, 2, st.Remaining, "due refill is reported as full")
	assert.Equal(t, clock.Now(), st.ResetAt)
}
