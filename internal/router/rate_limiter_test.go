package router

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_BurstThenReject(t *testing.T) {
	rl := NewRateLimiter(1, 3)
	frozen := time.Now()
	rl.now = func() time.Time { return frozen }

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("alice"), "event %d within burst", i)
	}
	assert.False(t, rl.Allow("alice"))

	// Buckets are per user.
	assert.True(t, rl.Allow("bob"))
}

func TestRateLimiter_Refills(t *testing.T) {
	rl := NewRateLimiter(10, 1)
	now := time.Now()
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("alice"))
	assert.False(t, rl.Allow("alice"))

	now = now.Add(150 * time.Millisecond)
	assert.True(t, rl.Allow("alice"))
}

func TestRateLimiter_DisabledWhenRateNotPositive(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	for i := 0; i < 1000; i++ {
		if !rl.Allow("alice") {
			t.Fatalf("event %d rejected with limiting disabled", i)
		}
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(5, 5)
	now := time.Now()
	rl.now = func() time.Time { return now }

	rl.Allow("alice")
	now = now.Add(10 * time.Minute)
	rl.Allow("bob")

	assert.Equal(t, 2, rl.Tracked())
	assert.Equal(t, 1, rl.Cleanup(5*time.Minute))
	assert.Equal(t, 1, rl.Tracked())
}

func TestRateLimiter_Concurrent(t *testing.T) {
	rl := NewRateLimiter(1000, 1000)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rl.Allow("alice")
			rl.Cleanup(time.Minute)
		}()
	}
	wg.Wait()
}
