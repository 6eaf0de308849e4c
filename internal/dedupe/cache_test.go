// ABOUTME: Tests for the dedupe cache guarding relay fan-out from redelivery
// ABOUTME: Validates TTL expiration, size-bound eviction and concurrency safety

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_Seen_NotMarked(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	assert.False(t, cache.Seen("never-marked"))
}

func TestCache_Seen_Marked(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	cache.Mark("msg-1")
	assert.True(t, cache.Seen("msg-1"))
	assert.False(t, cache.Seen("msg-2"))
}

func TestCache_Seen_Expired(t *testing.T) {
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	cache.Mark("expiring")
	assert.True(t, cache.Seen("expiring"))

	time.Sleep(20 * time.Millisecond)
	assert.False(t, cache.Seen("expiring"))
}

func TestCache_Mark_RefreshesTimestamp(t *testing.T) {
	cache := New(50*time.Millisecond, 100)
	defer cache.Close()

	cache.Mark("refreshed")
	time.Sleep(30 * time.Millisecond)
	cache.Mark("refreshed")
	time.Sleep(30 * time.Millisecond)

	// Past the original TTL but within the refreshed one.
	assert.True(t, cache.Seen("refreshed"))
}

func TestCache_EvictsOldestAtCapacity(t *testing.T) {
	cache := New(5*time.Minute, 3)
	defer cache.Close()

	cache.Mark("first")
	cache.Mark("second")
	cache.Mark("third")
	cache.Mark("fourth")

	assert.False(t, cache.Seen("first"), "oldest key should be evicted")
	assert.True(t, cache.Seen("second"))
	assert.True(t, cache.Seen("third"))
	assert.True(t, cache.Seen("fourth"))

	cache.Mark("fifth")
	assert.False(t, cache.Seen("second"), "eviction follows insertion order")
	assert.True(t, cache.Seen("fifth"))
}

func TestCache_SweepRemovesExpired(t *testing.T) {
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	cache.Mark("sweep-1")
	cache.Mark("sweep-2")

	time.Sleep(20 * time.Millisecond)
	cache.runSweep()

	cache.mu.RLock()
	mapLen := len(cache.seen)
	listLen := cache.order.Len()
	cache.mu.RUnlock()
	assert.Equal(t, 0, mapLen, "sweep should drop expired entries from the map")
	assert.Equal(t, 0, listLen, "sweep should drop expired entries from the order list")
}

func TestCache_SeenOrMark(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	assert.False(t, cache.SeenOrMark("msg-1"), "first delivery is new")
	assert.True(t, cache.SeenOrMark("msg-1"), "redelivery is a duplicate")
	assert.False(t, cache.SeenOrMark("msg-2"))
}

func TestCache_SeenOrMark_Expired(t *testing.T) {
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	assert.False(t, cache.SeenOrMark("expiring"))
	assert.True(t, cache.SeenOrMark("expiring"))

	time.Sleep(20 * time.Millisecond)
	assert.False(t, cache.SeenOrMark("expiring"), "expired key counts as new again")
}

func TestCache_SeenOrMark_Atomic(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	const numGoroutines = 100

	var mu sync.Mutex
	winners := 0
	var wg sync.WaitGroup

	for i := 0; i < numGoroutines; i++ {
		wg.Go(func() {
			if !cache.SeenOrMark("contested") {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		})
	}
	wg.Wait()

	assert.Equal(t, 1, winners, "exactly one caller should observe the key as new")
}

func TestCache_Concurrent(t *testing.T) {
	cache := New(5*time.Minute, 1000)
	defer cache.Close()

	const numGoroutines = 50
	const opsPerGoroutine = 100

	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Go(func() {
			for j := 0; j < opsPerGoroutine; j++ {
				key := fmt.Sprintf("msg-%d", j)
				cache.Mark(key)
				cache.Seen(key)
			}
		})
	}
	wg.Wait()

	cache.Mark("final")
	assert.True(t, cache.Seen("final"))
}

func TestCache_Close(t *testing.T) {
	cache := New(5*time.Minute, 100)

	cache.Mark("before-close")
	assert.True(t, cache.Seen("before-close"))

	cache.Close()
	cache.Close() // idempotent
}
