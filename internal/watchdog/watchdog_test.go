package watchdog

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWatchdogFiresAfterTimeout(t *testing.T) {
	var mu sync.Mutex
	var calls int

	w := New(5*time.Millisecond, 20*time.Millisecond, func(elapsed time.Duration) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	w.Start()
	defer w.Stop()

	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Greater(t, calls, 0)
}

func TestWatchdogKickPreventsFiring(t *testing.T) {
	var mu sync.Mutex
	var calls int

	w := New(5*time.Millisecond, 30*time.Millisecond, func(elapsed time.Duration) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	w.Start()
	defer w.Stop()

	stop := time.After(80 * time.Millisecond)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-stop:
			break loop
		case <-ticker.C:
			w.Kick()
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, calls)
}

func TestWatchdogSetTimeoutDoesNotKick(t *testing.T) {
	w := New(5*time.Millisecond, time.Hour, func(elapsed time.Duration) {})
	before := w.lastKick
	w.SetTimeout(time.Minute)
	assert.Equal(t, before, w.lastKick)
	assert.Equal(t, time.Minute, w.timeout)
}

func TestWatchdogTripsCountsFirings(t *testing.T) {
	w := New(5*time.Millisecond, 20*time.Millisecond, func(elapsed time.Duration) {})
	w.Start()
	defer w.Stop()

	time.Sleep(60 * time.Millisecond)

	assert.Greater(t, w.Trips(), int64(0))
}

func TestWatchdogStopEndsGoroutine(t *testing.T) {
	var mu sync.Mutex
	var calls int

	w := New(time.Millisecond, time.Millisecond, func(elapsed time.Duration) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	w.Start()
	w.Stop()

	mu.Lock()
	n := calls
	mu.Unlock()

	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, n, calls)
}
