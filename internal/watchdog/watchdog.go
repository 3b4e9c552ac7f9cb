// Package watchdog implements a liveness timer: a callback fires once a
// configured timeout has elapsed since the last Kick, and continues firing
// every check interval until Kick is called again.
package watchdog

import (
	"sync"
	"sync/atomic"
	"time"
)

// Callback is invoked when the watchdog detects it has not been kicked
// within its timeout. elapsed is the time since the last kick.
type Callback func(elapsed time.Duration)

// Watchdog runs a single goroutine that periodically checks whether it has
// been kicked recently enough; if not, it calls back with the elapsed time.
type Watchdog struct {
	mu       sync.Mutex
	interval time.Duration
	timeout  time.Duration
	lastKick time.Time
	callback Callback

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	trips int64
}

// New creates a Watchdog that checks every interval whether timeout has
// elapsed since the last Kick, invoking callback if so. The watchdog does
// not start running until Start is called.
func New(interval, timeout time.Duration, callback Callback) *Watchdog {
	return &Watchdog{
		interval: interval,
		timeout:  timeout,
		lastKick: time.Now(),
		callback: callback,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the watchdog's monitoring goroutine. It returns immediately;
// call Stop to end monitoring.
func (w *Watchdog) Start() {
	go w.run()
}

func (w *Watchdog) run() {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.mu.Lock()
			elapsed := time.Since(w.lastKick)
			timeout := w.timeout
			cb := w.callback
			w.mu.Unlock()
			if elapsed > timeout {
				atomic.AddInt64(&w.trips, 1)
				cb(elapsed)
			}
		}
	}
}

// Trips returns the number of times the watchdog has fired since creation.
func (w *Watchdog) Trips() int64 {
	return atomic.LoadInt64(&w.trips)
}

// Kick resets the watchdog's timeout countdown.
func (w *Watchdog) Kick() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastKick = time.Now()
}

// SetTimeout changes the watchdog's timeout without kicking it.
func (w *Watchdog) SetTimeout(timeout time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.timeout = timeout
}

// Stop ends the watchdog's monitoring goroutine and waits for it to exit.
func (w *Watchdog) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
}
