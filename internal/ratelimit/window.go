// Package ratelimit limits story generation requests per client with a fixed window.
package ratelimit

import (
	"sync"
	"time"
)

// Result describes one Allow decision.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// RetryAfter is the whole number of seconds until the window resets, at least one.
func (r Result) RetryAfter(now time.Time) int {
	secs := int(r.Reset.Sub(now).Seconds() + 0.999)
	if secs < 1 {
		secs = 1
	}
	return secs
}

type window struct {
	count int
	reset time.Time
}

// FixedWindow allows limit requests per client in windows that start at the
// client's first request.
type FixedWindow struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	dur     time.Duration
	now     func() time.Time

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewFixedWindow creates a limiter and starts a goroutine that drops expired
// windows every cleanup interval. A non-positive interval disables cleanup.
func NewFixedWindow(limit int, dur, cleanup time.Duration) *FixedWindow {
	if limit <= 0 {
		limit = 10
	}
	if dur <= 0 {
		dur = time.Minute
	}
	fw := &FixedWindow{
		windows: make(map[string]*window),
		limit:   limit,
		dur:     dur,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	if cleanup > 0 {
		fw.wg.Add(1)
		go fw.cleanupLoop(cleanup)
	}
	return fw
}

// Allow records a request from client and reports whether it is within the limit.
// Rejected requests do not count.
func (fw *FixedWindow) Allow(client string) Result {
	now := fw.now()
	fw.mu.Lock()
	defer fw.mu.Unlock()

	w, ok := fw.windows[client]
	if !ok || now.After(w.reset) {
		w = &window{count: 1, reset: now.Add(fw.dur)}
		fw.windows[client] = w
		return Result{Allowed: true, Limit: fw.limit, Remaining: fw.limit - 1, Reset: w.reset}
	}
	if w.count >= fw.limit {
		return Result{Allowed: false, Limit: fw.limit, Remaining: 0, Reset: w.reset}
	}
	w.count++
	return Result{Allowed: true, Limit: fw.limit, Remaining: fw.limit - w.count, Reset: w.reset}
}

// Len is the number of tracked clients.
func (fw *FixedWindow) Len() int {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return len(fw.windows)
}

// Cleanup drops windows that have expired.
func (fw *FixedWindow) Cleanup() {
	now := fw.now()
	fw.mu.Lock()
	defer fw.mu.Unlock()
	for k, w := range fw.windows {
		if now.After(w.reset) {
			delete(fw.windows, k)
		}
	}
}

func (fw *FixedWindow) cleanupLoop(every time.Duration) {
	defer fw.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			fw.Cleanup()
		case <-fw.stop:
			return
		}
	}
}

// Stop ends the cleanup goroutine.
func (fw *FixedWindow) Stop() {
	select {
	case <-fw.stop:
	default:
		close(fw.stop)
	}
	fw.wg.Wait()
}
