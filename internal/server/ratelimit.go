package server

import "time"

// windowCounter is the per-connection fixed-window message counter.
// It is only touched by the connection's run loop.
type windowCounter struct {
	window  time.Duration
	max     int
	count   int
	started time.Time
}

func newWindowCounter(window time.Duration, max int, now time.Time) windowCounter {
	return windowCounter{window: window, max: max, started: now}
}

// allow counts one message at now and reports whether the connection is
// still within its budget. When more than window has passed since the
// window started, the count restarts at 1.
func (w *windowCounter) allow(now time.Time) bool {
	w.count++
	if now.Sub(w.started) > w.window {
		w.count = 1
		w.started = now
	}
	return w.count <= w.max
}
