package kernel

import "sync"

// opLoop serializes kernel operations with run-to-completion semantics.
// The first goroutine to drain becomes the loop runner and processes the
// queue in FIFO order, so a synchronous caller returns only after its op
// and everything that op scheduled have executed. Ops pushed re-entrantly
// (from a handler or timer callback already inside the loop) run after the
// op in flight; the nested drain is a no-op, which is what makes
// re-entrant emission deadlock-free.
type opLoop struct {
	mu      sync.Mutex
	queue   []func()
	running bool
}

// push appends fn to the queue without draining.
func (l *opLoop) push(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
}

// drain processes the queue until empty, unless a runner is already
// active, in which case it returns immediately.
func (l *opLoop) drain() {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	for len(l.queue) > 0 {
		var next = l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()
		next()
		l.mu.Lock()
	}
	l.running = false
	l.mu.Unlock()
}

// run pushes fn and drains.
func (l *opLoop) run(fn func()) {
	l.push(fn)
	l.drain()
}
