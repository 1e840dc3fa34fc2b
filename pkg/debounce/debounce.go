package debounce

import (
	"sync"
	"time"
)

// DefaultInterval is the quiet period used for free-text filters.
const DefaultInterval = 400 * time.Millisecond

// Debouncer buffers rapidly changing values and commits the latest one once
// no new value has arrived for the interval. Only values that differ from the
// last committed value are emitted.
type Debouncer[T comparable] struct {
	mu        sync.Mutex
	interval  time.Duration
	buffer    T
	committed T
	gen       uint64
	timer     *time.Timer
	commit    func(T)
	stopped   bool
}

// New creates a Debouncer whose committed value starts at initial.
func New[T comparable](interval time.Duration, initial T, commit func(T)) *Debouncer[T] {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if commit == nil {
		commit = func(T) {}
	}
	return &Debouncer[T]{interval: interval, buffer: initial, committed: initial, commit: commit}
}

// Push records v and restarts the quiet period.
func (d *Debouncer[T]) Push(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.buffer = v
	d.gen++
	gen := d.gen
	d.stopTimerLocked()
	d.timer = time.AfterFunc(d.interval, func() { d.fire(gen) })
}

// Sync adopts an externally changed value without emitting it. Any pending
// commit is dropped.
func (d *Debouncer[T]) Sync(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	d.stopTimerLocked()
	d.buffer = v
	d.committed = v
}

// Flush commits the buffered value immediately if one is pending.
func (d *Debouncer[T]) Flush() {
	d.mu.Lock()
	gen := d.gen
	d.mu.Unlock()
	d.fire(gen)
}

// Value returns the buffered, possibly uncommitted value.
func (d *Debouncer[T]) Value() T {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buffer
}

// Committed returns the last value handed to the commit callback or synced.
func (d *Debouncer[T]) Committed() T {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.committed
}

// Pending reports whether a commit is scheduled.
func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil && d.buffer != d.committed
}

// Stop cancels any pending commit. The debouncer ignores pushes afterwards.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.gen++
	d.stopTimerLocked()
}

func (d *Debouncer[T]) fire(gen uint64) {
	d.mu.Lock()
	if d.stopped || gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.stopTimerLocked()
	if d.buffer == d.committed {
		d.mu.Unlock()
		return
	}
	d.committed = d.buffer
	v := d.committed
	commit := d.commit
	d.mu.Unlock()

	commit(v)
}

func (d *Debouncer[T]) stopTimerLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
