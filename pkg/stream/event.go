package stream

import (
	"context"
	"time"
)

// Event is a level-triggered flag. Set is idempotent; a successful wait consumes the flag.
type Event struct {
	ch chan struct{}
}

// NewEvent creates a cleared event.
func NewEvent() *Event {
	return &Event{ch: make(chan struct{}, 1)}
}

// Set raises the flag without blocking.
func (e *Event) Set() {
	select {
	case e.ch <- struct{}{}:
	default:
	}
}

// Clear lowers the flag.
func (e *Event) Clear() {
	select {
	case <-e.ch:
	default:
	}
}

// IsSet reports whether the flag is raised without consuming it.
func (e *Event) IsSet() bool {
	return len(e.ch) > 0
}

// C returns a channel that yields once per Set. Receiving clears the flag.
func (e *Event) C() <-chan struct{} {
	return e.ch
}

// WaitTimeout blocks until the flag is raised, then clears it. It returns
// false if d elapses or ctx is done first.
func (e *Event) WaitTimeout(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-e.ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
