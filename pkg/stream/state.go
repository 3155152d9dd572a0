package stream

import (
	"sync"
	"sync/atomic"
)

// State is the lifecycle of a background worker. A worker only moves forward:
// Running -> StopRequested -> Terminated, or straight from Running to Terminated
// when its device link goes away.
type State int32

const (
	Running State = iota
	StopRequested
	Terminated
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case StopRequested:
		return "stop-requested"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// lifecycle holds a worker's state and the channels that announce transitions.
type lifecycle struct {
	state    atomic.Int32
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newLifecycle() *lifecycle {
	return &lifecycle{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (l *lifecycle) State() State {
	return State(l.state.Load())
}

// requestStop moves Running to StopRequested. It is safe to call repeatedly.
func (l *lifecycle) requestStop() {
	if l.state.CompareAndSwap(int32(Running), int32(StopRequested)) {
		l.closeStop()
	}
}

func (l *lifecycle) stopRequested() bool {
	return l.State() != Running
}

// terminate records the final state and releases Done waiters.
func (l *lifecycle) terminate() {
	if l.state.Swap(int32(Terminated)) != int32(Terminated) {
		l.closeStop()
		close(l.done)
	}
}

func (l *lifecycle) closeStop() {
	l.stopOnce.Do(func() { close(l.stop) })
}
