package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue[int]()

	_, ok := q.Pop()
	assert.False(t, ok)
	assert.Nil(t, q.Drain())

	q.Push(1)
	q.Push(2)
	q.Push(3)
	assert.Equal(t, 3, q.Len())

	v, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	assert.Equal(t, []int{2, 3}, q.Drain())
	assert.Equal(t, 0, q.Len())
}

func TestQueue_ConcurrentPush(t *testing.T) {
	q := NewQueue[int]()

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 100 {
				q.Push(i*100 + j)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, q.Drain(), 800)
}

func TestEvent(t *testing.T) {
	e := NewEvent()
	assert.False(t, e.IsSet())

	e.Set()
	e.Set()
	assert.True(t, e.IsSet())

	assert.True(t, e.WaitTimeout(context.Background(), time.Second))
	assert.False(t, e.IsSet())

	e.Set()
	e.Clear()
	assert.False(t, e.WaitTimeout(context.Background(), 10*time.Millisecond))
}

func TestEvent_WaitCancelled(t *testing.T) {
	e := NewEvent()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, e.WaitTimeout(ctx, time.Second))
}

func TestEvent_WakesWaiter(t *testing.T) {
	e := NewEvent()
	woke := make(chan bool)

	go func() {
		woke <- e.WaitTimeout(context.Background(), time.Second)
	}()

	time.Sleep(10 * time.Millisecond)
	e.Set()

	select {
	case ok := <-woke:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("waiter was not released")
	}
}

func TestLifecycle(t *testing.T) {
	l := newLifecycle()
	assert.Equal(t, Running, l.State())
	assert.False(t, l.stopRequested())

	l.requestStop()
	l.requestStop()
	assert.Equal(t, StopRequested, l.State())
	assert.True(t, l.stopRequested())

	select {
	case <-l.stop:
	default:
		t.Fatal("stop channel not closed")
	}

	l.terminate()
	l.terminate()
	assert.Equal(t, Terminated, l.State())

	select {
	case <-l.done:
	default:
		t.Fatal("done channel not closed")
	}

	// A late stop request must not move the state backwards.
	l.requestStop()
	assert.Equal(t, Terminated, l.State())
}

func TestLifecycle_TerminateWithoutStop(t *testing.T) {
	l := newLifecycle()
	l.terminate()

	assert.Equal(t, Terminated, l.State())
	assert.True(t, l.stopRequested())
	l.requestStop()

	select {
	case <-l.stop:
	default:
		t.Fatal("stop channel not closed")
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "stop-requested", StopRequested.String())
	assert.Equal(t, "terminated", Terminated.String())
	assert.Equal(t, "unknown", State(42).String())
}
