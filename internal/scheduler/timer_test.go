package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerWheelFires(t *testing.T) {
	fired := make(chan uint, 1)
	w := NewHeapTimerWheel(func(p uint) { fired <- p }, hclog.NewNullLogger())
	w.Start()
	defer w.Close()

	w.RegisterOnce(time.Now().Add(50*time.Millisecond), 7)

	select {
	case p := <-fired:
		assert.Equal(t, uint(7), p)
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestTimerWheelFiresInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []uint
	done := make(chan struct{})
	w := NewHeapTimerWheel(func(p uint) {
		mu.Lock()
		got = append(got, p)
		n := len(got)
		mu.Unlock()
		if n == 2 {
			close(done)
		}
	}, hclog.NewNullLogger())
	w.Start()
	defer w.Close()

	// Register out of order; the heap must fire earliest first.
	w.RegisterOnce(time.Now().Add(150*time.Millisecond), 2)
	w.RegisterOnce(time.Now().Add(50*time.Millisecond), 1)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timers did not fire")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint{1, 2}, got)
}

func TestTimerWheelCancel(t *testing.T) {
	fired := make(chan uint, 1)
	w := NewHeapTimerWheel(func(p uint) { fired <- p }, hclog.NewNullLogger())
	w.Start()
	defer w.Close()

	handle := w.RegisterOnce(time.Now().Add(150*time.Millisecond), 9)
	require.True(t, w.Cancel(handle))

	select {
	case <-fired:
		t.Fatal("cancelled timer fired")
	case <-time.After(400 * time.Millisecond):
	}
}

func TestTimerWheelCancelUnknown(t *testing.T) {
	w := NewHeapTimerWheel(func(uint) {}, hclog.NewNullLogger())
	assert.False(t, w.Cancel("no-such-handle"))
}

func TestTimerWheelEnumerateActive(t *testing.T) {
	w := NewHeapTimerWheel(func(uint) {}, hclog.NewNullLogger())

	handle := w.RegisterOnce(time.Now().Add(time.Hour), 3)
	entries := w.EnumerateActive()
	require.Len(t, entries, 1)
	assert.Equal(t, handle, entries[0].Handle)
	assert.Equal(t, uint(3), entries[0].Payload)

	w.Cancel(handle)
	assert.Empty(t, w.EnumerateActive())
}
