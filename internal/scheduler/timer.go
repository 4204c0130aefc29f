package scheduler

import (
	"container/heap"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

// TimerWheel schedules one-shot callbacks at absolute times. The
// scheduler only depends on this contract; the heap implementation
// below is the production one and tests may substitute their own.
type TimerWheel interface {
	RegisterOnce(at time.Time, payload uint) string
	Cancel(handle string) bool
	EnumerateActive() []TimerEntry
}

// TimerEntry is one live registration.
type TimerEntry struct {
	Handle  string
	At      time.Time
	Payload uint
}

type timerEntry struct {
	handle    string
	at        time.Time
	payload   uint
	index     int
	cancelled bool
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h timerHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }

func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// HeapTimerWheel is a min-heap of registrations drained by a single
// wake goroutine. Cancellation marks the entry synchronously, so a
// cancelled handle can never reach the fire callback after Cancel
// returns.
type HeapTimerWheel struct {
	fire   func(payload uint)
	logger hclog.Logger

	mu       sync.Mutex
	entries  timerHeap
	byHandle map[string]*timerEntry

	wake chan struct{}
	quit chan struct{}
	once sync.Once
}

func NewHeapTimerWheel(fire func(payload uint), logger hclog.Logger) *HeapTimerWheel {
	return &HeapTimerWheel{
		fire:     fire,
		logger:   logger.Named("timer-wheel"),
		byHandle: make(map[string]*timerEntry),
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
	}
}

// Start launches the wake goroutine.
func (w *HeapTimerWheel) Start() {
	go w.run()
}

// Close stops the wake goroutine. Registered entries stay in memory
// and are not fired.
func (w *HeapTimerWheel) Close() {
	w.once.Do(func() { close(w.quit) })
}

// RegisterOnce queues a payload for delivery at the given time and
// returns an opaque handle for cancellation.
func (w *HeapTimerWheel) RegisterOnce(at time.Time, payload uint) string {
	e := &timerEntry{
		handle:  uuid.NewString(),
		at:      at.UTC(),
		payload: payload,
	}
	w.mu.Lock()
	heap.Push(&w.entries, e)
	w.byHandle[e.handle] = e
	w.mu.Unlock()
	w.kick()
	return e.handle
}

// Cancel deregisters a handle. It reports whether the handle was still
// live.
func (w *HeapTimerWheel) Cancel(handle string) bool {
	w.mu.Lock()
	e, ok := w.byHandle[handle]
	if ok {
		e.cancelled = true
		delete(w.byHandle, handle)
	}
	w.mu.Unlock()
	if ok {
		w.kick()
	}
	return ok
}

// EnumerateActive lists every live registration.
func (w *HeapTimerWheel) EnumerateActive() []TimerEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]TimerEntry, 0, len(w.byHandle))
	for _, e := range w.byHandle {
		out = append(out, TimerEntry{Handle: e.handle, At: e.at, Payload: e.payload})
	}
	return out
}

func (w *HeapTimerWheel) kick() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *HeapTimerWheel) run() {
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	for {
		now := time.Now().UTC()
		var due []*timerEntry

		w.mu.Lock()
		for len(w.entries) > 0 {
			head := w.entries[0]
			if head.cancelled {
				heap.Pop(&w.entries)
				continue
			}
			if head.at.After(now) {
				break
			}
			heap.Pop(&w.entries)
			delete(w.byHandle, head.handle)
			due = append(due, head)
		}
		wait := time.Duration(-1)
		if len(w.entries) > 0 {
			wait = w.entries[0].at.Sub(now)
		}
		w.mu.Unlock()

		for _, e := range due {
			w.logger.Debug("timer fired", "handle", e.handle, "payload", e.payload)
			go w.fire(e.payload)
		}

		if wait < 0 {
			select {
			case <-w.wake:
			case <-w.quit:
				return
			}
			continue
		}
		timer.Reset(wait)
		select {
		case <-timer.C:
		case <-w.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-w.quit:
			timer.Stop()
			return
		}
	}
}
