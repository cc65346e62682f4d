package xdispatch

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xclock"
)

// scheduler holds delayed publishes and retry-scheduled records until their
// due time, then hands them back to the dispatcher. One background driver
// sleeps until the earliest deadline; each due item runs on its own
// goroutine so a blocking re-dispatch never stalls the timer loop.
type scheduler struct {
	clock xclock.Clock

	mu    sync.Mutex
	items scheduleHeap
	wake  chan struct{}
	stop  chan struct{}
	done  sync.WaitGroup
}

type scheduledItem struct {
	dueAt     time.Time
	run       func()
	cancelled atomic.Bool
	index     int
}

// ScheduleHandle allows cancelling a delayed item before it fires.
type ScheduleHandle struct {
	item *scheduledItem
}

// Cancel prevents the item from firing and reports whether it did so in
// time. Cancelling an in-flight or already-fired item is a no-op.
func (h *ScheduleHandle) Cancel() bool {
	if h == nil || h.item == nil {
		return false
	}
	return h.item.cancelled.CompareAndSwap(false, true)
}

// DueAt returns the scheduled fire time.
func (h *ScheduleHandle) DueAt() time.Time { return h.item.dueAt }

func newScheduler(clock xclock.Clock) *scheduler {
	s := &scheduler{
		clock: clock,
		wake:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
	}
	s.done.Add(1)
	go s.loop()
	return s
}

func (s *scheduler) schedule(dueAt time.Time, run func()) *ScheduleHandle {
	it := &scheduledItem{dueAt: dueAt, run: run}
	s.mu.Lock()
	heap.Push(&s.items, it)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return &ScheduleHandle{item: it}
}

func (s *scheduler) close() {
	close(s.stop)
	s.done.Wait()
}

// pending returns the number of undelivered scheduled items.
func (s *scheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items.Len()
}

func (s *scheduler) loop() {
	defer s.done.Done()
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		now := s.clock.Now()

		s.mu.Lock()
		for s.items.Len() > 0 {
			next := s.items[0]
			if next.dueAt.After(now) {
				break
			}
			heap.Pop(&s.items)
			if next.cancelled.Load() {
				continue
			}
			go next.run()
		}
		wait := time.Hour
		if s.items.Len() > 0 {
			wait = s.items[0].dueAt.Sub(now)
			if wait < 0 {
				wait = 0
			}
		}
		s.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-s.stop:
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}

type scheduleHeap []*scheduledItem

func (h scheduleHeap) Len() int            { return len(h) }
func (h scheduleHeap) Less(i, j int) bool  { return h[i].dueAt.Before(h[j].dueAt) }
func (h scheduleHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *scheduleHeap) Push(x any)         { it := x.(*scheduledItem); it.index = len(*h); *h = append(*h, it) }
func (h *scheduleHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}
