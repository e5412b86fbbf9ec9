// Package scheduler implements the agent's cooperative, single-threaded
// timer loop: one-shot and repeating tasks, cancellation by id, and a
// clean, ordered shutdown. It is the Go shape of the original's
// uloop-backed scheduler (lib/core/uloop_scheduler.c): callbacks run on
// one goroutine, never concurrently, in fire-time order.
//
// Schedule/cancel requests mutate the task registry under a mutex
// rather than through a request/response channel, specifically so that
// a callback running on Run's own goroutine can call ScheduleOnce,
// ScheduleRepeating, or Cancel on itself without deadlocking: the
// mutex is never held while a callback runs, so re-entering the
// scheduler from inside a callback just takes the lock, mutates the
// heap, and returns — it never waits on Run's own select loop the way
// a synchronous request/response round trip would. This is what lets
// spec.md §4.1's "the callback may safely re-schedule itself" and
// "cancel from within a task's own callback is allowed" hold.
package scheduler

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"
)

// ID identifies a scheduled task. Zero is never issued and means
// "invalid/not scheduled", matching the original's task_id_t
// convention.
type ID uint32

// Func is a scheduled callback. It must not block longer than its
// task budget allows; suspension points are between callbacks, never
// within one, per spec.md §5.
type Func func(ctx context.Context)

type task struct {
	id        ID
	fireAt    time.Time
	fn        Func
	repeating bool
	interval  time.Duration
	seq       uint64 // registration order, for stable heap ordering
	index     int    // heap index, maintained by container/heap
}

// taskHeap orders tasks by fire time, breaking ties by registration
// order so that tasks due at the same instant fire in the order they
// were scheduled, matching spec.md §4.1's ordering rule.
type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].fireAt.Equal(h[j].fireAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].fireAt.Before(h[j].fireAt)
}
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *taskHeap) Push(x any) {
	t := x.(*task)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Scheduler is the cooperative timer loop. Construct with New, then
// call Run from the goroutine that should execute callbacks.
type Scheduler struct {
	logger *slog.Logger

	mu      sync.Mutex
	heap    taskHeap
	byID    map[ID]*task
	nextID  ID
	nextSeq uint64

	wake     chan struct{}
	shutdown chan struct{}
	shutOnce sync.Once
}

// New returns an uninitialized-but-ready scheduler. There is no
// separate Init step: construction and initialization are the same
// operation in Go, unlike the original's scheduler_init(), which only
// needed to exist because the C global registry had to be reset
// explicitly.
func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		logger:   logger,
		byID:     make(map[ID]*task),
		wake:     make(chan struct{}, 1),
		shutdown: make(chan struct{}),
		nextID:   1,
	}
}

// ScheduleOnce arranges for fn to run once, no earlier than delay
// from now. Returns a non-zero id, or 0 if the scheduler has already
// shut down. Safe to call from within a running task's own callback.
func (s *Scheduler) ScheduleOnce(delay time.Duration, fn Func) ID {
	return s.enqueue(delay, 0, false, fn)
}

// ScheduleRepeating arranges for fn to run first after delay, then
// every interval. interval must be > 0; a non-positive interval
// returns 0, mirroring the original's rejection of a zero interval.
// Safe to call from within a running task's own callback.
func (s *Scheduler) ScheduleRepeating(delay, interval time.Duration, fn Func) ID {
	if interval <= 0 {
		s.logger.Error("invalid interval for repeating task")
		return 0
	}
	return s.enqueue(delay, interval, true, fn)
}

func (s *Scheduler) enqueue(delay, interval time.Duration, repeating bool, fn Func) ID {
	if fn == nil {
		s.logger.Error("invalid callback function")
		return 0
	}

	select {
	case <-s.shutdown:
		return 0
	default:
	}

	t := &task{
		fireAt:    time.Now().Add(delay),
		fn:        fn,
		repeating: repeating,
		interval:  interval,
	}

	s.mu.Lock()
	t.id = s.nextID
	s.nextID++
	if s.nextID == 0 {
		s.nextID = 1
	}
	t.seq = s.nextSeq
	s.nextSeq++
	heap.Push(&s.heap, t)
	s.byID[t.id] = t
	s.mu.Unlock()

	s.notify()
	return t.id
}

// Cancel removes a pending task. Returns true iff a pending task with
// that id existed; calling it again for the same id returns false.
// Safe to call from within a running task's own callback.
func (s *Scheduler) Cancel(id ID) bool {
	if id == 0 {
		return false
	}

	s.mu.Lock()
	t, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	heap.Remove(&s.heap, t.index)
	delete(s.byID, id)
	s.mu.Unlock()

	s.notify()
	return true
}

// notify wakes Run's select loop so it reconsiders the heap's new
// head immediately instead of waiting out a timer armed against the
// old one. Never blocks: a pending wake is as good as two.
func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Shutdown cancels every registered task and terminates Run. Safe to
// call from within a task callback or concurrently from any
// goroutine; idempotent.
func (s *Scheduler) Shutdown() {
	s.shutOnce.Do(func() { close(s.shutdown) })
}

// Run blocks, executing due tasks in fire-time order, until Shutdown
// is called or ctx is canceled. It returns when the loop stops. Every
// callback it invokes runs to completion on this goroutine before the
// next is considered, so callbacks never run concurrently with each
// other — the single-threaded-cooperative contract spec.md §5
// requires. The registry mutex is released before a callback runs, so
// a callback that calls back into the scheduler re-enters safely.
func (s *Scheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	armTimer := func() {
		s.mu.Lock()
		n := s.heap.Len()
		var fireAt time.Time
		if n > 0 {
			fireAt = s.heap[0].fireAt
		}
		s.mu.Unlock()

		timer.Stop()
		select {
		case <-timer.C:
		default:
		}
		if n == 0 {
			return
		}
		d := time.Until(fireAt)
		if d < 0 {
			d = 0
		}
		timer.Reset(d)
	}

	for {
		armTimer()
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping: context canceled")
			return ctx.Err()

		case <-s.shutdown:
			s.mu.Lock()
			pending := s.heap.Len()
			s.mu.Unlock()
			s.logger.Info("scheduler shutting down", "pending_tasks", pending)
			return nil

		case <-s.wake:
			// A schedule/cancel changed the heap's head; loop back
			// around to re-arm the timer against the new state.

		case <-timer.C:
			now := time.Now()
			for {
				s.mu.Lock()
				if s.heap.Len() == 0 || s.heap[0].fireAt.After(now) {
					s.mu.Unlock()
					break
				}
				t := heap.Pop(&s.heap).(*task)
				delete(s.byID, t.id)

				if t.repeating {
					t.fireAt = t.fireAt.Add(t.interval)
					if t.fireAt.Before(now) {
						t.fireAt = now.Add(t.interval)
					}
					t.seq = s.nextSeq
					s.nextSeq++
					heap.Push(&s.heap, t)
					s.byID[t.id] = t
				}
				s.mu.Unlock()

				s.runTask(ctx, t)
			}
		}
	}
}

func (s *Scheduler) runTask(ctx context.Context, t *task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task callback panicked", "task_id", t.id, "panic", r)
		}
	}()
	t.fn(ctx)
}
