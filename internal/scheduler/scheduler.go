// Package scheduler spaces task starts to respect an external request
// budget: at most one task begins per interval, in submission order.
package scheduler

import (
	"container/heap"
	"log/slog"
	"sync"
	"time"
)

type task struct {
	runAt time.Time
	seq   uint64 // submission order, breaks runAt ties
	fn    func()
}

type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].runAt.Equal(h[j].runAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].runAt.Before(h[j].runAt)
}
func (h taskHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)        { *h = append(*h, x.(*task)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// Scheduler releases at most one task per interval. Submissions are
// non-blocking; a single waiter goroutine sleeps until the earliest
// deadline and executes tasks one at a time. Construct instances
// explicitly and pass them in; there is no package-level default.
type Scheduler struct {
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
	onDepth  func(int) // observes queue depth changes, may be nil

	mu    sync.Mutex
	tasks taskHeap
	last  time.Time // lastScheduledRunAt
	seq   uint64

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithDepthObserver reports queue depth after every change (metrics hook).
func WithDepthObserver(fn func(int)) Option {
	return func(s *Scheduler) { s.onDepth = fn }
}

// New starts a scheduler releasing one task per interval.
func New(interval time.Duration, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		interval: interval,
		logger:   logger,
		now:      time.Now,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.run()
	return s
}

// Schedule enqueues fn and returns immediately. The start time is
// max(now, lastScheduledRunAt + interval), which keeps starts monotonically
// spaced even under bursts.
func (s *Scheduler) Schedule(fn func()) {
	s.mu.Lock()
	now := s.now()
	runAt := now
	if next := s.last.Add(s.interval); next.After(now) {
		runAt = next
	}
	s.last = runAt
	s.seq++
	heap.Push(&s.tasks, &task{runAt: runAt, seq: s.seq, fn: fn})
	depth := len(s.tasks)
	s.mu.Unlock()

	if s.onDepth != nil {
		s.onDepth(depth)
	}
	// wake the waiter; a pending signal is enough
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Close stops the waiter. Queued tasks are abandoned.
func (s *Scheduler) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *Scheduler) run() {
	for {
		s.mu.Lock()
		if len(s.tasks) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}

		next := s.tasks[0]
		wait := next.runAt.Sub(s.now())
		if wait <= 0 {
			heap.Pop(&s.tasks)
			depth := len(s.tasks)
			s.mu.Unlock()
			if s.onDepth != nil {
				s.onDepth(depth)
			}
			s.execute(next)
			continue
		}
		s.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-s.wake:
			// an earlier deadline may have been pushed
			timer.Stop()
		case <-s.done:
			timer.Stop()
			return
		}
	}
}

// execute runs one task, containing panics so a bad task cannot stop the
// scheduler loop.
func (s *Scheduler) execute(t *task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled task panicked", "panic", r)
		}
	}()
	t.fn()
}
