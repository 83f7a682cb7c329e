package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/G-Research/tabsink/internal/tabsink/capacity"
)

var ErrClosed = errors.New("scheduler is closed")

// Executor performs a single write against the sink.
type Executor interface {
	Execute(ctx context.Context, payload any) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, payload any) error

func (f ExecutorFunc) Execute(ctx context.Context, payload any) error {
	return f(ctx, payload)
}

// ErrorHandler receives one *WriteError per failed write.  It is called from the goroutine that performed the
// write, before that write counts as settled, and must not call back into the Scheduler's blocking methods.
type ErrorHandler func(err error)

// Observer is notified of scheduler activity, typically to publish metrics.  Calls may be made with the
// scheduler lock held so implementations must not block.
type Observer interface {
	RecordSubmitted()
	RecordSettled(err error, duration time.Duration)
	RecordQueueState(outstanding int, buffered int, ceiling int)
}

type row struct {
	seq     uint64
	payload any
}

// Stats is a point-in-time snapshot of a Scheduler.
type Stats struct {
	Accepted       uint64
	Submitted      uint64
	Succeeded      uint64
	Failed         uint64
	Outstanding    int
	Buffered       int
	Ceiling        int
	MaxOutstanding int
}

// Scheduler submits rows to an Executor while fewer than oracle.Ceiling() writes are outstanding and queues the
// rest in arrival order.  Every settled write drains as much of the queue as the ceiling allows, so rows are
// always submitted in the order they were accepted.
type Scheduler struct {
	ctx      context.Context
	executor Executor
	oracle   capacity.Oracle
	onError  ErrorHandler
	observer Observer

	mu      sync.Mutex
	settled *sync.Cond
	// Submitted tickets in id order.  Settled tickets are swept out lazily.
	tickets    []*Ticket
	pending    int
	buffer     []row
	nextSeq    uint64
	nextTicket uint64
	closed     bool
	stats      Stats
}

// New creates a Scheduler.  ctx is passed to every Execute call; onError and observer may be nil.
func New(ctx context.Context, executor Executor, oracle capacity.Oracle, onError ErrorHandler, observer Observer) *Scheduler {
	s := &Scheduler{
		ctx:      ctx,
		executor: executor,
		oracle:   oracle,
		onError:  onError,
		observer: observer,
	}
	s.settled = sync.NewCond(&s.mu)
	return s
}

// Submit accepts a row for writing and returns its sequence number.  It never blocks on the sink: if the
// ceiling has been reached the row is buffered until capacity frees up.
func (s *Scheduler) Submit(payload any) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	seq := s.nextSeq
	s.nextSeq++
	s.stats.Accepted++
	s.buffer = append(s.buffer, row{seq: seq, payload: payload})
	s.drainLocked()
	return seq, nil
}

// Close stops the scheduler accepting new rows.  Rows already accepted are still written.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// AwaitDrain blocks until the buffer is empty and no write is outstanding, observed together under one lock.
// Settling a write can submit buffered rows, so the condition is re-checked after every settlement.
// An error is returned only if ctx ends first.
func (s *Scheduler) AwaitDrain(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.settled.Broadcast()
			s.mu.Unlock()
		case <-done:
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		s.drainLocked()
		if s.pending == 0 && len(s.buffer) == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, "waiting for %d outstanding and %d buffered writes", s.pending, len(s.buffer))
		}
		s.settled.Wait()
	}
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := s.stats
	stats.Outstanding = s.pending
	stats.Buffered = len(s.buffer)
	return stats
}

// drainLocked sweeps settled tickets and then submits buffered rows, oldest first, until the ceiling is reached.
// The ceiling is re-read before every submission since the sink's topology may change at any time.
func (s *Scheduler) drainLocked() {
	s.sweepLocked()
	ceiling := s.oracle.Ceiling()
	for len(s.buffer) > 0 && s.pending < ceiling {
		next := s.buffer[0]
		s.buffer[0] = row{}
		s.buffer = s.buffer[1:]
		s.submitLocked(next)
		ceiling = s.oracle.Ceiling()
	}
	if len(s.buffer) == 0 {
		s.buffer = nil
	}
	s.stats.Ceiling = ceiling
	if s.observer != nil {
		s.observer.RecordQueueState(s.pending, len(s.buffer), ceiling)
	}
}

func (s *Scheduler) submitLocked(r row) {
	t := &Ticket{
		ID:      s.nextTicket,
		Seq:     r.seq,
		state:   TicketPending,
		started: time.Now(),
	}
	s.nextTicket++
	s.tickets = append(s.tickets, t)
	s.pending++
	s.stats.Submitted++
	if s.pending > s.stats.MaxOutstanding {
		s.stats.MaxOutstanding = s.pending
	}
	if s.observer != nil {
		s.observer.RecordSubmitted()
	}
	go s.execute(t, r)
}

// sweepLocked drops settled tickets from the tracked set.
func (s *Scheduler) sweepLocked() {
	live := s.tickets[:0]
	for _, t := range s.tickets {
		if !t.settled() {
			live = append(live, t)
		}
	}
	for i := len(live); i < len(s.tickets); i++ {
		s.tickets[i] = nil
	}
	s.tickets = live
}

func (s *Scheduler) execute(t *Ticket, r row) {
	err := s.safeExecute(r.payload)
	duration := time.Since(t.started)
	if s.observer != nil {
		s.observer.RecordSettled(err, duration)
	}
	if err != nil && s.onError != nil {
		s.onError(&WriteError{Seq: r.seq, Ticket: t.ID, Payload: r.payload, Err: err})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		t.state = TicketFailed
		s.stats.Failed++
	} else {
		t.state = TicketSucceeded
		s.stats.Succeeded++
	}
	s.pending--
	s.drainLocked()
	s.settled.Broadcast()
}

func (s *Scheduler) safeExecute(payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("sink panicked: %v", r)
		}
	}()
	return s.executor.Execute(s.ctx, payload)
}
