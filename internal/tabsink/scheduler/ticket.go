package scheduler

import (
	"fmt"
	"time"
)

type TicketState int

const (
	TicketPending TicketState = iota
	TicketSucceeded
	TicketFailed
)

func (s TicketState) String() string {
	switch s {
	case TicketPending:
		return "pending"
	case TicketSucceeded:
		return "succeeded"
	case TicketFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Ticket tracks a single write that has been handed to the sink.
// Its state is only read or written while holding the scheduler lock.
type Ticket struct {
	ID      uint64
	Seq     uint64
	state   TicketState
	started time.Time
}

func (t *Ticket) settled() bool {
	return t.state != TicketPending
}

// WriteError is reported once for every row the sink failed to write.  Failed rows are not retried.
type WriteError struct {
	Seq     uint64
	Ticket  uint64
	Payload any
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("error writing row %d to sink: %v", e.Seq, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
