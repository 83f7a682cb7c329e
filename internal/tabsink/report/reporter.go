package report

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/G-Research/tabsink/internal/common/ingest"
	"github.com/G-Research/tabsink/internal/common/sinkcontext"
	"github.com/G-Research/tabsink/internal/tabsink/reassembler"
	"github.com/G-Research/tabsink/internal/tabsink/scheduler"
	"github.com/G-Research/tabsink/internal/tabsink/stream"
)

const (
	DefaultBatchSize = 100
	DefaultInterval  = 5 * time.Second
	// Only this many errors are kept for the final summary; the rest are counted.
	maxRetained = 50
)

type Kind string

const (
	KindMalformed Kind = "malformed"
	KindTransform Kind = "transform"
	KindWrite     Kind = "write"
	KindOther     Kind = "other"
)

func KindOf(err error) Kind {
	var malformed *reassembler.MalformedLineError
	var transformErr *stream.TransformError
	var writeErr *scheduler.WriteError
	switch {
	case errors.As(err, &malformed):
		return KindMalformed
	case errors.As(err, &transformErr):
		return KindTransform
	case errors.As(err, &writeErr):
		return KindWrite
	default:
		return KindOther
	}
}

// Reporter collects the error events of a stream.  Each error is logged individually at debug level; a summary
// of each batch is logged at warn level.  Err returns the retained errors once the stream is over.
type Reporter struct {
	ctx     *sinkcontext.Context
	input   chan error
	batcher *ingest.Batcher[error]
	stopped chan struct{}

	closeMu sync.RWMutex
	closed  bool

	mu     sync.Mutex
	errs   *multierror.Error
	counts map[Kind]int
	total  int
}

func NewReporter(ctx *sinkcontext.Context, batchSize int, interval time.Duration) *Reporter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	r := &Reporter{
		ctx:     sinkcontext.WithLogField(ctx, "component", "reporter"),
		input:   make(chan error),
		stopped: make(chan struct{}),
		counts:  map[Kind]int{},
	}
	r.batcher = ingest.NewBatcher[error](r.input, batchSize, interval, r.summarise)
	return r
}

// Run processes reported errors until Close is called or ctx ends.
func (r *Reporter) Run(ctx context.Context) error {
	defer close(r.stopped)
	r.batcher.Run(ctx)
	return nil
}

// Report records err.  It is safe to call from any goroutine and never blocks once the reporter has stopped.
func (r *Reporter) Report(err error) {
	r.closeMu.RLock()
	defer r.closeMu.RUnlock()
	r.ctx.Log.WithError(err).Debug("Error reported")
	if r.closed {
		r.record(err)
		return
	}
	select {
	case r.input <- err:
	case <-r.stopped:
		r.record(err)
	}
}

// Close stops accepting errors and flushes the final batch.  Errors reported afterwards are still recorded but not
// summarised.
func (r *Reporter) Close() {
	r.closeMu.Lock()
	if !r.closed {
		r.closed = true
		close(r.input)
	}
	r.closeMu.Unlock()
}

// Wait blocks until Run has returned.
func (r *Reporter) Wait() {
	<-r.stopped
}

func (r *Reporter) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

func (r *Reporter) Counts() map[Kind]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[Kind]int, len(r.counts))
	for k, v := range r.counts {
		counts[k] = v
	}
	return counts
}

// Err returns nil if nothing was reported, otherwise a *multierror.Error holding the first errors reported.
func (r *Reporter) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.errs == nil {
		return nil
	}
	result := *r.errs
	result.Errors = append([]error(nil), r.errs.Errors...)
	total := r.total
	result.ErrorFormat = func(errs []error) string {
		return formatErrors(errs, total)
	}
	return &result
}

func (r *Reporter) summarise(batch []error) {
	counts := map[Kind]int{}
	for _, err := range batch {
		counts[r.record(err)]++
	}
	fields := make(map[string]interface{}, len(counts)+1)
	for kind, n := range counts {
		fields[string(kind)] = n
	}
	r.ctx.Log.WithFields(fields).Warnf("%d errors reported (%d in total)", len(batch), r.Count())
}

func (r *Reporter) record(err error) Kind {
	kind := KindOf(err)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total++
	r.counts[kind]++
	if r.errs == nil || len(r.errs.Errors) < maxRetained {
		r.errs = multierror.Append(r.errs, err)
	}
	return kind
}

func formatErrors(errs []error, total int) string {
	lines := make([]string, len(errs))
	for i, err := range errs {
		lines[i] = fmt.Sprintf("\t* %s", err)
	}
	summary := fmt.Sprintf("%d errors occurred", total)
	if total > len(errs) {
		summary = fmt.Sprintf("%s (showing first %d)", summary, len(errs))
	}
	return fmt.Sprintf("%s:\n%s\n\n", summary, strings.Join(lines, "\n"))
}
