package stream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/G-Research/tabsink/internal/common/sinkcontext"
	"github.com/G-Research/tabsink/internal/tabsink/capacity"
	"github.com/G-Research/tabsink/internal/tabsink/reassembler"
	"github.com/G-Research/tabsink/internal/tabsink/scheduler"
	"github.com/G-Research/tabsink/internal/tabsink/sink"
	"github.com/G-Research/tabsink/internal/tabsink/transform"
)

var ErrFinished = errors.New("stream is finished")

// Config is fixed for the lifetime of a Writer.
type Config struct {
	// Statement executed by the sink for every row
	Statement string
	// Passed through to the sink on every write
	Options sink.Options
	// Turns record fields into the sink payload. Defaults to transform.Identity
	Transform      transform.Func
	FragmentPolicy reassembler.FragmentPolicy
	// Ceiling is max(connected channels * PerChannelCapacity, CapacityFloor)
	PerChannelCapacity int
	CapacityFloor      int
	// Replaces the pool based ceiling when set
	Oracle capacity.Oracle
	// Receives every non-fatal error: malformed lines, transform failures and sink write failures.
	// Defaults to logging at warn level.
	OnError func(err error)
}

// Observer is notified of everything the Writer does.  *metrics.Metrics implements it.
type Observer interface {
	scheduler.Observer
	RecordChunk(size int)
	RecordMalformedLine()
	RecordTransformError()
}

// TransformError is reported when the row transform rejects a record.  The record is not written.
type TransformError struct {
	Line int
	Err  error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("error transforming record on line %d: %v", e.Line, e.Err)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}

// Writer accepts raw chunks of tab separated text through Write, reassembles them into records and writes each
// record to the sink with bounded concurrency.  Finish (or Close) must be called once all input has been
// written; it returns once every accepted record has been written or has failed.
//
// Write and Finish may be called from different goroutines.  While Finish waits for the sink, Write returns
// ErrFinished and Header returns immediately.
type Writer struct {
	ctx         *sinkcontext.Context
	config      Config
	observer    Observer
	reassembler *reassembler.Reassembler
	scheduler   *scheduler.Scheduler
	errorCount  atomic.Int64

	mu       sync.Mutex
	header   []string
	finished bool
	// Closed once the first Finish has returned; result is set before then
	drained chan struct{}
	result  error
}

// NewWriter creates a Writer over s.  observer may be nil.
func NewWriter(ctx *sinkcontext.Context, s sink.Sink, config Config, observer Observer) *Writer {
	if config.Transform == nil {
		config.Transform = transform.Identity
	}
	if config.PerChannelCapacity == 0 {
		config.PerChannelCapacity = capacity.DefaultPerChannelCapacity
	}
	if config.CapacityFloor == 0 {
		config.CapacityFloor = capacity.DefaultFloor
	}
	if config.Oracle == nil {
		config.Oracle = capacity.NewPoolOracle(s, config.PerChannelCapacity, config.CapacityFloor)
	}
	options := make(sink.Options, len(config.Options))
	for k, v := range config.Options {
		options[k] = v
	}
	config.Options = options
	if observer == nil {
		observer = noopObserver{}
	}

	w := &Writer{
		ctx:         ctx,
		config:      config,
		observer:    observer,
		reassembler: reassembler.New(config.FragmentPolicy),
		drained:     make(chan struct{}),
	}
	executor := scheduler.ExecutorFunc(func(execCtx context.Context, payload any) error {
		return s.Execute(execCtx, config.Statement, payload, config.Options)
	})
	w.scheduler = scheduler.New(ctx, executor, config.Oracle, w.reportError, observer)
	return w
}

// Write accepts the next chunk of input.  It never waits for the sink.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finished {
		return 0, ErrFinished
	}
	w.observer.RecordChunk(len(p))
	w.handle(w.reassembler.Process(p))
	return len(p), nil
}

// Finish flushes any unterminated final line and waits until every accepted record has settled.  It returns an
// error only if ctx ends before that happens.  Write returns ErrFinished as soon as Finish has been called.
// Calling Finish again waits for the first call and returns its result.
func (w *Writer) Finish(ctx context.Context) error {
	w.mu.Lock()
	if w.finished {
		w.mu.Unlock()
		<-w.drained
		return w.result
	}
	w.finished = true
	w.handle(w.reassembler.Finish())
	w.scheduler.Close()
	lines := w.reassembler.Lines()
	if w.header == nil {
		w.ctx.Log.Info("Input contained no header; nothing to write")
	}
	w.mu.Unlock()

	defer close(w.drained)
	start := time.Now()
	if err := w.scheduler.AwaitDrain(ctx); err != nil {
		w.result = errors.WithMessage(err, "error waiting for sink writes to complete")
		return w.result
	}
	stats := w.scheduler.Stats()
	w.ctx.Log.Infof(
		"Stream finished: %d lines read, %d rows written, %d failed, %d errors reported; drained in %s",
		lines, stats.Succeeded, stats.Failed, w.ErrorCount(), time.Since(start))
	return nil
}

// Close is equivalent to Finish with a background context.
func (w *Writer) Close() error {
	return w.Finish(context.Background())
}

// Header returns the column names, or nil if no header has been read yet.
func (w *Writer) Header() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.header...)
}

// Oracle returns the oracle the Writer reads its concurrency ceiling from.
func (w *Writer) Oracle() capacity.Oracle {
	return w.config.Oracle
}

func (w *Writer) Stats() scheduler.Stats {
	return w.scheduler.Stats()
}

// ErrorCount is the number of error events reported so far.
func (w *Writer) ErrorCount() int64 {
	return w.errorCount.Load()
}

func (w *Writer) handle(out reassembler.Output) {
	if w.header == nil && w.reassembler.HasHeader() {
		w.header = w.reassembler.Header()
		w.ctx.Log.Infof("Read header with %d columns: %v", len(w.header), w.header)
	}
	for _, malformed := range out.Malformed {
		w.observer.RecordMalformedLine()
		w.reportError(malformed)
	}
	for _, record := range out.Records {
		payload, err := w.config.Transform(record.Fields, w.header)
		if err != nil {
			w.observer.RecordTransformError()
			w.reportError(&TransformError{Line: record.Line, Err: err})
			continue
		}
		if _, err := w.scheduler.Submit(payload); err != nil {
			w.reportError(errors.WithMessagef(err, "error submitting record on line %d", record.Line))
		}
	}
}

func (w *Writer) reportError(err error) {
	w.errorCount.Add(1)
	if w.config.OnError != nil {
		w.config.OnError(err)
		return
	}
	w.ctx.Log.WithError(err).Warn("Error writing stream")
}

type noopObserver struct{}

func (noopObserver) RecordSubmitted() {}
func (noopObserver) RecordSettled(error, time.Duration) {}
func (noopObserver) RecordQueueState(int, int, int) {}
func (noopObserver) RecordChunk(int) {}
func (noopObserver) RecordMalformedLine() {}
func (noopObserver) RecordTransformError() {}
