package stream

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/tabsink/internal/common/sinkcontext"
	"github.com/G-Research/tabsink/internal/tabsink/capacity"
	"github.com/G-Research/tabsink/internal/tabsink/reassembler"
	"github.com/G-Research/tabsink/internal/tabsink/scheduler"
	"github.com/G-Research/tabsink/internal/tabsink/sink"
	"github.com/G-Research/tabsink/internal/tabsink/transform"
)

type fakeSink struct {
	mu         sync.Mutex
	payloads   []any
	statements []string
	options    []sink.Options
	fail       func(payload any) error
	release    chan struct{}
	channels   int
}

func (s *fakeSink) Execute(ctx context.Context, statement string, payload any, options sink.Options) error {
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.fail != nil {
		if err := s.fail(payload); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, payload)
	s.statements = append(s.statements, statement)
	s.options = append(s.options, options)
	return nil
}

func (s *fakeSink) PoolState() capacity.PoolState {
	return capacity.PoolState{ConnectedChannels: s.channels}
}

func (s *fakeSink) Close() error {
	return nil
}

func (s *fakeSink) rows() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]string, len(s.payloads))
	for i, p := range s.payloads {
		rows[i] = strings.Join(p.([]string), "\t")
	}
	return rows
}

type errorCollector struct {
	mu     sync.Mutex
	errors []error
}

func (c *errorCollector) onError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, err)
}

func (c *errorCollector) all() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error(nil), c.errors...)
}

// Ceiling 1 keeps writes strictly ordered so tests can compare sink contents positionally.
func newTestWriter(s sink.Sink, config Config) (*Writer, *errorCollector) {
	collector := &errorCollector{}
	if config.Oracle == nil {
		config.Oracle = capacity.Fixed(1)
	}
	config.OnError = collector.onError
	return NewWriter(sinkcontext.Background(), s, config, nil), collector
}

func writeChunks(t *testing.T, w *Writer, chunks ...string) {
	for _, chunk := range chunks {
		n, err := w.Write([]byte(chunk))
		require.NoError(t, err)
		require.Equal(t, len(chunk), n)
	}
}

func TestWriter_SingleChunk(t *testing.T) {
	s := &fakeSink{}
	w, errs := newTestWriter(s, Config{Statement: "INSERT"})

	writeChunks(t, w, "a\tb\n1\t2\n3\t4")
	require.NoError(t, w.Finish(context.Background()))

	assert.Equal(t, []string{"a", "b"}, w.Header())
	assert.Equal(t, []string{"1\t2", "3\t4"}, s.rows())
	assert.Equal(t, []string{"INSERT", "INSERT"}, s.statements)
	assert.Empty(t, errs.all())
}

func TestWriter_ChunkSplitMidRow(t *testing.T) {
	s := &fakeSink{}
	w, errs := newTestWriter(s, Config{})

	writeChunks(t, w, "a\tb\n1\t", "2\n3\t4")
	require.NoError(t, w.Finish(context.Background()))

	assert.Equal(t, []string{"1\t2", "3\t4"}, s.rows())
	assert.Empty(t, errs.all())
}

func TestWriter_EverySplitPoint(t *testing.T) {
	input := "id\tname\tvalue\n1\tfoo\t10\n2\tbar\t20\n3\t\t30\n4\tqux\t40\n"
	expected := []string{"1\tfoo\t10", "2\tbar\t20", "3\t\t30", "4\tqux\t40"}
	for i := 0; i <= len(input); i++ {
		for j := i; j <= len(input); j++ {
			s := &fakeSink{}
			w, errs := newTestWriter(s, Config{})
			writeChunks(t, w, input[:i], input[i:j], input[j:])
			require.NoError(t, w.Finish(context.Background()))
			assert.Equal(t, expected, s.rows(), "split at %d and %d", i, j)
			assert.Empty(t, errs.all(), "split at %d and %d", i, j)
		}
	}
}

func TestWriter_HeaderNeverWritten(t *testing.T) {
	s := &fakeSink{}
	w, _ := newTestWriter(s, Config{})

	writeChunks(t, w, "1\t2\n", "1\t2\n")
	require.NoError(t, w.Finish(context.Background()))

	assert.Equal(t, []string{"1", "2"}, w.Header())
	assert.Equal(t, []string{"1\t2"}, s.rows())
}

func TestWriter_EmptyStream(t *testing.T) {
	s := &fakeSink{}
	w, errs := newTestWriter(s, Config{})

	require.NoError(t, w.Finish(context.Background()))

	assert.Nil(t, w.Header())
	assert.Empty(t, s.rows())
	assert.Empty(t, errs.all())
	assert.Equal(t, uint64(0), w.Stats().Submitted)
}

func TestWriter_BufferedRowsDrain(t *testing.T) {
	s := &fakeSink{release: make(chan struct{})}
	w, _ := newTestWriter(s, Config{Oracle: capacity.Fixed(2)})

	writeChunks(t, w, "a\tb\n", "1\t1\n2\t2\n3\t3\n4\t4\n5\t5\n")
	stats := w.Stats()
	assert.Equal(t, 2, stats.Outstanding)
	assert.Equal(t, 3, stats.Buffered)

	done := make(chan error, 1)
	go func() {
		done <- w.Finish(context.Background())
	}()

	for i := 0; i < 5; i++ {
		s.release <- struct{}{}
	}
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("writer did not finish")
	}
	assert.ElementsMatch(t, []string{"1\t1", "2\t2", "3\t3", "4\t4", "5\t5"}, s.rows())
	assert.LessOrEqual(t, w.Stats().MaxOutstanding, 2)
}

func TestWriter_LargeInputForcesBuffering(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("a\tb\n")
	for i := 0; i < 500; i++ {
		sb.WriteString(fmt.Sprintf("%d\tx\n", i))
	}
	s := &fakeSink{}
	w, errs := newTestWriter(s, Config{Oracle: capacity.Fixed(4)})

	writeChunks(t, w, sb.String())
	require.NoError(t, w.Finish(context.Background()))

	assert.Len(t, s.rows(), 500)
	assert.Empty(t, errs.all())
	stats := w.Stats()
	assert.Equal(t, uint64(500), stats.Succeeded)
	assert.Equal(t, 0, stats.Outstanding)
	assert.Equal(t, 0, stats.Buffered)
	assert.LessOrEqual(t, stats.MaxOutstanding, 4)
}

func TestWriter_FailedWriteIsNotFatal(t *testing.T) {
	s := &fakeSink{fail: func(payload any) error {
		if payload.([]string)[0] == "2" {
			return errors.New("constraint violation")
		}
		return nil
	}}
	w, errs := newTestWriter(s, Config{})

	writeChunks(t, w, "a\tb\n1\tx\n2\tx\n3\tx\n")
	require.NoError(t, w.Finish(context.Background()))

	assert.Equal(t, []string{"1\tx", "3\tx"}, s.rows())
	require.Len(t, errs.all(), 1)
	var writeErr *scheduler.WriteError
	require.ErrorAs(t, errs.all()[0], &writeErr)
	assert.Equal(t, []string{"2", "x"}, writeErr.Payload)
	assert.Equal(t, int64(1), w.ErrorCount())
	assert.Equal(t, uint64(1), w.Stats().Failed)
}

func TestWriter_MalformedLineReported(t *testing.T) {
	s := &fakeSink{}
	w, errs := newTestWriter(s, Config{FragmentPolicy: reassembler.FragmentPolicyStrict})

	writeChunks(t, w, "a\tb\n1\t2\t3\n4\t5\n")
	require.NoError(t, w.Finish(context.Background()))

	assert.Equal(t, []string{"4\t5"}, s.rows())
	require.Len(t, errs.all(), 1)
	var malformed *reassembler.MalformedLineError
	require.ErrorAs(t, errs.all()[0], &malformed)
	assert.Equal(t, 2, malformed.Line)
}

func TestWriter_KeyedTransform(t *testing.T) {
	s := &fakeSink{}
	w, errs := newTestWriter(s, Config{Transform: transform.Keyed})

	writeChunks(t, w, "id\tname\tcolour\n", "7\tapple\tred\n")
	require.NoError(t, w.Finish(context.Background()))

	require.Empty(t, errs.all())
	require.Len(t, s.payloads, 1)
	assert.Equal(t, sink.KeyedPayload{
		Key:    "7",
		Values: map[string]string{"id": "7", "name": "apple", "colour": "red"},
	}, s.payloads[0])
}

func TestWriter_TransformErrorReported(t *testing.T) {
	s := &fakeSink{}
	reject := func(fields []string, header []string) (any, error) {
		if fields[0] == "bad" {
			return nil, errors.New("rejected")
		}
		return fields, nil
	}
	w, errs := newTestWriter(s, Config{Transform: reject})

	writeChunks(t, w, "a\tb\nbad\t1\ngood\t2\n")
	require.NoError(t, w.Finish(context.Background()))

	assert.Equal(t, []string{"good\t2"}, s.rows())
	require.Len(t, errs.all(), 1)
	var transformErr *TransformError
	require.ErrorAs(t, errs.all()[0], &transformErr)
	assert.Equal(t, 2, transformErr.Line)
}

func TestWriter_OptionsPassedThrough(t *testing.T) {
	s := &fakeSink{}
	options := sink.Options{"timeout": "1s"}
	w, _ := newTestWriter(s, Config{Options: options})
	options["timeout"] = "5s"

	writeChunks(t, w, "a\n1\n")
	require.NoError(t, w.Finish(context.Background()))

	require.Len(t, s.options, 1)
	assert.Equal(t, sink.Options{"timeout": "1s"}, s.options[0])
}

func TestWriter_WriteAfterFinish(t *testing.T) {
	w, _ := newTestWriter(&fakeSink{}, Config{})
	require.NoError(t, w.Finish(context.Background()))

	_, err := w.Write([]byte("a\n"))
	assert.ErrorIs(t, err, ErrFinished)
	assert.NoError(t, w.Close())
}

func TestWriter_FinishTimesOut(t *testing.T) {
	s := &fakeSink{release: make(chan struct{})}
	w, _ := newTestWriter(s, Config{})
	writeChunks(t, w, "a\n1\n")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := w.Finish(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	// The first result is remembered
	assert.Equal(t, err, w.Finish(context.Background()))
	close(s.release)
}

func TestWriter_PoolCeiling(t *testing.T) {
	s := &fakeSink{channels: 3}
	w := NewWriter(sinkcontext.Background(), s, Config{PerChannelCapacity: 2, CapacityFloor: 1}, nil)
	writeChunks(t, w, "a\n")
	require.NoError(t, w.Finish(context.Background()))
	assert.Equal(t, 6, w.config.Oracle.Ceiling())
}

func TestWriter_CallsDoNotWaitForDrain(t *testing.T) {
	s := &fakeSink{release: make(chan struct{})}
	w, _ := newTestWriter(s, Config{})
	writeChunks(t, w, "a\tb\n1\t2\n")

	done := make(chan error, 1)
	go func() {
		done <- w.Finish(context.Background())
	}()

	// The row is still held by the sink, so Finish is waiting
	assert.Eventually(t, func() bool {
		_, err := w.Write(nil)
		return errors.Is(err, ErrFinished)
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, w.Header())
	select {
	case <-done:
		t.Fatal("Finish returned before the sink released the row")
	default:
	}

	close(s.release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("writer did not finish")
	}
	assert.NoError(t, w.Finish(context.Background()))
	assert.Equal(t, []string{"1\t2"}, s.rows())
}
