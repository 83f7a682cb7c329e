package source

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceSource struct {
	chunks []string
	acked  int
	closed bool
}

func (s *sliceSource) Next(_ context.Context) (Chunk, error) {
	if len(s.chunks) == 0 {
		return Chunk{}, io.EOF
	}
	data := s.chunks[0]
	s.chunks = s.chunks[1:]
	return Chunk{Data: []byte(data), ack: func() { s.acked++ }}, nil
}

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

type failingWriter struct {
	after int
	seen  int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.seen >= w.after {
		return 0, errors.New("boom")
	}
	w.seen++
	return len(p), nil
}

func TestCopy(t *testing.T) {
	src := &sliceSource{chunks: []string{"a\tb\n", "1\t2\n", "3\t4"}}
	var out bytes.Buffer
	n, err := Copy(context.Background(), &out, src)
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)
	assert.Equal(t, "a\tb\n1\t2\n3\t4", out.String())
	assert.Equal(t, 3, src.acked)
}

func TestCopy_WriterError(t *testing.T) {
	src := &sliceSource{chunks: []string{"a", "b", "c"}}
	_, err := Copy(context.Background(), &failingWriter{after: 1}, src)
	assert.Error(t, err)
	// The chunk the writer rejected is never acked
	assert.Equal(t, 1, src.acked)
}

func TestReader_Chunks(t *testing.T) {
	r := NewReader(strings.NewReader("abcdefgh"), 3)
	var chunks []string
	for {
		chunk, err := r.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		chunks = append(chunks, string(chunk.Data))
	}
	assert.Equal(t, []string{"abc", "def", "gh"}, chunks)
	assert.NoError(t, r.Close())
}

func TestReader_DefaultChunkSize(t *testing.T) {
	r := NewReader(strings.NewReader(""), 0)
	assert.Len(t, r.buf, DefaultChunkSize)
	_, err := r.Next(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestReader_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewReader(strings.NewReader("abc"), 3).Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.tsv")
	require.NoError(t, os.WriteFile(path, []byte("a\tb\n1\t2\n"), 0o600))

	r, err := OpenFile(path, 4)
	require.NoError(t, err)
	var out bytes.Buffer
	_, err = Copy(context.Background(), &out, r)
	require.NoError(t, err)
	assert.Equal(t, "a\tb\n1\t2\n", out.String())
	assert.NoError(t, r.Close())
}

func TestOpenFile_Missing(t *testing.T) {
	_, err := OpenFile(filepath.Join(t.TempDir(), "missing.tsv"), 4)
	assert.Error(t, err)
}
