package source

import (
	"context"
	"io"
	"os"

	"github.com/pkg/errors"
)

// Reader delivers the contents of an io.Reader in chunks of at most chunkSize bytes.
type Reader struct {
	r      io.Reader
	closer io.Closer
	buf    []byte
}

func NewReader(r io.Reader, chunkSize int) *Reader {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Reader{r: r, buf: make([]byte, chunkSize)}
}

// OpenFile returns a Reader over the named file.  The file is closed by Close.
func OpenFile(path string, chunkSize int) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	r := NewReader(f, chunkSize)
	r.closer = f
	return r, nil
}

func (s *Reader) Next(ctx context.Context) (Chunk, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Chunk{}, err
		}
		n, err := s.r.Read(s.buf)
		if n > 0 {
			return Chunk{Data: append([]byte(nil), s.buf[:n]...)}, nil
		}
		if err == io.EOF {
			return Chunk{}, io.EOF
		}
		if err != nil {
			return Chunk{}, errors.WithStack(err)
		}
	}
}

func (s *Reader) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
