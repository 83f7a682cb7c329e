package source

import (
	"context"
	"io"
)

// DefaultChunkSize is used by readers when no chunk size is configured.
const DefaultChunkSize = 64 * 1024

// Chunk is one delivery of raw bytes.  Ack must be called once the chunk has been accepted downstream.
type Chunk struct {
	Data []byte
	ack  func()
}

func (c Chunk) Ack() {
	if c.ack != nil {
		c.ack()
	}
}

// Source delivers the raw input stream as a sequence of chunks.
type Source interface {
	// Next blocks until a chunk is available.  It returns io.EOF once the stream has ended.
	Next(ctx context.Context) (Chunk, error)
	Close() error
}

// Copy writes every chunk from src to w, acknowledging each one after w has accepted it.  It returns the number of
// bytes written and stops at the first error.  Reaching the end of src is not an error.
func Copy(ctx context.Context, w io.Writer, src Source) (int64, error) {
	var written int64
	for {
		chunk, err := src.Next(ctx)
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
		n, err := w.Write(chunk.Data)
		written += int64(n)
		if err != nil {
			return written, err
		}
		chunk.Ack()
	}
}
