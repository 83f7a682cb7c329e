package source

import (
	"context"
	"io"
	"net/textproto"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

const DefaultEndOfStreamHeader = "Tabsink-End-Of-Stream"

type NatsConfig struct {
	URL     string `validate:"required"`
	Subject string `validate:"required"`
	// The stream ends if no message arrives for this long. Zero waits forever
	IdleTimeout time.Duration
	// A message carrying this header, or an empty message, ends the stream
	EndOfStreamHeader string
}

type natsSubscription interface {
	NextMsgWithContext(ctx context.Context) (*nats.Msg, error)
	Unsubscribe() error
}

// Nats treats the data of each message on a subject as one chunk.  Core NATS has no acknowledgements, so chunks
// are fire and forget.
type Nats struct {
	conn        *nats.Conn
	sub         natsSubscription
	idleTimeout time.Duration
	eosHeader   string
}

func OpenNats(config NatsConfig) (*Nats, error) {
	conn, err := nats.Connect(config.URL)
	if err != nil {
		return nil, errors.WithMessage(err, "error connecting to nats")
	}
	sub, err := conn.SubscribeSync(config.Subject)
	if err != nil {
		conn.Close()
		return nil, errors.WithMessagef(err, "error subscribing to %s", config.Subject)
	}
	n := newNats(sub, config.IdleTimeout, config.EndOfStreamHeader)
	n.conn = conn
	return n, nil
}

func newNats(sub natsSubscription, idleTimeout time.Duration, eosHeader string) *Nats {
	if eosHeader == "" {
		eosHeader = DefaultEndOfStreamHeader
	}
	return &Nats{
		sub:         sub,
		idleTimeout: idleTimeout,
		eosHeader:   textproto.CanonicalMIMEHeaderKey(eosHeader),
	}
}

func (n *Nats) Next(ctx context.Context) (Chunk, error) {
	receiveCtx, cancel := ctx, context.CancelFunc(func() {})
	if n.idleTimeout > 0 {
		receiveCtx, cancel = context.WithTimeout(ctx, n.idleTimeout)
	}
	defer cancel()

	msg, err := n.sub.NextMsgWithContext(receiveCtx)
	if err != nil {
		if ctx.Err() != nil {
			return Chunk{}, ctx.Err()
		}
		if receiveCtx.Err() != nil {
			return Chunk{}, io.EOF
		}
		return Chunk{}, errors.WithMessage(err, "error receiving nats message")
	}
	if _, ok := msg.Header[n.eosHeader]; ok || len(msg.Data) == 0 {
		return Chunk{}, io.EOF
	}
	return Chunk{Data: msg.Data}, nil
}

func (n *Nats) Close() error {
	err := n.sub.Unsubscribe()
	if n.conn != nil {
		n.conn.Close()
	}
	return errors.WithStack(err)
}
