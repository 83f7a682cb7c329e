package source

import (
	"context"
	"io"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/pkg/errors"
)

const DefaultEndOfStreamProperty = "tabsink-end-of-stream"

type PulsarConfig struct {
	URL              string `validate:"required"`
	Topic            string `validate:"required"`
	SubscriptionName string `validate:"required"`
	// The stream ends if no message arrives for this long. Zero waits forever
	IdleTimeout time.Duration
	// A message carrying this property ends the stream
	EndOfStreamProperty string
	ReceiverQueueSize   int
}

// Pulsar treats the payload of each message on a topic as one chunk.  Messages are acked once the chunk has been
// accepted.  The stream ends on a message carrying the end of stream property, or after IdleTimeout without a
// message.
type Pulsar struct {
	client      pulsar.Client
	consumer    pulsar.Consumer
	idleTimeout time.Duration
	eosProperty string
}

func OpenPulsar(config PulsarConfig) (*Pulsar, error) {
	client, err := pulsar.NewClient(pulsar.ClientOptions{
		URL: config.URL,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "error creating pulsar client")
	}
	consumer, err := client.Subscribe(pulsar.ConsumerOptions{
		Topic:                       config.Topic,
		SubscriptionName:            config.SubscriptionName,
		Type:                        pulsar.Exclusive,
		ReceiverQueueSize:           config.ReceiverQueueSize,
		SubscriptionInitialPosition: pulsar.SubscriptionPositionEarliest,
	})
	if err != nil {
		client.Close()
		return nil, errors.WithMessage(err, "error creating pulsar consumer")
	}
	p := NewPulsar(consumer, config.IdleTimeout, config.EndOfStreamProperty)
	p.client = client
	return p, nil
}

func NewPulsar(consumer pulsar.Consumer, idleTimeout time.Duration, eosProperty string) *Pulsar {
	if eosProperty == "" {
		eosProperty = DefaultEndOfStreamProperty
	}
	return &Pulsar{
		consumer:    consumer,
		idleTimeout: idleTimeout,
		eosProperty: eosProperty,
	}
}

func (p *Pulsar) Next(ctx context.Context) (Chunk, error) {
	receiveCtx, cancel := ctx, context.CancelFunc(func() {})
	if p.idleTimeout > 0 {
		receiveCtx, cancel = context.WithTimeout(ctx, p.idleTimeout)
	}
	defer cancel()

	msg, err := p.consumer.Receive(receiveCtx)
	if err != nil {
		if ctx.Err() != nil {
			return Chunk{}, ctx.Err()
		}
		if receiveCtx.Err() != nil {
			return Chunk{}, io.EOF
		}
		return Chunk{}, errors.WithMessage(err, "error receiving pulsar message")
	}
	if _, ok := msg.Properties()[p.eosProperty]; ok {
		p.consumer.AckID(msg.ID())
		return Chunk{}, io.EOF
	}
	return Chunk{
		Data: msg.Payload(),
		ack:  func() { p.consumer.AckID(msg.ID()) },
	}, nil
}

func (p *Pulsar) Close() error {
	p.consumer.Close()
	if p.client != nil {
		p.client.Close()
	}
	return nil
}
