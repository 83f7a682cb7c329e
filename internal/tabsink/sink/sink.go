package sink

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/G-Research/tabsink/internal/tabsink/capacity"
)

// ErrUnsupportedPayload is returned when a sink is handed a payload shape it cannot store.
var ErrUnsupportedPayload = errors.New("unsupported payload")

// Options are passed through unchanged to every write.  Each sink documents the keys it understands and ignores
// the rest.
type Options map[string]string

// Duration returns the option parsed as a time.Duration, or zero if it is absent or invalid.
func (o Options) Duration(key string) time.Duration {
	v, ok := o[key]
	if !ok {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

// Bool returns the option parsed as a bool, or false if it is absent or invalid.
func (o Options) Bool(key string) bool {
	b, err := strconv.ParseBool(o[key])
	return err == nil && b
}

// Sink is the external system rows are written to.
type Sink interface {
	capacity.PoolStater
	// Execute writes a single payload.  It may be called concurrently.
	Execute(ctx context.Context, statement string, payload any, options Options) error
	Close() error
}

// KeyedPayload is a row keyed by one of its fields, with the remaining fields mapped by column name.
type KeyedPayload struct {
	Key    string
	Values map[string]string
}

// PositionalArgs converts a payload into statement arguments for sinks that bind parameters by position.
func PositionalArgs(payload any) ([]any, error) {
	switch p := payload.(type) {
	case []any:
		return p, nil
	case []string:
		args := make([]any, len(p))
		for i, v := range p {
			args[i] = v
		}
		return args, nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedPayload, "cannot bind %T as positional arguments", payload)
	}
}

// withTimeout applies the "timeout" option, if set, to ctx.
func withTimeout(ctx context.Context, options Options) (context.Context, context.CancelFunc) {
	if timeout := options.Duration("timeout"); timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}
