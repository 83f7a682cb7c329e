package sink

import (
	"context"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/tabsink/internal/tabsink/capacity"
)

type RedisConfig struct {
	Addr     string `validate:"required"`
	Password string
	DB       int
	PoolSize int
	// Number of ping attempts made on startup
	ConnectAttempts uint
	// Delay between ping attempts
	ConnectDelay time.Duration
}

// Redis stores keyed payloads as hashes and positional payloads as list entries.
//
// The statement is a key prefix for keyed payloads (HMSET <statement><key>) and the list name for positional
// payloads (RPUSH <statement> <tab separated fields>).
//
// Options:
//   - ttl: expiry applied to hashes, e.g. "24h"
type Redis struct {
	client *redis.Client
}

func NewRedis(config RedisConfig) *Redis {
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:     config.Addr,
			Password: config.Password,
			DB:       config.DB,
			PoolSize: config.PoolSize,
		}),
	}
}

// OpenRedis creates a client and pings the server until it responds or the configured attempts run out.
func OpenRedis(ctx context.Context, config RedisConfig) (*Redis, error) {
	r := NewRedis(config)
	attempts := config.ConnectAttempts
	if attempts == 0 {
		attempts = 1
	}
	err := retry.Do(
		func() error {
			return r.Ping(ctx)
		},
		retry.Attempts(attempts),
		retry.Delay(config.ConnectDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).Warnf("Redis connection attempt %d failed", n+1)
		}),
	)
	if err != nil {
		_ = r.Close()
		return nil, errors.WithMessage(err, "error connecting to redis")
	}
	return r, nil
}

// Ping checks that the server is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	return errors.WithStack(r.client.WithContext(ctx).Ping().Err())
}

func (r *Redis) Execute(ctx context.Context, statement string, payload any, options Options) error {
	ctx, cancel := withTimeout(ctx, options)
	defer cancel()
	client := r.client.WithContext(ctx)

	switch p := payload.(type) {
	case KeyedPayload:
		if len(p.Values) == 0 {
			return errors.Wrapf(ErrUnsupportedPayload, "keyed payload %q has no values", p.Key)
		}
		key := statement + p.Key
		fields := make(map[string]interface{}, len(p.Values))
		for k, v := range p.Values {
			fields[k] = v
		}
		ttl := options.Duration("ttl")
		_, err := client.TxPipelined(func(pipe redis.Pipeliner) error {
			pipe.HMSet(key, fields)
			if ttl > 0 {
				pipe.Expire(key, ttl)
			}
			return nil
		})
		return errors.WithStack(err)
	case []string:
		return errors.WithStack(client.RPush(statement, strings.Join(p, "\t")).Err())
	default:
		return errors.Wrapf(ErrUnsupportedPayload, "redis cannot store %T", payload)
	}
}

func (r *Redis) PoolState() capacity.PoolState {
	return capacity.PoolState{ConnectedChannels: int(r.client.PoolStats().TotalConns)}
}

func (r *Redis) Close() error {
	return r.client.Close()
}
