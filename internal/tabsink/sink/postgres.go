package sink

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/tabsink/internal/tabsink/capacity"
)

type PostgresConfig struct {
	// libpq connection parameters, e.g. host, port, user, dbname
	Connection map[string]string `validate:"required"`
	// Upper bound on the size of the pgx pool. Zero leaves the pgx default.
	MaxConns int32
	// Number of connection attempts made on startup
	ConnectAttempts uint
	// Delay between connection attempts
	ConnectDelay time.Duration
}

type pgExecer interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Close()
}

// Postgres writes each payload by executing the statement with the payload as positional parameters.
//
// Options:
//   - timeout: per-write timeout, e.g. "5s"
//   - requireRowsAffected: if true, a statement which affects no rows (e.g. ON CONFLICT DO NOTHING) is an error
type Postgres struct {
	db        pgExecer
	connected func() int
}

// OpenPostgres connects to postgres, retrying according to config.
func OpenPostgres(ctx context.Context, config PostgresConfig) (*Postgres, error) {
	connString := CreateConnectionString(config.Connection)
	if config.MaxConns > 0 {
		connString += fmt.Sprintf(" pool_max_conns=%d", config.MaxConns)
	}
	attempts := config.ConnectAttempts
	if attempts == 0 {
		attempts = 1
	}

	var pool *pgxpool.Pool
	err := retry.Do(
		func() error {
			p, err := pgxpool.Connect(ctx, connString)
			if err != nil {
				return err
			}
			if err := p.Ping(ctx); err != nil {
				p.Close()
				return err
			}
			pool = p
			return nil
		},
		retry.Attempts(attempts),
		retry.Delay(config.ConnectDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).Warnf("Postgres connection attempt %d failed", n+1)
		}),
	)
	if err != nil {
		return nil, errors.WithMessage(err, "error connecting to postgres")
	}
	return NewPostgres(pool), nil
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{
		db: pool,
		connected: func() int {
			return int(pool.Stat().TotalConns())
		},
	}
}

func (p *Postgres) Execute(ctx context.Context, statement string, payload any, options Options) error {
	args, err := PositionalArgs(payload)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx, options)
	defer cancel()
	tag, err := p.db.Exec(ctx, statement, args...)
	if err != nil {
		return errors.WithStack(err)
	}
	if options.Bool("requireRowsAffected") && tag.RowsAffected() == 0 {
		return errors.Errorf("statement affected no rows: %s", tag.String())
	}
	return nil
}

func (p *Postgres) PoolState() capacity.PoolState {
	return capacity.PoolState{ConnectedChannels: p.connected()}
}

func (p *Postgres) Close() error {
	p.db.Close()
	return nil
}

// CreateConnectionString builds a libpq keyword/value connection string, quoting every value.
func CreateConnectionString(values map[string]string) string {
	// https://www.postgresql.org/docs/10/libpq-connect.html#id-1.7.3.8.3.5
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	replacer := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"='"+replacer.Replace(values[k])+"'")
	}
	return strings.Join(parts, " ")
}
