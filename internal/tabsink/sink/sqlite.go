package sink

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/G-Research/tabsink/internal/tabsink/capacity"
)

type SQLiteConfig struct {
	// Path to the database file, or ":memory:"
	Path string `validate:"required"`
	// Statements run once when the database is opened, e.g. CREATE TABLE IF NOT EXISTS
	InitStatements []string
}

// SQLite executes the statement with the payload as positional parameters.  SQLite allows a single writer, so the
// pool is limited to one connection and writes queue inside database/sql.
//
// Options:
//   - timeout: per-write timeout, e.g. "5s"
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(ctx context.Context, config SQLiteConfig) (*SQLite, error) {
	db, err := sql.Open("sqlite", config.Path)
	if err != nil {
		return nil, errors.WithMessagef(err, "error opening sqlite database %s", config.Path)
	}
	db.SetMaxOpenConns(1)
	for _, stmt := range config.InitStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, errors.WithMessagef(err, "error running init statement %q", stmt)
		}
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Execute(ctx context.Context, statement string, payload any, options Options) error {
	args, err := PositionalArgs(payload)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx, options)
	defer cancel()
	_, err = s.db.ExecContext(ctx, statement, args...)
	return errors.WithStack(err)
}

func (s *SQLite) PoolState() capacity.PoolState {
	return capacity.PoolState{ConnectedChannels: s.db.Stats().OpenConnections}
}

// DB exposes the underlying database, mainly so callers can read back what was written.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
