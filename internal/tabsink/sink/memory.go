package sink

import (
	"context"
	"sync/atomic"

	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"

	"github.com/G-Research/tabsink/internal/tabsink/capacity"
)

const defaultMemoryTable = "rows"

type MemoryConfig struct {
	// Name of the table rows are stored in
	Table string
	// Number of channels reported to the capacity oracle
	Channels int
}

// StoredRow is a single write held by a Memory sink.  IDs are assigned in the order writes complete.
type StoredRow struct {
	ID        uint64
	Statement string
	Payload   any
}

// Memory keeps every write in an in-memory go-memdb table.  It accepts any payload.
type Memory struct {
	db       *memdb.MemDB
	table    string
	channels int
	nextID   atomic.Uint64
}

func NewMemory(config MemoryConfig) (*Memory, error) {
	table := config.Table
	if table == "" {
		table = defaultMemoryTable
	}
	channels := config.Channels
	if channels < 1 {
		channels = 1
	}
	schema := &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			table: {
				Name: table,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.UintFieldIndex{Field: "ID"},
					},
				},
			},
		},
	}
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &Memory{db: db, table: table, channels: channels}, nil
}

func (m *Memory) Execute(ctx context.Context, statement string, payload any, _ Options) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	txn := m.db.Txn(true)
	defer txn.Abort()
	row := &StoredRow{
		ID:        m.nextID.Add(1),
		Statement: statement,
		Payload:   payload,
	}
	if err := txn.Insert(m.table, row); err != nil {
		return errors.WithStack(err)
	}
	txn.Commit()
	return nil
}

// Rows returns every stored row ordered by id.
func (m *Memory) Rows() ([]*StoredRow, error) {
	txn := m.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(m.table, "id")
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var rows []*StoredRow
	for obj := it.Next(); obj != nil; obj = it.Next() {
		rows = append(rows, obj.(*StoredRow))
	}
	return rows, nil
}

func (m *Memory) PoolState() capacity.PoolState {
	return capacity.PoolState{ConnectedChannels: m.channels}
}

func (m *Memory) Close() error {
	return nil
}
