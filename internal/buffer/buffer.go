// Package buffer is durable store of envelopes that could not be delivered.
// Rows are only inserted and deleted, never modified.
// Every storage failure is tele.ErrStoreUnavailable kind.
package buffer

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/telerelay/log2"
	"github.com/temoto/telerelay/tele"
)

const (
	DriverLeveldb  = "leveldb"
	DriverFile     = "file"
	DriverPostgres = "postgres"

	DefaultPath = "zigbee.db"
	TableName   = "failed_messages"

	// OnlyForTesting path opens leveldb in memory.
	OnlyForTesting = "\x00"
)

type Config struct {
	Driver string `hcl:"driver"`
	Path   string `hcl:"path"`
	DSN    string `hcl:"dsn"` // secret
}

// Message is one buffered envelope.
type Message struct {
	ID         int64
	Payload    []byte
	InsertedAt time.Time
}

type Buffer interface {
	// EnsureSchema is idempotent, callable repeatedly.
	EnsureSchema(ctx context.Context) error
	// Insert returns new unique id, greater than any id inserted before.
	Insert(ctx context.Context, payload []byte) (int64, error)
	// List returns all messages, oldest first.
	List(ctx context.Context) ([]Message, error)
	// DeleteMany ignores absent ids.
	DeleteMany(ctx context.Context, ids []int64) error
	Close() error
}

func Open(ctx context.Context, log *log2.Log, c Config) (Buffer, error) {
	path := c.Path
	if path == "" {
		path = DefaultPath
	}
	switch c.Driver {
	case "", DriverLeveldb:
		return OpenLeveldb(log, path)
	case DriverFile:
		return OpenFile(log, path)
	case DriverPostgres:
		return OpenPostgres(ctx, log, c.DSN)
	}
	return nil, errors.NotValidf("buffer driver=%q", c.Driver)
}

func unavailable(err error, op string) error {
	if err == nil {
		return nil
	}
	return errors.Annotate(tele.WrapKind(err, tele.ErrStoreUnavailable), op)
}
