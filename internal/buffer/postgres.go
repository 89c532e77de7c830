package buffer

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/juju/errors"
	"github.com/temoto/telerelay/log2"
)

const (
	sqlSchema = `create table if not exists ` + TableName + ` (
	id bigserial primary key,
	payload text not null,
	timestamp timestamptz not null default now())`
	sqlInsert = `insert into ` + TableName + ` (payload) values ($1) returning id`
	sqlList   = `select id, payload, timestamp from ` + TableName + ` order by id`
	sqlDelete = `delete from ` + TableName + ` where id = any($1)`
)

type pgBuffer struct {
	log  *log2.Log
	pool *pgxpool.Pool
}

func OpenPostgres(ctx context.Context, log *log2.Log, dsn string) (Buffer, error) {
	if dsn == "" {
		return nil, errors.NotValidf("buffer postgres dsn empty")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, unavailable(err, "postgres open")
	}
	return &pgBuffer{log: log, pool: pool}, nil
}

func (b *pgBuffer) EnsureSchema(ctx context.Context) error {
	_, err := b.pool.Exec(ctx, sqlSchema)
	return unavailable(err, "postgres ensure schema")
}

func (b *pgBuffer) Insert(ctx context.Context, payload []byte) (int64, error) {
	var id int64
	err := b.pool.QueryRow(ctx, sqlInsert, string(payload)).Scan(&id)
	return id, unavailable(err, "postgres insert")
}

func (b *pgBuffer) List(ctx context.Context) ([]Message, error) {
	rows, err := b.pool.Query(ctx, sqlList)
	if err != nil {
		return nil, unavailable(err, "postgres list")
	}
	ms, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Message, error) {
		var m Message
		var payload string
		var ts time.Time
		err := row.Scan(&m.ID, &payload, &ts)
		m.Payload, m.InsertedAt = []byte(payload), ts
		return m, err
	})
	return ms, unavailable(err, "postgres list")
}

func (b *pgBuffer) DeleteMany(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := b.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return unavailable(err, "postgres delete")
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if _, err = tx.Exec(ctx, sqlDelete, ids); err != nil {
		return unavailable(err, "postgres delete")
	}
	return unavailable(tx.Commit(ctx), "postgres delete")
}

func (b *pgBuffer) Close() error {
	b.pool.Close()
	return nil
}
