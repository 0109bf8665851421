package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/questline/messagehub/pkg/database"
)

// SQLSTATE for unique-constraint violations
const pgUniqueViolation = "23505"

// Postgres implements Datastore on a pgx connection pool
type Postgres struct {
	db *database.PostgreSQL
}

// NewPostgres wraps an established PostgreSQL connection
func NewPostgres(db *database.PostgreSQL) *Postgres {
	return &Postgres{db: db}
}

func wrapError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%s: %w", op, ErrDuplicateKey)
	}
	return NewError(op, err)
}

type pgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func get(ctx context.Context, q pgxQuerier, query string, args []any) (Record, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapError("get", err)
	}
	rec, err := pgx.CollectOneRow(rows, pgx.RowToMap)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapError("get", err)
	}
	return Record(rec), nil
}

func query(ctx context.Context, q pgxQuerier, sql string, args []any) ([]Record, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, wrapError("query", err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, wrapError("query", err)
	}
	records := make([]Record, 0, len(maps))
	for _, m := range maps {
		records = append(records, Record(m))
	}
	return records, nil
}

func insert(ctx context.Context, q pgxQuerier, sql string, args []any) (int64, error) {
	var id int64
	if err := q.QueryRow(ctx, sql, args...).Scan(&id); err != nil {
		return 0, wrapError("insert", err)
	}
	return id, nil
}

func exec(ctx context.Context, q pgxQuerier, sql string, args []any) error {
	if _, err := q.Exec(ctx, sql, args...); err != nil {
		return wrapError("exec", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, sql string, args ...any) (Record, error) {
	return get(ctx, p.db.Pool(), sql, args)
}

func (p *Postgres) Query(ctx context.Context, sql string, args ...any) ([]Record, error) {
	return query(ctx, p.db.Pool(), sql, args)
}

func (p *Postgres) Insert(ctx context.Context, sql string, args ...any) (int64, error) {
	return insert(ctx, p.db.Pool(), sql, args)
}

func (p *Postgres) Exec(ctx context.Context, sql string, args ...any) error {
	return exec(ctx, p.db.Pool(), sql, args)
}

// Acquire opens a transaction handle. With autoCommit the handle runs every
// statement directly on the pool and Commit/Rollback do nothing.
func (p *Postgres) Acquire(ctx context.Context, autoCommit bool) (Tx, error) {
	if autoCommit {
		return &autoCommitTx{p: p}, nil
	}
	tx, err := p.db.Pool().Begin(ctx)
	if err != nil {
		return nil, wrapError("acquire", err)
	}
	return &pgxTx{tx: tx}, nil
}

type pgxTx struct {
	tx pgx.Tx
}

func (t *pgxTx) Get(ctx context.Context, sql string, args ...any) (Record, error) {
	return get(ctx, t.tx, sql, args)
}

func (t *pgxTx) Query(ctx context.Context, sql string, args ...any) ([]Record, error) {
	return query(ctx, t.tx, sql, args)
}

func (t *pgxTx) Insert(ctx context.Context, sql string, args ...any) (int64, error) {
	return insert(ctx, t.tx, sql, args)
}

func (t *pgxTx) Exec(ctx context.Context, sql string, args ...any) error {
	return exec(ctx, t.tx, sql, args)
}

func (t *pgxTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return wrapError("commit", err)
	}
	return nil
}

func (t *pgxTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return wrapError("rollback", err)
	}
	return nil
}

type autoCommitTx struct {
	p *Postgres
}

func (t *autoCommitTx) Get(ctx context.Context, sql string, args ...any) (Record, error) {
	return t.p.Get(ctx, sql, args...)
}

func (t *autoCommitTx) Query(ctx context.Context, sql string, args ...any) ([]Record, error) {
	return t.p.Query(ctx, sql, args...)
}

func (t *autoCommitTx) Insert(ctx context.Context, sql string, args ...any) (int64, error) {
	return t.p.Insert(ctx, sql, args...)
}

func (t *autoCommitTx) Exec(ctx context.Context, sql string, args ...any) error {
	return t.p.Exec(ctx, sql, args...)
}

func (t *autoCommitTx) Commit(ctx context.Context) error { return nil }

func (t *autoCommitTx) Rollback(ctx context.Context) error { return nil }
