// Package storage defines the narrow datastore contract the domain services
// are written against, and its PostgreSQL implementation. Rows travel as
// generic records; each service deserializes them with explicit, validating
// row adapters.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrDuplicateKey reports a unique-constraint violation. Services map it to
// their own already-exists errors.
var ErrDuplicateKey = errors.New("duplicate key")

// Error wraps an underlying storage failure with the failed operation and a
// numeric severity code for the outer layer.
type Error struct {
	Op   string
	Code int
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a storage error with the default severity code
func NewError(op string, err error) *Error {
	return &Error{Op: op, Code: 500, Err: err}
}

// Record is one result row, keyed by column name
type Record map[string]any

// Querier is the read/write surface shared by the datastore and transactions
type Querier interface {
	// Get returns the first matching row, or nil when there is none
	Get(ctx context.Context, query string, args ...any) (Record, error)
	// Query returns all matching rows, possibly empty
	Query(ctx context.Context, query string, args ...any) ([]Record, error)
	// Insert runs an INSERT ... RETURNING query and returns the generated id
	Insert(ctx context.Context, query string, args ...any) (int64, error)
	// Exec runs a statement that returns no rows
	Exec(ctx context.Context, query string, args ...any) error
}

// Tx is a scoped transaction handle. Rollback after Commit is a no-op.
type Tx interface {
	Querier
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Datastore is the full database surface: plain calls plus transaction
// acquisition. With autoCommit every statement commits on its own and the
// returned handle's Commit is a no-op.
type Datastore interface {
	Querier
	Acquire(ctx context.Context, autoCommit bool) (Tx, error)
}

// Field coercion helpers shared by the row adapters. Each returns a typed
// error naming the column on a mismatch instead of silently defaulting.

func FieldString(r Record, key string) (string, error) {
	v, ok := r[key]
	if !ok || v == nil {
		return "", fmt.Errorf("column %q missing", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("column %q: expected string, got %T", key, v)
	}
	return s, nil
}

func FieldInt64(r Record, key string) (int64, error) {
	v, ok := r[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("column %q missing", key)
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("column %q: expected integer, got %T", key, v)
	}
}

func FieldBool(r Record, key string) (bool, error) {
	v, ok := r[key]
	if !ok || v == nil {
		return false, fmt.Errorf("column %q missing", key)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("column %q: expected bool, got %T", key, v)
	}
	return b, nil
}

func FieldTime(r Record, key string) (time.Time, error) {
	v, ok := r[key]
	if !ok || v == nil {
		return time.Time{}, fmt.Errorf("column %q missing", key)
	}
	t, ok := v.(time.Time)
	if !ok {
		return time.Time{}, fmt.Errorf("column %q: expected timestamp, got %T", key, v)
	}
	return t, nil
}

// FieldDocument returns a structured JSON document column. A scalar or array
// payload is rejected, matching the message payload invariant.
func FieldDocument(r Record, key string) (map[string]any, error) {
	v, ok := r[key]
	if !ok || v == nil {
		return nil, fmt.Errorf("column %q missing", key)
	}
	doc, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("column %q: expected document, got %T", key, v)
	}
	return doc, nil
}
