// Package storagetest provides a scriptable in-memory Datastore for service
// tests. Handlers dispatch on the SQL text; unset handlers return empty
// results.
package storagetest

import (
	"context"
	"sync"

	"github.com/questline/messagehub/internal/storage"
)

// Call records one statement issued against the fake
type Call struct {
	Query string
	Args  []any
}

// Fake implements storage.Datastore with pluggable handlers
type Fake struct {
	GetFn     func(query string, args ...any) (storage.Record, error)
	QueryFn   func(query string, args ...any) ([]storage.Record, error)
	InsertFn  func(query string, args ...any) (int64, error)
	ExecFn    func(query string, args ...any) error
	AcquireFn func(autoCommit bool) (storage.Tx, error)

	mu    sync.Mutex
	calls []Call
}

func (f *Fake) record(query string, args []any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Query: query, Args: args})
}

// Calls returns every recorded statement in order
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

func (f *Fake) Get(_ context.Context, query string, args ...any) (storage.Record, error) {
	f.record(query, args)
	if f.GetFn != nil {
		return f.GetFn(query, args...)
	}
	return nil, nil
}

func (f *Fake) Query(_ context.Context, query string, args ...any) ([]storage.Record, error) {
	f.record(query, args)
	if f.QueryFn != nil {
		return f.QueryFn(query, args...)
	}
	return nil, nil
}

func (f *Fake) Insert(_ context.Context, query string, args ...any) (int64, error) {
	f.record(query, args)
	if f.InsertFn != nil {
		return f.InsertFn(query, args...)
	}
	return 1, nil
}

func (f *Fake) Exec(_ context.Context, query string, args ...any) error {
	f.record(query, args)
	if f.ExecFn != nil {
		return f.ExecFn(query, args...)
	}
	return nil
}

func (f *Fake) Acquire(_ context.Context, autoCommit bool) (storage.Tx, error) {
	if f.AcquireFn != nil {
		return f.AcquireFn(autoCommit)
	}
	return &Tx{Fake: f}, nil
}

// Tx is the fake transaction handle. Statements route to the parent fake's
// handlers; commit and rollback are recorded.
type Tx struct {
	*Fake
	Committed  bool
	RolledBack bool
}

func (t *Tx) Commit(context.Context) error {
	t.Committed = true
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	if !t.Committed {
		t.RolledBack = true
	}
	return nil
}
