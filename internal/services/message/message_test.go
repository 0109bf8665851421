package message

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/questline/messagehub/internal/storage"
	"github.com/questline/messagehub/internal/storage/storagetest"
	"github.com/questline/messagehub/pkg/logger"
)

func newTestService(fake *storagetest.Fake) *Service {
	return NewService(fake, logger.New("message-test", "test"))
}

func TestAddRejectsNilPayload(t *testing.T) {
	fake := &storagetest.Fake{
		InsertFn: func(query string, args ...any) (int64, error) {
			t.Fatal("storage must not be reached with an invalid payload")
			return 0, nil
		},
	}
	s := newTestService(fake)

	_, err := s.Add(context.Background(), "gs", "100", "uuid-1", ClassUser, "200",
		time.Now(), "chat", nil, 0, false)
	assert.True(t, errors.Is(err, ErrInvalidPayload))
}

func TestGetNotFound(t *testing.T) {
	s := newTestService(&storagetest.Fake{})

	_, err := s.Get(context.Background(), "gs", 404)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListForAccountBounds(t *testing.T) {
	fake := &storagetest.Fake{
		QueryFn: func(query string, args ...any) ([]storage.Record, error) {
			t.Fatal("storage must not be reached with invalid paging")
			return nil, nil
		},
	}
	s := newTestService(fake)

	tests := []struct {
		name   string
		limit  int
		offset int
	}{
		{name: "zero limit", limit: 0, offset: 0},
		{name: "limit above cap", limit: MaxLimit + 1, offset: 0},
		{name: "negative offset", limit: 100, offset: -1},
		{name: "offset above cap", limit: 100, offset: MaxOffset + 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := s.ListForAccount(context.Background(), "gs", "100", tt.limit, tt.offset)
			assert.True(t, errors.Is(err, ErrBadPaging))
		})
	}
}

func TestListForAccount(t *testing.T) {
	fake := &storagetest.Fake{
		QueryFn: func(query string, args ...any) ([]storage.Record, error) {
			require.Equal(t, queryListForAccount, query)
			require.Equal(t, []any{"gs", "100", ClassUser, 0, 50}, args)

			first := messageRow(9, "guild-1")
			first["total_count"] = int64(2)
			second := messageRow(4, "100")
			second["message_recipient_class"] = ClassUser
			second["total_count"] = int64(2)
			return []storage.Record{first, second}, nil
		},
	}
	s := newTestService(fake)

	messages, total, err := s.ListForAccount(context.Background(), "gs", "100", 50, 0)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, int64(9), messages[0].ID)
	assert.Equal(t, int64(4), messages[1].ID)
	assert.Equal(t, int64(2), total)
}

func TestListForAccountPastEndKeepsTotal(t *testing.T) {
	fake := &storagetest.Fake{
		QueryFn: func(query string, args ...any) ([]storage.Record, error) {
			require.Equal(t, queryListForAccount, query)
			return nil, nil
		},
		GetFn: func(query string, args ...any) (storage.Record, error) {
			require.Equal(t, queryCountForAccount, query)
			require.Equal(t, []any{"gs", "100", ClassUser}, args)
			return storage.Record{"total_count": int64(37)}, nil
		},
	}
	s := newTestService(fake)

	messages, total, err := s.ListForAccount(context.Background(), "gs", "100", 50, 100)
	require.NoError(t, err)
	assert.Empty(t, messages)
	assert.Equal(t, int64(37), total)
}

func TestListForAccountEmptyFirstPageSkipsCount(t *testing.T) {
	fake := &storagetest.Fake{
		GetFn: func(query string, args ...any) (storage.Record, error) {
			t.Fatal("an empty first page needs no separate count")
			return nil, nil
		},
	}
	s := newTestService(fake)

	messages, total, err := s.ListForAccount(context.Background(), "gs", "100", 50, 0)
	require.NoError(t, err)
	assert.Empty(t, messages)
	assert.Zero(t, total)
}

func undeliveredBatch() []storage.Record {
	keep := messageRow(1, "guild-1")
	remove := messageRow(2, "guild-1")
	remove["message_flags"] = "remove_delivered"
	declined := messageRow(3, "guild-1")
	return []storage.Record{keep, remove, declined}
}

func callsFor(fake *storagetest.Fake, query string) []storagetest.Call {
	var matched []storagetest.Call
	for _, call := range fake.Calls() {
		if call.Query == query {
			matched = append(matched, call)
		}
	}
	return matched
}

func TestReadIncomingPartitionsByFlag(t *testing.T) {
	fake := &storagetest.Fake{
		QueryFn: func(query string, args ...any) ([]storage.Record, error) {
			require.Equal(t, querySelectUndelivered, query)
			return undeliveredBatch(), nil
		},
	}
	tx := &storagetest.Tx{Fake: fake}
	fake.AcquireFn = func(autoCommit bool) (storage.Tx, error) {
		require.False(t, autoCommit)
		return tx, nil
	}
	s := newTestService(fake)

	err := s.ReadIncoming(context.Background(), "gs", ClassGroup, "guild-1",
		func(_ context.Context, m *Message) (bool, error) {
			// The third message never reaches its channel
			return m.ID != 3, nil
		})
	require.NoError(t, err)
	require.True(t, tx.Committed)

	marked := callsFor(fake, queryMarkDelivered)
	require.Len(t, marked, 1)
	assert.Equal(t, []any{"gs", []int64{1}}, marked[0].Args)

	removed := callsFor(fake, queryDeleteBatch)
	require.Len(t, removed, 1)
	assert.Equal(t, []any{"gs", []int64{2}}, removed[0].Args)
}

func TestReadIncomingReceiverErrorAborts(t *testing.T) {
	fake := &storagetest.Fake{
		QueryFn: func(query string, args ...any) ([]storage.Record, error) {
			return undeliveredBatch(), nil
		},
	}
	tx := &storagetest.Tx{Fake: fake}
	fake.AcquireFn = func(bool) (storage.Tx, error) { return tx, nil }
	s := newTestService(fake)

	receiverErr := errors.New("channel gone")
	err := s.ReadIncoming(context.Background(), "gs", ClassGroup, "guild-1",
		func(context.Context, *Message) (bool, error) {
			return false, receiverErr
		})
	require.Error(t, err)
	assert.True(t, errors.Is(err, receiverErr))
	assert.True(t, tx.RolledBack)
	assert.False(t, tx.Committed)
	assert.Empty(t, callsFor(fake, queryMarkDelivered))
	assert.Empty(t, callsFor(fake, queryDeleteBatch))
}

func TestReadIncomingNothingConfirmed(t *testing.T) {
	fake := &storagetest.Fake{
		QueryFn: func(query string, args ...any) ([]storage.Record, error) {
			return undeliveredBatch(), nil
		},
	}
	tx := &storagetest.Tx{Fake: fake}
	fake.AcquireFn = func(bool) (storage.Tx, error) { return tx, nil }
	s := newTestService(fake)

	err := s.ReadIncoming(context.Background(), "gs", ClassGroup, "guild-1",
		func(context.Context, *Message) (bool, error) { return false, nil })
	require.NoError(t, err)
	assert.True(t, tx.Committed)
	assert.Empty(t, callsFor(fake, queryMarkDelivered))
	assert.Empty(t, callsFor(fake, queryDeleteBatch))
}

func TestEraseAccountsScoping(t *testing.T) {
	fake := &storagetest.Fake{}
	s := newTestService(fake)

	require.NoError(t, s.EraseAccounts(context.Background(), "gs", []string{"100", "200"}, true))
	require.NoError(t, s.EraseAccounts(context.Background(), "gs", []string{"100"}, false))

	calls := fake.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, queryEraseAccounts, calls[0].Query)
	assert.Equal(t, "gs", calls[0].Args[0])
	assert.Equal(t, queryEraseAccountsGlobal, calls[1].Query)
}
