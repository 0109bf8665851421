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
)

func messageRow(id int64, recipient string) storage.Record {
	return storage.Record{
		"message_id":              id,
		"message_uuid":            "uuid-1",
		"message_sender":          "100",
		"message_recipient_class": ClassGroup,
		"message_recipient":       recipient,
		"message_time":            time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		"message_type":            "chat",
		"message_payload":         map[string]any{"text": "hi"},
		"message_delivered":       false,
		"message_flags":           "",
	}
}

func TestQueryConditions(t *testing.T) {
	delivered := true

	tests := []struct {
		name     string
		modify   func(q *Query)
		wantSQL  []string
		wantArgs []any
	}{
		{
			name:     "gamespace only",
			modify:   func(q *Query) {},
			wantSQL:  []string{"gamespace_id = $1"},
			wantArgs: []any{"gs"},
		},
		{
			name: "all filters",
			modify: func(q *Query) {
				q.Sender = "100"
				q.RecipientClass = ClassGroup
				q.Recipient = "guild-%"
				q.Type = "chat"
				q.Delivered = &delivered
			},
			wantSQL: []string{
				"gamespace_id = $1",
				"message_sender = $2",
				"message_recipient_class = $3",
				"message_recipient LIKE $4",
				"message_type = $5",
				"message_delivered = $6",
			},
			wantArgs: []any{"gs", "100", ClassGroup, "guild-%", "chat", true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newQuery("gs", &storagetest.Fake{})
			tt.modify(q)

			conditions, args := q.conditions()
			assert.Equal(t, tt.wantSQL, conditions)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestQueryPagingBounds(t *testing.T) {
	fake := &storagetest.Fake{
		QueryFn: func(query string, args ...any) ([]storage.Record, error) {
			t.Fatal("storage must not be reached with invalid paging")
			return nil, nil
		},
	}

	tests := []struct {
		name   string
		limit  int
		offset int
	}{
		{name: "limit above cap", limit: MaxLimit + 1},
		{name: "negative limit", limit: -1},
		{name: "negative offset", limit: 10, offset: -1},
		{name: "offset above cap", limit: 10, offset: MaxOffset + 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newQuery("gs", fake)
			q.Limit = tt.limit
			q.Offset = tt.offset

			_, err := q.All(context.Background())
			assert.True(t, errors.Is(err, ErrBadPaging))
		})
	}
}

func TestQueryAllWithCount(t *testing.T) {
	fake := &storagetest.Fake{
		QueryFn: func(query string, args ...any) ([]storage.Record, error) {
			assert.Contains(t, query, "COUNT(*) OVER()")
			row := messageRow(5, "guild-1")
			row["total_count"] = int64(42)
			return []storage.Record{row}, nil
		},
	}

	q := newQuery("gs", fake)
	q.RecipientClass = ClassGroup
	q.Limit = 10

	messages, total, err := q.AllWithCount(context.Background())
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, int64(5), messages[0].ID)
	assert.Equal(t, int64(42), total)
}

func TestQueryOneEmpty(t *testing.T) {
	q := newQuery("gs", &storagetest.Fake{})

	m, err := q.One(context.Background())
	require.NoError(t, err)
	assert.Nil(t, m)
}
