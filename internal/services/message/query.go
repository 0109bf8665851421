package message

import (
	"context"
	"fmt"
	"strings"

	"github.com/questline/messagehub/internal/storage"
)

// Pagination bounds shared by the query builder and the account feed
const (
	MaxLimit  = 10000
	MaxOffset = 10000
)

// Query composes a filtered message read. Zero-valued filters are skipped;
// Recipient is matched with LIKE so callers can pass cluster prefixes.
type Query struct {
	gamespace string
	db        storage.Datastore

	Sender         string
	RecipientClass string
	Recipient      string
	Type           string
	Delivered      *bool

	Offset int
	Limit  int
}

func newQuery(gamespace string, db storage.Datastore) *Query {
	return &Query{
		gamespace: gamespace,
		db:        db,
	}
}

func (q *Query) conditions() ([]string, []any) {
	conditions := []string{"gamespace_id = $1"}
	args := []any{q.gamespace}

	place := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.Sender != "" {
		conditions = append(conditions, "message_sender = "+place(q.Sender))
	}
	if q.RecipientClass != "" {
		conditions = append(conditions, "message_recipient_class = "+place(q.RecipientClass))
	}
	if q.Recipient != "" {
		conditions = append(conditions, "message_recipient LIKE "+place(q.Recipient))
	}
	if q.Type != "" {
		conditions = append(conditions, "message_type = "+place(q.Type))
	}
	if q.Delivered != nil {
		conditions = append(conditions, "message_delivered = "+place(*q.Delivered))
	}

	return conditions, args
}

func (q *Query) build(count bool) (string, []any, error) {
	if q.Limit != 0 && (q.Limit < 1 || q.Limit > MaxLimit) {
		return "", nil, fmt.Errorf("%w: limit %d", ErrBadPaging, q.Limit)
	}
	if q.Offset < 0 || q.Offset > MaxOffset {
		return "", nil, fmt.Errorf("%w: offset %d", ErrBadPaging, q.Offset)
	}

	conditions, args := q.conditions()

	columns := "*"
	if count {
		columns = "*, COUNT(*) OVER() AS total_count"
	}

	sql := fmt.Sprintf(
		"SELECT %s FROM messages WHERE %s ORDER BY message_time DESC",
		columns, strings.Join(conditions, " AND "))

	if q.Limit != 0 {
		args = append(args, q.Offset, q.Limit)
		sql += fmt.Sprintf(" OFFSET $%d LIMIT $%d", len(args)-1, len(args))
	}

	return sql, args, nil
}

// One returns the most recent matching message, or nil when there is none
func (q *Query) One(ctx context.Context) (*Message, error) {
	sql, args, err := q.build(false)
	if err != nil {
		return nil, err
	}

	row, err := q.db.Get(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	if row == nil {
		return nil, nil
	}
	return rowToMessage(row)
}

// All returns every matching message in the window, most recent first
func (q *Query) All(ctx context.Context) ([]*Message, error) {
	messages, _, err := q.run(ctx, false)
	return messages, err
}

// AllWithCount additionally returns the total match count, computed within
// the same scan via a window aggregate.
func (q *Query) AllWithCount(ctx context.Context) ([]*Message, int64, error) {
	return q.run(ctx, true)
}

func (q *Query) run(ctx context.Context, count bool) ([]*Message, int64, error) {
	sql, args, err := q.build(count)
	if err != nil {
		return nil, 0, err
	}

	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query messages: %w", err)
	}

	var total int64
	messages := make([]*Message, 0, len(rows))
	for _, row := range rows {
		m, err := rowToMessage(row)
		if err != nil {
			return nil, 0, err
		}
		messages = append(messages, m)
		if count {
			if total, err = storage.FieldInt64(row, "total_count"); err != nil {
				return nil, 0, err
			}
		}
	}

	return messages, total, nil
}
