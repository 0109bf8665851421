// Package message owns message persistence, recipient-resolution queries and
// the transactional delivery protocol.
package message

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/questline/messagehub/internal/storage"
	"github.com/questline/messagehub/pkg/logger"
)

// Recipient classes understood by the account feed
const (
	ClassUser  = "user"
	ClassGroup = "group"
)

var (
	// ErrNotFound reports a missing message
	ErrNotFound = errors.New("message not found")
	// ErrInvalidPayload reports a payload that is not a structured document
	ErrInvalidPayload = errors.New("message payload must be an object")
	// ErrBadPaging reports limit/offset outside the allowed window
	ErrBadPaging = errors.New("bad limit/offset")
)

// Message is one stored message
type Message struct {
	ID             int64
	UUID           string
	Sender         string
	RecipientClass string
	Recipient      string
	Time           time.Time
	Type           string
	Payload        map[string]any
	Delivered      bool
	Flags          Flags
}

func rowToMessage(row storage.Record) (*Message, error) {
	var m Message
	var err error

	if m.ID, err = storage.FieldInt64(row, "message_id"); err != nil {
		return nil, fmt.Errorf("malformed message row: %w", err)
	}
	if m.UUID, err = storage.FieldString(row, "message_uuid"); err != nil {
		return nil, fmt.Errorf("malformed message row: %w", err)
	}
	if m.Sender, err = storage.FieldString(row, "message_sender"); err != nil {
		return nil, fmt.Errorf("malformed message row: %w", err)
	}
	if m.RecipientClass, err = storage.FieldString(row, "message_recipient_class"); err != nil {
		return nil, fmt.Errorf("malformed message row: %w", err)
	}
	if m.Recipient, err = storage.FieldString(row, "message_recipient"); err != nil {
		return nil, fmt.Errorf("malformed message row: %w", err)
	}
	if m.Time, err = storage.FieldTime(row, "message_time"); err != nil {
		return nil, fmt.Errorf("malformed message row: %w", err)
	}
	if m.Type, err = storage.FieldString(row, "message_type"); err != nil {
		return nil, fmt.Errorf("malformed message row: %w", err)
	}
	if m.Payload, err = storage.FieldDocument(row, "message_payload"); err != nil {
		return nil, fmt.Errorf("malformed message row: %w", err)
	}
	if m.Delivered, err = storage.FieldBool(row, "message_delivered"); err != nil {
		return nil, fmt.Errorf("malformed message row: %w", err)
	}

	rawFlags, err := storage.FieldString(row, "message_flags")
	if err != nil {
		return nil, fmt.Errorf("malformed message row: %w", err)
	}
	if m.Flags, err = ParseFlags(rawFlags); err != nil {
		return nil, fmt.Errorf("malformed message row: %w", err)
	}

	return &m, nil
}

// Receiver hands one message to the external delivery channel inside the
// delivery transaction. Returning false leaves the message undelivered for a
// later attempt; returning an error aborts the whole batch.
type Receiver func(ctx context.Context, m *Message) (bool, error)

// Service handles message-related operations
type Service struct {
	db     storage.Datastore
	logger *logger.Logger
}

// NewService creates a new message service
func NewService(db storage.Datastore, logger *logger.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger,
	}
}

const (
	queryInsertMessage = `
		INSERT INTO messages (gamespace_id, message_uuid, message_sender,
			message_recipient_class, message_recipient, message_time,
			message_type, message_payload, message_delivered, message_flags)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING message_id
	`

	queryGetMessage = `
		SELECT *
		FROM messages
		WHERE message_id = $1 AND gamespace_id = $2
	`

	queryListIncoming = `
		SELECT *
		FROM messages
		WHERE message_recipient_class = $1 AND message_recipient = $2 AND gamespace_id = $3
		ORDER BY message_time DESC
		LIMIT $4
	`

	// The account feed reconciles three recipient-resolution paths: messages
	// to any recipient key the account currently participates in (including
	// cluster-partitioned keys), messages to the account itself, and messages
	// the account sent. UNION deduplicates; the window aggregate counts the
	// full union within the same scan.
	queryListForAccount = `
		SELECT u.*, COUNT(*) OVER() AS total_count
		FROM (
			SELECT m.*
			FROM messages m
			WHERE m.gamespace_id = $1
				AND (m.message_recipient_class, m.message_recipient) IN (
					SELECT p.group_class,
						CASE WHEN p.cluster_id = 0 THEN p.group_key
							ELSE p.group_key || '-' || p.cluster_id::text END
					FROM group_participants p
					WHERE p.gamespace_id = $1 AND p.participation_account = $2
				)
			UNION
			SELECT m.*
			FROM messages m
			WHERE m.gamespace_id = $1 AND m.message_recipient_class = $3
				AND m.message_recipient = $2
			UNION
			SELECT m.*
			FROM messages m
			WHERE m.gamespace_id = $1 AND m.message_sender = $2
		) u
		ORDER BY u.message_id DESC
		OFFSET $4 LIMIT $5
	`

	// Counts the same union as queryListForAccount, for pages past the end
	// where no row carries the window total.
	queryCountForAccount = `
		SELECT COUNT(*) AS total_count
		FROM (
			SELECT m.message_id
			FROM messages m
			WHERE m.gamespace_id = $1
				AND (m.message_recipient_class, m.message_recipient) IN (
					SELECT p.group_class,
						CASE WHEN p.cluster_id = 0 THEN p.group_key
							ELSE p.group_key || '-' || p.cluster_id::text END
					FROM group_participants p
					WHERE p.gamespace_id = $1 AND p.participation_account = $2
				)
			UNION
			SELECT m.message_id
			FROM messages m
			WHERE m.gamespace_id = $1 AND m.message_recipient_class = $3
				AND m.message_recipient = $2
			UNION
			SELECT m.message_id
			FROM messages m
			WHERE m.gamespace_id = $1 AND m.message_sender = $2
		) u
	`

	querySelectUndelivered = `
		SELECT *
		FROM messages
		WHERE message_recipient_class = $1 AND message_recipient = $2
			AND gamespace_id = $3 AND message_delivered = FALSE
		FOR UPDATE
	`

	queryMarkDelivered = `
		UPDATE messages
		SET message_delivered = TRUE
		WHERE gamespace_id = $1 AND message_id = ANY($2)
	`

	queryDeleteBatch = `
		DELETE FROM messages
		WHERE gamespace_id = $1 AND message_id = ANY($2)
	`

	queryDeleteMessage = `
		DELETE FROM messages
		WHERE message_id = $1 AND gamespace_id = $2
	`

	queryDeleteForRecipient = `
		DELETE FROM messages
		WHERE message_recipient_class = $1 AND message_recipient = $2 AND gamespace_id = $3
	`

	queryDeleteForRecipientLike = `
		DELETE FROM messages
		WHERE message_recipient_class = $1 AND message_recipient LIKE $2 AND gamespace_id = $3
	`

	queryEraseAccounts = `
		DELETE FROM messages
		WHERE gamespace_id = $1
			AND (message_sender = ANY($2)
				OR (message_recipient_class = $3 AND message_recipient = ANY($2)))
	`

	queryEraseAccountsGlobal = `
		DELETE FROM messages
		WHERE message_sender = ANY($1)
			OR (message_recipient_class = $2 AND message_recipient = ANY($1))
	`
)

// Add stores a new message and returns its generated id
func (s *Service) Add(ctx context.Context, gamespace, sender, uuid, recipientClass,
	recipientKey string, t time.Time, messageType string, payload map[string]any,
	flags Flags, delivered bool) (int64, error) {

	if payload == nil {
		return 0, ErrInvalidPayload
	}

	messageID, err := s.db.Insert(ctx, queryInsertMessage,
		gamespace, uuid, sender, recipientClass, recipientKey,
		t, messageType, payload, delivered, flags.String())
	if err != nil {
		return 0, fmt.Errorf("failed to add message: %w", err)
	}

	return messageID, nil
}

// Get retrieves a message by id
func (s *Service) Get(ctx context.Context, gamespace string, messageID int64) (*Message, error) {
	row, err := s.db.Get(ctx, queryGetMessage, messageID, gamespace)
	if err != nil {
		return nil, fmt.Errorf("failed to get a message: %w", err)
	}
	if row == nil {
		return nil, ErrNotFound
	}
	return rowToMessage(row)
}

// ListIncoming returns the most recent messages addressed to the recipient
func (s *Service) ListIncoming(ctx context.Context, gamespace, recipientClass, recipient string, limit int) ([]*Message, error) {
	rows, err := s.db.Query(ctx, queryListIncoming, recipientClass, recipient, gamespace, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list incoming messages: %w", err)
	}

	messages := make([]*Message, 0, len(rows))
	for _, row := range rows {
		m, err := rowToMessage(row)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// Query starts a filtered message read within the gamespace
func (s *Service) Query(gamespace string) *Query {
	return newQuery(gamespace, s.db)
}

// ListForAccount returns the account's unified feed window together with the
// total number of feed messages. Bounds are checked before any storage call.
func (s *Service) ListForAccount(ctx context.Context, gamespace, account string, limit, offset int) ([]*Message, int64, error) {
	if limit < 1 || limit > MaxLimit {
		return nil, 0, fmt.Errorf("%w: limit %d", ErrBadPaging, limit)
	}
	if offset < 0 || offset > MaxOffset {
		return nil, 0, fmt.Errorf("%w: offset %d", ErrBadPaging, offset)
	}

	rows, err := s.db.Query(ctx, queryListForAccount, gamespace, account, ClassUser, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list account messages: %w", err)
	}

	var total int64
	messages := make([]*Message, 0, len(rows))
	for _, row := range rows {
		m, err := rowToMessage(row)
		if err != nil {
			return nil, 0, err
		}
		messages = append(messages, m)
		if total, err = storage.FieldInt64(row, "total_count"); err != nil {
			return nil, 0, err
		}
	}

	// An offset past the last match returns no rows and so no window total;
	// count separately so pagination still sees the real feed size.
	if len(rows) == 0 && offset > 0 {
		row, err := s.db.Get(ctx, queryCountForAccount, gamespace, account, ClassUser)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to count account messages: %w", err)
		}
		if row != nil {
			if total, err = storage.FieldInt64(row, "total_count"); err != nil {
				return nil, 0, err
			}
		}
	}

	return messages, total, nil
}

// ReadIncoming runs the delivery protocol for one recipient: the undelivered
// batch is locked, each message is offered to the receiver, and confirmed
// messages are then removed or marked delivered according to their flags.
// The batch commits atomically; on any failure no delivery state changes.
func (s *Service) ReadIncoming(ctx context.Context, gamespace, recipientClass, recipient string, receiver Receiver) error {
	tx, err := s.db.Acquire(ctx, false)
	if err != nil {
		return fmt.Errorf("failed to read incoming messages: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, querySelectUndelivered, recipientClass, recipient, gamespace)
	if err != nil {
		return fmt.Errorf("failed to read incoming messages: %w", err)
	}

	var markDelivered []int64
	var remove []int64

	for _, row := range rows {
		m, err := rowToMessage(row)
		if err != nil {
			return err
		}

		delivered, err := receiver(ctx, m)
		if err != nil {
			return fmt.Errorf("message receiver failed: %w", err)
		}
		if !delivered {
			continue
		}

		if m.Flags.Has(FlagRemoveDelivered) {
			remove = append(remove, m.ID)
		} else {
			markDelivered = append(markDelivered, m.ID)
		}
	}

	if len(markDelivered) > 0 {
		if err := tx.Exec(ctx, queryMarkDelivered, gamespace, markDelivered); err != nil {
			return fmt.Errorf("failed to mark messages delivered: %w", err)
		}
	}

	if len(remove) > 0 {
		if err := tx.Exec(ctx, queryDeleteBatch, gamespace, remove); err != nil {
			return fmt.Errorf("failed to remove delivered messages: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit message delivery: %w", err)
	}

	return nil
}

// Delete removes a single message
func (s *Service) Delete(ctx context.Context, gamespace string, messageID int64) error {
	if err := s.db.Exec(ctx, queryDeleteMessage, messageID, gamespace); err != nil {
		return fmt.Errorf("failed to delete a message: %w", err)
	}
	return nil
}

// DeleteForRecipient removes every message addressed to the exact recipient
func (s *Service) DeleteForRecipient(ctx context.Context, gamespace, recipientClass, recipient string) error {
	if err := s.db.Exec(ctx, queryDeleteForRecipient, recipientClass, recipient, gamespace); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}

// DeleteForRecipientLike removes every message whose recipient matches the
// pattern, used by group deletion to cover cluster-partitioned recipients.
func (s *Service) DeleteForRecipientLike(ctx context.Context, gamespace, recipientClass, recipientPattern string) error {
	if err := s.db.Exec(ctx, queryDeleteForRecipientLike, recipientClass, recipientPattern, gamespace); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}

// EraseAccounts removes every message sent by or addressed directly to the
// accounts, used by platform-wide account erasure.
func (s *Service) EraseAccounts(ctx context.Context, gamespace string, accounts []string, gamespaceOnly bool) error {
	var err error
	if gamespaceOnly {
		err = s.db.Exec(ctx, queryEraseAccounts, gamespace, accounts, ClassUser)
	} else {
		err = s.db.Exec(ctx, queryEraseAccountsGlobal, accounts, ClassUser)
	}
	if err != nil {
		return fmt.Errorf("failed to erase account messages: %w", err)
	}
	return nil
}
