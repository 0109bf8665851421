// Package queue is the outgoing messaging façade: it attempts online
// delivery over Redis pub/sub and persists the message to history with the
// resulting delivery state.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/questline/messagehub/internal/online"
	"github.com/questline/messagehub/internal/services/message"
	"github.com/questline/messagehub/pkg/logger"
)

// Envelope is the wire form published to online subscribers
type Envelope struct {
	Gamespace      string         `json:"gamespace"`
	MessageUUID    string         `json:"message_uuid"`
	Sender         string         `json:"sender"`
	RecipientClass string         `json:"recipient_class"`
	RecipientKey   string         `json:"recipient_key"`
	Type           string         `json:"type"`
	Payload        map[string]any `json:"payload"`
	Flags          string         `json:"flags,omitempty"`
	Authoritative  bool           `json:"authoritative,omitempty"`
}

// Outgoing is one message of a batch send
type Outgoing struct {
	RecipientClass string
	RecipientKey   string
	Type           string
	Payload        map[string]any
	Flags          message.Flags
}

// Historian persists a message together with its delivery outcome
type Historian interface {
	Add(ctx context.Context, gamespace, sender, uuid, recipientClass,
		recipientKey string, t time.Time, messageType string, payload map[string]any,
		flags message.Flags, delivered bool) (int64, error)
}

// Publisher is the pub/sub slice of the Redis client the dispatcher uses
type Publisher interface {
	Publish(ctx context.Context, channel string, payload interface{}) *redis.IntCmd
}

// Service dispatches outgoing messages
type Service struct {
	history Historian
	pub     Publisher
	logger  *logger.Logger
}

// NewService creates a new queue dispatcher
func NewService(history Historian, pub Publisher, logger *logger.Logger) *Service {
	return &Service{
		history: history,
		pub:     pub,
		logger:  logger,
	}
}

// AddMessage dispatches one message: an online delivery attempt first, then
// history persistence carrying the delivery outcome. A message delivered
// online and flagged remove_delivered is never stored. Returns whether the
// message reached an online recipient.
func (s *Service) AddMessage(ctx context.Context, gamespace, sender, recipientClass, recipientKey,
	messageType string, payload map[string]any, flags message.Flags, authoritative bool) (bool, error) {

	if payload == nil {
		return false, message.ErrInvalidPayload
	}

	messageUUID := uuid.New().String()

	delivered := s.publish(ctx, Envelope{
		Gamespace:      gamespace,
		MessageUUID:    messageUUID,
		Sender:         sender,
		RecipientClass: recipientClass,
		RecipientKey:   recipientKey,
		Type:           messageType,
		Payload:        payload,
		Flags:          flags.String(),
		Authoritative:  authoritative,
	})

	s.logger.Debugf("Message %s %s been delivered online", messageUUID, deliveredWord(delivered))

	if delivered && flags.Has(message.FlagRemoveDelivered) {
		return true, nil
	}

	_, err := s.history.Add(ctx, gamespace, sender, messageUUID, recipientClass, recipientKey,
		time.Now().UTC(), messageType, payload, flags, delivered)
	if err != nil {
		return delivered, fmt.Errorf("failed to store message: %w", err)
	}

	return delivered, nil
}

// AddMessages dispatches a batch from one sender, stopping at the first
// failure.
func (s *Service) AddMessages(ctx context.Context, gamespace, sender string, batch []Outgoing, authoritative bool) error {
	for _, out := range batch {
		if _, err := s.AddMessage(ctx, gamespace, sender, out.RecipientClass, out.RecipientKey,
			out.Type, out.Payload, out.Flags, authoritative); err != nil {
			return err
		}
	}
	return nil
}

// publish reports true when at least one online subscriber received the
// message. Publish failures degrade to an undelivered store, never an error.
func (s *Service) publish(ctx context.Context, env Envelope) bool {
	body, err := json.Marshal(env)
	if err != nil {
		s.logger.Errorf("Failed to encode message %s: %v", env.MessageUUID, err)
		return false
	}

	channel := online.Channel(env.Gamespace, env.RecipientClass, env.RecipientKey)
	receivers, err := s.pub.Publish(ctx, channel, body).Result()
	if err != nil {
		s.logger.Warnf("Failed to publish message %s to %s: %v", env.MessageUUID, channel, err)
		return false
	}

	return receivers > 0
}

func deliveredWord(delivered bool) string {
	if delivered {
		return "has"
	}
	return "has not"
}
