// Package online keeps the live presence bindings of accounts to their group
// recipients in Redis, and names the pub/sub channels the dispatcher
// publishes on.
package online

import (
	"context"
	"fmt"

	"github.com/questline/messagehub/internal/services/group"
	"github.com/questline/messagehub/pkg/database"
	"github.com/questline/messagehub/pkg/logger"
)

// Channel is the pub/sub channel a recipient's online messages travel on
func Channel(gamespace, recipientClass, recipientKey string) string {
	return fmt.Sprintf("msg:%s:%s:%s", gamespace, recipientClass, recipientKey)
}

// Registry tracks which recipients an account is currently bound to
type Registry struct {
	rdb    *database.Redis
	logger *logger.Logger
}

// NewRegistry creates a new presence registry
func NewRegistry(rdb *database.Redis, logger *logger.Logger) *Registry {
	return &Registry{
		rdb:    rdb,
		logger: logger,
	}
}

func bindingsKey(gamespace, account string) string {
	return fmt.Sprintf("online:%s:account:%s", gamespace, account)
}

// BindAccountToGroup records the account's binding to the participation's
// recipient key. Called on every join.
func (r *Registry) BindAccountToGroup(ctx context.Context, gamespace, account string, p *group.Participation) error {
	key := bindingsKey(gamespace, account)
	if err := r.rdb.Client().HSet(ctx, key, p.RecipientKey(), p.ID).Err(); err != nil {
		return fmt.Errorf("failed to bind account %s: %w", account, err)
	}
	return nil
}

// UnbindAccountFromGroup drops a single recipient binding, called on leave
func (r *Registry) UnbindAccountFromGroup(ctx context.Context, gamespace, account, recipientKey string) error {
	key := bindingsKey(gamespace, account)
	if err := r.rdb.Client().HDel(ctx, key, recipientKey).Err(); err != nil {
		return fmt.Errorf("failed to unbind account %s: %w", account, err)
	}
	return nil
}

// UnbindAccount drops every binding of the account, used by account erasure
func (r *Registry) UnbindAccount(ctx context.Context, gamespace, account string) error {
	if err := r.rdb.Client().Del(ctx, bindingsKey(gamespace, account)).Err(); err != nil {
		return fmt.Errorf("failed to unbind account %s: %w", account, err)
	}
	r.logger.Debugf("Dropped all presence bindings of account %s (gamespace %s)", account, gamespace)
	return nil
}
