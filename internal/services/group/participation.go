package group

import (
	"context"
	"errors"
	"fmt"

	"github.com/questline/messagehub/internal/services/cluster"
	"github.com/questline/messagehub/internal/services/message"
	"github.com/questline/messagehub/internal/storage"
	"github.com/questline/messagehub/pkg/logger"
)

// Notifier emits membership notifications through the messaging façade
type Notifier interface {
	AddMessage(ctx context.Context, gamespace, sender, recipientClass, recipientKey,
		messageType string, payload map[string]any, flags message.Flags, authoritative bool) (bool, error)
}

// Binder maintains an account's live presence bindings to its recipients
type Binder interface {
	BindAccountToGroup(ctx context.Context, gamespace, account string, p *Participation) error
	UnbindAccountFromGroup(ctx context.Context, gamespace, account, recipientKey string) error
}

// Participations handles the join/leave lifecycle of accounts in groups
type Participations struct {
	db      storage.Datastore
	cluster cluster.Assigner
	online  Binder
	queue   Notifier
	logger  *logger.Logger
}

// NewParticipations creates a new participation service
func NewParticipations(db storage.Datastore, assigner cluster.Assigner, online Binder, queue Notifier, logger *logger.Logger) *Participations {
	return &Participations{
		db:      db,
		cluster: assigner,
		online:  online,
		queue:   queue,
		logger:  logger,
	}
}

const (
	queryInsertParticipation = `
		INSERT INTO group_participants (gamespace_id, group_id, group_class, group_key,
			participation_account, participation_role, cluster_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING participation_id
	`

	queryGetParticipation = `
		SELECT *
		FROM group_participants
		WHERE participation_id = $1 AND gamespace_id = $2
	`

	queryFindParticipation = `
		SELECT *
		FROM group_participants
		WHERE group_id = $1 AND participation_account = $2 AND gamespace_id = $3
	`

	queryUpdateRole = `
		UPDATE group_participants
		SET participation_role = $1
		WHERE gamespace_id = $2 AND participation_id = $3
	`

	queryDeleteParticipation = `
		DELETE FROM group_participants
		WHERE gamespace_id = $1 AND participation_id = $2
	`

	queryListByGroup = `
		SELECT *
		FROM group_participants
		WHERE group_id = $1 AND gamespace_id = $2
	`

	queryListByAccount = `
		SELECT *
		FROM group_participants
		WHERE participation_account = $1 AND gamespace_id = $2
	`

	queryListGroupsForAccount = `
		SELECT g.*, p.participation_id, p.participation_account, p.participation_role, p.cluster_id
		FROM group_participants p
			INNER JOIN groups g
				ON p.group_id = g.group_id AND p.gamespace_id = g.gamespace_id
		WHERE p.participation_account = $1 AND p.gamespace_id = $2
	`

	queryPurgeAccounts = `
		DELETE FROM group_participants
		WHERE gamespace_id = $1 AND participation_account = ANY($2)
	`

	queryPurgeAccountsGlobal = `
		DELETE FROM group_participants
		WHERE participation_account = ANY($1)
	`
)

// Join adds the account to the group, assigning a cluster slot for clustered
// groups, and emits a player_joined notification when notify is given.
func (s *Participations) Join(ctx context.Context, gamespace string, g *Group, account, role string,
	notify map[string]any, authoritative bool) (*Participation, error) {

	var clusterID int64
	if g.Clustered {
		var err error
		clusterID, err = s.cluster.GetCluster(ctx, gamespace, account, g.ID, g.ClusterSize, true)
		if err != nil {
			return nil, err
		}
	}

	participationID, err := s.db.Insert(ctx, queryInsertParticipation,
		gamespace, g.ID, g.Class, g.Key, account, role, clusterID)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return nil, ErrAlreadyJoined
		}
		return nil, fmt.Errorf("failed to join a group: %w", err)
	}

	p := &Participation{
		ID:         participationID,
		GroupID:    g.ID,
		GroupClass: g.Class,
		GroupKey:   g.Key,
		ClusterID:  clusterID,
		Account:    account,
		Role:       role,
	}

	if err := s.online.BindAccountToGroup(ctx, gamespace, account, p); err != nil {
		// Presence is advisory; the participation row is the source of truth
		s.logger.Warnf("Failed to bind account %s to group %d online: %v", account, g.ID, err)
	}

	if notify != nil {
		if _, err := s.queue.AddMessage(ctx, gamespace, account, g.Class, p.RecipientKey(),
			MessagePlayerJoined, notify, 0, authoritative); err != nil {
			return nil, fmt.Errorf("failed to notify group join: %w", err)
		}
	}

	return p, nil
}

// Leave removes the account's participation and releases its cluster slot.
// A failed cluster release is logged and swallowed: the participation row is
// already gone and is the source of truth.
func (s *Participations) Leave(ctx context.Context, gamespace string, g *Group, account string,
	notify map[string]any, authoritative bool) error {

	p, err := s.Find(ctx, gamespace, g.ID, account)
	if err != nil {
		return err
	}

	if err := s.db.Exec(ctx, queryDeleteParticipation, gamespace, p.ID); err != nil {
		return fmt.Errorf("failed to leave a group: %w", err)
	}

	if err := s.online.UnbindAccountFromGroup(ctx, gamespace, account, p.RecipientKey()); err != nil {
		// Presence is advisory; the participation row is the source of truth
		s.logger.Warnf("Failed to unbind account %s from group %d online: %v", account, g.ID, err)
	}

	if p.ClusterID != 0 {
		if err := s.cluster.LeaveCluster(ctx, gamespace, account, g.ID); err != nil {
			s.logger.Warnf("Failed to release cluster slot for account %s in group %d (gamespace %s): %v",
				account, g.ID, gamespace, err)
		}
	}

	if notify != nil {
		if _, err := s.queue.AddMessage(ctx, gamespace, account, g.Class, p.RecipientKey(),
			MessagePlayerLeft, notify, 0, authoritative); err != nil {
			return fmt.Errorf("failed to notify group leave: %w", err)
		}
	}

	return nil
}

// Get retrieves a participation by id
func (s *Participations) Get(ctx context.Context, gamespace string, participationID int64) (*Participation, error) {
	row, err := s.db.Get(ctx, queryGetParticipation, participationID, gamespace)
	if err != nil {
		return nil, fmt.Errorf("failed to get group participant: %w", err)
	}
	if row == nil {
		return nil, ErrParticipantNotFound
	}
	return rowToParticipation(row)
}

// Find retrieves the account's participation in a group
func (s *Participations) Find(ctx context.Context, gamespace string, groupID int64, account string) (*Participation, error) {
	row, err := s.db.Get(ctx, queryFindParticipation, groupID, account, gamespace)
	if err != nil {
		return nil, fmt.Errorf("failed to get group participant: %w", err)
	}
	if row == nil {
		return nil, ErrParticipantNotFound
	}
	return rowToParticipation(row)
}

// UpdateRole changes a participation's role
func (s *Participations) UpdateRole(ctx context.Context, gamespace string, participationID int64, role string) error {
	if err := s.db.Exec(ctx, queryUpdateRole, role, gamespace, participationID); err != nil {
		return fmt.Errorf("failed to update a group participation: %w", err)
	}
	return nil
}

// ListByGroup returns every participation in a group
func (s *Participations) ListByGroup(ctx context.Context, gamespace string, groupID int64) ([]*Participation, error) {
	rows, err := s.db.Query(ctx, queryListByGroup, groupID, gamespace)
	if err != nil {
		return nil, fmt.Errorf("failed to list group participants: %w", err)
	}
	return collectParticipations(rows)
}

// ListByAccount returns every participation of an account
func (s *Participations) ListByAccount(ctx context.Context, gamespace, account string) ([]*Participation, error) {
	rows, err := s.db.Query(ctx, queryListByAccount, account, gamespace)
	if err != nil {
		return nil, fmt.Errorf("failed to list account participations: %w", err)
	}
	return collectParticipations(rows)
}

// ListGroupsForAccount returns the groups the account participates in,
// each paired with the account's participation.
func (s *Participations) ListGroupsForAccount(ctx context.Context, gamespace, account string) ([]*GroupParticipation, error) {
	rows, err := s.db.Query(ctx, queryListGroupsForAccount, account, gamespace)
	if err != nil {
		return nil, fmt.Errorf("failed to list account groups: %w", err)
	}

	result := make([]*GroupParticipation, 0, len(rows))
	for _, row := range rows {
		gp, err := rowToGroupParticipation(row)
		if err != nil {
			return nil, err
		}
		result = append(result, gp)
	}
	return result, nil
}

// Purge removes every participation row of the accounts, scoped to one
// gamespace or globally. It is the account-erasure hook of this service.
func (s *Participations) Purge(ctx context.Context, gamespace string, accounts []string, gamespaceOnly bool) error {
	var err error
	if gamespaceOnly {
		err = s.db.Exec(ctx, queryPurgeAccounts, gamespace, accounts)
	} else {
		err = s.db.Exec(ctx, queryPurgeAccountsGlobal, accounts)
	}
	if err != nil {
		return fmt.Errorf("failed to purge account participations: %w", err)
	}
	return nil
}

func collectParticipations(rows []storage.Record) ([]*Participation, error) {
	participations := make([]*Participation, 0, len(rows))
	for _, row := range rows {
		p, err := rowToParticipation(row)
		if err != nil {
			return nil, err
		}
		participations = append(participations, p)
	}
	return participations, nil
}
