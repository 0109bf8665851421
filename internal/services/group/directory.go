package group

import (
	"context"
	"errors"
	"fmt"

	"github.com/questline/messagehub/internal/storage"
	"github.com/questline/messagehub/pkg/logger"
)

// MessagePurger is the slice of the message store group deletion needs
type MessagePurger interface {
	DeleteForRecipient(ctx context.Context, gamespace, recipientClass, recipient string) error
	DeleteForRecipientLike(ctx context.Context, gamespace, recipientClass, recipientPattern string) error
}

// ClusterDropper releases a deleted group's cluster bookkeeping
type ClusterDropper interface {
	DropGroup(ctx context.Context, gamespace string, groupID int64) error
}

// Directory handles group identity: lookup, creation, update and deletion
type Directory struct {
	db       storage.Datastore
	messages MessagePurger
	clusters ClusterDropper
	logger   *logger.Logger
}

// NewDirectory creates a new group directory
func NewDirectory(db storage.Datastore, messages MessagePurger, clusters ClusterDropper, logger *logger.Logger) *Directory {
	return &Directory{
		db:       db,
		messages: messages,
		clusters: clusters,
		logger:   logger,
	}
}

const (
	queryInsertGroup = `
		INSERT INTO groups (gamespace_id, group_class, group_key, group_clustered, group_cluster_size)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING group_id
	`

	queryGetGroup = `
		SELECT *
		FROM groups
		WHERE group_id = $1 AND gamespace_id = $2
	`

	queryFindGroup = `
		SELECT *
		FROM groups
		WHERE gamespace_id = $1 AND group_class = $2 AND group_key = $3
	`

	// Left join so a missing participation is distinguishable from a missing
	// group. Participation columns are selected explicitly to keep the shared
	// column names from colliding in the row.
	queryFindGroupWithParticipation = `
		SELECT g.*, p.participation_id, p.participation_account, p.participation_role, p.cluster_id
		FROM groups g
			LEFT JOIN group_participants p
				ON g.group_id = p.group_id
				AND g.gamespace_id = p.gamespace_id
				AND p.participation_account = $1
		WHERE g.gamespace_id = $2 AND g.group_class = $3 AND g.group_key = $4
	`

	queryListGroups = `
		SELECT *
		FROM groups
		WHERE group_class = $1 AND gamespace_id = $2
	`

	queryUpdateGroup = `
		UPDATE groups
		SET group_class = $1, group_key = $2, group_cluster_size = $3
		WHERE gamespace_id = $4 AND group_id = $5
	`

	queryDeleteGroup = `
		DELETE FROM groups
		WHERE group_id = $1 AND gamespace_id = $2
	`

	queryDeleteGroupParticipants = `
		DELETE FROM group_participants
		WHERE group_id = $1 AND gamespace_id = $2
	`
)

// Create adds a new group and returns its generated id
func (s *Directory) Create(ctx context.Context, gamespace, class, key string, clustered bool, clusterSize int) (int64, error) {
	if clusterSize <= 0 {
		clusterSize = DefaultClusterSize
	}

	groupID, err := s.db.Insert(ctx, queryInsertGroup, gamespace, class, key, clustered, clusterSize)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return 0, ErrAlreadyExists
		}
		return 0, fmt.Errorf("failed to add a group: %w", err)
	}

	return groupID, nil
}

// Get retrieves a group by id
func (s *Directory) Get(ctx context.Context, gamespace string, groupID int64) (*Group, error) {
	row, err := s.db.Get(ctx, queryGetGroup, groupID, gamespace)
	if err != nil {
		return nil, fmt.Errorf("failed to get a group: %w", err)
	}
	if row == nil {
		return nil, ErrNotFound
	}
	return rowToGroup(row)
}

// Find retrieves a group by class and key
func (s *Directory) Find(ctx context.Context, gamespace, class, key string) (*Group, error) {
	row, err := s.db.Get(ctx, queryFindGroup, gamespace, class, key)
	if err != nil {
		return nil, fmt.Errorf("failed to find a group: %w", err)
	}
	if row == nil {
		return nil, ErrNotFound
	}
	return rowToGroup(row)
}

// FindWithParticipation retrieves a group together with the account's
// participation in it. A group without the account's participation fails
// with ErrParticipantNotFound.
func (s *Directory) FindWithParticipation(ctx context.Context, gamespace, class, key, account string) (*GroupParticipation, error) {
	row, err := s.db.Get(ctx, queryFindGroupWithParticipation, account, gamespace, class, key)
	if err != nil {
		return nil, fmt.Errorf("failed to find a group: %w", err)
	}
	if row == nil {
		return nil, ErrNotFound
	}
	if row["participation_id"] == nil {
		return nil, ErrParticipantNotFound
	}
	return rowToGroupParticipation(row)
}

// List retrieves every group of the class, unordered
func (s *Directory) List(ctx context.Context, gamespace, class string) ([]*Group, error) {
	rows, err := s.db.Query(ctx, queryListGroups, class, gamespace)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}

	groups := make([]*Group, 0, len(rows))
	for _, row := range rows {
		g, err := rowToGroup(row)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// Update changes the group's metadata in place. Existing clusters are not
// rebalanced when the cluster size changes.
func (s *Directory) Update(ctx context.Context, gamespace string, groupID int64, class, key string, clusterSize int) error {
	if err := s.db.Exec(ctx, queryUpdateGroup, class, key, clusterSize, gamespace, groupID); err != nil {
		return fmt.Errorf("failed to update a group: %w", err)
	}
	return nil
}

// Delete removes the group, its messages and its membership bookkeeping.
// Messages go first: if their cleanup fails the group row survives, so no
// undeletable history is ever orphaned.
func (s *Directory) Delete(ctx context.Context, gamespace string, g *Group) error {
	if err := s.messages.DeleteForRecipientLike(ctx, gamespace, g.Class, g.Key+"-%"); err != nil {
		return fmt.Errorf("failed to delete group's messages: %w", err)
	}
	if err := s.messages.DeleteForRecipient(ctx, gamespace, g.Class, g.Key); err != nil {
		return fmt.Errorf("failed to delete group's messages: %w", err)
	}

	if err := s.db.Exec(ctx, queryDeleteGroupParticipants, g.ID, gamespace); err != nil {
		return fmt.Errorf("failed to delete group participants: %w", err)
	}

	if err := s.clusters.DropGroup(ctx, gamespace, g.ID); err != nil {
		return fmt.Errorf("failed to delete group clusters: %w", err)
	}

	if err := s.db.Exec(ctx, queryDeleteGroup, g.ID, gamespace); err != nil {
		return fmt.Errorf("failed to delete a group: %w", err)
	}

	s.logger.Infof("Deleted group %d (%s/%s) in gamespace %s", g.ID, g.Class, g.Key, gamespace)
	return nil
}
