// Package cluster assigns group members to bounded-capacity shards. The
// Assigner contract is what the participation service consumes; the Postgres
// implementation keeps one row per cluster and one binding row per account.
package cluster

import (
	"context"
	"fmt"

	"github.com/questline/messagehub/internal/storage"
	"github.com/questline/messagehub/pkg/logger"
)

// Error is the failure kind the assignment service signals
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(format string, args ...any) *Error {
	err := fmt.Errorf(format, args...)
	return &Error{Message: err.Error(), Err: err}
}

// Assigner allocates and releases cluster slots for accounts within a group
type Assigner interface {
	// GetCluster returns the cluster id the account belongs to, allocating a
	// slot first if needed. With autoCreate a fresh cluster is opened once
	// every existing one holds clusterSize accounts.
	GetCluster(ctx context.Context, gamespace, account string, groupID int64, clusterSize int, autoCreate bool) (int64, error)
	// LeaveCluster releases the account's slot. Unknown bindings are not an
	// error.
	LeaveCluster(ctx context.Context, gamespace, account string, groupID int64) error
}

// Service implements Assigner on the shared datastore
type Service struct {
	db     storage.Datastore
	logger *logger.Logger
}

// NewService creates a new cluster assignment service
func NewService(db storage.Datastore, logger *logger.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger,
	}
}

const (
	queryGetBinding = `
		SELECT cluster_id
		FROM group_cluster_accounts
		WHERE gamespace_id = $1 AND group_id = $2 AND account_id = $3
	`

	// Newest cluster only: earlier clusters are full by construction.
	// Locked so concurrent joins do not oversubscribe the slot count.
	queryNewestCluster = `
		SELECT cluster_id, cluster_size, cluster_accounts
		FROM group_clusters
		WHERE gamespace_id = $1 AND group_id = $2
		ORDER BY cluster_id DESC
		LIMIT 1
		FOR UPDATE
	`

	queryInsertCluster = `
		INSERT INTO group_clusters (gamespace_id, group_id, cluster_size, cluster_accounts)
		VALUES ($1, $2, $3, 1)
		RETURNING cluster_id
	`

	queryOccupySlot = `
		UPDATE group_clusters
		SET cluster_accounts = cluster_accounts + 1
		WHERE gamespace_id = $1 AND cluster_id = $2
	`

	queryInsertBinding = `
		INSERT INTO group_cluster_accounts (gamespace_id, group_id, account_id, cluster_id)
		VALUES ($1, $2, $3, $4)
	`

	queryDeleteBinding = `
		DELETE FROM group_cluster_accounts
		WHERE gamespace_id = $1 AND group_id = $2 AND account_id = $3
		RETURNING cluster_id
	`

	queryReleaseSlot = `
		UPDATE group_clusters
		SET cluster_accounts = cluster_accounts - 1
		WHERE gamespace_id = $1 AND cluster_id = $2 AND cluster_accounts > 0
	`

	queryDeleteGroupClusters = `
		DELETE FROM group_clusters
		WHERE gamespace_id = $1 AND group_id = $2
	`

	queryDeleteGroupBindings = `
		DELETE FROM group_cluster_accounts
		WHERE gamespace_id = $1 AND group_id = $2
	`
)

// GetCluster resolves the account's cluster within the group
func (s *Service) GetCluster(ctx context.Context, gamespace, account string, groupID int64, clusterSize int, autoCreate bool) (int64, error) {
	existing, err := s.db.Get(ctx, queryGetBinding, gamespace, groupID, account)
	if err != nil {
		return 0, newError("failed to look up cluster binding: %v", err)
	}
	if existing != nil {
		clusterID, err := storage.FieldInt64(existing, "cluster_id")
		if err != nil {
			return 0, newError("malformed cluster binding: %v", err)
		}
		return clusterID, nil
	}

	tx, err := s.db.Acquire(ctx, false)
	if err != nil {
		return 0, newError("failed to open cluster transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	clusterID, err := s.allocateSlot(ctx, tx, gamespace, groupID, clusterSize, autoCreate)
	if err != nil {
		return 0, err
	}

	if err := tx.Exec(ctx, queryInsertBinding, gamespace, groupID, account, clusterID); err != nil {
		return 0, newError("failed to bind account to cluster: %v", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, newError("failed to commit cluster assignment: %v", err)
	}

	return clusterID, nil
}

func (s *Service) allocateSlot(ctx context.Context, tx storage.Tx, gamespace string, groupID int64, clusterSize int, autoCreate bool) (int64, error) {
	newest, err := tx.Get(ctx, queryNewestCluster, gamespace, groupID)
	if err != nil {
		return 0, newError("failed to find a cluster: %v", err)
	}

	if newest != nil {
		clusterID, err := storage.FieldInt64(newest, "cluster_id")
		if err != nil {
			return 0, newError("malformed cluster row: %v", err)
		}
		size, err := storage.FieldInt64(newest, "cluster_size")
		if err != nil {
			return 0, newError("malformed cluster row: %v", err)
		}
		accounts, err := storage.FieldInt64(newest, "cluster_accounts")
		if err != nil {
			return 0, newError("malformed cluster row: %v", err)
		}
		if accounts < size {
			if err := tx.Exec(ctx, queryOccupySlot, gamespace, clusterID); err != nil {
				return 0, newError("failed to occupy cluster slot: %v", err)
			}
			return clusterID, nil
		}
	}

	if !autoCreate {
		return 0, newError("no cluster with a free slot in group %d", groupID)
	}

	clusterID, err := tx.Insert(ctx, queryInsertCluster, gamespace, groupID, clusterSize)
	if err != nil {
		return 0, newError("failed to create a cluster: %v", err)
	}
	return clusterID, nil
}

// LeaveCluster releases the account's slot in the group
func (s *Service) LeaveCluster(ctx context.Context, gamespace, account string, groupID int64) error {
	tx, err := s.db.Acquire(ctx, false)
	if err != nil {
		return newError("failed to open cluster transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	binding, err := tx.Get(ctx, queryDeleteBinding, gamespace, groupID, account)
	if err != nil {
		return newError("failed to release cluster binding: %v", err)
	}
	if binding == nil {
		// Nothing to release
		return tx.Commit(ctx)
	}

	clusterID, err := storage.FieldInt64(binding, "cluster_id")
	if err != nil {
		return newError("malformed cluster binding: %v", err)
	}

	if err := tx.Exec(ctx, queryReleaseSlot, gamespace, clusterID); err != nil {
		return newError("failed to release cluster slot: %v", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return newError("failed to commit cluster release: %v", err)
	}

	s.logger.Debugf("Released cluster %d slot for account %s in group %d", clusterID, account, groupID)
	return nil
}

// DropGroup removes every cluster and binding of a deleted group
func (s *Service) DropGroup(ctx context.Context, gamespace string, groupID int64) error {
	if err := s.db.Exec(ctx, queryDeleteGroupBindings, gamespace, groupID); err != nil {
		return newError("failed to delete cluster bindings: %v", err)
	}
	if err := s.db.Exec(ctx, queryDeleteGroupClusters, gamespace, groupID); err != nil {
		return newError("failed to delete clusters: %v", err)
	}
	return nil
}
