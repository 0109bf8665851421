// Package group owns group identity and the participation lifecycle binding
// accounts to groups and their clusters.
package group

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/questline/messagehub/internal/storage"
)

// DefaultClusterSize bounds a cluster when creation does not specify one
const DefaultClusterSize = 1000

// Notification message types emitted on membership changes
const (
	MessagePlayerJoined = "player_joined"
	MessagePlayerLeft   = "player_left"
)

var (
	// ErrNotFound reports a missing group
	ErrNotFound = errors.New("group not found")
	// ErrAlreadyExists reports a (gamespace, class, key) collision
	ErrAlreadyExists = errors.New("group already exists")
	// ErrParticipantNotFound reports a group the account has not joined
	ErrParticipantNotFound = errors.New("group participant not found")
	// ErrAlreadyJoined reports a second join of the same (group, account)
	ErrAlreadyJoined = errors.New("account already joined the group")
)

// Group is a named, classed community of accounts
type Group struct {
	ID          int64
	Class       string
	Key         string
	Clustered   bool
	ClusterSize int
}

// Participation binds one account to one group and cluster
type Participation struct {
	ID         int64
	GroupID    int64
	GroupClass string
	GroupKey   string
	ClusterID  int64
	Account    string
	Role       string
}

// RecipientKey is the addressable message recipient for the participant's
// shard: the group key, suffixed with the cluster id when clustered.
func (p *Participation) RecipientKey() string {
	if p.ClusterID != 0 {
		return p.GroupKey + "-" + strconv.FormatInt(p.ClusterID, 10)
	}
	return p.GroupKey
}

// GroupParticipation is the composite view of a group and one account's
// participation in it.
type GroupParticipation struct {
	Group         Group
	Participation Participation
}

func rowToGroup(row storage.Record) (*Group, error) {
	var g Group
	var err error

	if g.ID, err = storage.FieldInt64(row, "group_id"); err != nil {
		return nil, fmt.Errorf("malformed group row: %w", err)
	}
	if g.Class, err = storage.FieldString(row, "group_class"); err != nil {
		return nil, fmt.Errorf("malformed group row: %w", err)
	}
	if g.Key, err = storage.FieldString(row, "group_key"); err != nil {
		return nil, fmt.Errorf("malformed group row: %w", err)
	}
	if g.Clustered, err = storage.FieldBool(row, "group_clustered"); err != nil {
		return nil, fmt.Errorf("malformed group row: %w", err)
	}

	size, err := storage.FieldInt64(row, "group_cluster_size")
	if err != nil {
		return nil, fmt.Errorf("malformed group row: %w", err)
	}
	g.ClusterSize = int(size)

	return &g, nil
}

func rowToParticipation(row storage.Record) (*Participation, error) {
	var p Participation
	var err error

	if p.ID, err = storage.FieldInt64(row, "participation_id"); err != nil {
		return nil, fmt.Errorf("malformed participation row: %w", err)
	}
	if p.GroupID, err = storage.FieldInt64(row, "group_id"); err != nil {
		return nil, fmt.Errorf("malformed participation row: %w", err)
	}
	if p.GroupClass, err = storage.FieldString(row, "group_class"); err != nil {
		return nil, fmt.Errorf("malformed participation row: %w", err)
	}
	if p.GroupKey, err = storage.FieldString(row, "group_key"); err != nil {
		return nil, fmt.Errorf("malformed participation row: %w", err)
	}
	if p.ClusterID, err = storage.FieldInt64(row, "cluster_id"); err != nil {
		return nil, fmt.Errorf("malformed participation row: %w", err)
	}
	if p.Account, err = storage.FieldString(row, "participation_account"); err != nil {
		return nil, fmt.Errorf("malformed participation row: %w", err)
	}
	if p.Role, err = storage.FieldString(row, "participation_role"); err != nil {
		return nil, fmt.Errorf("malformed participation row: %w", err)
	}

	return &p, nil
}

// rowToGroupParticipation flattens a joined row: the group adapter first,
// then the participation fields duplicated from the group side.
func rowToGroupParticipation(row storage.Record) (*GroupParticipation, error) {
	g, err := rowToGroup(row)
	if err != nil {
		return nil, err
	}

	var p Participation
	p.GroupID = g.ID
	p.GroupClass = g.Class
	p.GroupKey = g.Key

	if p.ID, err = storage.FieldInt64(row, "participation_id"); err != nil {
		return nil, fmt.Errorf("malformed participation row: %w", err)
	}
	if p.ClusterID, err = storage.FieldInt64(row, "cluster_id"); err != nil {
		return nil, fmt.Errorf("malformed participation row: %w", err)
	}
	if p.Account, err = storage.FieldString(row, "participation_account"); err != nil {
		return nil, fmt.Errorf("malformed participation row: %w", err)
	}
	if p.Role, err = storage.FieldString(row, "participation_role"); err != nil {
		return nil, fmt.Errorf("malformed participation row: %w", err)
	}

	return &GroupParticipation{Group: *g, Participation: p}, nil
}
