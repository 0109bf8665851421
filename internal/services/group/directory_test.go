package group

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/questline/messagehub/internal/storage"
	"github.com/questline/messagehub/internal/storage/storagetest"
	"github.com/questline/messagehub/pkg/logger"
)

func groupRow(id int64, class, key string, clustered bool) storage.Record {
	return storage.Record{
		"group_id":           id,
		"gamespace_id":       "gs",
		"group_class":        class,
		"group_key":          key,
		"group_clustered":    clustered,
		"group_cluster_size": int64(1000),
	}
}

type purgeCall struct {
	class   string
	pattern string
	like    bool
}

type fakePurger struct {
	calls []purgeCall
	fail  bool
}

func (p *fakePurger) DeleteForRecipient(_ context.Context, _, class, recipient string) error {
	if p.fail {
		return errors.New("message store down")
	}
	p.calls = append(p.calls, purgeCall{class: class, pattern: recipient})
	return nil
}

func (p *fakePurger) DeleteForRecipientLike(_ context.Context, _, class, pattern string) error {
	if p.fail {
		return errors.New("message store down")
	}
	p.calls = append(p.calls, purgeCall{class: class, pattern: pattern, like: true})
	return nil
}

type fakeDropper struct {
	dropped []int64
}

func (d *fakeDropper) DropGroup(_ context.Context, _ string, groupID int64) error {
	d.dropped = append(d.dropped, groupID)
	return nil
}

func newTestDirectory(fake *storagetest.Fake, purger MessagePurger) *Directory {
	return NewDirectory(fake, purger, &fakeDropper{}, logger.New("group-test", "test"))
}

func TestCreateDuplicate(t *testing.T) {
	fake := &storagetest.Fake{
		InsertFn: func(query string, args ...any) (int64, error) {
			return 0, fmt.Errorf("insert: %w", storage.ErrDuplicateKey)
		},
	}
	d := newTestDirectory(fake, &fakePurger{})

	_, err := d.Create(context.Background(), "gs", "guilds", "guild", true, 100)
	assert.True(t, errors.Is(err, ErrAlreadyExists))
}

func TestCreateDefaultsClusterSize(t *testing.T) {
	fake := &storagetest.Fake{
		InsertFn: func(query string, args ...any) (int64, error) {
			require.Equal(t, DefaultClusterSize, args[4])
			return 7, nil
		},
	}
	d := newTestDirectory(fake, &fakePurger{})

	groupID, err := d.Create(context.Background(), "gs", "guilds", "guild", true, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(7), groupID)
}

func TestGetNotFound(t *testing.T) {
	d := newTestDirectory(&storagetest.Fake{}, &fakePurger{})

	_, err := d.Get(context.Background(), "gs", 404)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFindWithParticipation(t *testing.T) {
	t.Run("group missing", func(t *testing.T) {
		d := newTestDirectory(&storagetest.Fake{}, &fakePurger{})

		_, err := d.FindWithParticipation(context.Background(), "gs", "guilds", "guild", "100")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("participation missing", func(t *testing.T) {
		fake := &storagetest.Fake{
			GetFn: func(query string, args ...any) (storage.Record, error) {
				row := groupRow(5, "guilds", "guild", true)
				row["participation_id"] = nil
				return row, nil
			},
		}
		d := newTestDirectory(fake, &fakePurger{})

		_, err := d.FindWithParticipation(context.Background(), "gs", "guilds", "guild", "100")
		assert.True(t, errors.Is(err, ErrParticipantNotFound))
	})

	t.Run("both present", func(t *testing.T) {
		fake := &storagetest.Fake{
			GetFn: func(query string, args ...any) (storage.Record, error) {
				row := groupRow(5, "guilds", "guild", true)
				row["participation_id"] = int64(11)
				row["participation_account"] = "100"
				row["participation_role"] = "member"
				row["cluster_id"] = int64(3)
				return row, nil
			},
		}
		d := newTestDirectory(fake, &fakePurger{})

		gp, err := d.FindWithParticipation(context.Background(), "gs", "guilds", "guild", "100")
		require.NoError(t, err)
		assert.Equal(t, int64(5), gp.Group.ID)
		assert.Equal(t, int64(11), gp.Participation.ID)
		assert.Equal(t, "guild-3", gp.Participation.RecipientKey())
	})
}

func TestDeleteCascades(t *testing.T) {
	fake := &storagetest.Fake{}
	purger := &fakePurger{}
	dropper := &fakeDropper{}
	d := NewDirectory(fake, purger, dropper, logger.New("group-test", "test"))

	g := &Group{ID: 5, Class: "guilds", Key: "guild", Clustered: true, ClusterSize: 100}
	require.NoError(t, d.Delete(context.Background(), "gs", g))

	// Cluster-partitioned recipients first, then the bare key
	require.Len(t, purger.calls, 2)
	assert.Equal(t, purgeCall{class: "guilds", pattern: "guild-%", like: true}, purger.calls[0])
	assert.Equal(t, purgeCall{class: "guilds", pattern: "guild"}, purger.calls[1])

	assert.Equal(t, []int64{5}, dropper.dropped)

	calls := fake.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, queryDeleteGroupParticipants, calls[0].Query)
	assert.Equal(t, queryDeleteGroup, calls[1].Query)
}

func TestDeleteKeepsGroupWhenMessageCleanupFails(t *testing.T) {
	fake := &storagetest.Fake{
		ExecFn: func(query string, args ...any) error {
			t.Fatal("group row must survive a failed message cleanup")
			return nil
		},
	}
	d := newTestDirectory(fake, &fakePurger{fail: true})

	g := &Group{ID: 5, Class: "guilds", Key: "guild"}
	err := d.Delete(context.Background(), "gs", g)
	require.Error(t, err)
	assert.Empty(t, fake.Calls())
}

func TestListEmpty(t *testing.T) {
	d := newTestDirectory(&storagetest.Fake{}, &fakePurger{})

	groups, err := d.List(context.Background(), "gs", "guilds")
	require.NoError(t, err)
	assert.Empty(t, groups)
}
