package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/scripthost/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSnapshotStoreContract runs a suite of tests to verify that a SnapshotStore implementation
// adheres to the defined interface contract.
func RunSnapshotStoreContract(t *testing.T, store SnapshotStore) {
	ctx := context.Background()
	session := "contract-test-session-" + time.Now().Format("20060102150405")

	newSnapshot := func(name string) *domain.Snapshot {
		return &domain.Snapshot{
			Session:   name,
			Variables: map[string]any{"width": 4.0, "label": "box", "visible": true},
			Executed:  true,
			TakenAt:   time.Now().UTC().Truncate(time.Second),
		}
	}

	t.Run("Save and Load", func(t *testing.T) {
		snap := newSnapshot(session)

		err := store.Save(ctx, session, snap)
		require.NoError(t, err, "Save should not return error")

		loaded, err := store.Load(ctx, session)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, session, loaded.Session)
		assert.True(t, loaded.Executed)
		assert.Equal(t, "box", loaded.Variables["label"])
		assert.Equal(t, true, loaded.Variables["visible"])
		// JSON persistence turns every number into float64, which is what Lua numbers are anyway.
		assert.EqualValues(t, 4.0, loaded.Variables["width"])
		assert.True(t, snap.TakenAt.Equal(loaded.TakenAt))
	})

	t.Run("Load Is Isolated", func(t *testing.T) {
		loaded, err := store.Load(ctx, session)
		require.NoError(t, err)
		loaded.Variables["label"] = "mutated"

		again, err := store.Load(ctx, session)
		require.NoError(t, err)
		assert.Equal(t, "box", again.Variables["label"])
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+session)
		assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		err := store.Save(ctx, session, newSnapshot(session))
		require.NoError(t, err)

		err = store.Delete(ctx, session)
		require.NoError(t, err, "Delete should not return error")

		_, err = store.Load(ctx, session)
		assert.ErrorIs(t, err, domain.ErrSnapshotNotFound, "Load after Delete should return ErrSnapshotNotFound")
	})

	t.Run("List", func(t *testing.T) {
		id1 := session + "-1"
		id2 := session + "-2"
		_ = store.Save(ctx, id1, newSnapshot(id1))
		_ = store.Save(ctx, id2, newSnapshot(id2))

		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		sessions, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, sessions, id1)
		assert.Contains(t, sessions, id2)
	})
}
