package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStoreContract runs a suite of tests verifying that a RunStore implementation
// adheres to the interface contract.
func RunStoreContract(t *testing.T, store RunStore) {
	t.Helper()
	ctx := context.Background()
	conversationID := "contract-" + time.Now().Format("20060102150405.000000000")

	t.Run("Save and Load", func(t *testing.T) {
		state := domain.NewRunState("run-1", "base", "hello")
		state.Environment.Append("query", domain.Result{Name: "docs", Objects: []map[string]any{{"title": "a"}}})
		state.Environment.Append("aggregate", domain.Result{Objects: []map[string]any{{"count": 3}}})
		state.RecordDecision(domain.DecisionEntry{NodeID: "base", ToolName: "query"})
		state.Status = domain.StatusTerminated
		state.Halted = true

		require.NoError(t, store.Save(ctx, conversationID, state))

		loaded, err := store.Load(ctx, conversationID)
		require.NoError(t, err)
		assert.Equal(t, "run-1", loaded.ID)
		assert.Equal(t, domain.StatusTerminated, loaded.Status)
		assert.Equal(t, []string{"query", "aggregate"}, loaded.Environment.Tools())
		require.Len(t, loaded.History, 1)
		assert.Equal(t, "query", loaded.History[0].ToolName)
		assert.Equal(t, 1, loaded.History[0].Sequence)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "missing-"+conversationID)
		assert.ErrorIs(t, err, domain.ErrRunNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, conversationID, domain.NewRunState("run-2", "base", "")))
		require.NoError(t, store.Delete(ctx, conversationID))

		_, err := store.Load(ctx, conversationID)
		assert.ErrorIs(t, err, domain.ErrRunNotFound)

		assert.NoError(t, store.Delete(ctx, conversationID), "delete must be idempotent")
	})

	t.Run("List", func(t *testing.T) {
		id1 := conversationID + "-1"
		id2 := conversationID + "-2"
		require.NoError(t, store.Save(ctx, id1, domain.NewRunState("r1", "base", "")))
		require.NoError(t, store.Save(ctx, id2, domain.NewRunState("r2", "base", "")))
		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, id1)
		assert.Contains(t, ids, id2)
	})
}
