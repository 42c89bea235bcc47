package services

import (
	"context"
	"testing"
	"time"

	"rps-match-service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreCompareAndSet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m := &models.Match{ID: "m1", Status: models.StatusWaitingForPlayers, PlayerA: walletA}
	require.NoError(t, store.Create(ctx, m, &models.AuditLog{MatchID: "m1", Action: models.AuditCreate}))
	assert.Error(t, store.Create(ctx, m, nil), "duplicate id")

	cur, err := store.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), cur.Version)

	next := cur.Clone()
	next.Status = models.StatusCommitPhase
	require.NoError(t, store.Update(ctx, next, cur.Version, &models.AuditLog{MatchID: "m1", Action: models.AuditJoin}))
	assert.Equal(t, int64(1), next.Version)

	stale := cur.Clone()
	stale.Status = models.StatusCancelled
	assert.ErrorIs(t, store.Update(ctx, stale, cur.Version, nil), ErrConflict)

	got, err := store.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCommitPhase, got.Status)

	// Returned snapshots are private copies.
	got.Status = models.StatusCompleted
	again, err := store.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCommitPhase, again.Status)

	trail, err := store.AuditTrail(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, uint64(1), trail[0].ID)
	assert.Equal(t, models.AuditJoin, trail[1].Action)
}

func TestMemoryStoreNotFound(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrMatchNotFound)
	assert.ErrorIs(t, store.Update(ctx, &models.Match{ID: "missing"}, 0, nil), ErrMatchNotFound)
}

func TestMemoryStoreListExpired(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	past, future := now.Add(-time.Second), now.Add(time.Minute)

	for _, m := range []*models.Match{
		{ID: "c", Status: models.StatusCommitPhase, CommitDeadline: &past},
		{ID: "a", Status: models.StatusRevealPhase, RevealDeadline: &past},
		{ID: "b", Status: models.StatusCommitPhase, CommitDeadline: &future},
		{ID: "d", Status: models.StatusCancelled, CommitDeadline: &past},
		{ID: "e", Status: models.StatusWaitingForPlayers},
		{ID: "f", Status: models.StatusCommitPhase, CommitDeadline: &now},
	} {
		require.NoError(t, store.Create(ctx, m, nil))
	}

	ids, err := store.ListExpired(ctx, now, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids)

	ids, err = store.ListExpired(ctx, now, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)
}
