package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubeheal/remediator/internal/incident"
)

func openTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := OpenBadger(BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBadgerStoreAppendAndQuery(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	ref := incident.WorkloadRef{Kind: "Deployment", Namespace: "payments", Name: "checkout"}
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	for _, offset := range []time.Duration{20 * time.Minute, 0, 10 * time.Minute} {
		require.NoError(t, store.Append(ctx, testRecord(ref, base.Add(offset))))
	}

	records, err := store.Query(ctx, ref, time.Time{})
	require.NoError(t, err)
	require.Len(t, records, 3)

	// Key layout must yield AppliedAt ascending without an explicit sort.
	for i := 1; i < len(records); i++ {
		assert.False(t, records[i].AppliedAt.Before(records[i-1].AppliedAt),
			"records must be ordered by AppliedAt ascending")
	}

	assert.Equal(t, OutcomeApplied, records[0].Outcome)
	assert.Equal(t, int64(240), records[0].NewValue)

	windowed, err := store.Query(ctx, ref, base.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Len(t, windowed, 2)
}

func TestBadgerStoreWorkloadIsolation(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	now := time.Now()

	a := incident.WorkloadRef{Kind: "Deployment", Namespace: "default", Name: "api"}
	// Same name, different kind: keys must not collide.
	b := incident.WorkloadRef{Kind: "StatefulSet", Namespace: "default", Name: "api"}

	require.NoError(t, store.Append(ctx, testRecord(a, now)))

	records, err := store.Query(ctx, b, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestBadgerStoreSameTimestampAppends(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	ref := incident.WorkloadRef{Kind: "Deployment", Namespace: "default", Name: "api"}
	at := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	// Identical AppliedAt values must not overwrite each other.
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, testRecord(ref, at)))
	}

	records, err := store.Query(ctx, ref, time.Time{})
	require.NoError(t, err)
	assert.Len(t, records, 5)
}

func TestBadgerStorePruneBefore(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	a := incident.WorkloadRef{Kind: "Deployment", Namespace: "default", Name: "api"}
	b := incident.WorkloadRef{Kind: "Deployment", Namespace: "default", Name: "worker"}

	require.NoError(t, store.Append(ctx, testRecord(a, base)))
	require.NoError(t, store.Append(ctx, testRecord(a, base.Add(2*time.Hour))))
	require.NoError(t, store.Append(ctx, testRecord(b, base.Add(30*time.Minute))))

	pruned, err := store.PruneBefore(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, pruned)

	remaining, err := store.Query(ctx, a, time.Time{})
	require.NoError(t, err)
	assert.Len(t, remaining, 1)

	gone, err := store.Query(ctx, b, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, gone)
}
