package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	errs "igcollector/pkg/errors"
	"igcollector/pkg/logger"
	"igcollector/pkg/models"
	"igcollector/pkg/storage"
	"igcollector/pkg/vault"
)

func newTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.Open(":memory:", time.Second, vault.PlainSealer{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seed(t *testing.T, store *storage.SQLiteStore, username string, usage int64, flags models.HealthFlags) int64 {
	t.Helper()
	sess := &models.Session{Username: username, Secret: "pw", UsageCount: usage, Flags: flags}
	require.NoError(t, store.CreateSession(context.Background(), sess))
	return sess.ID
}

func TestAcquire_PrefersLeastUsedThenLowestID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	busy := seed(t, store, "busy", 9, models.HealthFlags{})
	tieLow := seed(t, store, "tie-low", 1, models.HealthFlags{})
	tieHigh := seed(t, store, "tie-high", 1, models.HealthFlags{})
	seed(t, store, "flagged", 0, models.HealthFlags{Challenged: true})
	p := New(store, logger.NewNopLogger())

	a, err := p.Acquire(ctx)
	require.NoError(t, err)
	b, err := p.Acquire(ctx)
	require.NoError(t, err)
	c, err := p.Acquire(ctx)
	require.NoError(t, err)

	assert.Equal(t, tieLow, a.ID(), "usage tie broken by lower id")
	assert.Equal(t, tieHigh, b.ID())
	assert.Equal(t, busy, c.ID())

	_, err = p.Acquire(ctx)
	assert.Equal(t, errs.ErrorTypeNoSessionAvailable, errs.TypeOf(err))
	assert.Equal(t, 3, p.LeasedCount())
}

func TestAcquire_NeverReturnsFlaggedSessions(t *testing.T) {
	store := newTestStore(t)
	seed(t, store, "blocked", 0, models.HealthFlags{Blocked: true})
	seed(t, store, "challenged", 0, models.HealthFlags{Challenged: true})
	seed(t, store, "temp", 0, models.HealthFlags{TemporarilyBlocked: true})

	_, err := New(store, nil).Acquire(context.Background())
	assert.Equal(t, errs.ErrorTypeNoSessionAvailable, errs.TypeOf(err))
}

func TestAcquire_ConcurrentLeasesAreExclusive(t *testing.T) {
	store := newTestStore(t)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		seed(t, store, name, 0, models.HealthFlags{})
	}
	p := New(store, nil)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		got   = map[int64]int{}
		empty int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := p.Acquire(context.Background())
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				empty++
				return
			}
			got[lease.ID()]++
		}()
	}
	wg.Wait()

	assert.Len(t, got, 5)
	for id, n := range got {
		assert.Equal(t, 1, n, "session %d leased twice", id)
	}
	assert.Equal(t, 3, empty)
}

func TestRelease_ReturnsSessionAndIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	id := seed(t, store, "only", 0, models.HealthFlags{})
	p := New(store, nil)
	ctx := context.Background()

	lease, err := p.Acquire(ctx)
	require.NoError(t, err)
	lease.Release()
	lease.Release()
	assert.True(t, lease.Released())
	assert.Zero(t, p.LeasedCount())

	again, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, again.ID())
}

func TestMarkFlagsAccumulateAndPersist(t *testing.T) {
	store := newTestStore(t)
	id := seed(t, store, "alice", 0, models.HealthFlags{})
	p := New(store, nil)
	ctx := context.Background()

	lease, err := p.Acquire(ctx)
	require.NoError(t, err)

	require.NoError(t, lease.MarkTemporarilyBlocked(ctx))
	require.NoError(t, lease.MarkChallenged(ctx))
	require.NoError(t, lease.MarkChallenged(ctx))

	persisted, err := store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.HealthFlags{Challenged: true, TemporarilyBlocked: true}, persisted.Flags)
	assert.Equal(t, persisted.Flags, lease.Session().Flags)

	lease.Release()
	_, err = p.Acquire(ctx)
	assert.Equal(t, errs.ErrorTypeNoSessionAvailable, errs.TypeOf(err))
}

func TestClearSoftFlagsKeepsBlocked(t *testing.T) {
	store := newTestStore(t)
	id := seed(t, store, "alice", 0, models.HealthFlags{})
	p := New(store, nil)
	ctx := context.Background()

	lease, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, lease.MarkChallenged(ctx))
	require.NoError(t, lease.MarkBlocked(ctx))
	require.NoError(t, lease.ClearSoftFlags(ctx))

	persisted, err := store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.HealthFlags{Blocked: true}, persisted.Flags)
}

func TestRecordUseChangesOrdering(t *testing.T) {
	store := newTestStore(t)
	a := seed(t, store, "a", 0, models.HealthFlags{})
	b := seed(t, store, "b", 0, models.HealthFlags{})
	p := New(store, nil)
	ctx := context.Background()

	lease, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.Equal(t, a, lease.ID())
	require.NoError(t, lease.RecordUse(ctx))
	assert.Equal(t, int64(1), lease.Session().UsageCount)
	lease.Release()

	next, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, b, next.ID())
}

func TestSaveSettings(t *testing.T) {
	store := newTestStore(t)
	id := seed(t, store, "alice", 0, models.HealthFlags{})
	p := New(store, nil)
	ctx := context.Background()

	lease, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, lease.SaveSettings(ctx, []byte(`{"cookies":{}}`)))

	persisted, err := store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"cookies":{}}`), persisted.Settings)
}

func TestClearFlagsAdministrative(t *testing.T) {
	store := newTestStore(t)
	id := seed(t, store, "alice", 0, models.HealthFlags{Blocked: true, Challenged: true})
	p := New(store, nil)
	ctx := context.Background()

	sess, err := p.ClearFlags(ctx, id, models.HealthFlags{Blocked: true})
	require.NoError(t, err)
	assert.Equal(t, models.HealthFlags{Challenged: true}, sess.Flags)

	sess, err = p.ClearFlags(ctx, id, models.HealthFlags{Challenged: true})
	require.NoError(t, err)
	assert.True(t, sess.Flags.Clear())

	n, err := p.EligibleCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSweeper(t *testing.T) {
	store := newTestStore(t)
	id := seed(t, store, "alice", 0, models.HealthFlags{TemporarilyBlocked: true})

	sw, err := NewSweeper(store, "@every 1h", 12*time.Hour, nil)
	require.NoError(t, err)

	n, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	sw.now = func() time.Time { return time.Now().Add(13 * time.Hour) }
	n, err = sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	sess, err := store.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, sess.Flags.Clear())
}

func TestNewSweeperRejectsBadSchedule(t *testing.T) {
	store := newTestStore(t)
	_, err := NewSweeper(store, "every now and then", time.Hour, nil)
	assert.Error(t, err)

	_, err = NewSweeper(store, "@every 1m", 0, nil)
	assert.Error(t, err)
}
