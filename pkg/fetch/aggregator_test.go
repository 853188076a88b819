package fetch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"igcollector/pkg/config"
	errs "igcollector/pkg/errors"
	"igcollector/pkg/instagram"
	"igcollector/pkg/instagram/instagramtest"
	"igcollector/pkg/models"
	"igcollector/pkg/pool"
	"igcollector/pkg/storage"
	"igcollector/pkg/vault"
)

var alice = models.Target{Kind: models.TargetProfile, Name: "alice"}

type fixture struct {
	store    *storage.SQLiteStore
	pool     *pool.Pool
	platform *instagramtest.Platform
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.Open(":memory:", time.Second, vault.PlainSealer{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	for _, name := range []string{"s1", "s2"} {
		require.NoError(t, store.CreateSession(context.Background(), &models.Session{
			Username: name, Secret: "pw", Settings: instagramtest.Settings(name),
		}))
	}
	return &fixture{store: store, pool: pool.New(store, nil), platform: instagramtest.New()}
}

// lease acquires a session and a client logged in as it
func (f *fixture) lease(t *testing.T) (*pool.Lease, instagram.PlatformClient) {
	t.Helper()
	lease, err := f.pool.Acquire(context.Background())
	require.NoError(t, err)
	t.Cleanup(lease.Release)

	client, err := f.platform.Factory()()
	require.NoError(t, err)
	require.NoError(t, client.ImportSettings(lease.Session().Settings))
	return lease, client
}

func (f *fixture) items(t *testing.T, target models.Target) []models.Item {
	t.Helper()
	items, _, err := f.store.GetContentItems(context.Background(), target, 0, 1000)
	require.NoError(t, err)
	return items
}

func defaultConfig() config.FetchConfig {
	return config.FetchConfig{StopOnKnownPage: true}
}

func TestRunCollectsAllPages(t *testing.T) {
	f := newFixture(t)
	f.platform.SetFeed(alice, instagramtest.Items("a", 20), instagramtest.Items("b", 17))
	lease, client := f.lease(t)

	out, err := New(f.store, defaultConfig(), nil).Run(context.Background(), client, lease, alice)
	require.NoError(t, err)

	assert.Equal(t, 2, out.CompletedPages)
	assert.Equal(t, 37, out.NewItems)
	assert.Equal(t, 37, out.ItemCount)
	assert.True(t, out.Complete)
	assert.False(t, out.Partial)
	assert.Equal(t, StopExhausted, out.StopReason)
	assert.Equal(t, int64(1), lease.Session().UsageCount, "one use per successful run")

	rec, err := f.store.FindContentRecord(context.Background(), alice)
	require.NoError(t, err)
	assert.Empty(t, rec.ResumeCursor)
	require.NotNil(t, rec.SessionID)
	assert.Equal(t, lease.ID(), *rec.SessionID)
}

func TestRefetchWithNewItemsAppends(t *testing.T) {
	f := newFixture(t)
	first := instagramtest.Items("a", 20)
	second := instagramtest.Items("b", 17)
	f.platform.SetFeed(alice, first, second)
	lease, client := f.lease(t)
	agg := New(f.store, defaultConfig(), nil)

	_, err := agg.Run(context.Background(), client, lease, alice)
	require.NoError(t, err)

	fresh := instagramtest.Items("new", 3)
	f.platform.SetFeed(alice, append(append([]models.Item{}, fresh...), first...), second)

	out, err := agg.Run(context.Background(), client, lease, alice)
	require.NoError(t, err)
	assert.Equal(t, 3, out.NewItems)
	assert.Equal(t, 40, out.ItemCount)
	assert.Len(t, f.items(t, alice), 40)
}

func TestRefetchWithoutNewItemsIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.platform.SetFeed(alice, instagramtest.Items("a", 5), instagramtest.Items("b", 5))
	lease, client := f.lease(t)
	agg := New(f.store, defaultConfig(), nil)

	_, err := agg.Run(context.Background(), client, lease, alice)
	require.NoError(t, err)
	out, err := agg.Run(context.Background(), client, lease, alice)
	require.NoError(t, err)

	assert.Zero(t, out.NewItems)
	assert.Equal(t, 10, out.ItemCount)
	assert.Equal(t, StopKnownPage, out.StopReason)
	assert.Equal(t, 1, out.CompletedPages, "stops at the first known page")
	assert.Len(t, f.items(t, alice), 10)
}

func TestRefetchWalksEverythingWhenNotStoppingOnKnownPages(t *testing.T) {
	f := newFixture(t)
	f.platform.SetFeed(alice, instagramtest.Items("a", 5), instagramtest.Items("b", 5))
	lease, client := f.lease(t)
	agg := New(f.store, config.FetchConfig{}, nil)

	_, err := agg.Run(context.Background(), client, lease, alice)
	require.NoError(t, err)
	out, err := agg.Run(context.Background(), client, lease, alice)
	require.NoError(t, err)

	assert.Equal(t, 2, out.CompletedPages)
	assert.Zero(t, out.NewItems)
	assert.Equal(t, 10, out.ItemCount)
}

func TestPageFailureKeepsCommittedPagesAndResumes(t *testing.T) {
	f := newFixture(t)
	f.platform.SetFeed(alice, instagramtest.Items("a", 4), instagramtest.Items("b", 4), instagramtest.Items("c", 4))
	f.platform.SetAccount("s1", instagramtest.Account{PageErrs: map[int]error{
		2: errs.New(errs.ErrorTypeSoftRestriction, "feedback_required"),
	}})
	agg := New(f.store, defaultConfig(), nil)

	lease, client := f.lease(t)
	require.Equal(t, "s1", lease.Session().Username)
	out, err := agg.Run(context.Background(), client, lease, alice)
	assert.Equal(t, errs.ErrorTypeSoftRestriction, errs.TypeOf(err))
	assert.True(t, out.Partial)
	assert.Equal(t, StopFailed, out.StopReason)
	assert.Equal(t, 2, out.CompletedPages)
	assert.Equal(t, 8, out.ItemCount)
	assert.Zero(t, lease.Session().UsageCount, "failed runs record no use")

	rec, err := f.store.FindContentRecord(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, instagramtest.Cursor(2), rec.ResumeCursor)
	assert.Len(t, f.items(t, alice), 8)

	other, otherClient := f.lease(t)
	require.Equal(t, "s2", other.Session().Username)
	out, err = agg.Run(context.Background(), otherClient, other, alice)
	require.NoError(t, err)
	assert.True(t, out.Resumed)
	assert.Equal(t, 1, out.CompletedPages, "resumes at the failed page")
	assert.Equal(t, 4, out.NewItems)
	assert.Equal(t, 12, out.ItemCount)
	assert.Len(t, f.items(t, alice), 12)

	_, fetches := f.platform.Calls()
	assert.Equal(t, []string{
		"s1:profile:alice:0", "s1:profile:alice:1", "s1:profile:alice:2",
		"s2:profile:alice:2",
	}, fetches)
}

func TestPageBudgetLeavesResumeCursor(t *testing.T) {
	f := newFixture(t)
	f.platform.SetFeed(alice, instagramtest.Items("a", 2), instagramtest.Items("b", 2), instagramtest.Items("c", 2))
	lease, client := f.lease(t)
	agg := New(f.store, config.FetchConfig{MaxPages: 2, StopOnKnownPage: true}, nil)

	out, err := agg.Run(context.Background(), client, lease, alice)
	require.NoError(t, err)
	assert.Equal(t, StopPageBudget, out.StopReason)
	assert.True(t, out.Partial)
	assert.Equal(t, instagramtest.Cursor(2), out.ResumeCursor)
	assert.Equal(t, int64(1), lease.Session().UsageCount)

	out, err = agg.Run(context.Background(), client, lease, alice)
	require.NoError(t, err)
	assert.True(t, out.Complete)
	assert.Equal(t, 6, out.ItemCount)
}

func TestTimeBudget(t *testing.T) {
	f := newFixture(t)
	f.platform.SetFeed(alice, instagramtest.Items("a", 2), instagramtest.Items("b", 2))
	lease, client := f.lease(t)
	agg := New(f.store, config.FetchConfig{MaxDuration: 30 * time.Second}, nil)

	clock := time.Now()
	agg.now = func() time.Time {
		clock = clock.Add(45 * time.Second)
		return clock
	}

	out, err := agg.Run(context.Background(), client, lease, alice)
	require.NoError(t, err)
	assert.Equal(t, StopTimeBudget, out.StopReason)
	assert.Equal(t, 1, out.CompletedPages)
}

func TestItemLimit(t *testing.T) {
	f := newFixture(t)
	tag := models.Target{Kind: models.TargetHashtag, Name: "golang"}
	f.platform.SetFeed(tag, instagramtest.Items("a", 5), instagramtest.Items("b", 5), instagramtest.Items("c", 5))
	lease, client := f.lease(t)

	out, err := New(f.store, defaultConfig(), nil).WithItemLimit(7).Run(context.Background(), client, lease, tag)
	require.NoError(t, err)
	assert.Equal(t, StopItemLimit, out.StopReason)
	assert.True(t, out.Complete)
	assert.Equal(t, 10, out.ItemCount)
	assert.Empty(t, out.ResumeCursor)

	rec, err := f.store.FindContentRecord(context.Background(), tag)
	require.NoError(t, err)
	assert.Empty(t, rec.ResumeCursor)
}

func TestItemLimitedRefreshStartsAtHead(t *testing.T) {
	f := newFixture(t)
	tag := models.Target{Kind: models.TargetHashtag, Name: "golang"}
	pages := [][]models.Item{instagramtest.Items("a", 5), instagramtest.Items("b", 5), instagramtest.Items("c", 5)}
	f.platform.SetFeed(tag, pages...)
	lease, client := f.lease(t)
	agg := New(f.store, defaultConfig(), nil).WithItemLimit(5)

	_, err := agg.Run(context.Background(), client, lease, tag)
	require.NoError(t, err)

	f.platform.SetFeed(tag, append([][]models.Item{instagramtest.Items("new", 5)}, pages...)...)
	out, err := agg.Run(context.Background(), client, lease, tag)
	require.NoError(t, err)

	assert.False(t, out.Resumed)
	assert.Equal(t, 5, out.NewItems)
	assert.Equal(t, 10, out.ItemCount)

	var ids []string
	for _, item := range f.items(t, tag) {
		ids = append(ids, item.ID)
	}
	assert.Contains(t, ids, "new-0")
	assert.Contains(t, ids, "new-4")
}

func TestEmptyHeadPageOnNewTargetKeepsWalking(t *testing.T) {
	f := newFixture(t)
	f.platform.SetFeed(alice, []models.Item{}, instagramtest.Items("a", 5))
	lease, client := f.lease(t)

	out, err := New(f.store, defaultConfig(), nil).Run(context.Background(), client, lease, alice)
	require.NoError(t, err)
	assert.Equal(t, StopExhausted, out.StopReason)
	assert.Equal(t, 2, out.CompletedPages)
	assert.Equal(t, 5, out.ItemCount)
	assert.Len(t, f.items(t, alice), 5)
}

func TestCancelledRunReturnsPartialOutcome(t *testing.T) {
	f := newFixture(t)
	f.platform.SetFeed(alice, instagramtest.Items("a", 2))
	lease, client := f.lease(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := New(f.store, defaultConfig(), nil).Run(ctx, client, lease, alice)
	assert.Equal(t, errs.ErrorTypeCancelled, errs.TypeOf(err))
	assert.True(t, out.Partial)
	assert.Equal(t, StopCancelled, out.StopReason)
}

func TestInvalidTarget(t *testing.T) {
	f := newFixture(t)
	lease, client := f.lease(t)
	_, err := New(f.store, defaultConfig(), nil).Run(context.Background(), client, lease, models.Target{Kind: "story", Name: "x"})
	assert.Equal(t, errs.ErrorTypeInvalidInput, errs.TypeOf(err))
}
