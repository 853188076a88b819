package scraper

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"igcollector/pkg/config"
	errs "igcollector/pkg/errors"
	"igcollector/pkg/fetch"
	"igcollector/pkg/instagram/instagramtest"
	"igcollector/pkg/logger"
	"igcollector/pkg/login"
	"igcollector/pkg/models"
	"igcollector/pkg/pool"
	"igcollector/pkg/storage"
	"igcollector/pkg/vault"
)

var alice = models.Target{Kind: models.TargetProfile, Name: "alice"}

type fixture struct {
	store    *storage.SQLiteStore
	platform *instagramtest.Platform
	scraper  *Scraper
}

func newFixture(t *testing.T, sessions ...string) *fixture {
	t.Helper()
	store, err := storage.Open(":memory:", time.Second, vault.PlainSealer{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	for _, name := range sessions {
		require.NoError(t, store.CreateSession(context.Background(), &models.Session{
			Username: name, Secret: "pw", Settings: instagramtest.Settings(name),
		}))
	}

	log := logger.NewNopLogger()
	platform := instagramtest.New()
	p := pool.New(store, log)
	orch := login.New(p, store, platform.Factory(), config.PoolConfig{}, log)
	agg := fetch.New(store, config.FetchConfig{StopOnKnownPage: true}, log)
	return &fixture{
		store:    store,
		platform: platform,
		scraper:  New(orch, agg, config.FetchConfig{Workers: 2, AmountPerTag: 3}, log),
	}
}

func (f *fixture) flags(t *testing.T, username string) models.HealthFlags {
	t.Helper()
	sess, err := f.store.FindSessionByUsername(context.Background(), username)
	require.NoError(t, err)
	require.NotNil(t, sess)
	return sess.Flags
}

func TestFetchSuccess(t *testing.T) {
	f := newFixture(t, "s1")
	f.platform.SetFeed(alice, instagramtest.Items("a", 20), instagramtest.Items("b", 17))

	res, err := f.scraper.Fetch(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 37, res.Outcome.ItemCount)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, res.Code)
}

func TestLoginChallengeFallsBackToNextSession(t *testing.T) {
	f := newFixture(t, "a", "b")
	f.platform.SetFeed(alice, instagramtest.Items("x", 3))
	f.platform.SetAccount("a", instagramtest.Account{
		ProbeErr:   errs.New(errs.ErrorTypeStaleSession, "login_required"),
		LoginErr:   errs.New(errs.ErrorTypeChallengeRequired, "challenge_required"),
		ResolveErr: errs.New(errs.ErrorTypeChallengeRequired, "needs code"),
	})

	res, err := f.scraper.Fetch(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 3, res.Outcome.ItemCount)

	a, err := f.store.FindSessionByUsername(context.Background(), "a")
	require.NoError(t, err)
	b, err := f.store.FindSessionByUsername(context.Background(), "b")
	require.NoError(t, err)

	assert.Equal(t, models.HealthFlags{Challenged: true}, a.Flags)
	assert.Zero(t, a.UsageCount)
	assert.True(t, b.Flags.Clear())
	assert.Equal(t, int64(1), b.UsageCount)
	assert.Equal(t, b.ID, res.SessionID)
}

func TestPageFailureRerunsWithAnotherSession(t *testing.T) {
	f := newFixture(t, "s1", "s2")
	f.platform.SetFeed(alice, instagramtest.Items("a", 4), instagramtest.Items("b", 4), instagramtest.Items("c", 4))
	f.platform.SetAccount("s1", instagramtest.Account{PageErrs: map[int]error{
		1: errs.New(errs.ErrorTypeCooldown, "Please wait a few minutes"),
	}})

	res, err := f.scraper.Fetch(context.Background(), alice)
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 12, res.Outcome.ItemCount)
	assert.Equal(t, 12, res.Outcome.NewItems)
	assert.Equal(t, 3, res.Outcome.CompletedPages)
	assert.True(t, res.Outcome.Resumed)
	assert.Equal(t, models.HealthFlags{TemporarilyBlocked: true}, f.flags(t, "s1"))
	assert.True(t, f.flags(t, "s2").Clear())

	_, fetches := f.platform.Calls()
	assert.Equal(t, []string{
		"s1:profile:alice:0", "s1:profile:alice:1",
		"s2:profile:alice:1", "s2:profile:alice:2",
	}, fetches)
}

func TestStaleDuringWalkFlagsChallenged(t *testing.T) {
	f := newFixture(t, "s1", "s2")
	f.platform.SetFeed(alice, instagramtest.Items("a", 2))
	f.platform.SetAccount("s1", instagramtest.Account{PageErrs: map[int]error{
		0: errs.New(errs.ErrorTypeStaleSession, "login_required"),
	}})

	res, err := f.scraper.Fetch(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, models.HealthFlags{Challenged: true}, f.flags(t, "s1"))
}

func TestFetchWithoutSessions(t *testing.T) {
	f := newFixture(t)
	f.platform.SetFeed(alice, instagramtest.Items("a", 2))

	res, err := f.scraper.Fetch(context.Background(), alice)
	require.Error(t, err)
	assert.Equal(t, "NO_SESSION", errs.Code(err))
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "NO_SESSION", res.Code)
}

func TestFetchExhaustsBudgetButKeepsPages(t *testing.T) {
	f := newFixture(t, "s1", "s2")
	f.platform.SetFeed(alice, instagramtest.Items("a", 3), instagramtest.Items("b", 3), instagramtest.Items("c", 3))
	f.platform.SetAccount("s1", instagramtest.Account{PageErrs: map[int]error{
		1: errs.New(errs.ErrorTypeSoftRestriction, "feedback_required"),
	}})
	f.platform.SetAccount("s2", instagramtest.Account{PageErrs: map[int]error{
		2: errs.New(errs.ErrorTypeUnclassified, "boom"),
	}})

	res, err := f.scraper.Fetch(context.Background(), alice)
	require.Error(t, err)
	assert.Equal(t, "EXHAUSTED_RETRIES", errs.Code(err))
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 6, res.Outcome.ItemCount)
	assert.True(t, res.Outcome.Partial)

	assert.Equal(t, models.HealthFlags{TemporarilyBlocked: true}, f.flags(t, "s1"))
	assert.Equal(t, models.HealthFlags{Blocked: true}, f.flags(t, "s2"))

	rec, err := f.store.FindContentRecord(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, instagramtest.Cursor(2), rec.ResumeCursor)
}

func TestFetchNotFoundLeavesSessionAlone(t *testing.T) {
	f := newFixture(t, "s1")

	res, err := f.scraper.Fetch(context.Background(), models.Target{Kind: models.TargetProfile, Name: "ghost"})
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND", res.Code)
	assert.Equal(t, 1, res.Attempts)
	assert.True(t, f.flags(t, "s1").Clear())
}

func TestFetchInvalidTarget(t *testing.T) {
	f := newFixture(t, "s1")

	_, err := f.scraper.Fetch(context.Background(), models.Target{Kind: "story", Name: "x"})
	assert.Equal(t, errs.ErrorTypeInvalidInput, errs.TypeOf(err))
}

func TestFetchCancelled(t *testing.T) {
	f := newFixture(t, "s1")
	f.platform.SetFeed(alice, instagramtest.Items("a", 2))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := f.scraper.Fetch(ctx, alice)
	require.Error(t, err)
	assert.Equal(t, "CANCELLED", res.Code)
	assert.True(t, f.flags(t, "s1").Clear())
}

func TestFetchManyKeepsOrderAndReportsPartialSuccess(t *testing.T) {
	f := newFixture(t, "s1", "s2")
	bob := models.Target{Kind: models.TargetProfile, Name: "bob"}
	ghost := models.Target{Kind: models.TargetProfile, Name: "ghost"}
	f.platform.SetFeed(alice, instagramtest.Items("a", 2))
	f.platform.SetFeed(bob, instagramtest.Items("b", 3))

	batch := f.scraper.FetchMany(context.Background(), []models.Target{alice, ghost, bob})
	assert.Equal(t, StatusPartialSuccess, batch.Status)
	require.Len(t, batch.Results, 3)
	assert.Equal(t, alice, batch.Results[0].Target)
	assert.Equal(t, StatusSuccess, batch.Results[0].Status)
	assert.Equal(t, StatusFailed, batch.Results[1].Status)
	assert.Equal(t, "NOT_FOUND", batch.Results[1].Code)
	assert.Equal(t, 3, batch.Results[2].Outcome.ItemCount)
}

func TestFetchManyAllFailed(t *testing.T) {
	f := newFixture(t)
	batch := f.scraper.FetchMany(context.Background(), []models.Target{alice, {Kind: models.TargetHashtag, Name: "go"}})
	assert.Equal(t, StatusFailed, batch.Status)
	for _, r := range batch.Results {
		assert.Equal(t, "NO_SESSION", r.Code)
	}
}

func TestSearchHashtagsLimitsItemsPerTag(t *testing.T) {
	f := newFixture(t, "s1", "s2")
	golang := models.Target{Kind: models.TargetHashtag, Name: "golang"}
	rust := models.Target{Kind: models.TargetHashtag, Name: "rust"}
	f.platform.SetFeed(golang, instagramtest.Items("g1", 2), instagramtest.Items("g2", 2), instagramtest.Items("g3", 2))
	f.platform.SetFeed(rust, instagramtest.Items("r", 1))

	batch := f.scraper.SearchHashtags(context.Background(), []string{"#golang", "rust"}, 0)
	assert.Equal(t, StatusSuccess, batch.Status)
	require.Len(t, batch.Results, 2)

	assert.Equal(t, golang, batch.Results[0].Target)
	assert.Equal(t, fetch.StopItemLimit, batch.Results[0].Outcome.StopReason)
	assert.Equal(t, 4, batch.Results[0].Outcome.ItemCount, "stops after the page reaching the amount")
	assert.Equal(t, 1, batch.Results[1].Outcome.ItemCount)
}

// blockingAuth counts Authenticate calls and holds them until released
type blockingAuth struct {
	calls   int32
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingAuth) NewBudget() *login.Budget {
	return login.NewBudget(1, 0, time.Now())
}

func (b *blockingAuth) Authenticate(ctx context.Context, budget *login.Budget) (*login.Session, error) {
	atomic.AddInt32(&b.calls, 1)
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return nil, errs.New(errs.ErrorTypeNoSessionAvailable, "empty pool")
}

func (b *blockingAuth) HandleFailure(ctx context.Context, budget *login.Budget, s *login.Session, failure error) error {
	return failure
}

func TestConcurrentFetchesOfOneTargetAreCoalesced(t *testing.T) {
	auth := &blockingAuth{entered: make(chan struct{}), release: make(chan struct{})}
	s := New(auth, fetch.New(nil, config.FetchConfig{}, nil), config.FetchConfig{}, logger.NewNopLogger())

	var wg sync.WaitGroup
	codes := make([]string, 2)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, _ := s.Fetch(context.Background(), alice)
			codes[i] = res.Code
		}(i)
		if i == 0 {
			<-auth.entered
		}
	}
	time.Sleep(50 * time.Millisecond)
	close(auth.release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&auth.calls))
	assert.Equal(t, []string{"NO_SESSION", "NO_SESSION"}, codes)
}
