package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	errs "igcollector/pkg/errors"
	"igcollector/pkg/logger"
	"igcollector/pkg/models"
)

func target(name string) models.Target {
	return models.Target{Kind: models.TargetHashtag, Name: name}
}

func TestPoolRunsEveryJobWithBoundedConcurrency(t *testing.T) {
	var running, peak int32
	run := func(ctx context.Context, job Job) (string, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		if job.Target.Name == "bad" {
			return "", errors.New("boom")
		}
		return "ok:" + job.Target.Name, nil
	}

	p := NewPool(2, run, logger.NewNopLogger())
	p.Start(context.Background())
	go func() {
		for _, name := range []string{"a", "b", "bad", "c", "d"} {
			assert.NoError(t, p.Submit(Job{ID: name, Target: target(name)}))
		}
		p.Stop()
	}()

	got := map[string]Result[string]{}
	for res := range p.Results() {
		got[res.Job.ID] = res
	}

	assert.Len(t, got, 5)
	assert.Equal(t, "ok:a", got["a"].Value)
	assert.Error(t, got["bad"].Err)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestPoolCancelledJobsStillReport(t *testing.T) {
	release := make(chan struct{})
	run := func(ctx context.Context, job Job) (int, error) {
		select {
		case <-release:
			return 1, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := NewPool(1, run, logger.NewNopLogger())
	p.Start(ctx)
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, p.Submit(Job{ID: name, Target: target(name)}))
	}
	cancel()
	go p.Stop()

	var results []Result[int]
	for res := range p.Results() {
		results = append(results, res)
	}
	require.Len(t, results, 3)
	for _, res := range results {
		assert.Error(t, res.Err)
	}
	assert.Error(t, p.Submit(Job{ID: "late"}))
}

func TestTrackerLifecycle(t *testing.T) {
	release := make(chan struct{})
	run := func(ctx context.Context, job Job) (string, error) {
		<-release
		if job.Target.Name == "bad" {
			return "", errs.New(errs.ErrorTypeNoSessionAvailable, "empty pool")
		}
		return "done", nil
	}

	tr := NewTracker(1, 10, run, logger.NewNopLogger())
	tr.Start(context.Background())

	good, err := tr.Submit(target("good"))
	require.NoError(t, err)
	assert.Len(t, good.ID, 12)
	assert.Contains(t, []State{StateQueued, StateRunning}, good.State)

	bad, err := tr.Submit(target("bad"))
	require.NoError(t, err)

	_, err = tr.Get("missing")
	assert.Equal(t, errs.ErrorTypeNotFound, errs.TypeOf(err))

	close(release)
	tr.Stop()

	st, err := tr.Get(good.ID)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, st.State)
	require.NotNil(t, st.Result)
	assert.Equal(t, "done", *st.Result)
	assert.NotNil(t, st.FinishedAt)

	st, err = tr.Get(bad.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, st.State)
	assert.Equal(t, "NO_SESSION", st.Code)
}

func TestTrackerRetention(t *testing.T) {
	run := func(ctx context.Context, job Job) (int, error) { return 0, nil }
	tr := NewTracker(1, 2, run, logger.NewNopLogger())
	tr.Start(context.Background())

	var ids []string
	for _, name := range []string{"a", "b", "c"} {
		st, err := tr.Submit(target(name))
		require.NoError(t, err)
		ids = append(ids, st.ID)
	}
	tr.Stop()

	_, err := tr.Get(ids[0])
	assert.Error(t, err, "oldest finished job forgotten")
	_, err = tr.Get(ids[2])
	assert.NoError(t, err)
}
