package worker

import (
	"context"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	errs "igcollector/pkg/errors"
	"igcollector/pkg/logger"
	"igcollector/pkg/models"
)

// State of a tracked job
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Status is the externally visible state of a job
type Status[R any] struct {
	ID          string        `json:"job_id"`
	Target      models.Target `json:"target"`
	State       State         `json:"status"`
	SubmittedAt time.Time     `json:"submitted_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	FinishedAt  *time.Time    `json:"finished_at,omitempty"`
	Result      *R            `json:"result,omitempty"`
	Error       string        `json:"error,omitempty"`
	Code        string        `json:"code,omitempty"`
}

const jobIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Tracker runs jobs in the background on a pool and keeps their status
// for polling. Finished jobs beyond the retention limit are forgotten,
// oldest first.
type Tracker[R any] struct {
	pool     *Pool[R]
	retain   int
	logger   logger.Logger
	mu       sync.RWMutex
	jobs     map[string]*Status[R]
	finished []string
	done     chan struct{}
}

// NewTracker creates a tracker running jobs on numWorkers workers
func NewTracker[R any](numWorkers, retain int, run RunFunc[R], log logger.Logger) *Tracker[R] {
	if log == nil {
		log = logger.GetLogger()
	}
	if retain < 1 {
		retain = 1000
	}
	t := &Tracker[R]{
		pool:   NewPool(numWorkers, run, log),
		retain: retain,
		logger: log.WithField("component", "jobs"),
		jobs:   make(map[string]*Status[R]),
		done:   make(chan struct{}),
	}
	t.pool.OnStart(t.markRunning)
	return t
}

// Start starts the workers and the result collector
func (t *Tracker[R]) Start(ctx context.Context) {
	t.pool.Start(ctx)
	go t.collect()
	logger.LogComponentStart(t.logger, "jobs", map[string]interface{}{"workers": t.pool.numWorkers})
}

// Stop waits for queued jobs to finish
func (t *Tracker[R]) Stop() {
	t.pool.Stop()
	<-t.done
	logger.LogComponentStop(t.logger, "jobs", "shutdown")
}

// Submit queues a fetch of target and returns its status
func (t *Tracker[R]) Submit(target models.Target) (Status[R], error) {
	id, err := gonanoid.Generate(jobIDAlphabet, 12)
	if err != nil {
		return Status[R]{}, errs.Wrap(errs.ErrorTypeInternal, "failed to generate job id", err)
	}

	st := &Status[R]{ID: id, Target: target, State: StateQueued, SubmittedAt: time.Now().UTC()}
	t.mu.Lock()
	t.jobs[id] = st
	t.mu.Unlock()

	if err := t.pool.Submit(Job{ID: id, Target: target}); err != nil {
		t.mu.Lock()
		delete(t.jobs, id)
		t.mu.Unlock()
		return Status[R]{}, errs.Wrap(errs.ErrorTypeCancelled, "job not accepted", err)
	}
	return t.Get(id)
}

// Get returns a snapshot of the job's status
func (t *Tracker[R]) Get(id string) (Status[R], error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st, ok := t.jobs[id]
	if !ok {
		return Status[R]{}, errs.New(errs.ErrorTypeNotFound, "job "+id+" not found")
	}
	return *st, nil
}

func (t *Tracker[R]) markRunning(job Job) {
	now := time.Now().UTC()
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.jobs[job.ID]; ok {
		st.State = StateRunning
		st.StartedAt = &now
	}
}

func (t *Tracker[R]) collect() {
	defer close(t.done)

	for res := range t.pool.Results() {
		now := time.Now().UTC()
		t.mu.Lock()
		st, ok := t.jobs[res.Job.ID]
		if ok {
			st.FinishedAt = &now
			value := res.Value
			st.Result = &value
			if res.Err != nil {
				st.State = StateFailed
				st.Error = res.Err.Error()
				st.Code = errs.Code(res.Err)
			} else {
				st.State = StateSucceeded
			}
			t.finished = append(t.finished, res.Job.ID)
			for len(t.finished) > t.retain {
				delete(t.jobs, t.finished[0])
				t.finished = t.finished[1:]
			}
		}
		t.mu.Unlock()

		fields := map[string]interface{}{
			"job_id":      res.Job.ID,
			"target":      res.Job.Target.Key(),
			"duration_ms": res.Duration.Milliseconds(),
		}
		if res.Err != nil {
			t.logger.WithError(res.Err).WarnWithFields("Job failed", fields)
		} else {
			t.logger.InfoWithFields("Job finished", fields)
		}
	}
}
