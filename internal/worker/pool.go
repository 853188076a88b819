package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	errs "igcollector/pkg/errors"
	"igcollector/pkg/logger"
	"igcollector/pkg/models"
)

var (
	jobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "igcollector_worker_jobs_in_flight",
		Help: "Fetch jobs currently being processed",
	})

	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "igcollector_worker_jobs_total",
		Help: "Processed fetch jobs by status",
	}, []string{"status"})
)

// Job is a single fetch task
type Job struct {
	ID     string
	Target models.Target
}

// Result is the outcome of a job
type Result[R any] struct {
	Job      Job
	Value    R
	Err      error
	Duration time.Duration
}

// RunFunc processes one job
type RunFunc[R any] func(ctx context.Context, job Job) (R, error)

// Pool runs jobs on a fixed number of workers
type Pool[R any] struct {
	numWorkers  int
	jobQueue    chan Job
	resultQueue chan Result[R]
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	run         RunFunc[R]
	onStart     func(Job)
	logger      logger.Logger
	stopOnce    sync.Once
}

// NewPool creates a pool of numWorkers workers
func NewPool[R any](numWorkers int, run RunFunc[R], log logger.Logger) *Pool[R] {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if log == nil {
		log = logger.GetLogger()
	}

	return &Pool[R]{
		numWorkers:  numWorkers,
		jobQueue:    make(chan Job, numWorkers*2), // Buffer size = 2x workers
		resultQueue: make(chan Result[R], numWorkers),
		run:         run,
		logger:      log.WithField("component", "worker"),
	}
}

// OnStart registers a callback invoked when a worker picks up a job
func (p *Pool[R]) OnStart(fn func(Job)) {
	p.onStart = fn
}

// Start starts all workers. Jobs run with a context derived from ctx.
func (p *Pool[R]) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.logger.DebugWithFields("Starting worker pool", map[string]interface{}{
		"num_workers": p.numWorkers,
	})
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop stops accepting jobs, waits for queued jobs to finish and closes
// the result channel
func (p *Pool[R]) Stop() {
	p.stopOnce.Do(func() {
		close(p.jobQueue)
		p.wg.Wait()
		close(p.resultQueue)
		p.cancel()
		p.logger.Debug("Worker pool stopped")
	})
}

// Cancel cancels running jobs. Queued jobs still produce a cancelled result.
func (p *Pool[R]) Cancel() {
	p.cancel()
}

// Submit queues a job, blocking while the queue is full
func (p *Pool[R]) Submit(job Job) error {
	select {
	case <-p.ctx.Done():
		return fmt.Errorf("worker pool is shutting down")
	default:
	}

	select {
	case p.jobQueue <- job:
		p.logger.DebugWithFields("Job submitted to queue", map[string]interface{}{
			"job_id": job.ID,
			"target": job.Target.Key(),
		})
		return nil
	case <-p.ctx.Done():
		return fmt.Errorf("worker pool is shutting down")
	}
}

// Results returns the result channel. It must be drained while jobs run.
func (p *Pool[R]) Results() <-chan Result[R] {
	return p.resultQueue
}

func (p *Pool[R]) worker(id int) {
	defer p.wg.Done()

	for job := range p.jobQueue {
		if err := p.ctx.Err(); err != nil {
			jobsTotal.WithLabelValues("cancelled").Inc()
			p.resultQueue <- Result[R]{
				Job: job,
				Err: errs.Wrap(errs.ErrorTypeCancelled, "job cancelled before start", err),
			}
			continue
		}

		if p.onStart != nil {
			p.onStart(job)
		}
		result := p.process(job, id)
		p.resultQueue <- result
	}
}

func (p *Pool[R]) process(job Job, workerID int) Result[R] {
	start := time.Now()
	jobsInFlight.Inc()
	defer jobsInFlight.Dec()

	p.logger.DebugWithFields("Worker processing job", map[string]interface{}{
		"worker_id": workerID,
		"job_id":    job.ID,
		"target":    job.Target.Key(),
	})

	value, err := p.run(p.ctx, job)
	status := "succeeded"
	if err != nil {
		status = "failed"
	}
	jobsTotal.WithLabelValues(status).Inc()

	return Result[R]{
		Job:      job,
		Value:    value,
		Err:      err,
		Duration: time.Since(start),
	}
}
