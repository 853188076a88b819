package scraper

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
	"igcollector/internal/worker"
	"igcollector/pkg/config"
	errs "igcollector/pkg/errors"
	"igcollector/pkg/fetch"
	"igcollector/pkg/instagram"
	"igcollector/pkg/logger"
	"igcollector/pkg/models"
)

// Status of a fetch or a batch
type Status string

const (
	StatusSuccess        Status = "success"
	StatusPartialSuccess Status = "partial_success"
	StatusFailed         Status = "failed"
)

// Result describes one target fetch
type Result struct {
	Target    models.Target `json:"target"`
	Status    Status        `json:"status"`
	Outcome   fetch.Outcome `json:"outcome"`
	Attempts  int           `json:"attempts"`
	SessionID int64         `json:"session_id,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
	Code      string        `json:"code,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Batch is the result of fetching several targets
type Batch struct {
	Status  Status   `json:"status"`
	Results []Result `json:"results"`
}

// Scraper fetches targets with leased sessions
type Scraper struct {
	auth    Authenticator
	agg     *fetch.Aggregator
	workers int
	perTag  int
	logger  logger.Logger
	group   singleflight.Group
}

// New creates a scraper. The worker count and the default hashtag amount
// come from cfg.
func New(auth Authenticator, agg *fetch.Aggregator, cfg config.FetchConfig, log logger.Logger) *Scraper {
	if log == nil {
		log = logger.GetLogger()
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 2
	}
	return &Scraper{
		auth:    auth,
		agg:     agg,
		workers: workers,
		perTag:  cfg.AmountPerTag,
		logger:  log.WithField("component", "scraper"),
	}
}

// Fetch collects target until its feed is covered or a budget runs out.
// The returned error carries a machine readable code (errs.Code); the
// result is filled in either way.
func (s *Scraper) Fetch(ctx context.Context, target models.Target) (Result, error) {
	return s.fetchShared(ctx, target, s.agg, 0)
}

// SearchHashtags fetches up to amountPerTag items of every tag on the
// worker pool. A non-positive amount uses the configured default.
func (s *Scraper) SearchHashtags(ctx context.Context, tags []string, amountPerTag int) Batch {
	if amountPerTag <= 0 {
		amountPerTag = s.perTag
	}
	agg := s.agg
	if amountPerTag > 0 {
		agg = s.agg.WithItemLimit(amountPerTag)
	}

	targets := make([]models.Target, 0, len(tags))
	for _, tag := range tags {
		name := instagram.SanitizeHashtag(tag)
		targets = append(targets, models.Target{Kind: models.TargetHashtag, Name: name})
	}
	return s.fetchMany(ctx, targets, func(ctx context.Context, t models.Target) (Result, error) {
		return s.fetchShared(ctx, t, agg, amountPerTag)
	})
}

// FetchMany fetches every target on the worker pool. Results keep the
// order of targets.
func (s *Scraper) FetchMany(ctx context.Context, targets []models.Target) Batch {
	return s.fetchMany(ctx, targets, s.Fetch)
}

func (s *Scraper) fetchMany(ctx context.Context, targets []models.Target, fn func(context.Context, models.Target) (Result, error)) Batch {
	results := make([]Result, len(targets))
	if len(targets) == 0 {
		return Batch{Status: StatusSuccess, Results: results}
	}

	workers := s.workers
	if workers > len(targets) {
		workers = len(targets)
	}
	p := worker.NewPool(workers, func(ctx context.Context, job worker.Job) (Result, error) {
		return fn(ctx, job.Target)
	}, s.logger)
	p.Start(ctx)

	go func() {
		defer p.Stop()
		for i, t := range targets {
			if err := p.Submit(worker.Job{ID: strconv.Itoa(i), Target: t}); err != nil {
				// the pool is shutting down; report the rest as cancelled
				for j := i; j < len(targets); j++ {
					results[j] = failedResult(targets[j], errs.Wrap(errs.ErrorTypeCancelled, "fetch cancelled", err))
				}
				return
			}
		}
	}()

	seen := make([]bool, len(targets))
	for res := range p.Results() {
		i, err := strconv.Atoi(res.Job.ID)
		if err != nil {
			continue
		}
		seen[i] = true
		results[i] = res.Value
		if res.Err != nil && results[i].Status == "" {
			results[i] = failedResult(res.Job.Target, res.Err)
		}
	}

	batch := Batch{Results: results}
	var ok, failed int
	for i, r := range results {
		if !seen[i] && r.Status == "" {
			results[i] = failedResult(targets[i], errs.New(errs.ErrorTypeCancelled, "fetch cancelled"))
		}
		switch results[i].Status {
		case StatusSuccess:
			ok++
		case StatusFailed:
			failed++
		}
	}
	switch {
	case ok == len(results):
		batch.Status = StatusSuccess
	case failed == len(results):
		batch.Status = StatusFailed
	default:
		batch.Status = StatusPartialSuccess
	}

	s.logger.InfoWithFields("Batch finished", map[string]interface{}{
		"targets":   len(targets),
		"succeeded": ok,
		"failed":    failed,
		"status":    batch.Status,
	})
	return batch
}

type shared struct {
	res Result
	err error
}

func (s *Scraper) fetchShared(ctx context.Context, target models.Target, agg *fetch.Aggregator, limit int) (Result, error) {
	target.Name = strings.TrimSpace(target.Name)
	if err := target.Validate(); err != nil {
		err = errs.Wrap(errs.ErrorTypeInvalidInput, "invalid target", err)
		return failedResult(target, err), err
	}

	key := target.Key()
	if limit > 0 {
		key += "#" + strconv.Itoa(limit)
	}
	v, _, coalesced := s.group.Do(key, func() (interface{}, error) {
		res, err := s.fetch(ctx, target, agg)
		return shared{res: res, err: err}, nil
	})
	out := v.(shared)
	if coalesced {
		s.logger.DebugWithFields("Joined running fetch", map[string]interface{}{"target": key})
	}
	return out.res, out.err
}

// fetch runs the login and page walk loop for one target
func (s *Scraper) fetch(ctx context.Context, target models.Target, agg *fetch.Aggregator) (Result, error) {
	start := time.Now()
	log := s.logger.WithField("target", target.Key())
	budget := s.auth.NewBudget()

	res := Result{Target: target}
	total := fetch.Outcome{Target: target}

	for {
		sess, err := s.auth.Authenticate(ctx, budget)
		if err != nil {
			return s.finish(log, res, total, budget.Attempts(), start, err)
		}
		res.SessionID = sess.Lease.ID()

		out, runErr := agg.Run(ctx, sess.Client, sess.Lease, target)
		total = merge(total, out)
		if runErr == nil {
			sess.Release()
			return s.finish(log, res, total, budget.Attempts(), start, nil)
		}

		if !errs.IsPlatformFailure(errs.TypeOf(runErr)) {
			sess.Release()
			return s.finish(log, res, total, budget.Attempts(), start, runErr)
		}

		log.WithError(runErr).WarnWithFields("Page failed, running again with another session", map[string]interface{}{
			"session_id":      sess.Lease.ID(),
			"completed_pages": out.CompletedPages,
		})
		herr := s.auth.HandleFailure(ctx, budget, sess, runErr)
		sess.Release()
		if herr != nil {
			return s.finish(log, res, total, budget.Attempts(), start, herr)
		}
	}
}

// merge adds the counts of a run to the totals of earlier runs. Stop state
// comes from the latest run.
func merge(total, out fetch.Outcome) fetch.Outcome {
	completed := total.CompletedPages + out.CompletedPages
	added := total.NewItems + out.NewItems
	resumed := total.Resumed || out.Resumed
	if out.Target.Name == "" {
		out.Target = total.Target
	}
	if out.ItemCount < total.ItemCount {
		out.ItemCount = total.ItemCount
	}
	out.CompletedPages = completed
	out.NewItems = added
	out.Resumed = resumed
	return out
}

func (s *Scraper) finish(log logger.Logger, res Result, total fetch.Outcome, attempts int, start time.Time, err error) (Result, error) {
	res.Outcome = total
	res.Attempts = attempts
	res.Duration = time.Since(start)

	fields := map[string]interface{}{
		"attempts":    attempts,
		"pages":       total.CompletedPages,
		"new_items":   total.NewItems,
		"item_count":  total.ItemCount,
		"duration_ms": res.Duration.Milliseconds(),
	}

	if err != nil {
		res.Status = StatusFailed
		res.Code = errs.Code(err)
		res.Error = err.Error()
		fields["code"] = res.Code
		log.WithError(err).WarnWithFields("Fetch failed", fields)
		return res, fmt.Errorf("fetch %s: %w", res.Target.Key(), err)
	}

	res.Status = StatusSuccess
	if !total.Complete {
		res.Status = StatusPartialSuccess
	}
	fields["status"] = res.Status
	fields["stop_reason"] = total.StopReason
	log.InfoWithFields("Fetch finished", fields)
	return res, nil
}

func failedResult(target models.Target, err error) Result {
	return Result{
		Target: target,
		Status: StatusFailed,
		Code:   errs.Code(err),
		Error:  err.Error(),
	}
}
