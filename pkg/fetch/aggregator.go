// Package fetch walks a target's paginated feed and merges every page into
// the target's content record as soon as it arrives.
package fetch

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"igcollector/pkg/config"
	errs "igcollector/pkg/errors"
	"igcollector/pkg/instagram"
	"igcollector/pkg/logger"
	"igcollector/pkg/models"
	"igcollector/pkg/storage"
)

var (
	pagesCommitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "igcollector_fetch_pages_committed_total",
		Help: "Pages merged into content records",
	}, []string{"kind"})

	itemsAdded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "igcollector_fetch_items_added_total",
		Help: "New items stored",
	}, []string{"kind"})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "igcollector_fetch_runs_total",
		Help: "Aggregator runs by outcome",
	}, []string{"status"})
)

// StopReason says why a run stopped walking pages
type StopReason string

const (
	StopExhausted  StopReason = "exhausted"
	StopKnownPage  StopReason = "known_page"
	StopItemLimit  StopReason = "item_limit"
	StopPageBudget StopReason = "page_budget"
	StopTimeBudget StopReason = "time_budget"
	StopCancelled  StopReason = "cancelled"
	StopFailed     StopReason = "failed"
)

// Outcome describes what a run committed. Pages counted in CompletedPages
// are durable even when the run failed.
type Outcome struct {
	Target         models.Target `json:"target"`
	CompletedPages int           `json:"completed_pages"`
	NewItems       int           `json:"new_items"`
	ItemCount      int           `json:"item_count"`
	ResumeCursor   string        `json:"resume_cursor,omitempty"`
	Resumed        bool          `json:"resumed"`
	Complete       bool          `json:"complete"`
	Partial        bool          `json:"partial"`
	StopReason     StopReason    `json:"stop_reason"`
}

// UsageRecorder is the part of a lease a run needs
type UsageRecorder interface {
	ID() int64
	RecordUse(ctx context.Context) error
}

// Aggregator runs paginated fetches
type Aggregator struct {
	store       storage.ContentStore
	maxPages    int
	maxItems    int
	maxDuration time.Duration
	stopOnKnown bool
	logger      logger.Logger
	now         func() time.Time
}

// New creates an aggregator with the page, time and incremental refresh
// settings of cfg
func New(store storage.ContentStore, cfg config.FetchConfig, log logger.Logger) *Aggregator {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Aggregator{
		store:       store,
		maxPages:    cfg.MaxPages,
		maxDuration: cfg.MaxDuration,
		stopOnKnown: cfg.StopOnKnownPage,
		logger:      log.WithField("component", "fetch"),
		now:         time.Now,
	}
}

// WithItemLimit returns a copy that stops once n items have been seen in
// one run. The run still counts as complete.
func (a *Aggregator) WithItemLimit(n int) *Aggregator {
	cp := *a
	cp.maxItems = n
	return &cp
}

// Run walks the target's feed with client and commits every page before
// asking for the next one. An interrupted run leaves a resume cursor that
// the next run starts from; otherwise the walk starts at the newest item.
//
// A run that stops without error records one use of the session. When a
// page fails, the outcome of the pages committed so far is returned with
// the failure and the caller decides whether to run again.
func (a *Aggregator) Run(ctx context.Context, client instagram.PlatformClient, lease UsageRecorder, target models.Target) (Outcome, error) {
	out := Outcome{Target: target}
	if err := target.Validate(); err != nil {
		return out, errs.Wrap(errs.ErrorTypeInvalidInput, "invalid target", err)
	}

	if err := ctx.Err(); err != nil {
		out.StopReason, out.Partial = StopCancelled, true
		return out, errs.Wrap(errs.ErrorTypeCancelled, "fetch cancelled", err)
	}

	sessionID := lease.ID()
	rec, err := a.store.CreateContentRecord(ctx, target, &sessionID)
	if err != nil {
		return out, err
	}
	out.ItemCount = rec.ItemCount
	cursor := rec.ResumeCursor
	out.Resumed = cursor != ""
	out.ResumeCursor = cursor

	log := a.logger.WithFields(map[string]interface{}{
		"target":     target.Key(),
		"session_id": sessionID,
	})
	log.DebugWithFields("Fetch started", map[string]interface{}{
		"resumed":     out.Resumed,
		"stored":      rec.ItemCount,
		"max_pages":   a.maxPages,
		"stop_known":  a.stopOnKnown,
		"max_seconds": a.maxDuration.Seconds(),
	})

	var deadline time.Time
	if a.maxDuration > 0 {
		deadline = a.now().Add(a.maxDuration)
	}
	seen := 0

	for {
		if err := ctx.Err(); err != nil {
			return a.fail(log, out, StopCancelled, errs.Wrap(errs.ErrorTypeCancelled, "fetch cancelled", err))
		}

		page, err := client.FetchPage(ctx, target, cursor)
		if err != nil {
			reason := StopFailed
			if errs.TypeOf(err) == errs.ErrorTypeCancelled {
				reason = StopCancelled
			}
			return a.fail(log, out, reason, err)
		}

		next := ""
		if page.MoreAvailable {
			next = page.NextCursor
		}
		res, err := a.store.AppendContentPages(ctx, target, &sessionID, page.Items, next)
		if err != nil {
			return a.fail(log, out, StopFailed, err)
		}

		out.CompletedPages++
		out.NewItems += res.Added
		out.ItemCount = res.Total
		out.ResumeCursor = next
		seen += len(page.Items)
		cursor = next
		pagesCommitted.WithLabelValues(string(target.Kind)).Inc()
		itemsAdded.WithLabelValues(string(target.Kind)).Add(float64(res.Added))
		logger.LogPageCommitted(log, target.Key(), out.CompletedPages, res.Added, res.Total, next)

		switch {
		case next == "":
			out.StopReason = StopExhausted
		case a.stopOnKnown && !out.Resumed && rec.ItemCount > 0 && len(page.Items) > 0 && res.Added == 0:
			// walking from the head reached content that is already stored
			out.StopReason = StopKnownPage
		case a.maxItems > 0 && seen >= a.maxItems:
			out.StopReason = StopItemLimit
		case a.maxPages > 0 && out.CompletedPages >= a.maxPages:
			out.StopReason = StopPageBudget
		case !deadline.IsZero() && !a.now().Before(deadline):
			out.StopReason = StopTimeBudget
		}
		if out.StopReason == StopKnownPage || out.StopReason == StopItemLimit {
			// the head is covered, so the next run starts there again
			if _, err := a.store.AppendContentPages(ctx, target, &sessionID, nil, ""); err != nil {
				return a.fail(log, out, StopFailed, err)
			}
			out.ResumeCursor = ""
		}
		if out.StopReason != "" {
			break
		}
	}

	out.Complete = out.StopReason == StopExhausted || out.StopReason == StopKnownPage || out.StopReason == StopItemLimit
	out.Partial = !out.Complete
	if err := lease.RecordUse(ctx); err != nil {
		return out, err
	}

	status := "complete"
	if out.Partial {
		status = "partial"
	}
	runsTotal.WithLabelValues(status).Inc()
	log.InfoWithFields("Fetch finished", map[string]interface{}{
		"pages":       out.CompletedPages,
		"new_items":   out.NewItems,
		"total_items": out.ItemCount,
		"stop_reason": string(out.StopReason),
	})
	return out, nil
}

func (a *Aggregator) fail(log logger.Logger, out Outcome, reason StopReason, err error) (Outcome, error) {
	out.StopReason = reason
	out.Partial = true
	runsTotal.WithLabelValues("failed").Inc()
	log.WithError(err).InfoWithFields("Fetch stopped early", map[string]interface{}{
		"pages":       out.CompletedPages,
		"new_items":   out.NewItems,
		"stop_reason": string(reason),
	})
	return out, err
}
