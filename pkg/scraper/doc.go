// Package scraper drives content collection for one or many targets.
//
// A fetch leases a session through the login orchestrator, walks the
// target's pages with the aggregator and releases the lease. When a page
// fails with a platform failure the session is flagged the same way a
// login failure would flag it, and the fetch runs again with another
// session. Pages committed before the failure are kept, so the next run
// resumes where the previous one stopped. Login attempts and re-runs share
// a single retry budget.
//
// Usage:
//
//	s := scraper.New(orch, agg, cfg.Fetch, log)
//	res, err := s.Fetch(ctx, models.Target{Kind: models.TargetProfile, Name: "nasa"})
//	if err != nil {
//	    // errs.Code(err) is NO_SESSION, EXHAUSTED_RETRIES, CANCELLED, ...
//	}
//
// Many targets are fetched on a bounded worker pool:
//
//	batch := s.FetchMany(ctx, targets)
//	fmt.Println(batch.Status) // success, partial_success or failed
//
// Concurrent fetches of the same target share one run.
package scraper
