// Package metrics exposes the Prometheus registry of the collector.
// Metrics are declared next to the code that updates them (pool, login,
// fetch, instagram, worker) with promauto, so this package only serves them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer every promauto metric lands in
var Registry = prometheus.DefaultRegisterer

// Handler serves the default gatherer in the Prometheus text format
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Session pool (pkg/pool):
//   - igcollector_pool_acquisitions_total{result} (Counter): lease attempts, result=leased|empty
//   - igcollector_pool_flags_set_total{flag} (Counter): health flags set on sessions
//   - igcollector_pool_leased_sessions (Gauge): sessions currently leased in this process
//   - igcollector_pool_temp_blocks_cleared_total (Counter): temp blocks cleared by the sweeper
//
// Login (pkg/login):
//   - igcollector_login_attempts_total{result} (Counter): result=ready|relogin|failed
//   - igcollector_login_failures_total{class} (Counter): classified failures
//   - igcollector_login_terminal_total{code} (Counter): NO_SESSION and EXHAUSTED_RETRIES outcomes
//
// Fetch (pkg/fetch):
//   - igcollector_fetch_pages_committed_total{kind} (Counter)
//   - igcollector_fetch_items_added_total{kind} (Counter)
//   - igcollector_fetch_runs_total{status} (Counter): status=complete|partial|failed
//
// Platform client (pkg/instagram):
//   - igcollector_platform_requests_total{endpoint, status} (Counter)
//   - igcollector_platform_request_duration_seconds{endpoint} (Histogram)
//
// Worker pool (internal/worker):
//   - igcollector_worker_jobs_in_flight (Gauge)
//   - igcollector_worker_jobs_total{status} (Counter)
//
// Example queries:
//
//   # Share of attempts ending in an unclassified failure
//   rate(igcollector_login_failures_total{class="unclassified"}[15m])
//     / rate(igcollector_login_attempts_total[15m])
//
//   # Sessions lost to blocks per hour
//   increase(igcollector_pool_flags_set_total{flag="blocked"}[1h])
