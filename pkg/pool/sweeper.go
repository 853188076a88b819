package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
	"igcollector/pkg/logger"
	"igcollector/pkg/storage"
)

var tempBlocksCleared = promauto.NewCounter(prometheus.CounterOpts{
	Name: "igcollector_pool_temp_blocks_cleared_total",
	Help: "Temporarily blocked sessions released by the sweeper",
})

// Sweeper periodically clears temporarily-blocked flags older than the
// configured window, returning those sessions to rotation
type Sweeper struct {
	store  storage.SessionStore
	window time.Duration
	logger logger.Logger
	now    func() time.Time
	cron   *cron.Cron
}

// NewSweeper validates the schedule (standard cron syntax or descriptors
// such as "@every 5m") and prepares a sweeper
func NewSweeper(store storage.SessionStore, schedule string, window time.Duration, log logger.Logger) (*Sweeper, error) {
	if window <= 0 {
		return nil, fmt.Errorf("temp block window must be positive")
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	s := &Sweeper{
		store:  store,
		window: window,
		logger: log.WithField("component", "sweeper"),
		now:    time.Now,
		cron:   cron.New(),
	}
	if _, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			s.logger.WithError(err).Error("Temp block sweep failed")
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Sweep clears expired temp blocks once and returns how many were cleared
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.window)
	n, err := s.store.ClearExpiredTempBlocks(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		tempBlocksCleared.Add(float64(n))
		s.logger.InfoWithFields("Temporarily blocked sessions released", map[string]interface{}{
			"count":  n,
			"cutoff": cutoff,
		})
	}
	return n, nil
}

// Start runs an initial sweep and then follows the schedule
func (s *Sweeper) Start(ctx context.Context) {
	if _, err := s.Sweep(ctx); err != nil {
		s.logger.WithError(err).Warn("Initial temp block sweep failed")
	}
	s.cron.Start()
	logger.LogComponentStart(s.logger, "sweeper", map[string]interface{}{"window": s.window})
}

// Stop stops the schedule and waits for a running sweep to finish
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	logger.LogComponentStop(s.logger, "sweeper", "shutdown")
}
