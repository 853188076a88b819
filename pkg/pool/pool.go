package pool

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	errs "igcollector/pkg/errors"
	"igcollector/pkg/logger"
	"igcollector/pkg/models"
	"igcollector/pkg/storage"
)

var (
	acquisitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "igcollector_pool_acquisitions_total",
		Help: "Lease attempts by result",
	}, []string{"result"})

	flagsSetTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "igcollector_pool_flags_set_total",
		Help: "Health flags set on sessions",
	}, []string{"flag"})

	leasedSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "igcollector_pool_leased_sessions",
		Help: "Sessions currently leased in this process",
	})
)

// Pool hands out exclusive leases on healthy sessions. Selection prefers the
// least used session, ties broken by id. Leases are tracked in memory, so
// exclusivity holds within one process.
type Pool struct {
	store  storage.SessionStore
	logger logger.Logger

	mu     sync.Mutex
	leased map[int64]struct{}
}

// New creates a pool over the session store
func New(store storage.SessionStore, log logger.Logger) *Pool {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Pool{
		store:  store,
		logger: log.WithField("component", "pool"),
		leased: make(map[int64]struct{}),
	}
}

// Acquire leases the eligible session with the lowest usage count that is
// not already leased. It returns a NoSessionAvailable error when none
// qualifies.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	candidates, err := p.store.ListEligibleSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list eligible sessions: %w", err)
	}

	for _, sess := range candidates {
		if _, busy := p.leased[sess.ID]; busy {
			continue
		}
		p.leased[sess.ID] = struct{}{}
		acquisitionsTotal.WithLabelValues("leased").Inc()
		leasedSessions.Inc()

		p.logger.DebugWithFields("Lease acquired", map[string]interface{}{
			"session_id":  sess.ID,
			"username":    sess.Username,
			"usage_count": sess.UsageCount,
		})
		s := sess
		return &Lease{pool: p, session: &s}, nil
	}

	acquisitionsTotal.WithLabelValues("empty").Inc()
	return nil, errs.New(errs.ErrorTypeNoSessionAvailable,
		fmt.Sprintf("no eligible session (%d healthy, all leased or flagged)", len(candidates)))
}

// EligibleCount returns how many sessions currently have every flag clear,
// leased ones included
func (p *Pool) EligibleCount(ctx context.Context) (int, error) {
	sessions, err := p.store.ListEligibleSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list eligible sessions: %w", err)
	}
	return len(sessions), nil
}

// LeasedCount returns the number of outstanding leases
func (p *Pool) LeasedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.leased)
}

// ClearFlags clears the given flags on a session. It is the only way to
// clear blocked and is meant for operators.
func (p *Pool) ClearFlags(ctx context.Context, id int64, clear models.HealthFlags) (*models.Session, error) {
	sess, err := p.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}

	flags := models.HealthFlags{
		Blocked:            sess.Flags.Blocked && !clear.Blocked,
		Challenged:         sess.Flags.Challenged && !clear.Challenged,
		TemporarilyBlocked: sess.Flags.TemporarilyBlocked && !clear.TemporarilyBlocked,
	}
	if err := p.store.UpdateSessionHealth(ctx, id, flags); err != nil {
		return nil, err
	}

	p.logger.InfoWithFields("Session flags cleared", map[string]interface{}{
		"session_id": id,
		"flags":      flags,
	})
	return p.store.GetSession(ctx, id)
}

func (p *Pool) release(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.leased[id]; ok {
		delete(p.leased, id)
		leasedSessions.Dec()
	}
}

// Lease is exclusive use of one session until Release. Every mutation is
// persisted before the method returns.
type Lease struct {
	pool *Pool

	mu       sync.Mutex
	session  *models.Session
	released bool
}

// Session returns a copy of the leased session as last persisted
func (l *Lease) Session() models.Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.session
}

// ID of the leased session
func (l *Lease) ID() int64 {
	return l.Session().ID
}

// MarkBlocked sets the blocked flag
func (l *Lease) MarkBlocked(ctx context.Context) error {
	return l.mark(ctx, models.HealthFlags{Blocked: true}, "blocked")
}

// MarkChallenged sets the challenged flag
func (l *Lease) MarkChallenged(ctx context.Context) error {
	return l.mark(ctx, models.HealthFlags{Challenged: true}, "challenged")
}

// MarkTemporarilyBlocked sets the temporarily-blocked flag
func (l *Lease) MarkTemporarilyBlocked(ctx context.Context) error {
	return l.mark(ctx, models.HealthFlags{TemporarilyBlocked: true}, "temporarily_blocked")
}

func (l *Lease) mark(ctx context.Context, flag models.HealthFlags, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	flags, err := l.pool.store.AddSessionFlags(ctx, l.session.ID, flag)
	if err != nil {
		return fmt.Errorf("mark session %d %s: %w", l.session.ID, name, err)
	}
	l.session.Flags = flags
	flagsSetTotal.WithLabelValues(name).Inc()

	l.pool.logger.InfoWithFields("Session flagged", map[string]interface{}{
		"session_id": l.session.ID,
		"username":   l.session.Username,
		"flag":       name,
	})
	return nil
}

// ClearSoftFlags clears challenged and temporarily-blocked after the session
// proved healthy again. Blocked is left untouched.
func (l *Lease) ClearSoftFlags(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.session.Flags.Challenged && !l.session.Flags.TemporarilyBlocked {
		return nil
	}
	flags := models.HealthFlags{Blocked: l.session.Flags.Blocked}
	if err := l.pool.store.UpdateSessionHealth(ctx, l.session.ID, flags); err != nil {
		return fmt.Errorf("clear soft flags on session %d: %w", l.session.ID, err)
	}
	l.session.Flags = flags
	l.session.TempBlockedAt = nil
	return nil
}

// RecordUse increments the usage counter of the session
func (l *Lease) RecordUse(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	count, err := l.pool.store.IncrementUsage(ctx, l.session.ID)
	if err != nil {
		return fmt.Errorf("record use of session %d: %w", l.session.ID, err)
	}
	l.session.UsageCount = count
	return nil
}

// SaveSettings persists a refreshed settings blob
func (l *Lease) SaveSettings(ctx context.Context, settings []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.pool.store.UpdateSessionSettings(ctx, l.session.ID, settings); err != nil {
		return fmt.Errorf("save settings of session %d: %w", l.session.ID, err)
	}
	l.session.Settings = append([]byte(nil), settings...)
	return nil
}

// Release returns the session to the pool. Calling it more than once is a no-op.
func (l *Lease) Release() {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return
	}
	l.released = true
	id := l.session.ID
	l.mu.Unlock()

	l.pool.release(id)
}

// Released reports whether Release has been called
func (l *Lease) Released() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.released
}
