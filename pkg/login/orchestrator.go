package login

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"igcollector/pkg/config"
	errs "igcollector/pkg/errors"
	"igcollector/pkg/instagram"
	"igcollector/pkg/logger"
	"igcollector/pkg/pool"
	"igcollector/pkg/retry"
	"igcollector/pkg/storage"
)

var (
	attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "igcollector_login_attempts_total",
		Help: "Login attempts by result",
	}, []string{"result"})

	failuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "igcollector_login_failures_total",
		Help: "Classified platform failures",
	}, []string{"class"})

	terminalTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "igcollector_login_terminal_total",
		Help: "Login loops that ended without a ready session",
	}, []string{"code"})
)

// Session is a leased session with a client authenticated for it. The
// caller owns the lease and must release it.
type Session struct {
	Lease  *pool.Lease
	Client instagram.PlatformClient
}

// Release returns the lease to the pool
func (s *Session) Release() {
	s.Lease.Release()
}

// Orchestrator produces authenticated clients bound to leased sessions. It
// reacts to platform failures by flagging the session and retrying with
// another one until the budget is spent.
type Orchestrator struct {
	pool        *pool.Pool
	store       storage.SessionStore
	factory     instagram.Factory
	backoff     *retry.ClassBackoff
	maxAttempts int
	maxDuration time.Duration
	logger      logger.Logger
	now         func() time.Time
}

// New creates an orchestrator
func New(p *pool.Pool, store storage.SessionStore, factory instagram.Factory, cfg config.PoolConfig, log logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Orchestrator{
		pool:        p,
		store:       store,
		factory:     factory,
		backoff:     retry.NewClassBackoff(cfg.RetryDelay, cfg.MaxRetryDelay, cfg.BackoffMultiplier),
		maxAttempts: cfg.MaxAttempts,
		maxDuration: cfg.MaxDuration,
		logger:      log.WithField("component", "login"),
		now:         time.Now,
	}
}

// NewBudget creates a budget from the pool settings. The attempt limit is
// sized on the first Authenticate call.
func (o *Orchestrator) NewBudget() *Budget {
	return NewBudget(0, o.maxDuration, o.now())
}

// Authenticate leases a session and returns a client ready to fetch with
// it. Platform failures flag the session and start the next attempt.
//
// It fails with NoSessionAvailable when no session could be leased on the
// first attempt, with ExhaustedRetries wrapping the last failure once the
// budget is spent or the pool runs dry after failures, and with Cancelled
// when ctx is done.
func (o *Orchestrator) Authenticate(ctx context.Context, budget *Budget) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, o.terminal(errs.Wrap(errs.ErrorTypeCancelled, "login cancelled", err))
	}
	if budget.MaxAttempts() == 0 {
		eligible, err := o.pool.EligibleCount(ctx)
		if err != nil {
			return nil, err
		}
		budget.sizeOnce(eligible, o.maxAttempts)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, o.terminal(errs.Wrap(errs.ErrorTypeCancelled, "login cancelled", err))
		}

		if class, attempts := budget.last(); attempts > 0 {
			delay := o.backoff.NextDelay(class, attempts)
			if err := retry.Wait(ctx, delay); err != nil {
				return nil, o.terminal(errs.Wrap(errs.ErrorTypeCancelled, "login cancelled", err))
			}
		}

		if err := budget.begin(o.now()); err != nil {
			return nil, o.terminal(err)
		}

		lease, err := o.pool.Acquire(ctx)
		if err != nil {
			if !errs.Is(err, errs.ErrorTypeNoSessionAvailable) {
				return nil, err
			}
			if budget.Failures() == 0 {
				return nil, o.terminal(err)
			}
			return nil, o.terminal(budget.exhausted("no session left after failures"))
		}

		client, err := o.authenticate(ctx, lease)
		if err == nil {
			return &Session{Lease: lease, Client: client}, nil
		}

		class := errs.TypeOf(err)
		if !errs.IsPlatformFailure(class) {
			lease.Release()
			if class == errs.ErrorTypeCancelled {
				return nil, o.terminal(err)
			}
			return nil, err
		}

		attemptsTotal.WithLabelValues("failed").Inc()
		herr := o.HandleFailure(ctx, budget, &Session{Lease: lease, Client: client}, err)
		lease.Release()
		if herr != nil {
			return nil, herr
		}
	}
}

// authenticate builds a fresh client for the lease, restores its settings
// and checks them. A stale session is logged in again with the stored
// password while keeping the device identifiers. The client is returned
// with the error when one was created, so a challenge can be resolved
// with it.
func (o *Orchestrator) authenticate(ctx context.Context, lease *pool.Lease) (instagram.PlatformClient, error) {
	sess := lease.Session()
	log := o.logger.WithFields(map[string]interface{}{
		"session_id": sess.ID,
		"username":   sess.Username,
	})

	client, err := o.factory()
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeInternal, "failed to create platform client", err)
	}

	err = client.ImportSettings(sess.Settings)
	if err == nil {
		err = client.ProbeLiveness(ctx)
	}
	if err == nil {
		attemptsTotal.WithLabelValues("ready").Inc()
		log.Debug("Stored settings accepted")
		return client, nil
	}
	if errs.TypeOf(err) != errs.ErrorTypeStaleSession {
		return client, err
	}

	log.Info("Session is stale, logging in again")
	client.ResetSettings(true)
	if err := client.Login(ctx, sess.Username, sess.Secret); err != nil {
		return client, err
	}

	blob, err := client.ExportSettings()
	if err != nil {
		return client, err
	}
	if err := lease.SaveSettings(ctx, blob); err != nil {
		return client, err
	}
	if err := lease.ClearSoftFlags(ctx); err != nil {
		return client, err
	}

	attemptsTotal.WithLabelValues("relogin").Inc()
	log.Info("Logged in again with stored credentials")
	return client, nil
}

// HandleFailure applies the single flag mutation a platform failure calls
// for and records it in the budget. It is used both for login failures and
// for failures while walking pages. The lease is not released.
//
// Failures that are not platform failures are returned unchanged and
// leave the session untouched.
func (o *Orchestrator) HandleFailure(ctx context.Context, budget *Budget, s *Session, failure error) error {
	class := errs.TypeOf(failure)
	if !errs.IsPlatformFailure(class) {
		return failure
	}

	sess := s.Lease.Session()
	failuresTotal.WithLabelValues(string(class)).Inc()
	budget.record(class, failure)
	logger.LogFailure(o.logger, string(class), sess.ID, sess.Username, failure)

	var err error
	switch class {
	case errs.ErrorTypeChallengeRequired:
		err = s.Lease.MarkChallenged(ctx)
		if err == nil && s.Client != nil {
			// the session stays out of this attempt even when this succeeds
			if rerr := s.Client.ResolveChallenge(ctx); rerr != nil {
				o.logger.WithError(rerr).DebugWithFields("Challenge not resolved", map[string]interface{}{
					"session_id": sess.ID,
				})
			} else {
				o.logger.InfoWithFields("Challenge resolved, session stays flagged until cleared", map[string]interface{}{
					"session_id": sess.ID,
				})
			}
		}
	case errs.ErrorTypeStaleSession:
		// still stale after a fresh login: the account needs a step-up
		err = s.Lease.MarkChallenged(ctx)
	case errs.ErrorTypeSoftRestriction, errs.ErrorTypeCooldown:
		err = s.Lease.MarkTemporarilyBlocked(ctx)
	default:
		err = s.Lease.MarkBlocked(ctx)
	}
	if err != nil {
		return fmt.Errorf("persist %s failure of session %d: %w", class, sess.ID, err)
	}
	return nil
}

func (o *Orchestrator) terminal(err error) error {
	terminalTotal.WithLabelValues(errs.Code(err)).Inc()
	o.logger.WithError(err).WarnWithFields("Login loop ended", map[string]interface{}{
		"code": errs.Code(err),
	})
	return err
}
