package login

import (
	"context"
	"fmt"
	"strings"

	errs "igcollector/pkg/errors"
	"igcollector/pkg/models"
)

// InitSession registers credentials or refreshes an existing session. The
// stored settings are tried first; a stale session falls back to a
// password login. On success the session is stored with the given password
// and the refreshed settings and its soft flags are cleared. Blocked
// sessions are refused and platform failures are returned without
// touching the session.
func (o *Orchestrator) InitSession(ctx context.Context, username, secret string) (*models.Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || secret == "" {
		return nil, errs.New(errs.ErrorTypeInvalidInput, "username and password are required")
	}

	existing, err := o.store.FindSessionByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Flags.Blocked {
		return nil, errs.New(errs.ErrorTypeSessionBlocked,
			fmt.Sprintf("session %s is blocked and must be cleared first", username))
	}

	log := o.logger.WithField("username", username)
	client, err := o.factory()
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeInternal, "failed to create platform client", err)
	}

	fresh := true
	if existing != nil && len(existing.Settings) > 0 {
		err = client.ImportSettings(existing.Settings)
		if err == nil {
			err = client.ProbeLiveness(ctx)
		}
		switch {
		case err == nil:
			fresh = false
			log.Info("Stored session is valid")
		case errs.TypeOf(err) == errs.ErrorTypeStaleSession:
			log.Info("Stored session is invalid, performing fresh login")
			client.ResetSettings(true)
		default:
			return nil, err
		}
	}
	if fresh {
		if err := client.Login(ctx, username, secret); err != nil {
			return nil, err
		}
	}

	blob, err := client.ExportSettings()
	if err != nil {
		return nil, err
	}

	if existing == nil {
		sess := &models.Session{Username: username, Secret: secret, Settings: blob}
		if err := o.store.CreateSession(ctx, sess); err != nil {
			return nil, err
		}
		log.InfoWithFields("Session created", map[string]interface{}{"session_id": sess.ID})
		return o.store.GetSession(ctx, sess.ID)
	}

	if err := o.store.UpdateSessionCredentials(ctx, existing.ID, secret, blob); err != nil {
		return nil, err
	}
	if err := o.store.UpdateSessionHealth(ctx, existing.ID, models.HealthFlags{}); err != nil {
		return nil, err
	}
	log.InfoWithFields("Session refreshed", map[string]interface{}{"session_id": existing.ID})
	return o.store.GetSession(ctx, existing.ID)
}
