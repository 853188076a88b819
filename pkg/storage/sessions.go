package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	errs "igcollector/pkg/errors"
	"igcollector/pkg/models"
)

const sessionColumns = `id, username, secret, settings, blocked, challenged, temporarily_blocked,
	temp_blocked_at, usage_count, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *SQLiteStore) scanSession(row rowScanner) (*models.Session, error) {
	var (
		sess          models.Session
		sealed        string
		tempBlockedAt sql.NullTime
	)
	if err := row.Scan(
		&sess.ID, &sess.Username, &sealed, &sess.Settings,
		&sess.Flags.Blocked, &sess.Flags.Challenged, &sess.Flags.TemporarilyBlocked,
		&tempBlockedAt, &sess.UsageCount, &sess.CreatedAt, &sess.UpdatedAt,
	); err != nil {
		return nil, err
	}

	secret, err := s.sealer.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("open secret for session %d: %w", sess.ID, err)
	}
	sess.Secret = secret
	if tempBlockedAt.Valid {
		t := tempBlockedAt.Time
		sess.TempBlockedAt = &t
	}
	return &sess, nil
}

// CreateSession inserts a new session and fills in its ID and timestamps
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *models.Session) error {
	if strings.TrimSpace(sess.Username) == "" {
		return errs.New(errs.ErrorTypeInvalidInput, "username is required")
	}
	sealed, err := s.sealer.Seal(sess.Secret)
	if err != nil {
		return fmt.Errorf("seal secret: %w", err)
	}

	now := s.now()
	var tempBlockedAt interface{}
	if sess.Flags.TemporarilyBlocked {
		tempBlockedAt = now
	}

	err = s.write(ctx, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO sessions (username, secret, settings, blocked, challenged, temporarily_blocked,
				temp_blocked_at, usage_count, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sess.Username, sealed, sess.Settings,
			sess.Flags.Blocked, sess.Flags.Challenged, sess.Flags.TemporarilyBlocked,
			tempBlockedAt, sess.UsageCount, now, now,
		)
		if err != nil {
			return err
		}
		sess.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return errs.New(errs.ErrorTypeInvalidInput, fmt.Sprintf("session %q already exists", sess.Username))
		}
		return storageErr("create session", err)
	}

	sess.CreatedAt, sess.UpdatedAt = now, now
	if sess.Flags.TemporarilyBlocked {
		sess.TempBlockedAt = &now
	}
	return nil
}

// GetSession returns the session with the given id
func (s *SQLiteStore) GetSession(ctx context.Context, id int64) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := s.scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("session", id)
	}
	if err != nil {
		return nil, storageErr("get session", err)
	}
	return sess, nil
}

// FindSessionByUsername returns the session for username, or nil if none exists
func (s *SQLiteStore) FindSessionByUsername(ctx context.Context, username string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE username = ?`, username)
	sess, err := s.scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("find session", err)
	}
	return sess, nil
}

// ListSessions returns every session ordered by id
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]models.Session, error) {
	return s.querySessions(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY id ASC`)
}

// ListEligibleSessions returns sessions with every health flag clear, least
// used first with ties broken by id
func (s *SQLiteStore) ListEligibleSessions(ctx context.Context) ([]models.Session, error) {
	return s.querySessions(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE blocked = 0 AND challenged = 0 AND temporarily_blocked = 0
		ORDER BY usage_count ASC, id ASC`)
}

func (s *SQLiteStore) querySessions(ctx context.Context, query string, args ...interface{}) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list sessions", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		sess, err := s.scanSession(rows)
		if err != nil {
			return nil, storageErr("scan session", err)
		}
		sessions = append(sessions, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list sessions", err)
	}
	return sessions, nil
}

// UpdateSessionHealth replaces the health flags of a session. Setting
// temporarily_blocked keeps the original timestamp if it was already set.
func (s *SQLiteStore) UpdateSessionHealth(ctx context.Context, id int64, flags models.HealthFlags) error {
	now := s.now()
	return s.execOne(ctx, "update session health", "session", id, `
		UPDATE sessions SET
			blocked = ?, challenged = ?, temporarily_blocked = ?,
			temp_blocked_at = CASE WHEN ? THEN COALESCE(temp_blocked_at, ?) ELSE NULL END,
			updated_at = ?
		WHERE id = ?`,
		flags.Blocked, flags.Challenged, flags.TemporarilyBlocked,
		flags.TemporarilyBlocked, now, now, id,
	)
}

// AddSessionFlags sets the given flags on a session without clearing any
// flag already set, and returns the resulting flags
func (s *SQLiteStore) AddSessionFlags(ctx context.Context, id int64, flags models.HealthFlags) (models.HealthFlags, error) {
	var result models.HealthFlags
	now := s.now()
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE sessions SET
				blocked = blocked OR ?,
				challenged = challenged OR ?,
				temporarily_blocked = temporarily_blocked OR ?,
				temp_blocked_at = CASE WHEN ? THEN COALESCE(temp_blocked_at, ?) ELSE temp_blocked_at END,
				updated_at = ?
			WHERE id = ?`,
			flags.Blocked, flags.Challenged, flags.TemporarilyBlocked,
			flags.TemporarilyBlocked, now, now, id,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return notFound("session", id)
		}
		return tx.QueryRowContext(ctx,
			`SELECT blocked, challenged, temporarily_blocked FROM sessions WHERE id = ?`, id,
		).Scan(&result.Blocked, &result.Challenged, &result.TemporarilyBlocked)
	})
	if err != nil {
		return models.HealthFlags{}, storageErr("add session flags", err)
	}
	return result, nil
}

// UpdateSessionSettings stores a refreshed settings blob
func (s *SQLiteStore) UpdateSessionSettings(ctx context.Context, id int64, settings []byte) error {
	return s.execOne(ctx, "update session settings", "session", id,
		`UPDATE sessions SET settings = ?, updated_at = ? WHERE id = ?`,
		settings, s.now(), id,
	)
}

// UpdateSessionCredentials stores a new secret together with the settings
// produced by logging in with it
func (s *SQLiteStore) UpdateSessionCredentials(ctx context.Context, id int64, secret string, settings []byte) error {
	sealed, err := s.sealer.Seal(secret)
	if err != nil {
		return fmt.Errorf("seal secret: %w", err)
	}
	return s.execOne(ctx, "update session credentials", "session", id,
		`UPDATE sessions SET secret = ?, settings = ?, updated_at = ? WHERE id = ?`,
		sealed, settings, s.now(), id,
	)
}

// IncrementUsage adds one to the usage counter and returns the new value
func (s *SQLiteStore) IncrementUsage(ctx context.Context, id int64) (int64, error) {
	var count int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE sessions SET usage_count = usage_count + 1, updated_at = ? WHERE id = ?`,
			s.now(), id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return notFound("session", id)
		}
		return tx.QueryRowContext(ctx, `SELECT usage_count FROM sessions WHERE id = ?`, id).Scan(&count)
	})
	if err != nil {
		return 0, storageErr("increment usage", err)
	}
	return count, nil
}

// UpdateSession applies an administrative patch. The usage counter can
// only be raised.
func (s *SQLiteStore) UpdateSession(ctx context.Context, id int64, patch models.SessionPatch) (*models.Session, error) {
	current, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.UsageCount != nil && *patch.UsageCount < current.UsageCount {
		return nil, errs.New(errs.ErrorTypeInvalidInput, "usage count cannot decrease")
	}
	if patch.Username != nil && strings.TrimSpace(*patch.Username) == "" {
		return nil, errs.New(errs.ErrorTypeInvalidInput, "username cannot be empty")
	}

	sets := []string{"updated_at = ?"}
	args := []interface{}{s.now()}
	if patch.Username != nil {
		sets = append(sets, "username = ?")
		args = append(args, *patch.Username)
	}
	if patch.UsageCount != nil {
		sets = append(sets, "usage_count = ?")
		args = append(args, *patch.UsageCount)
	}
	if patch.Settings != nil {
		sets = append(sets, "settings = ?")
		args = append(args, patch.Settings)
	}
	args = append(args, id)

	err = s.write(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `UPDATE sessions SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, errs.New(errs.ErrorTypeInvalidInput, "username already taken")
		}
		return nil, storageErr("update session", err)
	}

	if patch.Flags != nil {
		if err := s.UpdateSessionHealth(ctx, id, *patch.Flags); err != nil {
			return nil, err
		}
	}
	return s.GetSession(ctx, id)
}

// DeleteSession removes a session. Content records keep their items and
// lose the session reference.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id int64) error {
	return s.execOne(ctx, "delete session", "session", id, `DELETE FROM sessions WHERE id = ?`, id)
}

// ClearExpiredTempBlocks clears temporarily_blocked on sessions flagged
// before the cutoff and returns how many were cleared
func (s *SQLiteStore) ClearExpiredTempBlocks(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := s.write(ctx, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE sessions SET temporarily_blocked = 0, temp_blocked_at = NULL, updated_at = ?
			WHERE temporarily_blocked = 1 AND temp_blocked_at IS NOT NULL AND temp_blocked_at < ?`,
			s.now(), before.UTC())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, storageErr("clear expired temp blocks", err)
	}
	return n, nil
}

// execOne runs a single-row write and reports not found when nothing matched
func (s *SQLiteStore) execOne(ctx context.Context, op, what string, id interface{}, query string, args ...interface{}) error {
	err := s.write(ctx, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return notFound(what, id)
		}
		return nil
	})
	if err != nil {
		return storageErr(op, err)
	}
	return nil
}
