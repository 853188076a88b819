package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"igcollector/pkg/models"
)

// AppendResult reports the effect of merging a page into a record
type AppendResult struct {
	RecordID int64
	Added    int
	Total    int
}

const recordColumns = `id, target, session_id, resume_cursor, item_count, fetched_at, created_at`

func scanRecord(row rowScanner) (*models.ContentRecord, error) {
	var (
		rec       models.ContentRecord
		key       string
		sessionID sql.NullInt64
		fetchedAt sql.NullTime
	)
	if err := row.Scan(&rec.ID, &key, &sessionID, &rec.ResumeCursor, &rec.ItemCount, &fetchedAt, &rec.CreatedAt); err != nil {
		return nil, err
	}
	target, err := models.ParseTarget(key)
	if err != nil {
		return nil, err
	}
	rec.Target = target
	if sessionID.Valid {
		id := sessionID.Int64
		rec.SessionID = &id
	}
	if fetchedAt.Valid {
		rec.FetchedAt = fetchedAt.Time
	}
	return &rec, nil
}

func nullableID(id *int64) interface{} {
	if id == nil {
		return nil
	}
	return *id
}

// FindContentRecord returns the record for target without its items, or nil
// if the target has never been fetched
func (s *SQLiteStore) FindContentRecord(ctx context.Context, target models.Target) (*models.ContentRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM content_records WHERE target = ?`, target.Key())
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("find content record", err)
	}
	return rec, nil
}

// CreateContentRecord returns the record for target, creating an empty one
// when none exists
func (s *SQLiteStore) CreateContentRecord(ctx context.Context, target models.Target, sessionID *int64) (*models.ContentRecord, error) {
	err := s.write(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO content_records (target, session_id, created_at)
			VALUES (?, ?, ?)
			ON CONFLICT(target) DO NOTHING`,
			target.Key(), nullableID(sessionID), s.now())
		return err
	})
	if err != nil {
		return nil, storageErr("create content record", err)
	}
	rec, err := s.FindContentRecord(ctx, target)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, notFound("content record", target.Key())
	}
	return rec, nil
}

// AppendContentPages merges items into the record for target in one
// transaction. Items whose id is already stored are skipped, positions of
// existing items never change, the resume cursor is replaced and the
// record is attributed to sessionID.
func (s *SQLiteStore) AppendContentPages(ctx context.Context, target models.Target, sessionID *int64, items []models.Item, cursor string) (AppendResult, error) {
	payloads := make([][]byte, len(items))
	for i, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return AppendResult{}, fmt.Errorf("encode item %s: %w", item.ID, err)
		}
		payloads[i] = data
	}

	var result AppendResult
	now := s.now()
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		result = AppendResult{}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO content_records (target, session_id, created_at)
			VALUES (?, ?, ?)
			ON CONFLICT(target) DO NOTHING`,
			target.Key(), nullableID(sessionID), now); err != nil {
			return err
		}

		var position int64
		if err := tx.QueryRowContext(ctx,
			`SELECT id, next_position FROM content_records WHERE target = ?`, target.Key(),
		).Scan(&result.RecordID, &position); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO content_items (record_id, item_id, position, payload)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(record_id, item_id) DO NOTHING`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, item := range items {
			res, err := stmt.ExecContext(ctx, result.RecordID, item.ID, position, payloads[i])
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n > 0 {
				result.Added++
				position++
			}
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE content_records SET
				session_id = COALESCE(?, session_id),
				resume_cursor = ?,
				item_count = item_count + ?,
				next_position = ?,
				fetched_at = ?
			WHERE id = ?`,
			nullableID(sessionID), cursor, result.Added, position, now, result.RecordID); err != nil {
			return err
		}

		return tx.QueryRowContext(ctx,
			`SELECT item_count FROM content_records WHERE id = ?`, result.RecordID,
		).Scan(&result.Total)
	})
	if err != nil {
		return AppendResult{}, storageErr("append content page", err)
	}
	return result, nil
}

// ListContentRecords returns a page of records ordered by most recent
// fetch, and the total number of records
func (s *SQLiteStore) ListContentRecords(ctx context.Context, offset, limit int) ([]models.ContentRecord, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM content_records`).Scan(&total); err != nil {
		return nil, 0, storageErr("count content records", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM content_records
		ORDER BY fetched_at IS NULL, fetched_at DESC, id DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, storageErr("list content records", err)
	}
	defer rows.Close()

	var records []models.ContentRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, storageErr("scan content record", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storageErr("list content records", err)
	}
	return records, total, nil
}

// GetContentItems returns a page of the items stored for target in
// collection order, and the total item count
func (s *SQLiteStore) GetContentItems(ctx context.Context, target models.Target, offset, limit int) ([]models.Item, int, error) {
	rec, err := s.FindContentRecord(ctx, target)
	if err != nil {
		return nil, 0, err
	}
	if rec == nil {
		return nil, 0, notFound("content record", target.Key())
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM content_items
		WHERE record_id = ?
		ORDER BY position ASC
		LIMIT ? OFFSET ?`, rec.ID, limit, offset)
	if err != nil {
		return nil, 0, storageErr("get content items", err)
	}
	defer rows.Close()

	items := make([]models.Item, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, 0, storageErr("scan content item", err)
		}
		var item models.Item
		if err := json.Unmarshal(payload, &item); err != nil {
			return nil, 0, storageErr("decode content item", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storageErr("get content items", err)
	}
	return items, rec.ItemCount, nil
}

// DeleteContentRecord removes a record and its items
func (s *SQLiteStore) DeleteContentRecord(ctx context.Context, id int64) error {
	return s.execOne(ctx, "delete content record", "content record", id,
		`DELETE FROM content_records WHERE id = ?`, id)
}
