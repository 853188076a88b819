package storage

import (
	"context"
	"time"

	"igcollector/pkg/models"
)

// Store is the persistence gateway for sessions and collected content.
// Every method is atomic for the single record it touches; no
// cross-record transaction is exposed.
type Store interface {
	SessionStore
	ContentStore

	ListSessions(ctx context.Context) ([]models.Session, error)
	UpdateSession(ctx context.Context, id int64, patch models.SessionPatch) (*models.Session, error)
	DeleteSession(ctx context.Context, id int64) error
	ListContentRecords(ctx context.Context, offset, limit int) ([]models.ContentRecord, int, error)
	GetContentItems(ctx context.Context, target models.Target, offset, limit int) ([]models.Item, int, error)
	DeleteContentRecord(ctx context.Context, id int64) error
	Close() error
}

// SessionStore is the part of the gateway the session pool and the login
// orchestrator depend on
type SessionStore interface {
	CreateSession(ctx context.Context, sess *models.Session) error
	GetSession(ctx context.Context, id int64) (*models.Session, error)
	FindSessionByUsername(ctx context.Context, username string) (*models.Session, error)
	ListEligibleSessions(ctx context.Context) ([]models.Session, error)
	UpdateSessionHealth(ctx context.Context, id int64, flags models.HealthFlags) error
	AddSessionFlags(ctx context.Context, id int64, flags models.HealthFlags) (models.HealthFlags, error)
	UpdateSessionSettings(ctx context.Context, id int64, settings []byte) error
	UpdateSessionCredentials(ctx context.Context, id int64, secret string, settings []byte) error
	IncrementUsage(ctx context.Context, id int64) (int64, error)
	ClearExpiredTempBlocks(ctx context.Context, before time.Time) (int64, error)
}

// ContentStore is the part of the gateway the fetch aggregator depends on
type ContentStore interface {
	FindContentRecord(ctx context.Context, target models.Target) (*models.ContentRecord, error)
	CreateContentRecord(ctx context.Context, target models.Target, sessionID *int64) (*models.ContentRecord, error)
	AppendContentPages(ctx context.Context, target models.Target, sessionID *int64, items []models.Item, cursor string) (AppendResult, error)
}

// ContentStoreReader pages through stored items
type ContentStoreReader interface {
	GetContentItems(ctx context.Context, target models.Target, offset, limit int) ([]models.Item, int, error)
}

var _ Store = (*SQLiteStore)(nil)
