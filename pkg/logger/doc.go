// Package logger provides the structured logging interface used across the
// collector.
//
// It wraps zerolog behind a small Logger interface so components can receive
// a logger through their constructors and tests can swap in a TestLogger or
// the no-op logger.
//
// Basic usage:
//
//	if err := logger.Initialize(&cfg.Logging); err != nil {
//	    return err
//	}
//	log := logger.GetLogger().WithField("component", "pool")
//	log.InfoWithFields("Lease acquired", map[string]interface{}{
//	    "session_id": lease.Session.ID,
//	})
//
// Domain helpers such as LogFailure and LogPageCommitted keep the field names
// of recurring events consistent so they can be queried from log storage.
package logger
