// Package storage is the persistence gateway of the collector.
//
// SQLiteStore keeps sessions and content records in a SQLite database
// (mattn/go-sqlite3). Session secrets pass through a vault.Sealer on the
// way in and out. Content items live in their own table keyed by
// (record, platform item id), which gives append-only merging with
// duplicate suppression for free: a page is committed with
// AppendContentPages in one transaction, together with the record's resume
// cursor.
//
// Writes retry on SQLITE_BUSY, which happens when the CLI and a running
// server share a database file.
//
// Usage:
//
//	store, err := storage.Open(cfg.Database.Path, cfg.Database.BusyTimeout, sealer)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
package storage
