// Package journal persists every committed marketplace event.
//
// The journal is append-only and keyed by event sequence number, so
// re-appending an event is a no-op. On startup the service is rebuilt by
// replaying Load into market.Service.Restore.
//
// Stores:
//   - PGStore: PostgreSQL via pgxpool, batched inserts with ON CONFLICT DO NOTHING
//   - SQLiteStore: SQLite via modernc.org/sqlite
//   - MemoryStore: process-local, for tests and storage.driver=memory
//
// Each row carries the event as deterministic CBOR in its payload column;
// the remaining columns are projections for ad hoc queries.
package journal
