// Package database opens the connections behind the event journal.
//
// Two backends are supported:
//   - PostgreSQL through a pgx connection pool (production)
//   - SQLite through database/sql and the pure-Go modernc driver (single node, dev)
package database
