package journal

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rickgao/nft-marketplace/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS market_events (
	seq        INTEGER PRIMARY KEY,
	event_id   TEXT NOT NULL UNIQUE,
	kind       TEXT NOT NULL,
	asset_key  TEXT NOT NULL DEFAULT '',
	actor      TEXT NOT NULL DEFAULT '',
	at         INTEGER NOT NULL,
	payload    BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS market_events_asset_key_idx ON market_events (asset_key);
`

// SQLiteStore is a Store backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an open database. The store owns db once created.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Migrate creates the market_events table if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("migrate market_events: %w", err)
	}
	return nil
}

// Append inserts events in a single transaction, skipping stored sequence
// numbers.
func (s *SQLiteStore) Append(ctx context.Context, events []model.Event) (conflicts int, err error) {
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO market_events (seq, event_id, kind, asset_key, actor, at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (seq) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		payload, err := encodeEvent(ev)
		if err != nil {
			return 0, err
		}
		res, err := stmt.ExecContext(ctx, int64(ev.Seq), ev.ID.String(), string(ev.Kind), assetColumn(ev.Key), string(ev.Actor), ev.At, payload)
		if err != nil {
			return 0, fmt.Errorf("insert market_events: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			conflicts++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return conflicts, nil
}

// Load reads the full journal ordered by seq.
func (s *SQLiteStore) Load(ctx context.Context) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM market_events ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query market_events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan market_events: %w", err)
		}
		ev, err := decodeEvent(payload)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate market_events: %w", err)
	}
	return events, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
