package journal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/nft-marketplace/internal/model"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS market_events (
	seq        BIGINT PRIMARY KEY,
	event_id   UUID NOT NULL UNIQUE,
	kind       TEXT NOT NULL,
	asset_key  TEXT NOT NULL DEFAULT '',
	actor      TEXT NOT NULL DEFAULT '',
	at         BIGINT NOT NULL,
	payload    BYTEA NOT NULL
);
CREATE INDEX IF NOT EXISTS market_events_asset_key_idx ON market_events (asset_key) WHERE asset_key <> '';
`

// PGStore is a Store backed by PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore wraps an open pool. The store owns the pool once created.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Migrate creates the market_events table if it does not exist.
func (s *PGStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("migrate market_events: %w", err)
	}
	return nil
}

// Append inserts events using pgx.Batch with ON CONFLICT DO NOTHING.
func (s *PGStore) Append(ctx context.Context, events []model.Event) (conflicts int, err error) {
	if len(events) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, ev := range events {
		payload, err := encodeEvent(ev)
		if err != nil {
			return 0, err
		}
		batch.Queue(`
			INSERT INTO market_events (seq, event_id, kind, asset_key, actor, at, payload)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (seq) DO NOTHING
		`, int64(ev.Seq), ev.ID, string(ev.Kind), assetColumn(ev.Key), string(ev.Actor), ev.At, payload)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range events {
		ct, err := results.Exec()
		if err != nil {
			return 0, fmt.Errorf("insert market_events: %w", err)
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}

// Load reads the full journal ordered by seq.
func (s *PGStore) Load(ctx context.Context) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx, `SELECT payload FROM market_events ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query market_events: %w", err)
	}
	payloads, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("scan market_events: %w", err)
	}

	events := make([]model.Event, 0, len(payloads))
	for _, p := range payloads {
		ev, err := decodeEvent(p)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// Close closes the pool.
func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}

// assetColumn renders the asset_key column. Withdrawals carry no asset.
func assetColumn(key model.AssetKey) string {
	if key == (model.AssetKey{}) {
		return ""
	}
	return key.String()
}
