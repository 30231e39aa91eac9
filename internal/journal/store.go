package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/rickgao/nft-marketplace/internal/config"
	"github.com/rickgao/nft-marketplace/internal/database"
	"github.com/rickgao/nft-marketplace/internal/model"
)

// ErrClosed is returned by a store after Close.
var ErrClosed = errors.New("journal closed")

// Store is an append-only event log keyed by Event.Seq.
type Store interface {
	// Append writes events. Events whose Seq is already stored are skipped
	// and counted as conflicts.
	Append(ctx context.Context, events []model.Event) (conflicts int, err error)

	// Load returns every stored event ordered by Seq.
	Load(ctx context.Context) ([]model.Event, error)

	Close() error
}

// Open connects the store selected by cfg.Driver and creates its schema.
func Open(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Driver {
	case config.StoragePostgres:
		pool, err := database.Connect(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		store := NewPGStore(pool)
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
		logger.Info("journal opened", "driver", cfg.Driver, "host", cfg.Postgres.Host, "db", cfg.Postgres.Name)
		return store, nil

	case config.StorageSQLite:
		db, err := database.OpenSQLite(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		store := NewSQLiteStore(db)
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
		logger.Info("journal opened", "driver", cfg.Driver, "path", cfg.SQLite.Path)
		return store, nil

	case config.StorageMemory:
		logger.Warn("journal is in memory; events will not survive a restart")
		return NewMemoryStore(), nil
	}

	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

// MemoryStore keeps events in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	events map[uint64]model.Event
	closed bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[uint64]model.Event)}
}

// Append stores events, skipping sequence numbers already present.
func (s *MemoryStore) Append(ctx context.Context, events []model.Event) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	conflicts := 0
	for _, ev := range events {
		if _, ok := s.events[ev.Seq]; ok {
			conflicts++
			continue
		}
		s.events[ev.Seq] = ev
	}
	return conflicts, nil
}

// Load returns all events ordered by Seq.
func (s *MemoryStore) Load(ctx context.Context) ([]model.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	out := make([]model.Event, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// Len returns the number of stored events.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
