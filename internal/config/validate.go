package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *MarketConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}

	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes, got %d", len(c.Auth.JWTSecret))
	}

	switch c.Storage.Driver {
	case StoragePostgres:
		if err := c.Storage.Postgres.validate("storage.postgres"); err != nil {
			return err
		}
	case StorageSQLite:
		if c.Storage.SQLite.Path == "" {
			return errors.New("storage.sqlite.path is required")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("storage.driver must be one of postgres, sqlite, memory, got %q", c.Storage.Driver)
	}

	if c.Journal.BatchSize < 1 {
		return errors.New("journal.batch_size must be >= 1")
	}
	if c.Journal.BufferSize < 1 {
		return errors.New("journal.buffer_size must be >= 1")
	}

	switch c.Settlement.Driver {
	case SettlementLog:
	case SettlementHTTP:
		if c.Settlement.URL == "" {
			return errors.New("settlement.url is required")
		}
		if c.Settlement.KeyID != "" && c.Settlement.PrivateKeyPath == "" {
			return errors.New("settlement.private_key_path is required when settlement.key_id is set")
		}
	default:
		return fmt.Errorf("settlement.driver must be one of log, http, got %q", c.Settlement.Driver)
	}
	if c.Settlement.MaxRetries < 0 {
		return errors.New("settlement.max_retries must be >= 0")
	}

	if c.Reconciler.Concurrency < 1 {
		return errors.New("reconciler.concurrency must be >= 1")
	}

	if c.Feed.BufferSize < 1 {
		return errors.New("feed.buffer_size must be >= 1")
	}

	if c.Currency.Decimals < 0 || c.Currency.Decimals > MaxCurrencyDecimals {
		return fmt.Errorf("currency.decimals must be between 0 and %d, got %d", MaxCurrencyDecimals, c.Currency.Decimals)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
