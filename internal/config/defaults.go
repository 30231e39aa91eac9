package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultServerAddr        = ":8080"
	DefaultReadTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultShutdownTimeout   = 15 * time.Second
	DefaultLogLevel          = "info"
	DefaultIssuer            = "marketd"
	DefaultAudience          = "marketplace"
	DefaultTokenTTL          = 24 * time.Hour
	DefaultStorageDriver     = StorageSQLite
	DefaultSQLitePath        = "market.db"
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 10
	DefaultMinConns          = 2
	DefaultBatchSize         = 100
	DefaultFlushInterval     = 1 * time.Second
	DefaultBufferSize        = 10000
	DefaultSettlementDriver  = SettlementLog
	DefaultSettlementTimeout = 30 * time.Second
	DefaultMaxRetries        = 3
	DefaultReconcileInterval = 5 * time.Minute
	DefaultReconcileWorkers  = 8
	DefaultCheckTimeout      = 5 * time.Second
	DefaultPingInterval      = 15 * time.Second
	DefaultFeedWriteTimeout  = 10 * time.Second
	DefaultFeedBufferSize    = 1024
	DefaultCurrencySymbol    = "ETH"
	DefaultCurrencyDecimals  = 18
)

// MaxCurrencyDecimals bounds currency.decimals.
const MaxCurrencyDecimals = 36

func (c *MarketConfig) applyDefaults() {
	// Server defaults
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}

	// Auth defaults
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = DefaultIssuer
	}
	if c.Auth.Audience == "" {
		c.Auth.Audience = DefaultAudience
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = DefaultTokenTTL
	}

	// Storage defaults
	if c.Storage.Driver == "" {
		c.Storage.Driver = DefaultStorageDriver
	}
	if c.Storage.SQLite.Path == "" {
		c.Storage.SQLite.Path = DefaultSQLitePath
	}
	applyDBDefaults(&c.Storage.Postgres)

	// Journal defaults
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultBufferSize
	}

	// Settlement defaults
	if c.Settlement.Driver == "" {
		c.Settlement.Driver = DefaultSettlementDriver
	}
	if c.Settlement.Timeout == 0 {
		c.Settlement.Timeout = DefaultSettlementTimeout
	}
	if c.Settlement.MaxRetries == 0 {
		c.Settlement.MaxRetries = DefaultMaxRetries
	}

	// Reconciler defaults
	if c.Reconciler.Interval == 0 {
		c.Reconciler.Interval = DefaultReconcileInterval
	}
	if c.Reconciler.Concurrency == 0 {
		c.Reconciler.Concurrency = DefaultReconcileWorkers
	}
	if c.Reconciler.CheckTimeout == 0 {
		c.Reconciler.CheckTimeout = DefaultCheckTimeout
	}

	// Feed defaults
	if c.Feed.PingInterval == 0 {
		c.Feed.PingInterval = DefaultPingInterval
	}
	if c.Feed.WriteTimeout == 0 {
		c.Feed.WriteTimeout = DefaultFeedWriteTimeout
	}
	if c.Feed.BufferSize == 0 {
		c.Feed.BufferSize = DefaultFeedBufferSize
	}

	// Currency defaults
	if c.Currency.Symbol == "" {
		c.Currency.Symbol = DefaultCurrencySymbol
	}
	if c.Currency.Decimals == 0 {
		c.Currency.Decimals = DefaultCurrencyDecimals
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
