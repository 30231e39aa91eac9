package config

import "time"

// Storage drivers.
const (
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
	StorageMemory   = "memory"
)

// Settlement drivers.
const (
	SettlementLog  = "log"
	SettlementHTTP = "http"
)

// MarketConfig is the root configuration for a marketd instance.
type MarketConfig struct {
	Instance   InstanceConfig   `yaml:"instance"`
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Auth       AuthConfig       `yaml:"auth"`
	Storage    StorageConfig    `yaml:"storage"`
	Journal    JournalConfig    `yaml:"journal"`
	Settlement SettlementConfig `yaml:"settlement"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Feed       FeedConfig       `yaml:"feed"`
	Currency   CurrencyConfig   `yaml:"currency"`
	Custody    CustodyConfig    `yaml:"custody"`
}

// InstanceConfig identifies this marketd.
type InstanceConfig struct {
	ID string `yaml:"id" env:"MARKET_INSTANCE_ID"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"MARKET_SERVER_ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"MARKET_SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"MARKET_SERVER_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"MARKET_SERVER_SHUTDOWN_TIMEOUT"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level" env:"MARKET_LOG_LEVEL"` // debug, info, warn, error
}

// AuthConfig holds bearer token validation settings.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" env:"MARKET_AUTH_JWT_SECRET"`
	Issuer    string        `yaml:"issuer" env:"MARKET_AUTH_ISSUER"`
	Audience  string        `yaml:"audience" env:"MARKET_AUTH_AUDIENCE"`
	TokenTTL  time.Duration `yaml:"token_ttl" env:"MARKET_AUTH_TOKEN_TTL"`
}

// StorageConfig selects and configures the journal store.
type StorageConfig struct {
	Driver   string       `yaml:"driver" env:"MARKET_STORAGE_DRIVER"` // postgres, sqlite, memory
	Postgres DBConfig     `yaml:"postgres"`
	SQLite   SQLiteConfig `yaml:"sqlite"`
}

// DBConfig holds a single PostgreSQL connection.
type DBConfig struct {
	Host     string `yaml:"host" env:"MARKET_DB_HOST"`
	Port     int    `yaml:"port" env:"MARKET_DB_PORT"`
	Name     string `yaml:"name" env:"MARKET_DB_NAME"`
	User     string `yaml:"user" env:"MARKET_DB_USER"`
	Password string `yaml:"password" env:"MARKET_DB_PASSWORD"`
	SSLMode  string `yaml:"ssl_mode" env:"MARKET_DB_SSL_MODE"`
	MaxConns int    `yaml:"max_conns" env:"MARKET_DB_MAX_CONNS"`
	MinConns int    `yaml:"min_conns" env:"MARKET_DB_MIN_CONNS"`
}

// SQLiteConfig holds the SQLite database location.
type SQLiteConfig struct {
	Path string `yaml:"path" env:"MARKET_SQLITE_PATH"`
}

// JournalConfig holds journal writer settings.
type JournalConfig struct {
	BatchSize     int           `yaml:"batch_size" env:"MARKET_JOURNAL_BATCH_SIZE"`
	FlushInterval time.Duration `yaml:"flush_interval" env:"MARKET_JOURNAL_FLUSH_INTERVAL"`
	BufferSize    int           `yaml:"buffer_size" env:"MARKET_JOURNAL_BUFFER_SIZE"` // Pending events before a backlog warning
}

// SettlementConfig selects and configures the payout driver.
type SettlementConfig struct {
	Driver         string        `yaml:"driver" env:"MARKET_SETTLEMENT_DRIVER"` // log, http
	URL            string        `yaml:"url" env:"MARKET_SETTLEMENT_URL"`
	KeyID          string        `yaml:"key_id" env:"MARKET_SETTLEMENT_KEY_ID"`                     // MARKET-ACCESS-KEY header
	PrivateKeyPath string        `yaml:"private_key_path" env:"MARKET_SETTLEMENT_PRIVATE_KEY_PATH"` // RSA private key PEM file
	Timeout        time.Duration `yaml:"timeout" env:"MARKET_SETTLEMENT_TIMEOUT"`
	MaxRetries     int           `yaml:"max_retries" env:"MARKET_SETTLEMENT_MAX_RETRIES"`
}

// ReconcilerConfig holds stale listing sweep settings.
type ReconcilerConfig struct {
	Interval     time.Duration `yaml:"interval" env:"MARKET_RECONCILER_INTERVAL"`
	Concurrency  int           `yaml:"concurrency" env:"MARKET_RECONCILER_CONCURRENCY"`
	CheckTimeout time.Duration `yaml:"check_timeout" env:"MARKET_RECONCILER_CHECK_TIMEOUT"`
}

// FeedConfig holds websocket event feed settings.
type FeedConfig struct {
	PingInterval time.Duration `yaml:"ping_interval" env:"MARKET_FEED_PING_INTERVAL"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"MARKET_FEED_WRITE_TIMEOUT"`
	BufferSize   int           `yaml:"buffer_size" env:"MARKET_FEED_BUFFER_SIZE"`
}

// CurrencyConfig describes how integer prices are displayed.
type CurrencyConfig struct {
	Symbol   string `yaml:"symbol" env:"MARKET_CURRENCY_SYMBOL"`
	Decimals int32  `yaml:"decimals" env:"MARKET_CURRENCY_DECIMALS"`
}

// CustodyConfig holds settings for the built-in asset registry.
type CustodyConfig struct {
	DevEndpoints bool `yaml:"dev_endpoints" env:"MARKET_CUSTODY_DEV_ENDPOINTS"`
}
