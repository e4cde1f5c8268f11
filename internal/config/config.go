package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/feral-file/ff-agent-market/internal/domain"
)

// EnvPrefix is the prefix of every environment variable read by the services
const EnvPrefix = "FF_AGENT_MARKET"

var validate = validator.New()

// BaseConfig holds base configuration
type BaseConfig struct {
	Debug     bool   `mapstructure:"debug"`
	SentryDSN string `mapstructure:"sentry_dsn"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host" validate:"required"`
	Port            int           `mapstructure:"port" validate:"gt=0"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname" validate:"required"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`     // Maximum number of open connections to the database
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`     // Maximum number of idle connections in the pool
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`  // e.g. "5m", "1h"
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"` // e.g. "10m", "30m"
}

// NATSConfig holds NATS JetStream configuration
type NATSConfig struct {
	URL             string        `mapstructure:"url" validate:"required"`
	StreamName      string        `mapstructure:"stream_name" validate:"required"`
	ConsumerName    string        `mapstructure:"consumer_name"`
	MaxReconnects   int           `mapstructure:"max_reconnects"`
	ReconnectWait   time.Duration `mapstructure:"reconnect_wait"`
	ConnectionName  string        `mapstructure:"connection_name"`
	AckWait         time.Duration `mapstructure:"ack_wait"`
	MaxDeliver      int           `mapstructure:"max_deliver"`
	DuplicateWindow time.Duration `mapstructure:"duplicate_window"`
}

// EthereumConfig holds the chain connection and the addresses of the contract pair
type EthereumConfig struct {
	WebSocketURL         string        `mapstructure:"websocket_url"`
	RPCURL               string        `mapstructure:"rpc_url"`
	ChainID              domain.Chain  `mapstructure:"chain_id" validate:"required,startswith=eip155:"`
	StartBlock           uint64        `mapstructure:"start_block"`
	LogStepSize          uint64        `mapstructure:"log_step_size"`
	BlockHeadTTL         time.Duration `mapstructure:"block_head_ttl"`
	BlockHeadStaleWindow time.Duration `mapstructure:"block_head_stale_window"`
	NFTAddress           string        `mapstructure:"nft_address" validate:"required,eth_addr"`
	MarketplaceAddress   string        `mapstructure:"marketplace_address" validate:"required,eth_addr"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port" validate:"gt=0,lte=65535"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // in seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // in seconds
	IdleTimeout  int    `mapstructure:"idle_timeout"`  // in seconds
}

// RedisConfig holds Redis connection configuration. An empty address disables Redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

// Enabled reports whether a Redis address is configured
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// RateLimitConfig holds the limits of a single upstream provider
type RateLimitConfig struct {
	RequestsPerSecond int           `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	MaxQueueTime      time.Duration `mapstructure:"max_queue_time"`
}

// RateLimiterConfig holds the configuration of the rate-limit proxy
type RateLimiterConfig struct {
	RedisAddr               string                     `mapstructure:"redis_addr"`
	RedisPassword           string                     `mapstructure:"redis_password"`
	RedisDB                 int                        `mapstructure:"redis_db"`
	RedisKeyPrefix          string                     `mapstructure:"redis_key_prefix"`
	MaxWorkers              int                        `mapstructure:"max_workers"`
	MaxQueueSize            int                        `mapstructure:"max_queue_size"`
	EnableLocalFallback     bool                       `mapstructure:"enable_local_fallback"`
	LocalFallbackMultiplier float64                    `mapstructure:"local_fallback_multiplier"`
	Providers               map[string]RateLimitConfig `mapstructure:"providers"`
}

// EmitterConfig holds the cursor persistence policy of the emitter
type EmitterConfig struct {
	CursorSaveFreq  uint64        `mapstructure:"cursor_save_freq"`
	CursorSaveDelay time.Duration `mapstructure:"cursor_save_delay"`
}

// ReorderConfig holds the reorder buffer tuning of the indexer
type ReorderConfig struct {
	Depth         uint64        `mapstructure:"depth"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// MetricsConfig holds the address of the metrics and health listener
type MetricsConfig struct {
	Address string `mapstructure:"address"`
}

// CORSConfig holds the CORS policy of the query API
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// APIRateLimitConfig holds the per-client limit of the query API
type APIRateLimitConfig struct {
	RequestsPerSecond int `mapstructure:"requests_per_second" validate:"gte=0"`
	Burst             int `mapstructure:"burst" validate:"gte=0"`
}

// QueryConfig holds the Query Client configuration
type QueryConfig struct {
	Endpoint   string        `mapstructure:"endpoint" validate:"required,url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	PageSize   int           `mapstructure:"page_size" validate:"gte=0,lte=1000"`
	MaxRetries uint64        `mapstructure:"max_retries"`
}

// MetadataConfig holds the agent metadata cache configuration
type MetadataConfig struct {
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	Workers   int           `mapstructure:"workers" validate:"gte=0"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	Redis     RedisConfig   `mapstructure:"redis"`
}

// MarketplaceEmitterConfig holds configuration for marketplace-event-emitter
type MarketplaceEmitterConfig struct {
	BaseConfig `mapstructure:",squash"`
	Database   DatabaseConfig `mapstructure:"database"`
	NATS       NATSConfig     `mapstructure:"nats"`
	Ethereum   EthereumConfig `mapstructure:"ethereum"`
	Emitter    EmitterConfig  `mapstructure:"emitter"`
}

// IndexerConfig holds configuration for the indexer
type IndexerConfig struct {
	BaseConfig `mapstructure:",squash"`
	Database   DatabaseConfig `mapstructure:"database"`
	NATS       NATSConfig     `mapstructure:"nats"`
	ChainID    domain.Chain   `mapstructure:"chain_id" validate:"omitempty,startswith=eip155:"`
	Reorder    ReorderConfig  `mapstructure:"reorder"`
	Metrics    MetricsConfig  `mapstructure:"metrics"`
}

// APIConfig holds configuration for API server
type APIConfig struct {
	BaseConfig `mapstructure:",squash"`
	Server     ServerConfig       `mapstructure:"server"`
	Database   DatabaseConfig     `mapstructure:"database"`
	Redis      RedisConfig        `mapstructure:"redis"`
	CORS       CORSConfig         `mapstructure:"cors"`
	RateLimit  APIRateLimitConfig `mapstructure:"rate_limit"`
}

// MarketplaceConfig holds configuration for the marketplace CLI
type MarketplaceConfig struct {
	BaseConfig     `mapstructure:",squash"`
	Ethereum       EthereumConfig    `mapstructure:"ethereum"`
	PrivateKey     string            `mapstructure:"private_key"`
	ReceiptTimeout time.Duration     `mapstructure:"receipt_timeout"`
	Query          QueryConfig       `mapstructure:"query"`
	Metadata       MetadataConfig    `mapstructure:"metadata"`
	RateLimiter    RateLimiterConfig `mapstructure:"rate_limiter"`
}

// LoadMarketplaceEmitterConfig loads configuration for marketplace-event-emitter
func LoadMarketplaceEmitterConfig(configFile string, envPath string) (*MarketplaceEmitterConfig, error) {
	v := configureViper("marketplace-event-emitter", configFile, envPath)

	// Set defaults
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.stream_name", "LEDGER_EVENTS")
	v.SetDefault("nats.connection_name", "marketplace-event-emitter")
	v.SetDefault("nats.duplicate_window", "24h")
	v.SetDefault("ethereum.chain_id", string(domain.ChainLocalDevnet))
	v.SetDefault("ethereum.log_step_size", 10000)
	v.SetDefault("ethereum.block_head_ttl", "12s")
	v.SetDefault("ethereum.block_head_stale_window", "60s")
	v.SetDefault("emitter.cursor_save_freq", 2)
	v.SetDefault("emitter.cursor_save_delay", "30s")

	var config MarketplaceEmitterConfig
	if err := load(v, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadIndexerConfig loads configuration for the indexer
func LoadIndexerConfig(configFile string, envPath string) (*IndexerConfig, error) {
	v := configureViper("indexer", configFile, envPath)

	// Set defaults
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.stream_name", "LEDGER_EVENTS")
	v.SetDefault("nats.consumer_name", "indexer")
	v.SetDefault("nats.connection_name", "indexer")
	v.SetDefault("nats.ack_wait", "30s")
	v.SetDefault("nats.max_deliver", 5)
	v.SetDefault("reorder.depth", 0)
	v.SetDefault("reorder.flush_interval", "2s")
	v.SetDefault("metrics.address", ":9090")

	var config IndexerConfig
	if err := load(v, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadAPIConfig loads configuration for API server
func LoadAPIConfig(configFile string, envPath string) (*APIConfig, error) {
	v := configureViper("api", configFile, envPath)

	// Set defaults
	v.SetDefault("debug", false)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("server.idle_timeout", 120)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("rate_limit.requests_per_second", 0)

	var config APIConfig
	if err := load(v, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadMarketplaceConfig loads configuration for the marketplace CLI
func LoadMarketplaceConfig(configFile string, envPath string) (*MarketplaceConfig, error) {
	v := configureViper("marketplace", configFile, envPath)

	// Set defaults
	v.SetDefault("ethereum.rpc_url", "http://localhost:8545")
	v.SetDefault("ethereum.chain_id", string(domain.ChainLocalDevnet))
	v.SetDefault("receipt_timeout", "2m")
	v.SetDefault("query.endpoint", "http://localhost:8000/subgraphs/name/scaffold-eth/your-contract")
	v.SetDefault("query.timeout", "15s")
	v.SetDefault("query.page_size", 1000)
	v.SetDefault("query.max_retries", 3)
	v.SetDefault("metadata.cache_ttl", "10m")
	v.SetDefault("metadata.workers", 8)
	v.SetDefault("metadata.key_prefix", "ff:agent-market:agent:")
	v.SetDefault("rate_limiter.enable_local_fallback", true)
	v.SetDefault("rate_limiter.max_workers", 16)
	v.SetDefault("rate_limiter.max_queue_size", 1000)
	v.SetDefault("rate_limiter.local_fallback_multiplier", 1.0)
	v.SetDefault("rate_limiter.providers.rpc.requests_per_second", 20)
	v.SetDefault("rate_limiter.providers.rpc.burst", 40)
	v.SetDefault("rate_limiter.providers.rpc.max_queue_time", "30s")

	var config MarketplaceConfig
	if err := load(v, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// load reads the config file when present, then unmarshals and validates the result
func load(v *viper.Viper, out interface{}) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found, use environment variables
	}

	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	return nil
}

// configureViper returns a viper instance with the config file and environment variables set
func configureViper(service string, configFile string, envPath string) *viper.Viper {
	v := viper.New()

	// Load environment variables
	loadEnv(envPath, service)

	// Set config file
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		// Search for config.yaml in multiple locations:
		// 1. Current directory
		v.AddConfigPath(".")
		// 2. Service-specific directory (e.g., cmd/indexer/, cmd/api/)
		v.AddConfigPath(fmt.Sprintf("cmd/%s/", service))
		// 3. Config directory
		v.AddConfigPath("config/")
	}

	// Set environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind all environment variables
	bindAllEnvVars(v)
	return v
}

// bindAllEnvVars explicitly binds all possible environment variables
// This is required for viper to map env vars to config struct fields when no config file exists
func bindAllEnvVars(v *viper.Viper) {
	commonKeys := []string{
		"debug",
		"sentry_dsn",
		// Database
		"database.host",
		"database.port",
		"database.user",
		"database.password",
		"database.dbname",
		"database.sslmode",
		"database.max_open_conns",
		"database.max_idle_conns",
		"database.conn_max_lifetime",
		"database.conn_max_idle_time",
		// NATS
		"nats.url",
		"nats.stream_name",
		"nats.consumer_name",
		"nats.max_reconnects",
		"nats.reconnect_wait",
		"nats.connection_name",
		"nats.ack_wait",
		"nats.max_deliver",
		"nats.duplicate_window",
		// Ethereum
		"ethereum.websocket_url",
		"ethereum.rpc_url",
		"ethereum.chain_id",
		"ethereum.start_block",
		"ethereum.log_step_size",
		"ethereum.block_head_ttl",
		"ethereum.block_head_stale_window",
		"ethereum.nft_address",
		"ethereum.marketplace_address",
		// Emitter
		"emitter.cursor_save_freq",
		"emitter.cursor_save_delay",
		// Indexer
		"chain_id",
		"reorder.depth",
		"reorder.flush_interval",
		"metrics.address",
		// Server
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",
		"server.idle_timeout",
		// Redis
		"redis.addr",
		"redis.password",
		"redis.db",
		"cors.allowed_origins",
		"rate_limit.requests_per_second",
		"rate_limit.burst",
		// Marketplace client
		"private_key",
		"receipt_timeout",
		"query.endpoint",
		"query.timeout",
		"query.page_size",
		"query.max_retries",
		"metadata.cache_ttl",
		"metadata.workers",
		"metadata.key_prefix",
		"metadata.redis.addr",
		"metadata.redis.password",
		"metadata.redis.db",
		"rate_limiter.redis_addr",
		"rate_limiter.redis_password",
		"rate_limiter.redis_db",
		"rate_limiter.redis_key_prefix",
		"rate_limiter.max_workers",
		"rate_limiter.max_queue_size",
		"rate_limiter.enable_local_fallback",
		"rate_limiter.local_fallback_multiplier",
	}

	for _, key := range commonKeys {
		_ = v.BindEnv(key)
	}
}

// loadEnv loads environment variables from the config directory
func loadEnv(envPath string, service string) {
	// Always try shared base first, then local, then optional per-service local.
	envFiles := []string{".env", ".env.local"}
	if service != "" {
		envFiles = append(envFiles, ".env."+service+".local")
	}

	// Default to config directory
	if envPath == "" {
		envPath = "config/"
	}

	for _, envFile := range envFiles {
		candidate := filepath.Join(envPath, envFile)
		_ = godotenv.Overload(candidate) // Overload lets later files override earlier ones
	}
}

// ChdirRepoRoot changes the current working directory to the repository root
func ChdirRepoRoot() {
	cwd, _ := os.Getwd()
	for range 5 {
		if _, err := os.Stat(filepath.Join(cwd, "config")); err == nil {
			_ = os.Chdir(cwd)
			return
		}
		cwd = filepath.Dir(cwd)
	}
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
