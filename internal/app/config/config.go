package config

import (
	"errors"
	"fmt"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"io/fs"
	"os"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Rates     RatesConfig
	Ledger    LedgerConfig
	RateLimit RateLimitConfig
	Redis     RedisConfig
	NATS      NATSConfig
	Syncer    SyncerConfig

	SecretKey  string `env:"JWT_SECRET,required"`
	LogVerbose bool   `env:"APP_VERBOSE,default=0"`
	LogPretty  bool   `env:"APP_PRETTY,default=0"`
}

type ServerConfig struct {
	Listen       string        `env:"RUN_ADDRESS,default=localhost:8088"`
	TimeoutRead  time.Duration `env:"SERVER_TIMEOUT_READ,default=5s"`
	TimeoutWrite time.Duration `env:"SERVER_TIMEOUT_WRITE,default=10s"`
	TimeoutIdle  time.Duration `env:"SERVER_TIMEOUT_IDLE,default=1m"`
}

// DatabaseConfig with an empty DSN selects the in-memory store.
type DatabaseConfig struct {
	DSN string `env:"DATABASE_URI,default="`
}

type RatesConfig struct {
	FiatURL   string        `env:"RATES_FIAT_URL,default=https://open.er-api.com"`
	CryptoURL string        `env:"RATES_CRYPTO_URL,default=https://api.coingecko.com"`
	APIKey    string        `env:"RATES_API_KEY,default="`
	CacheTTL  time.Duration `env:"RATES_CACHE_TTL,default=5m"`
	Timeout   time.Duration `env:"RATES_TIMEOUT,default=5s"`
}

type LedgerConfig struct {
	Endpoints string        `env:"WALLET_RPC_ENDPOINTS,default=http://localhost:8545"`
	Timeout   time.Duration `env:"WALLET_RPC_TIMEOUT,default=10s"`
}

// EndpointList of the comma separated RPC endpoints.
func (c LedgerConfig) EndpointList() []string {
	var out []string
	for _, e := range strings.Split(c.Endpoints, ",") {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}

type RateLimitConfig struct {
	Window      time.Duration `env:"RATE_LIMIT_WINDOW,default=15m"`
	MaxRequests int           `env:"RATE_LIMIT_MAX,default=100"`
}

// RedisConfig with an empty address selects the in-memory limiter.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR,default="`
	Password string `env:"REDIS_PASSWORD,default="`
	DB       int    `env:"REDIS_DB,default=0"`
}

// NATSConfig with an empty URL disables event publishing.
type NATSConfig struct {
	URL     string `env:"NATS_URL,default="`
	Subject string `env:"NATS_SUBJECT_PREFIX,default=metalink"`
}

type SyncerConfig struct {
	Workers      int           `env:"SYNCER_WORKERS,default=4"`
	PollInterval time.Duration `env:"SYNCER_POLL_INTERVAL,default=5s"`
	MaxAttempts  int           `env:"SYNCER_MAX_ATTEMPTS,default=60"`
}

// New config constructor
func New() Config {
	return Config{}
}

// Load config from environment and from .env file (if exists) and from flags
func (cfg *Config) Load() error {
	return cfg.LoadArgs(os.Args[1:])
}

// LoadArgs is Load with explicit command line arguments.
func (cfg *Config) LoadArgs(args []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf(".env load: %w", err)
	}

	if err := envdecode.StrictDecode(cfg); err != nil {
		return fmt.Errorf("env decode: %w", err)
	}

	flags := pflag.NewFlagSet("metalink", pflag.ContinueOnError)
	flags.StringVarP(&cfg.Server.Listen, "listen-addr", "a", cfg.Server.Listen, "Server address to listen on")
	flags.StringVarP(&cfg.Database.DSN, "database-uri", "d", cfg.Database.DSN, "Database URI, in-memory store when empty")
	flags.StringVarP(&cfg.Ledger.Endpoints, "wallet-rpc", "w", cfg.Ledger.Endpoints, "Comma separated wallet RPC endpoints")
	flags.StringVarP(&cfg.Redis.Addr, "redis-addr", "r", cfg.Redis.Addr, "Redis address for rate limiting")
	flags.StringVarP(&cfg.NATS.URL, "nats-url", "n", cfg.NATS.URL, "NATS URL for transaction events")
	flags.BoolVarP(&cfg.LogVerbose, "verbose", "v", cfg.LogVerbose, "Verbose output")
	flags.BoolVarP(&cfg.LogPretty, "pretty", "p", cfg.LogPretty, "Pretty output")
	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("flags: %w", err)
	}

	return cfg.Validate()
}

// Validate settings envdecode cannot check.
func (cfg *Config) Validate() error {
	switch {
	case cfg.SecretKey == "":
		return errors.New("JWT_SECRET is empty")
	case len(cfg.Ledger.EndpointList()) == 0:
		return errors.New("no wallet RPC endpoint configured")
	case cfg.RateLimit.MaxRequests < 1:
		return errors.New("RATE_LIMIT_MAX must be positive")
	case cfg.RateLimit.Window <= 0:
		return errors.New("RATE_LIMIT_WINDOW must be positive")
	}
	return nil
}
