// Package config resolves server settings from flags, environment variables
// and an optional .env file, in that order of precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "DAOCHESS_"

const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
)

type Config struct {
	APIHost        string
	APIPort        int
	Dev            bool
	Storage        string
	StoragePath    string
	RedisURL       string
	RPCURL         string
	DevWeight      string
	RequestTimeout time.Duration
	PIDPath        string
	PIDLock        bool
}

// Load parses args, taking flag defaults from the environment.
// A missing .env file is not an error.
func Load(args []string, envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	cfg := &Config{}
	fs := flag.NewFlagSet("daochess-server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.APIHost, "api-host", envString("API_HOST", "localhost"), "API server host")
	fs.IntVar(&cfg.APIPort, "api-port", envInt("API_PORT", 8080), "API server port")
	fs.BoolVar(&cfg.Dev, "dev", envBool("DEV", false), "Development mode (relaxed rate limits, debug logs, static voting power without -rpc-url)")
	fs.StringVar(&cfg.Storage, "storage", envString("STORAGE", StorageMemory), "Game store backend: memory, sqlite or redis")
	fs.StringVar(&cfg.StoragePath, "storage-path", envString("STORAGE_PATH", ""), "Path to SQLite database file (sqlite backend)")
	fs.StringVar(&cfg.RedisURL, "redis-url", envString("REDIS_URL", ""), "Redis URL, redis://host:port/db (redis backend)")
	fs.StringVar(&cfg.RPCURL, "rpc-url", envString("RPC_URL", ""), "Ethereum JSON-RPC endpoint for balances and block height")
	fs.StringVar(&cfg.DevWeight, "dev-weight", envString("DEV_WEIGHT", "1"), "Voting power granted to every address in dev mode without -rpc-url")
	fs.DurationVar(&cfg.RequestTimeout, "request-timeout", envDuration("REQUEST_TIMEOUT", 10*time.Second), "Per-request store and oracle timeout")
	fs.StringVar(&cfg.PIDPath, "pid", envString("PID", ""), "Optional path to write PID file")
	fs.BoolVar(&cfg.PIDLock, "pid-lock", envBool("PID_LOCK", false), "Lock PID file to allow only one instance (requires -pid)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage {
	case StorageMemory:
	case StorageSQLite:
		if c.StoragePath == "" {
			return fmt.Errorf("-storage-path required for sqlite storage")
		}
	case StorageRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("-redis-url required for redis storage")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage)
	}

	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("invalid api port %d", c.APIPort)
	}
	if c.RPCURL == "" && !c.Dev {
		return fmt.Errorf("-rpc-url required outside dev mode")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if c.PIDLock && c.PIDPath == "" {
		return fmt.Errorf("-pid-lock flag requires the -pid flag to be set")
	}
	return nil
}

// Addr returns the API listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.APIHost, c.APIPort)
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(envPrefix + key)); err == nil {
		return n
	}
	return def
}

func envBool(key string, def bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(envPrefix + key)); err == nil {
		return b
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(envPrefix + key)); err == nil {
		return d
	}
	return def
}
