// Copyright 2025 Silica Protocol
//
// Configuration for the Silica API service.
// Loaded from a YAML file (SILICA_API_CONFIG, default config/api.yaml) with
// environment variable overrides for deployment secrets.

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the Silica API service
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Chain        ChainConfig        `yaml:"chain"`
	Indexer      IndexerConfig      `yaml:"indexer"`
	Cache        CacheConfig        `yaml:"cache"`
	Faucet       FaucetConfig       `yaml:"faucet"`
	RateLimiting RateLimitingConfig `yaml:"rate_limiting"`
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Address returns the listen address in host:port form
func (s *ServerConfig) Address() string {
	host := s.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("%s:%d", host, s.Port)
}

// DatabaseConfig configures the PostgreSQL connection pool
type DatabaseConfig struct {
	URL            string `yaml:"url"`
	MaxConnections int    `yaml:"max_connections"`
	MinConnections int    `yaml:"min_connections"`
}

// ChainConfig configures the node RPC endpoint
type ChainConfig struct {
	RPCURL           string `yaml:"rpc_url"`
	RequestTimeoutMs int64  `yaml:"request_timeout_ms"`
}

// RequestTimeout returns the per-RPC timeout
func (c *ChainConfig) RequestTimeout() time.Duration {
	millis := c.RequestTimeoutMs
	if millis == 0 {
		millis = 3000
	}
	return time.Duration(millis) * time.Millisecond
}

// IndexerConfig configures the chain ingestion loop
type IndexerConfig struct {
	PollIntervalMs    int64 `yaml:"poll_interval_ms"`
	BatchSize         int64 `yaml:"batch_size"`
	IdentityBatchSize int64 `yaml:"identity_batch_size"`
}

// PollInterval returns the tick period of the ingestion loop
func (c *IndexerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// CacheConfig configures the bounded TTL caches
type CacheConfig struct {
	IdentitiesMaxCapacity   int   `yaml:"identities_max_capacity"`
	IdentitiesTTLSeconds    int64 `yaml:"identities_ttl_seconds"`
	LeaderboardsMaxCapacity int   `yaml:"leaderboards_max_capacity"`
	LeaderboardsTTLSeconds  int64 `yaml:"leaderboards_ttl_seconds"`
	ProposalsMaxCapacity    int   `yaml:"proposals_max_capacity"`
	ProposalsTTLSeconds     int64 `yaml:"proposals_ttl_seconds"`
}

// FaucetConfig configures testnet token distribution
type FaucetConfig struct {
	Enabled bool `yaml:"enabled"`
}

// RateLimitingConfig configures the request-layer rate limits
type RateLimitingConfig struct {
	AnonymousRPM     int `yaml:"anonymous_rpm"`
	AuthenticatedRPM int `yaml:"authenticated_rpm"`
}

// Load reads configuration from the YAML file named by SILICA_API_CONFIG
// (default config/api.yaml) and applies environment overrides.
//
// Environment overrides:
//   - SILICA_DATABASE_URL overrides database.url
//   - SILICA_CHAIN_RPC_URL overrides chain.rpc_url
//   - SILICA_SERVER_PORT overrides server.port
func Load() (*Config, error) {
	path := os.Getenv("SILICA_API_CONFIG")
	if path == "" {
		path = "config/api.yaml"
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{Host: "127.0.0.1", Port: 8080},
		Database: DatabaseConfig{
			MaxConnections: 16,
			MinConnections: 2,
		},
		Chain: ChainConfig{RequestTimeoutMs: 3000},
		Indexer: IndexerConfig{
			PollIntervalMs:    1000,
			BatchSize:         64,
			IdentityBatchSize: 128,
		},
		Cache: CacheConfig{
			IdentitiesMaxCapacity:   1024,
			IdentitiesTTLSeconds:    300,
			LeaderboardsMaxCapacity: 64,
			LeaderboardsTTLSeconds:  60,
			ProposalsMaxCapacity:    256,
			ProposalsTTLSeconds:     60,
		},
		RateLimiting: RateLimitingConfig{
			AnonymousRPM:     60,
			AuthenticatedRPM: 600,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SILICA_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("SILICA_CHAIN_RPC_URL"); v != "" {
		cfg.Chain.RPCURL = v
	}
	if v := os.Getenv("SILICA_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
}

// Validate checks that all configuration values are within their
// documented bounds. It must be called before the config is used.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port >= 65535 {
		return fmt.Errorf("server.port must be in (0, 65535), got %d", c.Server.Port)
	}

	if c.Database.URL == "" {
		return fmt.Errorf("database.url must be specified")
	}
	if c.Database.MaxConnections <= 0 || c.Database.MaxConnections > 128 {
		return fmt.Errorf("database.max_connections must be in [1, 128], got %d", c.Database.MaxConnections)
	}
	if c.Database.MinConnections < 0 || c.Database.MinConnections > c.Database.MaxConnections {
		return fmt.Errorf("database.min_connections must be in [0, max_connections], got %d", c.Database.MinConnections)
	}

	if c.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url must be specified")
	}
	if c.Chain.RequestTimeoutMs < 100 || c.Chain.RequestTimeoutMs > 60000 {
		return fmt.Errorf("chain.request_timeout_ms must be in [100, 60000], got %d", c.Chain.RequestTimeoutMs)
	}

	if c.Indexer.PollIntervalMs < 100 || c.Indexer.PollIntervalMs > 60000 {
		return fmt.Errorf("indexer.poll_interval_ms must be in [100, 60000], got %d", c.Indexer.PollIntervalMs)
	}
	if c.Indexer.BatchSize <= 0 || c.Indexer.BatchSize > 512 {
		return fmt.Errorf("indexer.batch_size must be in [1, 512], got %d", c.Indexer.BatchSize)
	}
	if c.Indexer.IdentityBatchSize <= 0 || c.Indexer.IdentityBatchSize > 1024 {
		return fmt.Errorf("indexer.identity_batch_size must be in [1, 1024], got %d", c.Indexer.IdentityBatchSize)
	}

	if c.Cache.IdentitiesMaxCapacity < 100 {
		return fmt.Errorf("cache.identities_max_capacity must be at least 100, got %d", c.Cache.IdentitiesMaxCapacity)
	}
	if c.Cache.IdentitiesTTLSeconds <= 0 || c.Cache.IdentitiesTTLSeconds > 86400 {
		return fmt.Errorf("cache.identities_ttl_seconds must be in [1, 86400], got %d", c.Cache.IdentitiesTTLSeconds)
	}
	if c.Cache.LeaderboardsMaxCapacity < 10 {
		return fmt.Errorf("cache.leaderboards_max_capacity must be at least 10, got %d", c.Cache.LeaderboardsMaxCapacity)
	}
	if c.Cache.ProposalsMaxCapacity <= 0 {
		return fmt.Errorf("cache.proposals_max_capacity must be positive, got %d", c.Cache.ProposalsMaxCapacity)
	}

	if c.RateLimiting.AnonymousRPM <= 0 {
		return fmt.Errorf("rate_limiting.anonymous_rpm must be positive, got %d", c.RateLimiting.AnonymousRPM)
	}
	if c.RateLimiting.AuthenticatedRPM < c.RateLimiting.AnonymousRPM {
		return fmt.Errorf("rate_limiting.authenticated_rpm must be >= anonymous_rpm")
	}

	return nil
}
