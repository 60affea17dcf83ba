// Copyright 2025 Silica Protocol
//
// Unit tests for configuration validation bounds

package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := defaults()
	cfg.Database.URL = "postgres://localhost/silica"
	cfg.Chain.RPCURL = "http://127.0.0.1:8545"
	return cfg
}

func TestValidate_AcceptsDefaults(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Errorf("defaults with required fields should validate: %v", err)
	}
}

func TestValidate_Bounds(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing database url", func(c *Config) { c.Database.URL = "" }, "database.url"},
		{"oversized pool", func(c *Config) { c.Database.MaxConnections = 129 }, "max_connections"},
		{"min above max", func(c *Config) { c.Database.MinConnections = 99 }, "min_connections"},
		{"missing rpc url", func(c *Config) { c.Chain.RPCURL = "" }, "chain.rpc_url"},
		{"timeout too small", func(c *Config) { c.Chain.RequestTimeoutMs = 99 }, "request_timeout_ms"},
		{"timeout too large", func(c *Config) { c.Chain.RequestTimeoutMs = 60001 }, "request_timeout_ms"},
		{"poll too fast", func(c *Config) { c.Indexer.PollIntervalMs = 50 }, "poll_interval_ms"},
		{"poll too slow", func(c *Config) { c.Indexer.PollIntervalMs = 120000 }, "poll_interval_ms"},
		{"zero batch", func(c *Config) { c.Indexer.BatchSize = 0 }, "batch_size"},
		{"oversized batch", func(c *Config) { c.Indexer.BatchSize = 513 }, "batch_size"},
		{"oversized identity batch", func(c *Config) { c.Indexer.IdentityBatchSize = 1025 }, "identity_batch_size"},
		{"tiny identity cache", func(c *Config) { c.Cache.IdentitiesMaxCapacity = 99 }, "identities_max_capacity"},
		{"ttl too long", func(c *Config) { c.Cache.IdentitiesTTLSeconds = 86401 }, "identities_ttl_seconds"},
		{"zero port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"anonymous above authenticated", func(c *Config) {
			c.RateLimiting.AnonymousRPM = 1000
			c.RateLimiting.AuthenticatedRPM = 100
		}, "authenticated_rpm"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q should mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestPollInterval(t *testing.T) {
	cfg := IndexerConfig{PollIntervalMs: 250}
	if got := cfg.PollInterval().Milliseconds(); got != 250 {
		t.Errorf("expected 250ms, got %dms", got)
	}
}
