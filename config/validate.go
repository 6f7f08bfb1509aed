package config

import (
	"fmt"
	"strings"
)

// Validate rejects configurations the node cannot start with.
func Validate(cfg *Config) error {
	if cfg.Node.ChainID == 0 {
		return fmt.Errorf("node: chain_id must be set")
	}
	switch strings.ToLower(cfg.Node.DBBackend) {
	case "leveldb", "memory":
	default:
		return fmt.Errorf("node: db_backend must be leveldb or memory, got %q", cfg.Node.DBBackend)
	}
	if strings.TrimSpace(cfg.RPC.ListenAddress) == "" {
		return fmt.Errorf("rpc: listen_address must be set")
	}
	if cfg.RPC.MaxConnections < 0 {
		return fmt.Errorf("rpc: max_connections must not be negative")
	}
	if cfg.RPC.RateLimitPerSec < 0 || cfg.RPC.RateLimitBurst < 0 {
		return fmt.Errorf("rpc: rate limits must not be negative")
	}
	if cfg.RPC.RateLimitPerSec > 0 && cfg.RPC.RateLimitBurst == 0 {
		return fmt.Errorf("rpc: rate_limit_burst must be positive when rate limiting is on")
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "", "json", "console":
	default:
		return fmt.Errorf("log: format must be json or console, got %q", cfg.Log.Format)
	}
	return nil
}
