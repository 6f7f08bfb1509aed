package config

// Config is the node configuration file.
type Config struct {
	Node      NodeConfig      `toml:"node"`
	RPC       RPCConfig       `toml:"rpc"`
	Log       LogConfig       `toml:"log"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	EventLog  EventLogConfig  `toml:"eventlog"`
}

type NodeConfig struct {
	DataDir     string `toml:"data_dir"`
	ChainID     uint64 `toml:"chain_id"`
	GenesisFile string `toml:"genesis_file"`
	// DevMode enables dev_increaseTime.
	DevMode bool `toml:"dev_mode"`
	// DBBackend is "leveldb" or "memory".
	DBBackend string `toml:"db_backend"`
	// PausedModules rejects mutations on the named contracts.
	PausedModules []string `toml:"paused_modules"`
}

type RPCConfig struct {
	ListenAddress  string `toml:"listen_address"`
	MaxConnections int    `toml:"max_connections"`
	// JWTSecretEnv names the environment variable holding the HMAC secret
	// for dev_* methods. Empty disables the dev namespace.
	JWTSecretEnv    string  `toml:"jwt_secret_env"`
	RateLimitPerSec float64 `toml:"rate_limit_per_sec"`
	RateLimitBurst  int     `toml:"rate_limit_burst"`
	ReadTimeoutSec  int     `toml:"read_timeout_sec"`
	WriteTimeoutSec int     `toml:"write_timeout_sec"`
}

type LogConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

type TelemetryConfig struct {
	Endpoint string `toml:"endpoint"`
	Insecure bool   `toml:"insecure"`
	Headers  string `toml:"headers"`
	Traces   bool   `toml:"traces"`
	Metrics  bool   `toml:"metrics"`
}

type EventLogConfig struct {
	// Path of the SQLite audit log. Empty disables it.
	Path string `toml:"path"`
}
