package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Default returns the configuration written for a fresh node.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			DataDir:     "./fin-data",
			ChainID:     1337,
			GenesisFile: "genesis.yaml",
			DBBackend:   "leveldb",
		},
		RPC: RPCConfig{
			ListenAddress:   "127.0.0.1:8545",
			MaxConnections:  256,
			JWTSecretEnv:    "FIN_RPC_JWT_SECRET",
			RateLimitPerSec: 50,
			RateLimitBurst:  100,
			ReadTimeoutSec:  10,
			WriteTimeoutSec: 30,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Metrics:   MetricsConfig{Enabled: true},
		Telemetry: TelemetryConfig{Endpoint: "localhost:4318", Insecure: true},
		EventLog:  EventLogConfig{Path: "events.db"},
	}
}

// Load loads the configuration from path, writing the defaults there first
// when the file does not exist. Unset keys keep their default values.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	cfg.resolvePaths(path)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// resolvePaths makes relative file paths relative to the config file's
// directory, with the event log inside the data directory.
func (c *Config) resolvePaths(configPath string) {
	base := filepath.Dir(configPath)
	rel := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	c.Node.DataDir = rel(c.Node.DataDir)
	c.Node.GenesisFile = rel(c.Node.GenesisFile)
	if c.EventLog.Path != "" && c.EventLog.Path != ":memory:" && !filepath.IsAbs(c.EventLog.Path) {
		c.EventLog.Path = filepath.Join(c.Node.DataDir, c.EventLog.Path)
	}
	c.Log.File = rel(c.Log.File)
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	cfg.resolvePaths(path)
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
