package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conf", "find.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.FileExists(t, path)
	require.Equal(t, uint64(1337), cfg.Node.ChainID)
	require.Equal(t, filepath.Join(dir, "conf", "fin-data"), cfg.Node.DataDir)
	require.Equal(t, filepath.Join(dir, "conf", "fin-data", "events.db"), cfg.EventLog.Path)

	again, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, again)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "find.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[node]
chain_id = 9
dev_mode = true
db_backend = "memory"
paused_modules = ["swap"]

[rpc]
listen_address = ":9000"

[log]
format = "console"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, uint64(9), cfg.Node.ChainID)
	require.True(t, cfg.Node.DevMode)
	require.Equal(t, []string{"swap"}, cfg.Node.PausedModules)
	require.Equal(t, ":9000", cfg.RPC.ListenAddress)
	require.Equal(t, 256, cfg.RPC.MaxConnections)
	require.Equal(t, "console", cfg.Log.Format)
}

func TestLoadRejectsInvalidFiles(t *testing.T) {
	cases := map[string]string{
		"unknown key":   "[node]\nchain_idd = 1\n",
		"bad backend":   "[node]\ndb_backend = \"bolt\"\n",
		"zero chain id": "[node]\nchain_id = 0\n",
		"bad format":    "[log]\nformat = \"xml\"\n",
		"burst missing": "[rpc]\nrate_limit_burst = 0\n",
		"not toml":      "[node\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "find.toml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := Load(path)
			require.Error(t, err)
		})
	}
}
