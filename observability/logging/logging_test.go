package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJSONHandlerKeysAndRedaction(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, Options{Level: "debug"}))
	logger.Debug("keystore unlocked", "passphrase", "hunter2", "jwt_secret", "abc", "height", 7, "empty_token", "")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "DEBUG", line["severity"])
	require.Equal(t, "keystore unlocked", line["message"])
	require.Contains(t, line, "timestamp")
	require.Equal(t, RedactedValue, line["passphrase"])
	require.Equal(t, RedactedValue, line["jwt_secret"])
	require.Equal(t, float64(7), line["height"])
	require.Equal(t, "", line["empty_token"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, Options{Level: "warn"}))
	logger.Info("dropped")
	require.Zero(t, buf.Len())
	logger.Warn("kept")
	require.NotZero(t, buf.Len())

	require.Equal(t, slog.LevelInfo, ParseLevel(""))
	require.Equal(t, slog.LevelError, ParseLevel("ERROR"))
}

func TestConsoleFormatMasksSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, Options{Format: "console"}))
	logger.Info("rpc configured", "jwt_secret", "abc")
	require.Contains(t, buf.String(), RedactedValue)
	require.NotContains(t, buf.String(), "abc")
}

func TestMaskField(t *testing.T) {
	require.Equal(t, RedactedValue, MaskField("passphrase", "x").Value.String())
	require.Equal(t, "svc", MaskField("service", "svc").Value.String())
	require.Equal(t, "", MaskField("passphrase", "").Value.String())
	require.Contains(t, RedactionAllowlist(), "requestid")
}
