package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerStampsServiceAndEnv(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &Config{LogFormat: "json", AppEnv: "staging"}, "worker")
	logger.Info("started", slog.Int("concurrency", 5))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "worker", rec["service"])
	require.Equal(t, "staging", rec["env"])
	require.Equal(t, "started", rec["msg"])
	require.EqualValues(t, 5, rec["concurrency"])
}

func TestLoggerHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &Config{LogLevel: "warn"}, "backoffice")
	logger.Info("hidden")
	require.Zero(t, buf.Len())
	logger.Warn("shown")
	require.Contains(t, buf.String(), "service=backoffice")
	require.Contains(t, buf.String(), "msg=shown")

	require.Equal(t, slog.LevelDebug, parseLevel(" DEBUG "))
	require.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}
