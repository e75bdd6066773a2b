package telemetry

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLogger_WritesJSONToRotatingFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	dir := filepath.Join(t.TempDir(), "logs")
	logger, closer, err := InitLogger(LogOptions{Dir: dir, Debug: true})
	require.NoError(t, err)

	logger.Debug("debug line", "session_id", "int_000000000000")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(filepath.Join(dir, "interviewprep.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"debug line"`)
	assert.Contains(t, string(data), `"session_id":"int_000000000000"`)
}

func TestInitLogger_InfoLevelDropsDebug(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	dir := t.TempDir()
	logger, closer, err := InitLogger(LogOptions{Dir: dir})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("shown")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(filepath.Join(dir, "interviewprep.log"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown")
}

func TestInitTelemetry(t *testing.T) {
	dir := t.TempDir()
	tracer, meter, cleanup, err := InitTelemetry(context.Background(), dir)
	require.NoError(t, err)

	_, span := tracer.Start(context.Background(), "test_span")
	span.End()

	c, err := meter.Int64Counter("test.counter")
	require.NoError(t, err)
	c.Add(context.Background(), 1)

	cleanup()

	_, err = os.Stat(filepath.Join(dir, "interviewprep_traces.log"))
	assert.NoError(t, err)
}
