package logger

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlogLoggerWritesFieldsAndModule(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelDebug, time.UTC).Module("fusion").Module("engine")

	log.Info("verdict computed",
		String("state", "CONFIRMED"),
		Int("movements", 3),
		Float64("probability", 0.91234),
		Duration("elapsed", 1500*time.Microsecond),
		Error(errors.New("boom")))

	out := buf.String()
	assert.Contains(t, out, "module=fusion.engine")
	assert.Contains(t, out, "state=CONFIRMED")
	assert.Contains(t, out, "movements=3")
	assert.Contains(t, out, "probability=0.912")
	assert.Contains(t, out, "elapsed=2ms")
	assert.Contains(t, out, "error=boom")
}

func TestLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelWarn, nil)

	log.Debug("hidden")
	log.Info("hidden")
	log.Warn("shown")
	log.Log(LogLevelError, "explicit")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "explicit")
}

func TestTraceLevelName(t *testing.T) {
	buf := &bytes.Buffer{}
	NewSlogLogger(buf, LogLevelTrace, nil).Trace("sql query")
	assert.Contains(t, buf.String(), "level=TRACE")
}

func TestWithAndContext(t *testing.T) {
	buf := &bytes.Buffer{}
	base := NewSlogLogger(buf, LogLevelInfo, nil)
	child := base.With(String("role", "ranger")).WithContext(WithTraceID(context.Background(), "abc-123"))

	child.Info("acknowledged")
	base.Info("plain")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	assert.Contains(t, string(lines[0]), "role=ranger")
	assert.Contains(t, string(lines[0]), "trace_id=abc-123")
	assert.NotContains(t, string(lines[1]), "role=ranger")
}

func TestCentralLoggerFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")
	cl, err := NewCentralLogger(&LoggingConfig{
		DefaultLevel: "debug",
		Timezone:     "UTC",
		Console:      &ConsoleOutput{Enabled: false},
		FileOutput:   &FileOutput{Enabled: true, Path: path, Level: "debug"},
		ModuleLevels: map[string]string{"poller": "error"},
	})
	require.NoError(t, err)

	cl.Module("engine").Debug("evaluated", String("state", "NONE"))
	cl.Module("poller").Info("suppressed by module level")
	require.NoError(t, cl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"evaluated"`)
	assert.Contains(t, string(data), `"module":"engine"`)
	assert.NotContains(t, string(data), "suppressed")
}

func TestCentralLoggerRejectsBadTimezone(t *testing.T) {
	_, err := NewCentralLogger(&LoggingConfig{Timezone: "Mars/Olympus"})
	assert.Error(t, err)
}

func TestGormAdapterTrace(t *testing.T) {
	buf := &bytes.Buffer{}
	adapter := NewGormLoggerAdapter(NewSlogLogger(buf, LogLevelTrace, nil), 10*time.Millisecond)

	adapter.Trace(context.Background(), time.Now(), func() (string, int64) { return "SELECT 1", 1 }, nil)
	adapter.Trace(context.Background(), time.Now().Add(-time.Second), func() (string, int64) { return "SELECT 2", 1 }, nil)

	assert.Contains(t, buf.String(), "sql query")
	assert.Contains(t, buf.String(), "slow query")
}
