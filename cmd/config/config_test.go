package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poachwatch/poachwatch/internal/conf"
	"github.com/poachwatch/poachwatch/internal/errors"
)

func run(t *testing.T, settings *conf.Settings, args ...string) (string, error) {
	t.Helper()
	cmd := Command(settings)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestInitWritesLoadableDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "config.yaml")

	out, err := run(t, &conf.Settings{}, "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, conf.DefaultConfig(), string(data))

	_, err = conf.Load(conf.LoadOptions{ConfigFile: path})
	require.NoError(t, err)
}

func TestInitRefusesToOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("alert:\n  emit_cleared: true\n"), 0o600))

	_, err := run(t, &conf.Settings{}, "init", path)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	_, err = run(t, &conf.Settings{}, "init", "--force", path)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, conf.DefaultConfig(), string(data))
}

func TestSaveWritesEffectiveSettings(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(src, []byte("alert:\n  emit_cleared: true\nfusion:\n  correlation_window: 90s\n"), 0o600))
	settings, err := conf.Load(conf.LoadOptions{ConfigFile: src})
	require.NoError(t, err)

	dst := filepath.Join(dir, "saved", "config.yaml")
	_, err = run(t, settings, "save", dst)
	require.NoError(t, err)

	reloaded, err := conf.Load(conf.LoadOptions{ConfigFile: dst})
	require.NoError(t, err)
	assert.True(t, reloaded.Alert.EmitCleared)
	assert.Equal(t, 90*time.Second, reloaded.Fusion.CorrelationWindow)

	_, err = run(t, settings, "save", dst)
	assert.Error(t, err, "save must not clobber an existing file without --force")
}
