package fuse

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poachwatch/poachwatch/internal/alert"
	"github.com/poachwatch/poachwatch/internal/conf"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestFuseCommandConfirms(t *testing.T) {
	settings, err := conf.Load(conf.LoadOptions{ConfigFile: writeFile(t, "config.yaml", "datastore:\n  driver: memory\n")})
	require.NoError(t, err)

	movements := writeFile(t, "m.json", `[{"id":"m1","species":"human","label":"poacher","latitude":1,"longitude":2,"observed_at":"2025-03-01T12:00:00Z"}]`)
	images := writeFile(t, "i.json", `[{"class_name":"poacher","probability":0.92,"image_ref":"img1","observed_at":"2025-03-01T12:00:01Z"}]`)

	cmd := Command(settings)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--movements", movements, "--images", images})
	require.NoError(t, cmd.Execute())

	var res Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, alert.StateConfirmed, res.Transition.To)
	assert.Equal(t, "img1", res.Verdict.ImageRef)
	assert.Len(t, res.Notifications, 2)
}

func TestFuseCommandRejectsBadJSON(t *testing.T) {
	settings, err := conf.Load(conf.LoadOptions{ConfigFile: writeFile(t, "config.yaml", "datastore:\n  driver: memory\n")})
	require.NoError(t, err)

	cmd := Command(settings)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--movements", writeFile(t, "m.json", "{not json")})
	require.Error(t, cmd.Execute())
}
