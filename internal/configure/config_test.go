package configure

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func newFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("config", "", "")
	flags.String("log-level", "info", "")
	flags.Bool("recurse", true, "")
	flags.Int("max-axis", 0, "")
	flags.String("format", "", "")
	flags.Bool("backup", true, "")
	return flags
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	c, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "reimage.log", c.Log.File)
	assert.Equal(t, "debug", c.Log.FileLevel)
	assert.Equal(t, "info", c.Log.ConsoleLevel)
	assert.True(t, c.Run.Recurse)
	assert.True(t, c.Run.Backup)
	assert.Equal(t, 0, c.Run.MaxAxis)
	assert.Equal(t, 2*time.Second, c.Watch.Debounce)
	assert.False(t, c.Monitoring.Enabled)
	assert.Empty(t, c.ConfigFile)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	file := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
run:
  max_axis: 800
  format: png
  rename: pic
watch:
  debounce: 5s
monitoring:
  labels:
    - key: host
      value: nas
`), 0o644))

	t.Setenv("REIMAGE_RUN_FORMAT", "gif")
	t.Setenv("REIMAGE_RUN_BACKUP", "false")

	flags := newFlags()
	require.NoError(t, flags.Parse([]string{"--config", file, "--max-axis", "1024"}))

	c, err := Load(flags)
	require.NoError(t, err)

	assert.Equal(t, file, c.ConfigFile)
	assert.Equal(t, 1024, c.Run.MaxAxis, "flag beats file")
	assert.Equal(t, "gif", c.Run.Format, "env beats file")
	assert.False(t, c.Run.Backup, "env beats default")
	assert.Equal(t, "pic", c.Run.Rename)
	assert.Equal(t, 5*time.Second, c.Watch.Debounce)
	assert.Equal(t, "nas", c.Monitoring.Labels.ToPrometheus()["host"])
}

func TestLoadPicksUpLocalFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile("reimage.yaml", []byte("log:\n  console_level: warn\n"), 0o644))

	c, err := Load(newFlags())
	require.NoError(t, err)
	assert.Equal(t, "warn", c.Log.ConsoleLevel)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	chdir(t, t.TempDir())

	flags := newFlags()
	require.NoError(t, flags.Parse([]string{"--config", "nope.yaml"}))

	_, err := Load(flags)
	assert.Error(t, err)
}

func TestYAML(t *testing.T) {
	chdir(t, t.TempDir())

	c, err := Load(nil)
	require.NoError(t, err)

	out, err := c.YAML()
	require.NoError(t, err)

	var back map[string]any
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Contains(t, back, "run")
	assert.Contains(t, string(out), "debounce: 2s")
	assert.Contains(t, string(out), "max_axis: 0")
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
