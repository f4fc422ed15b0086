package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	assert.Equal(t, 8000, config.Server.Port)
	assert.Equal(t, "memory", config.Cache.Type)
	assert.Equal(t, 5, config.Bot.MaxAcceptPerRun)
	assert.Equal(t, "Telephone interpreting", config.Bot.JobTypeFilter)
	assert.Contains(t, config.Bot.RequiredFields, "language")
	require.NoError(t, config.Validate())
}

func TestLoadFromFiles_LaterFilesOverride(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.toml")
	override := filepath.Join(dir, "override.toml")

	require.NoError(t, os.WriteFile(base, []byte(`
[server]
port = 9000

[cache]
type = "badger"
`), 0644))
	require.NoError(t, os.WriteFile(override, []byte(`
[server]
port = 9100

[bot]
max_accept_per_run = 2
`), 0644))

	config, err := LoadFromFiles(base, override)
	require.NoError(t, err)

	assert.Equal(t, 9100, config.Server.Port)
	assert.Equal(t, "badger", config.Cache.Type)
	assert.Equal(t, 2, config.Bot.MaxAcceptPerRun)
	// Untouched values keep their defaults
	assert.Equal(t, "localhost", config.Server.Host)
}

func TestLoadFromFiles_EnvOverrides(t *testing.T) {
	t.Setenv("ATOZBOT_SERVER_PORT", "9200")
	t.Setenv("ATOZ_USERNAME", "interpreter@example.com")
	t.Setenv("MAX_ACCEPT_PER_RUN", "7")
	t.Setenv("HEADLESS", "false")

	config, err := LoadFromFiles()
	require.NoError(t, err)

	assert.Equal(t, 9200, config.Server.Port)
	assert.Equal(t, "interpreter@example.com", config.Portal.Username)
	assert.Equal(t, 7, config.Bot.MaxAcceptPerRun)
	assert.False(t, config.Portal.Headless)
}

func TestLoadFromFiles_InvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[worker]
stop_grace_period = "soon"
`), 0644))

	_, err := LoadFromFiles(path)
	assert.Error(t, err)

	_, err = LoadFromFiles(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)
}

func TestApplyFlagOverrides(t *testing.T) {
	config := NewDefaultConfig()
	ApplyFlagOverrides(config, 0, "")
	assert.Equal(t, 8000, config.Server.Port)

	ApplyFlagOverrides(config, 8080, "0.0.0.0")
	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, "http://127.0.0.1:8080", config.CallbackBaseURL())

	config.Worker.CallbackURL = "http://controller:8000"
	assert.Equal(t, "http://controller:8000", config.CallbackBaseURL())
}

func TestValidateSchedule(t *testing.T) {
	assert.NoError(t, ValidateSchedule(""))
	assert.NoError(t, ValidateSchedule("@hourly"))
	assert.NoError(t, ValidateSchedule("0 */4 * * *"))
	assert.Error(t, ValidateSchedule("every now and then"))
}

func TestLoadFromFiles_ExampleDeployment(t *testing.T) {
	config, err := LoadFromFiles(filepath.Join("..", "..", "deployments", "local", "atozbot.toml"))
	require.NoError(t, err)

	defaults := NewDefaultConfig()
	assert.Equal(t, defaults.Bot, config.Bot)
	assert.Equal(t, defaults.Scheduler, config.Scheduler)
	assert.Equal(t, "200ms", config.WebSocket.ProgressThrottle)
	assert.Equal(t, "./data/worker.lock", config.Worker.LockFile)
}
