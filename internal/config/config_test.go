package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stockwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, EnvProd, cfg.Environment)
	require.Equal(t, []string{FilterMen, FilterWomen}, cfg.Filters)
	require.Equal(t, 40, cfg.Site.PageSize)
	require.Equal(t, 7, cfg.Monitor.ResetHour)
	require.Equal(t, "Asia/Kolkata", cfg.Monitor.Timezone)
	require.Equal(t, 1024, cfg.Notify.CaptionLimit)
	require.Equal(t, BackendFile, cfg.State.Backend)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
environment: dev
site:
  pageSize: 20
  requestTimeout: 10s
  profiles: [ "Chrome_110" ]
filters: [ " Men " ]
monitor:
  verifyWorkers: 3
  cycleDelayMin: 1s
  cycleDelayMax: 2s
state:
  path: ./data/state.json
notify:
  destinations:
    Men:
      botToken: " tok "
      chatID: "42"
`)

	cfg, err := Load(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, EnvDev, cfg.Environment)
	require.Equal(t, 20, cfg.Site.PageSize)
	require.Equal(t, 10*time.Second, cfg.Site.RequestTimeout)
	require.Equal(t, []string{"chrome_110"}, cfg.Site.Profiles)
	require.Equal(t, []string{"Men"}, cfg.Filters)
	require.Equal(t, 3, cfg.Monitor.VerifyWorkers)
	require.Equal(t, 5, cfg.Monitor.PageWorkers)
	require.Equal(t, 2*time.Second, cfg.Monitor.CycleDelayMax)
	require.Equal(t, filepath.Clean("data/state.json"), cfg.State.Path)
	require.Equal(t, Destination{BotToken: "tok", ChatID: "42"}, cfg.Notify.Destinations["Men"])
	require.Empty(t, cfg.MissingCredentials())
}

func TestEnvOverlay(t *testing.T) {
	t.Setenv(EnvBotToken, "men-token")
	t.Setenv(EnvChatID, "100")
	t.Setenv(EnvBotTokenWomen, "women-token")
	t.Setenv(EnvChatIDWomen, "")
	t.Setenv(EnvPort, "9090")
	t.Setenv(EnvStatePath, "/tmp/state.json")

	cfg, used, err := LoadOrDefault(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.False(t, used)
	require.Equal(t, ":9090", cfg.Server.Addr)
	require.Equal(t, "/tmp/state.json", cfg.State.Path)
	require.True(t, cfg.Notify.Destinations[FilterMen].Configured())
	require.False(t, cfg.Notify.Destinations[FilterWomen].Configured())
	require.Equal(t, []string{FilterWomen}, cfg.MissingCredentials())
}

func TestRedisURLSelectsRedisBackend(t *testing.T) {
	t.Setenv(EnvRedisURL, "redis://localhost:6379/0")

	cfg, _, err := LoadOrDefault(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, BackendRedis, cfg.State.Backend)
	require.Equal(t, "redis://localhost:6379/0", cfg.State.Redis.URL)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"bad environment": "environment: qa\n",
		"zero page size":  "site:\n  pageSize: 0\n",
		"no filters":      "filters: []\n",
		"dup filters":     "filters: [Men, Men]\n",
		"delay inverted":  "monitor:\n  cycleDelayMin: 5s\n  cycleDelayMax: 1s\n",
		"reset hour":      "monitor:\n  resetHour: 24\n",
		"bad timezone":    "monitor:\n  timezone: Mars/Olympus\n",
		"bad backend":     "state:\n  backend: sqlite\n",
		"redis no addr":   "state:\n  backend: redis\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(context.Background(), writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func TestLoadOrDefaultSurfacesParseErrors(t *testing.T) {
	_, _, err := LoadOrDefault(context.Background(), writeConfig(t, "site: [not a map"))
	require.Error(t, err)
}

func TestLoadDotEnvIgnoresMissingFile(t *testing.T) {
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), ".env")))
}

func TestLoadDotEnvDoesNotOverrideExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("STOCKWATCH_DOTENV_A=file\nSTOCKWATCH_DOTENV_B=file\n"), 0o600))
	t.Setenv("STOCKWATCH_DOTENV_A", "process")
	t.Setenv("STOCKWATCH_DOTENV_B", "")
	require.NoError(t, os.Unsetenv("STOCKWATCH_DOTENV_B"))

	require.NoError(t, LoadDotEnv(path))
	t.Cleanup(func() { _ = os.Unsetenv("STOCKWATCH_DOTENV_B") })
	require.Equal(t, "process", os.Getenv("STOCKWATCH_DOTENV_A"))
	require.Equal(t, "file", os.Getenv("STOCKWATCH_DOTENV_B"))
}
