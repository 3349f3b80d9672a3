package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicebartender/cmebot/capture"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "CMEBOT_TOKEN_FILE", "CMEBOT_COOLDOWN", "CMEBOT_CHART_URL",
		"CMEBOT_RENDER_WAIT", "CMEBOT_CAPTURE_TIMEOUT", "CMEBOT_CHROME_PATH",
		"CMEBOT_ARTIFACT_DIR", "CMEBOT_ADDR", "CMEBOT_CONSOLE_TOKEN", "CMEBOT_DB",
		"CMEBOT_POSTGRES_DSN", "CMEBOT_REDIS_ADDR", "CMEBOT_REDIS_PASSWORD",
		"CMEBOT_STOP_USERS", "CMEBOT_DEBUG",
	} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "config.txt", cfg.TokenFile)
	assert.Equal(t, 10*time.Second, cfg.Cooldown)
	assert.Equal(t, capture.DefaultChartURL, cfg.ChartURL)
	assert.Equal(t, 10*time.Second, cfg.RenderWait)
	assert.Equal(t, 45*time.Second, cfg.CaptureTimeout)
	assert.Equal(t, 1920, cfg.WindowWidth)
	assert.Equal(t, 1080, cfg.WindowHeight)
	assert.Equal(t, ":8090", cfg.ListenAddr)
	assert.Empty(t, cfg.ConsoleToken)
}

func TestLoadConfigYAMLThenEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "cmebot.yaml", `
cooldown: 30s
chart_url: https://example.com/chart
console_token: from-yaml
stop_users: [a, b]
window_width: 800
window_height: 600
`)

	t.Setenv("CMEBOT_CONSOLE_TOKEN", "from-env")
	t.Setenv("CMEBOT_CAPTURE_TIMEOUT", "20")
	t.Setenv("PORT", "9999")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Cooldown)
	assert.Equal(t, "https://example.com/chart", cfg.ChartURL)
	assert.Equal(t, "from-env", cfg.ConsoleToken)
	assert.Equal(t, 20*time.Second, cfg.CaptureTimeout)
	assert.Equal(t, []string{"a", "b"}, cfg.StopUsers)
	assert.Equal(t, 800, cfg.WindowWidth)
	assert.Equal(t, ":9999", cfg.ListenAddr)
}

func TestLoadConfigStopUsersEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("CMEBOT_STOP_USERS", " 1, 2 ,,3")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, cfg.StopUsers)
}

func TestLoadConfigBadYAML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, t.TempDir(), "cmebot.yaml", "cooldown: [not a duration")

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigNonPositiveCooldownFallsBack(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, t.TempDir(), "cmebot.yaml", "cooldown: -5s\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.Cooldown)
}

func TestLoadTokenTrimmed(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.txt", "  abc.def.ghi \n")

	token, err := LoadToken(path)
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", token)
}

func TestLoadTokenMissing(t *testing.T) {
	_, err := LoadToken(filepath.Join(t.TempDir(), "config.txt"))
	assert.ErrorIs(t, err, ErrTokenMissing)
}

func TestLoadTokenEmpty(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.txt", "\n\t \n")

	_, err := LoadToken(path)
	assert.ErrorIs(t, err, ErrTokenMissing)
}

func TestRunWithoutTokenFails(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	root := NewRootCmd()
	root.SetArgs([]string{"run",
		"--config", filepath.Join(dir, "none.yaml"),
		"--token-file", filepath.Join(dir, "config.txt"),
		"--db", filepath.Join(dir, "cmebot.db"),
	})
	root.SetOut(&bytes.Buffer{})

	err := root.Execute()
	assert.ErrorIs(t, err, ErrTokenMissing)
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	yamlDB := filepath.Join(dir, "yaml.db")
	flagDB := filepath.Join(dir, "flag.db")
	cfgPath := writeFile(t, dir, "cmebot.yaml", "db_path: "+yamlDB+"\n")

	var out bytes.Buffer
	root := NewRootCmd()
	root.SetArgs([]string{"history", "--config", cfgPath, "--db", flagDB})
	root.SetOut(&out)

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "OUTCOME")

	_, err := os.Stat(flagDB)
	assert.NoError(t, err)
	_, err = os.Stat(yamlDB)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
