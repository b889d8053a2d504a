package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "emodcfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadResolvesPaths(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `schema: schema.json
model: MALARIA_SIM
output: /tmp/config.json
overrides:
  - overrides/base.yaml
  - /abs/extra.json
set:
  Run_Number: "4"
logging:
  level: debug
  format: text
  loki:
    enabled: true
    url: http://loki:3100/loki/api/v1/push
    labels:
      team: modelling
watch:
  enabled: true
  interval: 500ms
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "schema.json"), cfg.Schema)
	require.Equal(t, []string{filepath.Join(dir, "overrides/base.yaml"), "/abs/extra.json"}, cfg.Overrides)
	require.Equal(t, "MALARIA_SIM", cfg.Model)
	require.Equal(t, "/tmp/config.json", cfg.Output)
	require.Equal(t, map[string]string{"Run_Number": "4"}, cfg.Set)
	require.Equal(t, "text", cfg.Logging.Format)
	require.Equal(t, "modelling", cfg.Logging.Loki.Labels["team"])
	require.True(t, cfg.Watch.Enabled)
	require.Equal(t, 500*time.Millisecond, cfg.WatchInterval())
	require.Equal(t, path, cfg.Source)
}

func TestLoadEnvironmentWins(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "schema: schema.json\nmodel: GENERIC_SIM\n")

	t.Setenv("EMODCFG_MODEL", "VECTOR_SIM")
	t.Setenv("EMODCFG_LOG_LEVEL", "warn")
	t.Setenv("EMODCFG_WATCH_ENABLED", "true")
	t.Setenv("EMODCFG_TELEMETRY_LISTEN", ":9100")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "VECTOR_SIM", cfg.Model)
	require.Equal(t, "warn", cfg.Logging.Level)
	require.True(t, cfg.Watch.Enabled)
	require.Equal(t, ":9100", cfg.Telemetry.Listen)
	require.Equal(t, filepath.Join(dir, "schema.json"), cfg.Schema)
}

func TestDefaultReadsEnvironment(t *testing.T) {
	t.Setenv("EMODCFG_SCHEMA", "/data/schema.json")
	cfg, err := Default()
	require.NoError(t, err)
	require.Equal(t, "/data/schema.json", cfg.Schema)
	require.Equal(t, 2*time.Second, cfg.WatchInterval())
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(filepath.Join(dir, "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(writeConfig(t, dir, "watch:\n  interval: soon\n"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	require.Error(t, (&Config{}).Validate())
	require.Error(t, (&Config{Schema: "s.json", Class: "WaningEffectBox", Overrides: []string{"o.json"}}).Validate())
	require.NoError(t, (&Config{Schema: "s.json", Class: "WaningEffectBox"}).Validate())
}

func TestSourceFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "schema: schema.json\noverrides:\n  - b.json\n  - a.json\n  - b.json\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, []string{
		filepath.Join(dir, "a.json"),
		filepath.Join(dir, "b.json"),
		path,
		filepath.Join(dir, "schema.json"),
	}, SourceFiles(cfg))
	require.Nil(t, SourceFiles(nil))
}
