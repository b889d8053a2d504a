package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/kfrey-idm/emod-api-sub000/internal/config"
	"github.com/kfrey-idm/emod-api-sub000/node"
	"github.com/kfrey-idm/emod-api-sub000/overrides"
	"github.com/kfrey-idm/emod-api-sub000/resolve"
)

const toolSchema = `{
	"config": {
		"Simulation": {
			"Simulation_Type": {"type": "enum", "enum": ["GENERIC_SIM", "VECTOR_SIM"], "default": "GENERIC_SIM"},
			"Run_Number": {"type": "integer", "min": 0, "max": 65535, "default": 1}
		},
		"Infectivity": {
			"Base_Infectivity_Distribution": {
				"type": "enum", "enum": ["CONSTANT_DISTRIBUTION", "EXPONENTIAL_DISTRIBUTION"], "default": "CONSTANT_DISTRIBUTION"
			},
			"Base_Infectivity_Constant": {
				"type": "float", "min": 0, "max": 1000, "default": 0.3,
				"depends-on": {"Base_Infectivity_Distribution": "CONSTANT_DISTRIBUTION"}
			},
			"Base_Infectivity_Exponential": {
				"type": "float", "min": 0, "max": 1000, "default": 6,
				"depends-on": {"Base_Infectivity_Distribution": "EXPONENTIAL_DISTRIBUTION"}
			}
		}
	},
	"idmTypes": {
		"idmAbstractType:Intervention": {
			"NodeIntervention": {
				"Outbreak": {
					"class": "Outbreak",
					"Number_Cases_Per_Node": {"type": "integer", "default": 1, "min": 0, "max": 2147480000}
				}
			}
		}
	}
}`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func readOutput(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestBuildConfigurationWithOverrides(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		Schema:    writeFile(t, dir, "schema.json", toolSchema),
		Overrides: []string{writeFile(t, dir, "overrides.yaml", "parameters:\n  Base_Infectivity_Exponential: 0.5\n")},
		Set:       map[string]string{"Run_Number": "7"},
		Output:    filepath.Join(dir, "config.json"),
	}
	b := newBuilder(cfg, zerolog.Nop(), nil)
	require.NoError(t, b.buildAndWrite())

	params, ok := readOutput(t, cfg.Output)["parameters"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, 7.0, params["Run_Number"])
	require.Equal(t, 0.5, params["Base_Infectivity_Exponential"])
	require.Equal(t, "EXPONENTIAL_DISTRIBUTION", params["Base_Infectivity_Distribution"])
	require.NotContains(t, params, "Base_Infectivity_Constant")
	require.Equal(t, cfg.Schema, b.store.Source())
}

func TestBuildReportsOverrideErrors(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		Schema:    writeFile(t, dir, "schema.json", toolSchema),
		Overrides: []string{writeFile(t, dir, "overrides.json", `{"parameters": {"Run_Numbr": 3}}`)},
	}
	_, err := newBuilder(cfg, zerolog.Nop(), nil).build()
	var uerr *node.UnknownKeyError
	require.True(t, errors.As(err, &uerr))
	require.Contains(t, err.Error(), "overrides.json")

	cfg.Overrides = nil
	cfg.Set = map[string]string{"Run_Number": "70000"}
	_, err = newBuilder(cfg, zerolog.Nop(), nil).build()
	var verr *node.ValidationError
	require.True(t, errors.As(err, &verr))
}

func TestBuildClassDefault(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		Schema: writeFile(t, dir, "schema.json", toolSchema),
		Class:  "Outbreak",
		Set:    map[string]string{"Number_Cases_Per_Node": "5"},
		Output: filepath.Join(dir, "outbreak.json"),
	}
	require.NoError(t, newBuilder(cfg, zerolog.Nop(), nil).buildAndWrite())
	require.Equal(t, 5.0, readOutput(t, cfg.Output)["Number_Cases_Per_Node"])

	cfg.Class = "Quarantine"
	_, err := newBuilder(cfg, zerolog.Nop(), nil).build()
	var terr *resolve.UnknownTypeError
	require.True(t, errors.As(err, &terr))
}

func TestApplyFlags(t *testing.T) {
	cfg := &config.Config{Schema: "file.json", Overrides: []string{"a.json"}, Set: map[string]string{"Run_Number": "1"}}
	require.NoError(t, applyFlags(cfg, cliFlags{
		model:     "VECTOR_SIM",
		watch:     true,
		interval:  time.Second,
		overrides: stringList{"b.json"},
		set:       stringList{"Run_Number=2", "Config_Name = a=b"},
	}))
	require.Equal(t, "file.json", cfg.Schema)
	require.Equal(t, "VECTOR_SIM", cfg.Model)
	require.True(t, cfg.Watch.Enabled)
	require.Equal(t, time.Second, cfg.WatchInterval())
	require.Equal(t, []string{"a.json", "b.json"}, cfg.Overrides)
	require.Equal(t, map[string]string{"Run_Number": "2", "Config_Name": " a=b"}, cfg.Set)

	err := applyFlags(&config.Config{}, cliFlags{set: stringList{"=1"}})
	require.ErrorIs(t, err, overrides.ErrInvalidAssignment)
}

func TestContains(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "emodcfg.yaml")
	require.True(t, contains([]string{"/other", path}, path))
	require.False(t, contains([]string{"/other"}, path))
	require.False(t, contains([]string{"/other"}, ""))
}
