package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sessionbroker/broker/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolateHome(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	oldHome := os.Getenv("HOME")
	os.Setenv("HOME", tmpDir)
	t.Cleanup(func() { os.Setenv("HOME", oldHome) })
	return tmpDir
}

func TestLoad_Defaults(t *testing.T) {
	tmpDir := isolateHome(t)

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, types.DefaultConfig().Port, cfg.Port)
	assert.NotNil(t, cfg.ProviderConfig)
}

func TestLoad_ProjectConfig(t *testing.T) {
	tmpDir := isolateHome(t)

	projectConfig := `{
		"port": 5050,
		"providerConfig": {
			"claude": {
				"command": ["claude", "--ndjson"]
			}
		}
	}`

	configPath := filepath.Join(tmpDir, ".sessionbroker", "broker.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0755))
	require.NoError(t, os.WriteFile(configPath, []byte(projectConfig), 0644))

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, 5050, cfg.Port)
	assert.Equal(t, []string{"claude", "--ndjson"}, cfg.ProviderConfig["claude"].Command)
}

func TestLoad_JSONCComments(t *testing.T) {
	tmpDir := isolateHome(t)

	jsoncConfig := `{
		// port override
		"port": 6060,
		/* block comment
		   spanning lines */
		"authTimeoutMs": 9000
	}`

	configPath := filepath.Join(tmpDir, ".sessionbroker", "broker.jsonc")
	require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0755))
	require.NoError(t, os.WriteFile(configPath, []byte(jsoncConfig), 0644))

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, 6060, cfg.Port)
	assert.Equal(t, 9000, cfg.AuthTimeoutMs)
}

func TestLoad_ProjectOverridesGlobal(t *testing.T) {
	tmpHome := isolateHome(t)
	tmpProject := t.TempDir()

	globalConfig := `{"port": 4000, "idleSessionTimeoutMs": 30000}`
	globalConfigDir := filepath.Join(tmpHome, ".config", "sessionbroker")
	require.NoError(t, os.MkdirAll(globalConfigDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(globalConfigDir, "broker.json"), []byte(globalConfig), 0644))

	projectConfig := `{"port": 4100}`
	projectConfigDir := filepath.Join(tmpProject, ".sessionbroker")
	require.NoError(t, os.MkdirAll(projectConfigDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(projectConfigDir, "broker.json"), []byte(projectConfig), 0644))

	cfg, err := Load(tmpProject)
	require.NoError(t, err)

	assert.Equal(t, 4100, cfg.Port, "project config should override global")
	assert.Equal(t, 30000, cfg.IdleSessionTimeoutMs, "global-only field should be preserved")
}

func TestApplyEnvOverrides_ProviderAPIKey(t *testing.T) {
	os.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	defer os.Unsetenv("ANTHROPIC_API_KEY")

	cfg := types.DefaultConfig()
	applyEnvOverrides(cfg)

	assert.Equal(t, "sk-ant-test", cfg.ProviderConfig["claude"].APIKey)
}

func TestApplyEnvOverrides_DoesNotOverrideExistingKey(t *testing.T) {
	os.Setenv("ANTHROPIC_API_KEY", "sk-ant-from-env")
	defer os.Unsetenv("ANTHROPIC_API_KEY")

	cfg := types.DefaultConfig()
	cfg.ProviderConfig["claude"] = types.AdapterConfig{APIKey: "sk-ant-from-file"}

	applyEnvOverrides(cfg)

	assert.Equal(t, "sk-ant-from-file", cfg.ProviderConfig["claude"].APIKey)
}

func TestApplyEnvOverrides_Port(t *testing.T) {
	os.Setenv("BROKER_PORT", "9999")
	defer os.Unsetenv("BROKER_PORT")

	cfg := types.DefaultConfig()
	applyEnvOverrides(cfg)

	assert.Equal(t, 9999, cfg.Port)
}

func TestMergeConfig_PreservesUnsetFields(t *testing.T) {
	target := &types.Config{Port: 4096, AuthTimeoutMs: 5000}
	source := &types.Config{ReconnectGracePeriodMs: 7000}

	mergeConfig(target, source)

	assert.Equal(t, 4096, target.Port, "merge must not zero out fields absent from source")
	assert.Equal(t, 5000, target.AuthTimeoutMs)
	assert.Equal(t, 7000, target.ReconnectGracePeriodMs)
}

func TestMergeConfig_MergesProviderConfigByKey(t *testing.T) {
	target := &types.Config{
		ProviderConfig: map[string]types.AdapterConfig{
			"claude": {Command: []string{"claude"}},
		},
	}
	source := &types.Config{
		ProviderConfig: map[string]types.AdapterConfig{
			"codex": {URL: "http://localhost:8080"},
		},
	}

	mergeConfig(target, source)

	assert.Len(t, target.ProviderConfig, 2)
	assert.Equal(t, []string{"claude"}, target.ProviderConfig["claude"].Command)
	assert.Equal(t, "http://localhost:8080", target.ProviderConfig["codex"].URL)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "broker.json")

	cfg := types.DefaultConfig()
	cfg.Port = 7000

	require.NoError(t, Save(cfg, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"port": 7000`)
}
