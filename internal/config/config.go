package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/sessionbroker/broker/pkg/types"
)

func parsePort(s string) (int, error) {
	return strconv.Atoi(s)
}

// Load loads configuration from multiple sources, merged in priority
// order (spec §A.3):
//  1. Global config (~/.config/sessionbroker/broker.json(c))
//  2. Project config (<directory>/.sessionbroker/broker.json(c))
//  3. Environment variables
func Load(directory string) (*types.Config, error) {
	cfg := types.DefaultConfig()

	globalPath := GetPaths().Config
	loadConfigFile(filepath.Join(globalPath, "broker.json"), cfg)
	loadConfigFile(filepath.Join(globalPath, "broker.jsonc"), cfg)

	if directory != "" {
		loadConfigFile(filepath.Join(directory, ".sessionbroker", "broker.json"), cfg)
		loadConfigFile(filepath.Join(directory, ".sessionbroker", "broker.jsonc"), cfg)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// loadConfigFile loads a single config file, merging it into cfg. A
// missing file is not an error; callers attempt several candidate paths
// in sequence.
func loadConfigFile(path string, cfg *types.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	data = stripJSONComments(data)

	var fileConfig types.Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	mergeConfig(cfg, &fileConfig)
	return nil
}

// stripJSONComments removes // and /* */ comments from JSONC.
func stripJSONComments(data []byte) []byte {
	singleLine := regexp.MustCompile(`//.*$`)
	lines := bytes.Split(data, []byte("\n"))
	for i, line := range lines {
		lines[i] = singleLine.ReplaceAll(line, nil)
	}
	data = bytes.Join(lines, []byte("\n"))

	multiLine := regexp.MustCompile(`/\*[\s\S]*?\*/`)
	data = multiLine.ReplaceAll(data, nil)

	return data
}

// mergeConfig merges source into target, field by field; zero-valued
// scalar fields in source never override a value already set in target.
func mergeConfig(target, source *types.Config) {
	if source.Port != 0 {
		target.Port = source.Port
	}
	if source.MaxMessageHistoryLength != 0 {
		target.MaxMessageHistoryLength = source.MaxMessageHistoryLength
	}
	if source.PendingMessageQueueMaxSize != 0 {
		target.PendingMessageQueueMaxSize = source.PendingMessageQueueMaxSize
	}
	if source.ConsumerMessageRateLimit.TokensPerSecond != 0 {
		target.ConsumerMessageRateLimit.TokensPerSecond = source.ConsumerMessageRateLimit.TokensPerSecond
	}
	if source.ConsumerMessageRateLimit.BurstSize != 0 {
		target.ConsumerMessageRateLimit.BurstSize = source.ConsumerMessageRateLimit.BurstSize
	}
	if source.AuthTimeoutMs != 0 {
		target.AuthTimeoutMs = source.AuthTimeoutMs
	}
	if source.ReconnectGracePeriodMs != 0 {
		target.ReconnectGracePeriodMs = source.ReconnectGracePeriodMs
	}
	if source.RelaunchDedupMs != 0 {
		target.RelaunchDedupMs = source.RelaunchDedupMs
	}
	if source.IdleSessionTimeoutMs != 0 {
		target.IdleSessionTimeoutMs = source.IdleSessionTimeoutMs
	}
	if source.DataDir != "" {
		target.DataDir = source.DataDir
	}

	if source.ProviderConfig != nil {
		if target.ProviderConfig == nil {
			target.ProviderConfig = make(map[string]types.AdapterConfig)
		}
		for name, adapterCfg := range source.ProviderConfig {
			target.ProviderConfig[name] = adapterCfg
		}
	}
}

// providerEnvKeys maps an adapter name to the environment variable
// carrying its API key, mirroring the teacher's provider env overrides
// generalized to the broker's three backend adapters.
var providerEnvKeys = map[string]string{
	"claude": "ANTHROPIC_API_KEY",
	"codex":  "OPENAI_API_KEY",
	"gemini": "GOOGLE_API_KEY",
}

// applyEnvOverrides applies environment variable overrides, the last
// and highest-priority merge step.
func applyEnvOverrides(cfg *types.Config) {
	if cfg.ProviderConfig == nil {
		cfg.ProviderConfig = make(map[string]types.AdapterConfig)
	}
	for adapter, envVar := range providerEnvKeys {
		apiKey := os.Getenv(envVar)
		if apiKey == "" {
			continue
		}
		ac := cfg.ProviderConfig[adapter]
		if ac.APIKey == "" {
			ac.APIKey = apiKey
			cfg.ProviderConfig[adapter] = ac
		}
	}

	if port := os.Getenv("BROKER_PORT"); port != "" {
		if n, err := parsePort(port); err == nil {
			cfg.Port = n
		}
	}
}

// Save writes the configuration to path as indented JSON.
func Save(cfg *types.Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
