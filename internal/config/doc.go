// Package config provides configuration loading, merging, and path
// management for the broker.
//
// # Configuration Loading
//
// Load implements a priority-ordered merge of multiple sources:
//
//  1. Global config (~/.config/sessionbroker/broker.json(c))
//  2. Project config (<directory>/.sessionbroker/broker.json(c))
//  3. Environment variables
//
// Later sources override earlier ones field by field; a zero-valued
// scalar field in a later source never clobbers a value already set by
// an earlier one.
//
// # Supported Formats
//
// Both broker.json and broker.jsonc (JSON with // and /* */ comments,
// stripped before unmarshalling) are supported.
//
// # Path Management
//
// GetPaths returns XDG Base Directory Specification paths:
//   - Data:   ~/.local/share/sessionbroker  (XDG_DATA_HOME)
//   - Config: ~/.config/sessionbroker       (XDG_CONFIG_HOME)
//   - Cache:  ~/.cache/sessionbroker        (XDG_CACHE_HOME)
//   - State:  ~/.local/state/sessionbroker  (XDG_STATE_HOME)
//
// On Windows these fall back to APPDATA.
//
// # Environment Variable Overrides
//
//   - ANTHROPIC_API_KEY / OPENAI_API_KEY / GOOGLE_API_KEY — per-adapter
//     credentials, applied only when the config file left that
//     adapter's APIKey unset.
//   - BROKER_PORT — overrides the listen port.
//
// # Usage
//
//	cfg, err := config.Load(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	paths := config.GetPaths()
//	if err := paths.EnsurePaths(); err != nil {
//	    log.Fatal(err)
//	}
package config
