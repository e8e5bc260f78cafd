package types

// Config is the broker's top-level configuration (spec §6). Loaded the
// way the teacher loads opencode.json(c): global config dir, then
// project-local file, then environment overrides, merged in that
// priority order.
type Config struct {
	Port int `json:"port"`

	MaxMessageHistoryLength    int `json:"maxMessageHistoryLength,omitempty"`
	PendingMessageQueueMaxSize int `json:"pendingMessageQueueMaxSize,omitempty"`

	ConsumerMessageRateLimit RateLimitConfig `json:"consumerMessageRateLimit,omitempty"`

	AuthTimeoutMs          int `json:"authTimeoutMs,omitempty"`
	ReconnectGracePeriodMs int `json:"reconnectGracePeriodMs,omitempty"`
	RelaunchDedupMs        int `json:"relaunchDedupMs,omitempty"`
	IdleSessionTimeoutMs   int `json:"idleSessionTimeoutMs,omitempty"`

	ProviderConfig map[string]AdapterConfig `json:"providerConfig,omitempty"`

	DataDir string `json:"dataDir,omitempty"`
}

// RateLimitConfig configures the per-socket token bucket (spec §4.4,
// §6): burstSize tokens available immediately, refilled at
// tokensPerSecond.
type RateLimitConfig struct {
	TokensPerSecond float64 `json:"tokensPerSecond,omitempty"`
	BurstSize       int     `json:"burstSize,omitempty"`
}

// AdapterConfig holds per-backend-adapter configuration: how to spawn
// or dial the backend, and any credentials it needs.
type AdapterConfig struct {
	Command     []string          `json:"command,omitempty"`
	URL         string            `json:"url,omitempty"`
	APIKey      string            `json:"apiKey,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	StartupTimeoutMs int          `json:"startupTimeoutMs,omitempty"`
	Disabled    bool              `json:"disabled,omitempty"`
}

// DefaultConfig returns the defaults named throughout spec §5/§6.
func DefaultConfig() *Config {
	return &Config{
		Port:                       4096,
		MaxMessageHistoryLength:    1000,
		PendingMessageQueueMaxSize: 256,
		ConsumerMessageRateLimit: RateLimitConfig{
			TokensPerSecond: 50,
			BurstSize:       20,
		},
		AuthTimeoutMs:          5000,
		ReconnectGracePeriodMs: 5000,
		RelaunchDedupMs:        2000,
		IdleSessionTimeoutMs:   0,
		ProviderConfig:         map[string]AdapterConfig{},
	}
}
