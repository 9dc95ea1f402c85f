package ghostline

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	defaults "github.com/velvetfork/ghostline/default"
)

// Config represents the user's ghostline configuration.
type Config struct {
	Version    int              `toml:"version" json:"version"`
	Generation GenerationConfig `toml:"generation" json:"generation"`
	Engine     EngineConfig     `toml:"engine" json:"engine"`
	Block      BlockConfig      `toml:"block" json:"block"`
}

// GenerationConfig holds settings for the completion API.
type GenerationConfig struct {
	BaseURL     string   `toml:"base_url" json:"base_url"`
	APIKey      string   `toml:"api_key" json:"api_key"`
	Model       string   `toml:"model" json:"model"`
	MaxTokens   int      `toml:"max_tokens" json:"max_tokens,omitempty"`
	Temperature float64  `toml:"temperature" json:"temperature,omitempty"`
	Stop        []string `toml:"stop" json:"stop,omitempty"`
	// Choices is the sampling count requested per call.
	Choices int `toml:"choices" json:"choices,omitempty"`
	// CyclingChoices is the sampling count for explicit cycling requests.
	CyclingChoices int `toml:"cycling_choices" json:"cycling_choices,omitempty"`
	// FollowupMaxTokens caps the bounded multi-line follow-up request issued
	// right after a suggestion was accepted.
	FollowupMaxTokens int `toml:"followup_max_tokens" json:"followup_max_tokens,omitempty"`
}

// EngineConfig holds orchestration timing and capacity settings.
type EngineConfig struct {
	// CacheCapacity is the number of distinct prefix keys the prefix cache holds.
	CacheCapacity int `toml:"cache_capacity" json:"cache_capacity,omitempty"`
	// DebounceMS is the wait before a request is allowed to hit the network.
	DebounceMS int `toml:"debounce_ms" json:"debounce_ms,omitempty"`
	// DelayMS is the artificial response delay applied before returning
	// network and cache results.
	DelayMS int `toml:"delay_ms" json:"delay_ms,omitempty"`
	// FlightWaitMS bounds how long a new request waits on a compatible
	// in-flight request before issuing its own.
	FlightWaitMS int `toml:"flight_wait_ms" json:"flight_wait_ms,omitempty"`
	// FlightRetentionS is how long a settled in-flight record stays
	// observable to late waiters.
	FlightRetentionS int `toml:"flight_retention_s" json:"flight_retention_s,omitempty"`
	// Speculative enables the prefetch issued after a successful result,
	// assuming the first candidate will be accepted.
	Speculative *bool `toml:"speculative" json:"speculative,omitempty"`
	// FailFast propagates internal panics instead of converting them to a
	// failed result. Test diagnosis only.
	FailFast bool `toml:"fail_fast" json:"fail_fast,omitempty"`
}

// BlockConfig governs multi-line trimming.
type BlockConfig struct {
	// Mode is "parsing" (client-side trim), "server" (server-side
	// truncation), or "off" (single-line only).
	Mode string `toml:"mode" json:"mode"`
	// Policy is "verbose" or "terse".
	Policy string `toml:"policy" json:"policy"`
	// MaxLines is the verbose policy's line-count budget.
	MaxLines int `toml:"max_lines" json:"max_lines,omitempty"`
	// TerseMaxLines is the terse policy's hard line limit.
	TerseMaxLines int `toml:"terse_max_lines" json:"terse_max_lines,omitempty"`
	// Lookahead is the terse policy's boundary look-ahead allowance in lines.
	Lookahead int `toml:"lookahead" json:"lookahead,omitempty"`
	// Languages lists languageIDs eligible for multi-line requests.
	Languages []string `toml:"languages" json:"languages,omitempty"`
}

// ConfigDir returns the config directory path.
// Resolution order: $GHOSTLINE_CONFIG_DIR > $XDG_CONFIG_HOME/ghostline > ~/.config/ghostline
func ConfigDir() string {
	if dir := os.Getenv("GHOSTLINE_CONFIG_DIR"); dir != "" {
		return dir
	}
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "ghostline")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("/tmp", "ghostline-config")
	}
	return filepath.Join(home, ".config", "ghostline")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// DefaultConfig returns the default configuration from the embedded
// default_config.toml.
func DefaultConfig() *Config {
	var cfg Config
	if err := toml.Unmarshal(defaults.DefaultConfigTOML, &cfg); err != nil {
		panic("ghostline: invalid embedded default_config.toml: " + err.Error())
	}
	return &cfg
}

// LoadConfig loads config from disk or returns defaults if not found.
func LoadConfig() (*Config, error) {
	path := ConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Apply defaults for missing fields
	def := DefaultConfig()
	if cfg.Generation.BaseURL == "" {
		cfg.Generation.BaseURL = def.Generation.BaseURL
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = def.Generation.Model
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = def.Generation.MaxTokens
	}
	if cfg.Generation.Temperature == 0 {
		cfg.Generation.Temperature = def.Generation.Temperature
	}
	if len(cfg.Generation.Stop) == 0 {
		cfg.Generation.Stop = def.Generation.Stop
	}
	if cfg.Generation.Choices == 0 {
		cfg.Generation.Choices = def.Generation.Choices
	}
	if cfg.Generation.CyclingChoices == 0 {
		cfg.Generation.CyclingChoices = def.Generation.CyclingChoices
	}
	if cfg.Generation.FollowupMaxTokens == 0 {
		cfg.Generation.FollowupMaxTokens = def.Generation.FollowupMaxTokens
	}
	if cfg.Engine.CacheCapacity == 0 {
		cfg.Engine.CacheCapacity = def.Engine.CacheCapacity
	}
	if cfg.Engine.DebounceMS == 0 {
		cfg.Engine.DebounceMS = def.Engine.DebounceMS
	}
	if cfg.Engine.DelayMS == 0 {
		cfg.Engine.DelayMS = def.Engine.DelayMS
	}
	if cfg.Engine.FlightWaitMS == 0 {
		cfg.Engine.FlightWaitMS = def.Engine.FlightWaitMS
	}
	if cfg.Engine.FlightRetentionS == 0 {
		cfg.Engine.FlightRetentionS = def.Engine.FlightRetentionS
	}
	if cfg.Engine.Speculative == nil {
		cfg.Engine.Speculative = def.Engine.Speculative
	}
	if cfg.Block.Mode == "" {
		cfg.Block.Mode = def.Block.Mode
	}
	if cfg.Block.Policy == "" {
		cfg.Block.Policy = def.Block.Policy
	}
	if cfg.Block.MaxLines == 0 {
		cfg.Block.MaxLines = def.Block.MaxLines
	}
	if cfg.Block.TerseMaxLines == 0 {
		cfg.Block.TerseMaxLines = def.Block.TerseMaxLines
	}
	if cfg.Block.Lookahead == 0 {
		cfg.Block.Lookahead = def.Block.Lookahead
	}
	if len(cfg.Block.Languages) == 0 {
		cfg.Block.Languages = def.Block.Languages
	}

	return &cfg, nil
}

// ValidateConfig checks configuration for potential issues and returns warnings.
func ValidateConfig(cfg *Config) []string {
	var warnings []string
	if cfg == nil {
		return warnings
	}
	switch cfg.Block.Mode {
	case "parsing", "server", "off":
	default:
		warnings = append(warnings, "block.mode should be one of parsing/server/off; falling back to off")
	}
	switch cfg.Block.Policy {
	case "verbose", "terse":
	default:
		warnings = append(warnings, "block.policy should be verbose or terse; falling back to verbose")
	}
	if ResolveAPIKey(cfg) == "" {
		warnings = append(warnings, "generation API key is not configured; set GHOSTLINE_API_KEY or generation.api_key")
	}
	return warnings
}

// ResolveBaseURL returns the completion API base URL.
// Priority: $GHOSTLINE_BASE_URL env > config value.
func ResolveBaseURL(cfg *Config) string {
	if url := os.Getenv("GHOSTLINE_BASE_URL"); url != "" {
		return url
	}
	if cfg != nil {
		return cfg.Generation.BaseURL
	}
	return ""
}

// ResolveAPIKey returns the completion API key.
// Priority: $GHOSTLINE_API_KEY env > config value.
func ResolveAPIKey(cfg *Config) string {
	if key := os.Getenv("GHOSTLINE_API_KEY"); key != "" {
		return key
	}
	if cfg != nil {
		return cfg.Generation.APIKey
	}
	return ""
}

// ResolveModel returns the completion model name.
// Priority: $GHOSTLINE_MODEL env > config value.
func ResolveModel(cfg *Config) string {
	if model := os.Getenv("GHOSTLINE_MODEL"); model != "" {
		return model
	}
	if cfg != nil {
		return cfg.Generation.Model
	}
	return ""
}

// SpeculativeEnabled returns whether the post-success prefetch is enabled.
func SpeculativeEnabled(cfg *Config) bool {
	if cfg == nil || cfg.Engine.Speculative == nil {
		return true // default true
	}
	return *cfg.Engine.Speculative
}
