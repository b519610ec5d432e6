package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultModel     = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens = 4096
	DefaultBufSize   = 100

	DefaultWindowSize          = 30
	DefaultDistillThreshold    = 12
	DefaultSimilarityThreshold = 0.5
	DefaultMaxSummaryLen       = 1200
	DefaultPromptBudget        = 6000
	DefaultLookupTimeoutMs     = 500
	DefaultDistillTimeoutSec   = 60

	DefaultTypingBaseDelayMs    = 1000
	DefaultTypingDelayPerCharMs = 40
	DefaultBoredomThresholdMin  = 120
)

type Config struct {
	Agent    AgentConfig    `json:"agent"`
	Provider ProviderConfig `json:"provider"`
	Channels ChannelsConfig `json:"channels"`
	Gateway  GatewayConfig  `json:"gateway"`
	Memory   MemoryConfig   `json:"memory"`
}

type AgentConfig struct {
	Workspace string `json:"workspace"`
	Model     string `json:"model"`
	MaxTokens int    `json:"maxTokens"`
}

type ProviderConfig struct {
	Type    string `json:"type,omitempty"` // "anthropic" (default) or "openai"
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty"`
}

type GatewayConfig struct {
	TriggerWords        []string     `json:"triggerWords"`
	Stealth             bool         `json:"stealth"`
	BoredomThresholdMin int          `json:"boredomThresholdMin"`
	Typing              TypingConfig `json:"typing"`
}

type TypingConfig struct {
	BaseDelayMs    int `json:"baseDelayMs"`
	DelayPerCharMs int `json:"delayPerCharMs"`
}

// MemoryConfig tunes the memory core. Provider/Model override the agent
// provider for distillation calls only.
type MemoryConfig struct {
	DBPath              string          `json:"dbPath,omitempty"`
	Model               string          `json:"model,omitempty"`
	MaxTokens           int             `json:"maxTokens,omitempty"`
	Provider            *ProviderConfig `json:"provider,omitempty"`
	WindowSize          int             `json:"windowSize,omitempty"`
	DistillThreshold    int             `json:"distillThreshold,omitempty"`
	SimilarityThreshold float64         `json:"similarityThreshold,omitempty"`
	MaxSummaryLen       int             `json:"maxSummaryLen,omitempty"`
	PromptBudget        int             `json:"promptBudget,omitempty"`
	LookupTimeoutMs     int             `json:"lookupTimeoutMs,omitempty"`
	Retention           RetentionConfig `json:"retention"`
}

// RetentionConfig controls the optional archive sweep for stale low-weight
// records. Disabled by default; records are otherwise kept until pruned by
// hand.
type RetentionConfig struct {
	Enabled   bool    `json:"enabled"`
	Days      int     `json:"days,omitempty"`
	MinWeight float64 `json:"minWeight,omitempty"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Agent: AgentConfig{
			Workspace: filepath.Join(home, ".wisp", "workspace"),
			Model:     DefaultModel,
			MaxTokens: DefaultMaxTokens,
		},
		Provider: ProviderConfig{},
		Channels: ChannelsConfig{},
		Gateway: GatewayConfig{
			BoredomThresholdMin: DefaultBoredomThresholdMin,
			Typing: TypingConfig{
				BaseDelayMs:    DefaultTypingBaseDelayMs,
				DelayPerCharMs: DefaultTypingDelayPerCharMs,
			},
		},
		Memory: MemoryConfig{
			WindowSize:          DefaultWindowSize,
			DistillThreshold:    DefaultDistillThreshold,
			SimilarityThreshold: DefaultSimilarityThreshold,
			MaxSummaryLen:       DefaultMaxSummaryLen,
			PromptBudget:        DefaultPromptBudget,
			LookupTimeoutMs:     DefaultLookupTimeoutMs,
			Retention: RetentionConfig{
				Enabled:   false,
				Days:      90,
				MinWeight: 0.3,
			},
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".wisp")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func PersonaPath() string {
	return filepath.Join(ConfigDir(), "persona.json")
}

func LoadConfig() (*Config, error) {
	return LoadConfigFrom(ConfigPath())
}

func LoadConfigFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if key := os.Getenv("WISP_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
		if cfg.Provider.Type == "" {
			cfg.Provider.Type = "openai"
		}
	}
	if url := os.Getenv("WISP_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if token := os.Getenv("WISP_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if model := os.Getenv("WISP_MEMORY_MODEL"); model != "" {
		cfg.Memory.Model = model
	}
	if key := os.Getenv("WISP_MEMORY_API_KEY"); key != "" {
		if cfg.Memory.Provider == nil {
			cfg.Memory.Provider = &ProviderConfig{}
		}
		cfg.Memory.Provider.APIKey = key
	}
	if url := os.Getenv("WISP_MEMORY_BASE_URL"); url != "" {
		if cfg.Memory.Provider == nil {
			cfg.Memory.Provider = &ProviderConfig{}
		}
		cfg.Memory.Provider.BaseURL = url
	}
	if dbPath := os.Getenv("WISP_MEMORY_DB_PATH"); dbPath != "" {
		cfg.Memory.DBPath = dbPath
	}
	if v := os.Getenv("WISP_WINDOW_SIZE"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			cfg.Memory.WindowSize = parsed
		}
	}
	if v := os.Getenv("WISP_DISTILL_THRESHOLD"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			cfg.Memory.DistillThreshold = parsed
		}
	}
	if v := os.Getenv("WISP_SIMILARITY_THRESHOLD"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed > 0 {
			cfg.Memory.SimilarityThreshold = parsed
		}
	}
	if v := os.Getenv("WISP_STEALTH"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.Gateway.Stealth = parsed
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Agent.Workspace == "" {
		cfg.Agent.Workspace = DefaultConfig().Agent.Workspace
	}
	if cfg.Agent.Model == "" {
		cfg.Agent.Model = DefaultModel
	}
	if cfg.Agent.MaxTokens <= 0 {
		cfg.Agent.MaxTokens = DefaultMaxTokens
	}
	if cfg.Memory.WindowSize <= 0 {
		cfg.Memory.WindowSize = DefaultWindowSize
	}
	if cfg.Memory.DistillThreshold <= 0 {
		cfg.Memory.DistillThreshold = DefaultDistillThreshold
	}
	if cfg.Memory.SimilarityThreshold <= 0 || cfg.Memory.SimilarityThreshold > 1 {
		cfg.Memory.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if cfg.Memory.MaxSummaryLen <= 0 {
		cfg.Memory.MaxSummaryLen = DefaultMaxSummaryLen
	}
	if cfg.Memory.PromptBudget <= 0 {
		cfg.Memory.PromptBudget = DefaultPromptBudget
	}
	if cfg.Memory.LookupTimeoutMs <= 0 {
		cfg.Memory.LookupTimeoutMs = DefaultLookupTimeoutMs
	}
	if cfg.Gateway.BoredomThresholdMin <= 0 {
		cfg.Gateway.BoredomThresholdMin = DefaultBoredomThresholdMin
	}
	if cfg.Gateway.Typing.BaseDelayMs <= 0 {
		cfg.Gateway.Typing.BaseDelayMs = DefaultTypingBaseDelayMs
	}
	if cfg.Gateway.Typing.DelayPerCharMs < 0 {
		cfg.Gateway.Typing.DelayPerCharMs = DefaultTypingDelayPerCharMs
	}
	if cfg.Memory.Retention.Days <= 0 {
		cfg.Memory.Retention.Days = 90
	}
	if cfg.Memory.Retention.MinWeight <= 0 {
		cfg.Memory.Retention.MinWeight = 0.3
	}
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
