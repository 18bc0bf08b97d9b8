package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProviderConfig holds per-provider settings for multi-provider LLM support.
type ProviderConfig struct {
	APIKey  string   `yaml:"api_key"`
	BaseURL string   `yaml:"base_url"` // custom endpoint (e.g. OpenRouter)
	Models  []string `yaml:"models"`   // user-added models (merged with built-ins)
}

// LLMConfig holds configuration for all LLM providers.
type LLMConfig struct {
	// Provider names the active LLM provider: "google", "anthropic", "openai", "openai_compatible".
	Provider string `yaml:"provider"`

	// GoogleAI-specific config.
	GeminiModel string `yaml:"gemini_model"`

	// Anthropic-specific config.
	AnthropicModel string `yaml:"anthropic_model"`

	// OpenAI-specific config.
	OpenAIModel string `yaml:"openai_model"`

	// OpenAICompatible config.
	OpenAICompatibleProvider string `yaml:"openai_compatible_provider"` // provider name for model prefix
	OpenAICompatibleBaseURL  string `yaml:"openai_compatible_base_url"` // e.g. https://api.openai.com/v1
}

// ClassifyConfig controls the background category classifier.
type ClassifyConfig struct {
	// Enabled turns background classification on. Default true.
	Enabled *bool `yaml:"enabled"`

	// QueueDepth bounds the pending classification queue. Default 64.
	QueueDepth int `yaml:"queue_depth"`

	// ResweepCron schedules a periodic pass over unclassified tasks.
	// Empty disables the resweep. Default "@hourly".
	ResweepCron string `yaml:"resweep_cron"`
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	// Stdout prints spans to stderr for local debugging.
	Stdout bool `yaml:"stdout"`

	// OTLPEndpoint enables OTLP/HTTP export when non-empty (e.g. "localhost:4318").
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	// DBPath locates the SQLite database. Default <home>/giskard.db.
	DBPath string `yaml:"db_path"`

	// PromptsDir holds user prompt overrides. Default <home>/prompts.
	PromptsDir string `yaml:"prompts_dir"`

	// AuditLogPath locates the JSONL audit log. Default <home>/audit.jsonl.
	AuditLogPath string `yaml:"audit_log_path"`

	LogLevel string `yaml:"log_level"`

	// AgentTimeoutSeconds bounds one full orchestrated turn. Default 60.
	AgentTimeoutSeconds int `yaml:"agent_timeout_seconds"`

	// MaxActionsPerTurn caps how many planned actions the executor will run
	// for a single user message. Default 10.
	MaxActionsPerTurn int `yaml:"max_actions_per_turn"`

	LLM LLMConfig `yaml:"llm"`

	// Providers holds per-provider configuration (API keys, custom endpoints, extra models).
	Providers map[string]ProviderConfig `yaml:"providers"`

	Classify  ClassifyConfig  `yaml:"classify"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	NeedsGenesis bool `yaml:"-"`
}

// ClassifyEnabled reports whether background classification is on.
func (c Config) ClassifyEnabled() bool {
	if c.Classify.Enabled == nil {
		return true
	}
	return *c.Classify.Enabled
}

// LLMProviderAPIKey returns the API key for the specified LLM provider.
// Env vars take precedence: GEMINI_API_KEY, ANTHROPIC_API_KEY, OPENAI_API_KEY.
func (c Config) LLMProviderAPIKey(provider string) string {
	envMap := map[string]string{
		"google":     "GEMINI_API_KEY",
		"anthropic":  "ANTHROPIC_API_KEY",
		"openai":     "OPENAI_API_KEY",
		"openrouter": "OPENROUTER_API_KEY",
	}
	if envVar, ok := envMap[provider]; ok {
		if v := os.Getenv(envVar); v != "" {
			return v
		}
	}
	if c.Providers != nil {
		if p, ok := c.Providers[provider]; ok && p.APIKey != "" {
			return p.APIKey
		}
	}
	return ""
}

// ResolveLLMConfig returns the effective LLM provider, model, and API key.
func (c Config) ResolveLLMConfig() (provider, model, apiKey string) {
	provider = c.LLM.Provider
	if provider == "" {
		provider = "google"
	}
	// Normalize legacy provider name.
	if provider == "gemini" {
		provider = "google"
	}

	switch provider {
	case "anthropic":
		model = c.LLM.AnthropicModel
	case "openai", "openai_compatible", "openrouter":
		model = c.LLM.OpenAIModel
	case "google":
		model = c.LLM.GeminiModel
	}

	apiKey = c.LLMProviderAPIKey(provider)
	return provider, model, apiKey
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// loadRawConfig reads config.yaml into a generic map, returning an empty map if the file doesn't exist.
func loadRawConfig(path string) (map[string]interface{}, error) {
	raw := make(map[string]interface{})
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse config.yaml: %w", err)
		}
	}
	return raw, nil
}

// saveRawConfig marshals and writes a generic map back to config.yaml.
func saveRawConfig(path string, raw map[string]interface{}) error {
	out, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal config.yaml: %w", err)
	}
	return os.WriteFile(path, out, 0o644)
}

// SetModel updates the LLM provider and model in config.yaml, preserving other settings.
func SetModel(homeDir, provider, model string) error {
	configPath := ConfigPath(homeDir)
	raw, err := loadRawConfig(configPath)
	if err != nil {
		return err
	}
	llm, _ := raw["llm"].(map[string]interface{})
	if llm == nil {
		llm = make(map[string]interface{})
	}
	llm["provider"] = provider
	switch provider {
	case "anthropic":
		llm["anthropic_model"] = model
	case "openai", "openai_compatible", "openrouter":
		llm["openai_model"] = model
	default:
		llm["gemini_model"] = model
	}
	raw["llm"] = llm
	return saveRawConfig(configPath, raw)
}

// SetAPIKey updates a provider API key in config.yaml, preserving other settings.
func SetAPIKey(homeDir, provider, value string) error {
	configPath := ConfigPath(homeDir)
	raw, err := loadRawConfig(configPath)
	if err != nil {
		return err
	}
	providers, _ := raw["providers"].(map[string]interface{})
	if providers == nil {
		providers = make(map[string]interface{})
	}
	entry, _ := providers[provider].(map[string]interface{})
	if entry == nil {
		entry = make(map[string]interface{})
	}
	entry["api_key"] = value
	providers[provider] = entry
	raw["providers"] = providers
	return saveRawConfig(configPath, raw)
}

// Fingerprint returns a stable hash of the active config, logged at startup
// so a trace can be matched to the settings that produced it.
func (c Config) Fingerprint() string {
	provider, model, _ := c.ResolveLLMConfig()
	h := fnv.New64a()
	fmt.Fprintf(h, "db=%s|log=%s|timeout=%d|actions=%d|provider=%s|model=%s",
		c.DBPath, c.LogLevel, c.AgentTimeoutSeconds, c.MaxActionsPerTurn, provider, model)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	return Config{
		LogLevel:            "info",
		AgentTimeoutSeconds: 60,
		MaxActionsPerTurn:   10,
		Classify: ClassifyConfig{
			QueueDepth:  64,
			ResweepCron: "@hourly",
		},
	}
}

func HomeDir() string {
	if override := os.Getenv("GISKARD_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".giskard")
}

func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create giskard home: %w", err)
	}

	configPath := ConfigPath(cfg.HomeDir)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.NeedsGenesis = true
		} else {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = filepath.Join(cfg.HomeDir, "giskard.db")
	}
	if strings.TrimSpace(cfg.PromptsDir) == "" {
		cfg.PromptsDir = filepath.Join(cfg.HomeDir, "prompts")
	}
	if strings.TrimSpace(cfg.AuditLogPath) == "" {
		cfg.AuditLogPath = filepath.Join(cfg.HomeDir, "audit.jsonl")
	}
	if cfg.AgentTimeoutSeconds <= 0 {
		cfg.AgentTimeoutSeconds = 60
	}
	if cfg.MaxActionsPerTurn <= 0 {
		cfg.MaxActionsPerTurn = 10
	}
	if cfg.Classify.QueueDepth <= 0 {
		cfg.Classify.QueueDepth = 64
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "google"
	}
	if cfg.LLM.Provider == "gemini" {
		cfg.LLM.Provider = "google"
	}
	if cfg.LLM.GeminiModel == "" {
		cfg.LLM.GeminiModel = "gemini-2.5-flash"
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("GISKARD_DB_PATH"); raw != "" {
		cfg.DBPath = raw
	}
	if raw := os.Getenv("GISKARD_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("GISKARD_AGENT_TIMEOUT_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.AgentTimeoutSeconds = v
		}
	}
	if raw := os.Getenv("GISKARD_PROMPTS_DIR"); raw != "" {
		cfg.PromptsDir = raw
	}
	if raw := os.Getenv("GISKARD_OTLP_ENDPOINT"); raw != "" {
		cfg.Telemetry.OTLPEndpoint = raw
	}
	if raw := os.Getenv("GEMINI_MODEL"); raw != "" {
		cfg.LLM.GeminiModel = raw
	}
}
