package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/anthropic"
	"github.com/firebase/genkit/go/plugins/compat_oai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
)

// ErrLLMDisabled is returned by Generate when no API key is configured.
var ErrLLMDisabled = errors.New("llm disabled: no API key configured")

// Client is the LLM abstraction the pipeline nodes call. Implementations
// must be safe for concurrent use.
type Client interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
	Enabled() bool
	Model() string
}

// ClientConfig holds configuration for the GenkitClient.
type ClientConfig struct {
	// Provider is the LLM provider: "google", "anthropic", "openai",
	// "openai_compatible", "openrouter". Empty defaults to "google".
	Provider string

	// Model is the model name for the configured provider.
	Model string

	// APIKey is the API key for the LLM provider.
	APIKey string

	// OpenAICompatible config.
	OpenAICompatibleProvider string
	OpenAICompatibleBaseURL  string
}

// GenkitClient backs the pipeline with a Genkit instance. Without an API
// key it initializes Genkit anyway and reports Enabled() == false, so the
// rest of the pipeline can fall back deterministically.
type GenkitClient struct {
	g       *genkit.Genkit
	cfg     ClientConfig
	enabled bool
}

// NewGenkitClient initializes Genkit with the configured LLM provider.
// Supports: google (Gemini), anthropic (Claude), openai (GPT), openai_compatible.
func NewGenkitClient(ctx context.Context, cfg ClientConfig) *GenkitClient {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "google"
	}
	cfg.Provider = provider

	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultModelForProvider(provider)
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		apiKey = envAPIKeyForProvider(provider)
	}

	var g *genkit.Genkit
	enabled := false

	switch provider {
	case "anthropic":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&anthropic.Anthropic{
				APIKey:  apiKey,
				BaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
			}))
			enabled = true
		} else {
			g = genkit.Init(ctx)
			slog.Warn("Anthropic API key missing; using deterministic fallback")
		}

	case "openai":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
				Provider: "openai",
				APIKey:   apiKey,
				BaseURL:  os.Getenv("OPENAI_BASE_URL"),
			}))
			enabled = true
		} else {
			g = genkit.Init(ctx)
			slog.Warn("OpenAI API key missing; using deterministic fallback")
		}

	case "openai_compatible":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
				Provider: cfg.OpenAICompatibleProvider,
				APIKey:   apiKey,
				BaseURL:  cfg.OpenAICompatibleBaseURL,
			}))
			enabled = true
		} else {
			g = genkit.Init(ctx)
			slog.Warn("OpenAI compatible API key missing; using deterministic fallback")
		}

	case "openrouter":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
				Provider: "openrouter",
				APIKey:   apiKey,
				BaseURL:  "https://openrouter.ai/api/v1",
			}))
			enabled = true
		} else {
			g = genkit.Init(ctx)
			slog.Warn("OpenRouter API key missing; using deterministic fallback")
		}

	case "google":
		if apiKey != "" {
			_ = os.Setenv("GEMINI_API_KEY", apiKey)
			g = genkit.Init(ctx,
				genkit.WithPlugins(&googlegenai.GoogleAI{}),
				genkit.WithDefaultModel("googleai/"+cfg.Model),
			)
			enabled = true
		} else {
			g = genkit.Init(ctx)
			slog.Warn("Google API key missing; using deterministic fallback")
		}

	default:
		g = genkit.Init(ctx)
		slog.Warn("unknown LLM provider, using deterministic fallback", "provider", provider)
	}

	if enabled {
		slog.Info("llm client initialized", "provider", provider, "model", cfg.Model)
	}

	return &GenkitClient{g: g, cfg: cfg, enabled: enabled}
}

func (c *GenkitClient) Enabled() bool {
	return c.enabled
}

func (c *GenkitClient) Model() string {
	return c.cfg.Model
}

// Generate runs one non-streaming completion.
func (c *GenkitClient) Generate(ctx context.Context, system, prompt string) (string, error) {
	if !c.enabled {
		return "", ErrLLMDisabled
	}

	opts := []ai.GenerateOption{
		ai.WithModelName(modelNameForProvider(c.cfg.Provider, c.cfg.Model)),
		ai.WithPrompt(strings.TrimSpace(prompt)),
	}
	if s := strings.TrimSpace(system); s != "" {
		// Escape % characters to prevent fmt.Sprintf corruption in ai.WithSystem().
		opts = append(opts, ai.WithSystem(strings.ReplaceAll(s, "%", "%%")))
	}

	resp, err := genkit.Generate(ctx, c.g, opts...)
	if err != nil {
		return "", fmt.Errorf("genkit generate: %w", err)
	}
	return resp.Text(), nil
}

func defaultModelForProvider(provider string) string {
	switch provider {
	case "anthropic":
		return "claude-sonnet-4-5"
	case "openai", "openai_compatible":
		return "gpt-4o-mini"
	case "openrouter":
		return "openrouter/auto"
	default:
		return "gemini-2.5-flash"
	}
}

func envAPIKeyForProvider(provider string) string {
	switch provider {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai", "openai_compatible":
		return os.Getenv("OPENAI_API_KEY")
	case "openrouter":
		return os.Getenv("OPENROUTER_API_KEY")
	case "google", "":
		if k := os.Getenv("GEMINI_API_KEY"); k != "" {
			return k
		}
		return os.Getenv("GOOGLE_API_KEY")
	default:
		return ""
	}
}

func modelNameForProvider(provider, model string) string {
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultModelForProvider(provider)
	}
	switch provider {
	case "anthropic":
		return "anthropic/" + model
	case "openai":
		return "openai/" + model
	case "openai_compatible", "openrouter":
		return model
	default:
		return "googleai/" + model
	}
}
