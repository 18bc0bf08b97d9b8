// Package doctor runs environment diagnostics: config, API key, database,
// prompt overrides, filesystem permissions, and provider reachability.
package doctor

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/basket/giskard/internal/config"
	"github.com/basket/giskard/internal/store"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Run executes all diagnostic checks.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfig,
		checkAPIKey,
		checkDatabase,
		checkPrompts,
		checkPermissions,
		checkNetwork,
	}

	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}

	return d
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "Configuration not loaded"}
	}
	if cfg.NeedsGenesis {
		return CheckResult{Name: "Config", Status: "WARN", Message: "Configuration missing (needs genesis)"}
	}
	return CheckResult{Name: "Config", Status: "PASS", Message: fmt.Sprintf("Loaded from %s", cfg.HomeDir)}
}

func checkAPIKey(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "API Key", Status: "SKIP", Message: "Config missing"}
	}

	provider, _, apiKey := cfg.ResolveLLMConfig()
	if apiKey != "" {
		return CheckResult{Name: "API Key", Status: "PASS", Message: fmt.Sprintf("Key configured for %s provider", provider)}
	}

	envVars := map[string]string{
		"google":     "GEMINI_API_KEY",
		"openai":     "OPENAI_API_KEY",
		"anthropic":  "ANTHROPIC_API_KEY",
		"openrouter": "OPENROUTER_API_KEY",
	}
	envVar, ok := envVars[provider]
	if !ok {
		return CheckResult{Name: "API Key", Status: "PASS", Message: fmt.Sprintf("Provider %q uses api_key from config (no standard env var)", provider)}
	}
	return CheckResult{
		Name:    "API Key",
		Status:  "WARN",
		Message: fmt.Sprintf("%s not set (required for %s provider)", envVar, provider),
		Detail:  fmt.Sprintf("Set %s or add providers.%s.api_key to config.yaml; the agent runs in deterministic fallback mode without it", envVar, provider),
	}
}

func checkDatabase(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Database", Status: "SKIP", Message: "Config missing"}
	}

	st, err := store.Open(cfg.DBPath, nil)
	if err != nil {
		return CheckResult{Name: "Database", Status: "FAIL", Message: fmt.Sprintf("Connection failed: %v", err)}
	}
	defer st.Close()

	count, err := st.CountTasks(ctx)
	if err != nil {
		return CheckResult{Name: "Database", Status: "FAIL", Message: fmt.Sprintf("Query failed: %v", err)}
	}
	return CheckResult{Name: "Database", Status: "PASS", Message: fmt.Sprintf("Schema valid, %d tasks", count)}
}

func checkPrompts(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Prompts", Status: "SKIP", Message: "Config missing"}
	}

	entries, err := os.ReadDir(cfg.PromptsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return CheckResult{Name: "Prompts", Status: "PASS", Message: "No overrides; built-in prompts active"}
		}
		return CheckResult{Name: "Prompts", Status: "WARN", Message: fmt.Sprintf("Prompts dir unreadable: %v", err)}
	}

	overrides := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".txt") && strings.Contains(e.Name(), "_v") {
			overrides++
		}
	}
	if overrides == 0 {
		return CheckResult{Name: "Prompts", Status: "PASS", Message: "No overrides; built-in prompts active"}
	}
	return CheckResult{Name: "Prompts", Status: "PASS", Message: fmt.Sprintf("%d prompt override file(s) in %s", overrides, cfg.PromptsDir)}
}

func checkPermissions(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Permissions", Status: "SKIP", Message: "Config missing"}
	}

	testFile := filepath.Join(cfg.HomeDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "Permissions", Status: "FAIL", Message: fmt.Sprintf("Home dir unwritable: %v", err)}
	}
	os.Remove(testFile)

	return CheckResult{Name: "Permissions", Status: "PASS", Message: "Home directory writable"}
}

func checkNetwork(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Network", Status: "SKIP", Message: "Config missing"}
	}

	provider, _, _ := cfg.ResolveLLMConfig()
	endpoints := map[string]string{
		"google":            "generativelanguage.googleapis.com",
		"anthropic":         "api.anthropic.com",
		"openai":            "api.openai.com",
		"openrouter":        "openrouter.ai",
		"openai_compatible": "api.openai.com",
	}
	host, ok := endpoints[provider]
	if !ok {
		host = "generativelanguage.googleapis.com"
	}

	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	addrs, err := net.DefaultResolver.LookupHost(lookupCtx, host)
	latency := time.Since(start)

	if err != nil {
		return CheckResult{
			Name:    "Network",
			Status:  "FAIL",
			Message: fmt.Sprintf("DNS lookup failed for %s: %v", host, err),
			Detail:  fmt.Sprintf("provider=%s, latency=%dms", provider, latency.Milliseconds()),
		}
	}

	return CheckResult{
		Name:    "Network",
		Status:  "PASS",
		Message: fmt.Sprintf("DNS resolved %s (%d addresses, %dms)", host, len(addrs), latency.Milliseconds()),
		Detail:  fmt.Sprintf("provider=%s, addresses=%v", provider, addrs),
	}
}
