package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"

	"github.com/basket/giskard/internal/actions"
	"github.com/basket/giskard/internal/agent"
	"github.com/basket/giskard/internal/audit"
	"github.com/basket/giskard/internal/bus"
	"github.com/basket/giskard/internal/classify"
	"github.com/basket/giskard/internal/config"
	"github.com/basket/giskard/internal/cron"
	otelPkg "github.com/basket/giskard/internal/otel"
	"github.com/basket/giskard/internal/prompt"
	"github.com/basket/giskard/internal/shared"
	"github.com/basket/giskard/internal/store"
	"github.com/basket/giskard/internal/task"
	"github.com/basket/giskard/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

INTERACTIVE MODE (default):
  %s                          Start the interactive chat REPL

SERVE MODE:
  %s -serve                   Run headless (classifier + resweep only, logs to stdout)

SUBCOMMANDS:
  %s import [options]         Import a legacy todo.txt file into the database
                              Options: --path <file> (default: todo.txt)
  %s trace <trace_id>         Dump the step log for one agent trace
  %s sessions                 List recorded chat sessions
  %s doctor [-json]           Run diagnostic checks

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  GISKARD_HOME            Data directory (default: ~/.giskard)
  GISKARD_NO_REPL         Set to 1 to disable the REPL (use with -serve)
  GEMINI_API_KEY          Required for the Google provider
  ANTHROPIC_API_KEY       Required for the Anthropic provider
  OPENAI_API_KEY          Required for the OpenAI provider

EXAMPLES:
  Interactive chat:       %s
  Headless mode:          %s -serve
  Import legacy tasks:    %s import --path ~/todo.txt
  Inspect a trace:        %s trace trace-1a2b3c
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
}

func main() {
	loadDotEnv(".env")

	interactive := isatty.IsTerminal(os.Stdin.Fd()) && os.Getenv("GISKARD_NO_REPL") == ""
	serve := flag.Bool("serve", false, "run headless (no chat REPL, logs to stdout)")
	flag.Usage = printUsage
	flag.Parse()

	if *serve {
		interactive = false
	}

	// Quiet logs (file-only) in interactive mode so the REPL stays clean.
	quietLogs := interactive

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// CLI subcommands (one-shot actions).
	if args := flag.Args(); len(args) > 0 {
		switch strings.ToLower(strings.TrimSpace(args[0])) {
		case "help", "-h", "--help":
			printUsage()
			os.Exit(0)
		case "import":
			os.Exit(runImportCommand(ctx, args[1:]))
		case "trace":
			os.Exit(runTraceCommand(ctx, args[1:]))
		case "sessions":
			os.Exit(runSessionsCommand(ctx, args[1:]))
		case "doctor":
			os.Exit(runDoctorCommand(ctx, args[1:]))
		default:
			fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", args[0])
			printUsage()
			os.Exit(2)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	if err := audit.Init(cfg.AuditLogPath); err != nil {
		fatalStartup(nil, "E_AUDIT_INIT", err)
	}
	defer func() { _ = audit.Close() }()

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quietLogs)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "fingerprint", cfg.Fingerprint())

	if cfg.NeedsGenesis {
		if err := writeStarterConfig(cfg.HomeDir); err != nil {
			fatalStartup(logger, "E_CONFIG_WRITE", err)
		}
		logger.Info("config.yaml written with starter settings", "home", cfg.HomeDir)
		cfg, err = config.Load()
		if err != nil {
			fatalStartup(logger, "E_CONFIG_RELOAD", err)
		}
	}

	// Create the event bus early so it can be passed to the store.
	eventBus := bus.New()

	telemetryEnabled := cfg.Telemetry.Stdout || cfg.Telemetry.OTLPEndpoint != ""
	exporter := "stdout"
	if cfg.Telemetry.OTLPEndpoint != "" {
		exporter = "otlp-http"
	}
	otelProvider, err := otelPkg.Init(ctx, otelPkg.Config{
		Enabled:  telemetryEnabled,
		Exporter: exporter,
		Endpoint: cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(context.Background())

	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "E_METRICS_INIT", err)
	}

	st, err := store.Open(cfg.DBPath, eventBus)
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer st.Close()
	logger.Info("startup phase", "phase", "schema_migrated", "db", cfg.DBPath)

	prompts := prompt.NewRegistry(cfg.PromptsDir, logger)
	promptWatcher := prompt.NewWatcher(cfg.PromptsDir, prompts, logger)
	if err := promptWatcher.Start(ctx); err != nil {
		logger.Warn("prompt watcher unavailable, edits need a restart", "error", err)
	} else {
		go func() {
			for name := range promptWatcher.Events() {
				logger.Info("prompt override reloaded", "file", name)
			}
		}()
	}

	configWatcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := configWatcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	} else {
		go func() {
			for ev := range configWatcher.Events() {
				logger.Info("config.yaml changed; restart to apply", "path", ev.Path)
			}
		}()
	}

	llmProvider, llmModel, llmAPIKey := cfg.ResolveLLMConfig()
	client := agent.NewGenkitClient(ctx, agent.ClientConfig{
		Provider:                 llmProvider,
		Model:                    llmModel,
		APIKey:                   llmAPIKey,
		OpenAICompatibleProvider: cfg.LLM.OpenAICompatibleProvider,
		OpenAICompatibleBaseURL:  cfg.LLM.OpenAICompatibleBaseURL,
	})

	actionRegistry, err := actions.NewRegistry()
	if err != nil {
		fatalStartup(logger, "E_ACTION_REGISTRY", err)
	}

	var enqueuer actions.Enqueuer
	classifier := classify.New(client, prompts, st, eventBus, metrics, cfg.Classify.QueueDepth, logger)
	if cfg.ClassifyEnabled() {
		classifier.Start(ctx)
		defer classifier.Stop()
		enqueuer = classifier

		if cfg.Classify.ResweepCron != "" {
			resweep, err := cron.NewScheduler(cron.Config{
				Spec:   cfg.Classify.ResweepCron,
				Logger: logger,
				Job: func(ctx context.Context) {
					if n := classifier.SweepUncategorized(ctx); n > 0 {
						logger.Info("resweep queued uncategorized tasks", "count", n)
					}
				},
			})
			if err != nil {
				fatalStartup(logger, "E_RESWEEP_SCHEDULE", err)
			}
			resweep.Start(ctx)
			defer resweep.Stop()
		}
	} else {
		logger.Info("background classification disabled")
	}

	executor := actions.NewExecutor(st, actionRegistry, enqueuer, logger)
	router := agent.NewRouter(client, prompts, actionRegistry, logger)
	synth := agent.NewSynthesizer(client, prompts, logger)
	orch := agent.NewOrchestrator(st, router, synth, executor, agent.Config{
		Timeout:    time.Duration(cfg.AgentTimeoutSeconds) * time.Second,
		MaxActions: cfg.MaxActionsPerTurn,
	}, otelProvider.Tracer, metrics, logger)

	if !client.Enabled() {
		logger.Warn("no API key configured; agent runs in deterministic fallback mode", "provider", llmProvider)
	}
	logger.Info("startup phase", "phase", "ready", "version", Version, "provider", llmProvider, "model", llmModel)

	if interactive {
		runREPL(ctx, orch, st, client)
		return
	}

	fmt.Println("giskard running headless; Ctrl+C to stop")
	<-ctx.Done()
	logger.Info("shutdown signal received")
}

// runREPL drives the chat loop. One session spans the whole process; each
// message becomes its own trace.
func runREPL(ctx context.Context, orch *agent.Orchestrator, st *store.Store, client agent.Client) {
	sessionID := shared.NewSessionID()
	lastTraceID := ""

	fmt.Printf("giskard %s, personal task assistant\n", Version)
	if !client.Enabled() {
		fmt.Println("(no API key configured; replies are deterministic until one is set)")
	}
	fmt.Println(`Type a request, or "/tasks", "/new", "/trace", "/quit".`)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("giskard> ")
		if !scanner.Scan() {
			fmt.Println()
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if ctx.Err() != nil {
			return
		}

		switch line {
		case "/quit", "/exit":
			return
		case "/new":
			sessionID = shared.NewSessionID()
			fmt.Println("Started a new session.")
			continue
		case "/trace":
			if lastTraceID == "" {
				fmt.Println("No turn has run yet.")
			} else {
				fmt.Printf("Last trace: %s (inspect with: %s trace %s)\n", lastTraceID, os.Args[0], lastTraceID)
			}
			continue
		case "/tasks":
			printTaskBoard(ctx, st)
			continue
		}

		result := orch.RunTurn(ctx, agent.RunRequest{SessionID: sessionID, Input: line})
		lastTraceID = result.TraceID
		fmt.Println(result.FinalMessage)
	}
}

func printTaskBoard(ctx context.Context, st *store.Store) {
	open, inProgress, done, err := st.ListByStatus(ctx)
	if err != nil {
		fmt.Printf("failed to list tasks: %v\n", err)
		return
	}
	sections := []struct {
		label string
		tasks []*task.Task
	}{
		{"Open", open},
		{"In progress", inProgress},
		{"Done", done},
	}
	total := 0
	for _, sec := range sections {
		if len(sec.tasks) == 0 {
			continue
		}
		fmt.Printf("%s:\n", sec.label)
		for _, t := range sec.tasks {
			line := fmt.Sprintf("  [%d] %s", t.ID, t.Title)
			if t.Project != "" {
				line += " (" + t.Project + ")"
			}
			if len(t.Categories) > 0 {
				line += " #" + strings.Join(t.Categories, " #")
			}
			fmt.Println(line)
		}
		total += len(sec.tasks)
	}
	if total == 0 {
		fmt.Println("No tasks yet.")
	}
}

// writeStarterConfig seeds config.yaml on first run, including the starter
// category descriptions so users can see what the classifier assigns.
func writeStarterConfig(homeDir string) error {
	categories := map[string]string{}
	for _, seed := range config.StarterCategories() {
		categories[seed.Name] = seed.Description
	}
	raw := map[string]interface{}{
		"log_level": "info",
		"llm": map[string]interface{}{
			"provider":     "google",
			"gemini_model": "gemini-2.5-flash",
		},
		"classify": map[string]interface{}{
			"queue_depth":  64,
			"resweep_cron": "@hourly",
		},
		"categories": categories,
	}
	out, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(config.ConfigPath(homeDir), out, 0o644)
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	audit.Record("fatal", "", "", "error", reasonCode+": "+message)

	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"runtime","trace_id":"-","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}

// loadDotEnv populates the environment from a .env file without overriding
// variables that are already set.
func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" || os.Getenv(key) != "" {
			continue
		}
		_ = os.Setenv(key, val)
	}
}
