package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/seynadio/chatbridge/pkg/agent"
	"github.com/seynadio/chatbridge/pkg/bus"
	"github.com/seynadio/chatbridge/pkg/channels"
	"github.com/seynadio/chatbridge/pkg/config"
	"github.com/seynadio/chatbridge/pkg/docstore"
	"github.com/seynadio/chatbridge/pkg/history"
	"github.com/seynadio/chatbridge/pkg/logger"
	"github.com/seynadio/chatbridge/pkg/maintenance"
	"github.com/seynadio/chatbridge/pkg/orchestrator"
	"github.com/seynadio/chatbridge/pkg/providers"
	"github.com/seynadio/chatbridge/pkg/tools"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

const appName = "chatbridge"

// formatVersion returns the version string with optional git commit
func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func printVersion() {
	fmt.Printf("%s %s\n", appName, formatVersion())
	if buildTime != "" {
		fmt.Printf("  Build: %s\n", buildTime)
	}
	goVer := goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	fmt.Printf("  Go: %s\n", goVer)
}

func main() {
	if err := executeCLI(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func getConfigPath() string {
	if path := strings.TrimSpace(os.Getenv("CHATBRIDGE_CONFIG")); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".chatbridge", "config.json")
}

// runtimeParts holds everything the serve and chat commands share.
type runtimeParts struct {
	cfg       *config.Config
	bus       *bus.MessageBus
	cache     *history.Cache
	store     *docstore.SQLiteStore
	docs      *docstore.Service
	registry  *tools.ToolRegistry
	orch      *orchestrator.Orchestrator
	scheduler *maintenance.Scheduler
}

func buildRuntime(cfg *config.Config) (*runtimeParts, error) {
	client, err := providers.NewClient(providers.ClientOptions{
		APIKey:          cfg.GetAPIKey(),
		APIBase:         cfg.GetAPIBase(),
		Proxy:           cfg.Providers.OpenAI.Proxy,
		DefaultModel:    cfg.Agent.Model,
		EmbeddingModel:  cfg.Documents.EmbeddingModel,
		TranscribeModel: cfg.Speech.TranscribeModel,
		SpeechModel:     cfg.Speech.Model,
		SpeechVoice:     cfg.Speech.Voice,
		SpeechEnabled:   cfg.Speech.Enabled,
		ImageModel:      cfg.Tools.Image.Model,
		ImageSize:       cfg.Tools.Image.Size,
	})
	if err != nil {
		return nil, fmt.Errorf("create provider client: %w", err)
	}

	dataDir := cfg.DataDir()
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	store, err := docstore.NewSQLiteStore(filepath.Join(dataDir, "documents.db"))
	if err != nil {
		return nil, fmt.Errorf("open document store: %w", err)
	}

	splitter := docstore.NewSplitter(cfg.Documents.ChunkSize, cfg.Documents.ChunkOverlap)
	embedder := docstore.SelectEmbedder(cfg.Documents.EmbeddingModel, client)
	docs := docstore.NewService(store, embedder, splitter, client, docstore.ServiceOptions{
		TopK:             cfg.Documents.TopK,
		SummaryGroupSize: cfg.Documents.SummaryGroupSize,
		SummaryModel:     cfg.Agent.Model,
	})

	cache := history.NewCache(cfg.History.MaxConversations, time.Duration(cfg.History.TTLMinutes)*time.Minute)

	registry := tools.NewToolRegistry()
	registry.Register(tools.NewCalculatorTool())
	registry.Register(tools.NewDocumentSearchTool(docs))
	registry.Register(tools.NewImageTool(client))
	registry.Register(tools.NewQuizTool(docs, client, cfg.Agent.Model))
	if searchTool := tools.NewWebSearchTool(tools.WebSearchToolOptions{
		GoogleAPIKey:       cfg.Tools.Search.GoogleAPIKey,
		GoogleCSEID:        cfg.Tools.Search.GoogleCSEID,
		MaxResults:         cfg.Tools.Search.MaxResults,
		DuckDuckGoFallback: cfg.Tools.Search.DuckDuckGoFallback,
	}); searchTool != nil {
		registry.Register(searchTool)
	}
	if wolframTool := tools.NewWolframTool(cfg.Tools.Wolfram.AppID); wolframTool != nil {
		registry.Register(wolframTool)
	}

	builder := agent.NewContextBuilder(cfg.History.PromptTurns)
	builder.SetToolsRegistry(registry)
	loop := agent.NewLoop(client, registry, builder, agent.LoopOptions{
		Model:         cfg.Agent.Model,
		MaxIterations: cfg.Agent.MaxToolIterations,
		MaxTokens:     cfg.Agent.MaxTokens,
		Temperature:   cfg.Agent.Temperature,
	})

	msgBus := bus.NewMessageBus()
	orch := orchestrator.New(msgBus, cache, docs, loop, client, orchestrator.Options{
		MaxConcurrent: cfg.Agent.MaxConcurrent,
		PromptTurns:   cfg.History.PromptTurns,
	})

	scheduler := maintenance.NewScheduler()
	if err := scheduler.Add(maintenance.Job{
		Name: "history-sweep",
		Expr: cfg.Maintenance.SweepSchedule,
		Run: func(ctx context.Context) error {
			cache.Sweep()
			return nil
		},
	}); err != nil {
		return nil, err
	}
	if err := scheduler.Add(maintenance.Job{
		Name: "docstore-vacuum",
		Expr: cfg.Maintenance.VacuumSchedule,
		Run:  docs.Vacuum,
	}); err != nil {
		return nil, err
	}

	return &runtimeParts{
		cfg:       cfg,
		bus:       msgBus,
		cache:     cache,
		store:     store,
		docs:      docs,
		registry:  registry,
		orch:      orch,
		scheduler: scheduler,
	}, nil
}

func (p *runtimeParts) shutdown() {
	if err := p.registry.Close(); err != nil {
		logger.WarnCF("main", "Tool registry close failed", map[string]interface{}{"error": err.Error()})
	}
	if err := p.docs.Close(); err != nil {
		logger.WarnCF("main", "Document store close failed", map[string]interface{}{"error": err.Error()})
	}
	p.bus.Close()
}

func serveCmd(debug bool) error {
	if debug {
		logger.SetLevel(logger.DEBUG)
	}

	cfg, err := config.LoadConfig(getConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	parts, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer parts.shutdown()

	channelManager, err := channels.NewManager(cfg, parts.bus)
	if err != nil {
		return fmt.Errorf("create channel manager: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := channelManager.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	parts.scheduler.Start(ctx)
	go parts.orch.Run(ctx)

	fmt.Printf("✓ Channels enabled: %s\n", strings.Join(channelManager.GetEnabledChannels(), ", "))
	fmt.Printf("✓ Tools loaded: %d\n", parts.registry.Count())
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	<-sigChan

	fmt.Println("\nShutting down...")
	cancel()
	parts.scheduler.Stop()
	if err := channelManager.StopAll(context.Background()); err != nil {
		logger.WarnCF("main", "Channel shutdown error", map[string]interface{}{"error": err.Error()})
	}
	fmt.Println("✓ Stopped")
	return nil
}

func chatCmd(debug bool) error {
	if debug {
		logger.SetLevel(logger.DEBUG)
	} else {
		// Keep the REPL readable.
		logger.SetLevel(logger.WARN)
	}

	cfg, err := config.LoadConfig(getConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	parts, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer parts.shutdown()

	loopback := channels.NewLoopbackChannel(parts.bus, os.Stdout)
	manager, err := newLoopbackManager(cfg, parts.bus, loopback)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.StartAll(ctx); err != nil {
		return err
	}
	go parts.orch.Run(ctx)

	fmt.Printf("%s interactive chat. Type 'exit' to quit, /clear_database to reset.\n", appName)
	runREPL(loopback)

	cancel()
	return manager.StopAll(context.Background())
}

// newLoopbackManager builds a manager holding only the loopback channel,
// skipping platform token checks.
func newLoopbackManager(cfg *config.Config, msgBus *bus.MessageBus, loopback *channels.LoopbackChannel) (*channels.Manager, error) {
	blank := *cfg
	blank.Channels.Telegram.Token = "placeholder"
	manager, err := channels.NewManager(&blank, msgBus)
	if err != nil {
		return nil, err
	}
	manager.UnregisterChannel("telegram")
	manager.RegisterChannel("loopback", loopback)
	return manager, nil
}

func runREPL(loopback *channels.LoopbackChannel) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "You: ",
		HistoryFile:     filepath.Join(os.TempDir(), ".chatbridge_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return
		}

		loopback.Inject(input)
		// Replies are printed asynchronously by the loopback channel; give
		// the short ones a beat so the prompt doesn't overrun them.
		time.Sleep(150 * time.Millisecond)
	}
}

func configInitCmd() error {
	path := getConfigPath()
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}
	if err := config.SaveConfig(path, config.DefaultConfig()); err != nil {
		return err
	}
	fmt.Printf("✓ Wrote default config to %s\n", path)
	fmt.Println("Set providers.openai.api_key and a channel token before running serve.")
	return nil
}

func configShowCmd() error {
	cfg, err := config.LoadConfig(getConfigPath())
	if err != nil {
		return err
	}
	fmt.Printf("Config path: %s\n", getConfigPath())
	fmt.Printf("Data dir:    %s\n", cfg.DataDir())
	fmt.Printf("Model:       %s\n", cfg.Agent.Model)
	fmt.Printf("API base:    %s\n", cfg.GetAPIBase())
	fmt.Printf("API key:     %s\n", maskSecret(cfg.GetAPIKey()))
	fmt.Printf("Telegram:    %s\n", maskSecret(cfg.Channels.Telegram.Token))
	fmt.Printf("Discord:     %s\n", maskSecret(cfg.Channels.Discord.Token))
	fmt.Printf("Speech:      enabled=%t voice=%s\n", cfg.Speech.Enabled, cfg.Speech.Voice)
	return nil
}

func maskSecret(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
