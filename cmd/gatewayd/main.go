// Command gatewayd is the OpenAI-compatible tool-calling gateway. It wires
// one backend adapter, a fixed tool registry (optionally including the
// local RAG search tool), and the orchestrator behind an HTTP server,
// using a kong-based CLI and startup sequence.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/relcore/toolgate/pkg/backend"
	"github.com/relcore/toolgate/pkg/chatmodel"
	"github.com/relcore/toolgate/pkg/config"
	"github.com/relcore/toolgate/pkg/metrics"
	"github.com/relcore/toolgate/pkg/orchestrator"
	"github.com/relcore/toolgate/pkg/promptcache"
	"github.com/relcore/toolgate/pkg/ragindex"
	"github.com/relcore/toolgate/pkg/ragindex/contextualizer"
	"github.com/relcore/toolgate/pkg/ragindex/updater"
	"github.com/relcore/toolgate/pkg/server"
	"github.com/relcore/toolgate/pkg/tool"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve    ServeCmd    `cmd:"" help:"Start the gateway." default:"1"`
	Validate ValidateCmd `cmd:"" help:"Validate configuration and exit."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config  string `short:"c" help:"Path to YAML config file." type:"path"`
	EnvFile string `help:"Path to .env file (empty uses the default .env lookup)." type:"path"`
}

// ServeCmd starts the gateway's HTTP server and, when RAG is enabled, its
// background updater and (optionally) contextualizer goroutines.
type ServeCmd struct{}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	cfg, err := config.Load(cli.Config, cli.EnvFile)
	if err != nil {
		return fmt.Errorf("gatewayd: %w", err)
	}
	configureLogging(cfg)

	if !config.IsLoopbackHost(cfg.BindHost) {
		slog.Warn("binding to a non-loopback host exposes the gateway, which performs no authentication, to the network; ensure a reverse proxy or firewall is in place", "host", cfg.BindHost)
	}

	adapter, err := backend.New(cfg, nil)
	if err != nil {
		return fmt.Errorf("gatewayd: %w", err)
	}
	if cfg.HealthCheckOnStartup {
		hctx, hcancel := context.WithTimeout(ctx, cfg.HealthCheckTimeout)
		err := adapter.HealthCheck(hctx)
		hcancel()
		if err != nil {
			return fmt.Errorf("gatewayd: backend health check failed: %w", err)
		}
		slog.Info("backend health check passed", "backend", adapter.Name())
	}

	registry := tool.NewRegistry(tool.NewDateTimeTool(), tool.NewEchoTool())

	var index *ragindex.Index
	if cfg.RAG.Enabled {
		index, err = newRAGIndex(cfg)
		if err != nil {
			return fmt.Errorf("gatewayd: %w", err)
		}
		if err := index.Load(ctx); err != nil {
			return fmt.Errorf("gatewayd: rag index load: %w", err)
		}
		registry.Register(tool.NewRAGSearchTool(index.AsSearcher(), cfg.RAG.SearchTopK))
		slog.Info("rag index enabled", "base_url", cfg.RAG.BaseURL, "cache_dir", cfg.RAG.CacheDir)

		go runUpdater(ctx, index, adapter, cfg)
	}

	prompts := promptcache.New(cfg.SystemPromptPath, cfg.DefaultSystemPrompt)
	stopWatch := prompts.WatchForChanges(ctx, slog.Default())
	defer stopWatch()

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	toolChoice, err := firstIterationToolChoice(cfg.FirstIterationToolChoice)
	if err != nil {
		return fmt.Errorf("gatewayd: %w", err)
	}

	var pauser orchestrator.RAGPauser
	if index != nil {
		pauser = index
	}

	var recorder orchestrator.Recorder
	if m != nil {
		recorder = m
	}

	orch := orchestrator.New(adapter, registry, prompts, pauser, recorder, orchestrator.Config{
		MaxToolIterations:        cfg.MaxToolIterations,
		ToolLoopTimeout:          cfg.ToolLoopTimeout,
		FirstIterationToolChoice: toolChoice,
		MaxToolResultChars:       cfg.MaxToolResultChars,
		DefaultTemperature:       cfg.DefaultTemperature,
	})

	var metricsHandler server.MetricsHandler
	if m != nil {
		metricsHandler = m
	}
	srv := server.New(orch, cfg.BackendModel, metricsHandler, slog.Default())

	addr := fmt.Sprintf("%s:%d", cfg.BindHost, cfg.BindPort)
	httpServer := &http.Server{Addr: addr, Handler: srv.Router()}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	slog.Info("gateway listening", "addr", addr, "backend", adapter.Name(), "model", cfg.BackendModel)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gatewayd: serve: %w", err)
	}
	return nil
}

func runUpdater(ctx context.Context, index *ragindex.Index, adapter backend.Adapter, cfg *config.Config) {
	up := updater.New(index, func(err error) {
		slog.Error("rag updater error", "error", err)
	})
	if cfg.RAG.ContextualEnabled && cfg.RAG.ContextualBackground {
		go func() {
			enricher := contextualizer.New(index, adapter, index.Store())
			if err := enricher.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("contextualizer error", "error", err)
			}
		}()
	}
	up.Run(ctx)
}

func newRAGIndex(cfg *config.Config) (*ragindex.Index, error) {
	discovery := ragindex.DiscoverySitemap
	if cfg.RAG.ManualURLsOnly {
		discovery = ragindex.DiscoveryManual
	}
	return ragindex.New(cfg.RAG.CacheDir, ragindex.Config{
		BaseURL:                      cfg.RAG.BaseURL,
		Discovery:                    discovery,
		ManualURLs:                   cfg.RAG.ManualURLs,
		ManualAdditive:               !cfg.RAG.ManualURLsOnly,
		MaxCrawlDepth:                cfg.RAG.MaxCrawlDepth,
		MaxPages:                     cfg.RAG.MaxPages,
		FetchWorkers:                 cfg.RAG.MaxWorkers,
		FetchRetries:                 cfg.RAG.MaxURLRetries,
		FetchRateLimit:               cfg.RAG.RateLimitDelay,
		PageCacheTTL:                 time.Duration(cfg.RAG.PageCacheTTLHours) * time.Hour,
		EmbeddingModelName:           cfg.RAG.EmbeddingModel,
		TopK:                         cfg.RAG.SearchTopK,
		RetrieverCandidateMultiplier: cfg.RAG.RetrieverMultiplier,
		LexicalWeight:                cfg.RAG.HybridLexicalWeight,
		SemanticWeight:               cfg.RAG.HybridSemanticWeight,
		UpdateInterval:               time.Duration(cfg.RAG.UpdateIntervalHours * float64(time.Hour)),
		UpdateBatchSize:              cfg.RAG.UpdateBatchSize,
		RebuildThreshold:             cfg.RAG.RebuildThreshold,
	})
}

func firstIterationToolChoice(s string) (chatmodel.ToolChoice, error) {
	switch s {
	case "", "auto":
		return chatmodel.ToolChoiceAuto, nil
	case "required":
		return chatmodel.ToolChoiceRequired, nil
	case "none":
		return chatmodel.ToolChoiceNone, nil
	default:
		return "", fmt.Errorf("invalid first_iteration_tool_choice %q", s)
	}
}

func configureLogging(cfg *config.Config) {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// ValidateCmd loads and validates the configuration without starting the
// server, for use in CI or pre-deploy checks.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config, cli.EnvFile)
	if err != nil {
		return err
	}
	fmt.Printf("configuration valid: backend=%s model=%s bind=%s:%d rag_enabled=%t\n",
		cfg.BackendType, cfg.BackendModel, cfg.BindHost, cfg.BindPort, cfg.RAG.Enabled)
	return nil
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(cli *CLI) error {
	fmt.Println("gatewayd dev")
	return nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("gatewayd"),
		kong.Description("OpenAI-compatible tool-calling gateway with local RAG retrieval."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}
