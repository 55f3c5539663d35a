// Docent is a chat assistant for visitor-facing knowledge: it answers
// questions in a chat channel by streaming model output and consulting
// local snapshot indices plus a scoped web search.
//
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	docent serve             Connect to the chat platform and serve runs
//	docent refresh           Rebuild all snapshot indices and exit
//	docent version           Print version and build information
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/harborline/docent/internal/agent"
	"github.com/harborline/docent/internal/bridge"
	"github.com/harborline/docent/internal/buildinfo"
	"github.com/harborline/docent/internal/chat"
	"github.com/harborline/docent/internal/config"
	"github.com/harborline/docent/internal/drive"
	"github.com/harborline/docent/internal/events"
	"github.com/harborline/docent/internal/kb"
	"github.com/harborline/docent/internal/llm"
	"github.com/harborline/docent/internal/media"
	"github.com/harborline/docent/internal/runlog"
	"github.com/harborline/docent/internal/throttle"
	"github.com/harborline/docent/internal/tools"
	"github.com/harborline/docent/internal/websearch"
)

func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. OS-level dependencies are injected so
// the lifecycle can be driven from tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	command := "serve"

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-"):
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s (try -help)", args[i])
		}
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "refresh":
		return runRefresh(ctx, stdout, configPath)
	case "version":
		fmt.Fprintln(stdout, buildinfo.String())
		return nil
	case "help":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s (try -help)", command)
	}
}

func printUsage(w io.Writer) error {
	fmt.Fprintf(w, `docent - chat assistant for visitor-facing knowledge

Usage:
  docent [flags] <command>

Commands:
  serve      Connect to the chat platform and serve runs (default)
  refresh    Rebuild all snapshot indices and exit
  version    Print version and build information

Flags:
  -config <path>   Config file (default: %s)
`, strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

func loadConfig(explicit string) (*config.Config, string, error) {
	path, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, path, nil
}

// indices bundles the four snapshot indices.
type indices struct {
	catalog *kb.CatalogIndex
	tables  *kb.TableIndex
	faq     *kb.FAQIndex
	images  *kb.ImageIndex
}

func buildIndices(cfg *config.Config, logger *slog.Logger, bus *events.Bus) *indices {
	snapDir := cfg.Sources.ResolveSnapshotDir(cfg.DataDir)

	var lister kb.Lister
	if cfg.Sources.DriveAPIKey != "" {
		var opts []drive.Option
		if cfg.Sources.DriveBaseURL != "" {
			opts = append(opts, drive.WithBaseURL(cfg.Sources.DriveBaseURL))
		}
		lister = drive.NewClient(cfg.Sources.DriveAPIKey, opts...)
	}

	return &indices{
		catalog: kb.NewCatalogIndex(cfg.Sources.CatalogDir, filepath.Join(snapDir, "catalog.json"), logger, bus),
		tables:  kb.NewTableIndex(cfg.Sources.TablesDir, filepath.Join(snapDir, "tables.json"), logger, bus),
		faq:     kb.NewFAQIndex(cfg.Sources.FAQFile, filepath.Join(snapDir, "faq.json"), logger, bus),
		images:  kb.NewImageIndex(lister, cfg.Sources.DriveFolderID, filepath.Join(snapDir, "images.json"), logger, bus),
	}
}

// loadPersona reads the system prompt file, falling back to a built-in
// default when none is configured.
func loadPersona(cfg *config.Config) (string, error) {
	if cfg.Persona == "" {
		return "You are Docent, a friendly assistant for visitors. Answer " +
			"briefly and accurately, using the search tools for anything factual.", nil
	}
	data, err := os.ReadFile(cfg.Persona)
	if err != nil {
		return "", fmt.Errorf("read persona file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// runServe is the primary operating mode: loads config, builds the
// indices and tool registry, connects to the chat platform, and blocks
// until a shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting docent", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure now that the desired level is known.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}
	logger.Info("config loaded", "path", cfgPath, "model", cfg.Model.Name)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	bus := events.New()
	logBusEvents(ctx, bus, logger)

	ix := buildIndices(cfg, logger, bus)

	// --- Web search ---
	webMgr := websearch.NewManager("brave", cfg.Search.SiteScope)
	if cfg.Search.APIKey != "" {
		var opts []websearch.BraveOption
		if cfg.Search.Endpoint != "" {
			opts = append(opts, websearch.WithEndpoint(cfg.Search.Endpoint))
		}
		webMgr.Register(websearch.NewBrave(cfg.Search.APIKey, opts...))
	} else {
		logger.Warn("web search not configured - web_search will fail closed")
	}

	// --- Tool registry ---
	registry := tools.NewRegistry(ix.catalog, ix.tables, ix.faq, ix.images, webMgr, logger, bus)
	if err := registry.Validate(); err != nil {
		return err
	}

	// --- Model client ---
	persona, err := loadPersona(cfg)
	if err != nil {
		return err
	}
	model := llm.NewAnthropicClient(cfg.Model.APIKey, cfg.Model.Name, persona, logger,
		llm.WithMaxTokens(cfg.Model.MaxTokens))
	if err := model.Ping(ctx); err != nil {
		return fmt.Errorf("model API check failed: %w", err)
	}

	// --- Run archive ---
	runlogPath := cfg.RunLogDB
	if runlogPath == "" {
		runlogPath = filepath.Join(cfg.DataDir, "runs.db")
	}
	archive, err := runlog.Open(runlogPath)
	if err != nil {
		return err
	}
	defer archive.Close()
	logger.Info("run archive opened", "path", runlogPath)

	// --- Chat connection ---
	conn := chat.NewWSClient(cfg.Chat.URL, cfg.Chat.Token, logger)
	if err := conn.Connect(ctx); err != nil {
		return fmt.Errorf("connect to chat platform: %w", err)
	}
	defer conn.Close()

	runner := agent.NewRunner(model, conn, registry, media.NewFetcher(),
		throttle.NewLedger(), logger, bus,
		agent.WithRecorder(archive))

	br := bridge.New(bridge.Config{
		Messages: conn.Messages(),
		Stops:    conn.Stops(),
		Runner:   runner,
		Channel:  cfg.Chat.Channel,
		Logger:   logger,
	})

	// SIGINT/SIGTERM cancels the context; the bridge drains in-flight
	// runs before returning.
	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	br.Start(runCtx)
	br.Wait()
	logger.Info("shutdown complete", "uptime", buildinfo.Uptime())
	return nil
}

// runRefresh rebuilds every snapshot index once. Use from cron or
// after editing the raw sources.
func runRefresh(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger.Info("config loaded", "path", cfgPath)

	bus := events.New()
	ix := buildIndices(cfg, logger, bus)

	var failed bool
	report := func(kind string, n int, err error) {
		if err != nil {
			failed = true
			logger.Error("refresh failed", "index", kind, "error", err)
			return
		}
		fmt.Fprintf(stdout, "%s: %d records\n", kind, n)
	}

	if res, err := ix.catalog.Refresh(ctx); err != nil {
		report("catalog", 0, err)
	} else {
		report("catalog", len(res.Records), nil)
	}
	if res, err := ix.tables.Refresh(ctx); err != nil {
		report("tables", 0, err)
	} else {
		report("tables", len(res.Records), nil)
	}
	if res, err := ix.faq.Refresh(ctx); err != nil {
		report("faq", 0, err)
	} else {
		report("faq", len(res.Records), nil)
	}
	if cfg.Sources.DriveFolderID != "" {
		if res, err := ix.images.Refresh(ctx); err != nil {
			report("images", 0, err)
		} else {
			report("images", len(res.Records), nil)
		}
	}

	if failed {
		return fmt.Errorf("one or more indices failed to refresh")
	}
	return nil
}

// logBusEvents drains the event bus into the debug log so every run,
// tool call, and refresh is traceable.
func logBusEvents(ctx context.Context, bus *events.Bus, logger *slog.Logger) {
	ch := bus.Subscribe(64)
	go func() {
		defer bus.Unsubscribe(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				logger.Debug("event", "source", ev.Source, "kind", ev.Kind, "data", ev.Data)
			}
		}
	}()
}
