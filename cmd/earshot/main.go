// Command earshot is the main entry point for the earshot transcription
// pipeline: PCM in on stdin, transcribed text out to the configured
// delivery endpoint and the HTTP status surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quietriver/earshot/internal/app"
	"github.com/quietriver/earshot/internal/config"
	"github.com/quietriver/earshot/internal/observe"
	"github.com/quietriver/earshot/pkg/engine"
	"github.com/quietriver/earshot/pkg/engine/openai"
	"github.com/quietriver/earshot/pkg/engine/whispercpp"
	"github.com/quietriver/earshot/pkg/engine/whispernative"
	"github.com/quietriver/earshot/pkg/pcm"
)

// frameDuration is the capture frame length cut from the stdin stream.
const frameDuration = 20 * time.Millisecond

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch-config", false, "reload hot-reloadable settings when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "earshot: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "earshot: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("earshot starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "earshot"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Engine registry ───────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinEngines(reg)

	engines, err := buildEngines(cfg, reg)
	if err != nil {
		slog.Error("failed to build engines", "err", err)
		return 1
	}

	// ── Sample source ─────────────────────────────────────────────────────────
	source := pcm.NewReaderSource(os.Stdin, cfg.Audio.SampleRate, cfg.Audio.Channels, frameDuration)

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(cfg, source, engines)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload (optional) ──────────────────────────────────────────
	if *watch {
		watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			d := config.Diff(old, new)
			if d.Empty() {
				return
			}
			if d.LogLevelChanged {
				level.Set(slogLevel(d.NewLogLevel))
				slog.Info("log level reloaded", "log_level", d.NewLogLevel)
			}
			application.ApplyDiff(d)
		})
		if err != nil {
			slog.Error("failed to watch config", "err", err)
			return 1
		}
		defer watcher.Stop()
	}

	slog.Info("pipeline ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Engine wiring ─────────────────────────────────────────────────────────────

// registerBuiltinEngines wires all built-in engine factories into reg. Each
// factory receives a config.EngineEntry and constructs the adapter from the
// real implementation packages.
func registerBuiltinEngines(reg *config.Registry) {
	reg.RegisterEngine(config.EngineWhisperCPP, func(entry config.EngineEntry) (engine.Adapter, error) {
		var opts []whispercpp.Option
		if entry.Model != "" {
			opts = append(opts, whispercpp.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, whispercpp.WithLanguage(entry.Language))
		}
		return whispercpp.New(entry.ServerURL, opts...)
	})

	reg.RegisterEngine(config.EngineOpenAI, func(entry config.EngineEntry) (engine.Adapter, error) {
		var opts []openai.Option
		if entry.ServerURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.ServerURL))
		}
		if entry.Language != "" {
			opts = append(opts, openai.WithLanguage(entry.Language))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEngine(config.EngineWhisperNative, func(entry config.EngineEntry) (engine.Adapter, error) {
		var opts []whispernative.Option
		if entry.Language != "" {
			opts = append(opts, whispernative.WithLanguage(entry.Language))
		}
		return whispernative.New(entry.ModelPath, opts...)
	})
}

// buildEngines instantiates the configured online and offline adapters via
// the registry.
func buildEngines(cfg *config.Config, reg *config.Registry) (app.Engines, error) {
	var engines app.Engines

	if entry := cfg.Engines.Online; entry.Configured() {
		eng, err := reg.CreateEngine(entry)
		if err != nil {
			return engines, fmt.Errorf("create online engine %q: %w", entry.Kind, err)
		}
		engines.Online = eng
		slog.Info("engine created", "slot", "online", "kind", entry.Kind)
	}
	if entry := cfg.Engines.Offline; entry.Configured() {
		eng, err := reg.CreateEngine(entry)
		if err != nil {
			return engines, fmt.Errorf("create offline engine %q: %w", entry.Kind, err)
		}
		engines.Offline = eng
		slog.Info("engine created", "slot", "offline", "kind", entry.Kind)
	}

	return engines, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          earshot — startup            ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printEngine("Online", cfg.Engines.Online)
	printEngine("Offline", cfg.Engines.Offline)
	printRow("Fallback", onOff(cfg.Engines.Fallback.Enabled))
	printRow("Delivery", orDisabled(cfg.Delivery.URL))
	printRow("Pending store", orDisabled(cfg.Pending.Path))
	printRow("Aggregation", onOff(cfg.Aggregation.Enabled))
	printRow("Listen addr", orDisabled(cfg.Server.ListenAddr))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printEngine(slot string, entry config.EngineEntry) {
	value := "(not configured)"
	if entry.Configured() {
		value = string(entry.Kind)
		if entry.Model != "" {
			value += " / " + entry.Model
		}
	}
	printRow(slot+" engine", value)
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-15s : %-19s ║\n", label, value)
}

func onOff(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

func orDisabled(s string) string {
	if s == "" {
		return "(disabled)"
	}
	return s
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
