// Command igtsplit reads the in-game timer of a recorded speedrun and writes
// the detected splits as an SRT subtitle file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/MrWong99/igtsplit/internal/app"
	"github.com/MrWong99/igtsplit/internal/config"
	"github.com/MrWong99/igtsplit/internal/health"
	"github.com/MrWong99/igtsplit/internal/observe"
	"github.com/MrWong99/igtsplit/pkg/provider/ocr"
	"github.com/MrWong99/igtsplit/pkg/provider/ocr/tesseract"
	"github.com/MrWong99/igtsplit/pkg/provider/ocr/tesseractcli"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "igtsplit.yaml", "path to the YAML configuration file")
	video := flag.String("video", "", "video file or directory of frame images (or first argument)")
	out := flag.String("out", "", "output SRT path (default: <video>.srt)")
	framesDir := flag.String("frames", "", "keep the extracted frames in this directory")
	splitsPath := flag.String("splits", "", "splits file; overrides policy.splits_file")
	metricsAddr := flag.String("metrics-addr", "", "serve /metrics and health endpoints; overrides metrics.listen_addr")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("igtsplit", version)
		return 0
	}
	if *video == "" && flag.NArg() > 0 {
		*video = flag.Arg(0)
	}
	if *video == "" {
		fmt.Fprintln(os.Stderr, "igtsplit: no video given; usage: igtsplit [flags] <video>")
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath, *splitsPath, *metricsAddr)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "igtsplit: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "igtsplit: %v\n", err)
		}
		return 1
	}
	if *out == "" {
		*out = strings.TrimSuffix(*video, filepath.Ext(*video)) + ".srt"
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.LogLevel))
	slog.Info("igtsplit starting",
		"version", version,
		"config", *configPath,
		"video", *video,
		"out", *out,
		"policy", cfg.Policy.Kind,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Engine registry ───────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinEngines(reg)

	progress := &health.Progress{}
	application, err := app.New(ctx, cfg, *video,
		app.WithRegistry(reg),
		app.WithMetrics(tel.Metrics),
		app.WithProgress(progress),
		app.WithFramesDir(*framesDir),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Metrics and health server (optional) ──────────────────────────────────
	var srv *observe.Server
	if addr := cfg.Metrics.ListenAddr; addr != "" {
		srv = observe.NewServer(addr, tel.Registry, tel.Metrics)
		store := application.Store()
		health.New(progress, health.Checker{
			Name: "runstore",
			Check: func(ctx context.Context) error {
				_, err := store.PersonalBest(ctx)
				return err
			},
		}).Register(srv.Mux())
		if _, err := srv.Start(); err != nil {
			slog.Error("failed to start metrics server", "addr", addr, "err", err)
			application.Shutdown(context.Background())
			return 1
		}
	}

	// ── Extraction ────────────────────────────────────────────────────────────
	code := 0
	res, runErr := application.Run(ctx)
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			slog.Warn("extraction interrupted, writing partial subtitles")
		} else {
			slog.Error("extraction failed", "err", runErr)
		}
		code = 1
	}
	if written, err := writeOutput(*out, res, runErr); err != nil {
		slog.Error("failed to write subtitles", "err", err)
		code = 1
	} else if !written {
		slog.Warn("no splits detected before the failure, leaving output untouched", "path", *out)
	} else {
		slog.Info("subtitles written", "path", *out, "cues", len(res.Cues))
	}
	printSummary(res)

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("metrics server shutdown error", "err", err)
		}
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	return code
}

// loadConfig reads the config file and applies the flag overrides.
func loadConfig(path, splits, metricsAddr string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if splits == "" && metricsAddr == "" {
		return cfg, nil
	}
	if splits != "" {
		cfg.Policy.SplitsFile = splits
	}
	if metricsAddr != "" {
		cfg.Metrics.ListenAddr = metricsAddr
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// writeOutput writes the cues of res to path. A failed run without cues
// writes nothing, so an existing file is not truncated.
func writeOutput(path string, res *app.Result, runErr error) (bool, error) {
	if runErr != nil && len(res.Cues) == 0 {
		return false, nil
	}
	if err := app.WriteSubtitles(path, res.Cues); err != nil {
		return false, err
	}
	return true, nil
}

// ── Engine wiring ─────────────────────────────────────────────────────────────

// registerBuiltinEngines registers the OCR engines that ship with igtsplit.
func registerBuiltinEngines(reg *config.Registry) {
	reg.RegisterOCR("tesseract", func(e config.ProviderEntry) (ocr.Provider, error) {
		langs, err := e.Strings("languages")
		if err != nil {
			return nil, err
		}
		pool, err := e.Int("pool_size", 0)
		if err != nil {
			return nil, err
		}
		return tesseract.New(tesseract.WithLanguages(langs...), tesseract.WithPoolSize(pool)), nil
	})

	reg.RegisterOCR("tesseract-cli", func(e config.ProviderEntry) (ocr.Provider, error) {
		bin, err := e.String("binary", "")
		if err != nil {
			return nil, err
		}
		lang, err := e.String("language", "")
		if err != nil {
			return nil, err
		}
		return tesseractcli.New(tesseractcli.WithBinary(bin), tesseractcli.WithLanguage(lang)), nil
	})
}

// ── Logging ───────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// printSummary prints one line per run to stdout.
func printSummary(res *app.Result) {
	if len(res.Runs) == 0 {
		fmt.Println("no runs detected")
		return
	}
	for _, r := range res.Runs {
		status := "unfinished"
		if r.Finished {
			status = "final " + r.Final.String()
		}
		fmt.Printf("run %d: %d events, %s\n", r.Number, len(r.Events), status)
	}
	if res.PersonalBest {
		fmt.Println("new personal best saved")
	}
}
