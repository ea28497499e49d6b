package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/usenabla-com/nabla-runners/internal/buildsys"
	"github.com/usenabla-com/nabla-runners/internal/config"
	"github.com/usenabla-com/nabla-runners/internal/daemon"
	"github.com/usenabla-com/nabla-runners/internal/fixdb"
	"github.com/usenabla-com/nabla-runners/internal/logfields"
	"github.com/usenabla-com/nabla-runners/internal/orchestrator"
	"github.com/usenabla-com/nabla-runners/internal/strategy"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path (optional)"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Serve struct {
	} `cmd:"" help:"Run the build runner service with its HTTP API"`

	Build struct {
		Path string `arg:"" help:"Path to the firmware project to build"`
	} `cmd:"" help:"Build a local project once with adaptive retries"`

	Detect struct {
		Path string `arg:"" help:"Path to the firmware project to inspect"`
	} `cmd:"" help:"Detect the build system of a local project"`
}

func main() {
	kctx := kong.Parse(&CLI)

	cfg, err := config.Load(CLI.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	setupLogging(cfg)

	switch kctx.Command() {
	case "serve":
		if err := runServe(cfg); err != nil {
			slog.Error("Service failed", logfields.Error(err))
			os.Exit(1)
		}
	case "build <path>":
		if err := runBuild(cfg, CLI.Build.Path); err != nil {
			slog.Error("Build failed", logfields.Error(err))
			os.Exit(1)
		}
	case "detect <path>":
		if err := runDetect(CLI.Detect.Path); err != nil {
			slog.Error("Detection failed", logfields.Error(err))
			os.Exit(1)
		}
	}
}

func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	if CLI.Verbose {
		level = slog.LevelDebug
	} else {
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func runServe(cfg *config.Config) error {
	d, err := daemon.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting nabla-runner service", "addr", cfg.Server.Addr())
	return d.Run(ctx)
}

func runBuild(cfg *config.Config, path string) error {
	system, ok := buildsys.Detect(path)
	if !ok {
		return fmt.Errorf("no supported build system detected in %s", path)
	}
	slog.Info("Build system detected", logfields.BuildSystem(string(system)), logfields.Path(path))

	var fixes *fixdb.DB
	if cfg.FixDB.Path != "" {
		db, err := fixdb.Open(cfg.FixDB.Path)
		if err != nil {
			return fmt.Errorf("failed to open fix database: %w", err)
		}
		defer db.Close()
		fixes = db
	}

	orch := orchestrator.New(orchestrator.Config{
		ExecOptions: buildsys.Options{
			Timeout:    cfg.Build.AttemptTimeout.Std(),
			ZephyrBase: cfg.Build.ZephyrBase,
		},
		ApplierOpts: strategy.ApplierOptions{InstallCommand: cfg.Build.InstallCommand},
		Fixes:       fixes,
		MaxAttempts: cfg.Build.MaxAttempts,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := orch.Run(ctx, path, system)
	if err != nil {
		return err
	}
	slog.Info("Build succeeded",
		logfields.Artifact(result.OutputPath),
		slog.String("format", result.TargetFormat),
		slog.Duration("duration", result.Duration))
	return nil
}

func runDetect(path string) error {
	system, ok := buildsys.Detect(path)
	if !ok {
		return fmt.Errorf("no supported build system detected in %s", path)
	}
	out := map[string]string{
		"build_system": string(system),
		"marker":       system.MarkerFile(),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
