package cliapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	coreapp "github.com/cinmou/singbox-rules/internal/app"
	"github.com/cinmou/singbox-rules/internal/config"
)

func Run(args []string) int {
	opts, err := parseOptions(args)
	if err != nil {
		return 2
	}

	if opts.version {
		fmt.Printf("singbox-rules v%s\n", versionString)
		return 0
	}

	configureLogging(opts.verbose)

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	app, err := coreapp.New(cfg)
	if err != nil {
		slog.Error("failed to initialize app", "error", err)
		return 1
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, opts.build); err != nil {
		slog.Error("run failed", "error", err)
		return 1
	}

	fmt.Printf("Compiled rule-sets written to %s\n", app.SRSDir())

	if !opts.watch {
		return 0
	}

	if err := app.Watch(ctx); err != nil {
		slog.Error("watch failed", "error", err)
		return 1
	}
	return 0
}

func configureLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}

// loadConfig falls back to built-in defaults when the default config file is
// absent, so a bare invocation next to the output tree needs no setup at all.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if path == defaultConfigPath && os.IsNotExist(err) {
			return config.Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}
