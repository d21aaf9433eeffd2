package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/patchtrack/ancestry"
	"github.com/dhcgn/patchtrack/config"
	"github.com/dhcgn/patchtrack/git"
	"github.com/dhcgn/patchtrack/state"
)

var rootCmd = &cobra.Command{
	Use:           "patchtrack",
	Short:         "Decode mailed patches and track when their commits reach upstream",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	if err := config.RegisterGlobalFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// setup loads the configuration of cmd and installs the logger. The
// returned cleanup closes the log file, if any.
func setup(cmd *cobra.Command) (config.Config, *slog.Logger, func() error, error) {
	cfg, err := config.LoadConfig(cmd)
	if err != nil {
		return config.Config{}, nil, nil, err
	}

	logger, cleanup, err := setupLogger(cfg)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, cleanup, nil
}

func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("patchtrack-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stderr, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stderr, opts)
	return slog.New(handler), cleanup, nil
}

func openStore(ctx context.Context, cfg config.Config) (state.Store, error) {
	store, err := state.Open(ctx, state.Options{
		Dir:         cfg.StateDir,
		RedisAddr:   cfg.RedisAddr,
		RedisDB:     cfg.RedisDB,
		RedisPrefix: cfg.RedisPrefix,
		Persist:     !cfg.DryRun,
	})
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	return store, nil
}

func newResolver(cfg config.Config, logger *slog.Logger) (*ancestry.Resolver, error) {
	repo := git.New(cfg.RepoDir, logger)
	return ancestry.NewResolver(repo, ancestry.Options{
		Remote:   cfg.Remote,
		Describe: cfg.Describe,
	}, logger)
}
