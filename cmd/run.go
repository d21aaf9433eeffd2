package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/patchtrack/config"
	"github.com/dhcgn/patchtrack/imap"
	"github.com/dhcgn/patchtrack/mbox"
	"github.com/dhcgn/patchtrack/progress"
	"github.com/dhcgn/patchtrack/runner"
	"github.com/dhcgn/patchtrack/state"
	"github.com/dhcgn/patchtrack/stats"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Decode patch mails from mbox or IMAP and resolve commits against upstream",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, cleanup, err := setup(cmd)
		if err != nil {
			return err
		}
		defer func() {
			_ = cleanup()
		}()

		if cfg.MboxPath == "" && cfg.IMAPHost == "" && len(cfg.Commits) == 0 {
			return fmt.Errorf("nothing to do: set --mbox, --imap-host or --commit")
		}

		logger.Info("starting patchtrack", "mbox", cfg.MboxPath, "imap", cfg.IMAPHost, "commits", len(cfg.Commits), "branch", cfg.Branch, "dryRun", cfg.DryRun)
		return run(cmd.Context(), cfg, logger)
	},
}

func init() {
	config.RegisterSourceFlags(runCmd)
	config.RegisterRepoFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing state store failed", "err", err)
		}
	}()

	r, err := runner.New(cfg, store, logger)
	if err != nil {
		return fmt.Errorf("runner.New: %w", err)
	}
	summary := stats.NewReporter(r, logger)

	total := len(cfg.Commits)
	if cfg.MboxPath != "" {
		n, err := mbox.CountMessages(cfg.MboxPath)
		if err != nil {
			logger.Warn("counting mbox messages failed", "path", cfg.MboxPath, "err", err)
		}
		total += n
	}
	bar := progress.New(total, recorded(ctx, store), cfg.LogLevel)
	progress.NewReporter(r, bar, logger)

	if cfg.MboxPath != "" {
		if _, err := mbox.NewProducer(mbox.Options{Path: cfg.MboxPath}, r, logger); err != nil {
			return fmt.Errorf("mbox.NewProducer: %w", err)
		}
	}

	if cfg.IMAPHost != "" {
		fetcherOpts := imap.Options{
			Host:               cfg.IMAPHost,
			Port:               cfg.IMAPPort,
			Username:           cfg.IMAPUser,
			Password:           cfg.IMAPPass,
			UseTLS:             cfg.UseTLS,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			Folder:             cfg.IMAPFolder,
		}
		if _, err := imap.NewFetcher(fetcherOpts, r, logger); err != nil {
			return fmt.Errorf("imap.NewFetcher: %w", err)
		}
	}

	if len(cfg.Commits) > 0 {
		resolver, err := newResolver(cfg, logger)
		if err != nil {
			return fmt.Errorf("ancestry.NewResolver: %w", err)
		}
		r.AddResolve(resolver, cfg.Branch, cfg.Commits, cfg.Workers)
	}

	stop := context.AfterFunc(ctx, r.Stop)
	defer stop()
	if err := r.Start(); err != nil {
		return err
	}

	if n := summary.Summary().ErrorsByStage[stats.StageResolve]; n > 0 {
		logger.Warn("some commits could not be resolved", "failed", n, "commits", len(cfg.Commits))
	}
	return nil
}

// recorded counts messages and integrations already in the store.
func recorded(ctx context.Context, store state.Store) int {
	keys, err := store.Keys(ctx)
	if err != nil {
		return 0
	}
	n := 0
	for _, k := range keys {
		if strings.HasPrefix(k, "mail:") || strings.HasPrefix(k, "commit:") {
			n++
		}
	}
	return n
}
