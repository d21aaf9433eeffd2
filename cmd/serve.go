package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/patchtrack/api"
	"github.com/dhcgn/patchtrack/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve decode and integration queries over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, cleanup, err := setup(cmd)
		if err != nil {
			return err
		}
		defer func() {
			_ = cleanup()
		}()

		ctx := cmd.Context()
		resolver, err := newResolver(cfg, logger)
		if err != nil {
			return err
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

		app := api.New(api.Options{Resolver: resolver, Store: store, Logger: logger})

		errCh := make(chan error, 1)
		go func() {
			errCh <- app.Listen(cfg.ListenAddr)
		}()
		logger.Info("serving", "addr", cfg.ListenAddr, "repo", cfg.RepoDir, "remote", cfg.Remote)

		select {
		case err := <-errCh:
			return fmt.Errorf("listen %s: %w", cfg.ListenAddr, err)
		case <-ctx.Done():
		}

		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	},
}

func init() {
	config.RegisterRepoFlags(serveCmd)
	serveCmd.Flags().String("listen", ":8080", "Address the HTTP server listens on")
	rootCmd.AddCommand(serveCmd)
}
