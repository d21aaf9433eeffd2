package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dhcgn/patchtrack/config"
	"github.com/dhcgn/patchtrack/git"
	"github.com/dhcgn/patchtrack/model"
	"github.com/dhcgn/patchtrack/state"
)

var resolveJSON bool

var resolveCmd = &cobra.Command{
	Use:   "resolve <commit>...",
	Short: "Report which upstream commit integrated each given commit",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, cleanup, err := setup(cmd)
		if err != nil {
			return err
		}
		defer func() {
			_ = cleanup()
		}()

		ctx := cmd.Context()
		repo := git.New(cfg.RepoDir, logger)
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

		results := make([]model.Integration, 0, len(args))
		for _, name := range args {
			commit, ok, err := repo.RevParse(ctx, name+"^{commit}")
			if err != nil {
				return fmt.Errorf("resolve %s: %w", name, err)
			}
			if !ok {
				return fmt.Errorf("resolve %s: unknown commit", name)
			}

			result, err := resolver.Resolve(ctx, cfg.Branch, commit)
			if err != nil {
				return fmt.Errorf("resolve %s: %w", commit, err)
			}
			if !cfg.DryRun {
				if err := store.Set(ctx, state.CommitKey(commit), result); err != nil {
					return err
				}
			}
			results = append(results, result)
		}

		return writeIntegrations(cmd.OutOrStdout(), results, resolveJSON)
	},
}

func init() {
	config.RegisterRepoFlags(resolveCmd)
	resolveCmd.Flags().Bool("dry-run", false, "Do not record results in the state store")
	resolveCmd.Flags().BoolVar(&resolveJSON, "json", false, "Print results as JSON")
	rootCmd.AddCommand(resolveCmd)
}

func writeIntegrations(w io.Writer, results []model.Integration, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COMMIT\tBRANCH\tSTATE\tINTEGRATED BY\tDATE")
	for _, r := range results {
		by, date := "-", "-"
		if r.Integrated() {
			by = git.ShortHash(r.Commit)
			if r.Short != "" {
				by = r.Short
			}
			if !r.CommittedAt.IsZero() {
				date = r.CommittedAt.Format("2006-01-02")
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", git.ShortHash(r.Target), r.Branch, r.State, by, date)
	}
	return tw.Flush()
}
