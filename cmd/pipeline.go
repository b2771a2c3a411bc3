package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch new source items from the content API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, ctx, "scan")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Fetcher.FetchSourceItems(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Saved %s new items (%d API requests)\n",
			color.New(color.FgGreen).Sprint(res.NewItemsSaved), res.APIRequests)
		return nil
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze one batch of unprocessed source items",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, ctx, "scan")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Extractor.AnalyzeBatch(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Processed %d items, created %s signals\n",
			res.ProcessedCount, color.New(color.FgGreen).Sprint(res.CreatedCount))
		return nil
	},
}

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Launch and check contact enrichment",
}

var enrichLaunchCmd = &cobra.Command{
	Use:   "launch <signal-id>",
	Short: "Launch an enrichment agent task for a signal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, ctx, "enrich")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Launcher.Launch(ctx, args[0])
		if res != nil {
			printJSON(res)
		}
		return err
	},
}

var enrichCheckCmd = &cobra.Command{
	Use:   "check [signal-id]",
	Short: "Poll one signal's open task, or all open tasks with --all",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, ctx, "enrich")
		if err != nil {
			return err
		}
		defer env.Close()

		all, _ := cmd.Flags().GetBool("all")
		if all || len(args) == 0 {
			res, err := env.Reconciler.CheckAll(ctx)
			if err != nil {
				return err
			}
			printJSON(res)
			return nil
		}
		res, err := env.Reconciler.Check(ctx, args[0])
		if err != nil {
			return err
		}
		printJSON(res)
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		fmt.Fprintln(os.Stderr, "Schema is up to date.")
		return nil
	},
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func init() {
	enrichCheckCmd.Flags().Bool("all", false, "check every open task")
	enrichCmd.AddCommand(enrichLaunchCmd, enrichCheckCmd)
	rootCmd.AddCommand(fetchCmd, analyzeCmd, enrichCmd, migrateCmd)
}
