package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/signal-cli/internal/model"
	"github.com/sells-group/signal-cli/internal/store"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run and inspect scans",
	Long:  "A scan fetches new source items once, then analyzes batches until the queue drains, continuing across invocations as needed.",
}

// -- scan start --

var scanStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a scan and run its first invocation in the foreground",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, ctx, "scan")
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.Store.CreateScan(ctx)
		if err != nil {
			return eris.Wrap(err, "scan start")
		}
		fmt.Fprintf(os.Stderr, "Scan %s started\n", run.ID)

		if err := env.Orchestrator.RunWork(ctx, run.ID, false); err != nil {
			return err
		}
		run, err = env.Store.GetScan(ctx, run.ID)
		if err != nil {
			return err
		}
		formatScan(os.Stdout, run)
		return nil
	},
}

// -- scan resume --

var scanResumeCmd = &cobra.Command{
	Use:   "resume <scan-id>",
	Short: "Run another invocation of a running scan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, ctx, "scan")
		if err != nil {
			return err
		}
		defer env.Close()

		skipFetch, _ := cmd.Flags().GetBool("skip-fetch")
		if err := env.Orchestrator.RunWork(ctx, args[0], skipFetch); err != nil {
			return err
		}
		run, err := env.Store.GetScan(ctx, args[0])
		if err != nil {
			return err
		}
		formatScan(os.Stdout, run)
		return nil
	},
}

// -- scan status --

var scanStatusCmd = &cobra.Command{
	Use:   "status <scan-id>",
	Short: "Show a scan's progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetScan(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "scan status")
		}
		formatScan(os.Stdout, run)
		return nil
	},
}

// -- scan list --

var scanListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent scans",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListScans(ctx, store.ScanFilter{Status: model.ScanStatus(status), Limit: limit})
		if err != nil {
			return eris.Wrap(err, "scan list")
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No scans found.")
			return nil
		}
		formatScanList(os.Stdout, runs)
		return nil
	},
}

func statusColor(s model.ScanStatus) *color.Color {
	switch s {
	case model.ScanStatusCompleted:
		return color.New(color.FgGreen)
	case model.ScanStatusFailed:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgYellow)
	}
}

func formatScan(w io.Writer, run *model.ScanRun) {
	fmt.Fprintf(w, "Scan:        %s\n", run.ID)
	fmt.Fprintf(w, "Status:      %s\n", statusColor(run.Status).Sprint(run.Status))
	fmt.Fprintf(w, "Fetched:     %d\n", run.ItemsFetched)
	fmt.Fprintf(w, "Analyzed:    %d\n", run.ItemsAnalyzed)
	fmt.Fprintf(w, "Signals:     %d\n", run.SignalsCreated)
	fmt.Fprintf(w, "Invocations: %d\n", run.Invocations)
	fmt.Fprintf(w, "Started:     %s\n", run.StartedAt.Local().Format(time.RFC3339))
	if run.CompletedAt != nil {
		fmt.Fprintf(w, "Finished:    %s (%s)\n", run.CompletedAt.Local().Format(time.RFC3339),
			run.CompletedAt.Sub(run.StartedAt).Round(time.Second))
	}
	if run.NextRunAt != nil {
		fmt.Fprintf(w, "Continues:   %s\n", run.NextRunAt.Local().Format(time.RFC3339))
	}
	if run.ErrorMessage != "" {
		fmt.Fprintf(w, "Error:       %s\n", color.New(color.FgRed).Sprint(run.ErrorMessage))
	}
}

func formatScanList(w io.Writer, runs []model.ScanRun) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tFETCHED\tANALYZED\tSIGNALS\tINVOCATIONS\tSTARTED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			r.ID,
			statusColor(r.Status).Sprint(r.Status),
			r.ItemsFetched,
			r.ItemsAnalyzed,
			r.SignalsCreated,
			r.Invocations,
			r.StartedAt.Local().Format("2006-01-02 15:04"),
		)
	}
	_ = tw.Flush()
}

func init() {
	scanResumeCmd.Flags().Bool("skip-fetch", true, "skip the fetch phase")
	scanListCmd.Flags().String("status", "", "filter by status (running, completed, failed)")
	scanListCmd.Flags().Int("limit", 20, "max scans to show")

	scanCmd.AddCommand(scanStartCmd, scanResumeCmd, scanStatusCmd, scanListCmd)
	rootCmd.AddCommand(scanCmd)
}
