package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/quatton/catmap-adapter/pkg/qerr"
	"github.com/quatton/catmap-adapter/pkg/qrunner"
)

var runsStatus string

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect local runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig(cmd)
		if err != nil {
			return err
		}
		var status *qrunner.RunStatus
		if runsStatus != "" {
			s := qrunner.RunStatus(runsStatus)
			status = &s
		}

		runs, err := runState(cfg, GetLogger(cmd)).ListRuns(cmd.Context(), status)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTATUS\tEXIT\tCREATED")
		for _, run := range runs {
			exit := "-"
			if run.ExitCode != nil {
				exit = fmt.Sprint(*run.ExitCode)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", run.ID, run.Name, run.Status, exit, run.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var runsLogsCmd = &cobra.Command{
	Use:   "logs <run-id>",
	Short: "Print the stdout capture of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig(cmd)
		if err != nil {
			return err
		}
		return runState(cfg, GetLogger(cmd)).StreamLogs(cmd.Context(), args[0], cmd.OutOrStdout())
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run and its archived outcome",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, closeBackends, err := openPipeline(cmd)
		if err != nil {
			return err
		}
		defer closeBackends()

		run, err := p.Runner.GetRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Process: %s", run.Status)
		if run.ExitCode != nil {
			fmt.Fprintf(out, " (exit code %d)", *run.ExitCode)
		}
		fmt.Fprintf(out, "\nWorkDir: %s\n", run.WorkingDir)

		rec, err := p.Outcome(cmd.Context(), run.ID)
		if qerr.IsCode(err, qerr.CodeNotFound) {
			fmt.Fprintln(out, "Outcome: not recorded yet")
			return nil
		}
		if err != nil {
			return err
		}
		printRecord(cmd, rec)
		return nil
	},
}

var runsRmCmd = &cobra.Command{
	Use:   "rm <run-id>...",
	Short: "Delete finished runs with their artifacts and outcomes",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, closeBackends, err := openPipeline(cmd)
		if err != nil {
			return err
		}
		defer closeBackends()

		for _, id := range args {
			if err := p.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, "🗑  removed", id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd, runsLogsCmd, runsShowCmd, runsRmCmd)
	runsListCmd.Flags().StringVar(&runsStatus, "status", "", "only list runs with this status")
}
