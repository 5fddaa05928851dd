package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/cityfleet/qa/scenarios"
)

var scenarioCmd = &cobra.Command{
	Use:   "scenario <file>...",
	Short: "Replay scenario files and check their expectations",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runScenarios,
}

func init() {
	rootCmd.AddCommand(scenarioCmd)
}

func runScenarios(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	failed := 0
	for _, path := range args {
		sc, err := scenarios.Load(path)
		if err != nil {
			return err
		}
		rep, err := scenarios.Run(cmd.Context(), sc)
		if err != nil {
			return fmt.Errorf("scenario %s: %w", sc.Name, err)
		}
		status := "PASS"
		if !rep.Passed() {
			status = "FAIL"
			failed++
		}
		fmt.Fprintf(out, "%s %s (%s)\n", status, rep.Name, rep.Elapsed.Round(time.Millisecond))
		for _, f := range rep.Failures {
			fmt.Fprintf(out, "    %s\n", f)
		}
		for _, e := range rep.TriggerErrors {
			fmt.Fprintf(out, "    trigger %s\n", e)
		}
		tasks := make([]string, 0, len(rep.Contracts))
		for task := range rep.Contracts {
			tasks = append(tasks, task)
		}
		sort.Strings(tasks)
		for _, task := range tasks {
			fmt.Fprintf(out, "    %s %v\n", task, rep.Contracts[task])
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d scenarios failed", failed, len(args))
	}
	return nil
}
