package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/pagekit/pkg/scenario"
)

var runVerify bool

func init() {
	cmd := newRunCmd()
	cmd.Flags().BoolVar(&runVerify, "verify", false, "Check allocator invariants after the script")
	rootCmd.AddCommand(cmd)
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [config.yaml]",
		Short: "Run the configured script against a fresh allocator",
		Long: `The run command builds memory and a page allocator from the configuration,
applies its reservations, then executes the script steps in order.

Example:
  pagectl run scenario.yaml
  pagectl run scenario.yaml --verify
  pagectl --config scenario.yaml run --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context(), args)
		},
	}
	return cmd
}

func runRun(ctx context.Context, args []string) error {
	var path string
	if len(args) == 1 {
		path = args[0]
	}
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}

	log, closeLog, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	env, err := scenario.Setup(cfg, log, nil)
	if err != nil {
		return fmt.Errorf("failed to set up allocator: %w", err)
	}
	defer env.Close()

	printVerbose("Running %d steps\n", len(cfg.Script))
	report, runErr := scenario.Run(ctx, env.Manager, cfg.Script)

	if runVerify {
		if err := env.Manager.Verify(); err != nil {
			return fmt.Errorf("verify failed: %w", err)
		}
		printVerbose("Invariants hold\n")
	}

	if jsonOut {
		if err := printJSON(report); err != nil {
			return err
		}
		return runErr
	}

	for _, res := range report.Steps {
		printInfo("%s\n", formatResult(res))
	}
	printInfo("\n%d steps, %d failed, %d pages free\n",
		len(report.Steps), report.Failed(), report.FreePages)
	return runErr
}

func formatResult(res scenario.Result) string {
	status := "ok"
	if !res.OK {
		status = "FAIL"
	}
	line := fmt.Sprintf("  [%d] %-12s %-4s", res.Index, res.Op, status)
	if res.Frame != nil {
		line += fmt.Sprintf("  frame 0x%X", uint64(*res.Frame))
	}
	if res.Bytes > 0 {
		line += fmt.Sprintf("  %d bytes", res.Bytes)
	}
	if res.Detail != "" {
		line += "  (" + res.Detail + ")"
	}
	return line
}
