package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/joshuapare/pagekit/pkg/config"
)

func init() {
	rootCmd.AddCommand(newConfigCmd())
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config [config.yaml]",
		Short: "Print the effective configuration",
		Long: `The config command loads the configuration (or the defaults), validates it,
and prints it as YAML with every default filled in.

Example:
  pagectl config
  pagectl config scenario.yaml
  pagectl config scenario.yaml --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig(args)
		},
	}
	return cmd
}

func runConfig(args []string) error {
	var path string
	if len(args) == 1 {
		path = args[0]
	}
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(cfg)
	}

	data, err := config.Marshal(cfg)
	if err != nil {
		return err
	}
	if !quiet {
		_, err = os.Stdout.Write(data)
	}
	return err
}
