package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshuapare/pagekit/internal/logger"
	"github.com/joshuapare/pagekit/pkg/config"
)

var (
	// Global flags
	configPath string
	verbose    bool
	quiet      bool
	jsonOut    bool
)

var rootCmd = &cobra.Command{
	Use:   "pagectl",
	Short: "Drive and inspect the pagekit page allocator",
	Long: `pagectl builds a page allocator from a YAML configuration, runs scripted
alloc/free/reserve steps against it, and prints free-list state and statistics.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads path, falling back to --config and then the defaults.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = configPath
	}
	if path == "" {
		printVerbose("Using default configuration\n")
		return config.Default(), nil
	}
	printVerbose("Loading configuration: %s\n", path)
	return config.Load(path)
}

// setupLogging initializes the global logger from cfg. --verbose without
// file logging sends debug output to stderr.
func setupLogging(cfg *config.Config) (*slog.Logger, func() error, error) {
	opts, err := cfg.LoggerOptions()
	if err != nil {
		return nil, nil, err
	}
	if verbose && !opts.Enabled {
		opts = logger.Options{Enabled: true, LogDir: "-", Level: slog.LevelDebug}
	}
	closeLog, err := logger.Init(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	return logger.L, closeLog, nil
}

// Helper functions for output

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...interface{}) {
	if !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printError prints an error message
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format, args...)
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...interface{}) {
	if verbose && !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
