// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dotandev/wasmgcopt/internal/config"
	"github.com/dotandev/wasmgcopt/internal/logging"
)

// Global flag variables
var (
	LogLevelFlag string
	JSONLogsFlag bool
	TargetFlag   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "wasmgcopt",
	Short: "Escape-analysis and code-outlining optimizer for Wasm GC/EH modules",
	Long: `wasmgcopt applies two size- and speed-focused optimization passes to
WebAssembly modules that use the GC and exception-handling proposals:

  - heap2local: escape analysis that rewrites struct and array
    allocations that never leave a function into scalar locals,
    eliminating the heap allocation entirely.
  - outlining: finds repeated instruction sequences across a module
    and factors them into shared helper functions to shrink binary size.

Examples:
  wasmgcopt optimize module.json               Run both passes over a module
  wasmgcopt optimize --pass heap2local mod.yaml Check only the GC version floor
  wasmgcopt disassemble module.wasm            Dump a module's raw bytecode as text
  wasmgcopt stats                              Show recent run statistics

Get started with 'wasmgcopt optimize --help'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		lvl := LogLevelFlag
		if lvl == "" {
			lvl = cfg.LogLevel
		}
		logging.SetLevel(parseLevel(lvl))

		if JSONLogsFlag || cfg.JSONLogs {
			logging.SetOutput(nil, true)
		}

		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	rootCmd.Version = Version
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&LogLevelFlag,
		"log-level",
		"",
		"Override the log level (debug, info, warn, error)",
	)
	rootCmd.RegisterFlagCompletionFunc("log-level", completeLogLevelFlag)

	rootCmd.PersistentFlags().BoolVar(
		&JSONLogsFlag,
		"json-logs",
		false,
		"Emit structured JSON logs instead of text",
	)

	rootCmd.PersistentFlags().StringVar(
		&TargetFlag,
		"target",
		"gc-mvp",
		"Minimum Wasm GC/EH revision the module targets",
	)
	rootCmd.RegisterFlagCompletionFunc("target", completeTargetFlag)
}
