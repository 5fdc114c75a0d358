// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dotandev/wasmgcopt/internal/metrics"
)

var (
	statsModuleFlag string
	statsLimitFlag  int
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show recent run statistics",
	Long:  `stats lists recent optimize runs recorded in the local metrics database.`,
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().StringVar(&statsModuleFlag, "module", "", "Restrict to runs of this module path")
	statsCmd.Flags().IntVar(&statsLimitFlag, "limit", 10, "Maximum number of runs to show (0 for all)")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	store, err := metrics.Open()
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.Recent(statsModuleFlag, statsLimitFlag)
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no recorded runs")
		return nil
	}

	bold := color.New(color.Bold)
	for _, r := range runs {
		bold.Printf("%s  %s\n", r.Timestamp.Format("2006-01-02 15:04:05"), r.ModulePath)
		fmt.Printf("  functions=%d structs2local=%d arrays2local=%d kept=%d outlined=%d callees=%d\n",
			r.FunctionsSeen, r.StructsToLocal, r.ArraysToLocal, r.AllocationsKept,
			r.FunctionsOutlined, r.CalleesCreated)
		for _, w := range r.Warnings {
			fmt.Printf("  warning: %s\n", w)
		}
	}
	return nil
}
