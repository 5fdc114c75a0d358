// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dotandev/wasmgcopt/internal/config"
	"github.com/dotandev/wasmgcopt/internal/fixture"
	"github.com/dotandev/wasmgcopt/internal/ir"
	"github.com/dotandev/wasmgcopt/internal/logging"
	"github.com/dotandev/wasmgcopt/internal/metrics"
	"github.com/dotandev/wasmgcopt/internal/passmanager"
)

var passFlag string

var optimizeCmd = &cobra.Command{
	Use:   "optimize <module.yaml|module.json>",
	Short: "Run Heap2Local and Outlining over a module",
	Long: `optimize loads a module fixture and runs the optimization pipeline
over it: Heap2Local to a fixed point, then a single Outlining pass.
--pass heap2local skips the EH version-floor check and --pass outlining
skips the GC one; both passes run either way.`,
	Args: cobra.ExactArgs(1),
	RunE: runOptimize,
}

func init() {
	optimizeCmd.Flags().StringVar(&passFlag, "pass", "", "Check only one pass's version floor: heap2local or outlining (both passes still run)")
	rootCmd.AddCommand(optimizeCmd)
}

func runOptimize(cmd *cobra.Command, args []string) error {
	path := args[0]
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	m, declaredGC, declaredEH, err := fixture.Load(path)
	if err != nil {
		return err
	}
	functionsSeen := len(m.Functions)

	logging.Logger.Debug("optimize starting", "module", path, "target", TargetFlag, "declared_gc", declaredGC, "declared_eh", declaredEH)

	opts := passmanager.Options{
		PassOptions:       passOptionsFor(cfg),
		DeclaredGCVersion: declaredGC,
		DeclaredEHVersion: declaredEH,
	}

	minGC, minEH := cfg.MinGCVersion, cfg.MinEHVersion
	switch passFlag {
	case "heap2local":
		minEH = ""
	case "outlining":
		minGC = ""
	}

	report, err := passmanager.Run(ctx, m, opts, minGC, minEH)
	if err != nil {
		return err
	}

	printReport(path, report)

	store, merr := metrics.Open()
	if merr != nil {
		logging.Logger.Warn("could not open metrics store", "error", merr)
		return nil
	}
	defer store.Close()

	stats := aggregateStats(path, functionsSeen, report)
	if err := store.Record(stats); err != nil {
		logging.Logger.Warn("could not record run stats", "error", err)
	}

	return nil
}

func passOptionsFor(cfg *config.Config) ir.PassOptions {
	po := ir.DefaultPassOptions()
	if cfg.MaxArraySize > 0 {
		po.MaxArraySize = cfg.MaxArraySize
	}
	return po
}

func printReport(path string, report passmanager.Report) {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)

	bold.Printf("optimize %s\n", path)
	for _, r := range report.Heap2Local {
		if r.StructsToLocal == 0 && r.ArraysToLocal == 0 {
			continue
		}
		green.Printf("  %s: %d struct(s), %d array(s) moved to locals (%d allocations kept)\n",
			r.FunctionName, r.StructsToLocal, r.ArraysToLocal, r.AllocationsKept)
	}
	if report.Outlining.FunctionsOutlined > 0 {
		green.Printf("  outlining: %d substring(s) found, %d function(s) rewritten, %d callee(s) created\n",
			report.Outlining.SubstringsFound, report.Outlining.FunctionsOutlined, report.Outlining.CalleesCreated)
	} else {
		fmt.Println("  outlining: no repeated sequences found")
	}
}

func aggregateStats(path string, functionsSeen int, report passmanager.Report) *metrics.RunStats {
	stats := &metrics.RunStats{
		ModulePath:        path,
		FunctionsSeen:     functionsSeen,
		SubstringsFound:   report.Outlining.SubstringsFound,
		FunctionsOutlined: report.Outlining.FunctionsOutlined,
		CalleesCreated:    report.Outlining.CalleesCreated,
	}
	for _, r := range report.Heap2Local {
		stats.StructsToLocal += r.StructsToLocal
		stats.ArraysToLocal += r.ArraysToLocal
		stats.AllocationsKept += r.AllocationsKept
	}
	return stats
}
