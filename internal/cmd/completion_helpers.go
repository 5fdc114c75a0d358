// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"github.com/spf13/cobra"
)

var outputFormats = []string{"text\tHuman-readable report", "json\tMachine-readable JSON report"}
var logLevels = []string{"debug\tVerbose diagnostic logging", "info\tDefault logging", "warn\tWarnings and errors only", "error\tErrors only"}
var targetRevisions = []string{"gc-mvp\tWasm GC MVP", "gc-descriptors\tWasm GC with descriptors", "gc-custom-descriptors\tWasm GC with custom descriptors"}

func completeOutputFormatFlag(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	return outputFormats, cobra.ShellCompDirectiveNoFileComp
}

func completeLogLevelFlag(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	return logLevels, cobra.ShellCompDirectiveNoFileComp
}

func completeTargetFlag(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	return targetRevisions, cobra.ShellCompDirectiveNoFileComp
}

func completeNoOp(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	return nil, cobra.ShellCompDirectiveNoFileComp
}
