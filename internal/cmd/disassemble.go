// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dotandev/wasmgcopt/internal/errors"
	"github.com/dotandev/wasmgcopt/internal/wat"
)

var disassembleCmd = &cobra.Command{
	Use:   "disassemble <module.wasm>",
	Short: "Dump a module's raw bytecode as WAT-ish text",
	Long: `disassemble decodes a module's code section directly from the
binary, bypassing the IR fixture loader, so it works on a module that
cannot be parsed into IR at all.`,
	Args: cobra.ExactArgs(1),
	RunE: runDisassemble,
}

func init() {
	rootCmd.AddCommand(disassembleCmd)
}

func runDisassemble(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return errors.WrapInvalidModule("reading module: " + err.Error())
	}

	d := wat.NewDisassembler(data)
	if !d.IsValidWasm() {
		return errors.WrapInvalidModule("not a valid Wasm binary")
	}

	instrs, err := d.DecodeAll()
	if err != nil {
		return err
	}

	for _, inst := range instrs {
		fmt.Println(inst.String())
	}
	return nil
}
