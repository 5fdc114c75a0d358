// Copyright (c) 2026 dotandev
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package errors holds sentinel errors shared across the pass pipeline,
// plus Wrap* helpers for consistent wrapping with errors.Is support.
//
// Escaping allocations and filtered-out substrings are not modeled here:
// per the pass contracts, those are soft outcomes (the allocation or
// substring is simply skipped), not errors. Only internal-inconsistency
// failures - a malformed reconstruction, a refinalize that cannot
// restore valid types, a module that cannot be parsed into the IR - are
// sentinel errors, and per the pass contracts they are fatal.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for comparison with errors.Is.
var (
	ErrIRBuilderFailed    = errors.New("IR builder reported a fatal error")
	ErrRefinalizeFailed   = errors.New("refinalize could not restore valid types")
	ErrInvalidModule      = errors.New("module is not well-formed")
	ErrUnsupportedOpcode  = errors.New("unsupported opcode")
	ErrUnknownFunction    = errors.New("reference to unknown function")
	ErrUnknownLabel       = errors.New("reference to unknown branch label")
	ErrIncompatibleTarget = errors.New("module targets a GC/EH revision the passes do not support")
	ErrInvalidConfig      = errors.New("invalid configuration")
)

// WrapIRBuilderFailed wraps a fatal IRBuilder error, naming the builder call that failed.
func WrapIRBuilderFailed(call string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrIRBuilderFailed, call, err)
}

// WrapRefinalizeFailed wraps a fatal refinalize error, naming the function under repair.
func WrapRefinalizeFailed(funcName string, err error) error {
	return fmt.Errorf("%w: function %q: %w", ErrRefinalizeFailed, funcName, err)
}

// WrapInvalidModule wraps a module validation error with context.
func WrapInvalidModule(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidModule, reason)
}

// WrapUnsupportedOpcode names the opcode that could not be processed.
func WrapUnsupportedOpcode(op string) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedOpcode, op)
}

// WrapUnknownFunction names the missing function reference.
func WrapUnknownFunction(name string) error {
	return fmt.Errorf("%w: %q", ErrUnknownFunction, name)
}

// WrapUnknownLabel names the missing branch label.
func WrapUnknownLabel(label string) error {
	return fmt.Errorf("%w: %q", ErrUnknownLabel, label)
}

// WrapIncompatibleTarget explains why a module's declared target rejects optimization.
func WrapIncompatibleTarget(declared, required string) error {
	return fmt.Errorf("%w: declared %s, need >= %s", ErrIncompatibleTarget, declared, required)
}

// WrapInvalidConfig wraps a configuration loading or validation error.
func WrapInvalidConfig(reason string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, reason)
	}
	return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, reason, err)
}
