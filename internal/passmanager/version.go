// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package passmanager

import "github.com/hashicorp/go-version"

// versionAtLeast reports whether declared >= floor as semvers.
func versionAtLeast(declared, floor string) (bool, error) {
	d, err := version.NewVersion(declared)
	if err != nil {
		return false, err
	}
	f, err := version.NewVersion(floor)
	if err != nil {
		return false, err
	}
	return d.GreaterThanOrEqual(f), nil
}
