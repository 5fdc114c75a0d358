// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package fixture

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotandev/wasmgcopt/internal/ir"
)

const counterFixture = `
gcVersion: "2.0.0"
ehVersion: "1.0.0"
types:
  - name: "$Counter"
    kind: struct
    fields:
      - type: i32
        mutable: true
functions:
  - name: f
    results: []
    locals: ["$Counter?"]
    body:
      - op: local.set
        local: 0
        kids:
          - op: struct.new
            heap: "$Counter"
            kids:
              - op: const
                type: i32
                value: 0
      - op: drop
        kids:
          - op: struct.get
            field: 0
            type: i32
            kids:
              - op: local.get
                local: 0
                type: "$Counter?"
`

func TestLoadBuildsModuleFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "counter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(counterFixture), 0644))

	m, gc, eh, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", gc)
	assert.Equal(t, "1.0.0", eh)
	require.Len(t, m.Functions, 1)

	fn := m.Functions[0]
	assert.Equal(t, "f", fn.Name)
	require.NotNil(t, fn.Body)
	assert.Equal(t, ir.KindSequence, fn.Body.Kind)
	require.Len(t, fn.Body.Children, 2)
	assert.Equal(t, ir.KindLocalSet, fn.Body.Children[0].Kind)
	assert.Equal(t, ir.KindStructNew, fn.Body.Children[0].Children[0].Kind)
}

func TestLoadRejectsUnknownOp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("functions:\n  - name: f\n    body:\n      - op: nonsense\n"), 0644))

	_, _, _, err := Load(path)
	assert.Error(t, err)
}
