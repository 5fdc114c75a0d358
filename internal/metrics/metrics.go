// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

// Package metrics persists per-run pass statistics to a local SQLite
// database so a series of optimize runs can be compared over time from
// the CLI's stats command.
package metrics

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// RunStats records the outcome of a single optimize invocation over one module.
type RunStats struct {
	ID               int64     `json:"id"`
	ModulePath       string    `json:"module_path"`
	FunctionsSeen    int       `json:"functions_seen"`
	StructsToLocal   int       `json:"structs_to_local"`
	ArraysToLocal    int       `json:"arrays_to_local"`
	AllocationsKept  int       `json:"allocations_kept"`
	SubstringsFound  int       `json:"substrings_found"`
	FunctionsOutlined int      `json:"functions_outlined"`
	CalleesCreated   int       `json:"callees_created"`
	BytesBefore      int64     `json:"bytes_before"`
	BytesAfter       int64     `json:"bytes_after"`
	Warnings         []string  `json:"warnings"`
	Timestamp        time.Time `json:"timestamp"`
}

// Store handles metrics database operations.
type Store struct {
	db *sql.DB
}

// Open initializes the SQLite metrics database under the user's home
// directory, creating the schema on first use.
func Open() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home dir: %w", err)
	}
	dir := filepath.Join(home, ".wasmgcopt")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	return OpenAt(filepath.Join(dir, "metrics.db"))
}

// OpenAt initializes the SQLite metrics database at an explicit path,
// used by tests to avoid touching the real home directory.
func OpenAt(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		module_path TEXT NOT NULL,
		functions_seen INTEGER,
		structs_to_local INTEGER,
		arrays_to_local INTEGER,
		allocations_kept INTEGER,
		substrings_found INTEGER,
		functions_outlined INTEGER,
		callees_created INTEGER,
		bytes_before INTEGER,
		bytes_after INTEGER,
		warnings TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_runs_module_path ON runs(module_path);
	`
	_, err := db.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to init schema: %w", err)
	}
	return nil
}

// Record persists a run's stats.
func (s *Store) Record(stats *RunStats) error {
	warningsJSON, _ := json.Marshal(stats.Warnings)

	query := `
	INSERT INTO runs (module_path, functions_seen, structs_to_local, arrays_to_local,
		allocations_kept, substrings_found, functions_outlined, callees_created,
		bytes_before, bytes_after, warnings, timestamp)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		stats.ModulePath, stats.FunctionsSeen, stats.StructsToLocal, stats.ArraysToLocal,
		stats.AllocationsKept, stats.SubstringsFound, stats.FunctionsOutlined, stats.CalleesCreated,
		stats.BytesBefore, stats.BytesAfter, string(warningsJSON), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// Recent returns the most recent runs, newest first, optionally filtered
// to a single module path. A limit of 0 means no limit.
func (s *Store) Recent(modulePath string, limit int) ([]RunStats, error) {
	query := "SELECT id, module_path, functions_seen, structs_to_local, arrays_to_local, allocations_kept, substrings_found, functions_outlined, callees_created, bytes_before, bytes_after, warnings, timestamp FROM runs WHERE 1=1"
	args := []interface{}{}

	if modulePath != "" {
		query += " AND module_path = ?"
		args = append(args, modulePath)
	}
	query += " ORDER BY timestamp DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var results []RunStats
	for rows.Next() {
		var r RunStats
		var warningsRaw string
		var ts time.Time
		if err := rows.Scan(&r.ID, &r.ModulePath, &r.FunctionsSeen, &r.StructsToLocal, &r.ArraysToLocal,
			&r.AllocationsKept, &r.SubstringsFound, &r.FunctionsOutlined, &r.CalleesCreated,
			&r.BytesBefore, &r.BytesAfter, &warningsRaw, &ts); err != nil {
			continue
		}
		r.Timestamp = ts
		_ = json.Unmarshal([]byte(warningsRaw), &r.Warnings)
		results = append(results, r)
	}
	return results, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
