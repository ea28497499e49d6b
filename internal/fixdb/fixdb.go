// Package fixdb persists "what worked before": the last successful
// build strategy per project fingerprint, consulted before the default
// attempt on later builds of the same project.
package fixdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/usenabla-com/nabla-runners/internal/buildsys"
	"github.com/usenabla-com/nabla-runners/internal/strategy"
)

// DB is a SQLite-backed fix database.
// Use ":memory:" for an in-memory database, or a file path for
// persistent storage across runner restarts.
type DB struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens (and initializes) the fix database at dbPath.
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	d := &DB{db: db}
	if err := d.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return d, nil
}

func (d *DB) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS successful_configs (
		fingerprint TEXT NOT NULL,
		build_system TEXT NOT NULL,
		strategy BLOB NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (fingerprint, build_system)
	);
	CREATE INDEX IF NOT EXISTS idx_configs_updated ON successful_configs(updated_at);
	`
	_, err := d.db.Exec(schema)
	return err
}

// Close releases the underlying database handle.
func (d *DB) Close() error {
	return d.db.Close()
}

// RecordSuccess stores (or replaces) the strategy that produced a
// successful build for the fingerprinted project.
func (d *DB) RecordSuccess(ctx context.Context, fingerprint string, system buildsys.System, s strategy.Strategy) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	payload, err := s.Encode()
	if err != nil {
		return err
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO successful_configs (fingerprint, build_system, strategy, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(fingerprint, build_system) DO UPDATE
		 SET strategy = excluded.strategy, updated_at = excluded.updated_at`,
		fingerprint, string(system), payload, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("record successful config: %w", err)
	}
	return nil
}

// LastGood returns the last recorded successful strategy for the
// fingerprinted project, if any.
func (d *DB) LastGood(ctx context.Context, fingerprint string, system buildsys.System) (strategy.Strategy, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var payload []byte
	err := d.db.QueryRowContext(ctx,
		`SELECT strategy FROM successful_configs WHERE fingerprint = ? AND build_system = ?`,
		fingerprint, string(system),
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return strategy.Strategy{}, false, nil
	}
	if err != nil {
		return strategy.Strategy{}, false, fmt.Errorf("query successful config: %w", err)
	}

	s, err := strategy.Decode(payload)
	if err != nil {
		return strategy.Strategy{}, false, err
	}
	return s, true, nil
}

// Fingerprint derives a stable identity for a project's build
// configuration: the hash of its build-system marker file. STM32
// projects hash the first *.project/*.cproject file found.
func Fingerprint(path string, system buildsys.System) (string, error) {
	marker := system.MarkerFile()
	if system == buildsys.SystemSTM32Cube {
		marker = firstSTM32Marker(path)
	}
	if system == buildsys.SystemMakefile {
		if _, err := os.Stat(filepath.Join(path, "Makefile")); err != nil {
			marker = "makefile"
		}
	}
	if system == buildsys.SystemZephyrWest {
		if _, err := os.Stat(filepath.Join(path, "west.yml")); err != nil {
			// Manifest-less west workspace; fall back to the directory
			// name so the fingerprint stays stable.
			sum := sha256.Sum256([]byte(filepath.Base(path)))
			return hex.EncodeToString(sum[:]), nil
		}
	}
	if marker == "" {
		return "", fmt.Errorf("no marker file for %s under %s", system, path)
	}

	data, err := os.ReadFile(filepath.Join(path, marker))
	if err != nil {
		return "", fmt.Errorf("read marker %s: %w", marker, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func firstSTM32Marker(path string) string {
	entries, err := os.ReadDir(path)
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".project") || strings.HasSuffix(name, ".cproject") {
			return name
		}
	}
	return ""
}
