package config

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// schemaVersion is the single supported version of the persisted schema.
const schemaVersion = 0

// Store is the persisted key/value configuration table backed by SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the store at dbPath. Pass ":memory:" for an
// ephemeral store. Missing tables are created and seeded with defaults;
// an unknown schema version is fatal.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	var version int
	err := s.db.QueryRow(`SELECT version FROM schema`).Scan(&version)
	switch {
	case err == nil:
		if version != schemaVersion {
			return fmt.Errorf("unsupported schema version %d", version)
		}
		return nil
	case err != sql.ErrNoRows:
		// schema table missing: fresh database
	}

	schema := `
	CREATE TABLE IF NOT EXISTS schema (
		version INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS config (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	if err := s.db.QueryRow(`SELECT version FROM schema`).Scan(&version); err == sql.ErrNoRows {
		if _, err := s.db.Exec(`INSERT INTO schema (version) VALUES (?)`, schemaVersion); err != nil {
			return err
		}
	} else if err != nil {
		return err
	} else if version != schemaVersion {
		return fmt.Errorf("unsupported schema version %d", version)
	}

	return s.seed()
}

// seed inserts default values for keys not already present.
func (s *Store) seed() error {
	for key, value := range defaultValues() {
		if _, err := s.db.Exec(
			`INSERT OR IGNORE INTO config (key, value) VALUES (?, ?)`, key, value,
		); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the value for key, or ErrNoValue if the key is absent.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM config WHERE key = ?`, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: %s", ErrNoValue, key)
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// Set inserts or replaces the value for key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO config (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// All returns the whole config table.
func (s *Store) All(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM config ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		values[key] = value
	}
	return values, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
