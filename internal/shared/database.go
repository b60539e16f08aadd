package shared

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// MemoryDatabase is the DSN for a private in-memory database.
const MemoryDatabase = ":memory:"

// NewDatabase opens a connection to a SQLite database at the specified path with foreign keys enforced.
//
// The path can be ":memory:" for an in-memory database. Every pooled connection to ":memory:" would
// see its own empty database, so in-memory handles are pinned to a single connection.
func NewDatabase(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path == MemoryDatabase {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// connParams are appended to every DSN.
//
// Transactions begin IMMEDIATE so a writer takes the write lock up front and waits out
// busy_timeout, instead of failing with SQLITE_BUSY when a read lock cannot be upgraded.
// WAL lets readers proceed while a reconcile holds the write lock.
const connParams = "_foreign_keys=on&_busy_timeout=5000&_txlock=immediate&_journal_mode=WAL"

func dsn(path string) string {
	if strings.Contains(path, "?") {
		return path + "&" + connParams
	}
	return path + "?" + connParams
}

// ConfigureDatabase sets connection pool settings for file backed databases.
// In-memory databases keep their single connection.
func ConfigureDatabase(db *sql.DB, cfg DatabaseConfig) {
	if cfg.Path == MemoryDatabase {
		return
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
}

// OpenDatabase opens the configured database and applies pending migrations.
func OpenDatabase(cfg DatabaseConfig) (*sql.DB, error) {
	db, err := NewDatabase(cfg.Path)
	if err != nil {
		return nil, err
	}
	ConfigureDatabase(db, cfg)

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
