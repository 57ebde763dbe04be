package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
)

const (
	dirMode  = 0o750
	fileMode = 0o600

	pingTimeout = 5 * time.Second
)

// ErrNoPath is returned by Open when Config.Path is empty.
var ErrNoPath = errors.New("database: path is required")

// Config maps the database section of the bridge config.
type Config struct {
	// Path is the SQLite file. Missing parent directories are created.
	Path string

	// WALMode lets API reads proceed while the synchronizer writes.
	WALMode bool

	// BusyTimeout is how long a connection waits for a lock, in seconds.
	BusyTimeout int
}

// dsn builds the go-sqlite3 connection string. Pragmas are applied by the
// driver on every new connection.
func (c Config) dsn() string {
	q := url.Values{}
	q.Set("_busy_timeout", fmt.Sprint(c.BusyTimeout*1000))
	q.Set("_foreign_keys", "on")
	if c.WALMode {
		q.Set("_journal_mode", "WAL")
		q.Set("_synchronous", "NORMAL")
	}
	return "file:" + c.Path + "?" + q.Encode()
}

// DB is the bridge's local SQLite store. The embedded *sql.DB is used
// directly by repositories.
type DB struct {
	*sql.DB
	path string
}

// Open creates the file if needed, applies the connection pragmas and
// pings it. The pool holds a single connection: SQLite allows one writer.
func Open(cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, ErrNoPath
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirMode); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite3", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Path, err)
	}

	// The ping created the file; tighten it.
	_ = os.Chmod(cfg.Path, fileMode) //nolint:errcheck // best effort

	return &DB{DB: sqlDB, path: cfg.Path}, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck runs a trivial query.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	return nil
}

// Close closes the pool. It is safe on a nil DB.
func (db *DB) Close() error {
	if db == nil || db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}
