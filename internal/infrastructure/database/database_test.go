package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "purelink.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	return db
}

// TestOpen verifies database connection establishment.
func TestOpen(t *testing.T) {
	t.Run("creates nested directory and file", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "state", "nested", "purelink.db")

		db, err := Open(Config{Path: dbPath, WALMode: true, BusyTimeout: 5})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer db.Close() //nolint:errcheck // Test cleanup

		if _, err := db.ExecContext(context.Background(), "CREATE TABLE t (x INTEGER)"); err != nil {
			t.Fatalf("ExecContext() error = %v", err)
		}
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			t.Error("database file was not created")
		}
		if db.Path() != dbPath {
			t.Errorf("Path() = %v, want %v", db.Path(), dbPath)
		}
	})

	t.Run("without WAL", func(t *testing.T) {
		db, err := Open(Config{Path: filepath.Join(t.TempDir(), "plain.db"), BusyTimeout: 1})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer db.Close() //nolint:errcheck // Test cleanup

		var mode string
		if err := db.QueryRowContext(context.Background(), "PRAGMA journal_mode").Scan(&mode); err != nil {
			t.Fatalf("journal_mode: %v", err)
		}
		if mode == "wal" {
			t.Error("journal_mode = wal with WALMode disabled")
		}
	})

	t.Run("empty path", func(t *testing.T) {
		if _, err := Open(Config{}); !errors.Is(err, ErrNoPath) {
			t.Errorf("Open() with empty path = %v, want ErrNoPath", err)
		}
	})
}

func TestWALEnabled(t *testing.T) {
	db := openTestDB(t)

	var mode string
	if err := db.QueryRowContext(context.Background(), "PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

// TestHealthCheck verifies the health check functionality.
func TestHealthCheck(t *testing.T) {
	db := openTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := db.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() after Close should fail")
	}
}

func TestCloseNil(t *testing.T) {
	var db *DB
	if err := db.Close(); err != nil {
		t.Errorf("Close() on nil = %v", err)
	}
}

func TestConfigDSN(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		want    []string
		notWant []string
	}{
		{
			name: "wal",
			cfg:  Config{Path: "/var/lib/purelink/purelink.db", WALMode: true, BusyTimeout: 5},
			want: []string{"file:/var/lib/purelink/purelink.db?", "_busy_timeout=5000", "_foreign_keys=on", "_journal_mode=WAL", "_synchronous=NORMAL"},
		},
		{
			name:    "rollback journal",
			cfg:     Config{Path: "bridge.db", BusyTimeout: 1},
			want:    []string{"file:bridge.db?", "_busy_timeout=1000"},
			notWant: []string{"_journal_mode"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsn := tt.cfg.dsn()
			for _, w := range tt.want {
				if !strings.Contains(dsn, w) {
					t.Errorf("dsn %q missing %q", dsn, w)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(dsn, w) {
					t.Errorf("dsn %q should not contain %q", dsn, w)
				}
			}
		})
	}
}
