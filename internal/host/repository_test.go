package host

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/purelink-bridge/internal/infrastructure/database"
	"github.com/nerrad567/purelink-bridge/internal/purelink"
	"github.com/nerrad567/purelink-bridge/migrations"
)

// setupTestDB opens a migrated database in a temporary directory.
func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "purelink.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

func TestSQLiteRepositoryCreate(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t).DB)
	ctx := context.Background()
	spec := purelink.ChannelSpec{Channel: purelink.ChannelFanMode, Name: "Fan mode", Kind: purelink.SelectorChannel}

	created, err := repo.Create(ctx, spec)
	if err != nil || !created {
		t.Fatalf("Create() = %v, %v; want true, nil", created, err)
	}
	created, err = repo.Create(ctx, spec)
	if err != nil || created {
		t.Errorf("second Create() = %v, %v; want false, nil", created, err)
	}

	ch, err := repo.Get(ctx, purelink.ChannelFanMode)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ch.Name != "Fan mode" || ch.Kind != purelink.SelectorChannel || ch.UpdatedAt != nil {
		t.Errorf("Get() = %+v", ch)
	}
}

func TestSQLiteRepositorySetValue(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t).DB)
	ctx := context.Background()

	if _, err := repo.Create(ctx, purelink.ChannelSpec{Channel: purelink.ChannelTempHum, Name: "Temp", Kind: purelink.TempHumChannel}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	if err := repo.SetValue(ctx, purelink.ChannelTempHum, 1, "22.4;50;1", at); err != nil {
		t.Fatalf("SetValue() error = %v", err)
	}

	ch, err := repo.Get(ctx, purelink.ChannelTempHum)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ch.NValue != 1 || ch.SValue != "22.4;50;1" {
		t.Errorf("value = %d/%q", ch.NValue, ch.SValue)
	}
	if ch.UpdatedAt == nil || !ch.UpdatedAt.Equal(at) {
		t.Errorf("UpdatedAt = %v, want %v", ch.UpdatedAt, at)
	}

	if err := repo.SetValue(ctx, purelink.ChannelVOC, 3, "3", at); !errors.Is(err, ErrChannelNotFound) {
		t.Errorf("SetValue() on missing unit = %v, want ErrChannelNotFound", err)
	}
}

func TestSQLiteRepositoryList(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t).DB)
	ctx := context.Background()

	specs := purelink.ChannelSpecs()
	// Insert in reverse to check ordering.
	for i := len(specs) - 1; i >= 0; i-- {
		if _, err := repo.Create(ctx, specs[i]); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	channels, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(channels) != len(specs) {
		t.Fatalf("len = %d, want %d", len(channels), len(specs))
	}
	for i, ch := range channels {
		if ch.Unit != specs[i].Channel {
			t.Errorf("channels[%d].Unit = %d, want %d", i, ch.Unit, specs[i].Channel)
		}
	}

	if _, err := repo.Get(ctx, purelink.Channel(99)); !errors.Is(err, ErrChannelNotFound) {
		t.Errorf("Get(99) error = %v, want ErrChannelNotFound", err)
	}
}
