package host

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/purelink-bridge/internal/purelink"
)

// Repository defines channel persistence.
type Repository interface {
	// Create inserts a channel row unless the unit already exists.
	// It reports whether a row was inserted.
	Create(ctx context.Context, spec purelink.ChannelSpec) (bool, error)

	// Get retrieves a channel by unit.
	// Returns ErrChannelNotFound if the unit has no row.
	Get(ctx context.Context, unit purelink.Channel) (*Channel, error)

	// List retrieves all channels in unit order.
	List(ctx context.Context) ([]Channel, error)

	// SetValue stores a channel's value.
	// Returns ErrChannelNotFound if the unit has no row.
	SetValue(ctx context.Context, unit purelink.Channel, n int, s string, at time.Time) error
}

// SQLiteRepository implements Repository on the channels table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const channelColumns = `unit, name, kind, n_value, s_value, updated_at`

// Create inserts a channel row unless the unit already exists.
func (r *SQLiteRepository) Create(ctx context.Context, spec purelink.ChannelSpec) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO channels (unit, name, kind) VALUES (?, ?, ?) ON CONFLICT(unit) DO NOTHING`,
		int(spec.Channel), spec.Name, string(spec.Kind),
	)
	if err != nil {
		return false, fmt.Errorf("creating channel %d: %w", spec.Channel, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return n == 1, nil
}

// Get retrieves a channel by unit.
func (r *SQLiteRepository) Get(ctx context.Context, unit purelink.Channel) (*Channel, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+channelColumns+` FROM channels WHERE unit = ?`, int(unit))
	ch, err := scanChannel(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrChannelNotFound
		}
		return nil, fmt.Errorf("querying channel %d: %w", unit, err)
	}
	return ch, nil
}

// List retrieves all channels in unit order.
func (r *SQLiteRepository) List(ctx context.Context) ([]Channel, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+channelColumns+` FROM channels ORDER BY unit`)
	if err != nil {
		return nil, fmt.Errorf("querying channels: %w", err)
	}
	defer rows.Close()

	var channels []Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning channel: %w", err)
		}
		channels = append(channels, *ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating channels: %w", err)
	}
	return channels, nil
}

// SetValue stores a channel's value.
func (r *SQLiteRepository) SetValue(ctx context.Context, unit purelink.Channel, n int, s string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE channels SET n_value = ?, s_value = ?, updated_at = ? WHERE unit = ?`,
		n, s, at.UTC().Format(time.RFC3339Nano), int(unit),
	)
	if err != nil {
		return fmt.Errorf("updating channel %d: %w", unit, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return ErrChannelNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChannel(scanner rowScanner) (*Channel, error) {
	var (
		ch        Channel
		unit      int
		kind      string
		updatedAt sql.NullString
	)
	if err := scanner.Scan(&unit, &ch.Name, &kind, &ch.NValue, &ch.SValue, &updatedAt); err != nil {
		return nil, err
	}
	ch.Unit = purelink.Channel(unit)
	ch.Kind = purelink.ChannelKind(kind)
	if updatedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, updatedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		ch.UpdatedAt = &t
	}
	return &ch, nil
}
