package metering

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteMeter implements Meter on SQLite for single-node deployments.
// Timestamps are stored as unix nanoseconds so range scans stay numeric.
type SQLiteMeter struct {
	db *sql.DB
}

// NewSQLiteMeter creates the meter and its table.
func NewSQLiteMeter(db *sql.DB) (*SQLiteMeter, error) {
	m := &SQLiteMeter{db: db}
	if err := m.migrate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *SQLiteMeter) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS usage_events (
		event_id TEXT PRIMARY KEY,
		identity TEXT NOT NULL,
		event_type TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		ts INTEGER NOT NULL,
		metadata JSON
	);
	CREATE INDEX IF NOT EXISTS idx_usage_events_identity_ts ON usage_events(identity, ts);`
	if _, err := m.db.ExecContext(context.Background(), query); err != nil {
		return fmt.Errorf("metering: sqlite migrate: %w", err)
	}
	return nil
}

func (m *SQLiteMeter) Record(ctx context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	event = event.withDefaults()

	metadataJSON, err := marshalMetadata(event.Metadata)
	if err != nil {
		return err
	}
	var md any
	if metadataJSON != nil {
		md = string(metadataJSON)
	}

	_, err = m.db.ExecContext(ctx,
		`INSERT INTO usage_events (event_id, identity, event_type, quantity, ts, metadata) VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID, event.Identity, string(event.EventType), event.Quantity, event.Timestamp.UTC().UnixNano(), md,
	)
	if err != nil {
		return fmt.Errorf("metering: failed to record event: %w", err)
	}
	return nil
}

func (m *SQLiteMeter) GetUsage(ctx context.Context, identity string, period Period) (*Usage, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT event_type, SUM(quantity), MAX(ts)
		FROM usage_events
		WHERE identity = ? AND ts >= ? AND ts < ?
		GROUP BY event_type`,
		identity, period.Start.UTC().UnixNano(), period.End.UTC().UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("metering: failed to query usage: %w", err)
	}
	defer func() { _ = rows.Close() }()

	usage := &Usage{
		Identity: identity,
		Period:   period,
		Totals:   make(map[EventType]int64),
	}
	for rows.Next() {
		var eventType string
		var total, last int64
		if err := rows.Scan(&eventType, &total, &last); err != nil {
			return nil, fmt.Errorf("metering: failed to scan usage: %w", err)
		}
		usage.Totals[EventType(eventType)] = total
		if ts := time.Unix(0, last).UTC(); ts.After(usage.LastUpdate) {
			usage.LastUpdate = ts
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("metering: usage rows: %w", err)
	}
	if usage.LastUpdate.IsZero() {
		usage.LastUpdate = time.Now().UTC()
	}
	return usage, nil
}

func (m *SQLiteMeter) GetUsageByType(ctx context.Context, identity string, eventType EventType, period Period) (int64, error) {
	var total sql.NullInt64
	err := m.db.QueryRowContext(ctx,
		`SELECT SUM(quantity) FROM usage_events WHERE identity = ? AND event_type = ? AND ts >= ? AND ts < ?`,
		identity, string(eventType), period.Start.UTC().UnixNano(), period.End.UTC().UnixNano(),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("metering: failed to query usage by type: %w", err)
	}
	return total.Int64, nil
}
