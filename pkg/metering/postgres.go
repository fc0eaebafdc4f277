package metering

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresMeter implements Meter with PostgreSQL storage.
type PostgresMeter struct {
	db *sql.DB
}

// NewPostgresMeter creates a new PostgreSQL-backed meter.
func NewPostgresMeter(db *sql.DB) *PostgresMeter {
	return &PostgresMeter{db: db}
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS usage_events (
	id BIGSERIAL PRIMARY KEY,
	event_id TEXT NOT NULL UNIQUE,
	identity TEXT NOT NULL,
	event_type TEXT NOT NULL,
	quantity BIGINT NOT NULL,
	timestamp TIMESTAMP NOT NULL,
	metadata JSONB
);
CREATE INDEX IF NOT EXISTS idx_usage_events_identity_time ON usage_events(identity, timestamp);
`

// Init creates the necessary database tables.
func (m *PostgresMeter) Init(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, postgresSchema)
	return err
}

// Record stores a single usage event.
func (m *PostgresMeter) Record(ctx context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	event = event.withDefaults()

	metadataJSON, err := marshalMetadata(event.Metadata)
	if err != nil {
		return err
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO usage_events (event_id, identity, event_type, quantity, timestamp, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, event.ID, event.Identity, string(event.EventType), event.Quantity, event.Timestamp, metadataJSON)
	if err != nil {
		return fmt.Errorf("metering: failed to record event: %w", err)
	}
	return nil
}

// GetUsage retrieves aggregated usage for an identity in a period.
func (m *PostgresMeter) GetUsage(ctx context.Context, identity string, period Period) (*Usage, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT event_type, SUM(quantity), MAX(timestamp)
		FROM usage_events
		WHERE identity = $1 AND timestamp >= $2 AND timestamp < $3
		GROUP BY event_type
	`, identity, period.Start, period.End)
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
		var total int64
		var last time.Time
		if err := rows.Scan(&eventType, &total, &last); err != nil {
			return nil, fmt.Errorf("metering: failed to scan usage: %w", err)
		}
		usage.Totals[EventType(eventType)] = total
		if last.After(usage.LastUpdate) {
			usage.LastUpdate = last
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

// GetUsageByType retrieves usage for a specific event type.
func (m *PostgresMeter) GetUsageByType(ctx context.Context, identity string, eventType EventType, period Period) (int64, error) {
	var total sql.NullInt64
	err := m.db.QueryRowContext(ctx, `
		SELECT SUM(quantity)
		FROM usage_events
		WHERE identity = $1 AND event_type = $2 AND timestamp >= $3 AND timestamp < $4
	`, identity, string(eventType), period.Start, period.End).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("metering: failed to query usage by type: %w", err)
	}
	return total.Int64, nil
}

func marshalMetadata(md map[string]any) ([]byte, error) {
	if md == nil {
		return nil, nil
	}
	b, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("metering: failed to marshal metadata: %w", err)
	}
	return b, nil
}
