// Package metering records usage events per caller identity.
//
// The meter is an analytics ledger. Free-tier decisions never read it, so a
// durable backend does not make quotas survive a restart.
package metering

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrEmptyIdentity is returned when a metering event has no identity.
	ErrEmptyIdentity = errors.New("metering: identity must not be empty")
	// ErrNegativeQuantity is returned when a metering event has a negative quantity.
	ErrNegativeQuantity = errors.New("metering: quantity must not be negative")
	// ErrInvalidEventType is returned when the event type is empty.
	ErrInvalidEventType = errors.New("metering: event_type must not be empty")
)

// EventType defines the type of metered event.
type EventType string

const (
	EventFreeCall          EventType = "free_call"
	EventPayableCall       EventType = "payable_call"
	EventDelivery          EventType = "delivery"
	EventAttestation       EventType = "attestation"
	EventAttestationFailed EventType = "attestation_failed"
	EventExtractionError   EventType = "extraction_error"
)

// Event represents a single metered usage event.
type Event struct {
	ID        string         `json:"id"`
	Identity  string         `json:"identity"`
	EventType EventType      `json:"event_type"`
	Quantity  int64          `json:"quantity"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Validate checks that the event has valid fields.
func (e Event) Validate() error {
	if e.Identity == "" {
		return ErrEmptyIdentity
	}
	if e.Quantity < 0 {
		return ErrNegativeQuantity
	}
	if e.EventType == "" {
		return ErrInvalidEventType
	}
	return nil
}

// withDefaults fills ID and Timestamp when unset.
func (e Event) withDefaults() Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return e
}

// Period defines a time range for usage aggregation.
type Period struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls in [Start, End).
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// DailyPeriod returns a Period for the current day.
func DailyPeriod() Period {
	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return Period{Start: start, End: start.Add(24 * time.Hour)}
}

// MonthlyPeriod returns a Period for the current month.
func MonthlyPeriod() Period {
	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	return Period{Start: start, End: end}
}

// Usage contains aggregated usage for an identity.
type Usage struct {
	Identity   string              `json:"identity"`
	Period     Period              `json:"-"`
	Totals     map[EventType]int64 `json:"totals"`
	LastUpdate time.Time           `json:"last_update"`
}

// Meter is the interface for recording and querying usage.
type Meter interface {
	// Record stores a usage event.
	Record(ctx context.Context, event Event) error

	// GetUsage retrieves aggregated usage for an identity in a period.
	GetUsage(ctx context.Context, identity string, period Period) (*Usage, error)

	// GetUsageByType retrieves usage for a specific event type.
	GetUsageByType(ctx context.Context, identity string, eventType EventType, period Period) (int64, error)
}
