package metering

import (
	"context"
	"sync"
	"time"
)

// DefaultRetention covers the longest period the gateway queries (a month).
const DefaultRetention = 32 * 24 * time.Hour

// counter is one (identity, UTC day, event type) aggregate.
type counter struct {
	total int64
	last  time.Time
}

// dayCounters holds the per-type counters of one identity for one UTC day.
type dayCounters map[EventType]*counter

// MemoryMeter keeps per-day aggregates in process memory. Individual events
// are not retained, and days older than the retention window are dropped.
// Periods are resolved at UTC day granularity.
type MemoryMeter struct {
	mu        sync.RWMutex
	usage     map[string]map[int64]dayCounters // identity -> day (unix) -> counters
	retention time.Duration
	swept     int64 // day of the last sweep
	now       func() time.Time
}

// NewMemoryMeter creates an empty in-memory meter with DefaultRetention.
func NewMemoryMeter() *MemoryMeter {
	return NewMemoryMeterWithRetention(DefaultRetention)
}

// NewMemoryMeterWithRetention creates an empty in-memory meter that forgets
// days older than retention.
func NewMemoryMeterWithRetention(retention time.Duration) *MemoryMeter {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &MemoryMeter{
		usage:     make(map[string]map[int64]dayCounters),
		retention: retention,
		now:       time.Now,
	}
}

func dayOf(t time.Time) int64 {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Unix()
}

func (m *MemoryMeter) Record(ctx context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	event = event.withDefaults()

	now := m.now().UTC()
	cutoff := dayOf(now.Add(-m.retention))
	day := dayOf(event.Timestamp)
	if day < cutoff {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if today := dayOf(now); today != m.swept {
		m.sweep(cutoff)
		m.swept = today
	}

	days, ok := m.usage[event.Identity]
	if !ok {
		days = make(map[int64]dayCounters)
		m.usage[event.Identity] = days
	}
	counters, ok := days[day]
	if !ok {
		counters = make(dayCounters)
		days[day] = counters
	}
	c, ok := counters[event.EventType]
	if !ok {
		c = &counter{}
		counters[event.EventType] = c
	}
	c.total += event.Quantity
	if event.Timestamp.After(c.last) {
		c.last = event.Timestamp
	}
	return nil
}

// sweep drops days before cutoff. Callers hold m.mu.
func (m *MemoryMeter) sweep(cutoff int64) {
	for id, days := range m.usage {
		for day := range days {
			if day < cutoff {
				delete(days, day)
			}
		}
		if len(days) == 0 {
			delete(m.usage, id)
		}
	}
}

func (m *MemoryMeter) GetUsage(ctx context.Context, identity string, period Period) (*Usage, error) {
	usage := &Usage{
		Identity: identity,
		Period:   period,
		Totals:   make(map[EventType]int64),
	}
	start, end := dayOf(period.Start), period.End.Unix()

	m.mu.RLock()
	defer m.mu.RUnlock()
	for day, counters := range m.usage[identity] {
		if day < start || day >= end {
			continue
		}
		for ev, c := range counters {
			usage.Totals[ev] += c.total
			if c.last.After(usage.LastUpdate) {
				usage.LastUpdate = c.last
			}
		}
	}
	if usage.LastUpdate.IsZero() {
		usage.LastUpdate = m.now().UTC()
	}
	return usage, nil
}

func (m *MemoryMeter) GetUsageByType(ctx context.Context, identity string, eventType EventType, period Period) (int64, error) {
	usage, err := m.GetUsage(ctx, identity, period)
	if err != nil {
		return 0, err
	}
	return usage.Totals[eventType], nil
}

// Len returns the number of stored (identity, day, event type) counters.
func (m *MemoryMeter) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, days := range m.usage {
		for _, counters := range days {
			n += len(counters)
		}
	}
	return n
}
