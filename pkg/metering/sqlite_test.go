package metering_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/fourotwo-xyz/web-scraper/pkg/metering"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteMeter(t *testing.T) *metering.SQLiteMeter {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	m, err := metering.NewSQLiteMeter(db)
	require.NoError(t, err)
	return m
}

func TestSQLiteMeter_RecordAndGetUsage(t *testing.T) {
	meter := newSQLiteMeter(t)
	ctx := context.Background()

	require.NoError(t, meter.Record(ctx, metering.Event{Identity: "0xabc", EventType: metering.EventFreeCall, Quantity: 1}))
	require.NoError(t, meter.Record(ctx, metering.Event{Identity: "0xabc", EventType: metering.EventFreeCall, Quantity: 1}))
	require.NoError(t, meter.Record(ctx, metering.Event{
		Identity:  "0xabc",
		EventType: metering.EventAttestation,
		Quantity:  1,
		Metadata:  map[string]any{"task_reference": "0x01"},
	}))
	require.NoError(t, meter.Record(ctx, metering.Event{Identity: "0xdef", EventType: metering.EventFreeCall, Quantity: 7}))
	require.NoError(t, meter.Record(ctx, metering.Event{
		Identity:  "0xabc",
		EventType: metering.EventFreeCall,
		Quantity:  50,
		Timestamp: time.Now().UTC().AddDate(0, 0, -3),
	}))

	usage, err := meter.GetUsage(ctx, "0xabc", metering.DailyPeriod())
	require.NoError(t, err)
	assert.Equal(t, int64(2), usage.Totals[metering.EventFreeCall])
	assert.Equal(t, int64(1), usage.Totals[metering.EventAttestation])
	assert.Len(t, usage.Totals, 2)

	n, err := meter.GetUsageByType(ctx, "0xdef", metering.EventFreeCall, metering.DailyPeriod())
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	n, err = meter.GetUsageByType(ctx, "0xnobody", metering.EventFreeCall, metering.DailyPeriod())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestSQLiteMeter_DuplicateEventID(t *testing.T) {
	meter := newSQLiteMeter(t)
	ctx := context.Background()

	e := metering.Event{ID: "evt-1", Identity: "a", EventType: metering.EventDelivery, Quantity: 1}
	require.NoError(t, meter.Record(ctx, e))
	assert.Error(t, meter.Record(ctx, e))
}
