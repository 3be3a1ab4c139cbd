package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/niyusum/luminescence-sub000/internal/eventbus"
)

func TestLogPublishesCanonicalEvent(t *testing.T) {
	bus := eventbus.New(nil)
	var received eventbus.Event
	bus.Subscribe(EventName, func(ctx context.Context, e eventbus.Event) error {
		received = e
		return nil
	})

	l := New(bus, nil, nil)
	err := l.Log(context.Background(), 42, "resource_change_lumees",
		map[string]any{"resource": "lumees"}, "shop", nil, true)
	require.NoError(t, err)

	entry, ok := received.Payload.(Entry)
	require.True(t, ok)
	require.Equal(t, int64(42), entry.PlayerID)
	require.Equal(t, "shop", entry.Context)
}

func TestLogResourceChangeDetails(t *testing.T) {
	bus := eventbus.New(nil)
	var received Entry
	bus.Subscribe(EventName, func(ctx context.Context, e eventbus.Event) error {
		received = e.Payload.(Entry)
		return nil
	})

	l := New(bus, nil, nil)
	require.NoError(t, l.LogResourceChange(context.Background(), 1, "lumees", 100, 150, "grant", "shop", nil))

	require.Equal(t, "resource_change_lumees", received.TransactionType)
	require.Equal(t, int64(50), received.Details["delta"])
}

func TestLogFusionAttemptRequiresDetails(t *testing.T) {
	bus := eventbus.New(nil)
	l := New(bus, nil, nil)

	err := l.Log(context.Background(), 1, "fusion_attempt", map[string]any{"success": true}, "fusion", nil, true)
	require.Error(t, err)
}

func TestLogRejectsUnknownContext(t *testing.T) {
	bus := eventbus.New(nil)
	l := New(bus, nil, nil)

	err := l.Log(context.Background(), 1, "resource_change_lumees", map[string]any{}, "not-a-real-context", nil, true)
	require.Error(t, err)
}

func TestBatchLogSkipsInvalidEntries(t *testing.T) {
	bus := eventbus.New(nil)
	l := New(bus, nil, nil)

	txs := []Transaction{
		{PlayerID: 1, TransactionType: "resource_change_lumees", Details: map[string]any{}, Context: "shop"},
		{PlayerID: 1, TransactionType: "", Details: nil, Context: "shop"},
	}
	emitted := l.BatchLog(context.Background(), txs, true)
	require.Equal(t, 1, emitted)
}

func TestPublishFailureDoesNotSurfaceAsError(t *testing.T) {
	bus := eventbus.New(nil)
	bus.Subscribe(EventName, func(ctx context.Context, e eventbus.Event) error {
		return context.DeadlineExceeded
	})

	l := New(bus, nil, nil)
	err := l.Log(context.Background(), 1, "resource_change_lumees", map[string]any{}, "shop", nil, true)
	require.NoError(t, err)
}
