package events

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupEventManager() (*Manager, *Bus) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	bus := NewBus(log)
	return NewManager(bus, log), bus
}

func TestBus_SubscribeAndUnsubscribe(t *testing.T) {
	manager, bus := setupEventManager()

	var got []*Event
	unsubscribe := bus.Subscribe(TradeRecorded, func(e *Event) { got = append(got, e) })

	manager.EmitTyped(TradeRecorded, "portfolio", &TradeRecordedData{TransactionID: "t1", Quantity: 3})
	manager.EmitTyped(PriceUpdated, "market", &PriceUpdatedData{Symbol: "ACME"})

	require.Len(t, got, 1)
	assert.Equal(t, TradeRecorded, got[0].Type)
	assert.Equal(t, "portfolio", got[0].Module)
	assert.Equal(t, "t1", got[0].Data["transaction_id"])
	assert.Equal(t, float64(3), got[0].Data["quantity"])

	unsubscribe()
	manager.EmitTyped(TradeRecorded, "portfolio", &TradeRecordedData{TransactionID: "t2"})
	assert.Len(t, got, 1)
}

func TestBus_SubscribeAll(t *testing.T) {
	manager, bus := setupEventManager()

	var mu sync.Mutex
	types := make([]EventType, 0)
	unsubscribe := bus.SubscribeAll(func(e *Event) {
		mu.Lock()
		defer mu.Unlock()
		types = append(types, e.Type)
	})
	defer unsubscribe()

	manager.EmitTyped(PriceUpdated, "market", &PriceUpdatedData{Symbol: "ACME"})
	manager.EmitTyped(SimulationCompleted, "market", &SimulationCompletedData{Updated: 2})
	manager.EmitError("market", errors.New("boom"), map[string]interface{}{"stock_id": "s1"})

	assert.Equal(t, []EventType{PriceUpdated, SimulationCompleted, ErrorOccurred}, types)
}

func TestBus_PanickingHandlerDoesNotStopDelivery(t *testing.T) {
	manager, bus := setupEventManager()

	delivered := false
	bus.Subscribe(StockUpdated, func(*Event) { panic("bad handler") })
	bus.Subscribe(StockUpdated, func(*Event) { delivered = true })

	assert.NotPanics(t, func() {
		manager.EmitTyped(StockUpdated, "market", &StockUpdatedData{Symbol: "ACME", IsFrozen: true})
	})
	assert.True(t, delivered)
}

func TestEventDataTypes(t *testing.T) {
	tests := []struct {
		data EventData
		want EventType
	}{
		{&PriceUpdatedData{}, PriceUpdated},
		{&SimulationCompletedData{}, SimulationCompleted},
		{&TradeRecordedData{}, TradeRecorded},
		{&PositionsReconciledData{}, PositionsReconciled},
		{&StockUpdatedData{}, StockUpdated},
		{&BackupCompletedData{}, BackupCompleted},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.data.EventType())
		})
	}
}
