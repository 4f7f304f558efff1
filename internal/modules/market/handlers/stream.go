package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/aristath/stocksim/internal/events"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	streamBuffer   = 100
	streamPing     = 30 * time.Second
	streamWriteTTL = 5 * time.Second
)

// streamedEvents are forwarded to market stream clients
var streamedEvents = []events.EventType{
	events.PriceUpdated,
	events.SimulationCompleted,
	events.StockUpdated,
}

// HandleStream upgrades to a websocket and pushes market events as JSON messages
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to accept websocket")
		return
	}
	defer conn.CloseNow()

	// Clients only listen; CloseRead handles control frames and cancels ctx on disconnect
	ctx := conn.CloseRead(r.Context())

	eventChan := make(chan *events.Event, streamBuffer)
	forward := func(event *events.Event) {
		select {
		case eventChan <- event:
		default:
			h.log.Warn().Str("event_type", string(event.Type)).Msg("Stream channel full, dropping event")
		}
	}
	for _, eventType := range streamedEvents {
		unsubscribe := h.bus.Subscribe(eventType, forward)
		defer unsubscribe()
	}

	h.log.Info().Str("remote", r.RemoteAddr).Msg("Client connected to market stream")

	if err := h.writeMessage(ctx, conn, map[string]interface{}{
		"type":    "connected",
		"message": "Connected to market stream",
	}); err != nil {
		return
	}

	ping := time.NewTicker(streamPing)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info().Msg("Client disconnected from market stream")
			conn.Close(websocket.StatusNormalClosure, "")
			return

		case event := <-eventChan:
			if err := h.writeMessage(ctx, conn, map[string]interface{}{
				"type":      string(event.Type),
				"module":    event.Module,
				"timestamp": event.Timestamp.Format(time.RFC3339),
				"data":      event.Data,
			}); err != nil {
				h.log.Debug().Err(err).Msg("Stream write failed")
				return
			}

		case <-ping.C:
			pingCtx, cancel := context.WithTimeout(ctx, streamWriteTTL)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				h.log.Debug().Err(err).Msg("Stream ping failed")
				return
			}
		}
	}
}

func (h *Handler) writeMessage(ctx context.Context, conn *websocket.Conn, msg interface{}) error {
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTTL)
	defer cancel()
	return wsjson.Write(writeCtx, conn, msg)
}
