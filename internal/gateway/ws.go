// ABOUTME: WebSocket endpoint streaming relayed events to subscribers
// ABOUTME: One subscription per connection, closed when either side goes away

package gateway

import (
	"context"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const wsWriteTimeout = 5 * time.Second

// handleEvents upgrades the request to a websocket and streams the tenant's
// relayed message events as JSON until the client disconnects.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		g.logger.Debug("websocket accept failed", "tenant", tenant, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, subID := g.relay.Subscribe(ctx, tenant)
	g.logger.Debug("event subscriber connected", "tenant", tenant, "sub_id", subID)

	// Reads are discarded; cancels the subscription when the peer closes.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		case evt, ok := <-events:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "relay closed")
				return
			}
			writeCtx, writeCancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := wsjson.Write(writeCtx, conn, evt)
			writeCancel()
			if err != nil {
				g.logger.Debug("websocket write failed, dropping subscriber",
					"tenant", tenant, "sub_id", subID, "error", err)
				_ = conn.Close(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}
