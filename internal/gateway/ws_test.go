// ABOUTME: End-to-end test for the websocket events stream
// ABOUTME: Drives a fake adapter and reads relayed events over a real socket

package gateway

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/warelay/warelay/internal/adapter"
	"github.com/warelay/warelay/internal/adapter/adaptertest"
	"github.com/warelay/warelay/internal/relay"
)

func TestEventsStream(t *testing.T) {
	connector := adaptertest.NewConnector()
	fake := adaptertest.NewFake()
	connector.Enqueue(fake)
	g := newTestGateway(t, connector, "")
	connectTenant(t, g, fake, "acme")

	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	wsURL := strings.Replace(srv.URL, "http://", "ws://", 1) + "/sessions/acme/events"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Subscription races the emit; retry until the event lands.
	deadline := time.Now().Add(2 * time.Second)
	var evt relay.Event
	for {
		fake.EmitMessage(adapter.Message{
			ID: "m1", ChatID: "chat-1", SenderID: "555@s.whatsapp.net",
			Body: "hello", Timestamp: time.Unix(1700000000, 0),
		})

		readCtx, readCancel := context.WithTimeout(ctx, 200*time.Millisecond)
		err = wsjson.Read(readCtx, conn, &evt)
		readCancel()
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no event received: %v", err)
		}
	}

	assert.Equal(t, "acme", evt.TenantID)
	assert.Equal(t, "m1", evt.MessageID)
	assert.Equal(t, "hello", evt.Body)
	assert.Nil(t, evt.MediaURL)

	// Media messages carry a resolvable media reference. The retry loop above
	// may have buffered duplicate m1 events; skip past them.
	fake.EmitMessage(adapter.Message{
		ID: "m2", ChatID: "chat-1", Body: "pic",
		HasMedia: true, MediaType: "image", Timestamp: time.Unix(1700000001, 0),
	})
	for evt.MessageID != "m2" {
		require.NoError(t, wsjson.Read(ctx, conn, &evt))
	}
	require.NotNil(t, evt.MediaURL)
	assert.Equal(t, "/sessions/acme/messages/m2/media", *evt.MediaURL)
}
