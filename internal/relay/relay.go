// ABOUTME: Per-tenant fan-out of sanitized message events to subscribers
// ABOUTME: Best-effort at-most-once delivery, drops events for slow consumers

package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warelay/warelay/internal/adapter"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// Event is the sanitized wire shape of a relayed message. Media bytes never
// appear here; messages carrying media get a MediaURL reference instead.
type Event struct {
	TenantID  string    `json:"tenantId"`
	MessageID string    `json:"messageId"`
	ChatID    string    `json:"chatId"`
	SenderID  string    `json:"senderId"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
	FromMe    bool      `json:"fromMe"`
	MediaURL  *string   `json:"mediaUrl,omitempty"`
	MediaType string    `json:"mediaType,omitempty"`
}

// EgressSink receives every relayed event for delivery outside the process,
// typically a message broker. Publish failures must not disturb in-process
// fan-out.
type EgressSink interface {
	Publish(ctx context.Context, evt *Event) error
}

// Relay fans message events out to per-tenant subscribers. Delivery is
// best-effort and at-most-once: there is no replay, and subscribers that
// fall behind lose events rather than block the publisher. Per-tenant
// ordering holds because each tenant's session delivers from a single
// goroutine.
type Relay struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *Event // tenantID -> subID -> ch
	egress      EgressSink
	logger      *slog.Logger
}

// New creates a relay. egress may be nil; pass nil logger for default.
func New(egress EgressSink, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		subscribers: make(map[string]map[string]chan *Event),
		egress:      egress,
		logger:      logger.With("component", "relay"),
	}
}

// Publish sanitizes a message event and delivers it to the tenant's
// subscribers and the egress sink. Implements session.MessageSink.
func (r *Relay) Publish(tenantID string, msg adapter.Message) {
	evt := Sanitize(tenantID, msg)

	if r.egress != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.egress.Publish(ctx, evt); err != nil {
			r.logger.Warn("egress publish failed",
				"tenant", tenantID,
				"message_id", evt.MessageID,
				"error", err)
		}
		cancel()
	}

	// Sends stay under the read lock: Unsubscribe and Close close these
	// channels under the write lock, so a channel can never be closed
	// mid-send. Sends are non-blocking, so holding the lock is cheap.
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ch := range r.subscribers[tenantID] {
		select {
		case ch <- evt:
		default:
			r.logger.Debug("dropped event for slow subscriber",
				"tenant", tenantID,
				"message_id", evt.MessageID)
		}
	}
}

// Subscribe registers a subscriber for one tenant's events. Returns the
// receive channel and a subscription ID for manual unsubscription. The
// subscription is cleaned up automatically when ctx is cancelled.
func (r *Relay) Subscribe(ctx context.Context, tenantID string) (<-chan *Event, string) {
	subID := uuid.New().String()
	ch := make(chan *Event, subscriberBufferSize)

	r.mu.Lock()
	if _, ok := r.subscribers[tenantID]; !ok {
		r.subscribers[tenantID] = make(map[string]chan *Event)
	}
	r.subscribers[tenantID][subID] = ch
	r.mu.Unlock()

	r.logger.Debug("subscriber added", "tenant", tenantID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		r.Unsubscribe(tenantID, subID)
	}()

	return ch, subID
}

// Unsubscribe removes a subscription and closes its channel.
func (r *Relay) Unsubscribe(tenantID, subID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.subscribers[tenantID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(r.subscribers, tenantID)
	}

	r.logger.Debug("subscriber removed", "tenant", tenantID, "sub_id", subID)
}

// Close shuts down the relay and closes all subscriber channels.
func (r *Relay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for tenant, subs := range r.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(r.subscribers, tenant)
	}

	r.logger.Debug("relay closed")
}

// Sanitize converts an adapter message into its relayable wire shape.
// Media payloads are replaced with a reference URL served by the gateway.
func Sanitize(tenantID string, msg adapter.Message) *Event {
	evt := &Event{
		TenantID:  tenantID,
		MessageID: msg.ID,
		ChatID:    msg.ChatID,
		SenderID:  msg.SenderID,
		Body:      msg.Body,
		Timestamp: msg.Timestamp,
		FromMe:    msg.FromMe,
		MediaType: msg.MediaType,
	}
	if msg.HasMedia {
		url := MediaURL(tenantID, msg.ID)
		evt.MediaURL = &url
	}
	return evt
}

// MediaURL builds the gateway path where a message's media can be fetched.
func MediaURL(tenantID, messageID string) string {
	return fmt.Sprintf("/sessions/%s/messages/%s/media", tenantID, messageID)
}
