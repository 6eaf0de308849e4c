// ABOUTME: whatsmeow-backed implementation of the adapter boundary
// ABOUTME: One client per tenant with QR pairing, event fan-in and media IO

package wameow

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	qrcode "github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/warelay/warelay/internal/adapter"
)

const (
	// retainedMessages bounds the in-memory window of seen messages kept
	// for later media download and chat history reads.
	retainedMessages = 500

	eventBufferSize = 64
)

type whatsmeowDownloadable = whatsmeow.DownloadableMessage

// Client is one tenant's live backend connection.
type Client struct {
	tenantID string
	wa       *whatsmeow.Client
	logger   *slog.Logger

	lifecycle chan adapter.LifecycleEvent
	messages  chan adapter.Message

	// retained keeps recently seen messages so their media can be
	// downloaded on demand. FIFO eviction once the window fills.
	retainMu     sync.Mutex
	retained     map[string]*events.Message
	retainOrder  []string
	lastPerChat  map[string]adapter.Message
	handlerID    uint32
	closeOnce    sync.Once
}

func newClient(tenantID string, wa *whatsmeow.Client, logger *slog.Logger) *Client {
	return &Client{
		tenantID:    tenantID,
		wa:          wa,
		logger:      logger.With("component", "wameow", "tenant", tenantID),
		lifecycle:   make(chan adapter.LifecycleEvent, eventBufferSize),
		messages:    make(chan adapter.Message, eventBufferSize),
		retained:    make(map[string]*events.Message),
		lastPerChat: make(map[string]adapter.Message),
	}
}

// Start connects to the backend. With no stored credentials it requests a
// pairing QR channel first and streams codes as lifecycle events; with
// credentials it restores the previous link.
func (c *Client) Start(ctx context.Context) error {
	c.handlerID = c.wa.AddEventHandler(c.handleEvent)

	if c.wa.Store.ID == nil {
		// QR channel must be requested before Connect.
		qrChan, err := c.wa.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("request qr channel: %w", err)
		}
		if err := c.wa.Connect(); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		go c.pumpQRCodes(qrChan)
		return nil
	}

	if err := c.wa.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// pumpQRCodes turns pairing codes into lifecycle events until the channel
// closes. Pairing success surfaces separately through events.Connected.
func (c *Client) pumpQRCodes(qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		switch evt.Event {
		case "code":
			dataURL, err := encodeQRDataURL(evt.Code)
			if err != nil {
				c.logger.Error("qr encoding failed", "error", err)
				continue
			}
			c.emitLifecycle(adapter.LifecycleEvent{Kind: adapter.LifecycleQR, Payload: dataURL})
		case "success":
			c.logger.Info("pairing succeeded")
		case "timeout":
			c.emitLifecycle(adapter.LifecycleEvent{Kind: adapter.LifecycleAuthFailed, Payload: "pairing timed out"})
		default:
			if evt.Error != nil {
				c.emitLifecycle(adapter.LifecycleEvent{Kind: adapter.LifecycleAuthFailed, Payload: evt.Error.Error()})
			}
		}
	}
}

func (c *Client) handleEvent(raw interface{}) {
	switch evt := raw.(type) {
	case *events.Connected:
		c.emitLifecycle(adapter.LifecycleEvent{Kind: adapter.LifecycleReady})
	case *events.Disconnected:
		c.emitLifecycle(adapter.LifecycleEvent{Kind: adapter.LifecycleDisconnected, Payload: "stream closed"})
	case *events.ConnectFailure:
		c.emitLifecycle(adapter.LifecycleEvent{Kind: adapter.LifecycleDisconnected, Payload: fmt.Sprintf("connect failure: %v", evt.Reason)})
	case *events.LoggedOut:
		c.emitLifecycle(adapter.LifecycleEvent{Kind: adapter.LifecycleAuthFailed, Payload: fmt.Sprintf("logged out: %v", evt.Reason)})
	case *events.TemporaryBan:
		c.emitLifecycle(adapter.LifecycleEvent{Kind: adapter.LifecycleAuthFailed, Payload: fmt.Sprintf("temporary ban: %v", evt.Code)})
	case *events.Message:
		c.handleMessage(evt)
	}
}

func (c *Client) handleMessage(evt *events.Message) {
	msg, ok := convertMessage(evt)
	if !ok {
		return
	}

	c.retain(evt, msg)
	c.emitMessage(msg)
}

// retain keeps the raw event for later media download and records the
// chat's latest message for listings.
func (c *Client) retain(evt *events.Message, msg adapter.Message) {
	c.retainMu.Lock()
	defer c.retainMu.Unlock()

	if _, exists := c.retained[msg.ID]; !exists {
		c.retained[msg.ID] = evt
		c.retainOrder = append(c.retainOrder, msg.ID)
		for len(c.retainOrder) > retainedMessages {
			oldest := c.retainOrder[0]
			c.retainOrder = c.retainOrder[1:]
			delete(c.retained, oldest)
		}
	}

	if last, ok := c.lastPerChat[msg.ChatID]; !ok || msg.Timestamp.After(last.Timestamp) {
		c.lastPerChat[msg.ChatID] = msg
	}
}

// emitLifecycle delivers without blocking; a stalled consumer loses events
// rather than wedging the backend callback.
func (c *Client) emitLifecycle(evt adapter.LifecycleEvent) {
	select {
	case c.lifecycle <- evt:
	default:
		c.logger.Warn("lifecycle event dropped, consumer stalled", "kind", evt.Kind)
	}
}

func (c *Client) emitMessage(msg adapter.Message) {
	select {
	case c.messages <- msg:
	default:
		c.logger.Warn("message event dropped, consumer stalled", "message_id", msg.ID)
	}
}

func (c *Client) Lifecycle() <-chan adapter.LifecycleEvent { return c.lifecycle }
func (c *Client) Messages() <-chan adapter.Message         { return c.messages }

func (c *Client) requireReady() error {
	if !c.wa.IsConnected() || !c.wa.IsLoggedIn() {
		return adapter.ErrNotConnected
	}
	return nil
}

// Chats merges the contact book and joined groups into one listing.
// UnreadCount stays zero: linked clients get no read-state from the
// backend, so there is nothing to count.
func (c *Client) Chats(ctx context.Context) ([]adapter.Chat, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}

	contacts, err := c.wa.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list contacts: %v", adapter.ErrUpstreamFailure, err)
	}

	chats := make([]adapter.Chat, 0, len(contacts))
	for jid, info := range contacts {
		chat := adapter.Chat{
			ID:   jid.ToNonAD().String(),
			Name: chatDisplayName(jid, info),
		}
		c.attachPreview(&chat)
		chats = append(chats, chat)
	}

	groups, err := c.wa.GetJoinedGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list groups: %v", adapter.ErrUpstreamFailure, err)
	}
	for _, group := range groups {
		chat := adapter.Chat{
			ID:      group.JID.String(),
			Name:    group.Name,
			IsGroup: true,
		}
		c.attachPreview(&chat)
		chats = append(chats, chat)
	}

	sort.Slice(chats, func(i, j int) bool { return chats[i].ID < chats[j].ID })
	return chats, nil
}

func (c *Client) attachPreview(chat *adapter.Chat) {
	c.retainMu.Lock()
	defer c.retainMu.Unlock()
	if last, ok := c.lastPerChat[chat.ID]; ok {
		chat.LastMessage = &adapter.ChatPreview{Body: last.Body, Timestamp: last.Timestamp}
	}
}

// ChatMessages serves recent messages of a chat from the retained window,
// oldest first. The backend keeps no queryable history for linked clients,
// so the window is all there is.
func (c *Client) ChatMessages(ctx context.Context, chatID string, limit int) ([]adapter.Message, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}
	if _, err := types.ParseJID(chatID); err != nil {
		return nil, fmt.Errorf("%w: chat id %q", adapter.ErrInvalidRequest, chatID)
	}

	c.retainMu.Lock()
	var msgs []adapter.Message
	for _, id := range c.retainOrder {
		evt := c.retained[id]
		if evt.Info.Chat.String() != chatID {
			continue
		}
		if msg, ok := convertMessage(evt); ok {
			msgs = append(msgs, msg)
		}
	}
	c.retainMu.Unlock()

	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, chatID, body string) (*adapter.SendResult, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("%w: empty message body", adapter.ErrInvalidRequest)
	}
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return nil, fmt.Errorf("%w: chat id %q", adapter.ErrInvalidRequest, chatID)
	}

	extra := whatsmeow.SendRequestExtra{ID: c.wa.GenerateMessageID()}
	resp, err := c.wa.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(body),
	}, extra)
	if err != nil {
		return nil, fmt.Errorf("%w: send text: %v", adapter.ErrUpstreamFailure, err)
	}

	return &adapter.SendResult{MessageID: string(extra.ID), Timestamp: resp.Timestamp}, nil
}

// SendMedia uploads the payload and sends it as an image or document
// message depending on its content type.
func (c *Client) SendMedia(ctx context.Context, chatID string, media *adapter.OutgoingMedia) (*adapter.SendResult, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}
	if media == nil || len(media.Data) == 0 {
		return nil, fmt.Errorf("%w: empty media payload", adapter.ErrInvalidRequest)
	}
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return nil, fmt.Errorf("%w: chat id %q", adapter.ErrInvalidRequest, chatID)
	}

	var content *waE2E.Message
	if strings.HasPrefix(media.MimeType, "image/") {
		uploaded, err := c.wa.Upload(ctx, media.Data, whatsmeow.MediaImage)
		if err != nil {
			return nil, fmt.Errorf("%w: upload image: %v", adapter.ErrUpstreamFailure, err)
		}
		content = &waE2E.Message{
			ImageMessage: &waE2E.ImageMessage{
				URL:           proto.String(uploaded.URL),
				DirectPath:    proto.String(uploaded.DirectPath),
				Mimetype:      proto.String(media.MimeType),
				Caption:       proto.String(media.Caption),
				FileLength:    proto.Uint64(uploaded.FileLength),
				FileSHA256:    uploaded.FileSHA256,
				FileEncSHA256: uploaded.FileEncSHA256,
				MediaKey:      uploaded.MediaKey,
			},
		}
	} else {
		uploaded, err := c.wa.Upload(ctx, media.Data, whatsmeow.MediaDocument)
		if err != nil {
			return nil, fmt.Errorf("%w: upload document: %v", adapter.ErrUpstreamFailure, err)
		}
		content = &waE2E.Message{
			DocumentMessage: &waE2E.DocumentMessage{
				URL:           proto.String(uploaded.URL),
				DirectPath:    proto.String(uploaded.DirectPath),
				Mimetype:      proto.String(media.MimeType),
				FileName:      proto.String(media.FileName),
				Caption:       proto.String(media.Caption),
				FileLength:    proto.Uint64(uploaded.FileLength),
				FileSHA256:    uploaded.FileSHA256,
				FileEncSHA256: uploaded.FileEncSHA256,
				MediaKey:      uploaded.MediaKey,
			},
		}
	}

	extra := whatsmeow.SendRequestExtra{ID: c.wa.GenerateMessageID()}
	resp, err := c.wa.SendMessage(ctx, jid, content, extra)
	if err != nil {
		return nil, fmt.Errorf("%w: send media: %v", adapter.ErrUpstreamFailure, err)
	}

	return &adapter.SendResult{MessageID: string(extra.ID), Timestamp: resp.Timestamp}, nil
}

// ProfilePicture resolves a chat's picture URL. Absence is not an error.
func (c *Client) ProfilePicture(ctx context.Context, chatID string) (*string, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return nil, fmt.Errorf("%w: chat id %q", adapter.ErrInvalidRequest, chatID)
	}

	info, err := c.wa.GetProfilePictureInfo(ctx, jid, &whatsmeow.GetProfilePictureParams{Preview: false})
	if err != nil {
		if isNoPictureError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: profile picture: %v", adapter.ErrUpstreamFailure, err)
	}
	if info == nil {
		return nil, nil
	}
	return &info.URL, nil
}

// DownloadMedia fetches the bytes of a retained message's media section.
func (c *Client) DownloadMedia(ctx context.Context, messageID string) (*adapter.MediaBlob, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}

	c.retainMu.Lock()
	evt, ok := c.retained[messageID]
	c.retainMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: message %s", adapter.ErrNotFound, messageID)
	}

	part := downloadablePart(evt.Message)
	if part == nil {
		return nil, fmt.Errorf("%w: message %s has no media", adapter.ErrNotFound, messageID)
	}

	data, err := c.wa.Download(ctx, part)
	if err != nil {
		return nil, fmt.Errorf("%w: download media: %v", adapter.ErrUpstreamFailure, err)
	}

	return &adapter.MediaBlob{Data: data, MimeType: partMimeType(evt.Message)}, nil
}

// Logout unlinks the account. When the backend refuses, fall back to a
// local disconnect plus credential wipe so the device slot is reusable.
func (c *Client) Logout(ctx context.Context) error {
	err := c.wa.Logout(ctx)
	if err == nil {
		return nil
	}
	c.logger.Warn("backend logout failed, deleting local credentials", "error", err)

	c.wa.Disconnect()
	if delErr := c.wa.Store.Delete(ctx); delErr != nil {
		return fmt.Errorf("%w: credential delete after failed logout: %v", adapter.ErrUpstreamFailure, delErr)
	}
	return nil
}

// Close disconnects without unlinking and closes the event channels.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.wa.RemoveEventHandler(c.handlerID)
		c.wa.Disconnect()
		close(c.lifecycle)
		close(c.messages)
	})
	return nil
}

// encodeQRDataURL renders a pairing code as an inline PNG data URL.
func encodeQRDataURL(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
