// ABOUTME: Backend connection boundary shared by the whole gateway
// ABOUTME: Defines the Adapter interface, its event types and message shapes

package adapter

import (
	"context"
	"time"
)

// LifecycleKind identifies the kind of lifecycle event an adapter emits.
type LifecycleKind string

const (
	// LifecycleQR carries a scannable pairing artifact in Payload.
	LifecycleQR LifecycleKind = "qr"
	// LifecycleReady means the backend link is authenticated and usable.
	LifecycleReady LifecycleKind = "ready"
	// LifecycleAuthFailed means pairing or credential restore was rejected.
	LifecycleAuthFailed LifecycleKind = "auth_failed"
	// LifecycleDisconnected means the backend link dropped after being up.
	LifecycleDisconnected LifecycleKind = "disconnected"
)

// LifecycleEvent is emitted by an adapter as its connection state changes.
// For LifecycleQR, Payload holds the pairing artifact encoded as a data URL.
// For LifecycleAuthFailed and LifecycleDisconnected, Payload holds a short
// human-readable reason.
type LifecycleEvent struct {
	Kind    LifecycleKind
	Payload string
}

// Message is a normalized backend message, inbound or self-echoed outbound.
type Message struct {
	ID        string
	ChatID    string
	SenderID  string
	Body      string
	Timestamp time.Time
	FromMe    bool
	// HasMedia is true when the message carries downloadable media bytes.
	// The bytes themselves never travel with the Message; consumers fetch
	// them through DownloadMedia keyed by ID.
	HasMedia bool
	// MediaType is the media category (image, video, audio, document,
	// sticker) when HasMedia is set, empty otherwise.
	MediaType string
	// MimeType is the declared content type of the media, when known.
	MimeType string
}

// Chat is a conversation the connected account participates in.
type Chat struct {
	ID          string
	Name        string
	IsGroup     bool
	UnreadCount int
	LastMessage *ChatPreview
}

// ChatPreview is the most recent message of a chat, trimmed for listings.
type ChatPreview struct {
	Body      string
	Timestamp time.Time
}

// MediaBlob is a downloaded media payload with its content type.
type MediaBlob struct {
	Data     []byte
	MimeType string
}

// OutgoingMedia describes a media payload to send into a chat.
type OutgoingMedia struct {
	Data     []byte
	MimeType string
	FileName string
	Caption  string
}

// SendResult reports the backend-assigned ID of a sent message.
type SendResult struct {
	MessageID string
	Timestamp time.Time
}

// Adapter is a live connection to the messaging backend for one tenant.
// Implementations deliver lifecycle and message events on the channels
// returned by Lifecycle and Messages; both channels are closed when the
// adapter shuts down. All blocking operations honor their context.
type Adapter interface {
	// Start begins connecting to the backend. It returns once the
	// connection attempt is underway, not once the link is ready;
	// progress is reported through Lifecycle events.
	Start(ctx context.Context) error

	// Lifecycle returns the channel of connection state events.
	Lifecycle() <-chan LifecycleEvent

	// Messages returns the channel of relayable message events.
	Messages() <-chan Message

	// Chats lists the conversations of the connected account.
	// Returns ErrNotConnected when the link is not ready.
	Chats(ctx context.Context) ([]Chat, error)

	// ChatMessages returns up to limit recent messages of a chat,
	// oldest first. Returns ErrNotFound for an unknown chat.
	ChatMessages(ctx context.Context, chatID string, limit int) ([]Message, error)

	// SendText sends a plain text message into a chat.
	SendText(ctx context.Context, chatID, body string) (*SendResult, error)

	// SendMedia uploads and sends a media payload into a chat.
	SendMedia(ctx context.Context, chatID string, media *OutgoingMedia) (*SendResult, error)

	// ProfilePicture returns the picture URL for a chat, or nil when the
	// chat has none. Backend errors surface as errors, absence does not.
	ProfilePicture(ctx context.Context, chatID string) (*string, error)

	// DownloadMedia fetches the media bytes of a previously seen message.
	// Returns ErrNotFound when the message is unknown or carries no media.
	DownloadMedia(ctx context.Context, messageID string) (*MediaBlob, error)

	// Logout unlinks the account from the backend and discards credentials.
	Logout(ctx context.Context) error

	// Close tears the connection down without unlinking the account.
	Close() error
}

// Connector creates adapters. credentialDir is a per-tenant directory the
// adapter may use to persist link credentials across restarts.
type Connector interface {
	Connect(ctx context.Context, tenantID, credentialDir string) (Adapter, error)
}
