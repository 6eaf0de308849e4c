// ABOUTME: Scriptable fake Adapter and Connector for package tests
// ABOUTME: Emits lifecycle/message events on demand and records calls

package adaptertest

import (
	"context"
	"sync"
	"time"

	"github.com/warelay/warelay/internal/adapter"
)

// Fake is an in-memory adapter.Adapter whose behavior tests script directly.
// Zero value is not usable; construct with NewFake.
type Fake struct {
	mu sync.Mutex

	lifecycle chan adapter.LifecycleEvent
	messages  chan adapter.Message
	closed    bool

	started      bool
	startCtx     context.Context
	loggedOut    bool
	startErr     error
	logoutErr    error
	chats        []adapter.Chat
	chatMessages map[string][]adapter.Message
	pictures     map[string]*string
	pictureErr   map[string]error
	pictureDelay map[string]time.Duration
	media        map[string]*adapter.MediaBlob
	sendErr      error

	pictureCalls map[string]int
	sentTexts    []SentText
	sentMedia    []SentMedia
}

// SentText records one SendText call.
type SentText struct {
	ChatID string
	Body   string
}

// SentMedia records one SendMedia call.
type SentMedia struct {
	ChatID string
	Media  *adapter.OutgoingMedia
}

// NewFake returns a fake adapter with buffered event channels.
func NewFake() *Fake {
	return &Fake{
		lifecycle:    make(chan adapter.LifecycleEvent, 16),
		messages:     make(chan adapter.Message, 16),
		chatMessages: make(map[string][]adapter.Message),
		pictures:     make(map[string]*string),
		pictureErr:   make(map[string]error),
		pictureDelay: make(map[string]time.Duration),
		media:        make(map[string]*adapter.MediaBlob),
		pictureCalls: make(map[string]int),
	}
}

func (f *Fake) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	f.startCtx = ctx
	return f.startErr
}

func (f *Fake) Lifecycle() <-chan adapter.LifecycleEvent { return f.lifecycle }
func (f *Fake) Messages() <-chan adapter.Message         { return f.messages }

// EmitLifecycle pushes a lifecycle event to consumers.
func (f *Fake) EmitLifecycle(evt adapter.LifecycleEvent) {
	f.lifecycle <- evt
}

// EmitMessage pushes a message event to consumers.
func (f *Fake) EmitMessage(msg adapter.Message) {
	f.messages <- msg
}

// SetStartErr makes Start fail.
func (f *Fake) SetStartErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr = err
}

// SetLogoutErr makes Logout fail.
func (f *Fake) SetLogoutErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logoutErr = err
}

// SetChats scripts the Chats result.
func (f *Fake) SetChats(chats []adapter.Chat) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats = chats
}

// SetChatMessages scripts ChatMessages for one chat.
func (f *Fake) SetChatMessages(chatID string, msgs []adapter.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatMessages[chatID] = msgs
}

// SetPicture scripts the ProfilePicture result for one chat. A nil url
// means the chat has no picture.
func (f *Fake) SetPicture(chatID string, url *string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pictures[chatID] = url
}

// SetPictureErr makes ProfilePicture fail for one chat.
func (f *Fake) SetPictureErr(chatID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pictureErr[chatID] = err
}

// SetPictureDelay makes ProfilePicture sleep before answering for one chat.
func (f *Fake) SetPictureDelay(chatID string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pictureDelay[chatID] = d
}

// SetMedia scripts DownloadMedia for one message.
func (f *Fake) SetMedia(messageID string, blob *adapter.MediaBlob) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.media[messageID] = blob
}

// SetSendErr makes SendText and SendMedia fail.
func (f *Fake) SetSendErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *Fake) Chats(ctx context.Context) ([]adapter.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chats, nil
}

func (f *Fake) ChatMessages(ctx context.Context, chatID string, limit int) ([]adapter.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs, ok := f.chatMessages[chatID]
	if !ok {
		return nil, adapter.ErrNotFound
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (f *Fake) SendText(ctx context.Context, chatID, body string) (*adapter.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sentTexts = append(f.sentTexts, SentText{ChatID: chatID, Body: body})
	return &adapter.SendResult{MessageID: "sent-1", Timestamp: time.Now()}, nil
}

func (f *Fake) SendMedia(ctx context.Context, chatID string, media *adapter.OutgoingMedia) (*adapter.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sentMedia = append(f.sentMedia, SentMedia{ChatID: chatID, Media: media})
	return &adapter.SendResult{MessageID: "sent-media-1", Timestamp: time.Now()}, nil
}

func (f *Fake) ProfilePicture(ctx context.Context, chatID string) (*string, error) {
	f.mu.Lock()
	delay := f.pictureDelay[chatID]
	f.pictureCalls[chatID]++
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.pictureErr[chatID]; ok {
		return nil, err
	}
	return f.pictures[chatID], nil
}

func (f *Fake) DownloadMedia(ctx context.Context, messageID string) (*adapter.MediaBlob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	blob, ok := f.media[messageID]
	if !ok {
		return nil, adapter.ErrNotFound
	}
	return blob, nil
}

func (f *Fake) Logout(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedOut = true
	return f.logoutErr
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.lifecycle)
		close(f.messages)
	}
	return nil
}

// Started reports whether Start ran.
func (f *Fake) Started() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

// StartContext returns the context Start was called with.
func (f *Fake) StartContext() context.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCtx
}

// LoggedOut reports whether Logout ran.
func (f *Fake) LoggedOut() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loggedOut
}

// Closed reports whether Close ran.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// PictureCalls returns how many times ProfilePicture was asked for chatID.
func (f *Fake) PictureCalls(chatID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pictureCalls[chatID]
}

// SentTexts returns every SendText call recorded so far.
func (f *Fake) SentTexts() []SentText {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SentText(nil), f.sentTexts...)
}

// SentMediaCalls returns every SendMedia call recorded so far.
func (f *Fake) SentMediaCalls() []SentMedia {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SentMedia(nil), f.sentMedia...)
}

// Connector hands out scripted fakes, one per Connect call, and records
// the tenant and credential directory each connection was asked for.
type Connector struct {
	mu sync.Mutex

	connectErr error
	next       []*Fake
	connected  []ConnectCall
	calls      int
}

// ConnectCall records one Connector.Connect invocation.
type ConnectCall struct {
	TenantID      string
	CredentialDir string
	Adapter       *Fake
}

// NewConnector returns an empty connector; queue fakes with Enqueue or let
// Connect mint fresh ones.
func NewConnector() *Connector {
	return &Connector{}
}

// Enqueue queues a fake to be returned by the next Connect call.
func (c *Connector) Enqueue(f *Fake) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next = append(c.next, f)
}

// SetConnectErr makes Connect fail.
func (c *Connector) SetConnectErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectErr = err
}

func (c *Connector) Connect(ctx context.Context, tenantID, credentialDir string) (adapter.Adapter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.connectErr != nil {
		return nil, c.connectErr
	}
	var f *Fake
	if len(c.next) > 0 {
		f = c.next[0]
		c.next = c.next[1:]
	} else {
		f = NewFake()
	}
	c.connected = append(c.connected, ConnectCall{TenantID: tenantID, CredentialDir: credentialDir, Adapter: f})
	return f, nil
}

// Calls returns how many times Connect ran.
func (c *Connector) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Connections returns every recorded Connect call.
func (c *Connector) Connections() []ConnectCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ConnectCall(nil), c.connected...)
}
