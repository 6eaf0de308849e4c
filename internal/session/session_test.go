// ABOUTME: Tests for the session state machine and event loop
// ABOUTME: Drives transitions through scripted adapter lifecycle events

package session

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warelay/warelay/internal/adapter"
	"github.com/warelay/warelay/internal/adapter/adaptertest"
)

func waitForState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session never reached state %s (still %s)", want, s.State())
}

func TestSessionStartsInitializing(t *testing.T) {
	fake := adaptertest.NewFake()
	s := newSession("tenant-a", fake, nil, slog.Default())
	require.NoError(t, s.start())
	defer s.destroy()

	assert.Equal(t, StateInitializing, s.State())
	assert.False(t, s.IsReady())
	assert.Empty(t, s.CurrentQR())
}

func TestSessionQRThenReady(t *testing.T) {
	fake := adaptertest.NewFake()
	s := newSession("tenant-a", fake, nil, slog.Default())
	require.NoError(t, s.start())
	defer s.destroy()

	fake.EmitLifecycle(adapter.LifecycleEvent{Kind: adapter.LifecycleQR, Payload: "data:image/png;base64,AAA"})
	waitForState(t, s, StateAwaitingQR)
	assert.Equal(t, "data:image/png;base64,AAA", s.CurrentQR())

	fake.EmitLifecycle(adapter.LifecycleEvent{Kind: adapter.LifecycleReady})
	waitForState(t, s, StateReady)
	assert.True(t, s.IsReady())
	// Ready clears the pairing artifact.
	assert.Empty(t, s.CurrentQR())
}

func TestSessionQRAfterReadyReturnsToAwaiting(t *testing.T) {
	fake := adaptertest.NewFake()
	s := newSession("tenant-a", fake, nil, slog.Default())
	require.NoError(t, s.start())
	defer s.destroy()

	fake.EmitLifecycle(adapter.LifecycleEvent{Kind: adapter.LifecycleReady})
	waitForState(t, s, StateReady)

	fake.EmitLifecycle(adapter.LifecycleEvent{Kind: adapter.LifecycleQR, Payload: "data:image/png;base64,BBB"})
	waitForState(t, s, StateAwaitingQR)
	assert.Equal(t, "data:image/png;base64,BBB", s.CurrentQR())
	assert.False(t, s.IsReady())
}

func TestSessionAuthFailedAndDisconnected(t *testing.T) {
	fake := adaptertest.NewFake()
	s := newSession("tenant-a", fake, nil, slog.Default())
	require.NoError(t, s.start())
	defer s.destroy()

	fake.EmitLifecycle(adapter.LifecycleEvent{Kind: adapter.LifecycleAuthFailed, Payload: "pairing rejected"})
	waitForState(t, s, StateAuthFailed)

	fake.EmitLifecycle(adapter.LifecycleEvent{Kind: adapter.LifecycleDisconnected, Payload: "stream error"})
	waitForState(t, s, StateDisconnected)
}

type recordingSink struct {
	ch chan adapter.Message
}

func (r *recordingSink) Publish(tenantID string, msg adapter.Message) {
	r.ch <- msg
}

func TestSessionForwardsMessagesToSink(t *testing.T) {
	fake := adaptertest.NewFake()
	sink := &recordingSink{ch: make(chan adapter.Message, 4)}
	s := newSession("tenant-a", fake, sink, slog.Default())
	require.NoError(t, s.start())
	defer s.destroy()

	fake.EmitMessage(adapter.Message{ID: "m1", ChatID: "c1", Body: "hello"})
	fake.EmitMessage(adapter.Message{ID: "m2", ChatID: "c1", Body: "world"})

	first := <-sink.ch
	second := <-sink.ch
	assert.Equal(t, "m1", first.ID)
	assert.Equal(t, "m2", second.ID)
}

func TestSessionDropsRedeliveredMessages(t *testing.T) {
	fake := adaptertest.NewFake()
	sink := &recordingSink{ch: make(chan adapter.Message, 4)}
	s := newSession("tenant-a", fake, sink, slog.Default())
	require.NoError(t, s.start())
	defer s.destroy()

	fake.EmitMessage(adapter.Message{ID: "m1", ChatID: "c1", Body: "hello"})
	fake.EmitMessage(adapter.Message{ID: "m1", ChatID: "c1", Body: "hello"})
	fake.EmitMessage(adapter.Message{ID: "m2", ChatID: "c1", Body: "world"})

	first := <-sink.ch
	second := <-sink.ch
	assert.Equal(t, "m1", first.ID)
	assert.Equal(t, "m2", second.ID, "redelivered m1 should not reach the sink")

	select {
	case extra := <-sink.ch:
		t.Fatalf("unexpected extra message: %s", extra.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSessionDestroyIsTerminal(t *testing.T) {
	fake := adaptertest.NewFake()
	s := newSession("tenant-a", fake, nil, slog.Default())
	require.NoError(t, s.start())

	s.destroy()
	assert.Equal(t, StateDestroyed, s.State())
	assert.True(t, fake.Closed())

	// destroy is idempotent and the state stays terminal
	s.destroy()
	assert.Equal(t, StateDestroyed, s.State())
}
