// ABOUTME: Tests for the session registry
// ABOUTME: Covers single-flight creation, removal and credential wipe

package session

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warelay/warelay/internal/adapter"
	"github.com/warelay/warelay/internal/adapter/adaptertest"
)

func newTestRegistry(t *testing.T, connector adapter.Connector) *Registry {
	t.Helper()
	r := NewRegistry(RegistryConfig{
		Connector:      connector,
		CredentialRoot: t.TempDir(),
		Logger:         slog.Default(),
	})
	t.Cleanup(r.Close)
	return r
}

func TestGetOrCreateReturnsSameSession(t *testing.T) {
	connector := adaptertest.NewConnector()
	r := newTestRegistry(t, connector)

	s1, err := r.GetOrCreate(t.Context(), "tenant-a")
	require.NoError(t, err)
	s2, err := r.GetOrCreate(t.Context(), "tenant-a")
	require.NoError(t, err)

	assert.Same(t, s1, s2)
	assert.Equal(t, 1, connector.Calls())
}

func TestGetOrCreateConcurrentSingleConnection(t *testing.T) {
	connector := adaptertest.NewConnector()
	r := newTestRegistry(t, connector)

	const callers = 20
	sessions := make([]*Session, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Go(func() {
			s, err := r.GetOrCreate(t.Context(), "tenant-a")
			require.NoError(t, err)
			sessions[i] = s
		})
	}
	wg.Wait()

	assert.Equal(t, 1, connector.Calls(), "concurrent callers must share one connection")
	for _, s := range sessions {
		assert.Same(t, sessions[0], s)
	}
}

func TestGetOrCreateStartOutlivesCallerContext(t *testing.T) {
	connector := adaptertest.NewConnector()
	fake := adaptertest.NewFake()
	connector.Enqueue(fake)
	r := newTestRegistry(t, connector)

	// The creating request's context ends as soon as the response is
	// written; pairing runs much longer than that.
	ctx, cancel := context.WithCancel(t.Context())
	s, err := r.GetOrCreate(ctx, "tenant-a")
	require.NoError(t, err)
	cancel()

	select {
	case <-fake.StartContext().Done():
		t.Fatal("adapter start context must not die with the request")
	default:
	}

	// Destroying the session is what ends the adapter's lifetime.
	s.destroy()
	select {
	case <-fake.StartContext().Done():
	default:
		t.Fatal("adapter start context must end when the session is destroyed")
	}
}

func TestGetOrCreateSeparateTenants(t *testing.T) {
	connector := adaptertest.NewConnector()
	r := newTestRegistry(t, connector)

	sa, err := r.GetOrCreate(t.Context(), "tenant-a")
	require.NoError(t, err)
	sb, err := r.GetOrCreate(t.Context(), "tenant-b")
	require.NoError(t, err)

	assert.NotSame(t, sa, sb)
	assert.Equal(t, 2, connector.Calls())
}

func TestGetOrCreateEmptyTenant(t *testing.T) {
	r := newTestRegistry(t, adaptertest.NewConnector())

	_, err := r.GetOrCreate(t.Context(), "")
	assert.ErrorIs(t, err, adapter.ErrInvalidRequest)
}

func TestGetOrCreateConnectError(t *testing.T) {
	connector := adaptertest.NewConnector()
	connector.SetConnectErr(errors.New("backend down"))
	r := newTestRegistry(t, connector)

	_, err := r.GetOrCreate(t.Context(), "tenant-a")
	require.Error(t, err)

	// A failed creation leaves nothing registered, so a retry reconnects.
	connector.SetConnectErr(nil)
	_, err = r.GetOrCreate(t.Context(), "tenant-a")
	require.NoError(t, err)
}

func TestRemoveLogsOutAndWipesCredentials(t *testing.T) {
	connector := adaptertest.NewConnector()
	fake := adaptertest.NewFake()
	connector.Enqueue(fake)
	r := newTestRegistry(t, connector)

	_, err := r.GetOrCreate(t.Context(), "tenant-a")
	require.NoError(t, err)

	conns := connector.Connections()
	require.Len(t, conns, 1)
	credDir := conns[0].CredentialDir
	require.DirExists(t, credDir)
	marker := filepath.Join(credDir, "creds.db")
	require.NoError(t, os.WriteFile(marker, []byte("x"), 0o600))

	require.NoError(t, r.Remove(t.Context(), "tenant-a"))
	assert.True(t, fake.LoggedOut())
	assert.True(t, fake.Closed())
	assert.NoDirExists(t, credDir)

	_, ok := r.Get("tenant-a")
	assert.False(t, ok)
}

func TestRemoveLogoutFailureStillDestroys(t *testing.T) {
	connector := adaptertest.NewConnector()
	fake := adaptertest.NewFake()
	fake.SetLogoutErr(errors.New("logout refused"))
	connector.Enqueue(fake)
	r := newTestRegistry(t, connector)

	_, err := r.GetOrCreate(t.Context(), "tenant-a")
	require.NoError(t, err)

	require.NoError(t, r.Remove(t.Context(), "tenant-a"))
	assert.True(t, fake.Closed())
	_, ok := r.Get("tenant-a")
	assert.False(t, ok)
}

func TestRemoveUnknownTenant(t *testing.T) {
	r := newTestRegistry(t, adaptertest.NewConnector())

	err := r.Remove(t.Context(), "ghost")
	assert.ErrorIs(t, err, adapter.ErrNotFound)
}

func TestRemoveThenGetOrCreateStartsFresh(t *testing.T) {
	connector := adaptertest.NewConnector()
	r := newTestRegistry(t, connector)

	s1, err := r.GetOrCreate(t.Context(), "tenant-a")
	require.NoError(t, err)
	require.NoError(t, r.Remove(t.Context(), "tenant-a"))

	s2, err := r.GetOrCreate(t.Context(), "tenant-a")
	require.NoError(t, err)
	assert.NotSame(t, s1, s2)
	assert.Equal(t, 2, connector.Calls())
}

func TestTenantsListsLiveSessions(t *testing.T) {
	r := newTestRegistry(t, adaptertest.NewConnector())

	_, err := r.GetOrCreate(t.Context(), "tenant-a")
	require.NoError(t, err)
	_, err = r.GetOrCreate(t.Context(), "tenant-b")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"tenant-a", "tenant-b"}, r.Tenants())
}
