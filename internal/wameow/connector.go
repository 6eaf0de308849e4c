// ABOUTME: Connector creating whatsmeow clients from per-tenant credentials
// ABOUTME: Each tenant gets its own sqlstore container under its directory

package wameow

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"

	"github.com/warelay/warelay/internal/adapter"
)

// Connector implements adapter.Connector on top of whatsmeow.
type Connector struct {
	logger *slog.Logger
}

// NewConnector creates a connector. Pass nil logger for default.
func NewConnector(logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{logger: logger}
}

// Connect opens (or creates) the tenant's credential store and builds a
// client around its first device. The client is not connected yet; the
// session drives that through Start.
func (c *Connector) Connect(ctx context.Context, tenantID, credentialDir string) (adapter.Adapter, error) {
	logger := c.logger.With("tenant", tenantID)

	dbPath := filepath.Join(credentialDir, "session.db")
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_journal_mode=WAL", dbPath)

	container, err := sqlstore.New(ctx, "sqlite", dsn, newWALogger(logger.With("module", "sqlstore")))
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}

	wa := whatsmeow.NewClient(device, newWALogger(logger.With("module", "client")))
	return newClient(tenantID, wa, c.logger), nil
}
