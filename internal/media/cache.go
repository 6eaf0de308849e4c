// ABOUTME: Content-addressed media cache backed by SQLite and blob files
// ABOUTME: Descriptor rows in SQLite, bytes on disk, single-flight miss path

package media

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"
	_ "modernc.org/sqlite"

	"github.com/warelay/warelay/internal/adapter"
)

// Cache stores downloaded media keyed by tenant and message ID. Descriptors
// (mime type, size, storage path) live in SQLite; blob bytes live on disk.
// A cached entry is immutable: messages never change their media.
type Cache struct {
	db      *sql.DB
	blobDir string
	logger  *slog.Logger

	// fetching collapses concurrent misses for the same key into one
	// backend fetch.
	fetching singleflight.Group
}

// NewCache opens the descriptor database and prepares the blob directory.
// The schema is created if it doesn't exist.
func NewCache(dbPath, blobDir string, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "media")

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	if err := os.MkdirAll(blobDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	c := &Cache{db: db, blobDir: blobDir, logger: logger}
	if err := c.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("media cache initialized", "db", dbPath, "blobs", blobDir)
	return c, nil
}

func (c *Cache) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS media (
			tenant_id TEXT NOT NULL,
			message_id TEXT NOT NULL,
			mime_type TEXT NOT NULL,
			storage_path TEXT NOT NULL,
			size INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (tenant_id, message_id)
		);
	`
	_, err := c.db.Exec(schema)
	return err
}

// Save persists a media blob for a message. Saving the same key twice is a
// no-op; the first write wins.
func (c *Cache) Save(ctx context.Context, tenantID, messageID string, blob *adapter.MediaBlob) error {
	if blob == nil || len(blob.Data) == 0 {
		return fmt.Errorf("%w: empty media blob", adapter.ErrInvalidRequest)
	}

	// The descriptor insert is the claim on the key; only the winning
	// save writes the blob, so a repeat save can never pair the first
	// descriptor with different bytes.
	path := c.blobPath(tenantID, messageID)
	res, err := c.db.ExecContext(ctx,
		`INSERT INTO media (tenant_id, message_id, mime_type, storage_path, size, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id, message_id) DO NOTHING`,
		tenantID, messageID, blob.MimeType, path, len(blob.Data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("inserting descriptor: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking descriptor insert: %w", err)
	}
	if inserted == 0 {
		return nil
	}

	if err := os.WriteFile(path, blob.Data, 0o600); err != nil {
		// Roll the claim back so the key stays a clean miss.
		if _, delErr := c.db.ExecContext(ctx,
			`DELETE FROM media WHERE tenant_id = ? AND message_id = ?`,
			tenantID, messageID); delErr != nil {
			c.logger.Warn("descriptor rollback failed",
				"tenant", tenantID, "message_id", messageID, "error", delErr)
		}
		return fmt.Errorf("writing blob: %w", err)
	}
	return nil
}

// Get returns the cached blob for a message, or ErrNotFound.
func (c *Cache) Get(ctx context.Context, tenantID, messageID string) (*adapter.MediaBlob, error) {
	var mimeType, path string
	err := c.db.QueryRowContext(ctx,
		`SELECT mime_type, storage_path FROM media WHERE tenant_id = ? AND message_id = ?`,
		tenantID, messageID).Scan(&mimeType, &path)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, adapter.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying descriptor: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		// Descriptor without bytes: treat as a miss so the caller refetches.
		c.logger.Warn("blob file missing for descriptor",
			"tenant", tenantID, "message_id", messageID, "path", path)
		return nil, adapter.ErrNotFound
	}

	return &adapter.MediaBlob{Data: data, MimeType: mimeType}, nil
}

// Resolve returns the cached blob or fetches, caches and returns it.
// Concurrent misses for the same key collapse into a single fetch call;
// every waiter gets the same result. The cache-hit path never invokes fetch.
func (c *Cache) Resolve(ctx context.Context, tenantID, messageID string, fetch func(context.Context) (*adapter.MediaBlob, error)) (*adapter.MediaBlob, error) {
	if blob, err := c.Get(ctx, tenantID, messageID); err == nil {
		return blob, nil
	} else if !errors.Is(err, adapter.ErrNotFound) {
		return nil, err
	}

	v, err, _ := c.fetching.Do(tenantID+"\x00"+messageID, func() (any, error) {
		// Re-check: a racing flight may have filled the cache already.
		if blob, err := c.Get(ctx, tenantID, messageID); err == nil {
			return blob, nil
		}

		blob, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.Save(ctx, tenantID, messageID, blob); err != nil {
			c.logger.Warn("caching fetched media failed",
				"tenant", tenantID, "message_id", messageID, "error", err)
		}
		return blob, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*adapter.MediaBlob), nil
}

// Close releases the descriptor database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// blobPath derives a filesystem-safe blob location from the cache key.
func (c *Cache) blobPath(tenantID, messageID string) string {
	sum := sha256.Sum256([]byte(tenantID + "\x00" + messageID))
	return filepath.Join(c.blobDir, fmt.Sprintf("%x.bin", sum))
}
