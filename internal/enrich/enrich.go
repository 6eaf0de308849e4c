// ABOUTME: Batched profile-picture enrichment with a process-lifetime cache
// ABOUTME: Bounded concurrency, soft per-fetch timeout, order-preserving output

package enrich

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultBatchSize bounds how many picture fetches run concurrently.
	DefaultBatchSize = 5
	// DefaultTimeout is the soft per-fetch wait before giving up on a
	// picture and caching the miss.
	DefaultTimeout = 3 * time.Second
)

// PictureFetcher resolves a chat's profile picture URL. A nil result with a
// nil error means the chat has no picture.
type PictureFetcher interface {
	ProfilePicture(ctx context.Context, chatID string) (*string, error)
}

// Pipeline decorates chat listings with profile picture URLs. Results are
// cached for the life of the process, including misses: a chat that once
// resolved to "no picture" (timeout, error or genuine absence) is never
// fetched again. Cache entries have no TTL.
type Pipeline struct {
	batchSize int
	timeout   time.Duration
	logger    *slog.Logger

	mu    sync.RWMutex
	cache map[string]*string // tenantID+"\x00"+chatID -> url (nil = no picture)
}

// NewPipeline creates a pipeline. Non-positive batchSize or timeout fall
// back to the defaults.
func NewPipeline(batchSize int, timeout time.Duration, logger *slog.Logger) *Pipeline {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		batchSize: batchSize,
		timeout:   timeout,
		logger:    logger.With("component", "enrich"),
		cache:     make(map[string]*string),
	}
}

// Pictures resolves profile picture URLs for chatIDs, preserving input
// order: Pictures(...)[i] belongs to chatIDs[i]. Uncached chats are fetched
// in batches of the configured size, each batch fully awaited before the
// next starts. A fetch that outlives the soft timeout yields nil for this
// call; the abandoned fetch keeps running and may still populate the cache
// for later calls.
func (p *Pipeline) Pictures(ctx context.Context, tenantID string, fetcher PictureFetcher, chatIDs []string) []*string {
	out := make([]*string, len(chatIDs))

	type pending struct {
		index  int
		chatID string
	}
	var misses []pending
	p.mu.RLock()
	for i, chatID := range chatIDs {
		if url, ok := p.cache[p.key(tenantID, chatID)]; ok {
			out[i] = url
		} else {
			misses = append(misses, pending{index: i, chatID: chatID})
		}
	}
	p.mu.RUnlock()

	for start := 0; start < len(misses); start += p.batchSize {
		end := min(start+p.batchSize, len(misses))

		var g errgroup.Group
		for _, item := range misses[start:end] {
			g.Go(func() error {
				out[item.index] = p.fetchOne(ctx, tenantID, fetcher, item.chatID)
				return nil
			})
		}
		g.Wait()
	}

	return out
}

// fetchOne races the fetch against the soft timeout. The fetch itself is
// never cancelled by the timeout; a late completion overwrites whatever the
// timeout path cached (last writer wins).
func (p *Pipeline) fetchOne(ctx context.Context, tenantID string, fetcher PictureFetcher, chatID string) *string {
	done := make(chan *string, 1)

	go func() {
		url, err := fetcher.ProfilePicture(context.WithoutCancel(ctx), chatID)
		if err != nil {
			p.logger.Debug("picture fetch failed", "tenant", tenantID, "chat", chatID, "error", err)
			url = nil
		}
		p.store(tenantID, chatID, url)
		done <- url
	}()

	select {
	case url := <-done:
		return url
	case <-time.After(p.timeout):
		p.logger.Debug("picture fetch timed out", "tenant", tenantID, "chat", chatID)
		p.storeIfAbsent(tenantID, chatID, nil)
		return nil
	case <-ctx.Done():
		p.storeIfAbsent(tenantID, chatID, nil)
		return nil
	}
}

func (p *Pipeline) store(tenantID, chatID string, url *string) {
	p.mu.Lock()
	p.cache[p.key(tenantID, chatID)] = url
	p.mu.Unlock()
}

func (p *Pipeline) storeIfAbsent(tenantID, chatID string, url *string) {
	p.mu.Lock()
	key := p.key(tenantID, chatID)
	if _, ok := p.cache[key]; !ok {
		p.cache[key] = url
	}
	p.mu.Unlock()
}

// Cached returns the cached picture for a chat and whether an entry exists.
func (p *Pipeline) Cached(tenantID, chatID string) (*string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	url, ok := p.cache[p.key(tenantID, chatID)]
	return url, ok
}

func (p *Pipeline) key(tenantID, chatID string) string {
	return tenantID + "\x00" + chatID
}
