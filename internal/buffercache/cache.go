// ABOUTME: Buffer cache for decoded stem audio
// ABOUTME: Fetches, decodes and memoizes buffers by normalized stem id with deduplicated loads
package buffercache

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/warpsong/warpsong-go/pkg/audio"
	"github.com/warpsong/warpsong-go/pkg/audio/decode"
	"github.com/warpsong/warpsong-go/pkg/stem"
	"golang.org/x/sync/singleflight"
)

// DefaultLoadTimeout bounds how long Load blocks before returning a pending handle
const DefaultLoadTimeout = 3 * time.Second

// Config holds cache configuration
type Config struct {
	Fetcher     Fetcher
	Decoder     decode.Decoder
	LoadTimeout time.Duration
}

// Handle is the result of a load. A handle returned with a PartialLoadError may
// still be pending; every other handle is already resolved.
type Handle struct {
	id   string
	done chan struct{}
	buf  *audio.Buffer
	err  error
}

func newHandle(id string) *Handle {
	return &Handle{id: id, done: make(chan struct{})}
}

func resolvedHandle(id string, buf *audio.Buffer) *Handle {
	h := newHandle(id)
	h.resolve(buf, nil)
	return h
}

func (h *Handle) resolve(buf *audio.Buffer, err error) {
	h.buf = buf
	h.err = err
	close(h.done)
}

// ID returns the normalized stem id
func (h *Handle) ID() string { return h.id }

// Done is closed once the load has resolved
func (h *Handle) Done() <-chan struct{} { return h.done }

// Loaded reports whether the buffer is decoded and available
func (h *Handle) Loaded() bool {
	select {
	case <-h.done:
		return h.err == nil && h.buf != nil
	default:
		return false
	}
}

// Buffer returns the decoded buffer, or nil while pending or after failure
func (h *Handle) Buffer() *audio.Buffer {
	select {
	case <-h.done:
		return h.buf
	default:
		return nil
	}
}

// Err returns the load error once resolved
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the handle resolves or ctx is done
func (h *Handle) Wait(ctx context.Context) (*audio.Buffer, error) {
	select {
	case <-h.done:
		return h.buf, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cache memoizes decoded stem buffers
type Cache struct {
	config Config
	ctx    context.Context
	cancel context.CancelFunc

	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]*audio.Buffer
	closed  bool
}

// New creates a cache
func New(config Config) *Cache {
	if config.LoadTimeout <= 0 {
		config.LoadTimeout = DefaultLoadTimeout
	}
	if config.Fetcher == nil {
		config.Fetcher = NewHTTPFetcher(0, "")
	}
	if config.Decoder == nil {
		config.Decoder = decode.Auto()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*audio.Buffer),
	}
}

// Load returns a handle for the stem's decoded buffer. Concurrent loads of one id
// share a single fetch. ctx bounds only this caller's wait; the fetch itself is owned
// by the cache and keeps running until it resolves or the cache is closed.
func (c *Cache) Load(ctx context.Context, s stem.Stem) (*Handle, error) {
	id := stem.NormalizeID(s.ID)
	if id == "" {
		return nil, &LoadError{StemID: s.ID, Err: fmt.Errorf("empty stem identifier")}
	}

	c.mu.RLock()
	closed := c.closed
	buf, ok := c.entries[id]
	c.mu.RUnlock()

	if closed {
		return nil, &LoadError{StemID: id, Err: ErrClosed}
	}
	if ok {
		return resolvedHandle(id, buf), nil
	}

	url := s.SourceURL
	ch := c.group.DoChan(id, func() (interface{}, error) {
		return c.fetchAndStore(id, url)
	})

	timer := time.NewTimer(c.config.LoadTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, &LoadError{StemID: id, Err: res.Err}
		}
		return resolvedHandle(id, res.Val.(*audio.Buffer)), nil

	case <-timer.C:
		log.Printf("Stem %s still loading after %v, returning pending handle", id, c.config.LoadTimeout)
		h := newHandle(id)
		go func() {
			res := <-ch
			if res.Err != nil {
				h.resolve(nil, &LoadError{StemID: id, Err: res.Err})
				return
			}
			h.resolve(res.Val.(*audio.Buffer), nil)
		}()
		return h, &PartialLoadError{StemID: id, Waited: c.config.LoadTimeout}

	case <-ctx.Done():
		return nil, &LoadError{StemID: id, Err: ctx.Err()}
	}
}

func (c *Cache) fetchAndStore(id, url string) (*audio.Buffer, error) {
	if url == "" {
		return nil, fmt.Errorf("stem has no source url")
	}

	log.Printf("Fetching stem %s: %s", id, url)
	data, err := c.config.Fetcher.Fetch(c.ctx, url)
	if err != nil {
		return nil, err
	}

	buf, err := c.config.Decoder.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode failed: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	// a loaded entry is never replaced
	if existing, ok := c.entries[id]; ok {
		return existing, nil
	}
	c.entries[id] = buf

	log.Printf("Stem %s decoded: %d frames at %dHz (%v)", id, buf.Frames(), buf.SampleRate, buf.Duration())
	return buf, nil
}

// Get returns the loaded buffer for a stem id
func (c *Cache) Get(id string) (*audio.Buffer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	buf, ok := c.entries[stem.NormalizeID(id)]
	return buf, ok
}

// Len returns the number of loaded entries
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close cancels in-flight fetches and drops every entry
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.cancel()
	c.entries = make(map[string]*audio.Buffer)
	return nil
}
