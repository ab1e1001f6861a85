// Package pool manages decoder session lifecycles for the tile layer.
//
// It balances two conflicting needs: sessions are expensive to construct and
// some are too heavyweight to duplicate, so each file path gets one shared
// session reused by every open image; yet lightweight sessions benefit from
// one-per-worker duplication so tile requests can decode in parallel without
// contending on a single cursor.
//
// The shared registry is guarded by one coarse lock; each shared Handle
// additionally carries its own lock serializing every cursor mutation and
// decode. Worker sessions are exclusive by checkout and need no locking.
package pool

import (
	"fmt"
	"log"
	"sync"

	"github.com/slide-tiles/server/internal/decoder"
)

const (
	// Images with either dimension at or below this are served through the
	// shared session regardless of other signals.
	defaultLargeImageDim = 8192

	// Sessions whose memoization footprint reaches this are considered
	// heavyweight and are never duplicated per worker.
	defaultMaxMemoBytes = 10 * 1024 * 1024
)

// Options configures a Manager.
type Options struct {
	// Open constructs a new decoder session. Required.
	Open decoder.OpenFunc

	// MemoSize reports the on-disk memoization footprint for a path.
	// Optional; a nil func means no footprint (always lightweight).
	MemoSize func(path string) int64

	// Threshold overrides; zero values select the defaults above.
	LargeImageDim int
	MaxMemoBytes  int64
}

// Manager owns every decoder session handed out to image sources.
type Manager struct {
	opts Options

	mu        sync.Mutex
	shared    map[string]*Handle
	owners    map[any]string // active image source -> path
	memoSizes map[string]int64
	workers   map[*Worker]struct{}
	free      []*Worker
	closed    bool
}

// Handle wraps a shared decoder session. All use goes through Do, which
// holds the handle's critical section for the duration of the callback:
// cursor state set inside the callback stays valid until it returns.
type Handle struct {
	mu      sync.Mutex
	session decoder.Session
	path    string
}

// Do runs fn with exclusive access to the underlying session.
func (h *Handle) Do(fn func(decoder.Session) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return fn(h.session)
}

// Path returns the file path the handle is bound to.
func (h *Handle) Path() string { return h.path }

// NewManager creates a Manager. The zero thresholds in opts are replaced
// with the defaults.
func NewManager(opts Options) *Manager {
	if opts.LargeImageDim == 0 {
		opts.LargeImageDim = defaultLargeImageDim
	}
	if opts.MaxMemoBytes == 0 {
		opts.MaxMemoBytes = defaultMaxMemoBytes
	}
	return &Manager{
		opts:      opts,
		shared:    make(map[string]*Handle),
		owners:    make(map[any]string),
		memoSizes: make(map[string]int64),
		workers:   make(map[*Worker]struct{}),
	}
}

// AcquireShared returns the shared handle for path, creating it on first
// acquisition (with metadata capture enabled). The owner is registered as an
// active user of the path until Release(owner) is called.
func (m *Manager) AcquireShared(owner any, path string) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("pool: manager is shut down")
	}

	h, ok := m.shared[path]
	if ok {
		// Guard against a stale binding; should not normally occur.
		if h.session.Path() != path {
			if err := h.session.Close(); err != nil {
				log.Printf("pool: closing stale session for %s: %v", path, err)
			}
			delete(m.shared, path)
			ok = false
		}
	}
	if !ok {
		s, err := m.opts.Open(path, true)
		if err != nil {
			return nil, fmt.Errorf("pool: open %s: %w", path, err)
		}
		if m.opts.MemoSize != nil {
			m.memoSizes[path] = m.opts.MemoSize(path)
		}
		h = &Handle{session: s, path: path}
		m.shared[path] = h
	}
	// Register the owner only once the handle exists: a failed open must not
	// leave a dangling registration keeping the path alive.
	m.owners[owner] = path
	return h, nil
}

// Release deregisters an image source. Any path left without active owners
// has its shared session closed and evicted; worker sessions are untouched.
func (m *Manager) Release(owner any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.owners, owner)

	active := make(map[string]bool, len(m.owners))
	for _, p := range m.owners {
		active[p] = true
	}
	for path, h := range m.shared {
		if active[path] {
			continue
		}
		if err := h.session.Close(); err != nil {
			log.Printf("pool: closing session for %s: %v", path, err)
		}
		delete(m.shared, path)
	}
}

// MemoizationSize returns the recorded memoization footprint for a path,
// or zero if none was observed.
func (m *Manager) MemoizationSize(path string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.memoSizes[path]
}

// ParallelismEligible decides whether tile reads for an image may use
// per-worker sessions: the caller must have opted in, both full-resolution
// dimensions must exceed the large-image threshold, and the memoization
// footprint must stay under the heavyweight threshold.
func (m *Manager) ParallelismEligible(path string, width, height int, requested bool) bool {
	if !requested {
		return false
	}
	if width <= m.opts.LargeImageDim || height <= m.opts.LargeImageDim {
		return false
	}
	return m.MemoizationSize(path) < m.opts.MaxMemoBytes
}

// Shutdown closes every shared and worker session unconditionally. Intended
// for process teardown only; close failures are logged, not propagated.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true

	for path, h := range m.shared {
		if err := h.session.Close(); err != nil {
			log.Printf("pool: closing session for %s: %v", path, err)
		}
		delete(m.shared, path)
	}
	for w := range m.workers {
		if w.session != nil {
			if err := w.session.Close(); err != nil {
				log.Printf("pool: closing worker session: %v", err)
			}
			w.session = nil
		}
		delete(m.workers, w)
	}
	m.free = nil
	for o := range m.owners {
		delete(m.owners, o)
	}
}
