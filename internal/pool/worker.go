package pool

import (
	"fmt"
	"log"

	"github.com/slide-tiles/server/internal/decoder"
)

// Worker holds a private decoder session for one borrowing goroutine.
//
// A Worker is checked out with GetWorker and returned with PutWorker; while
// checked out it belongs to exactly one goroutine, so its session needs no
// locking. The session is opened lazily without metadata capture and is
// rebound (close + reopen) when a different path is requested.
type Worker struct {
	m       *Manager
	session decoder.Session
}

// Bind returns the worker's session bound to path, opening or rebinding as
// needed. The returned session is valid until the worker is returned to the
// pool.
func (w *Worker) Bind(path string) (decoder.Session, error) {
	if w.session != nil {
		if w.session.Path() == path {
			return w.session, nil
		}
		if err := w.session.Close(); err != nil {
			log.Printf("pool: closing worker session for %s: %v", w.session.Path(), err)
		}
		w.session = nil
	}
	s, err := w.m.opts.Open(path, false)
	if err != nil {
		return nil, fmt.Errorf("pool: open worker session %s: %w", path, err)
	}
	w.session = s
	return s, nil
}

// GetWorker checks a Worker out of the pool, creating one if none is free.
func (m *Manager) GetWorker() *Worker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := len(m.free); n > 0 {
		w := m.free[n-1]
		m.free = m.free[:n-1]
		return w
	}
	w := &Worker{m: m}
	m.workers[w] = struct{}{}
	return w
}

// PutWorker returns a Worker to the pool. Its session stays open so the next
// borrower for the same path skips reconstruction; sessions are reclaimed at
// Shutdown.
func (m *Manager) PutWorker(w *Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		if w.session != nil {
			if err := w.session.Close(); err != nil {
				log.Printf("pool: closing worker session: %v", err)
			}
			w.session = nil
		}
		delete(m.workers, w)
		return
	}
	m.free = append(m.free, w)
}
