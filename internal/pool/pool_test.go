package pool

import (
	"errors"
	"sync"
	"testing"

	"github.com/slide-tiles/server/internal/decoder"
)

// fakeEngine counts session constructions so tests can observe reuse and
// eviction.
type fakeEngine struct {
	mu      sync.Mutex
	opens   int
	memo    map[string]int64
	openErr error
}

func (e *fakeEngine) open(path string, capture bool) (decoder.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.openErr != nil {
		return nil, e.openErr
	}
	e.opens++
	return &fakeSession{path: path}, nil
}

func (e *fakeEngine) setOpenError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.openErr = err
}

func (e *fakeEngine) memoSize(path string) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.memo[path]
}

func (e *fakeEngine) openCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opens
}

type fakeSession struct {
	path   string
	closed bool
}

func (s *fakeSession) Path() string                  { return s.path }
func (s *fakeSession) Format() string                { return "Fake" }
func (s *fakeSession) SeriesCount() int              { return 1 }
func (s *fakeSession) SetSeries(int) error           { return nil }
func (s *fakeSession) Series() int                   { return 0 }
func (s *fakeSession) SeriesName(int) string         { return "" }
func (s *fakeSession) IsThumbnailSeries() bool       { return false }
func (s *fakeSession) ResolutionCount() int          { return 1 }
func (s *fakeSession) SetResolution(int) error       { return nil }
func (s *fakeSession) SizeX() int                    { return 64 }
func (s *fakeSession) SizeY() int                    { return 64 }
func (s *fakeSession) SizeC() int                    { return 1 }
func (s *fakeSession) SizeZ() int                    { return 1 }
func (s *fakeSession) SizeT() int                    { return 1 }
func (s *fakeSession) BitsPerPixel() int             { return 8 }
func (s *fakeSession) IsColorNative() bool           { return false }
func (s *fakeSession) PlaneIndex(z, c, t int) int    { return c }
func (s *fakeSession) Metadata(int) *decoder.Metadata { return nil }

func (s *fakeSession) DecodePlane(index, x, y, w, h int) (*decoder.Plane, error) {
	return &decoder.Plane{Width: w, Height: h, Kind: decoder.Uint8, U8: make([]uint8, w*h)}, nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

func newTestManager(e *fakeEngine) *Manager {
	return NewManager(Options{Open: e.open, MemoSize: e.memoSize})
}

func TestAcquireShared_ReusesHandleAcrossOwners(t *testing.T) {
	e := &fakeEngine{memo: map[string]int64{}}
	m := newTestManager(e)

	owner1, owner2 := new(int), new(int)
	h1, err := m.AcquireShared(owner1, "/data/a.svs")
	if err != nil {
		t.Fatalf("AcquireShared error: %v", err)
	}
	h2, err := m.AcquireShared(owner2, "/data/a.svs")
	if err != nil {
		t.Fatalf("AcquireShared error: %v", err)
	}
	if h1 != h2 {
		t.Fatal("expected the same shared handle for the same path")
	}
	if e.openCount() != 1 {
		t.Fatalf("expected 1 session construction, got %d", e.openCount())
	}
}

func TestAcquireShared_FailedOpenLeavesNoOwner(t *testing.T) {
	e := &fakeEngine{memo: map[string]int64{}}
	m := newTestManager(e)

	e.setOpenError(errors.New("no such file"))
	if _, err := m.AcquireShared(new(int), "/data/a.svs"); err == nil {
		t.Fatal("expected acquisition to fail when the open fails")
	}

	// The failed acquisition must not register its owner: once the only
	// successful owner releases, the session is evicted.
	e.setOpenError(nil)
	owner := new(int)
	if _, err := m.AcquireShared(owner, "/data/a.svs"); err != nil {
		t.Fatal(err)
	}
	m.Release(owner)

	if _, err := m.AcquireShared(owner, "/data/a.svs"); err != nil {
		t.Fatal(err)
	}
	if e.openCount() != 2 {
		t.Fatalf("expected a fresh construction after eviction, got %d", e.openCount())
	}
}

func TestRelease_EvictsWhenLastOwnerCloses(t *testing.T) {
	e := &fakeEngine{memo: map[string]int64{}}
	m := newTestManager(e)

	owner1, owner2 := new(int), new(int)
	if _, err := m.AcquireShared(owner1, "/data/a.svs"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.AcquireShared(owner2, "/data/a.svs"); err != nil {
		t.Fatal(err)
	}

	m.Release(owner1)
	if _, err := m.AcquireShared(owner1, "/data/a.svs"); err != nil {
		t.Fatal(err)
	}
	if e.openCount() != 1 {
		t.Fatalf("handle evicted while still referenced: %d constructions", e.openCount())
	}

	m.Release(owner1)
	m.Release(owner2)

	// All owners gone: the next acquisition must construct a fresh session.
	if _, err := m.AcquireShared(owner1, "/data/a.svs"); err != nil {
		t.Fatal(err)
	}
	if e.openCount() != 2 {
		t.Fatalf("expected fresh construction after eviction, got %d", e.openCount())
	}
}

func TestParallelismEligible_Thresholds(t *testing.T) {
	e := &fakeEngine{memo: map[string]int64{}}
	m := newTestManager(e)

	tests := []struct {
		name      string
		w, h      int
		memo      int64
		requested bool
		want      bool
	}{
		{"large light requested", 10000, 10000, 0, true, true},
		{"not requested", 10000, 10000, 0, false, false},
		{"width at threshold", 8192, 10000, 0, true, false},
		{"height below threshold", 10000, 4096, 0, true, false},
		{"small with huge memo", 4096, 4096, 100 << 20, true, false},
		{"heavy memoization", 10000, 10000, 10 << 20, true, false},
		{"memo just under limit", 10000, 10000, 10<<20 - 1, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := "/data/" + tt.name
			e.mu.Lock()
			e.memo[path] = tt.memo
			e.mu.Unlock()
			if _, err := m.AcquireShared(new(int), path); err != nil {
				t.Fatal(err)
			}
			got := m.ParallelismEligible(path, tt.w, tt.h, tt.requested)
			if got != tt.want {
				t.Fatalf("ParallelismEligible = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWorker_RebindOnDifferentPath(t *testing.T) {
	e := &fakeEngine{memo: map[string]int64{}}
	m := newTestManager(e)

	w := m.GetWorker()
	s1, err := w.Bind("/data/a.svs")
	if err != nil {
		t.Fatal(err)
	}
	s2, err := w.Bind("/data/a.svs")
	if err != nil {
		t.Fatal(err)
	}
	if s1 != s2 {
		t.Fatal("expected worker to keep its session for the same path")
	}

	s3, err := w.Bind("/data/b.svs")
	if err != nil {
		t.Fatal(err)
	}
	if s3 == s1 {
		t.Fatal("expected a new session after rebinding to a different path")
	}
	if !s1.(*fakeSession).closed {
		t.Fatal("expected the old session to be closed on rebind")
	}

	m.PutWorker(w)
	if m.GetWorker() != w {
		t.Fatal("expected the returned worker to be reused")
	}
}

func TestShutdown_ClosesEverything(t *testing.T) {
	e := &fakeEngine{memo: map[string]int64{}}
	m := newTestManager(e)

	h, err := m.AcquireShared(new(int), "/data/a.svs")
	if err != nil {
		t.Fatal(err)
	}
	w := m.GetWorker()
	ws, err := w.Bind("/data/b.svs")
	if err != nil {
		t.Fatal(err)
	}
	m.PutWorker(w)

	m.Shutdown()

	var shared *fakeSession
	h.Do(func(s decoder.Session) error {
		shared = s.(*fakeSession)
		return nil
	})
	if !shared.closed {
		t.Fatal("expected shared session to be closed at shutdown")
	}
	if !ws.(*fakeSession).closed {
		t.Fatal("expected worker session to be closed at shutdown")
	}
	if _, err := m.AcquireShared(new(int), "/data/a.svs"); err == nil {
		t.Fatal("expected acquisition after shutdown to fail")
	}
}
