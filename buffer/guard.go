package buffer

import "github.com/qujihan/storagecore/page"

// PageGuard scopes a fetched-or-created page to a lexical block, pairing
// acquisition with the matching UnpinPage so callers cannot forget to
// release a pin on an error path. It takes no latch itself; callers that
// read or mutate Page() must RLock/Lock it.
type PageGuard struct {
	bpm   *Manager
	pg    *page.Page
	dirty bool
	done  bool
}

// FetchPageGuarded fetches id and wraps it in a guard. The second return
// value is false if the page could not be fetched (pool exhausted).
func FetchPageGuarded(bpm *Manager, id page.ID) (*PageGuard, bool) {
	pg, ok := bpm.FetchPage(id)
	if !ok {
		return nil, false
	}
	return &PageGuard{bpm: bpm, pg: pg}, true
}

// NewPageGuarded allocates a fresh page and wraps it in a guard.
func NewPageGuarded(bpm *Manager) (*PageGuard, bool) {
	pg, ok := bpm.NewPage()
	if !ok {
		return nil, false
	}
	return &PageGuard{bpm: bpm, pg: pg}, true
}

// Page returns the guarded page.
func (g *PageGuard) Page() *page.Page { return g.pg }

// MarkDirty records that the caller modified the page; the eventual
// Unpin call will pass isDirty=true.
func (g *PageGuard) MarkDirty() { g.dirty = true }

// Unpin releases the guard's pin. Safe to call multiple times; only the
// first call has effect. Typical use is `defer guard.Unpin()`.
func (g *PageGuard) Unpin() {
	if g.done {
		return
	}
	g.done = true
	g.bpm.UnpinPage(g.pg.ID(), g.dirty)
}
