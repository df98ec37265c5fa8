// Package replacer implements the buffer pool's eviction policy: an LRU
// replacer tracking unpinned frames in least-to-most-recently-unpinned
// order.
package replacer

import (
	"container/list"
	"sync"

	"github.com/qujihan/storagecore/page"
)

// LRU tracks unpinned frame ids in LRU order. All operations are O(1) and
// safe for concurrent use.
type LRU struct {
	mu    sync.Mutex
	order *list.List
	index map[page.FrameID]*list.Element
}

// New returns an empty LRU replacer. capacity is advisory (used only to
// size the index map) since the replacer never holds more entries than
// the pool has frames.
func New(capacity int) *LRU {
	return &LRU{
		order: list.New(),
		index: make(map[page.FrameID]*list.Element, capacity),
	}
}

// Victim removes and returns the least-recently-unpinned frame, or false
// if no frame is currently unpinned.
func (r *LRU) Victim() (page.FrameID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	front := r.order.Front()
	if front == nil {
		return 0, false
	}
	r.order.Remove(front)
	fid := front.Value.(page.FrameID)
	delete(r.index, fid)
	return fid, true
}

// Pin removes a frame from the replacer, marking it as in use and no
// longer a victim candidate. No-op if the frame is not present.
func (r *LRU) Pin(fid page.FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.index[fid]; ok {
		r.order.Remove(e)
		delete(r.index, fid)
	}
}

// Unpin marks a frame as a victim candidate, appending it as the
// most-recently-unpinned entry. Idempotent: unpinning a frame already in
// the replacer does not reorder it.
func (r *LRU) Unpin(fid page.FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[fid]; ok {
		return
	}
	r.index[fid] = r.order.PushBack(fid)
}

// Size returns the number of frames currently tracked as victim
// candidates.
func (r *LRU) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.order.Len()
}
