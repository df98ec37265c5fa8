// Package buffer implements the buffer pool manager: a fixed array of
// frames backing on-disk pages, a page table mapping resident page ids to
// frames, a free list of unused frames, and delegation to an LRU replacer
// for eviction decisions and to a disk manager for page I/O.
package buffer

import (
	"sync"

	"go.uber.org/zap"

	"github.com/qujihan/storagecore/logging"
	"github.com/qujihan/storagecore/metrics"
	"github.com/qujihan/storagecore/page"
	"github.com/qujihan/storagecore/replacer"
)

// diskManager is the external collaborator the buffer pool depends on
// for page I/O. storagecore/disk.Manager satisfies it.
type diskManager interface {
	ReadPage(id page.ID, buf []byte) error
	WritePage(id page.ID, buf []byte) error
	DeallocatePage(id page.ID) error
}

// Manager owns pool_size frames and mediates all access to them.
type Manager struct {
	mu sync.Mutex

	poolSize      int
	numInstances  int32
	instanceIndex int32
	nextPageID    int32

	disk     diskManager
	replacer *replacer.LRU
	logger   *zap.Logger
	metrics  *metrics.Collectors

	frames    []*page.Page
	pageTable map[page.ID]page.FrameID
	freeList  []page.FrameID
}

// New constructs a buffer pool of poolSize frames. numInstances and
// instanceIndex stripe AllocatePage across cooperating, uncoordinated
// buffer pool instances (e.g. one per shard); pass (1, 0) for a
// standalone pool. logger and metricsCollectors may be nil.
func New(poolSize int, numInstances, instanceIndex int32, disk diskManager, logger *zap.Logger, metricsCollectors *metrics.Collectors) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	if numInstances <= 0 {
		numInstances = 1
	}

	m := &Manager{
		poolSize:      poolSize,
		numInstances:  numInstances,
		instanceIndex: instanceIndex,
		nextPageID:    instanceIndex,
		disk:          disk,
		replacer:      replacer.New(poolSize),
		logger:        logger,
		metrics:       metricsCollectors,
		frames:        make([]*page.Page, poolSize),
		pageTable:     make(map[page.ID]page.FrameID, poolSize),
		freeList:      make([]page.FrameID, poolSize),
	}
	for i := 0; i < poolSize; i++ {
		m.frames[i] = page.New(page.Size)
		m.freeList[i] = page.FrameID(i)
	}
	return m
}

// AllocatePage mints a fresh page id and advances the sequence by
// numInstances, so concurrently striped instances never collide.
func (m *Manager) AllocatePage() page.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allocatePageLocked()
}

func (m *Manager) allocatePageLocked() page.ID {
	id := page.ID(m.nextPageID)
	m.nextPageID += m.numInstances
	return id
}

// victimFrameLocked selects a frame to reuse: free-list first, then the
// replacer's least-recently-unpinned frame. Returns false if every frame
// is pinned and the free list is empty.
func (m *Manager) victimFrameLocked() (page.FrameID, bool) {
	if len(m.freeList) > 0 {
		fid := m.freeList[0]
		m.freeList = m.freeList[1:]
		return fid, true
	}
	fid, ok := m.replacer.Victim()
	if ok {
		m.metrics.IncPoolEviction()
	}
	return fid, ok
}

// evictLocked prepares frame fid to be reused: flushes it if dirty and
// removes its old page id from the page table.
func (m *Manager) evictLocked(fid page.FrameID) error {
	fr := m.frames[fid]
	oldID := fr.ID()
	if oldID == page.InvalidID {
		return nil
	}
	if fr.IsDirty() {
		if err := m.disk.WritePage(oldID, fr.Data()); err != nil {
			return err
		}
		m.metrics.IncPoolFlush()
	}
	delete(m.pageTable, oldID)
	return nil
}

// NewPage allocates a fresh page id, installs it in a frame, and returns
// the pinned page. Fails when every frame is pinned, or when writing a
// dirty victim frame back to disk fails.
func (m *Manager) NewPage() (*page.Page, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fid, ok := m.victimFrameLocked()
	if !ok {
		m.logger.Warn("NewPage: buffer pool exhausted, no frame available")
		return nil, false
	}
	if err := m.evictLocked(fid); err != nil {
		m.logger.Error("NewPage: failed to flush victim frame", zap.Error(err))
		return nil, false
	}

	newID := m.allocatePageLocked()
	fr := m.frames[fid]
	fr.Reset()
	fr.SetID(newID)
	fr.Pin()
	fr.SetDirty(false)

	m.pageTable[newID] = fid
	m.logger.Debug("NewPage", zap.Int32("page_id", int32(newID)), zap.Int32("frame_id", int32(fid)))
	return fr, true
}

// FetchPage pins and returns the page for id, reading it from disk if it
// is not already resident. Fails when every frame is pinned, or when
// writing a dirty victim frame back or reading id from disk fails.
func (m *Manager) FetchPage(id page.ID) (*page.Page, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if fid, ok := m.pageTable[id]; ok {
		fr := m.frames[fid]
		fr.Pin()
		m.replacer.Pin(fid)
		m.metrics.IncPoolHit()
		return fr, true
	}

	m.metrics.IncPoolMiss()
	fid, ok := m.victimFrameLocked()
	if !ok {
		m.logger.Warn("FetchPage: buffer pool exhausted, no frame available", zap.Int32("page_id", int32(id)))
		return nil, false
	}
	if err := m.evictLocked(fid); err != nil {
		m.logger.Error("FetchPage: failed to flush victim frame", zap.Error(err))
		return nil, false
	}

	fr := m.frames[fid]
	fr.Reset()
	if err := m.disk.ReadPage(id, fr.Data()); err != nil {
		m.logger.Error("FetchPage: disk read failed", zap.Int32("page_id", int32(id)), zap.Error(err))
		return nil, false
	}
	fr.SetID(id)
	fr.Pin()
	fr.SetDirty(false)

	m.pageTable[id] = fid
	m.logger.Debug("FetchPage: loaded from disk", zap.Int32("page_id", int32(id)), zap.Int32("frame_id", int32(fid)))
	return fr, true
}

// UnpinPage decrements id's pin count, ORing isDirty into its dirty flag.
// Returns false if the page is not resident. Unpinning a frame already at
// pin count zero is a caller bug; the count saturates rather than
// underflows and the bug is surfaced only as a warning log, not a
// changed return value.
func (m *Manager) UnpinPage(id page.ID, isDirty bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	fid, ok := m.pageTable[id]
	if !ok {
		return false
	}
	fr := m.frames[fid]
	if isDirty {
		fr.SetDirty(true)
	}
	if fr.PinCount() == 0 {
		m.logger.Warn("UnpinPage: unbalanced unpin, pin count already zero", zap.Int32("page_id", int32(id)))
	}
	fr.Unpin()
	if fr.PinCount() == 0 {
		m.replacer.Unpin(fid)
	}
	return true
}

// FlushPage writes id's page to disk if dirty. Returns false if not
// resident. It deliberately does not clear the dirty flag afterward, so
// a subsequent eviction will rewrite the same bytes.
func (m *Manager) FlushPage(id page.ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	fid, ok := m.pageTable[id]
	if !ok {
		return false
	}
	fr := m.frames[fid]
	if fr.IsDirty() {
		if err := m.disk.WritePage(id, fr.Data()); err != nil {
			m.logger.Error("FlushPage: write failed", zap.Int32("page_id", int32(id)), zap.Error(err))
			return false
		}
		m.metrics.IncPoolFlush()
	}
	return true
}

// FlushAllPages writes every resident dirty page to disk.
func (m *Manager) FlushAllPages() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, fid := range m.pageTable {
		fr := m.frames[fid]
		if !fr.IsDirty() {
			continue
		}
		if err := m.disk.WritePage(id, fr.Data()); err != nil {
			m.logger.Error("FlushAllPages: write failed", zap.Int32("page_id", int32(id)), zap.Error(err))
			continue
		}
		m.metrics.IncPoolFlush()
	}
}

// DeletePage removes id from the pool and returns its frame to the free
// list. Returns true if the page was absent (a no-op) or was resident
// with pin_count==0; returns false if it is currently pinned.
func (m *Manager) DeletePage(id page.ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	fid, ok := m.pageTable[id]
	if !ok {
		return true
	}
	fr := m.frames[fid]
	if fr.PinCount() != 0 {
		return false
	}
	if fr.IsDirty() {
		if err := m.disk.WritePage(id, fr.Data()); err != nil {
			m.logger.Error("DeletePage: flush failed", zap.Int32("page_id", int32(id)), zap.Error(err))
			return false
		}
		m.metrics.IncPoolFlush()
	}
	_ = m.disk.DeallocatePage(id)

	fr.Reset()
	delete(m.pageTable, id)
	m.freeList = append(m.freeList, fid)
	m.replacer.Pin(fid) // ensure it is not left as a victim candidate
	return true
}

// PageSize returns the configured page size for frames in this pool.
func (m *Manager) PageSize() int { return page.Size }

// Stats is a point-in-time snapshot of pool occupancy, used by tests and
// by the Prometheus gauges callers may choose to wire up externally.
type Stats struct {
	PoolSize     int
	PagesInUse   int
	FreeFrames   int
	ReplacerSize int
}

// Stats returns a snapshot of the pool's current occupancy.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		PoolSize:     m.poolSize,
		PagesInUse:   len(m.pageTable),
		FreeFrames:   len(m.freeList),
		ReplacerSize: m.replacer.Size(),
	}
}
