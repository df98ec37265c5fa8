// Package hashindex implements a concurrent extendible hash index
// persisted as pages through a buffer pool: a single directory page
// indexing up to 2^global_depth bucket pages, each a bit-packed
// open-addressed array. Supports GetValue, Insert (with recursive
// split-on-overflow) and Remove (with merge-on-empty).
package hashindex

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/qujihan/storagecore/buffer"
	"github.com/qujihan/storagecore/hashfn"
	"github.com/qujihan/storagecore/logging"
	"github.com/qujihan/storagecore/metrics"
	"github.com/qujihan/storagecore/page"
)

// Table is a concurrent extendible hash table over key type K and value
// type V, both abstracted via Codec and a hash function per the core's
// external interface contract.
type Table[K, V any] struct {
	name   string
	bpm    *buffer.Manager
	codec  Codec[K, V]
	hashFn hashfn.Func[K]

	bucketCapacity int
	dirPageID      page.ID

	tableLatch sync.RWMutex

	logger  *zap.Logger
	metrics *metrics.Collectors
}

// NewTable creates a fresh table backed by bpm, sizing its bucket
// capacity from bpm's page size and codec's (K,V) width. name defaults
// to a generated uuid when empty.
func NewTable[K, V any](name string, bpm *buffer.Manager, codec Codec[K, V], hashFn hashfn.Func[K], logger *zap.Logger, metricsCollectors *metrics.Collectors) (*Table[K, V], error) {
	capacity := BucketArraySize(bpm.PageSize(), codec.kvSize())
	return NewTableWithCapacity(name, bpm, codec, hashFn, capacity, logger, metricsCollectors)
}

// NewTableWithCapacity is NewTable with an explicit bucket capacity,
// overriding the page-size-derived default. Primarily useful for tests
// that exercise split/merge behavior at a small, deterministic
// BUCKET_ARRAY_SIZE without requiring a tiny backing page size.
func NewTableWithCapacity[K, V any](name string, bpm *buffer.Manager, codec Codec[K, V], hashFn hashfn.Func[K], capacity int, logger *zap.Logger, metricsCollectors *metrics.Collectors) (*Table[K, V], error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if name == "" {
		name = uuid.NewString()
	}

	dirPage, ok := bpm.NewPage()
	if !ok {
		return nil, fmt.Errorf("%w: table %q directory page", ErrAllocationFailed, name)
	}
	bucketPage, ok := bpm.NewPage()
	if !ok {
		bpm.UnpinPage(dirPage.ID(), false)
		bpm.DeletePage(dirPage.ID())
		return nil, fmt.Errorf("%w: table %q first bucket page", ErrAllocationFailed, name)
	}

	dir := NewDirectoryPage(dirPage.ID())
	dir.BucketPageIDs[0] = bucketPage.ID()
	dir.LocalDepths[0] = 0
	dir.GlobalDepth = 0
	if err := dir.Encode(dirPage.Data()); err != nil {
		return nil, err
	}

	bpm.UnpinPage(dirPage.ID(), true)
	bpm.UnpinPage(bucketPage.ID(), true)

	t := &Table[K, V]{
		name:           name,
		bpm:            bpm,
		codec:          codec,
		hashFn:         hashFn,
		bucketCapacity: capacity,
		dirPageID:      dirPage.ID(),
		logger:         logger,
		metrics:        metricsCollectors,
	}
	t.logger.Info("hashindex: table created",
		zap.String("name", name),
		zap.Int32("directory_page_id", int32(t.dirPageID)),
		zap.Int("bucket_capacity", t.bucketCapacity))
	return t, nil
}

// Name returns the table's name.
func (t *Table[K, V]) Name() string { return t.name }

// BucketCapacity returns BUCKET_ARRAY_SIZE as computed for this table's
// (K,V) codec and the buffer pool's page size.
func (t *Table[K, V]) BucketCapacity() int { return t.bucketCapacity }

func (t *Table[K, V]) dirIndexFor(dir *DirectoryPage, key K) uint32 {
	h := t.hashFn(key)
	return uint32(h) & dir.GetGlobalDepthMask()
}

// withDirectory fetches and decodes the directory page under a shared
// table latch, runs fn, and unpins clean. Used by read-only diagnostics.
func (t *Table[K, V]) withDirectory(fn func(dir *DirectoryPage)) {
	t.tableLatch.RLock()
	defer t.tableLatch.RUnlock()

	dirPage, ok := t.bpm.FetchPage(t.dirPageID)
	if !ok {
		return
	}
	defer t.bpm.UnpinPage(t.dirPageID, false)

	dir, err := DecodeDirectoryPage(dirPage.Data())
	if err != nil {
		t.logger.Error("hashindex: directory decode failed", zap.Error(fmt.Errorf("%w: %v", ErrPageDecodeFailed, err)))
		return
	}
	fn(dir)
}

// GlobalDepth returns the directory's current global depth.
func (t *Table[K, V]) GlobalDepth() uint32 {
	var gd uint32
	t.withDirectory(func(d *DirectoryPage) { gd = d.GlobalDepth })
	return gd
}

// VerifyIntegrity checks the directory invariants (see DirectoryPage).
func (t *Table[K, V]) VerifyIntegrity() error {
	var err error
	t.withDirectory(func(d *DirectoryPage) { err = d.VerifyIntegrity() })
	return err
}

// String renders the live directory for debugging.
func (t *Table[K, V]) String() string {
	var s string
	t.withDirectory(func(d *DirectoryPage) { s = d.String() })
	return s
}

// GetValue returns the values of every entry stored under key.
func (t *Table[K, V]) GetValue(key K) []V {
	t.tableLatch.RLock()
	defer t.tableLatch.RUnlock()

	dirGuard, ok := buffer.FetchPageGuarded(t.bpm, t.dirPageID)
	if !ok {
		return nil
	}
	defer dirGuard.Unpin()

	dir, err := DecodeDirectoryPage(dirGuard.Page().Data())
	if err != nil {
		t.logger.Error("hashindex: GetValue directory decode failed", zap.Error(fmt.Errorf("%w: %v", ErrPageDecodeFailed, err)))
		return nil
	}

	index := t.dirIndexFor(dir, key)
	bucketID := dir.BucketPageIDs[index]

	bucketGuard, ok := buffer.FetchPageGuarded(t.bpm, bucketID)
	if !ok {
		return nil
	}
	defer bucketGuard.Unpin()

	bucketPage := bucketGuard.Page()
	bucketPage.RLock()
	var out []V
	bucket, err := DecodeBucketPage[K, V](bucketPage.Data(), t.bucketCapacity, t.codec)
	if err != nil {
		t.logger.Error("hashindex: GetValue bucket decode failed", zap.Error(fmt.Errorf("%w: %v", ErrPageDecodeFailed, err)))
	} else {
		out = bucket.GetValue(key, t.codec)
	}
	bucketPage.RUnlock()

	return out
}

// Insert adds (key,value), splitting buckets as needed, and returns true
// once it is stored. Returns false for a duplicate (key,value) pair
// already present, and also when the entry cannot be placed: a page
// could not be fetched or allocated, a page failed to decode, or the
// split depth bound was reached.
func (t *Table[K, V]) Insert(key K, value V) bool {
	ok, overflow, fetchFailed := t.insertFastPath(key, value)
	if fetchFailed {
		t.logger.Warn("hashindex: Insert could not fetch a page, buffer pool exhausted")
		return false
	}
	if ok {
		t.metrics.IncHashInsert()
		return true
	}
	if !overflow {
		t.metrics.IncHashDuplicate()
		return false
	}
	return t.SplitInsert(key, value)
}

// insertFastPath attempts a single-bucket insert under a shared table
// latch and the bucket's exclusive page latch. overflow is true only
// when the bucket had no free slot and no matching duplicate. fetchFailed
// is true when a page could not be fetched at all (pool exhaustion), a
// transient failure distinct from a true duplicate: callers must not
// treat it as one.
func (t *Table[K, V]) insertFastPath(key K, value V) (ok bool, overflow bool, fetchFailed bool) {
	t.tableLatch.RLock()
	defer t.tableLatch.RUnlock()

	dirGuard, found := buffer.FetchPageGuarded(t.bpm, t.dirPageID)
	if !found {
		return false, false, true
	}
	defer dirGuard.Unpin()

	dir, err := DecodeDirectoryPage(dirGuard.Page().Data())
	if err != nil {
		t.logger.Error("hashindex: Insert directory decode failed", zap.Error(fmt.Errorf("%w: %v", ErrPageDecodeFailed, err)))
		return false, false, false
	}

	index := t.dirIndexFor(dir, key)
	bucketID := dir.BucketPageIDs[index]

	bucketGuard, found := buffer.FetchPageGuarded(t.bpm, bucketID)
	if !found {
		return false, false, true
	}
	defer bucketGuard.Unpin()

	bucketPage := bucketGuard.Page()
	bucketPage.Lock()
	bucket, err := DecodeBucketPage[K, V](bucketPage.Data(), t.bucketCapacity, t.codec)
	var inserted, dup bool
	if err != nil {
		t.logger.Error("hashindex: Insert bucket decode failed", zap.Error(fmt.Errorf("%w: %v", ErrPageDecodeFailed, err)))
	} else {
		inserted, dup = bucket.Insert(key, value, t.codec)
		if inserted {
			_ = bucket.Encode(bucketPage.Data(), t.codec)
			bucketGuard.MarkDirty()
		}
	}
	bucketPage.Unlock()

	if inserted {
		return true, false, false
	}
	if dup {
		return false, false, false
	}
	return false, true, false
}

// SplitInsert handles the bucket-overflow path: it acquires the table
// latch exclusively and splits the overflowing bucket, recursing (bounded
// by MaxDepth) if the new entry still does not fit after one split. It
// returns false without splitting when the directory would have to grow
// past MaxDepth.
func (t *Table[K, V]) SplitInsert(key K, value V) bool {
	t.tableLatch.Lock()
	defer t.tableLatch.Unlock()
	return t.splitInsertLocked(key, value, 0)
}

func (t *Table[K, V]) splitInsertLocked(key K, value V, depth int) bool {
	if depth >= MaxDepth {
		t.logger.Warn("hashindex: SplitInsert recursion bound exceeded, cannot place key",
			zap.Error(fmt.Errorf("%w: depth %d", ErrSplitBoundExceeded, depth)))
		return false
	}

	dirPage, ok := t.bpm.FetchPage(t.dirPageID)
	if !ok {
		return false
	}
	dir, err := DecodeDirectoryPage(dirPage.Data())
	if err != nil {
		t.bpm.UnpinPage(t.dirPageID, false)
		t.logger.Error("hashindex: SplitInsert directory decode failed", zap.Error(fmt.Errorf("%w: %v", ErrPageDecodeFailed, err)))
		return false
	}

	index := t.dirIndexFor(dir, key)
	bucketID := dir.BucketPageIDs[index]

	bucketPage, ok := t.bpm.FetchPage(bucketID)
	if !ok {
		t.bpm.UnpinPage(t.dirPageID, false)
		return false
	}
	bucket, err := DecodeBucketPage[K, V](bucketPage.Data(), t.bucketCapacity, t.codec)
	if err != nil {
		t.bpm.UnpinPage(bucketID, false)
		t.bpm.UnpinPage(t.dirPageID, false)
		t.logger.Error("hashindex: SplitInsert bucket decode failed", zap.Error(fmt.Errorf("%w: %v", ErrPageDecodeFailed, err)))
		return false
	}

	// Re-check: another thread may have vacated a slot or the key may
	// already be present, both resolved without a split.
	if inserted, dup := bucket.Insert(key, value, t.codec); dup {
		t.bpm.UnpinPage(bucketID, false)
		t.bpm.UnpinPage(t.dirPageID, false)
		t.metrics.IncHashDuplicate()
		return false
	} else if inserted {
		_ = bucket.Encode(bucketPage.Data(), t.codec)
		t.bpm.UnpinPage(bucketID, true)
		t.bpm.UnpinPage(t.dirPageID, false)
		t.metrics.IncHashInsert()
		return true
	}

	oldGlobalDepth := dir.GlobalDepth
	localDepth := dir.LocalDepths[index]

	var newIndex uint32
	if uint32(localDepth) == oldGlobalDepth {
		if oldGlobalDepth >= MaxDepth {
			t.bpm.UnpinPage(bucketID, false)
			t.bpm.UnpinPage(t.dirPageID, false)
			t.logger.Warn("hashindex: SplitInsert directory at max depth, cannot place key",
				zap.Error(fmt.Errorf("%w: global depth %d", ErrSplitBoundExceeded, oldGlobalDepth)))
			return false
		}
		n := dir.Size()
		for i := uint32(0); i < n; i++ {
			dir.BucketPageIDs[i|(1<<oldGlobalDepth)] = dir.BucketPageIDs[i]
			dir.LocalDepths[i|(1<<oldGlobalDepth)] = dir.LocalDepths[i]
		}
		dir.GlobalDepth++
		newIndex = index | (1 << oldGlobalDepth)
	} else {
		newIndex = index ^ (1 << localDepth)
	}

	newBucketPage, ok := t.bpm.NewPage()
	if !ok {
		t.bpm.UnpinPage(bucketID, false)
		t.bpm.UnpinPage(t.dirPageID, false)
		return false
	}
	newBucketID := newBucketPage.ID()
	newBucket := NewBucketPage[K, V](t.bucketCapacity)

	newLocalDepth := localDepth + 1
	mask := uint32(1<<newLocalDepth) - 1

	for i := 0; i < bucket.Capacity; i++ {
		if !bucket.Readable[i] {
			continue
		}
		h := uint32(t.hashFn(bucket.Keys[i]))
		if (h & mask) != (newIndex & mask) {
			continue
		}
		ok, _ := newBucket.Insert(bucket.Keys[i], bucket.Values[i], t.codec)
		if ok {
			bucket.Readable[i] = false
		}
	}

	n := dir.Size()
	for i := uint32(0); i < n; i++ {
		if dir.BucketPageIDs[i] != bucketID {
			continue
		}
		if (i & mask) == (index & mask) {
			dir.BucketPageIDs[i] = bucketID
		} else {
			dir.BucketPageIDs[i] = newBucketID
		}
		dir.LocalDepths[i] = newLocalDepth
	}

	h := uint32(t.hashFn(key))
	var placed, placedDup bool
	if (h & mask) == (newIndex & mask) {
		placed, placedDup = newBucket.Insert(key, value, t.codec)
	} else {
		placed, placedDup = bucket.Insert(key, value, t.codec)
	}

	_ = bucket.Encode(bucketPage.Data(), t.codec)
	_ = newBucket.Encode(newBucketPage.Data(), t.codec)
	_ = dir.Encode(dirPage.Data())

	t.bpm.UnpinPage(bucketID, true)
	t.bpm.UnpinPage(newBucketID, true)
	t.bpm.UnpinPage(t.dirPageID, true)
	t.metrics.IncHashSplit()

	if placedDup {
		t.metrics.IncHashDuplicate()
		return false
	}
	if placed {
		t.metrics.IncHashInsert()
		return true
	}
	return t.splitInsertLocked(key, value, depth+1)
}

// Remove clears every slot matching (key,value). Returns true if any
// instance was removed, triggering a merge attempt.
func (t *Table[K, V]) Remove(key K, value V) bool {
	removed := t.removeLocked(key, value)
	if removed {
		t.Merge(key, value)
	}
	return removed
}

func (t *Table[K, V]) removeLocked(key K, value V) bool {
	t.tableLatch.Lock()
	defer t.tableLatch.Unlock()

	dirGuard, ok := buffer.FetchPageGuarded(t.bpm, t.dirPageID)
	if !ok {
		return false
	}
	defer dirGuard.Unpin()

	dir, err := DecodeDirectoryPage(dirGuard.Page().Data())
	if err != nil {
		t.logger.Error("hashindex: Remove directory decode failed", zap.Error(fmt.Errorf("%w: %v", ErrPageDecodeFailed, err)))
		return false
	}

	index := t.dirIndexFor(dir, key)
	bucketID := dir.BucketPageIDs[index]

	bucketGuard, ok := buffer.FetchPageGuarded(t.bpm, bucketID)
	if !ok {
		return false
	}
	defer bucketGuard.Unpin()

	bucketPage := bucketGuard.Page()
	bucketPage.Lock()
	bucket, err := DecodeBucketPage[K, V](bucketPage.Data(), t.bucketCapacity, t.codec)
	var flag bool
	if err != nil {
		t.logger.Error("hashindex: Remove bucket decode failed", zap.Error(fmt.Errorf("%w: %v", ErrPageDecodeFailed, err)))
	} else {
		flag = bucket.Remove(key, value, t.codec)
		if flag {
			_ = bucket.Encode(bucketPage.Data(), t.codec)
			bucketGuard.MarkDirty()
		}
	}
	bucketPage.Unlock()

	return flag
}

// Merge attempts, under an exclusive table latch, to reclaim the bucket
// addressed by key if it is empty: it retargets directory slots at the
// split image, deletes the emptied page, and repeatedly shrinks the
// directory while CanShrink() holds, chasing the split image.
func (t *Table[K, V]) Merge(key K, value V) {
	t.tableLatch.Lock()
	defer t.tableLatch.Unlock()

	dirPage, ok := t.bpm.FetchPage(t.dirPageID)
	if !ok {
		return
	}
	dir, err := DecodeDirectoryPage(dirPage.Data())
	if err != nil {
		t.bpm.UnpinPage(t.dirPageID, false)
		t.logger.Error("hashindex: Merge directory decode failed", zap.Error(fmt.Errorf("%w: %v", ErrPageDecodeFailed, err)))
		return
	}

	index := t.dirIndexFor(dir, key)
	dirty := false

	for {
		d := dir.LocalDepths[index]
		if d == 0 {
			break
		}

		bucketID := dir.BucketPageIDs[index]
		bucketPage, ok := t.bpm.FetchPage(bucketID)
		if !ok {
			break
		}
		bucket, err := DecodeBucketPage[K, V](bucketPage.Data(), t.bucketCapacity, t.codec)
		if err != nil {
			t.bpm.UnpinPage(bucketID, false)
			t.logger.Error("hashindex: Merge bucket decode failed", zap.Error(fmt.Errorf("%w: %v", ErrPageDecodeFailed, err)))
			break
		}
		if !bucket.IsEmpty() {
			t.bpm.UnpinPage(bucketID, false)
			break
		}

		splitImage := dir.GetSplitImageIndex(index)
		if dir.LocalDepths[splitImage] != d {
			t.bpm.UnpinPage(bucketID, false)
			break
		}

		siblingID := dir.BucketPageIDs[splitImage]
		newLocalDepth := d - 1
		n := dir.Size()
		for i := uint32(0); i < n; i++ {
			if dir.BucketPageIDs[i] == bucketID || dir.BucketPageIDs[i] == siblingID {
				dir.BucketPageIDs[i] = siblingID
				dir.LocalDepths[i] = newLocalDepth
			}
		}
		dirty = true

		t.bpm.UnpinPage(bucketID, false)
		t.bpm.DeletePage(bucketID)
		t.metrics.IncHashMerge()

		for dir.CanShrink() && dir.GlobalDepth > 0 {
			dir.GlobalDepth--
		}

		index = splitImage & dir.GetGlobalDepthMask()
	}

	if dirty {
		_ = dir.Encode(dirPage.Data())
	}
	t.bpm.UnpinPage(t.dirPageID, dirty)
}
