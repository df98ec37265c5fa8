package replacer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qujihan/storagecore/page"
)

// Replacer size 3, a specific unpin/victim interleaving with a known
// expected eviction order.
func TestLRU_SeedScenarioS1(t *testing.T) {
	r := New(3)

	r.Unpin(1)
	r.Unpin(2)
	r.Unpin(3)

	fid, ok := r.Victim()
	require.True(t, ok)
	assert.Equal(t, page.FrameID(1), fid)

	fid, ok = r.Victim()
	require.True(t, ok)
	assert.Equal(t, page.FrameID(2), fid)

	r.Unpin(1)
	r.Unpin(4)

	fid, ok = r.Victim()
	require.True(t, ok)
	assert.Equal(t, page.FrameID(3), fid)

	fid, ok = r.Victim()
	require.True(t, ok)
	assert.Equal(t, page.FrameID(1), fid)

	fid, ok = r.Victim()
	require.True(t, ok)
	assert.Equal(t, page.FrameID(4), fid)

	_, ok = r.Victim()
	assert.False(t, ok)
}

func TestLRU_PinRemovesFromQueue(t *testing.T) {
	r := New(2)
	r.Unpin(1)
	r.Unpin(2)

	r.Pin(1)
	assert.Equal(t, 1, r.Size())

	fid, ok := r.Victim()
	require.True(t, ok)
	assert.Equal(t, page.FrameID(2), fid)
}

func TestLRU_PinOfAbsentFrameIsNoop(t *testing.T) {
	r := New(1)
	r.Pin(99)
	assert.Equal(t, 0, r.Size())
}

// Property 7: repeated Unpin on an already-unpinned frame is idempotent
// and must not reorder the queue.
func TestLRU_UnpinIsIdempotentAndDoesNotReorder(t *testing.T) {
	r := New(3)
	r.Unpin(1)
	r.Unpin(2)
	r.Unpin(3)

	r.Unpin(1) // already queued: no-op, no reorder
	r.Unpin(2)

	fid, ok := r.Victim()
	require.True(t, ok)
	assert.Equal(t, page.FrameID(1), fid, "repeated unpin must not move frame 1 to the back")
}

func TestLRU_ConcurrentUnpinPin(t *testing.T) {
	r := New(100)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(fid page.FrameID) {
			defer wg.Done()
			r.Unpin(fid)
			r.Pin(fid)
			r.Unpin(fid)
		}(page.FrameID(i))
	}
	wg.Wait()
	assert.Equal(t, 100, r.Size())
}
