package buffer

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qujihan/storagecore/disk"
	"github.com/qujihan/storagecore/page"
)

func newTestManager(t *testing.T, poolSize int) *Manager {
	t.Helper()
	d, err := disk.NewManager(filepath.Join(t.TempDir(), "data.db"), page.Size)
	require.NoError(t, err)
	return New(poolSize, 1, 0, d, nil, nil)
}

// pool_size=3, a NewPage/Unpin/FetchPage interleaving with a known
// victim-selection and flush outcome.
func TestBufferPool_SeedScenarioS2(t *testing.T) {
	bpm := newTestManager(t, 3)

	p0, ok := bpm.NewPage()
	require.True(t, ok)
	id0 := p0.ID()

	p1, ok := bpm.NewPage()
	require.True(t, ok)
	id1 := p1.ID()

	p2, ok := bpm.NewPage()
	require.True(t, ok)
	_ = p2

	require.True(t, bpm.UnpinPage(id0, true))
	require.True(t, bpm.UnpinPage(id1, false))

	p3, ok := bpm.NewPage()
	require.True(t, ok)
	assert.NotEqual(t, id0, p3.ID())
	assert.NotEqual(t, id1, p3.ID())

	got0, ok := bpm.FetchPage(id0)
	require.True(t, ok)
	assert.Equal(t, id0, got0.ID())
}

func TestBufferPool_FetchPageIsPoolHitWhenResident(t *testing.T) {
	bpm := newTestManager(t, 2)

	p0, ok := bpm.NewPage()
	require.True(t, ok)
	id0 := p0.ID()
	require.True(t, bpm.UnpinPage(id0, false))

	got, ok := bpm.FetchPage(id0)
	require.True(t, ok)
	assert.Equal(t, id0, got.ID())
	assert.Equal(t, uint32(1), got.PinCount())
}

func TestBufferPool_NewPageFailsWhenAllFramesPinned(t *testing.T) {
	bpm := newTestManager(t, 2)

	_, ok := bpm.NewPage()
	require.True(t, ok)
	_, ok = bpm.NewPage()
	require.True(t, ok)

	_, ok = bpm.NewPage()
	assert.False(t, ok, "all frames pinned and free list empty: allocation must fail")
}

func TestBufferPool_DeletePageRefusesWhilePinned(t *testing.T) {
	bpm := newTestManager(t, 2)

	p0, ok := bpm.NewPage()
	require.True(t, ok)
	id0 := p0.ID()

	assert.False(t, bpm.DeletePage(id0), "must refuse to delete a pinned page")

	require.True(t, bpm.UnpinPage(id0, false))
	assert.True(t, bpm.DeletePage(id0))
}

func TestBufferPool_DeletePageOfAbsentPageIsNoop(t *testing.T) {
	bpm := newTestManager(t, 2)
	assert.True(t, bpm.DeletePage(page.ID(999)))
}

func TestBufferPool_UnpinPageReturnsFalseWhenNotResident(t *testing.T) {
	bpm := newTestManager(t, 2)
	assert.False(t, bpm.UnpinPage(page.ID(999), false))
}

func TestBufferPool_DirtyPageIsFlushedBeforeEviction(t *testing.T) {
	bpm := newTestManager(t, 1)

	p0, ok := bpm.NewPage()
	require.True(t, ok)
	id0 := p0.ID()
	copy(p0.Data(), []byte("hello"))
	require.True(t, bpm.UnpinPage(id0, true))

	p1, ok := bpm.NewPage()
	require.True(t, ok)
	require.True(t, bpm.UnpinPage(p1.ID(), false))

	got, ok := bpm.FetchPage(id0)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), got.Data()[:5])
}

func TestBufferPool_AllocatePageStripesAcrossInstances(t *testing.T) {
	d, err := disk.NewManager(filepath.Join(t.TempDir(), "data.db"), page.Size)
	require.NoError(t, err)

	a := New(4, 2, 0, d, nil, nil)
	b := New(4, 2, 1, d, nil, nil)

	assert.Equal(t, page.ID(0), a.AllocatePage())
	assert.Equal(t, page.ID(1), b.AllocatePage())
	assert.Equal(t, page.ID(2), a.AllocatePage())
	assert.Equal(t, page.ID(3), b.AllocatePage())
}

func TestBufferPool_Stats(t *testing.T) {
	bpm := newTestManager(t, 3)
	s := bpm.Stats()
	assert.Equal(t, 3, s.PoolSize)
	assert.Equal(t, 0, s.PagesInUse)
	assert.Equal(t, 3, s.FreeFrames)

	p0, ok := bpm.NewPage()
	require.True(t, ok)
	s = bpm.Stats()
	assert.Equal(t, 1, s.PagesInUse)
	assert.Equal(t, 2, s.FreeFrames)

	require.True(t, bpm.UnpinPage(p0.ID(), false))
	s = bpm.Stats()
	assert.Equal(t, 1, s.ReplacerSize)
}
