package hashindex

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qujihan/storagecore/buffer"
	"github.com/qujihan/storagecore/disk"
	"github.com/qujihan/storagecore/page"
)

// identityHash lets the seed scenarios reproduce known, deterministic
// directory/bucket layouts by assuming hash(key) == key.
func identityHash(k int) uint64 { return uint64(uint32(k)) }

func newTestBPM(t *testing.T, poolSize int) *buffer.Manager {
	t.Helper()
	d, err := disk.NewManager(filepath.Join(t.TempDir(), "data.db"), page.Size)
	require.NoError(t, err)
	return buffer.New(poolSize, 1, 0, d, nil, nil)
}

func newTestTable(t *testing.T, capacity int) *Table[int, int] {
	t.Helper()
	bpm := newTestBPM(t, 64)
	table, err := NewTableWithCapacity("test", bpm, intCodec(), identityHash, capacity, nil, nil)
	require.NoError(t, err)
	return table
}

// S3 — Hash insert/get with BUCKET_ARRAY_SIZE=4.
func TestHashTable_SeedScenarioS3(t *testing.T) {
	tbl := newTestTable(t, 4)

	require.True(t, tbl.Insert(1, 10))
	require.True(t, tbl.Insert(2, 20))
	require.True(t, tbl.Insert(3, 30))
	require.True(t, tbl.Insert(4, 40))

	assert.ElementsMatch(t, []int{20}, tbl.GetValue(2))

	require.True(t, tbl.Insert(5, 50))
	assert.Equal(t, uint32(1), tbl.GlobalDepth())

	for k, v := range map[int]int{1: 10, 2: 20, 3: 30, 4: 40, 5: 50} {
		assert.ElementsMatch(t, []int{v}, tbl.GetValue(k), "key %d", k)
	}
	require.NoError(t, tbl.VerifyIntegrity())
}

// S4 — Duplicate rejection.
func TestHashTable_SeedScenarioS4(t *testing.T) {
	tbl := newTestTable(t, 4)

	require.True(t, tbl.Insert(1, 10))
	assert.False(t, tbl.Insert(1, 10), "exact duplicate (key,value) must be rejected")
	assert.True(t, tbl.Insert(1, 11))

	assert.ElementsMatch(t, []int{10, 11}, tbl.GetValue(1))
}

// S5 — Split directory doubling with BUCKET_ARRAY_SIZE=2.
func TestHashTable_SeedScenarioS5(t *testing.T) {
	tbl := newTestTable(t, 2)

	require.True(t, tbl.Insert(0, 0))
	require.True(t, tbl.Insert(2, 0))

	require.True(t, tbl.Insert(4, 0))
	assert.GreaterOrEqual(t, tbl.GlobalDepth(), uint32(1))

	assert.ElementsMatch(t, []int{0}, tbl.GetValue(0))
	assert.ElementsMatch(t, []int{0}, tbl.GetValue(2))
	assert.ElementsMatch(t, []int{0}, tbl.GetValue(4))
	require.NoError(t, tbl.VerifyIntegrity())
}

// S6 — Remove and merge: after the S3 split (global_depth=1, odd keys
// routed to the new bucket under identity hash), removing every odd
// key empties that bucket and Merge folds the directory back down.
func TestHashTable_SeedScenarioS6(t *testing.T) {
	tbl := newTestTable(t, 4)
	require.True(t, tbl.Insert(1, 10))
	require.True(t, tbl.Insert(2, 20))
	require.True(t, tbl.Insert(3, 30))
	require.True(t, tbl.Insert(4, 40))
	require.True(t, tbl.Insert(5, 50))
	require.Equal(t, uint32(1), tbl.GlobalDepth())

	require.True(t, tbl.Remove(1, 10))
	require.True(t, tbl.Remove(3, 30))
	require.True(t, tbl.Remove(5, 50))

	assert.Equal(t, uint32(0), tbl.GlobalDepth(), "directory should shrink back to depth 0 once the odd-key bucket empties")
	assert.Empty(t, tbl.GetValue(1))
	assert.Empty(t, tbl.GetValue(3))
	assert.Empty(t, tbl.GetValue(5))
	assert.ElementsMatch(t, []int{20}, tbl.GetValue(2))
	assert.ElementsMatch(t, []int{40}, tbl.GetValue(4))
	require.NoError(t, tbl.VerifyIntegrity())
}

func TestHashTable_RemoveOfAbsentEntryReturnsFalse(t *testing.T) {
	tbl := newTestTable(t, 4)
	require.True(t, tbl.Insert(1, 10))
	assert.False(t, tbl.Remove(1, 999))
	assert.False(t, tbl.Remove(999, 1))
}

func TestHashTable_ConcurrentInsertAndGetValue(t *testing.T) {
	tbl := newTestTable(t, 4)
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			tbl.Insert(k, k*10)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 200; i++ {
		assert.ElementsMatch(t, []int{i * 10}, tbl.GetValue(i), "key %d", i)
	}
	require.NoError(t, tbl.VerifyIntegrity())
}
