package hashindex

import (
	"encoding/binary"
	"fmt"

	"github.com/qujihan/storagecore/page"
)

// MaxDepth bounds the directory's global depth, fixing its maximum live
// size at 1<<MaxDepth slots. Published per the binary layout contract;
// changing it changes the on-disk format.
const MaxDepth = 9

// DirectorySlots is the fixed capacity of the bucket_page_ids and
// local_depths arrays, regardless of the current global depth.
const DirectorySlots = 1 << MaxDepth

// directoryEncodedSize is the exact byte length of an encoded directory
// page: page_id (int32) + global_depth (uint32) + bucket_page_ids
// ([DirectorySlots]int32) + local_depths ([DirectorySlots]uint8).
const directoryEncodedSize = 4 + 4 + DirectorySlots*4 + DirectorySlots

// DirectoryPage is the typed view over a directory page's byte buffer.
// It owns a decoded copy of the page; callers re-encode it into the
// backing Page after mutation (see Encode).
type DirectoryPage struct {
	PageID        page.ID
	GlobalDepth   uint32
	BucketPageIDs [DirectorySlots]page.ID
	LocalDepths   [DirectorySlots]uint8
}

// NewDirectoryPage builds a fresh directory with every slot pointing at
// invalid pages and depth zero, ready to have slot 0 populated by the
// table's creation sequence.
func NewDirectoryPage(id page.ID) *DirectoryPage {
	d := &DirectoryPage{PageID: id}
	for i := range d.BucketPageIDs {
		d.BucketPageIDs[i] = page.InvalidID
	}
	return d
}

// DecodeDirectoryPage parses a page's raw bytes into a DirectoryPage.
func DecodeDirectoryPage(buf []byte) (*DirectoryPage, error) {
	if len(buf) < directoryEncodedSize {
		return nil, fmt.Errorf("hashindex: directory buffer too small: %d < %d", len(buf), directoryEncodedSize)
	}
	d := &DirectoryPage{}
	off := 0
	d.PageID = page.ID(int32(binary.LittleEndian.Uint32(buf[off:])))
	off += 4
	d.GlobalDepth = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	for i := 0; i < DirectorySlots; i++ {
		d.BucketPageIDs[i] = page.ID(int32(binary.LittleEndian.Uint32(buf[off:])))
		off += 4
	}
	for i := 0; i < DirectorySlots; i++ {
		d.LocalDepths[i] = buf[off]
		off++
	}
	return d, nil
}

// Encode writes the directory's current state back into buf, which must
// be at least directoryEncodedSize bytes (a full page buffer qualifies).
func (d *DirectoryPage) Encode(buf []byte) error {
	if len(buf) < directoryEncodedSize {
		return fmt.Errorf("hashindex: directory buffer too small: %d < %d", len(buf), directoryEncodedSize)
	}
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], uint32(int32(d.PageID)))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], d.GlobalDepth)
	off += 4
	for i := 0; i < DirectorySlots; i++ {
		binary.LittleEndian.PutUint32(buf[off:], uint32(int32(d.BucketPageIDs[i])))
		off += 4
	}
	for i := 0; i < DirectorySlots; i++ {
		buf[off] = d.LocalDepths[i]
		off++
	}
	return nil
}

// Size is the directory's current live size, 2^global_depth.
func (d *DirectoryPage) Size() uint32 {
	return 1 << d.GlobalDepth
}

// GetGlobalDepthMask returns (1<<global_depth)-1.
func (d *DirectoryPage) GetGlobalDepthMask() uint32 {
	return d.Size() - 1
}

// GetLocalDepthMask returns (1<<local_depths[i])-1.
func (d *DirectoryPage) GetLocalDepthMask(i uint32) uint32 {
	return (1 << d.LocalDepths[i]) - 1
}

// GetSplitImageIndex returns the sibling index of i at its current local
// depth: i XOR (1<<(local_depth-1)). Callers must not call this when
// local_depths[i] == 0 (there is no split image at the root fan-out).
func (d *DirectoryPage) GetSplitImageIndex(i uint32) uint32 {
	ld := d.LocalDepths[i]
	if ld == 0 {
		return i
	}
	return i ^ (1 << (ld - 1))
}

// CanShrink reports whether every live slot's local depth is strictly
// less than the global depth, the precondition for halving the
// directory in Merge.
func (d *DirectoryPage) CanShrink() bool {
	n := d.Size()
	for i := uint32(0); i < n; i++ {
		if d.LocalDepths[i] >= uint8(d.GlobalDepth) {
			return false
		}
	}
	return true
}

// VerifyIntegrity checks the directory invariants from the data model:
// every live local depth bounded by the global depth, and any two slots
// congruent modulo 2^min(local depths) with equal local depth pointing
// at the same bucket. Diagnostic only; never called on the hot path.
func (d *DirectoryPage) VerifyIntegrity() error {
	n := d.Size()
	for i := uint32(0); i < n; i++ {
		if uint32(d.LocalDepths[i]) > d.GlobalDepth {
			return fmt.Errorf("hashindex: directory slot %d has local depth %d exceeding global depth %d", i, d.LocalDepths[i], d.GlobalDepth)
		}
	}
	for i := uint32(0); i < n; i++ {
		for j := i + 1; j < n; j++ {
			if d.LocalDepths[i] != d.LocalDepths[j] {
				continue
			}
			mask := d.GetLocalDepthMask(i)
			if (i & mask) != (j & mask) {
				continue
			}
			if d.BucketPageIDs[i] != d.BucketPageIDs[j] {
				return fmt.Errorf("hashindex: directory slots %d and %d share local depth %d and congruence class but point at different buckets (%d vs %d)",
					i, j, d.LocalDepths[i], d.BucketPageIDs[i], d.BucketPageIDs[j])
			}
		}
	}
	return nil
}

// String renders a compact human-readable view of the live directory,
// for debugging and test failure output.
func (d *DirectoryPage) String() string {
	n := d.Size()
	s := fmt.Sprintf("Directory{page_id=%d, global_depth=%d, size=%d}\n", d.PageID, d.GlobalDepth, n)
	for i := uint32(0); i < n; i++ {
		s += fmt.Sprintf("  [%d] bucket=%d local_depth=%d\n", i, d.BucketPageIDs[i], d.LocalDepths[i])
	}
	return s
}
