// Package bitmap implements the on-disk allocation bitmap: one bit per
// page, reconstructed at open from "protected" pages embedded in the page
// file itself and written back at checkpoint/close.
//
// It is grounded on the teacher's internal/storage/pager.FreeListPage /
// FreeManager (a free-page-id list chained across pages, loaded into an
// in-memory set at open and flushed back at checkpoint) generalized from
// "list of free page ids" to "one bit per page, embedded on protected
// pages at fixed offsets" as spec.md §4.2 requires.
package bitmap

import (
	"github.com/vantadb/storecore/internal/errkind"
	"github.com/vantadb/storecore/internal/pagefile"
)

// BitsPerPage returns how many page-bits fit on one protected page: one
// bit per byte-bit, i.e. 8 * pageSize.
func BitsPerPage(pageSize int) uint64 {
	return uint64(pageSize) * 8
}

// IsProtected reports whether pageId is a multiple of bitsPerPage and
// therefore reserved for bitmap storage; it must never be handed out as
// a user page.
func IsProtected(pageId pagefile.PageID, pageSize int) bool {
	return uint64(pageId)%BitsPerPage(pageSize) == 0
}

// AllocationBitmap is the in-memory mirror of every allocation bit; bit i
// is 1 iff page i currently holds user data.
type AllocationBitmap struct {
	pageSize int
	bits     []byte // packed, page i -> bits[i/8] bit (i%8)
	numPages uint64 // length the bitmap currently tracks
}

// New creates an empty bitmap sized for zero pages; Grow extends it as
// the page file grows.
func New(pageSize int) *AllocationBitmap {
	return &AllocationBitmap{pageSize: pageSize}
}

// Grow extends the bitmap so it can address pages up to (but excluding)
// numPages, zero-filling any newly addressable bits.
func (b *AllocationBitmap) Grow(numPages uint64) {
	if numPages <= b.numPages {
		return
	}
	need := (numPages + 7) / 8
	if uint64(len(b.bits)) < need {
		grown := make([]byte, need)
		copy(grown, b.bits)
		b.bits = grown
	}
	b.numPages = numPages
}

// Get reports whether pageId is currently marked allocated.
func (b *AllocationBitmap) Get(pageId pagefile.PageID) bool {
	i := uint64(pageId)
	if i >= b.numPages {
		return false
	}
	return b.bits[i/8]&(1<<(i%8)) != 0
}

// Set marks pageId allocated (true) or free (false).
func (b *AllocationBitmap) Set(pageId pagefile.PageID, allocated bool) {
	i := uint64(pageId)
	if i >= b.numPages {
		b.Grow(i + 1)
	}
	if allocated {
		b.bits[i/8] |= 1 << (i % 8)
	} else {
		b.bits[i/8] &^= 1 << (i % 8)
	}
}

// FreePages returns every non-protected page id below size that is
// currently marked free, in ascending order. Callers (the buffer pool)
// partition this list by pageId mod numberOfPartitions.
func (b *AllocationBitmap) FreePages(size uint64) []pagefile.PageID {
	var free []pagefile.PageID
	for i := uint64(0); i < size; i++ {
		pid := pagefile.PageID(i)
		if IsProtected(pid, b.pageSize) {
			continue
		}
		if !b.Get(pid) {
			free = append(free, pid)
		}
	}
	return free
}

// protectedPageIDs returns every protected page index below numPages, in
// ascending order: 0, bitsPerPage, 2*bitsPerPage, ...
func protectedPageIDs(numPages uint64, pageSize int) []pagefile.PageID {
	bpp := BitsPerPage(pageSize)
	var ids []pagefile.PageID
	for pid := uint64(0); pid < numPages; pid += bpp {
		ids = append(ids, pagefile.PageID(pid))
	}
	return ids
}

// Load reconstructs the bitmap by reading every protected page of pf in
// order, up to pf.Size(). Bits set beyond pf.Size() in a partially-filled
// trailing protected page are ignored.
func Load(pf *pagefile.PageFile) (*AllocationBitmap, error) {
	const op = "bitmap.Load"
	size := pf.Size()
	b := New(pf.PageSize())
	if size == 0 {
		return b, nil
	}
	b.Grow(size)

	bpp := BitsPerPage(pf.PageSize())
	buf := make([]byte, pf.PageSize())
	for _, protPid := range protectedPageIDs(size, pf.PageSize()) {
		if err := pf.Read(protPid, buf); err != nil {
			return nil, errkind.Wrap(op, errkind.StorageUnexpectedRead, err)
		}

		base := uint64(protPid)
		// bit 0 of this protected page always describes the protected
		// page itself; it is not a real allocation but must read back
		// as "in use" so it never appears on a free list.
		for bitIdx := uint64(0); bitIdx < bpp; bitIdx++ {
			pid := base + bitIdx
			if pid >= size {
				break
			}
			byteVal := buf[bitIdx/8]
			set := byteVal&(1<<(bitIdx%8)) != 0
			if pid == base {
				set = true
			}
			if set {
				b.bits[pid/8] |= 1 << (pid % 8)
			}
		}
	}
	return b, nil
}

// Flush writes the bitmap back to the same protected pages it was loaded
// from (or will occupy, for a freshly created storage).
func (b *AllocationBitmap) Flush(pf *pagefile.PageFile) error {
	const op = "bitmap.Flush"
	size := pf.Size()
	if size == 0 {
		return nil
	}
	b.Grow(size)

	bpp := BitsPerPage(pf.PageSize())
	buf := make([]byte, pf.PageSize())
	for _, protPid := range protectedPageIDs(size, pf.PageSize()) {
		for i := range buf {
			buf[i] = 0
		}
		base := uint64(protPid)
		for bitIdx := uint64(0); bitIdx < bpp; bitIdx++ {
			pid := base + bitIdx
			if pid >= size {
				break
			}
			if b.bits[pid/8]&(1<<(pid%8)) != 0 {
				buf[bitIdx/8] |= 1 << (bitIdx % 8)
			}
		}
		if err := pf.Write(protPid, buf); err != nil {
			return errkind.Wrap(op, errkind.StorageUnexpectedWrite, err)
		}
	}
	return nil
}
