// Package bufferpool implements the partitioned, clock-sweep buffer pool
// that caches page-file pages in memory: pin/unpin/release/setPageDirty,
// allocation, checkpoint, and prefetch dispatch.
//
// It is grounded on three sources at once: the lock/publish discipline and
// slot-frame shape of the teacher's internal/storage/pager.PageBufferPool
// (partition lock released before the content lock is taken, residency
// published only after the I/O completes), the clock-sweep second-chance
// eviction of Johniel-gorelly/buffer.Frame.UsageCount (Evict() scans slots
// decrementing usage before evicting), and the per-partition hash-chained
// latch/ClockBit victim scan of ryogrid-bltree-go-for-embedding's
// bufmgr.go PinLatch (skip pinned candidates, decrement usage, evict on
// tie). NUMA-aware arena segmentation has no example-repo precedent; it
// is built directly against storecore/internal/numa.
package bufferpool

import (
	"sync"
	"sync/atomic"

	"github.com/vantadb/storecore/internal/bitmap"
	"github.com/vantadb/storecore/internal/errkind"
	"github.com/vantadb/storecore/internal/numa"
	"github.com/vantadb/storecore/internal/pagefile"
)

// BufferID indexes the in-memory slot array.
type BufferID uint32

// Dispatcher hands a prefetch body off to the task runtime, which owns
// worker selection (round-robin across workers, per spec.md §4.4); the
// pool itself never picks a worker.
type Dispatcher interface {
	DispatchPrefetch(fn func())
}

// Config mirrors spec.md §3's BufferPoolConfig.
type Config struct {
	PoolSizeKB         uint32
	PrefetchingDegree  int
	NumberOfPartitions int
}

// Statistics is the snapshot returned by GetStatistics.
type Statistics struct {
	ResidentSlots  int
	ReservedPages  uint64
	PageSize       int
	AllocatedPages uint64
}

// Handle is the pinned view of a resident page returned to callers.
type Handle struct {
	Buffer   []byte
	PageID   pagefile.PageID
	BufferID BufferID
}

type bufferDescriptor struct {
	mu             sync.RWMutex
	inUse          bool
	pageId         pagefile.PageID
	referenceCount uint32
	usageCount     uint32
	dirty          bool
	buffer         []byte
}

type partition struct {
	mu           sync.Mutex
	index        int
	freeBuffers  []BufferID
	freePages    []pagefile.PageID
	bufferToPage map[pagefile.PageID]BufferID
}

// Pool is the buffer pool. Zero value is not usable; construct with Open
// or Create.
type Pool struct {
	pf         *pagefile.PageFile
	bmp        *bitmap.AllocationBitmap
	cfg        Config
	pageSize   int
	numSlots   int
	descs      []*bufferDescriptor
	partitions []*partition
	cursor     atomic.Uint64
	dispatcher Dispatcher
	numaNodes  int

	closeMu sync.Mutex
	closed  bool
}

func validateConfig(op string, cfg Config, pageSize int, dispatcher Dispatcher) error {
	poolBytes := int(cfg.PoolSizeKB) * 1024
	if pageSize <= 0 || poolBytes%pageSize != 0 {
		return errkind.New(op, errkind.PoolSizeNotMultipleOfPageSize)
	}
	numSlots := poolBytes / pageSize
	if cfg.NumberOfPartitions <= 0 || numSlots%cfg.NumberOfPartitions != 0 {
		return errkind.New(op, errkind.PoolSizeNotMultipleOfPageSize)
	}
	if cfg.PrefetchingDegree > 0 && dispatcher == nil {
		return errkind.New(op, errkind.PoolNoThreadsForPrefetching)
	}
	return nil
}

// Open attaches a buffer pool to an existing page file at path.
func Open(cfg Config, path string, dispatcher Dispatcher) (*Pool, error) {
	const op = "bufferpool.Open"
	pf, err := pagefile.Open(path)
	if err != nil {
		return nil, err
	}
	pool, err := newPool(op, cfg, pf, dispatcher)
	if err != nil {
		pf.Close()
		return nil, err
	}
	return pool, nil
}

// Create initializes a fresh page file at path and attaches a buffer pool
// to it.
func Create(cfg Config, path string, fsCfg pagefile.FileStorageConfig, overwrite bool, dispatcher Dispatcher) (*Pool, error) {
	const op = "bufferpool.Create"
	pf, err := pagefile.Create(path, fsCfg, overwrite)
	if err != nil {
		return nil, err
	}
	pool, err := newPool(op, cfg, pf, dispatcher)
	if err != nil {
		pf.Close()
		return nil, err
	}
	return pool, nil
}

func newPool(op string, cfg Config, pf *pagefile.PageFile, dispatcher Dispatcher) (*Pool, error) {
	pageSize := pf.PageSize()
	if err := validateConfig(op, cfg, pageSize, dispatcher); err != nil {
		return nil, err
	}

	numaNodes, err := numa.Detect()
	if err != nil {
		return nil, errkind.Wrap(op, errkind.PoolNumaUnsupported, err)
	}

	if pf.Size() == 0 {
		if _, err := pf.Reserve(1); err != nil { // protected page 0
			return nil, err
		}
	}

	bmp, err := bitmap.Load(pf)
	if err != nil {
		return nil, err
	}

	numParts := cfg.NumberOfPartitions
	parts := make([]*partition, numParts)
	for i := range parts {
		parts[i] = &partition{index: i, bufferToPage: make(map[pagefile.PageID]BufferID)}
	}
	for _, pid := range bmp.FreePages(pf.Size()) {
		idx := int(uint64(pid) % uint64(numParts))
		parts[idx].freePages = append(parts[idx].freePages, pid)
	}

	numSlots := int(cfg.PoolSizeKB) * 1024 / pageSize
	nodeOfSlot := make([]int, numSlots)
	nodeSlotCount := make([]int, numaNodes)
	for s := 0; s < numSlots; s++ {
		node := numa.NodeForSlot(s, numParts, numaNodes)
		nodeOfSlot[s] = node
		nodeSlotCount[node]++
	}
	arenas := make([][]byte, numaNodes)
	for n := range arenas {
		arenas[n] = make([]byte, nodeSlotCount[n]*pageSize)
	}
	nodeCursor := make([]int, numaNodes)

	descs := make([]*bufferDescriptor, numSlots)
	for s := 0; s < numSlots; s++ {
		node := nodeOfSlot[s]
		off := nodeCursor[node] * pageSize
		nodeCursor[node]++
		descs[s] = &bufferDescriptor{buffer: arenas[node][off : off+pageSize]}
		parts[s%numParts].freeBuffers = append(parts[s%numParts].freeBuffers, BufferID(s))
	}

	return &Pool{
		pf:         pf,
		bmp:        bmp,
		cfg:        cfg,
		pageSize:   pageSize,
		numSlots:   numSlots,
		descs:      descs,
		partitions: parts,
		dispatcher: dispatcher,
		numaNodes:  numaNodes,
	}, nil
}

func (p *Pool) partitionIndex(pageId pagefile.PageID) int {
	return int(uint64(pageId) % uint64(len(p.partitions)))
}

// getFreeOrEvict returns an empty slot belonging to partIdx, draining the
// partition's free-buffer queue first and falling back to a clock-sweep
// eviction scoped to that partition (spec.md §4.3 "Eviction — Clock
// Sweep", step 1-2).
func (p *Pool) getFreeOrEvict(partIdx int) (BufferID, error) {
	part := p.partitions[partIdx]
	part.mu.Lock()
	if len(part.freeBuffers) > 0 {
		s := part.freeBuffers[0]
		part.freeBuffers = part.freeBuffers[1:]
		part.mu.Unlock()
		d := p.descs[s]
		d.mu.Lock()
		d.inUse = true
		d.mu.Unlock()
		return s, nil
	}
	part.mu.Unlock()
	return p.clockSweep(partIdx)
}

func (p *Pool) clockSweep(partIdx int) (BufferID, error) {
	const op = "bufferpool.evict"
	n := uint64(p.numSlots)
	numParts := uint64(len(p.partitions))
	start := p.cursor.Load()
	sawUnpinned := false
	for i := uint64(0); n > 0; i++ {
		if i > 0 && i%n == 0 {
			// A full sweep ended: sweep again only if it met an unpinned
			// candidate whose usage count was still being worn down.
			if !sawUnpinned {
				break
			}
			sawUnpinned = false
		}
		cur := (start + i) % n
		p.cursor.Store(cur + 1)
		if cur%numParts != uint64(partIdx) {
			continue
		}
		s := BufferID(cur)
		d := p.descs[s]
		d.mu.Lock()
		if !d.inUse {
			d.mu.Unlock()
			continue
		}
		if d.referenceCount > 0 {
			d.mu.Unlock()
			continue
		}
		sawUnpinned = true
		if d.usageCount > 0 {
			d.usageCount--
			d.mu.Unlock()
			continue
		}
		if d.dirty {
			if err := p.writeBack(d); err != nil {
				d.mu.Unlock()
				return 0, err
			}
		}
		oldPageId := d.pageId
		d.inUse = false
		d.pageId = 0
		d.referenceCount = 0
		d.usageCount = 0
		d.dirty = false
		d.mu.Unlock()

		part := p.partitions[partIdx]
		part.mu.Lock()
		delete(part.bufferToPage, oldPageId)
		part.mu.Unlock()
		return s, nil
	}
	return 0, errkind.New(op, errkind.PoolOutOfMemory)
}

// writeBack flushes d's body to the page file. Caller must hold d.mu.
func (p *Pool) writeBack(d *bufferDescriptor) error {
	if err := p.pf.Write(d.pageId, d.buffer); err != nil {
		return err
	}
	d.dirty = false
	return nil
}

// Alloc reserves a fresh page (from a partition's free list, or by
// extending the page file) and pins it with refcount=1, usage=1.
func (p *Pool) Alloc() (*Handle, error) {
	const op = "bufferpool.Alloc"
	for _, part := range p.partitions {
		part.mu.Lock()
	}
	var chosen *partition
	for _, part := range p.partitions {
		if len(part.freePages) > 0 {
			chosen = part
			break
		}
	}
	if chosen == nil {
		pid, err := p.pf.Reserve(1)
		if err != nil {
			for _, part := range p.partitions {
				part.mu.Unlock()
			}
			return nil, err
		}
		if bitmap.IsProtected(pid, p.pageSize) {
			pid2, err := p.pf.Reserve(1)
			if err != nil {
				for _, part := range p.partitions {
					part.mu.Unlock()
				}
				return nil, err
			}
			p.bmp.Set(pid, true)
			pid = pid2
		}
		p.bmp.Grow(uint64(pid) + 1)
		chosen = p.partitions[int(uint64(pid)%uint64(len(p.partitions)))]
		chosen.freePages = append(chosen.freePages, pid)
	}

	last := len(chosen.freePages) - 1
	pageId := chosen.freePages[last]
	chosen.freePages = chosen.freePages[:last]
	p.bmp.Set(pageId, true)
	partIdx := chosen.index
	for _, part := range p.partitions {
		part.mu.Unlock()
	}

	slot, err := p.getFreeOrEvict(partIdx)
	if err != nil {
		return nil, errkind.Wrap(op, errkind.PoolOutOfMemory, err)
	}

	d := p.descs[slot]
	d.mu.Lock()
	d.pageId = pageId
	d.referenceCount = 1
	d.usageCount = 1
	d.dirty = false
	d.inUse = true
	buf := d.buffer
	d.mu.Unlock()

	chosen.mu.Lock()
	chosen.bufferToPage[pageId] = slot
	chosen.mu.Unlock()

	return &Handle{Buffer: buf, PageID: pageId, BufferID: slot}, nil
}

// Pin loads (or finds resident) pageId and returns a handle to its body.
// prefetch=true means the caller is a real consumer and the pin should
// count toward eviction protection; prefetch=false populates the slot
// without retaining a reference, as spec.md §4.3 requires of the
// prefetcher's own pins.
func (p *Pool) Pin(pageId pagefile.PageID, prefetch bool) (*Handle, error) {
	const op = "bufferpool.Pin"
	partIdx := p.partitionIndex(pageId)
	part := p.partitions[partIdx]

	part.mu.Lock()
	slot, resident := part.bufferToPage[pageId]
	part.mu.Unlock()

	if resident {
		d := p.descs[slot]
		d.mu.Lock()
		if prefetch {
			d.referenceCount++
			d.usageCount++
		}
		d.pageId = pageId
		buf := d.buffer
		d.mu.Unlock()
		return &Handle{Buffer: buf, PageID: pageId, BufferID: slot}, nil
	}

	slot, err := p.getFreeOrEvict(partIdx)
	if err != nil {
		return nil, errkind.Wrap(op, errkind.PoolOutOfMemory, err)
	}

	part.mu.Lock()
	part.bufferToPage[pageId] = slot
	part.mu.Unlock()

	d := p.descs[slot]
	d.mu.Lock()
	if err := p.pf.Read(pageId, d.buffer); err != nil {
		d.mu.Unlock()
		return nil, err
	}
	d.pageId = pageId
	d.inUse = true
	if prefetch {
		d.referenceCount = 1
		d.usageCount = 1
	} else {
		d.referenceCount = 0
		d.usageCount = 0
	}
	d.dirty = false
	buf := d.buffer
	d.mu.Unlock()

	if prefetch {
		p.dispatchPrefetch(pageId)
	}

	return &Handle{Buffer: buf, PageID: pageId, BufferID: slot}, nil
}

// dispatchPrefetch asks the task runtime to warm the next prefetchingDegree
// pages after pageId, pinning each with prefetch=false so the warm-up
// never retains a reference (spec.md §4.3, §8 scenario S6).
func (p *Pool) dispatchPrefetch(pageId pagefile.PageID) {
	if p.cfg.PrefetchingDegree <= 0 || p.dispatcher == nil {
		return
	}
	degree := p.cfg.PrefetchingDegree
	size := p.pf.Size()
	p.dispatcher.DispatchPrefetch(func() {
		for i := 0; i < degree; i++ {
			next := pageId + pagefile.PageID(i+1)
			if uint64(next) >= size {
				break
			}
			p.Pin(next, false)
		}
	})
}

// Unpin decrements pageId's reference count.
func (p *Pool) Unpin(h *Handle) error {
	const op = "bufferpool.Unpin"
	d := p.descs[h.BufferID]
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.inUse || d.pageId != h.PageID || d.referenceCount == 0 {
		return errkind.New(op, errkind.PoolBufferDescriptorIncorrectData)
	}
	d.referenceCount--
	return nil
}

// SetPageDirty marks a resident page dirty.
func (p *Pool) SetPageDirty(pageId pagefile.PageID) error {
	const op = "bufferpool.SetPageDirty"
	part := p.partitions[p.partitionIndex(pageId)]
	part.mu.Lock()
	slot, resident := part.bufferToPage[pageId]
	part.mu.Unlock()
	if !resident {
		return errkind.New(op, errkind.PoolBufferDescriptorIncorrectData)
	}
	d := p.descs[slot]
	d.mu.Lock()
	d.dirty = true
	d.mu.Unlock()
	return nil
}

// Release writes back pageId if dirty, clears its allocation bit, and
// returns its slot and page id to the owning partition's free lists.
func (p *Pool) Release(pageId pagefile.PageID) error {
	const op = "bufferpool.Release"
	if bitmap.IsProtected(pageId, p.pageSize) {
		return errkind.New(op, errkind.PoolProtectedPageInFreeList)
	}
	part := p.partitions[p.partitionIndex(pageId)]
	part.mu.Lock()
	slot, resident := part.bufferToPage[pageId]
	part.mu.Unlock()
	if !resident {
		return errkind.New(op, errkind.PoolBufferDescriptorIncorrectData)
	}

	d := p.descs[slot]
	d.mu.Lock()
	if d.dirty {
		if err := p.writeBack(d); err != nil {
			d.mu.Unlock()
			return err
		}
	}
	d.inUse = false
	d.pageId = 0
	d.referenceCount = 0
	d.usageCount = 0
	d.dirty = false
	d.mu.Unlock()

	p.bmp.Set(pageId, false)

	part.mu.Lock()
	delete(part.bufferToPage, pageId)
	part.freeBuffers = append(part.freeBuffers, slot)
	part.freePages = append(part.freePages, pageId)
	part.mu.Unlock()

	return nil
}

// Checkpoint writes every dirty resident page and the bitmap back to the
// page file, and fsyncs it.
func (p *Pool) Checkpoint() error {
	for _, part := range p.partitions {
		part.mu.Lock()
	}
	defer func() {
		for _, part := range p.partitions {
			part.mu.Unlock()
		}
	}()
	for _, d := range p.descs {
		d.mu.Lock()
		if d.inUse && d.dirty {
			if err := p.writeBack(d); err != nil {
				d.mu.Unlock()
				return err
			}
		}
		d.mu.Unlock()
	}
	if err := p.bmp.Flush(p.pf); err != nil {
		return err
	}
	return p.pf.Sync()
}

// GetStatistics returns a point-in-time snapshot of pool occupancy.
func (p *Pool) GetStatistics() Statistics {
	for _, part := range p.partitions {
		part.mu.Lock()
	}
	defer func() {
		for _, part := range p.partitions {
			part.mu.Unlock()
		}
	}()

	resident := 0
	for _, d := range p.descs {
		d.mu.RLock()
		if d.inUse {
			resident++
		}
		d.mu.RUnlock()
	}

	size := p.pf.Size()
	var allocated uint64
	for i := uint64(0); i < size; i++ {
		if p.bmp.Get(pagefile.PageID(i)) {
			allocated++
		}
	}

	return Statistics{
		ResidentSlots:  resident,
		ReservedPages:  size,
		PageSize:       p.pageSize,
		AllocatedPages: allocated,
	}
}

// CheckConsistency validates the invariants of spec.md §8 against the
// pool's current state.
func (p *Pool) CheckConsistency() error {
	const op = "bufferpool.CheckConsistency"
	for _, part := range p.partitions {
		part.mu.Lock()
	}
	defer func() {
		for _, part := range p.partitions {
			part.mu.Unlock()
		}
	}()

	size := p.pf.Size()
	residentPages := make(map[pagefile.PageID]bool)

	for _, part := range p.partitions {
		for _, pid := range part.freePages {
			if bitmap.IsProtected(pid, p.pageSize) {
				return errkind.New(op, errkind.PoolProtectedPageInFreeList)
			}
			if p.bmp.Get(pid) {
				return errkind.New(op, errkind.PoolAllocatedPageInFreeList)
			}
		}
		for pid, slot := range part.bufferToPage {
			if bitmap.IsProtected(pid, p.pageSize) {
				return errkind.New(op, errkind.PoolProtectedPageInFreeList)
			}
			d := p.descs[slot]
			d.mu.RLock()
			ok := d.inUse && d.pageId == pid
			d.mu.RUnlock()
			if !ok {
				return errkind.New(op, errkind.PoolBufferDescriptorIncorrectData)
			}
			residentPages[pid] = true
			if !p.bmp.Get(pid) {
				return errkind.New(op, errkind.PoolFreePageMappedToBuffer)
			}
		}
	}

	for i := uint64(0); i < size; i++ {
		pid := pagefile.PageID(i)
		if bitmap.IsProtected(pid, p.pageSize) {
			continue
		}
		if p.bmp.Get(pid) || residentPages[pid] {
			continue
		}
		found := false
		for _, part := range p.partitions {
			for _, fp := range part.freePages {
				if fp == pid {
					found = true
					break
				}
			}
			if found {
				break
			}
		}
		if !found {
			return errkind.New(op, errkind.PoolFreePageNotInFreeList)
		}
	}

	return nil
}

// Close requires no outstanding pins (errkind.PoolBusy otherwise), flushes
// dirty slots and the bitmap, and releases the page file.
func (p *Pool) Close() error {
	const op = "bufferpool.Close"
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if p.closed {
		return errkind.New(op, errkind.StorageNotOpen)
	}

	for _, d := range p.descs {
		d.mu.RLock()
		rc := d.referenceCount
		d.mu.RUnlock()
		if rc > 0 {
			return errkind.New(op, errkind.PoolBusy)
		}
	}

	if err := p.Checkpoint(); err != nil {
		return err
	}
	p.closed = true
	return p.pf.Close()
}

// PageSize returns the page file's immutable page size in bytes.
func (p *Pool) PageSize() int { return p.pageSize }

// NumSlots returns the total number of in-memory slots.
func (p *Pool) NumSlots() int { return p.numSlots }
