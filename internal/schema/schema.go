// Package schema implements the schema catalogue: a chain of fixed-record
// buffer-pool pages that exercises the page protocol end-to-end (alloc,
// pin, setPageDirty, unpin, checkpoint) as spec.md §4.5 requires of a
// buffer-pool client.
//
// The on-disk layout is grounded on the teacher's
// internal/storage/pager.FreeListPage: a small fixed header followed by a
// packed array of fixed-width entries, continued via a "next page"
// pointer, generalized from a list of free page ids to a list of
// {kind, name, structType, entryPage} records. TypeID assignment and the
// catalogue's uuid identifier are grounded on uuid_helpers.go, though here
// TypeID is a sequential counter (matching spec.md §8 scenario S5) and the
// uuid only identifies the catalogue instance.
package schema

import (
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/vantadb/storecore/internal/bufferpool"
	"github.com/vantadb/storecore/internal/errkind"
	"github.com/vantadb/storecore/internal/pagefile"
)

// ElementKind distinguishes the three schema element variants spec.md's
// data model names.
type ElementKind uint8

const (
	KindNode ElementKind = iota
	KindEdge
	KindProperty
)

// TypeID identifies a schema element, assigned sequentially in the order
// elements are created.
type TypeID uint32

const nameMaxLen = 64

// record is the fixed-size on-disk shape of one schema element.
const recordSize = 1 /*kind*/ + 3 /*pad*/ + 4 /*typeId*/ + 4 /*structType*/ + 8 /*entryPage*/ + nameMaxLen

// headerSize is {numElements uint32, nextPage uint64} present on every
// catalogue page.
const headerSize = 4 + 8

// instanceIDSize is the extra uuid carried only on the chain's first page.
const instanceIDSize = 16

const invalidPageID = ^pagefile.PageID(0)

func capacity(pageSize int, isHead bool) int {
	avail := pageSize - headerSize
	if isHead {
		avail -= instanceIDSize
	}
	if avail < 0 {
		return 0
	}
	return avail / recordSize
}

type element struct {
	kind       ElementKind
	typeID     TypeID
	name       string
	structType uint32
	entryPage  pagefile.PageID
}

// Catalogue is the in-memory mirror of a persisted schema chain.
type Catalogue struct {
	pool       *bufferpool.Pool
	root       pagefile.PageID
	instanceID uuid.UUID
	elements   []element
	byName     map[string]int
	chain      []pagefile.PageID // pages currently in the chain, in order
}

// New allocates a fresh, empty catalogue chain starting at a new root
// page. The root page is never released; spec.md §4.5 never shrinks a
// catalogue.
func New(pool *bufferpool.Pool) (*Catalogue, error) {
	const op = "schema.New"
	h, err := pool.Alloc()
	if err != nil {
		return nil, err
	}
	c := &Catalogue{
		pool:       pool,
		root:       h.PageID,
		instanceID: uuid.New(),
		byName:     make(map[string]int),
		chain:      []pagefile.PageID{h.PageID},
	}
	writeHeadPage(h.Buffer, 0, invalidPageID, c.instanceID)
	if err := pool.SetPageDirty(h.PageID); err != nil {
		pool.Unpin(h)
		return nil, errkind.Wrap(op, errkind.SchemaCorruptedPage, err)
	}
	if err := pool.Unpin(h); err != nil {
		return nil, err
	}
	return c, nil
}

func writeHeadPage(buf []byte, numElements uint32, nextPage pagefile.PageID, id uuid.UUID) {
	binary.LittleEndian.PutUint32(buf[0:4], numElements)
	binary.LittleEndian.PutUint64(buf[4:12], uint64(nextPage))
	copy(buf[12:12+instanceIDSize], id[:])
}

func writeContinuationHeader(buf []byte, numElements uint32, nextPage pagefile.PageID) {
	binary.LittleEndian.PutUint32(buf[0:4], numElements)
	binary.LittleEndian.PutUint64(buf[4:12], uint64(nextPage))
}

func readHeader(buf []byte) (numElements uint32, nextPage pagefile.PageID) {
	numElements = binary.LittleEndian.Uint32(buf[0:4])
	nextPage = pagefile.PageID(binary.LittleEndian.Uint64(buf[4:12]))
	return
}

func recordOffset(isHead bool, i int) int {
	base := headerSize
	if isHead {
		base += instanceIDSize
	}
	return base + i*recordSize
}

func putRecord(buf []byte, off int, e element) error {
	if len(e.name) > nameMaxLen {
		return errkind.New("schema.putRecord", errkind.SchemaNameTooLong)
	}
	buf[off] = byte(e.kind)
	binary.LittleEndian.PutUint32(buf[off+4:off+8], uint32(e.typeID))
	binary.LittleEndian.PutUint32(buf[off+8:off+12], e.structType)
	binary.LittleEndian.PutUint64(buf[off+12:off+20], uint64(e.entryPage))
	nameBuf := buf[off+20 : off+20+nameMaxLen]
	for i := range nameBuf {
		nameBuf[i] = 0
	}
	copy(nameBuf, e.name)
	return nil
}

func getRecord(buf []byte, off int) element {
	var e element
	e.kind = ElementKind(buf[off])
	e.typeID = TypeID(binary.LittleEndian.Uint32(buf[off+4 : off+8]))
	e.structType = binary.LittleEndian.Uint32(buf[off+8 : off+12])
	e.entryPage = pagefile.PageID(binary.LittleEndian.Uint64(buf[off+12 : off+20]))
	nameBuf := buf[off+20 : off+20+nameMaxLen]
	n := 0
	for n < len(nameBuf) && nameBuf[n] != 0 {
		n++
	}
	e.name = string(nameBuf[:n])
	return e
}

// Load walks the catalogue chain starting at root, reconstructing every
// element in on-disk order (so TypeID order matches creation order).
func Load(pool *bufferpool.Pool, root pagefile.PageID) (*Catalogue, error) {
	const op = "schema.Load"
	c := &Catalogue{pool: pool, root: root, byName: make(map[string]int)}

	pid := root
	isHead := true
	for pid != invalidPageID {
		h, err := pool.Pin(pid, true)
		if err != nil {
			return nil, err
		}
		c.chain = append(c.chain, pid)

		var numElements uint32
		var next pagefile.PageID
		if isHead {
			numElements, next = readHeader(h.Buffer)
			var id uuid.UUID
			copy(id[:], h.Buffer[12:12+instanceIDSize])
			c.instanceID = id
		} else {
			numElements, next = readHeader(h.Buffer)
		}

		cap := capacity(pool.PageSize(), isHead)
		if int(numElements) > cap {
			pool.Unpin(h)
			return nil, errkind.New(op, errkind.SchemaCorruptedPage)
		}
		for i := 0; i < int(numElements); i++ {
			e := getRecord(h.Buffer, recordOffset(isHead, i))
			c.elements = append(c.elements, e)
			c.byName[e.name] = len(c.elements) - 1
		}

		if err := pool.Unpin(h); err != nil {
			return nil, err
		}
		pid = next
		isHead = false
	}

	return c, nil
}

// Persist streams every in-memory element back into the chain, allocating
// additional pages only if the existing chain is too short. Catalogue
// pages are never freed.
func (c *Catalogue) Persist() error {
	const op = "schema.Persist"
	perPageHead := capacity(c.pool.PageSize(), true)
	perPageCont := capacity(c.pool.PageSize(), false)

	totalNeeded := 1
	remaining := len(c.elements) - perPageHead
	for remaining > 0 {
		totalNeeded++
		remaining -= perPageCont
	}

	for len(c.chain) < totalNeeded {
		h, err := c.pool.Alloc()
		if err != nil {
			return err
		}
		c.chain = append(c.chain, h.PageID)
		if err := c.pool.Unpin(h); err != nil {
			return err
		}
	}

	idx := 0
	for pageIdx, pid := range c.chain {
		isHead := pageIdx == 0
		cap := perPageCont
		if isHead {
			cap = perPageHead
		}

		h, err := c.pool.Pin(pid, true)
		if err != nil {
			return err
		}

		n := 0
		for n < cap && idx < len(c.elements) {
			if err := putRecord(h.Buffer, recordOffset(isHead, n), c.elements[idx]); err != nil {
				c.pool.Unpin(h)
				return errkind.Wrap(op, errkind.SchemaCorruptedPage, err)
			}
			idx++
			n++
		}

		var next pagefile.PageID = invalidPageID
		if pageIdx+1 < len(c.chain) {
			next = c.chain[pageIdx+1]
		}
		if isHead {
			writeHeadPage(h.Buffer, uint32(n), next, c.instanceID)
		} else {
			writeContinuationHeader(h.Buffer, uint32(n), next)
		}

		if err := c.pool.SetPageDirty(pid); err != nil {
			c.pool.Unpin(h)
			return err
		}
		if err := c.pool.Unpin(h); err != nil {
			return err
		}
	}

	return nil
}

// InstanceID returns the catalogue's persisted uuid identity.
func (c *Catalogue) InstanceID() uuid.UUID { return c.instanceID }

func (c *Catalogue) newElement(op string, kind ElementKind, name string, structType uint32, entryPage pagefile.PageID) (TypeID, error) {
	if len(name) > nameMaxLen {
		return 0, errkind.New(op, errkind.SchemaNameTooLong)
	}
	if _, exists := c.byName[name]; exists {
		return 0, errkind.New(op, errkind.SchemaTypeExists)
	}
	id := TypeID(len(c.elements))
	c.elements = append(c.elements, element{kind: kind, typeID: id, name: name, structType: structType, entryPage: entryPage})
	c.byName[name] = len(c.elements) - 1
	return id, nil
}

func (c *Catalogue) getElement(op string, kind ElementKind, name string) (TypeID, error) {
	idx, ok := c.byName[name]
	if !ok {
		return 0, errkind.New(op, errkind.SchemaTypeNotFound)
	}
	e := c.elements[idx]
	if e.kind != kind {
		return 0, errkind.New(op, errkind.SchemaTypeNotFound)
	}
	return e.typeID, nil
}

// NewNodeType registers a node type, returning its TypeID. TypeIDs are
// assigned sequentially in creation order across all element kinds.
func (c *Catalogue) NewNodeType(name string, structType uint32, entryPage pagefile.PageID) (TypeID, error) {
	return c.newElement("schema.NewNodeType", KindNode, name, structType, entryPage)
}

// GetNodeType looks up a previously registered node type by name.
func (c *Catalogue) GetNodeType(name string) (TypeID, error) {
	return c.getElement("schema.GetNodeType", KindNode, name)
}

// NewEdgeType registers an edge type, returning its TypeID.
func (c *Catalogue) NewEdgeType(name string, structType uint32, entryPage pagefile.PageID) (TypeID, error) {
	return c.newElement("schema.NewEdgeType", KindEdge, name, structType, entryPage)
}

// GetEdgeType looks up a previously registered edge type by name.
func (c *Catalogue) GetEdgeType(name string) (TypeID, error) {
	return c.getElement("schema.GetEdgeType", KindEdge, name)
}

// NewPropertyType registers a property type, returning its TypeID.
func (c *Catalogue) NewPropertyType(name string, structType uint32, entryPage pagefile.PageID) (TypeID, error) {
	return c.newElement("schema.NewPropertyType", KindProperty, name, structType, entryPage)
}

// GetPropertyType looks up a previously registered property type by name.
func (c *Catalogue) GetPropertyType(name string) (TypeID, error) {
	return c.getElement("schema.GetPropertyType", KindProperty, name)
}

// NumElements returns the number of registered schema elements.
func (c *Catalogue) NumElements() int { return len(c.elements) }

// RootPage returns the catalogue chain's first page id.
func (c *Catalogue) RootPage() pagefile.PageID { return c.root }
