package pintos

import (
	"container/list"
	"sync"

	"github.com/ventimdg/Operating-Systems/blockdev"
	"github.com/sirupsen/logrus"
)

// cacheSlot is one of cacheSlots in-memory sector-sized buffers shadowing a
// device sector. Its bytes are guarded by mu; its membership in the LRU
// list and lookup table is guarded by the owning bufferCache's metaMu.
type cacheSlot struct {
	mu      sync.RWMutex
	bytes   [SectorSize]byte
	sector  uint32
	dirty   bool
	removed bool
	inumber uint32
	pins    int
	elem    *list.Element // element in bufferCache.lru, valid only while metaMu held
}

// bufferCache is the L2 write-back buffer cache: a pool of cacheSlots with
// LRU eviction, described in spec.md section 4.2. metaMu guards the lookup
// table and LRU ordering; each slot's own mu guards its bytes. Pins are
// incremented while metaMu is held and decremented only after the slot's
// own lock has been released, so a racing evictor can never steal a slot
// that a reader or writer is actively using.
type bufferCache struct {
	dev *blockdev.Device
	log *logrus.Entry

	metaMu sync.Mutex
	lru    *list.List // front = least recently used, back = most recently used
	byKey  map[uint32]*cacheSlot
}

func newBufferCache(dev *blockdev.Device, log *logrus.Entry) *bufferCache {
	return &bufferCache{
		dev:   dev,
		log:   log,
		lru:   list.New(),
		byKey: make(map[uint32]*cacheSlot),
	}
}

// touch finds or creates the slot for sector, pinning it, and moves it to
// the most-recently-used position. The caller must unpin() the returned
// slot once done and must not hold metaMu.
func (c *bufferCache) touch(sector, inumber uint32) (*cacheSlot, error) {
	c.metaMu.Lock()
	if slot, ok := c.byKey[sector]; ok {
		slot.pins++
		c.lru.MoveToBack(slot.elem)
		c.metaMu.Unlock()
		return slot, nil
	}

	var slot *cacheSlot
	if len(c.byKey) < cacheSlots {
		slot = &cacheSlot{}
	} else {
		slot = c.popVictimLocked()
	}
	// Reserve the slot under sector's key before releasing metaMu, so a
	// second goroutine that misses on this same not-yet-resident sector
	// finds it here instead of allocating a competing slot for it.
	slot.mu.Lock()
	slot.pins = 1
	slot.elem = c.lru.PushBack(slot)
	c.byKey[sector] = slot
	c.metaMu.Unlock()

	// Flush this slot's previous occupant, if any, and fill it with
	// sector's contents, all while holding the slot's own lock: metaMu is
	// free for other lookups during the device I/O, but a concurrent miss
	// on this same sector already found the slot above and blocks on mu
	// until the fill below completes.
	if slot.dirty && !slot.removed {
		if err := c.dev.WriteSector(slot.sector, slot.bytes[:]); err != nil {
			slot.mu.Unlock()
			return nil, err
		}
	}
	slot.sector = sector
	slot.inumber = inumber
	slot.dirty = false
	slot.removed = false
	err := c.dev.ReadSector(sector, slot.bytes[:])
	slot.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return slot, nil
}

// popVictimLocked removes and returns the least-recently-used slot with a
// zero pin count. Callers must hold metaMu.
func (c *bufferCache) popVictimLocked() *cacheSlot {
	for e := c.lru.Front(); e != nil; e = e.Next() {
		slot := e.Value.(*cacheSlot)
		if slot.pins != 0 {
			continue
		}
		c.lru.Remove(e)
		delete(c.byKey, slot.sector)
		return slot
	}
	// Every slot pinned: callers are required to keep pins short-lived and
	// bounded, so this denotes a programming error in this package, not a
	// user-facing condition.
	panic("pintos: buffer cache exhausted, no evictable slot")
}

func (c *bufferCache) flushSlot(slot *cacheSlot) error {
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if !slot.dirty || slot.removed {
		return nil
	}
	if err := c.dev.WriteSector(slot.sector, slot.bytes[:]); err != nil {
		return err
	}
	slot.dirty = false
	return nil
}

func (c *bufferCache) unpin(slot *cacheSlot) {
	c.metaMu.Lock()
	slot.pins--
	c.metaMu.Unlock()
}

// read copies the sector's current contents into out, which must be exactly
// SectorSize bytes.
func (c *bufferCache) read(sector, inumber uint32, out []byte) error {
	slot, err := c.touch(sector, inumber)
	if err != nil {
		return err
	}
	slot.mu.RLock()
	copy(out, slot.bytes[:])
	slot.mu.RUnlock()
	c.unpin(slot)
	return nil
}

// write copies in into the sector's slot and marks it dirty; it does not
// write through to the device.
func (c *bufferCache) write(sector, inumber uint32, in []byte) error {
	slot, err := c.touch(sector, inumber)
	if err != nil {
		return err
	}
	slot.mu.Lock()
	copy(slot.bytes[:], in)
	slot.dirty = true
	slot.inumber = inumber
	slot.mu.Unlock()
	c.unpin(slot)
	return nil
}

// invalidate marks every cached sector owned by inumber as removed, so a
// later eviction drops it instead of writing it back. Called when an inode
// is destroyed with its removed flag set.
func (c *bufferCache) invalidate(inumber uint32) {
	c.metaMu.Lock()
	defer c.metaMu.Unlock()
	for e := c.lru.Front(); e != nil; e = e.Next() {
		slot := e.Value.(*cacheSlot)
		if slot.inumber == inumber {
			slot.mu.Lock()
			slot.removed = true
			slot.mu.Unlock()
		}
	}
}

// flushAll writes back every dirty, non-removed slot, in LRU order. It is
// called on shutdown; no other operations may be in flight.
func (c *bufferCache) flushAll() {
	c.metaMu.Lock()
	defer c.metaMu.Unlock()
	for e := c.lru.Front(); e != nil; e = e.Next() {
		slot := e.Value.(*cacheSlot)
		if err := c.flushSlot(slot); err != nil {
			c.log.WithError(err).WithField("sector", slot.sector).Warn("failed to flush cache slot on shutdown")
		}
	}
}
