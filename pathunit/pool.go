package pathunit

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("module", "pathunit")

var (
	ErrPoolExhausted = errors.New("path unit pool exhausted")
	ErrUnknownUnit   = errors.New("unknown path unit")
	ErrInvalidChain  = errors.New("invalid path unit chain")
)

// Picker selects one of n free slots. Pool uses it to pick the slot handed
// out by CreateItem so that allocation is reproducible for a given seed.
type Picker interface {
	UInt32(max uint32) uint32
}

// Pool is a fixed arena of path records addressed by uint32 ids. Id 0 is
// never handed out and means "no record".
//
// All header fields (reference count, flags, links) are mutated under the
// pool lock. Positions of a record are written by its single owner.
type Pool struct {
	mu    sync.Mutex
	units []Unit
	free  []uint32
	live  *roaring.Bitmap
}

func NewPool(size int) *Pool {
	if size < 2 {
		size = 2
	}
	p := &Pool{
		units: make([]Unit, size),
		free:  make([]uint32, 0, size-1),
		live:  roaring.New(),
	}
	// 逆序压栈，使默认分配从1开始
	for i := size - 1; i >= 1; i-- {
		p.free = append(p.free, uint32(i))
	}
	return p
}

// Lock exposes the pool lock for callers that update several records at once.
func (p *Pool) Lock()   { p.mu.Lock() }
func (p *Pool) Unlock() { p.mu.Unlock() }

// Size is the arena capacity including the reserved id 0.
func (p *Pool) Size() int {
	return len(p.units)
}

// Unit returns the record without locking.
func (p *Pool) Unit(id uint32) *Unit {
	return &p.units[id]
}

// Live reports whether id is currently allocated.
func (p *Pool) Live(id uint32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live.Contains(id)
}

// ItemCount is the number of allocated records.
func (p *Pool) ItemCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.live.GetCardinality())
}

// CreateItemLocked is CreateItem for callers already holding the lock.
func (p *Pool) CreateItemLocked(r Picker) (uint32, bool) {
	n := len(p.free)
	if n == 0 {
		return 0, false
	}
	i := n - 1
	if r != nil {
		i = int(r.UInt32(uint32(n)))
	}
	id := p.free[i]
	p.free[i] = p.free[n-1]
	p.free = p.free[:n-1]
	p.live.Add(id)
	p.units[id] = Unit{ReferenceCount: 1, SimulationFlags: SimCreated}
	return id, true
}

// CreateItem allocates a cleared record with reference count 1.
func (p *Pool) CreateItem(r Picker) (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.CreateItemLocked(r)
	if !ok {
		return 0, ErrPoolExhausted
	}
	return id, nil
}

// ExtendLocked allocates a continuation of prev: a copy of its header with
// reference count 1 and the Ready flag, linked from prev. The caller must
// hold the lock.
func (p *Pool) ExtendLocked(prev uint32, r Picker) (uint32, bool) {
	id, ok := p.CreateItemLocked(r)
	if !ok {
		return 0, false
	}
	u := p.units[prev]
	u.ReferenceCount = 1
	u.PathFindFlags = FlagReady
	u.NextPathUnit = 0
	u.PositionCount = 0
	p.units[id] = u
	p.units[prev].NextPathUnit = id
	return id, true
}

// AddReference takes one more reference on a live record. It fails when the
// record is not allocated or its count is saturated.
func (p *Pool) AddReference(id uint32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.live.Contains(id) {
		return false
	}
	u := &p.units[id]
	if u.SimulationFlags&SimCreated == 0 || u.ReferenceCount == math.MaxUint8 {
		return false
	}
	u.ReferenceCount++
	return true
}

// Release drops one reference on the head of a chain. Records whose count
// reaches zero are freed together with the rest of the chain, stopping at the
// first record that is still referenced elsewhere.
func (p *Pool) Release(id uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.live.Contains(id) {
		return fmt.Errorf("%w: %d", ErrUnknownUnit, id)
	}
	for steps := 0; id != 0; steps++ {
		if steps >= len(p.units) {
			log.Errorf("release: chain loop detected at unit %d", id)
			return ErrInvalidChain
		}
		u := &p.units[id]
		if u.ReferenceCount > 1 {
			u.ReferenceCount--
			return nil
		}
		next := u.NextPathUnit
		*u = Unit{}
		p.live.Remove(id)
		p.free = append(p.free, id)
		id = next
	}
	return nil
}

// Flags reads the path-find flags of a record.
func (p *Pool) Flags(id uint32) uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.units[id].PathFindFlags
}

// UpdateFlags sets and clears path-find flags of a record.
func (p *Pool) UpdateFlags(id uint32, set, clear uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u := &p.units[id]
	u.PathFindFlags = (u.PathFindFlags &^ clear) | set
}

// Chain copies a record and its continuations.
func (p *Pool) Chain(id uint32) ([]Unit, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.live.Contains(id) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownUnit, id)
	}
	var out []Unit
	for id != 0 {
		if len(out) >= len(p.units) {
			return nil, ErrInvalidChain
		}
		out = append(out, p.units[id])
		id = p.units[id].NextPathUnit
	}
	return out, nil
}
