// Package pathfind runs lane-level path searches for queued path requests on a
// single worker goroutine.
package pathfind

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"git.fiblab.net/sim/lanepath/netgraph"
	"git.fiblab.net/sim/lanepath/pathunit"
)

// Request describes a path to compute. StartB/EndB and Vehicle are optional
// and ignored when their segment is 0.
type Request struct {
	StartA, EndA netgraph.Position
	StartB, EndB netgraph.Position
	// 车辆所在位置，只允许在该车道上下车
	Vehicle netgraph.Position

	LaneTypes    netgraph.LaneType
	VehicleTypes netgraph.VehicleType
	MaxLength    float32
	// pathunit.Sim* 标志
	Flags     uint8
	SkipQueue bool
}

// store writes the request into the slots of a fresh unit.
func (req *Request) store(u *pathunit.Unit) {
	u.SetPosition(pathunit.SlotStartA, req.StartA)
	u.SetPosition(pathunit.SlotEndA, req.EndA)
	u.SetPosition(pathunit.SlotStartB, req.StartB)
	u.SetPosition(pathunit.SlotEndB, req.EndB)
	u.SetPosition(pathunit.SlotVehicle, req.Vehicle)
	u.PositionCount = 4
	if req.Vehicle.Segment != 0 {
		u.PositionCount |= 1 << 4
	}
	u.LaneTypes = req.LaneTypes
	u.VehicleTypes = req.VehicleTypes
	u.Length = req.MaxLength
	u.SimulationFlags = pathunit.SimCreated | req.Flags
	u.PathFindFlags = 0
}

type Option func(*Engine)

func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// Engine owns the request queue and the search worker.
type Engine struct {
	graph    Graph
	pool     *pathunit.Pool
	search   *searcher
	observer Observer

	// 以下字段由mu保护
	mu          sync.Mutex
	cond        *sync.Cond
	first, last uint32
	pending     int
	calculating uint32
	terminated  bool

	alive atomic.Bool
	done  chan struct{}
}

// New starts the worker. The visitation table is sized from g.LaneCount(), so
// lanes must not be added to g afterwards.
func New(g Graph, pool *pathunit.Pool, speeds SpeedLimits, opts ...Option) *Engine {
	if speeds == nil {
		speeds = DefaultSpeeds{}
	}
	e := &Engine{
		graph:    g,
		pool:     pool,
		search:   newSearcher(g, speeds, pool),
		observer: NoopObserver{},
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	e.cond = sync.NewCond(&e.mu)
	e.alive.Store(true)
	go e.loop()
	log.Infof("path engine started with %d lanes", g.LaneCount()-1)
	return e
}

// Submit queues unit for searching. It takes a reservation on the unit that
// the worker drops when the search finishes, and returns false if the unit
// cannot be reserved or the engine is shut down.
func (e *Engine) Submit(unit uint32, skipQueue bool) bool {
	if !e.pool.AddReference(unit) {
		e.observer.OnReject()
		return false
	}
	e.mu.Lock()
	if e.terminated {
		e.mu.Unlock()
		if err := e.pool.Release(unit); err != nil {
			log.Errorf("submit: release unit %d: %v", unit, err)
		}
		e.observer.OnReject()
		return false
	}
	e.pool.Lock()
	u := e.pool.Unit(unit)
	if skipQueue {
		u.NextPathUnit = e.first
		e.first = unit
		if e.last == 0 {
			e.last = unit
		}
	} else {
		u.NextPathUnit = 0
		if e.last != 0 {
			e.pool.Unit(e.last).NextPathUnit = unit
		} else {
			e.first = unit
		}
		e.last = unit
	}
	u.PathFindFlags |= pathunit.FlagQueued
	e.pool.Unlock()
	e.pending++
	pending := e.pending
	e.cond.Broadcast()
	e.mu.Unlock()
	e.observer.OnSubmit(skipQueue, pending)
	return true
}

// CreatePath allocates a unit, fills it from req and submits it. The caller
// owns one reference on the returned unit and must Release it.
func (e *Engine) CreatePath(req Request) (uint32, error) {
	e.mu.Lock()
	stopped := e.terminated
	e.mu.Unlock()
	if stopped || !e.IsAvailable() {
		return 0, ErrShutdown
	}
	if req.StartA.Segment == 0 || e.graph.LaneID(req.StartA.Segment, req.StartA.Lane) == 0 {
		return 0, fmt.Errorf("%w: bad start position %+v", ErrInvalidRequest, req.StartA)
	}
	if req.EndA.Segment == 0 || e.graph.LaneID(req.EndA.Segment, req.EndA.Lane) == 0 {
		return 0, fmt.Errorf("%w: bad end position %+v", ErrInvalidRequest, req.EndA)
	}
	if !(req.MaxLength > 0) {
		return 0, fmt.Errorf("%w: max length %v", ErrInvalidRequest, req.MaxLength)
	}
	id, err := e.pool.CreateItem(nil)
	if err != nil {
		e.observer.OnReject()
		return 0, fmt.Errorf("%w: %w", ErrAllocationExhausted, err)
	}
	e.pool.Lock()
	req.store(e.pool.Unit(id))
	e.pool.Unlock()

	if !e.Submit(id, req.SkipQueue) {
		if err := e.pool.Release(id); err != nil {
			log.Errorf("create path: release unit %d: %v", id, err)
		}
		return 0, ErrRejected
	}
	return id, nil
}

// WaitForAll blocks until the queue is empty and no search is running, or
// the engine is shut down.
func (e *Engine) WaitForAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for (e.first != 0 || e.calculating != 0) && !e.terminated {
		e.cond.Wait()
	}
}

// Pending is the number of queued requests.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending
}

// IsAvailable reports whether the worker is running.
func (e *Engine) IsAvailable() bool {
	return e.alive.Load()
}

// Shutdown stops the worker after the running search and drops the
// reservations of requests still queued. It is safe to call more than once.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	already := e.terminated
	e.terminated = true
	e.cond.Broadcast()
	e.mu.Unlock()
	<-e.done
	if already {
		return
	}

	e.mu.Lock()
	var queued []uint32
	e.pool.Lock()
	for id := e.first; id != 0; {
		u := e.pool.Unit(id)
		queued = append(queued, id)
		id, u.NextPathUnit = u.NextPathUnit, 0
		u.PathFindFlags = u.PathFindFlags&^pathunit.FlagQueued | pathunit.FlagFailed
	}
	e.pool.Unlock()
	e.first, e.last, e.pending = 0, 0, 0
	e.mu.Unlock()
	for _, id := range queued {
		if err := e.pool.Release(id); err != nil {
			log.Errorf("shutdown: release unit %d: %v", id, err)
		}
	}
	log.Infof("path engine stopped, %d queued requests dropped", len(queued))
}

func (e *Engine) loop() {
	defer close(e.done)
	defer e.alive.Store(false)
	for {
		e.mu.Lock()
		for e.first == 0 && !e.terminated {
			e.cond.Wait()
		}
		if e.terminated {
			e.mu.Unlock()
			return
		}
		unit := e.first
		e.pool.Lock()
		u := e.pool.Unit(unit)
		e.first = u.NextPathUnit
		if e.first == 0 {
			e.last = 0
			e.pending = 0
		} else {
			e.pending--
		}
		u.NextPathUnit = 0
		u.PathFindFlags = u.PathFindFlags&^pathunit.FlagQueued | pathunit.FlagCalculating
		e.pool.Unlock()
		e.calculating = unit
		e.mu.Unlock()

		r := e.process(unit)

		if err := e.pool.Release(unit); err != nil {
			log.Errorf("release unit %d: %v", unit, err)
		}
		e.observer.OnComplete(r)
		e.mu.Lock()
		e.calculating = 0
		e.cond.Broadcast()
		e.mu.Unlock()
	}
}

// process runs one search and publishes its outcome through the unit flags.
func (e *Engine) process(unit uint32) (r Result) {
	start := time.Now()
	r.Unit = unit
	defer func() {
		if p := recover(); p != nil {
			r.Err = fmt.Errorf("%w: %v", ErrUnexpected, p)
			log.Errorf("unit %d: search panicked: %v\n%s", unit, p, debug.Stack())
		}
		r.Elapsed = time.Since(start)
		set := pathunit.FlagReady
		if r.Err != nil {
			set = pathunit.FlagFailed
		}
		e.pool.UpdateFlags(unit, set, pathunit.FlagCalculating)
	}()
	st, err := e.search.run(unit)
	r.Err = err
	r.Popped, r.Dropped = st.popped, st.dropped
	r.Positions, r.Records = st.positions, st.records
	switch {
	case err == nil:
		log.Debugf("unit %d: %d positions in %d records, %d popped", unit, st.positions, st.records, st.popped)
	case errors.Is(err, ErrUnreachable), errors.Is(err, ErrInvalidRequest):
		log.Debugf("unit %d: %v", unit, err)
	default:
		log.Errorf("unit %d: %v", unit, err)
	}
	return
}
