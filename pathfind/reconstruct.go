package pathfind

import (
	"fmt"

	"git.fiblab.net/sim/lanepath/netgraph"
	"git.fiblab.net/sim/lanepath/pathfind/algo"
	"git.fiblab.net/sim/lanepath/pathunit"
	"github.com/samber/lo"
)

// isDestination reports whether p is exactly one of the seeded destinations.
func (s *searcher) isDestination(p netgraph.Position) bool {
	return (s.endLaneA != 0 && p == s.endA) || (s.endLaneB != 0 && p == s.endB)
}

// reconstruct follows the predecessor map from the winning item to a
// destination, writing positions into unit and as many continuation units as
// needed. It returns the number of positions and of units written.
func (s *searcher) reconstruct(unit uint32, winner algo.Item, originOffset uint8) (int, int, error) {
	g := s.graph
	seeded := s.isDestination(winner.Position)
	if seeded && originOffset != winner.Position.Offset {
		// 起点与终点在同一车道上
		seg := g.Segment(winner.Position.Segment)
		info := &seg.Info.Lanes[winner.Position.Lane]
		speed := s.laneSpeed(originOffset, winner.Position.Offset, seg, info, winner.LaneID)
		d := offsetDelta(originOffset, winner.Position.Offset) * algo.OFFSET_FACTOR * seg.AverageLength
		winner.MethodDistance += d
		winner.Duration += d / speed
	}

	total := winner.MethodDistance
	if s.laneTypes != netgraph.LaneTypePedestrian && s.laneTypes&netgraph.LaneTypePedestrian != 0 {
		total = winner.Duration
	}
	speed := lo.Clamp(winner.MethodDistance*100/max(0.01, winner.Duration), 0, 255)

	head := s.pool.Unit(unit)
	s.pool.Lock()
	head.Length = total
	head.Speed = uint8(speed)
	head.PositionCount = 0
	s.pool.Unlock()

	w := chainWriter{s: s, cur: unit, records: 1}
	fail := func(err error) (int, int, error) {
		w.flush()
		return w.total(), w.records, err
	}
	if originOffset != winner.Position.Offset {
		p := winner.Position
		p.Offset = originOffset
		if err := w.put(p); err != nil {
			return fail(err)
		}
	}

	pos := winner.Position
	if !seeded {
		if err := w.put(pos); err != nil {
			return fail(err)
		}
		pos = s.table.Target(winner.LaneID)
	}
	limit := g.LaneCount()
	for steps := 0; ; steps++ {
		if steps >= limit {
			log.Errorf("unit %d: predecessor chain exceeds %d steps", unit, limit)
			return fail(fmt.Errorf("%w: unit %d", ErrCorruptChain, unit))
		}
		if err := w.put(pos); err != nil {
			return fail(err)
		}
		if s.isDestination(pos) {
			break
		}
		pos = s.table.Target(g.LaneID(pos.Segment, pos.Lane))
	}
	w.flush()
	s.distribute(unit, total, w.total())
	return w.total(), w.records, nil
}

// chainWriter appends positions to a unit chain, extending it under the pool
// lock whenever the current unit is full.
type chainWriter struct {
	s       *searcher
	cur     uint32
	count   int
	written int
	records int
}

func (w *chainWriter) put(p netgraph.Position) error {
	pool := w.s.pool
	if w.count == pathunit.MaxPositions {
		pool.Lock()
		next, ok := pool.ExtendLocked(w.cur, &w.s.rnd)
		if ok {
			pool.Unit(w.cur).PositionCount = pathunit.MaxPositions
		}
		pool.Unlock()
		if !ok {
			return fmt.Errorf("%w: unit %d", ErrAllocationExhausted, w.s.unit)
		}
		w.written += w.count
		w.cur, w.count = next, 0
		w.records++
	}
	pool.Unit(w.cur).Positions[w.count] = p
	w.count++
	return nil
}

func (w *chainWriter) flush() {
	w.s.pool.Lock()
	w.s.pool.Unit(w.cur).PositionCount = uint8(w.count)
	w.s.pool.Unlock()
}

func (w *chainWriter) total() int {
	return w.written + w.count
}

// distribute splits the route length over the chain by position count.
func (s *searcher) distribute(unit uint32, total float32, positions int) {
	if positions == 0 {
		return
	}
	s.pool.Lock()
	defer s.pool.Unlock()
	for id := unit; id != 0; id = s.pool.Unit(id).NextPathUnit {
		u := s.pool.Unit(id)
		u.Length = total * float32(u.PositionCount) / float32(positions)
	}
}
