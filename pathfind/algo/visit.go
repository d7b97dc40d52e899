package algo

import "git.fiblab.net/sim/lanepath/netgraph"

// LaneTable maps every lane to its live frontier slot, stamped with the
// search epoch, and to its predecessor position.
//
// 每个元素为 epoch<<16 | slot
type LaneTable struct {
	location []uint32
	target   []netgraph.Position
}

func NewLaneTable(laneCount int) *LaneTable {
	t := &LaneTable{
		location: make([]uint32, laneCount),
		target:   make([]netgraph.Position, laneCount),
	}
	t.Reset()
	return t
}

func (t *LaneTable) Len() int {
	return len(t.location)
}

// Reset invalidates every lane. Only needed when the epoch wraps.
func (t *LaneTable) Reset() {
	for i := range t.location {
		t.location[i] = LOCATION_NONE
	}
}

func (t *LaneTable) Peek(lane netgraph.LaneID) (epoch uint32, slot int) {
	v := t.location[lane]
	return v >> 16, int(v & 0xFFFF)
}

func (t *LaneTable) Record(lane netgraph.LaneID, epoch uint32, slot int) {
	t.location[lane] = epoch<<16 | uint32(slot)
}

func (t *LaneTable) Invalidate(lane netgraph.LaneID) {
	t.location[lane] = LOCATION_NONE
}

// Target is the position the route continues with after leaving lane.
func (t *LaneTable) Target(lane netgraph.LaneID) netgraph.Position {
	return t.target[lane]
}

func (t *LaneTable) SetTarget(lane netgraph.LaneID, p netgraph.Position) {
	t.target[lane] = p
}
