package pathfind

import (
	"git.fiblab.net/sim/lanepath/netgraph"
	"git.fiblab.net/sim/lanepath/pathfind/algo"
	"git.fiblab.net/sim/lanepath/pathunit"
)

// searcher holds the worker-owned scratch and the state of the request being
// searched. Only the worker goroutine touches it.
type searcher struct {
	graph  Graph
	speeds SpeedLimits
	pool   *pathunit.Pool
	queue  *algo.BucketQueue
	table  *algo.LaneTable

	// 当前请求
	unit      uint32
	epoch     uint32
	rnd       algo.Randomizer
	maxLength float32

	laneTypes    netgraph.LaneType
	vehicleTypes netgraph.VehicleType
	carBanMask   netgraph.SegmentFlags
	disableMask  netgraph.SegmentFlags

	ignoreBlocked    bool
	stablePath       bool
	randomParking    bool
	transportVehicle bool
	ignoreCost       bool

	startA, startB         netgraph.Position
	startLaneA, startLaneB netgraph.LaneID
	endA, endB             netgraph.Position
	endLaneA, endLaneB     netgraph.LaneID
	vehicleLane            netgraph.LaneID
	vehicleOffset          uint8
}

func newSearcher(g Graph, speeds SpeedLimits, pool *pathunit.Pool) *searcher {
	table := algo.NewLaneTable(g.LaneCount())
	return &searcher{
		graph:  g,
		speeds: speeds,
		pool:   pool,
		queue:  algo.NewBucketQueue(table),
		table:  table,
	}
}

// laneSpeed is the speed used for travel between two offsets of a lane,
// slowed down when moving against an avoid direction.
func (s *searcher) laneSpeed(
	startOffset, endOffset uint8,
	seg *netgraph.Segment, info *netgraph.LaneInfo, lane netgraph.LaneID,
) float32 {
	dir := info.FinalDirection
	if seg.Flags&netgraph.SegmentInvert != 0 {
		dir = dir.Invert()
	}
	speed := s.speeds.LaneSpeedLimit(lane, info)
	if dir&netgraph.DirectionAvoid == 0 {
		return speed
	}
	if (endOffset > startOffset && dir == netgraph.DirectionAvoidForward) ||
		(endOffset < startOffset && dir == netgraph.DirectionAvoidBackward) {
		return speed * 0.1
	}
	return speed * 0.2
}

// laneDirection is the travel direction of a lane in segment coordinates.
func laneDirection(seg *netgraph.Segment, info *netgraph.LaneInfo) netgraph.Direction {
	if seg.Flags&netgraph.SegmentInvert != 0 {
		return info.FinalDirection.Invert()
	}
	return info.FinalDirection
}

// reachesOffset reports whether moving along dir from offset arrives at target.
func reachesOffset(dir netgraph.Direction, offset, target uint8) bool {
	return (dir&netgraph.DirectionForward != 0 && offset >= target) ||
		(dir&netgraph.DirectionBackward != 0 && offset <= target)
}

func offsetDelta(a, b uint8) float32 {
	if a > b {
		return float32(a - b)
	}
	return float32(b - a)
}

// prevLane is what the relaxations need to know about the lane of the popped
// item. Unknown lanes keep speed 1 and no type.
type prevLane struct {
	seg       *netgraph.Segment
	info      *netgraph.LaneInfo
	laneType  netgraph.LaneType
	vehicles  netgraph.VehicleType
	speed     float32
	laneSpeed float32
	refLength float32
}

func (s *searcher) prevLane(item *algo.Item, fromOffset uint8) prevLane {
	seg := s.graph.Segment(item.Position.Segment)
	p := prevLane{seg: seg, speed: 1, laneSpeed: 1, refLength: seg.AverageLength}
	if seg.Info == nil || int(item.Position.Lane) >= len(seg.Info.Lanes) {
		return p
	}
	p.info = &seg.Info.Lanes[item.Position.Lane]
	p.laneType = p.info.LaneType
	p.vehicles = p.info.VehicleType
	p.speed = s.speeds.LaneSpeedLimit(item.LaneID, p.info)
	p.laneSpeed = s.laneSpeed(fromOffset, item.Position.Offset, seg, p.info, item.LaneID)
	if p.laneType == netgraph.LaneTypePublicTransport {
		p.refLength = s.graph.Lane(item.LaneID).Length
	}
	return p
}

// ticket adds the fare of the item lane to a comparison value.
func (s *searcher) ticket(item *algo.Item, comparison float32) float32 {
	if s.ignoreCost {
		return comparison
	}
	cost := s.graph.Lane(item.LaneID).TicketCost
	if cost == 0 {
		return comparison
	}
	return comparison + float32(cost)*float32(s.rnd.UInt32(TICKET_RANDOM))*TICKET_FACTOR
}

// originLeg accounts for the stretch between a start offset and the entry
// offset when next lies on a start lane. It reports false when the entry
// cannot be reached from that start.
func (s *searcher) originLeg(next *algo.Item, lane netgraph.LaneID, seg *netgraph.Segment, info *netgraph.LaneInfo) bool {
	for _, o := range [...]struct {
		lane netgraph.LaneID
		pos  netgraph.Position
	}{{s.startLaneA, s.startA}, {s.startLaneB, s.startB}} {
		if o.lane == 0 || o.lane != lane {
			continue
		}
		if !reachesOffset(next.Direction, next.Position.Offset, o.pos.Offset) {
			return false
		}
		speed := s.laneSpeed(o.pos.Offset, next.Position.Offset, seg, info, lane)
		d := offsetDelta(next.Position.Offset, o.pos.Offset) * algo.OFFSET_FACTOR * seg.AverageLength
		next.ComparisonValue += d / (speed * s.maxLength)
		next.Duration += d / speed
	}
	return true
}
