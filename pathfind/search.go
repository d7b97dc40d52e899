package pathfind

import (
	"fmt"

	"git.fiblab.net/sim/lanepath/netgraph"
	"git.fiblab.net/sim/lanepath/pathfind/algo"
	"git.fiblab.net/sim/lanepath/pathunit"
)

// stats is filled by a search for the observer.
type stats struct {
	popped    int
	dropped   int
	positions int
	records   int
}

// load decodes the request stored in the unit and prepares per-request state.
func (s *searcher) load(unit uint32) error {
	u := s.pool.Unit(unit)
	s.unit = unit
	s.laneTypes = u.LaneTypes
	s.vehicleTypes = u.VehicleTypes
	s.maxLength = u.Length
	if !(s.maxLength > 0) {
		return fmt.Errorf("%w: unit %d max length %v", ErrInvalidRequest, unit, u.Length)
	}
	if s.laneTypes&netgraph.LaneTypeVehicle != 0 {
		s.laneTypes |= netgraph.LaneTypeTransportVehicle
	}
	s.transportVehicle = s.laneTypes&netgraph.LaneTypeTransportVehicle != 0

	flags := u.SimulationFlags
	s.ignoreBlocked = flags&pathunit.SimIgnoreBlocked != 0
	s.stablePath = flags&pathunit.SimStablePath != 0
	s.randomParking = flags&pathunit.SimRandomParking != 0
	s.ignoreCost = s.stablePath || flags&pathunit.SimIgnoreCost != 0
	s.carBanMask = netgraph.SegmentCarBan
	if flags&pathunit.SimHeavyBan != 0 {
		s.carBanMask |= netgraph.SegmentHeavyBan
	}
	if flags&pathunit.SimWaitingPathBan != 0 {
		s.carBanMask |= netgraph.SegmentWaitingPath
	}
	s.disableMask = netgraph.SegmentCollapsed | netgraph.SegmentPathFailed
	if flags&pathunit.SimIgnoreFlooded == 0 {
		s.disableMask |= netgraph.SegmentFlooded
	}

	s.rnd = algo.NewRandomizer(uint64(unit))

	n := u.EndpointCount()
	s.startA, s.startLaneA = s.endpoint(u, pathunit.SlotStartA, n >= 1)
	s.endA, s.endLaneA = s.endpoint(u, pathunit.SlotEndA, n >= 2)
	s.startB, s.startLaneB = s.endpoint(u, pathunit.SlotStartB, n >= 3)
	s.endB, s.endLaneB = s.endpoint(u, pathunit.SlotEndB, n >= 4)
	var vehicle netgraph.Position
	vehicle, s.vehicleLane = s.endpoint(u, pathunit.SlotVehicle, u.VehicleCount() >= 1)
	s.vehicleOffset = vehicle.Offset
	return nil
}

// endpoint reads one request slot. Slots that are not in use or do not name
// an existing lane resolve to the zero position and lane 0.
func (s *searcher) endpoint(u *pathunit.Unit, slot int, used bool) (netgraph.Position, netgraph.LaneID) {
	if !used {
		return netgraph.Position{}, 0
	}
	p := u.Position(slot)
	if p.Segment == 0 {
		return netgraph.Position{}, 0
	}
	lane := s.graph.LaneID(p.Segment, p.Lane)
	if lane == 0 {
		return netgraph.Position{}, 0
	}
	return p, lane
}

// seed pushes a destination position into bucket 0.
func (s *searcher) seed(p netgraph.Position, lane netgraph.LaneID) {
	if lane == 0 {
		return
	}
	item := algo.Item{
		Position:       p,
		MethodDistance: SEED_METHOD_DISTANCE,
		LaneID:         lane,
	}
	seg := s.graph.Segment(p.Segment)
	if seg.Info != nil && int(p.Lane) < len(seg.Info.Lanes) {
		info := &seg.Info.Lanes[p.Lane]
		item.Direction = laneDirection(seg, info)
		item.LanesUsed = info.LaneType
	}
	s.queue.Seed(item)
}

// isOrigin reports whether a popped item stands on the given start lane at an
// offset from which the start is reachable.
func isOrigin(item *algo.Item, start netgraph.Position, lane netgraph.LaneID) bool {
	return lane != 0 && item.LaneID == lane &&
		reachesOffset(item.Direction, item.Position.Offset, start.Offset)
}

// run searches the request stored in unit backwards from its destinations and
// writes the route into the unit chain.
func (s *searcher) run(unit uint32) (st stats, err error) {
	if err = s.load(unit); err != nil {
		return
	}
	token := s.graph.BeginRead()
	defer s.graph.EndRead(token)

	s.epoch = s.queue.Begin()
	s.seed(s.endA, s.endLaneA)
	s.seed(s.endB, s.endLaneB)

	var (
		found        bool
		winner       algo.Item
		originOffset uint8
	)
	for {
		item, ok := s.queue.PopMin()
		if !ok {
			break
		}
		st.popped++
		if isOrigin(&item, s.startA, s.startLaneA) {
			found, winner, originOffset = true, item, s.startA.Offset
			break
		}
		if isOrigin(&item, s.startB, s.startLaneB) {
			found, winner, originOffset = true, item, s.startB.Offset
			break
		}
		s.expand(item)
	}
	st.dropped = s.queue.Dropped()
	if !found {
		err = fmt.Errorf("%w: unit %d", ErrUnreachable, unit)
		return
	}
	st.positions, st.records, err = s.reconstruct(unit, winner, originOffset)
	return
}

// expand relaxes a popped item at both segment ends and at every lane node
// placed along its lane.
func (s *searcher) expand(item algo.Item) {
	g := s.graph
	seg := g.Segment(item.Position.Segment)
	if item.Direction&netgraph.DirectionForward != 0 {
		s.processMain(item, seg.StartNode, 0, false)
	}
	if item.Direction&netgraph.DirectionBackward != 0 {
		s.processMain(item, seg.EndNode, 255, false)
	}

	// 车道上的中间节点（站点等）
	endsDisabled := (g.Node(seg.StartNode).Flags|g.Node(seg.EndNode).Flags)&netgraph.NodeDisabled != 0
	nodeID := g.Lane(item.LaneID).Nodes
	for i := 0; nodeID != 0 && i < LANE_NODE_LIMIT; i++ {
		node := g.Node(nodeID)
		var dir netgraph.Direction
		if node.LaneOffset <= item.Position.Offset {
			dir |= netgraph.DirectionForward
		}
		if node.LaneOffset >= item.Position.Offset {
			dir |= netgraph.DirectionBackward
		}
		if item.Direction&dir != 0 && (!endsDisabled || node.Flags&netgraph.NodeDisabled != 0) {
			s.processMain(item, nodeID, node.LaneOffset, true)
		}
		nodeID = node.NextLaneNode
	}
}
