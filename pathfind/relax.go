package pathfind

import (
	"git.fiblab.net/sim/lanepath/netgraph"
	"git.fiblab.net/sim/lanepath/pathfind/algo"
)

// processMain expands a popped item at one of its nodes. connectOffset is the
// offset of the item lane at that node; isMiddle marks a lane node passed
// along the lane rather than a segment end.
func (s *searcher) processMain(item algo.Item, nodeID netgraph.NodeID, connectOffset uint8, isMiddle bool) {
	g := s.graph
	node := g.Node(nodeID)
	segID := item.Position.Segment
	seg := g.Segment(segID)
	laneIndex := int(item.Position.Lane)

	var isPedestrian, isBicycle, centerPlatform, elevated bool
	fromInner := 0
	if seg.Info != nil && laneIndex < len(seg.Info.Lanes) {
		lane := &seg.Info.Lanes[laneIndex]
		isPedestrian = lane.LaneType == netgraph.LaneTypePedestrian
		isBicycle = lane.LaneType == netgraph.LaneTypeVehicle &&
			lane.VehicleType&s.vehicleTypes == netgraph.VehicleTypeBicycle
		centerPlatform = lane.CenterPlatform
		elevated = lane.Elevated
		if lane.FinalDirection&netgraph.DirectionForward != 0 {
			fromInner = lane.SimilarLaneIndex
		} else {
			fromInner = lane.SimilarLaneCount - lane.SimilarLaneIndex - 1
		}
	}

	switch {
	case isMiddle:
		for _, next := range node.Segments {
			if next != 0 {
				s.processCosts(item, nodeID, next, &fromInner, connectOffset, !isPedestrian, isPedestrian)
			}
		}
	case isPedestrian:
		if !elevated {
			s.pedestrianSwitch(item, nodeID, node, connectOffset, centerPlatform, &fromInner)
		}
	default:
		s.vehicleTurns(item, nodeID, node, connectOffset, isBicycle, &fromInner)
	}

	if node.Lane == 0 {
		return
	}
	// 节点挂接的换乘车道
	targetDisabled := node.Flags&(netgraph.NodeDisabled|netgraph.NodeDisableOnlyMiddle) == netgraph.NodeDisabled
	transfer := g.Lane(node.Lane).Segment
	if transfer != 0 && transfer != segID {
		s.processPublicTransport(item, targetDisabled, transfer, node.Lane, node.LaneOffset, connectOffset)
	}
}

// pedestrianSwitch handles a pedestrian item at a node: crossing to the
// nearest sidewalks, footpath junctions, bicycles and getting into a vehicle.
func (s *searcher) pedestrianSwitch(
	item algo.Item, nodeID netgraph.NodeID, node *netgraph.Node,
	connectOffset uint8, centerPlatform bool, fromInner *int,
) {
	g := s.graph
	segID := item.Position.Segment
	seg := g.Segment(segID)
	laneIndex := int(item.Position.Lane)

	if node.Flags&netgraph.NodeFootpath == 0 {
		atCorner := node.Flags&(netgraph.NodeEnd|netgraph.NodeBend|netgraph.NodeJunction) != 0
		platform := centerPlatform && node.Flags&(netgraph.NodeEnd|netgraph.NodeJunction) == 0
		leftSeg, rightSeg := segID, segID
		left, right := g.LeftAndRightLanes(segID, nodeID, netgraph.LaneTypePedestrian, netgraph.VehicleTypeNone, laneIndex)
		if left.ID == 0 || right.ID == 0 {
			l, r := g.LeftAndRightSegments(segID, nodeID)
			// 左侧路段取其最右的人行道
			for hops := 0; l != 0 && l != segID && left.ID == 0; {
				_, lane := g.LeftAndRightLanes(l, nodeID, netgraph.LaneTypePedestrian, netgraph.VehicleTypeNone, -1)
				if lane.ID != 0 {
					leftSeg, left = l, lane
				} else {
					l = g.LeftSegment(l, nodeID)
				}
				if hops++; hops == NEIGHBOUR_HOPS {
					break
				}
			}
			// 右侧路段取其最左的人行道
			for hops := 0; r != 0 && r != segID && right.ID == 0; {
				lane, _ := g.LeftAndRightLanes(r, nodeID, netgraph.LaneTypePedestrian, netgraph.VehicleTypeNone, -1)
				if lane.ID != 0 {
					rightSeg, right = r, lane
				} else {
					r = g.RightSegment(r, nodeID)
				}
				if hops++; hops == NEIGHBOUR_HOPS {
					break
				}
			}
		}
		if left.ID != 0 && (leftSeg != segID || atCorner || platform) {
			s.processPedBicycle(item, nodeID, leftSeg, connectOffset, connectOffset, left.Index, left.ID)
		}
		if right.ID != 0 && right.ID != left.ID && (rightSeg != segID || atCorner || platform) {
			s.processPedBicycle(item, nodeID, rightSeg, connectOffset, connectOffset, right.Index, right.ID)
		}
		if s.vehicleTypes&netgraph.VehicleTypeBicycle != 0 {
			if bike, ok := g.ClosestLane(segID, laneIndex, netgraph.LaneTypeVehicle, netgraph.VehicleTypeBicycle); ok {
				s.processPedBicycle(item, nodeID, segID, connectOffset, connectOffset, bike.Index, bike.ID)
			}
		}
	} else {
		for _, next := range node.Segments {
			if next != 0 && next != segID {
				s.processCosts(item, nodeID, next, fromInner, connectOffset, false, true)
			}
		}
	}

	// 上车：从人行道切换到同一路段的车道
	laneTypes := s.laneTypes &^ netgraph.LaneTypePedestrian
	vehicleTypes := s.vehicleTypes &^ netgraph.VehicleTypeBicycle
	if item.LanesUsed&netgraph.LaneTypeAnyVehicle != 0 {
		laneTypes &^= netgraph.LaneTypeAnyVehicle
	}
	if laneTypes == 0 || vehicleTypes == 0 {
		return
	}
	ref, ok := g.ClosestLane(segID, laneIndex, laneTypes, vehicleTypes)
	if !ok {
		return
	}
	lane := &seg.Info.Lanes[ref.Index]
	var connect uint8 = 254
	if (seg.Flags&netgraph.SegmentInvert != 0) == (lane.FinalDirection&netgraph.DirectionBackward != 0) {
		connect = 1
	}
	if s.randomParking {
		item.ComparisonValue += float32(s.rnd.Int32(PARKING_RANDOM)) / s.maxLength
	}
	s.processPedBicycle(item, nodeID, segID, connect, 128, ref.Index, ref.ID)
}

// vehicleTurns handles a vehicle or bicycle item at a segment end node.
func (s *searcher) vehicleTurns(
	item algo.Item, nodeID netgraph.NodeID, node *netgraph.Node,
	connectOffset uint8, isBicycle bool, fromInner *int,
) {
	g := s.graph
	segID := item.Position.Segment

	// 下车换步行的位置
	allowPedestrian := s.laneTypes&netgraph.LaneTypePedestrian != 0
	enablePedestrian := false
	var switchOffset uint8
	if allowPedestrian {
		switch {
		case isBicycle:
			switchOffset = connectOffset
			enablePedestrian = node.Flags&netgraph.NodeFootpath != 0
		case s.vehicleLane != 0:
			if s.vehicleLane != item.LaneID {
				allowPedestrian = false
			} else {
				switchOffset = s.vehicleOffset
			}
		case s.stablePath:
			switchOffset = 128
		default:
			switchOffset = uint8(s.rnd.UInt32Range(1, 254))
		}
	}

	if s.vehicleTypes&(netgraph.VehicleTypeFerry|netgraph.VehicleTypeMonorail) != 0 {
		for _, next := range node.Segments {
			if next != 0 && next != segID {
				s.processCosts(item, nodeID, next, fromInner, connectOffset, true, enablePedestrian)
			}
		}
		if node.Flags&(netgraph.NodeEnd|netgraph.NodeBend|netgraph.NodeJunction) != 0 &&
			s.vehicleTypes&netgraph.VehicleTypeMonorail == 0 {
			s.processCosts(item, nodeID, segID, fromInner, connectOffset, true, false)
		}
	} else {
		uturn := node.Flags&(netgraph.NodeEnd|netgraph.NodeOneWayOut) != 0
		next := g.RightSegment(segID, nodeID)
		for i := 0; i < netgraph.MaxNodeSegments && next != 0 && next != segID; i++ {
			if s.processCosts(item, nodeID, next, fromInner, connectOffset, true, enablePedestrian) {
				uturn = true
			}
			next = g.RightSegment(next, nodeID)
		}
		if uturn && s.vehicleTypes&netgraph.VehicleTypeTram == 0 {
			s.processCosts(item, nodeID, segID, fromInner, connectOffset, true, false)
		}
	}

	if allowPedestrian {
		if ref, ok := g.ClosestLane(segID, int(item.Position.Lane), netgraph.LaneTypePedestrian, s.vehicleTypes); ok {
			s.processPedBicycle(item, nodeID, segID, switchOffset, switchOffset, ref.Index, ref.ID)
		}
	}
}

// processCosts relaxes every lane of nextSegID leaving nodeID. It reports
// whether the segment is blocked for vehicles, which enables a U-turn.
func (s *searcher) processCosts(
	item algo.Item, nodeID netgraph.NodeID, nextSegID netgraph.SegmentID,
	laneIndexFromInner *int, connectOffset uint8,
	enableVehicle, enablePedestrian bool,
) bool {
	g := s.graph
	nextSeg := g.Segment(nextSegID)
	if nextSeg.Flags&s.disableMask != 0 || nextSeg.Info == nil {
		return false
	}
	info := nextSeg.Info
	prev := s.prevLane(&item, connectOffset)

	direction := netgraph.DirectionBackward
	if nodeID != nextSeg.StartNode {
		direction = netgraph.DirectionForward
	}
	finalDirection := direction
	if nextSeg.Flags&netgraph.SegmentInvert != 0 {
		finalDirection = direction.Invert()
	}

	// 非汽车载具不允许急转弯
	sharpTurn := false
	if prev.laneType == netgraph.LaneTypeVehicle && prev.vehicles&netgraph.VehicleTypeCar == 0 {
		limit := 0.01 - min(info.MaxTurnAngleCos, prev.seg.Info.MaxTurnAngleCos)
		if limit < 1 {
			a := prev.seg.Direction(nodeID)
			b := nextSeg.Direction(nodeID)
			sharpTurn = a.X*b.X+a.Z*b.Z >= limit
		}
	}

	distance := offsetDelta(connectOffset, item.Position.Offset) * algo.OFFSET_FACTOR * prev.refLength
	methodDistance := item.MethodDistance + distance
	duration := item.Duration + distance/prev.speed
	if !s.stablePath {
		jitter := algo.NewRandomizer(uint64(s.epoch<<16 | uint32(item.Position.Segment)))
		k := jitter.Int32Range(900, 1000+int32(prev.seg.TrafficDensity)*10) + s.rnd.Int32(20)
		distance *= float32(k) * 0.001
	}
	if prev.laneType&netgraph.LaneTypeAnyVehicle != 0 &&
		prev.vehicles&s.vehicleTypes == netgraph.VehicleTypeCar &&
		prev.seg.Flags&s.carBanMask != 0 {
		distance *= CAR_BAN_FACTOR
	}
	if s.transportVehicle && prev.laneType == netgraph.LaneTypeTransportVehicle {
		distance *= TRANSPORT_DISCOUNT
	}
	comparison := s.ticket(&item, item.ComparisonValue+distance/(prev.laneSpeed*s.maxLength))

	laneType := prev.laneType
	if laneType&netgraph.LaneTypeAnyVehicle != 0 {
		laneType |= netgraph.LaneTypeAnyVehicle
	}
	from := g.LanePosition(item.LaneID, connectOffset)
	transition := g.Node(nodeID).Flags&netgraph.NodeTransition != 0

	allowedLanes, allowedVehicles := s.laneTypes, s.vehicleTypes
	if !enableVehicle {
		allowedVehicles &= netgraph.VehicleTypeBicycle
		if allowedVehicles == 0 {
			allowedLanes &^= netgraph.LaneTypeAnyVehicle
		}
	}
	if !enablePedestrian {
		allowedLanes &^= netgraph.LaneTypePedestrian
	}

	blocked := false
	fromInner := *laneIndexFromInner
	laneID := nextSeg.Lanes
	for i := 0; i < len(info.Lanes) && laneID != 0; i, laneID = i+1, g.Lane(laneID).NextLane {
		lane := &info.Lanes[i]
		if lane.FinalDirection&finalDirection == 0 {
			if lane.LaneType&laneType != 0 && lane.VehicleType&prev.vehicles != 0 {
				fromInner++
			}
			continue
		}
		if !lane.CheckType(allowedLanes, allowedVehicles) ||
			(nextSegID == item.Position.Segment && i == int(item.Position.Lane)) {
			continue
		}
		if sharpTurn && lane.LaneType == netgraph.LaneTypeVehicle && lane.VehicleType&netgraph.VehicleTypeCar == 0 {
			continue
		}

		var to netgraph.Vec3
		next := algo.Item{
			Position:  netgraph.Position{Segment: nextSegID, Lane: uint8(i)},
			Direction: direction,
			LaneID:    laneID,
			LanesUsed: item.LanesUsed | lane.LaneType,
		}
		if direction&netgraph.DirectionForward != 0 {
			to = g.Lane(laneID).Bezier.D
			next.Position.Offset = 255
		} else {
			to = g.Lane(laneID).Bezier.A
		}
		connect := netgraph.Distance(to, from)
		if transition {
			connect *= 2
		}
		if lane.LaneType&laneType != 0 {
			next.MethodDistance = methodDistance + connect
		}
		if lane.LaneType == netgraph.LaneTypePedestrian && !(next.MethodDistance < PEDESTRIAN_MAX_DISTANCE) && !s.stablePath {
			continue
		}
		avgSpeed := (prev.speed + s.speeds.LaneSpeedLimit(laneID, lane)) * 0.5
		next.ComparisonValue = comparison + connect/(avgSpeed*s.maxLength)
		next.Duration = duration + connect/avgSpeed
		if !s.originLeg(&next, laneID, nextSeg, lane) {
			continue
		}
		if !s.ignoreBlocked && nextSeg.Flags&netgraph.SegmentBlocked != 0 && lane.LaneType&netgraph.LaneTypeAnyVehicle != 0 {
			next.ComparisonValue += BLOCKED_PENALTY
			blocked = true
		}
		if lane.LaneType&laneType != 0 && lane.VehicleType&s.vehicleTypes != 0 {
			// 不在导向车道范围内需要变道
			l := g.Lane(laneID)
			if *laneIndexFromInner < int(l.FirstTarget) || *laneIndexFromInner >= int(l.LastTarget) {
				next.ComparisonValue += max(1, connect*3-3) / (avgSpeed * s.maxLength)
			}
			if !s.transportVehicle && lane.LaneType == netgraph.LaneTypeTransportVehicle {
				next.ComparisonValue += TRANSPORT_WAIT / (avgSpeed * s.maxLength)
			}
		}
		s.queue.Push(next, item.Position)
	}
	*laneIndexFromInner = fromInner
	return blocked
}

// processPedBicycle relaxes a single lateral switch onto a pedestrian or
// bicycle lane, or between such a lane and a vehicle lane of the same segment.
func (s *searcher) processPedBicycle(
	item algo.Item, nodeID netgraph.NodeID, nextSegID netgraph.SegmentID,
	connectOffset, laneSwitchOffset uint8,
	nextLaneIndex int, nextLaneID netgraph.LaneID,
) {
	g := s.graph
	nextSeg := g.Segment(nextSegID)
	if nextSeg.Flags&s.disableMask != 0 || nextSeg.Info == nil {
		return
	}
	prev := s.prevLane(&item, laneSwitchOffset)
	from := g.LanePosition(item.LaneID, laneSwitchOffset)
	laneType := prev.laneType
	if laneType&netgraph.LaneTypeAnyVehicle != 0 {
		laneType |= netgraph.LaneTypeAnyVehicle
	}
	distance := offsetDelta(laneSwitchOffset, item.Position.Offset) * algo.OFFSET_FACTOR * prev.refLength
	methodDistance := item.MethodDistance + distance
	// 票价随机数在车道检查之前抽取
	comparison := s.ticket(&item, item.ComparisonValue+distance/(prev.laneSpeed*s.maxLength))
	duration := item.Duration + distance/prev.speed
	if nextLaneIndex >= len(nextSeg.Info.Lanes) {
		return
	}

	lane := &nextSeg.Info.Lanes[nextLaneIndex]
	next := algo.Item{
		Position:  netgraph.Position{Segment: nextSegID, Lane: uint8(nextLaneIndex)},
		LaneID:    nextLaneID,
		LanesUsed: item.LanesUsed | lane.LaneType,
	}
	var connect float32
	switch {
	case nextSegID == item.Position.Segment:
		connect = netgraph.Distance(g.LanePosition(nextLaneID, connectOffset), from)
		next.Position.Offset = connectOffset
	case nodeID != nextSeg.StartNode:
		connect = netgraph.Distance(g.Lane(nextLaneID).Bezier.D, from)
		next.Position.Offset = 255
	default:
		connect = netgraph.Distance(g.Lane(nextLaneID).Bezier.A, from)
	}

	if lane.LaneType&laneType != 0 {
		if item.MethodDistance == 0 {
			comparison += MODE_SWITCH_COST / (0.25 * s.maxLength)
		}
		next.MethodDistance = methodDistance + connect
	}
	if lane.LaneType == netgraph.LaneTypePedestrian && !(next.MethodDistance < PEDESTRIAN_MAX_DISTANCE) && !s.stablePath {
		return
	}
	nextSpeed := s.speeds.LaneSpeedLimit(nextLaneID, lane)
	next.ComparisonValue = comparison + connect/((prev.speed+nextSpeed)*0.25*s.maxLength)
	next.Duration = duration + connect/((prev.speed+nextSpeed)*0.5)
	next.Direction = laneDirection(nextSeg, lane)
	if !s.originLeg(&next, nextLaneID, nextSeg, lane) {
		return
	}
	s.queue.Push(next, item.Position)
}

// processPublicTransport jumps from a node to the transfer lane attached to it.
func (s *searcher) processPublicTransport(
	item algo.Item, targetDisabled bool,
	nextSegID netgraph.SegmentID, nextLaneID netgraph.LaneID,
	offset, connectOffset uint8,
) {
	g := s.graph
	nextSeg := g.Segment(nextSegID)
	if nextSeg.Flags&s.disableMask != 0 || nextSeg.Info == nil {
		return
	}
	if targetDisabled &&
		(g.Node(nextSeg.StartNode).Flags|g.Node(nextSeg.EndNode).Flags)&netgraph.NodeDisabled == 0 {
		return
	}
	prev := s.prevLane(&item, connectOffset)
	laneType := prev.laneType
	if laneType&netgraph.LaneTypeAnyVehicle != 0 {
		laneType |= netgraph.LaneTypeAnyVehicle
	}
	distance := offsetDelta(connectOffset, item.Position.Offset) * algo.OFFSET_FACTOR * prev.refLength
	methodDistance := item.MethodDistance + distance
	comparison := s.ticket(&item, item.ComparisonValue+distance/(prev.laneSpeed*s.maxLength))
	duration := item.Duration + distance/prev.speed

	index := -1
	for i, id := 0, nextSeg.Lanes; i < len(nextSeg.Info.Lanes) && id != 0; i, id = i+1, g.Lane(id).NextLane {
		if id == nextLaneID {
			index = i
			break
		}
	}
	if index < 0 {
		return
	}
	lane := &nextSeg.Info.Lanes[index]
	if !lane.CheckType(s.laneTypes, s.vehicleTypes) {
		return
	}
	connect := netgraph.Distance(g.LanePosition(nextLaneID, offset), g.LanePosition(item.LaneID, connectOffset))

	next := algo.Item{
		Position:  netgraph.Position{Segment: nextSegID, Lane: uint8(index), Offset: offset},
		LaneID:    nextLaneID,
		LanesUsed: item.LanesUsed | lane.LaneType,
		Direction: laneDirection(nextSeg, lane),
	}
	if lane.LaneType&laneType != 0 {
		next.MethodDistance = methodDistance + connect
	}
	if lane.LaneType == netgraph.LaneTypePedestrian && !(next.MethodDistance < PEDESTRIAN_MAX_DISTANCE) && !s.stablePath {
		return
	}
	avgSpeed := (prev.speed + s.speeds.LaneSpeedLimit(nextLaneID, lane)) * 0.5
	next.ComparisonValue = comparison + connect/(avgSpeed*s.maxLength)
	next.Duration = duration + connect/avgSpeed
	if !s.originLeg(&next, nextLaneID, nextSeg, lane) {
		return
	}
	s.queue.Push(next, item.Position)
}
