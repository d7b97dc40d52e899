package netgraph

import "math"

// 路口处的左右关系均以"站在路段上面向该节点"为参考系

// sweep returns the rotation angle in [0, 2π) from base towards the right-hand
// normal of base, measured in the horizontal plane.
func sweep(base, d Vec3) float64 {
	right := Vec3{X: base.Z, Z: -base.X}
	a := math.Atan2(float64(d.X*right.X+d.Z*right.Z), float64(d.X*base.X+d.Z*base.Z))
	if a <= 0 {
		a += 2 * math.Pi
	}
	return a
}

// LeftAndRightSegments returns the neighbouring segments of seg at node. With
// a single other segment both results are that segment; with none both are 0.
func (n *Network) LeftAndRightSegments(seg SegmentID, node NodeID) (left, right SegmentID) {
	base := n.segments[seg].Direction(node)
	minA, maxA := math.Inf(1), math.Inf(-1)
	for _, s := range n.nodes[node].Segments {
		if s == 0 || s == seg {
			continue
		}
		a := sweep(base, n.segments[s].Direction(node))
		if a < minA {
			minA = a
			left = s
		}
		if a > maxA {
			maxA = a
			right = s
		}
	}
	return
}

func (n *Network) LeftSegment(seg SegmentID, node NodeID) SegmentID {
	left, _ := n.LeftAndRightSegments(seg, node)
	return left
}

func (n *Network) RightSegment(seg SegmentID, node NodeID) SegmentID {
	_, right := n.LeftAndRightSegments(seg, node)
	return right
}

// facingPosition is the lateral lane position seen from the segment, facing node.
func (n *Network) facingPosition(seg SegmentID, node NodeID, li *LaneInfo) float32 {
	s := &n.segments[seg]
	flip := node == s.StartNode
	if s.Flags&SegmentInvert != 0 {
		flip = !flip
	}
	if flip {
		return -li.Position
	}
	return li.Position
}

// LaneRef is a lane found by an adjacency query: its index inside the segment
// and its id. ID is 0 when nothing was found.
type LaneRef struct {
	Index int
	ID    LaneID
}

// LeftAndRightLanes finds the nearest lane on each side of the laneIndex-th
// lane of seg, facing node. A negative laneIndex returns the outermost lanes
// instead.
func (n *Network) LeftAndRightLanes(
	seg SegmentID, node NodeID,
	laneTypes LaneType, vehicleTypes VehicleType,
	laneIndex int,
) (left, right LaneRef) {
	info := n.segments[seg].Info
	if info == nil {
		return
	}
	var ref float32
	hasRef := laneIndex >= 0 && laneIndex < len(info.Lanes)
	if hasRef {
		ref = n.facingPosition(seg, node, &info.Lanes[laneIndex])
	}
	leftPos, rightPos := float32(math.Inf(-1)), float32(math.Inf(1))
	if !hasRef {
		leftPos, rightPos = float32(math.Inf(1)), float32(math.Inf(-1))
	}
	id := n.segments[seg].Lanes
	for i := 0; i < len(info.Lanes) && id != 0; i, id = i+1, n.lanes[id].NextLane {
		li := &info.Lanes[i]
		if i == laneIndex || !li.CheckType(laneTypes, vehicleTypes) {
			continue
		}
		pos := n.facingPosition(seg, node, li)
		if hasRef {
			if pos < ref && pos > leftPos {
				leftPos = pos
				left = LaneRef{Index: i, ID: id}
			} else if pos > ref && pos < rightPos {
				rightPos = pos
				right = LaneRef{Index: i, ID: id}
			}
			continue
		}
		if pos < leftPos {
			leftPos = pos
			left = LaneRef{Index: i, ID: id}
		}
		if pos > rightPos {
			rightPos = pos
			right = LaneRef{Index: i, ID: id}
		}
	}
	return
}

// ClosestLane finds the lane of seg laterally closest to the laneIndex-th lane,
// excluding the lane itself. Ties go to the lower index.
func (n *Network) ClosestLane(seg SegmentID, laneIndex int, laneTypes LaneType, vehicleTypes VehicleType) (LaneRef, bool) {
	info := n.segments[seg].Info
	if info == nil || laneIndex < 0 || laneIndex >= len(info.Lanes) {
		return LaneRef{}, false
	}
	ref := info.Lanes[laneIndex].Position
	best := float32(math.Inf(1))
	var found LaneRef
	id := n.segments[seg].Lanes
	for i := 0; i < len(info.Lanes) && id != 0; i, id = i+1, n.lanes[id].NextLane {
		li := &info.Lanes[i]
		if i == laneIndex || !li.CheckType(laneTypes, vehicleTypes) {
			continue
		}
		d := li.Position - ref
		if d < 0 {
			d = -d
		}
		if d < best {
			best = d
			found = LaneRef{Index: i, ID: id}
		}
	}
	return found, found.ID != 0
}
