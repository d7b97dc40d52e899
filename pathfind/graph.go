package pathfind

import (
	"git.fiblab.net/sim/lanepath/netgraph"
	"git.fiblab.net/sim/lanepath/speedlimit"
	"github.com/puzpuzpuz/xsync/v3"
)

// Graph is the read-only network view the search walks. *netgraph.Network
// implements it.
type Graph interface {
	Node(id netgraph.NodeID) *netgraph.Node
	Segment(id netgraph.SegmentID) *netgraph.Segment
	Lane(id netgraph.LaneID) *netgraph.Lane
	LaneID(segment netgraph.SegmentID, index uint8) netgraph.LaneID
	// LaneCount is the lane id capacity, including the unused id 0.
	LaneCount() int
	LanePosition(lane netgraph.LaneID, offset uint8) netgraph.Vec3

	LeftAndRightSegments(seg netgraph.SegmentID, node netgraph.NodeID) (left, right netgraph.SegmentID)
	LeftSegment(seg netgraph.SegmentID, node netgraph.NodeID) netgraph.SegmentID
	RightSegment(seg netgraph.SegmentID, node netgraph.NodeID) netgraph.SegmentID
	LeftAndRightLanes(
		seg netgraph.SegmentID, node netgraph.NodeID,
		laneTypes netgraph.LaneType, vehicleTypes netgraph.VehicleType,
		laneIndex int,
	) (left, right netgraph.LaneRef)
	ClosestLane(
		seg netgraph.SegmentID, laneIndex int,
		laneTypes netgraph.LaneType, vehicleTypes netgraph.VehicleType,
	) (netgraph.LaneRef, bool)

	BeginRead() *xsync.RToken
	EndRead(t *xsync.RToken)
}

// SpeedLimits supplies the effective speed of a lane. *speedlimit.Manager
// implements it.
type SpeedLimits interface {
	LaneSpeedLimit(lane netgraph.LaneID, info *netgraph.LaneInfo) float32
}

// DefaultSpeeds uses the lane defaults only.
type DefaultSpeeds struct{}

func (DefaultSpeeds) LaneSpeedLimit(_ netgraph.LaneID, info *netgraph.LaneInfo) float32 {
	return info.SpeedLimit
}

var (
	_ Graph       = (*netgraph.Network)(nil)
	_ SpeedLimits = (*speedlimit.Manager)(nil)
	_ SpeedLimits = DefaultSpeeds{}
)
