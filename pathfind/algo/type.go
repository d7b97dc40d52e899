package algo

import "git.fiblab.net/sim/lanepath/netgraph"

// Item is a frontier entry of the reverse search: the route continues from
// Position (the offset where it leaves the lane) to a destination.
type Item struct {
	Position netgraph.Position
	// 用于排序的归一化代价
	ComparisonValue float32
	// 当前出行方式下累计的距离
	MethodDistance float32
	Duration       float32
	LaneID         netgraph.LaneID
	Direction      netgraph.Direction
	LanesUsed      netgraph.LaneType
}
