package netgraph

type NodeID uint16
type SegmentID uint16
type LaneID uint32

// 车道类型（位掩码）
type LaneType uint8

const (
	LaneTypeNone             LaneType = 0
	LaneTypeVehicle          LaneType = 1
	LaneTypePedestrian       LaneType = 2
	LaneTypeParking          LaneType = 4
	LaneTypePublicTransport  LaneType = 8
	LaneTypeTransportVehicle LaneType = 16

	LaneTypeAnyVehicle = LaneTypeVehicle | LaneTypeTransportVehicle
)

// 载具类型（位掩码）
type VehicleType uint32

const (
	VehicleTypeNone     VehicleType = 0
	VehicleTypeCar      VehicleType = 1
	VehicleTypeMetro    VehicleType = 2
	VehicleTypeTrain    VehicleType = 4
	VehicleTypeShip     VehicleType = 8
	VehicleTypePlane    VehicleType = 16
	VehicleTypeBicycle  VehicleType = 32
	VehicleTypeTram     VehicleType = 64
	VehicleTypeFerry    VehicleType = 128
	VehicleTypeMonorail VehicleType = 256
	VehicleTypeCableCar VehicleType = 512
)

// 车道通行方向
// Avoid*表示允许通行但不鼓励的方向
type Direction uint8

const (
	DirectionNone          Direction = 0
	DirectionForward       Direction = 1
	DirectionBackward      Direction = 2
	DirectionBoth          Direction = DirectionForward | DirectionBackward
	DirectionAvoid         Direction = 12
	DirectionAvoidBackward Direction = DirectionBoth | 4
	DirectionAvoidForward  Direction = DirectionBoth | 8
	DirectionAvoidBoth     Direction = DirectionBoth | DirectionAvoid
)

// Invert swaps forward and backward, keeping the avoid marker on the mirrored side.
func (d Direction) Invert() Direction {
	switch d {
	case DirectionForward:
		return DirectionBackward
	case DirectionBackward:
		return DirectionForward
	case DirectionAvoidForward:
		return DirectionAvoidBackward
	case DirectionAvoidBackward:
		return DirectionAvoidForward
	}
	return d
}

type NodeFlags uint16

const (
	NodeCreated NodeFlags = 1 << iota
	NodeDisabled
	NodeTransition
	NodeJunction
	NodeEnd
	NodeBend
	NodeOneWayOut
	NodeDisableOnlyMiddle
	// 纯步行路网中的节点（公园步道等）
	NodeFootpath
)

type SegmentFlags uint16

const (
	SegmentCreated SegmentFlags = 1 << iota
	SegmentBlocked
	SegmentFlooded
	SegmentCollapsed
	SegmentInvert
	SegmentCarBan
	SegmentHeavyBan
	SegmentWaitingPath
	SegmentPathFailed
)

// 路段最多连接的路段数
const MaxNodeSegments = 8

type Node struct {
	Position Vec3
	Flags    NodeFlags
	Segments [MaxNodeSegments]SegmentID

	// 节点挂接的车道（换乘），Lane为0表示没有
	Lane       LaneID
	LaneOffset uint8
	// 同一车道上的下一个车道节点
	NextLaneNode NodeID
}

// Segment returns the i-th connected segment, 0 if the slot is empty.
func (n *Node) Segment(i int) SegmentID {
	return n.Segments[i]
}

type Segment struct {
	Info      *SegmentInfo
	StartNode NodeID
	EndNode   NodeID
	Flags     SegmentFlags
	// 链表中的第一条车道
	Lanes LaneID

	AverageLength  float32
	TrafficDensity uint8
	// 端点处指向路段内部的单位方向
	StartDirection Vec3
	EndDirection   Vec3
}

// Direction returns the segment direction at the given end node.
func (s *Segment) Direction(node NodeID) Vec3 {
	if node == s.StartNode {
		return s.StartDirection
	}
	return s.EndDirection
}

// SegmentInfo is the lane layout shared by segments of the same kind.
type SegmentInfo struct {
	Name            string
	Lanes           []LaneInfo
	MaxTurnAngleCos float32
}

type LaneInfo struct {
	LaneType       LaneType
	VehicleType    VehicleType
	FinalDirection Direction
	SpeedLimit     float32
	// 相对路段中心线的横向位置，正值在前进方向右侧
	Position         float32
	SimilarLaneIndex int
	SimilarLaneCount int
	CenterPlatform   bool
	Elevated         bool
}

// CheckType reports whether the lane serves any of the given lane and vehicle types.
func (l *LaneInfo) CheckType(laneTypes LaneType, vehicleTypes VehicleType) bool {
	if l.LaneType&laneTypes == 0 {
		return false
	}
	return l.VehicleType&vehicleTypes != 0 || l.VehicleType == VehicleTypeNone
}

type Lane struct {
	Segment  SegmentID
	NextLane LaneID
	// 车道上的第一个车道节点（站点等）
	Nodes NodeID

	Length     float32
	Bezier     Bezier3
	TicketCost uint16
	// 车道箭头对应的目标车道范围 [FirstTarget, LastTarget)
	FirstTarget uint8
	LastTarget  uint8
}

// Position is a lane position: segment, lane index inside the segment and a
// byte offset along the lane (0 = start node, 255 = end node).
type Position struct {
	Segment SegmentID `yaml:"segment" json:"segment" bson:"segment"`
	Lane    uint8     `yaml:"lane" json:"lane" bson:"lane"`
	Offset  uint8     `yaml:"offset" json:"offset" bson:"offset"`
}

// SameLane reports whether both positions address the same lane.
func (p Position) SameLane(o Position) bool {
	return p.Segment == o.Segment && p.Lane == o.Lane
}

func (p Position) IsZero() bool {
	return p.Segment == 0
}
