package pathunit

import "git.fiblab.net/sim/lanepath/netgraph"

// 单个路径记录最多容纳的位置数
const MaxPositions = 12

// 请求中端点所在的位置槽
const (
	SlotStartA  = 0
	SlotEndA    = 1
	SlotStartB  = 2
	SlotEndB    = 3
	SlotVehicle = 11
)

// PathFindFlags
const (
	FlagQueued      uint8 = 1
	FlagCalculating uint8 = 2
	FlagReady       uint8 = 4
	FlagFailed      uint8 = 8
)

// SimulationFlags
const (
	SimCreated        uint8 = 1
	SimIgnoreFlooded  uint8 = 2
	SimWaitingPathBan uint8 = 4
	SimIgnoreCost     uint8 = 8
	SimHeavyBan       uint8 = 16
	SimIgnoreBlocked  uint8 = 32
	SimStablePath     uint8 = 64
	SimRandomParking  uint8 = 128
)

// Unit is a fixed-capacity path record. As a request it carries the endpoints
// in the slot layout above and the maximum length in Length; as a result it
// holds up to 12 positions and links to its continuation through NextPathUnit.
// While queued, NextPathUnit links the pending list instead.
type Unit struct {
	Positions     [MaxPositions]netgraph.Position
	PositionCount uint8
	NextPathUnit  uint32

	ReferenceCount  uint8
	PathFindFlags   uint8
	SimulationFlags uint8

	LaneTypes    netgraph.LaneType
	VehicleTypes netgraph.VehicleType

	Length float32
	Speed  uint8
}

// EndpointCount is the number of endpoint slots in use (low nibble).
func (u *Unit) EndpointCount() int {
	return int(u.PositionCount & 0xF)
}

// VehicleCount is the number of vehicle slots in use (high nibble).
func (u *Unit) VehicleCount() int {
	return int(u.PositionCount >> 4)
}

func (u *Unit) SetPosition(i int, p netgraph.Position) {
	u.Positions[i] = p
}

func (u *Unit) Position(i int) netgraph.Position {
	return u.Positions[i]
}
