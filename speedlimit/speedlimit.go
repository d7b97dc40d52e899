// Package speedlimit keeps per-lane speed limit overrides on top of the lane defaults.
package speedlimit

import (
	"errors"
	"fmt"
	"sync/atomic"

	"git.fiblab.net/sim/lanepath/netgraph"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("module", "speedlimit")

const (
	// 可自定义限速的车道类型与载具类型
	LaneTypes    = netgraph.LaneTypeVehicle | netgraph.LaneTypeTransportVehicle
	VehicleTypes = netgraph.VehicleTypeCar | netgraph.VehicleTypeTram | netgraph.VehicleTypeMetro |
		netgraph.VehicleTypeTrain | netgraph.VehicleTypeMonorail

	// 不限速时使用的速度（1000km/h）
	MaxSpeed float32 = 20
)

var (
	ErrNotCustomizable = errors.New("lane does not accept custom speed limits")
	ErrInvalidSpeed    = errors.New("speed limit out of range")
)

// Segments is the part of the network the manager needs to walk a segment's lanes.
type Segments interface {
	Segment(id netgraph.SegmentID) *netgraph.Segment
	Lane(id netgraph.LaneID) *netgraph.Lane
	HasSegment(id netgraph.SegmentID) bool
}

// Manager stores custom speed limits by lane id. Reads are lock free and may
// run concurrently with the search worker.
type Manager struct {
	custom  *xsync.MapOf[netgraph.LaneID, float32]
	enabled atomic.Bool
}

func New() *Manager {
	m := &Manager{custom: xsync.NewMapOf[netgraph.LaneID, float32]()}
	m.enabled.Store(true)
	return m
}

// SetEnabled switches custom limits on or off without dropping them.
func (m *Manager) SetEnabled(v bool) {
	m.enabled.Store(v)
}

// Customizable reports whether a lane kind accepts custom limits.
func Customizable(info *netgraph.LaneInfo) bool {
	return info.LaneType&LaneTypes != 0 && info.VehicleType&VehicleTypes != 0
}

// toGameSpeed maps the stored value to a search speed; 0 means unlimited.
func toGameSpeed(v float32) float32 {
	if v > -1e-4 && v < 1e-4 {
		return MaxSpeed
	}
	return v
}

// LaneSpeedLimit returns the effective limit of a lane.
func (m *Manager) LaneSpeedLimit(lane netgraph.LaneID, info *netgraph.LaneInfo) float32 {
	if !m.enabled.Load() || !Customizable(info) {
		return info.SpeedLimit
	}
	if v, ok := m.custom.Load(lane); ok {
		return toGameSpeed(v)
	}
	return info.SpeedLimit
}

// SetLaneSpeedLimit overrides one lane. speed is in search units, 0 = unlimited.
func (m *Manager) SetLaneSpeedLimit(lane netgraph.LaneID, info *netgraph.LaneInfo, speed float32) error {
	if !Customizable(info) {
		return fmt.Errorf("%w: lane(id=%d)", ErrNotCustomizable, lane)
	}
	if speed < 0 || speed > MaxSpeed {
		return fmt.Errorf("%w: %v", ErrInvalidSpeed, speed)
	}
	m.custom.Store(lane, speed)
	log.Debugf("lane %d speed limit set to %v", lane, speed)
	return nil
}

// SetSegmentSpeedLimit overrides every customizable lane of a segment whose
// final direction equals dir. It returns the number of lanes changed.
func (m *Manager) SetSegmentSpeedLimit(g Segments, seg netgraph.SegmentID, dir netgraph.Direction, speed float32) (int, error) {
	if !g.HasSegment(seg) {
		return 0, fmt.Errorf("%w: segment(id=%d)", netgraph.ErrUnknownSegment, seg)
	}
	if speed < 0 || speed > MaxSpeed {
		return 0, fmt.Errorf("%w: %v", ErrInvalidSpeed, speed)
	}
	s := g.Segment(seg)
	if s.Info == nil {
		return 0, nil
	}
	count := 0
	lane := s.Lanes
	for i := 0; i < len(s.Info.Lanes) && lane != 0; i++ {
		info := &s.Info.Lanes[i]
		if info.FinalDirection == dir && Customizable(info) {
			m.custom.Store(lane, speed)
			count++
		}
		lane = g.Lane(lane).NextLane
	}
	return count, nil
}

// AverageSpeedLimit is the mean effective limit of the customizable lanes of
// a segment with final direction dir, 0 if there are none.
func (m *Manager) AverageSpeedLimit(g Segments, seg netgraph.SegmentID, dir netgraph.Direction) float32 {
	if !g.HasSegment(seg) {
		return 0
	}
	s := g.Segment(seg)
	if s.Info == nil {
		return 0
	}
	var sum float32
	n := 0
	lane := s.Lanes
	for i := 0; i < len(s.Info.Lanes) && lane != 0; i++ {
		info := &s.Info.Lanes[i]
		if info.FinalDirection == dir && Customizable(info) {
			sum += m.LaneSpeedLimit(lane, info)
			n++
		}
		lane = g.Lane(lane).NextLane
	}
	if n == 0 {
		return 0
	}
	return sum / float32(n)
}

func (m *Manager) ClearLane(lane netgraph.LaneID) {
	m.custom.Delete(lane)
}

func (m *Manager) Reset() {
	m.custom.Clear()
}

// Len returns the number of overridden lanes.
func (m *Manager) Len() int {
	return m.custom.Size()
}
