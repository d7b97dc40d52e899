package netgraph

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// Snapshot is the serialisable form of a Network. Nodes and segments are
// numbered from 1 in file order; a non-zero id field must match that number.
type Snapshot struct {
	Infos       []InfoSpec       `yaml:"infos" bson:"infos"`
	Nodes       []NodeSpec       `yaml:"nodes" bson:"nodes"`
	Segments    []SegmentSpec    `yaml:"segments" bson:"segments"`
	Attachments []AttachmentSpec `yaml:"attachments,omitempty" bson:"attachments,omitempty"`
}

type InfoSpec struct {
	Name            string     `yaml:"name" bson:"name"`
	MaxTurnAngleCos float32    `yaml:"max_turn_angle_cos" bson:"max_turn_angle_cos"`
	Lanes           []LaneSpec `yaml:"lanes" bson:"lanes"`
}

type LaneSpec struct {
	Type           string   `yaml:"type" bson:"type"`
	Vehicles       []string `yaml:"vehicles,omitempty" bson:"vehicles,omitempty"`
	Direction      string   `yaml:"direction" bson:"direction"`
	Speed          float32  `yaml:"speed" bson:"speed"`
	Position       float32  `yaml:"position" bson:"position"`
	CenterPlatform bool     `yaml:"center_platform,omitempty" bson:"center_platform,omitempty"`
	Elevated       bool     `yaml:"elevated,omitempty" bson:"elevated,omitempty"`
}

type NodeSpec struct {
	ID       NodeID   `yaml:"id,omitempty" bson:"id,omitempty"`
	Position Vec3     `yaml:"position" bson:"position"`
	Flags    []string `yaml:"flags,omitempty" bson:"flags,omitempty"`
}

type TargetSpec struct {
	First uint8 `yaml:"first" bson:"first"`
	Last  uint8 `yaml:"last" bson:"last"`
}

type SegmentSpec struct {
	ID             SegmentID    `yaml:"id,omitempty" bson:"id,omitempty"`
	Info           string       `yaml:"info" bson:"info"`
	Start          NodeID       `yaml:"start" bson:"start"`
	End            NodeID       `yaml:"end" bson:"end"`
	Flags          []string     `yaml:"flags,omitempty" bson:"flags,omitempty"`
	TrafficDensity uint8        `yaml:"traffic_density,omitempty" bson:"traffic_density,omitempty"`
	TicketCost     uint16       `yaml:"ticket_cost,omitempty" bson:"ticket_cost,omitempty"`
	LaneTargets    []TargetSpec `yaml:"lane_targets,omitempty" bson:"lane_targets,omitempty"`
}

// AttachmentSpec puts a node (stop, transfer point) on a lane.
type AttachmentSpec struct {
	Node    NodeID    `yaml:"node" bson:"node"`
	Segment SegmentID `yaml:"segment" bson:"segment"`
	Lane    uint8     `yaml:"lane" bson:"lane"`
	Offset  uint8     `yaml:"offset" bson:"offset"`
}

var (
	laneTypeNames = map[string]LaneType{
		"vehicle":           LaneTypeVehicle,
		"pedestrian":        LaneTypePedestrian,
		"parking":           LaneTypeParking,
		"public_transport":  LaneTypePublicTransport,
		"transport_vehicle": LaneTypeTransportVehicle,
	}
	vehicleTypeNames = map[string]VehicleType{
		"car":       VehicleTypeCar,
		"metro":     VehicleTypeMetro,
		"train":     VehicleTypeTrain,
		"ship":      VehicleTypeShip,
		"plane":     VehicleTypePlane,
		"bicycle":   VehicleTypeBicycle,
		"tram":      VehicleTypeTram,
		"ferry":     VehicleTypeFerry,
		"monorail":  VehicleTypeMonorail,
		"cable_car": VehicleTypeCableCar,
	}
	directionNames = map[string]Direction{
		"forward":        DirectionForward,
		"backward":       DirectionBackward,
		"both":           DirectionBoth,
		"avoid_forward":  DirectionAvoidForward,
		"avoid_backward": DirectionAvoidBackward,
		"avoid_both":     DirectionAvoidBoth,
	}
	nodeFlagNames = map[string]NodeFlags{
		"disabled":            NodeDisabled,
		"transition":          NodeTransition,
		"junction":            NodeJunction,
		"end":                 NodeEnd,
		"bend":                NodeBend,
		"one_way_out":         NodeOneWayOut,
		"disable_only_middle": NodeDisableOnlyMiddle,
		"footpath":            NodeFootpath,
	}
	segmentFlagNames = map[string]SegmentFlags{
		"blocked":      SegmentBlocked,
		"flooded":      SegmentFlooded,
		"collapsed":    SegmentCollapsed,
		"invert":       SegmentInvert,
		"car_ban":      SegmentCarBan,
		"heavy_ban":    SegmentHeavyBan,
		"waiting_path": SegmentWaitingPath,
		"path_failed":  SegmentPathFailed,
	}
)

func parseName[T any](name string, table map[string]T) (T, error) {
	v, ok := table[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		keys := lo.Keys(table)
		sort.Strings(keys)
		return v, fmt.Errorf("%w %q, expect one of %v", ErrBadName, name, keys)
	}
	return v, nil
}

type bitmask interface {
	~uint8 | ~uint16 | ~uint32
}

func parseFlags[T bitmask](names []string, table map[string]T) (T, error) {
	var out T
	for _, name := range names {
		v, err := parseName(name, table)
		if err != nil {
			return 0, err
		}
		out |= v
	}
	return out, nil
}

// ParseSegmentFlags converts flag names (e.g. "car_ban") into a mask.
func ParseSegmentFlags(names []string) (SegmentFlags, error) {
	return parseFlags(names, segmentFlagNames)
}

func ParseNodeFlags(names []string) (NodeFlags, error) {
	return parseFlags(names, nodeFlagNames)
}

func ParseLaneTypes(names []string) (LaneType, error) {
	return parseFlags(names, laneTypeNames)
}

func ParseVehicleTypes(names []string) (VehicleType, error) {
	return parseFlags(names, vehicleTypeNames)
}

func ParseDirection(name string) (Direction, error) {
	return parseName(name, directionNames)
}

func (s *InfoSpec) build() (*SegmentInfo, error) {
	info := &SegmentInfo{
		Name:            s.Name,
		MaxTurnAngleCos: s.MaxTurnAngleCos,
		Lanes:           make([]LaneInfo, len(s.Lanes)),
	}
	for i, l := range s.Lanes {
		laneType, err := parseName(l.Type, laneTypeNames)
		if err != nil {
			return nil, fmt.Errorf("info %s lane %d: %w", s.Name, i, err)
		}
		vehicleType, err := parseFlags(l.Vehicles, vehicleTypeNames)
		if err != nil {
			return nil, fmt.Errorf("info %s lane %d: %w", s.Name, i, err)
		}
		direction, err := parseName(l.Direction, directionNames)
		if err != nil {
			return nil, fmt.Errorf("info %s lane %d: %w", s.Name, i, err)
		}
		info.Lanes[i] = LaneInfo{
			LaneType:       laneType,
			VehicleType:    vehicleType,
			FinalDirection: direction,
			SpeedLimit:     l.Speed,
			Position:       l.Position,
			CenterPlatform: l.CenterPlatform,
			Elevated:       l.Elevated,
		}
	}
	fillSimilarLanes(info.Lanes)
	return info, nil
}

// fillSimilarLanes ranks lanes of the same kind and direction by lateral position.
func fillSimilarLanes(lanes []LaneInfo) {
	similar := func(a, b *LaneInfo) bool {
		return a.LaneType == b.LaneType && a.VehicleType == b.VehicleType &&
			a.FinalDirection&DirectionBoth == b.FinalDirection&DirectionBoth
	}
	for i := range lanes {
		a := &lanes[i]
		a.SimilarLaneIndex, a.SimilarLaneCount = 0, 0
		for j := range lanes {
			b := &lanes[j]
			if !similar(a, b) {
				continue
			}
			a.SimilarLaneCount++
			if b.Position < a.Position || (b.Position == a.Position && j < i) {
				a.SimilarLaneIndex++
			}
		}
	}
}

// Build validates the snapshot and assembles a Network.
func (s *Snapshot) Build() (*Network, error) {
	n := New()
	for i := range s.Infos {
		info, err := s.Infos[i].build()
		if err != nil {
			return nil, err
		}
		if err := n.AddInfo(info); err != nil {
			return nil, err
		}
	}
	explicitShape := make([]bool, len(s.Nodes)+1)
	for i, spec := range s.Nodes {
		flags, err := parseFlags(spec.Flags, nodeFlagNames)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", i+1, err)
		}
		id, err := n.AddNode(spec.Position, flags)
		if err != nil {
			return nil, err
		}
		if spec.ID != 0 && spec.ID != id {
			return nil, fmt.Errorf("%w: node %d at position %d", ErrBadID, spec.ID, id)
		}
		explicitShape[id] = flags&(NodeEnd|NodeJunction|NodeBend) != 0
	}
	for i, spec := range s.Segments {
		info, ok := n.Info(spec.Info)
		if !ok {
			return nil, fmt.Errorf("%w: segment %d uses %q", ErrUnknownInfo, i+1, spec.Info)
		}
		flags, err := parseFlags(spec.Flags, segmentFlagNames)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i+1, err)
		}
		id, err := n.AddSegment(info, spec.Start, spec.End, flags)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i+1, err)
		}
		if spec.ID != 0 && spec.ID != id {
			return nil, fmt.Errorf("%w: segment %d at position %d", ErrBadID, spec.ID, id)
		}
		n.segments[id].TrafficDensity = spec.TrafficDensity
		for lane, idx := n.segments[id].Lanes, 0; lane != 0; lane, idx = n.lanes[lane].NextLane, idx+1 {
			n.lanes[lane].TicketCost = spec.TicketCost
			if idx < len(spec.LaneTargets) {
				t := spec.LaneTargets[idx]
				n.lanes[lane].FirstTarget, n.lanes[lane].LastTarget = t.First, t.Last
			}
		}
	}
	for i, a := range s.Attachments {
		lane := n.LaneID(a.Segment, a.Lane)
		if lane == 0 {
			return nil, fmt.Errorf("attachment %d: %w: segment %d lane %d", i, ErrUnknownLane, a.Segment, a.Lane)
		}
		if err := n.AttachNode(a.Node, lane, a.Offset); err != nil {
			return nil, fmt.Errorf("attachment %d: %w", i, err)
		}
	}
	for id := 1; id < len(n.nodes); id++ {
		if !explicitShape[id] {
			n.UpdateNodeShape(NodeID(id))
		}
	}
	log.Infof("network built: %d nodes, %d segments, %d lanes",
		n.NodeCount(), n.SegmentCount(), n.LaneCount()-1)
	return n, nil
}

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// DecodeSnapshot reads a YAML snapshot, transparently decompressing zstd input.
func DecodeSnapshot(r io.Reader) (*Snapshot, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(zstdMagic)); err == nil && bytes.Equal(head, zstdMagic) {
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open zstd stream: %w", err)
		}
		defer dec.Close()
		r = dec
	} else {
		r = br
	}
	s := &Snapshot{}
	if err := yaml.NewDecoder(r).Decode(s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}

// EncodeSnapshot writes the snapshot as YAML, zstd-compressed when compress is set.
func EncodeSnapshot(w io.Writer, s *Snapshot, compress bool) (err error) {
	if compress {
		enc, zerr := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zerr != nil {
			return fmt.Errorf("open zstd stream: %w", zerr)
		}
		defer func() {
			if cerr := enc.Close(); err == nil {
				err = cerr
			}
		}()
		w = enc
	}
	ye := yaml.NewEncoder(w)
	ye.SetIndent(2)
	if err := ye.Encode(s); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return ye.Close()
}

func ReadSnapshotFile(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeSnapshot(f)
}

// WriteSnapshotFile writes the snapshot to path; a ".zst" suffix selects compression.
func WriteSnapshotFile(path string, s *Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := EncodeSnapshot(f, s, strings.HasSuffix(path, ".zst")); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
