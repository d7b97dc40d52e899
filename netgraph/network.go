package netgraph

import (
	"fmt"
	"math"

	"github.com/puzpuzpuz/xsync/v3"
)

const (
	// 节点、路段编号为uint16，0保留为空
	MaxNodes    = math.MaxUint16
	MaxSegments = math.MaxUint16

	// 车道偏移量byte到[0,1]的换算系数
	ByteToFloatOffset = 1.0 / 255
)

// Network is the lane-level road graph. Ids start at 1; slot 0 of every
// table stays empty so that a zero id means "none".
//
// Topology is fixed after Build. Flags and traffic density may change at
// runtime, so readers take a token with BeginRead and writers go through the
// Set* methods.
type Network struct {
	nodes    []Node
	segments []Segment
	lanes    []Lane
	infos    map[string]*SegmentInfo

	mu *xsync.RBMutex
}

func New() *Network {
	return &Network{
		nodes:    make([]Node, 1),
		segments: make([]Segment, 1),
		lanes:    make([]Lane, 1),
		infos:    make(map[string]*SegmentInfo),
		mu:       xsync.NewRBMutex(),
	}
}

// BeginRead takes a shared read token. The search holds it for a whole request.
func (n *Network) BeginRead() *xsync.RToken {
	return n.mu.RLock()
}

func (n *Network) EndRead(t *xsync.RToken) {
	n.mu.RUnlock(t)
}

// getter

func (n *Network) Node(id NodeID) *Node {
	return &n.nodes[id]
}

func (n *Network) Segment(id SegmentID) *Segment {
	return &n.segments[id]
}

func (n *Network) Lane(id LaneID) *Lane {
	return &n.lanes[id]
}

func (n *Network) Info(name string) (*SegmentInfo, bool) {
	info, ok := n.infos[name]
	return info, ok
}

func (n *Network) NodeCount() int {
	return len(n.nodes) - 1
}

func (n *Network) SegmentCount() int {
	return len(n.segments) - 1
}

// LaneCount is the size of lane-indexed tables, including the empty slot 0.
func (n *Network) LaneCount() int {
	return len(n.lanes)
}

func (n *Network) HasSegment(id SegmentID) bool {
	return id != 0 && int(id) < len(n.segments)
}

func (n *Network) HasLane(id LaneID) bool {
	return id != 0 && int(id) < len(n.lanes)
}

// LaneID resolves the index-th lane of a segment, 0 if there is none.
func (n *Network) LaneID(segment SegmentID, index uint8) LaneID {
	if !n.HasSegment(segment) {
		return 0
	}
	id := n.segments[segment].Lanes
	for i := 0; i < int(index) && id != 0; i++ {
		id = n.lanes[id].NextLane
	}
	return id
}

// PositionLane resolves the lane of a position.
func (n *Network) PositionLane(p Position) LaneID {
	return n.LaneID(p.Segment, p.Lane)
}

// LanePosition returns the world position of a byte offset along a lane.
func (n *Network) LanePosition(id LaneID, offset uint8) Vec3 {
	return n.lanes[id].Bezier.Position(float32(offset) * ByteToFloatOffset)
}

// LaneInfo returns the static descriptor of the index-th lane of a segment.
func (n *Network) LaneInfo(segment SegmentID, index uint8) (*LaneInfo, bool) {
	info := n.segments[segment].Info
	if info == nil || int(index) >= len(info.Lanes) {
		return nil, false
	}
	return &info.Lanes[index], true
}

// setter

func (n *Network) SetSegmentFlags(id SegmentID, set, clear SegmentFlags) error {
	if !n.HasSegment(id) {
		return fmt.Errorf("%w: segment(id=%d)", ErrUnknownSegment, id)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	s := &n.segments[id]
	s.Flags = (s.Flags &^ clear) | set
	return nil
}

func (n *Network) SetNodeFlags(id NodeID, set, clear NodeFlags) error {
	if id == 0 || int(id) >= len(n.nodes) {
		return fmt.Errorf("%w: node(id=%d)", ErrUnknownNode, id)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	node := &n.nodes[id]
	node.Flags = (node.Flags &^ clear) | set
	return nil
}

func (n *Network) SetTrafficDensity(id SegmentID, density uint8) error {
	if !n.HasSegment(id) {
		return fmt.Errorf("%w: segment(id=%d)", ErrUnknownSegment, id)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.segments[id].TrafficDensity = density
	return nil
}

// build

func (n *Network) AddInfo(info *SegmentInfo) error {
	if _, ok := n.infos[info.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateInfo, info.Name)
	}
	n.infos[info.Name] = info
	return nil
}

func (n *Network) AddNode(pos Vec3, flags NodeFlags) (NodeID, error) {
	if len(n.nodes) > MaxNodes {
		return 0, ErrTooManyNodes
	}
	n.nodes = append(n.nodes, Node{Position: pos, Flags: flags | NodeCreated})
	return NodeID(len(n.nodes) - 1), nil
}

// AddSegment connects two nodes with a straight segment and creates its lanes
// from the info layout.
func (n *Network) AddSegment(info *SegmentInfo, start, end NodeID, flags SegmentFlags) (SegmentID, error) {
	if len(n.segments) > MaxSegments {
		return 0, ErrTooManySegments
	}
	for _, id := range []NodeID{start, end} {
		if id == 0 || int(id) >= len(n.nodes) {
			return 0, fmt.Errorf("%w: node(id=%d)", ErrUnknownNode, id)
		}
	}
	if start == end {
		return 0, fmt.Errorf("%w: node(id=%d)", ErrLoopSegment, start)
	}
	id := SegmentID(len(n.segments))
	if err := n.attach(start, id); err != nil {
		return 0, err
	}
	if err := n.attach(end, id); err != nil {
		return 0, err
	}

	a, d := n.nodes[start].Position, n.nodes[end].Position
	dir := d.Sub(a).Normalize()
	seg := Segment{
		Info:           info,
		StartNode:      start,
		EndNode:        end,
		Flags:          flags | SegmentCreated,
		AverageLength:  Distance(a, d),
		StartDirection: dir,
		EndDirection:   dir.Scale(-1),
	}
	// 右手方向（俯视，y轴向上）
	right := Vec3{X: dir.Z, Z: -dir.X}
	var prev LaneID
	for i := range info.Lanes {
		shift := right.Scale(info.Lanes[i].Position)
		bezier := StraightBezier(a.Add(shift), d.Add(shift))
		n.lanes = append(n.lanes, Lane{
			Segment:    id,
			Length:     bezier.ApproxLength(),
			Bezier:     bezier,
			LastTarget: math.MaxUint8,
		})
		laneID := LaneID(len(n.lanes) - 1)
		if prev == 0 {
			seg.Lanes = laneID
		} else {
			n.lanes[prev].NextLane = laneID
		}
		prev = laneID
	}
	n.segments = append(n.segments, seg)
	return id, nil
}

func (n *Network) attach(node NodeID, segment SegmentID) error {
	for i, s := range n.nodes[node].Segments {
		if s == 0 {
			n.nodes[node].Segments[i] = segment
			return nil
		}
	}
	return fmt.Errorf("%w: node(id=%d)", ErrNodeFull, node)
}

// AttachNode places a node on a lane: the node becomes a pass-through node of
// the lane and the lane becomes the node's transfer lane.
func (n *Network) AttachNode(node NodeID, lane LaneID, offset uint8) error {
	if node == 0 || int(node) >= len(n.nodes) {
		return fmt.Errorf("%w: node(id=%d)", ErrUnknownNode, node)
	}
	if !n.HasLane(lane) {
		return fmt.Errorf("%w: lane(id=%d)", ErrUnknownLane, lane)
	}
	nd := &n.nodes[node]
	nd.Lane = lane
	nd.LaneOffset = offset
	nd.NextLaneNode = n.lanes[lane].Nodes
	n.lanes[lane].Nodes = node
	return nil
}

// SetLaneTargets sets the lane-arrow target range of a lane.
func (n *Network) SetLaneTargets(lane LaneID, first, last uint8) error {
	if !n.HasLane(lane) {
		return fmt.Errorf("%w: lane(id=%d)", ErrUnknownLane, lane)
	}
	n.lanes[lane].FirstTarget = first
	n.lanes[lane].LastTarget = last
	return nil
}

// UpdateNodeShape derives End/Junction/Bend from the connected segments.
func (n *Network) UpdateNodeShape(id NodeID) {
	node := &n.nodes[id]
	node.Flags &^= NodeEnd | NodeJunction | NodeBend
	var segs []SegmentID
	for _, s := range node.Segments {
		if s != 0 {
			segs = append(segs, s)
		}
	}
	switch {
	case len(segs) == 1:
		node.Flags |= NodeEnd
	case len(segs) >= 3:
		node.Flags |= NodeJunction
	case len(segs) == 2:
		d1 := n.segments[segs[0]].Direction(id)
		d2 := n.segments[segs[1]].Direction(id)
		// 方向均指向路段内部，直行时点积为-1
		if d1.X*d2.X+d1.Z*d2.Z > bendCos {
			node.Flags |= NodeBend
		}
	}
}

// 超过30度的转角视为弯道节点
const bendCos = -0.866
