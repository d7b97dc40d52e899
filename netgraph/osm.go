package netgraph

import (
	"context"
	"fmt"
	"io"
	"math"
	"runtime"

	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
	"github.com/samber/lo"
)

const earthRadius = 6371008.8

// 道路等级 -> 车道限速
var highwaySpeeds = map[string]float32{
	"motorway":      2.4,
	"trunk":         2,
	"primary":       1.6,
	"secondary":     1.4,
	"tertiary":      1.2,
	"unclassified":  1,
	"residential":   1,
	"living_street": 0.6,
	"service":       0.6,
}

var footwayClasses = map[string]bool{
	"footway":    true,
	"path":       true,
	"pedestrian": true,
	"steps":      true,
}

const (
	walkSpeed    float32 = 0.25
	bicycleSpeed float32 = 0.5
	laneWidth    float32 = 3
	sidewalkPos  float32 = 7
)

// ReadOSMPBF loads nodes and ways from an OSM PBF stream.
func ReadOSMPBF(ctx context.Context, r io.Reader) (*osm.OSM, error) {
	scanner := osmpbf.New(ctx, r, runtime.GOMAXPROCS(-1))
	defer scanner.Close()
	scanner.SkipRelations = true
	out := &osm.OSM{}
	for scanner.Scan() {
		switch o := scanner.Object().(type) {
		case *osm.Node:
			out.Nodes = append(out.Nodes, o)
		case *osm.Way:
			out.Ways = append(out.Ways, o)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan osm pbf: %w", err)
	}
	return out, nil
}

type wayClass struct {
	name    string
	oneway  bool
	reverse bool
	footway bool
}

func classify(w *osm.Way) (wayClass, bool) {
	highway := w.Tags.Find("highway")
	if highway == "" || len(w.Nodes) < 2 {
		return wayClass{}, false
	}
	c := wayClass{name: highway}
	switch w.Tags.Find("oneway") {
	case "yes", "true", "1":
		c.oneway = true
	case "-1", "reverse":
		c.oneway, c.reverse = true, true
	}
	if footwayClasses[highway] {
		c.footway = true
		c.oneway, c.reverse = false, false
		return c, true
	}
	if highway == "cycleway" {
		return c, true
	}
	if _, ok := highwaySpeeds[highway]; ok {
		return c, true
	}
	return wayClass{}, false
}

func (c wayClass) infoName() string {
	if c.oneway {
		return c.name + "_oneway"
	}
	return c.name
}

func (c wayClass) info() InfoSpec {
	sidewalks := []LaneSpec{
		{Type: "pedestrian", Direction: "both", Speed: walkSpeed, Position: -sidewalkPos},
		{Type: "pedestrian", Direction: "both", Speed: walkSpeed, Position: sidewalkPos},
	}
	spec := InfoSpec{Name: c.infoName(), MaxTurnAngleCos: 0.5}
	switch {
	case c.footway:
		spec.Lanes = []LaneSpec{{Type: "pedestrian", Direction: "both", Speed: walkSpeed}}
	case c.name == "cycleway":
		spec.Lanes = []LaneSpec{
			{Type: "vehicle", Vehicles: []string{"bicycle"}, Direction: "backward", Speed: bicycleSpeed, Position: -1},
			{Type: "vehicle", Vehicles: []string{"bicycle"}, Direction: "forward", Speed: bicycleSpeed, Position: 1},
		}
	case c.oneway:
		speed := highwaySpeeds[c.name]
		spec.Lanes = []LaneSpec{
			sidewalks[0],
			{Type: "vehicle", Vehicles: []string{"car"}, Direction: "forward", Speed: speed},
			sidewalks[1],
		}
	default:
		speed := highwaySpeeds[c.name]
		spec.Lanes = []LaneSpec{
			sidewalks[0],
			{Type: "vehicle", Vehicles: []string{"car"}, Direction: "backward", Speed: speed, Position: -laneWidth / 2},
			{Type: "vehicle", Vehicles: []string{"car"}, Direction: "forward", Speed: speed, Position: laneWidth / 2},
			sidewalks[1],
		}
	}
	return spec
}

// FromOSM converts highway ways into a snapshot. Ways are split at nodes shared
// with other ways; intermediate way geometry is dropped. Coordinates are
// projected onto a local plane around the first used node (x east, z north).
func FromOSM(data *osm.OSM) (*Snapshot, error) {
	coords := make(map[osm.NodeID]*osm.Node, len(data.Nodes))
	for _, n := range data.Nodes {
		coords[n.ID] = n
	}
	type usedWay struct {
		way   *osm.Way
		class wayClass
		ids   []osm.NodeID
	}
	var ways []usedWay
	refs := make(map[osm.NodeID]int)
	for _, w := range data.Ways {
		c, ok := classify(w)
		if !ok {
			continue
		}
		ids := lo.Filter(w.Nodes.NodeIDs(), func(id osm.NodeID, _ int) bool {
			_, ok := coords[id]
			return ok
		})
		if len(ids) < 2 {
			continue
		}
		if c.reverse {
			ids = lo.Reverse(ids)
		}
		for i, id := range ids {
			refs[id]++
			if i == 0 || i == len(ids)-1 {
				// 端点必须成为图节点
				refs[id]++
			}
		}
		ways = append(ways, usedWay{way: w, class: c, ids: ids})
	}
	if len(ways) == 0 {
		return &Snapshot{}, nil
	}

	origin := coords[ways[0].ids[0]]
	cosLat := math.Cos(origin.Lat * math.Pi / 180)
	project := func(n *osm.Node) Vec3 {
		return Vec3{
			X: float32((n.Lon - origin.Lon) * math.Pi / 180 * earthRadius * cosLat),
			Z: float32((n.Lat - origin.Lat) * math.Pi / 180 * earthRadius),
		}
	}

	s := &Snapshot{}
	infos := make(map[string]bool)
	nodeIDs := make(map[osm.NodeID]NodeID)
	footOnly := make(map[NodeID]bool)
	nodeOf := func(id osm.NodeID, footway bool) (NodeID, error) {
		if nid, ok := nodeIDs[id]; ok {
			footOnly[nid] = footOnly[nid] && footway
			return nid, nil
		}
		if len(s.Nodes) >= MaxNodes {
			return 0, ErrTooManyNodes
		}
		s.Nodes = append(s.Nodes, NodeSpec{Position: project(coords[id])})
		nid := NodeID(len(s.Nodes))
		nodeIDs[id] = nid
		footOnly[nid] = footway
		return nid, nil
	}
	for _, w := range ways {
		if !infos[w.class.infoName()] {
			infos[w.class.infoName()] = true
			s.Infos = append(s.Infos, w.class.info())
		}
		start, err := nodeOf(w.ids[0], w.class.footway)
		if err != nil {
			return nil, err
		}
		for _, id := range w.ids[1:] {
			if refs[id] < 2 {
				continue
			}
			end, err := nodeOf(id, w.class.footway)
			if err != nil {
				return nil, err
			}
			if end == start {
				continue
			}
			if len(s.Segments) >= MaxSegments {
				return nil, ErrTooManySegments
			}
			s.Segments = append(s.Segments, SegmentSpec{
				Info:  w.class.infoName(),
				Start: start,
				End:   end,
			})
			start = end
		}
	}
	for nid, foot := range footOnly {
		if foot {
			s.Nodes[nid-1].Flags = append(s.Nodes[nid-1].Flags, "footpath")
		}
	}
	log.Infof("osm import: %d ways -> %d nodes, %d segments", len(ways), len(s.Nodes), len(s.Segments))
	return s, nil
}
