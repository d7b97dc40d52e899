package pathfind

import (
	"fmt"
	"strings"
	"testing"

	"git.fiblab.net/sim/lanepath/netgraph"
	"git.fiblab.net/sim/lanepath/pathfind/algo"
	"git.fiblab.net/sim/lanepath/pathunit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, doc string) *netgraph.Network {
	t.Helper()
	snap, err := netgraph.DecodeSnapshot(strings.NewReader(doc))
	require.NoError(t, err)
	n, err := snap.Build()
	require.NoError(t, err)
	return n
}

func at(seg netgraph.SegmentID, lane, offset uint8) netgraph.Position {
	return netgraph.Position{Segment: seg, Lane: lane, Offset: offset}
}

// loaded returns a searcher that has loaded req from a fresh pool and begun
// a search epoch.
func loaded(t *testing.T, g *netgraph.Network, req Request) *searcher {
	t.Helper()
	pool := pathunit.NewPool(4)
	id, err := pool.CreateItem(nil)
	require.NoError(t, err)
	req.store(pool.Unit(id))
	s := newSearcher(g, DefaultSpeeds{}, pool)
	require.NoError(t, s.load(id))
	s.epoch = s.queue.Begin()
	return s
}

// itemAt builds a frontier entry standing on the lane at p.
func itemAt(t *testing.T, g *netgraph.Network, p netgraph.Position) algo.Item {
	t.Helper()
	lane := g.LaneID(p.Segment, p.Lane)
	require.NotZero(t, lane)
	seg := g.Segment(p.Segment)
	info := &seg.Info.Lanes[p.Lane]
	return algo.Item{
		Position:       p,
		LaneID:         lane,
		Direction:      laneDirection(seg, info),
		LanesUsed:      info.LaneType,
		MethodDistance: SEED_METHOD_DISTANCE,
	}
}

// drain pops every queued entry, keyed by lane.
func drain(s *searcher) map[netgraph.LaneID]algo.Item {
	out := make(map[netgraph.LaneID]algo.Item)
	for {
		item, ok := s.queue.PopMin()
		if !ok {
			return out
		}
		out[item.LaneID] = item
	}
}

func carRequest(start, end netgraph.Position, flags uint8) Request {
	return Request{
		StartA:       start,
		EndA:         end,
		LaneTypes:    netgraph.LaneTypeVehicle,
		VehicleTypes: netgraph.VehicleTypeCar,
		MaxLength:    1000,
		Flags:        flags,
	}
}

// 路口节点1：路段1驶入，路段2、3、4各有一条驶向路口的导向车道，路段5只有驶向路口的车道
const junctionDoc = `
infos:
  - name: two
    lanes:
      - {type: vehicle, vehicles: [car], direction: forward, speed: 1, position: 1.5}
      - {type: vehicle, vehicles: [car], direction: backward, speed: 1, position: -1.5}
  - name: inbound
    lanes:
      - {type: vehicle, vehicles: [car], direction: backward, speed: 1, position: -1.5}
nodes:
  - position: {x: 0, y: 0, z: 0}
  - position: {x: 0, y: 0, z: -100}
  - position: {x: 100, y: 0, z: 0}
  - position: {x: 0, y: 0, z: 100}
  - position: {x: -100, y: 0, z: 0}
  - position: {x: 70, y: 0, z: 70}
segments:
  - {info: two, start: 2, end: 1}
  - {info: two, start: 1, end: 3, lane_targets: [{first: 0, last: 255}, {first: 2, last: 3}]}
  - {info: two, start: 1, end: 4, lane_targets: [{first: 0, last: 255}, {first: 3, last: 4}]}
  - {info: two, start: 1, end: 5, lane_targets: [{first: 0, last: 255}, {first: 4, last: 5}]}
  - {info: inbound, start: 1, end: 6}
`

func TestLaneIndexCarriedAcrossExits(t *testing.T) {
	g := decode(t, junctionDoc)
	item := itemAt(t, g, at(1, 1, 0))
	s := loaded(t, g, carRequest(at(1, 1, 0), at(1, 1, 255), pathunit.SimStablePath))

	base := offsetDelta(255, 0) * algo.OFFSET_FACTOR * g.Segment(1).AverageLength / 1000
	expect := func(seg netgraph.SegmentID) float32 {
		lane := g.LaneID(seg, 1)
		return base + netgraph.Distance(g.Lane(lane).Bezier.A, g.LanePosition(item.LaneID, 255))/1000
	}

	// 计数从2开始，每个出口的对向车道加一，三个出口都落在导向范围内
	fromInner := 2
	for _, seg := range []netgraph.SegmentID{2, 3, 4} {
		s.processCosts(item, 1, seg, &fromInner, 255, true, false)
	}
	assert.Equal(t, 5, fromInner)
	got := drain(s)
	assert.Len(t, got, 3)
	for _, seg := range []netgraph.SegmentID{2, 3, 4} {
		next, ok := got[g.LaneID(seg, 1)]
		require.True(t, ok, "segment %d", seg)
		assert.InDelta(t, expect(seg), next.ComparisonValue, 1e-6, "segment %d", seg)
	}

	// 没有对向车道时计数保持不变
	s.epoch = s.queue.Begin()
	fromInner = 5
	s.processCosts(item, 1, 5, &fromInner, 255, true, false)
	assert.Equal(t, 5, fromInner)
	assert.Equal(t, 1, s.queue.Len())

	// 不在导向范围内需要加变道代价
	s.epoch = s.queue.Begin()
	fromInner = 0
	s.processCosts(item, 1, 3, &fromInner, 255, true, false)
	assert.Equal(t, 1, fromInner)
	next, ok := drain(s)[g.LaneID(3, 1)]
	require.True(t, ok)
	assert.Greater(t, next.ComparisonValue, expect(3)+0.0009)
}

// 两段直线路段，路段2接在路段1之后
func pairDoc(first, second string) string {
	return fmt.Sprintf(`
infos:
  - name: road
    lanes:
      - {type: vehicle, vehicles: [car], direction: forward, speed: 1, position: 1.5}
nodes:
  - position: {x: 0, y: 0, z: 0}
  - position: {x: 0, y: 0, z: 100}
  - position: {x: 0, y: 0, z: 200}
segments:
  - {info: road, start: 1, end: 2%s}
  - {info: road, start: 2, end: 3%s}
`, first, second)
}

// relaxPair expands an item at the end of segment 2 onto segment 1 and
// returns the entry pushed for segment 1 with the blocked report.
func relaxPair(t *testing.T, g *netgraph.Network, flags uint8) (*searcher, algo.Item, bool) {
	t.Helper()
	s := loaded(t, g, carRequest(at(2, 0, 0), at(2, 0, 255), flags))
	fromInner := 0
	blocked := s.processCosts(itemAt(t, g, at(2, 0, 255)), 2, 1, &fromInner, 0, true, false)
	next, ok := drain(s)[g.LaneID(1, 0)]
	require.True(t, ok)
	return s, next, blocked
}

// pairCosts is the travelled stretch of segment 2 and the connection to
// segment 1, both normalized by the max length.
func pairCosts(g *netgraph.Network) (stretch, connect float32) {
	stretch = offsetDelta(0, 255) * algo.OFFSET_FACTOR * g.Segment(2).AverageLength / 1000
	connect = netgraph.Distance(g.Lane(g.LaneID(1, 0)).Bezier.D, g.LanePosition(g.LaneID(2, 0), 0)) / 1000
	return
}

func TestBlockedPenalty(t *testing.T) {
	g := decode(t, pairDoc(", flags: [blocked]", ""))

	_, penalized, blocked := relaxPair(t, g, pathunit.SimStablePath)
	assert.True(t, blocked)
	_, open, blocked := relaxPair(t, g, pathunit.SimStablePath|pathunit.SimIgnoreBlocked)
	assert.False(t, blocked)

	stretch, connect := pairCosts(g)
	assert.InDelta(t, stretch+connect, open.ComparisonValue, 1e-6)
	assert.InDelta(t, BLOCKED_PENALTY, penalized.ComparisonValue-open.ComparisonValue, 1e-6)
}

func TestCarBanFactor(t *testing.T) {
	stretch, connect := pairCosts(decode(t, pairDoc("", "")))

	_, plain, _ := relaxPair(t, decode(t, pairDoc("", "")), pathunit.SimStablePath)
	_, banned, _ := relaxPair(t, decode(t, pairDoc("", ", flags: [car_ban]")), pathunit.SimStablePath)
	assert.InDelta(t, stretch+connect, plain.ComparisonValue, 1e-6)
	assert.InDelta(t, CAR_BAN_FACTOR*stretch+connect, banned.ComparisonValue, 1e-6)
	assert.InDelta(t, CAR_BAN_FACTOR, (banned.ComparisonValue-connect)/(plain.ComparisonValue-connect), 1e-4)
	// 时间只按实际距离累计
	assert.InDelta(t, plain.Duration, banned.Duration, 1e-4)

	// 重型车禁行只在请求带HeavyBan时生效
	heavy := decode(t, pairDoc("", ", flags: [heavy_ban]"))
	_, next, _ := relaxPair(t, heavy, pathunit.SimStablePath)
	assert.InDelta(t, plain.ComparisonValue, next.ComparisonValue, 1e-6)
	_, next, _ = relaxPair(t, heavy, pathunit.SimStablePath|pathunit.SimHeavyBan)
	assert.InDelta(t, banned.ComparisonValue, next.ComparisonValue, 1e-6)
}

func TestStablePathSkipsJitter(t *testing.T) {
	g := decode(t, pairDoc("", ", traffic_density: 50"))
	stretch, connect := pairCosts(g)

	s, next, _ := relaxPair(t, g, pathunit.SimStablePath)
	assert.InDelta(t, stretch+connect, next.ComparisonValue, 1e-6)
	assert.Equal(t, algo.NewRandomizer(uint64(s.unit)), s.rnd)

	s, next, _ = relaxPair(t, g, 0)
	jitter := algo.NewRandomizer(uint64(s.epoch<<16 | 2))
	rnd := algo.NewRandomizer(uint64(s.unit))
	k := jitter.Int32Range(900, 1000+50*10) + rnd.Int32(20)
	assert.InDelta(t, stretch*float32(k)*0.001+connect, next.ComparisonValue, 1e-6)
	assert.Equal(t, rnd, s.rnd)
}

// 路段1收费，人行道在左侧，两条车道相向
const streetDoc = `
infos:
  - name: street
    lanes:
      - {type: pedestrian, direction: both, speed: 0.25, position: -6}
      - {type: vehicle, vehicles: [car], direction: forward, speed: 1, position: 1.5}
      - {type: vehicle, vehicles: [car], direction: backward, speed: 1, position: -1.5}
nodes:
  - position: {x: 0, y: 0, z: 0}
  - position: {x: 0, y: 0, z: 100}
  - position: {x: 300, y: 0, z: 0}
  - position: {x: 300, y: 0, z: 100}
segments:
  - {info: street, start: 1, end: 2, ticket_cost: 300}
  - {info: street, start: 3, end: 4}
`

func TestTicketCost(t *testing.T) {
	g := decode(t, streetDoc)
	item := itemAt(t, g, at(1, 1, 0))
	for _, c := range []struct {
		name           string
		flags          uint8
		stable, ignore bool
	}{
		{"default", 0, false, false},
		{"ignore cost", pathunit.SimIgnoreCost, false, true},
		{"stable path", pathunit.SimStablePath, true, true},
	} {
		t.Run(c.name, func(t *testing.T) {
			s := loaded(t, g, carRequest(at(2, 1, 0), at(2, 1, 255), c.flags))
			assert.Equal(t, c.stable, s.stablePath)
			assert.Equal(t, c.ignore, s.ignoreCost)

			rnd := algo.NewRandomizer(uint64(s.unit))
			got := s.ticket(&item, 0.5)
			if c.ignore {
				assert.Equal(t, float32(0.5), got)
			} else {
				want := 0.5 + 300*float32(rnd.UInt32(TICKET_RANDOM))*TICKET_FACTOR
				assert.InDelta(t, want, got, 1e-7)
				assert.Greater(t, got, float32(0.5))
			}
			// 忽略票价时不消耗随机数
			assert.Equal(t, rnd, s.rnd)
		})
	}

	// 免费车道不抽取随机数
	s := loaded(t, g, carRequest(at(2, 1, 0), at(2, 1, 255), 0))
	assert.Equal(t, float32(0.5), s.ticket(&algo.Item{LaneID: g.LaneID(2, 1)}, 0.5))
	assert.Equal(t, algo.NewRandomizer(uint64(s.unit)), s.rnd)
}

func TestFareDrawnBeforeLaneChecks(t *testing.T) {
	g := decode(t, streetDoc)
	item := itemAt(t, g, at(1, 0, 0))
	req := Request{
		StartA:    at(2, 0, 0),
		EndA:      at(2, 0, 255),
		LaneTypes: netgraph.LaneTypePedestrian,
		MaxLength: 1000,
	}
	s := loaded(t, g, req)
	rnd := algo.NewRandomizer(uint64(s.unit))

	// 目标节点禁用时直接返回
	s.processPublicTransport(item, true, 2, g.LaneID(2, 1), 128, 255)
	assert.Equal(t, rnd, s.rnd)

	// 车道类型不符
	s.processPublicTransport(item, false, 2, g.LaneID(2, 1), 128, 255)
	rnd.UInt32(TICKET_RANDOM)
	assert.Equal(t, rnd, s.rnd)

	// 车道不在目标路段上
	s.processPublicTransport(item, false, 2, g.LaneID(1, 1), 128, 255)
	rnd.UInt32(TICKET_RANDOM)
	assert.Equal(t, rnd, s.rnd)

	// 车道下标越界
	s.processPedBicycle(item, 2, 2, 0, 0, 7, g.LaneID(2, 0))
	rnd.UInt32(TICKET_RANDOM)
	assert.Equal(t, rnd, s.rnd)

	assert.Zero(t, s.queue.Len())
}

func TestRandomParking(t *testing.T) {
	g := decode(t, streetDoc)
	item := itemAt(t, g, at(1, 0, 0))
	req := Request{
		StartA:       at(2, 1, 0),
		EndA:         at(1, 0, 0),
		LaneTypes:    netgraph.LaneTypePedestrian | netgraph.LaneTypeVehicle,
		VehicleTypes: netgraph.VehicleTypeCar,
		MaxLength:    1000,
		Flags:        pathunit.SimStablePath,
	}
	car := g.LaneID(1, 2)

	s := loaded(t, g, req)
	s.processMain(item, 2, 255, false)
	plain, ok := drain(s)[car]
	require.True(t, ok)

	req.Flags |= pathunit.SimRandomParking
	s = loaded(t, g, req)
	s.processMain(item, 2, 255, false)
	parked, ok := drain(s)[car]
	require.True(t, ok)

	rnd := algo.NewRandomizer(uint64(s.unit))
	shift := float32(rnd.Int32(PARKING_RANDOM)) / 1000
	assert.InDelta(t, shift, parked.ComparisonValue-plain.ComparisonValue, 1e-5)
	assert.Equal(t, rnd, s.rnd)
}

func TestVehicleLaneSwitchOffset(t *testing.T) {
	g := decode(t, streetDoc)
	item := itemAt(t, g, at(1, 1, 255))
	sidewalk := g.LaneID(1, 0)
	newRequest := func(vehicle netgraph.Position, flags uint8) Request {
		return Request{
			StartA:       at(2, 1, 0),
			EndA:         at(1, 1, 255),
			Vehicle:      vehicle,
			LaneTypes:    netgraph.LaneTypePedestrian | netgraph.LaneTypeVehicle,
			VehicleTypes: netgraph.VehicleTypeCar,
			MaxLength:    1000,
			Flags:        flags,
		}
	}

	// 只能在车辆所在车道、车辆所在位置下车
	s := loaded(t, g, newRequest(at(1, 1, 77), pathunit.SimStablePath))
	assert.Equal(t, g.LaneID(1, 1), s.vehicleLane)
	s.processMain(item, 1, 0, false)
	next, ok := drain(s)[sidewalk]
	require.True(t, ok)
	assert.Equal(t, at(1, 0, 77), next.Position)

	s = loaded(t, g, newRequest(at(1, 2, 40), pathunit.SimStablePath))
	s.processMain(item, 1, 0, false)
	got := drain(s)
	assert.NotContains(t, got, sidewalk)
	assert.Contains(t, got, g.LaneID(1, 2))

	// 没有车辆时StablePath固定在中点下车
	s = loaded(t, g, newRequest(netgraph.Position{}, pathunit.SimStablePath))
	s.processMain(item, 1, 0, false)
	next, ok = drain(s)[sidewalk]
	require.True(t, ok)
	assert.Equal(t, uint8(128), next.Position.Offset)

	s = loaded(t, g, newRequest(netgraph.Position{}, 0))
	s.processMain(item, 1, 0, false)
	next, ok = drain(s)[sidewalk]
	require.True(t, ok)
	rnd := algo.NewRandomizer(uint64(s.unit))
	assert.Equal(t, uint8(rnd.UInt32Range(1, 254)), next.Position.Offset)
}

// 节点2为弯道节点，节点1、3为端点
func bendDoc(info string) string {
	lanes := func(vehicle string) string {
		return fmt.Sprintf(`
      - {type: vehicle, vehicles: [%[1]s], direction: forward, speed: 1, position: 2}
      - {type: vehicle, vehicles: [%[1]s], direction: backward, speed: 1, position: -2}`, vehicle)
	}
	return `
infos:
  - name: ferry
    max_turn_angle_cos: -1
    lanes:` + lanes("ferry") + `
  - name: monorail
    max_turn_angle_cos: -1
    lanes:` + lanes("monorail") + `
  - name: road
    lanes:` + lanes("car") + `
nodes:
  - position: {x: 0, y: 0, z: 0}
  - position: {x: 0, y: 0, z: 100}
  - position: {x: 100, y: 0, z: 100}
segments:
  - {info: ` + info + `, start: 1, end: 2}
  - {info: ` + info + `, start: 2, end: 3}
`
}

func TestFerryAndMonorailTurns(t *testing.T) {
	for _, c := range []struct {
		info             string
		vehicle          netgraph.VehicleType
		bendUTurn, uTurn bool
	}{
		{"ferry", netgraph.VehicleTypeFerry, true, true},
		{"monorail", netgraph.VehicleTypeMonorail, false, false},
		{"road", netgraph.VehicleTypeCar, false, true},
	} {
		t.Run(c.info, func(t *testing.T) {
			g := decode(t, bendDoc(c.info))
			require.NotZero(t, g.Node(2).Flags&netgraph.NodeBend)
			require.NotZero(t, g.Node(1).Flags&netgraph.NodeEnd)
			req := Request{
				StartA:       at(2, 0, 255),
				EndA:         at(1, 1, 0),
				LaneTypes:    netgraph.LaneTypeVehicle,
				VehicleTypes: c.vehicle,
				MaxLength:    1000,
				Flags:        pathunit.SimStablePath,
			}

			// 弯道节点：继续驶入路段2，渡轮可在此掉头
			s := loaded(t, g, req)
			s.processMain(itemAt(t, g, at(1, 1, 0)), 2, 255, false)
			got := drain(s)
			assert.Contains(t, got, g.LaneID(2, 1))
			if c.bendUTurn {
				assert.Contains(t, got, g.LaneID(1, 0))
			} else {
				assert.NotContains(t, got, g.LaneID(1, 0))
			}

			// 端点：单轨不掉头
			s = loaded(t, g, req)
			s.processMain(itemAt(t, g, at(1, 0, 255)), 1, 0, false)
			got = drain(s)
			if c.uTurn {
				assert.Contains(t, got, g.LaneID(1, 1))
			} else {
				assert.Empty(t, got)
			}
		})
	}
}
