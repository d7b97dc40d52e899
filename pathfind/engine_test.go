package pathfind_test

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"git.fiblab.net/sim/lanepath/netgraph"
	"git.fiblab.net/sim/lanepath/pathfind"
	"git.fiblab.net/sim/lanepath/pathunit"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const roadInfo = `
infos:
  - name: road
    lanes:
      - {type: vehicle, vehicles: [car], direction: forward, speed: 1, position: 1.5}
  - name: slow
    lanes:
      - {type: vehicle, vehicles: [car], direction: avoid_forward, speed: 1, position: 1.5}
`

func build(t *testing.T, doc string) *netgraph.Network {
	t.Helper()
	s, err := netgraph.DecodeSnapshot(strings.NewReader(doc))
	require.NoError(t, err)
	n, err := s.Build()
	require.NoError(t, err)
	return n
}

// 单路段：节点1(0,0,0)到节点2(0,0,100)
func singleSegment(t *testing.T, info string) *netgraph.Network {
	return build(t, roadInfo+`
nodes:
  - position: {x: 0, y: 0, z: 0}
  - position: {x: 0, y: 0, z: 100}
segments:
  - {info: `+info+`, start: 1, end: 2}
`)
}

// 直线上的n个路段，每段100米
func line(t *testing.T, n int) *netgraph.Network {
	var b strings.Builder
	b.WriteString(roadInfo)
	b.WriteString("nodes:\n")
	for i := 0; i <= n; i++ {
		fmt.Fprintf(&b, "  - position: {x: 0, y: 0, z: %d}\n", i*100)
	}
	b.WriteString("segments:\n")
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "  - {info: road, start: %d, end: %d}\n", i, i+1)
	}
	return build(t, b.String())
}

// 菱形：起点路段1，直连路段2，绕行路段3、4，终点路段5
func diamond(t *testing.T, banDirect bool) *netgraph.Network {
	flags := ""
	if banDirect {
		flags = ", flags: [car_ban]"
	}
	return build(t, roadInfo+`
nodes:
  - position: {x: 0, y: 0, z: -100}
  - position: {x: 0, y: 0, z: 0}
  - position: {x: 0, y: 0, z: 100}
  - position: {x: 0, y: 0, z: 200}
  - position: {x: 100, y: 0, z: 50}
segments:
  - {info: road, start: 1, end: 2}
  - {info: road, start: 2, end: 3`+flags+`}
  - {info: road, start: 2, end: 5}
  - {info: road, start: 5, end: 3}
  - {info: road, start: 3, end: 4}
`)
}

func carRequest(start, end netgraph.Position) pathfind.Request {
	return pathfind.Request{
		StartA:       start,
		EndA:         end,
		LaneTypes:    netgraph.LaneTypeVehicle,
		VehicleTypes: netgraph.VehicleTypeCar,
		MaxLength:    1000,
	}
}

func pos(seg netgraph.SegmentID, lane, offset uint8) netgraph.Position {
	return netgraph.Position{Segment: seg, Lane: lane, Offset: offset}
}

func positions(t *testing.T, pool *pathunit.Pool, id uint32) []netgraph.Position {
	t.Helper()
	chain, err := pool.Chain(id)
	require.NoError(t, err)
	var out []netgraph.Position
	for _, u := range chain {
		out = append(out, u.Positions[:u.PositionCount]...)
	}
	return out
}

func segments(ps []netgraph.Position) []netgraph.SegmentID {
	var out []netgraph.SegmentID
	for _, p := range ps {
		if len(out) == 0 || out[len(out)-1] != p.Segment {
			out = append(out, p.Segment)
		}
	}
	return out
}

// solve runs a single request on a fresh engine and returns the pool and unit.
func solve(t *testing.T, g pathfind.Graph, poolSize int, req pathfind.Request) (*pathunit.Pool, uint32) {
	t.Helper()
	pool := pathunit.NewPool(poolSize)
	e := pathfind.New(g, pool, nil)
	t.Cleanup(e.Shutdown)
	id, err := e.CreatePath(req)
	require.NoError(t, err)
	e.WaitForAll()
	return pool, id
}

func TestSingleSegment(t *testing.T) {
	n := singleSegment(t, "road")
	pool, id := solve(t, n, 16, carRequest(pos(1, 0, 0), pos(1, 0, 255)))

	assert.Equal(t, pathunit.FlagReady, pool.Flags(id))
	chain, err := pool.Chain(id)
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.Equal(t, []netgraph.Position{pos(1, 0, 0), pos(1, 0, 255)}, positions(t, pool, id))
	assert.InDelta(t, 100, chain[0].Length, 0.05)
	assert.Equal(t, uint8(100), chain[0].Speed)
	// 搜索结束后只剩创建者的引用
	assert.Equal(t, uint8(1), chain[0].ReferenceCount)
	assert.Equal(t, 1, pool.ItemCount())
}

func TestAvoidDirectionSlowsLane(t *testing.T) {
	n := singleSegment(t, "slow")
	pool, id := solve(t, n, 16, carRequest(pos(1, 0, 0), pos(1, 0, 255)))

	require.Equal(t, pathunit.FlagReady, pool.Flags(id))
	// 逆着回避方向行驶，速度为限速的0.1倍
	assert.Equal(t, uint8(10), pool.Unit(id).Speed)
	assert.InDelta(t, 100, pool.Unit(id).Length, 0.05)
}

func TestCarBan(t *testing.T) {
	start, end := pos(1, 0, 0), pos(5, 0, 255)

	pool, id := solve(t, diamond(t, false), 16, carRequest(start, end))
	require.Equal(t, pathunit.FlagReady, pool.Flags(id))
	control := positions(t, pool, id)
	assert.Equal(t, []netgraph.SegmentID{1, 2, 5}, segments(control))

	// 直连路段禁行后代价×7.5，改走绕行路段
	pool, id = solve(t, diamond(t, true), 16, carRequest(start, end))
	require.Equal(t, pathunit.FlagReady, pool.Flags(id))
	banned := positions(t, pool, id)
	assert.Equal(t, []netgraph.SegmentID{1, 3, 4, 5}, segments(banned))
	assert.Equal(t, start, banned[0])
	assert.Equal(t, end, banned[len(banned)-1])
}

func TestChainSplit(t *testing.T) {
	n := line(t, 19)
	req := carRequest(pos(1, 0, 0), pos(19, 0, 255))
	req.MaxLength = 100000
	pool, id := solve(t, n, 16, req)

	require.Equal(t, pathunit.FlagReady, pool.Flags(id))
	chain, err := pool.Chain(id)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, uint8(12), chain[0].PositionCount)
	assert.Equal(t, uint8(8), chain[1].PositionCount)
	assert.Equal(t, pathunit.FlagReady, chain[1].PathFindFlags)
	assert.Equal(t, uint8(1), chain[1].ReferenceCount)

	total := chain[0].Length + chain[1].Length
	assert.InDelta(t, total*8/20, chain[1].Length, 1e-3)
	assert.InDelta(t, 1800, total, 1)

	ps := positions(t, pool, id)
	require.Len(t, ps, 20)
	assert.Equal(t, pos(1, 0, 0), ps[0])
	for i := 1; i < 20; i++ {
		assert.Equal(t, pos(netgraph.SegmentID(i), 0, 255), ps[i])
	}

	// 释放头部时整条链一起释放
	require.NoError(t, pool.Release(id))
	assert.Zero(t, pool.ItemCount())
}

func TestChainAllocationExhausted(t *testing.T) {
	n := line(t, 19)
	req := carRequest(pos(1, 0, 0), pos(19, 0, 255))
	req.MaxLength = 100000
	// 只有一个可用记录，无法续接
	pool, id := solve(t, n, 2, req)

	assert.Equal(t, pathunit.FlagFailed, pool.Flags(id))
	chain, err := pool.Chain(id)
	require.NoError(t, err)
	assert.Len(t, chain, 1)
}

func TestUnreachable(t *testing.T) {
	n := build(t, roadInfo+`
nodes:
  - position: {x: 0, y: 0, z: 0}
  - position: {x: 0, y: 0, z: 100}
  - position: {x: 500, y: 0, z: 0}
  - position: {x: 500, y: 0, z: 100}
segments:
  - {info: road, start: 1, end: 2}
  - {info: road, start: 3, end: 4}
`)
	pool, id := solve(t, n, 16, carRequest(pos(1, 0, 0), pos(2, 0, 255)))

	assert.Equal(t, pathunit.FlagFailed, pool.Flags(id))
	assert.Equal(t, 1, pool.ItemCount())
	assert.Zero(t, pool.Unit(id).NextPathUnit)
}

func TestDeterministic(t *testing.T) {
	req := carRequest(pos(1, 0, 0), pos(5, 0, 255))
	pool1, id1 := solve(t, diamond(t, false), 16, req)
	pool2, id2 := solve(t, diamond(t, false), 16, req)
	require.Equal(t, id1, id2)

	a, err := pool1.Chain(id1)
	require.NoError(t, err)
	b, err := pool2.Chain(id2)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestPedestrianCrossing(t *testing.T) {
	n := build(t, `
infos:
  - name: street
    lanes:
      - {type: pedestrian, direction: both, speed: 0.25, position: -6}
      - {type: vehicle, vehicles: [car], direction: backward, speed: 1, position: -1.5}
      - {type: vehicle, vehicles: [car], direction: forward, speed: 1, position: 1.5}
      - {type: pedestrian, direction: both, speed: 0.25, position: 6}
nodes:
  - position: {x: 0, y: 0, z: 0}
  - position: {x: 0, y: 0, z: 100}
  - position: {x: 100, y: 0, z: 0}
  - position: {x: 0, y: 0, z: -100}
  - position: {x: -100, y: 0, z: 0}
segments:
  - {info: street, start: 1, end: 2}
  - {info: street, start: 1, end: 3}
  - {info: street, start: 1, end: 4}
  - {info: street, start: 1, end: 5}
`)
	req := pathfind.Request{
		StartA:    pos(1, 0, 255),
		EndA:      pos(2, 0, 255),
		LaneTypes: netgraph.LaneTypePedestrian,
		MaxLength: 10000,
	}
	pool, id := solve(t, n, 16, req)

	require.Equal(t, pathunit.FlagReady, pool.Flags(id))
	ps := positions(t, pool, id)
	require.GreaterOrEqual(t, len(ps), 3)
	assert.Equal(t, req.StartA, ps[0])
	assert.Equal(t, req.EndA, ps[len(ps)-1])
	for _, p := range ps {
		assert.Contains(t, []uint8{0, 3}, p.Lane, "position %+v is not on a sidewalk", p)
	}
}

const walkInfo = `
infos:
  - name: walk
    lanes:
      - {type: pedestrian, direction: both, speed: 0.25, position: 0}
`

func walkRequest(start, end netgraph.Position) pathfind.Request {
	return pathfind.Request{
		StartA:    start,
		EndA:      end,
		LaneTypes: netgraph.LaneTypePedestrian,
		MaxLength: 10000,
	}
}

// 两条互不相连的步道，attach非空时节点2挂接到路段2的车道中点
func transferNetwork(t *testing.T, attach bool) *netgraph.Network {
	doc := walkInfo + `
nodes:
  - position: {x: 0, y: 0, z: 0}
  - position: {x: 0, y: 0, z: 100}
  - position: {x: 20, y: 0, z: 80}
  - position: {x: 20, y: 0, z: 180}
segments:
  - {info: walk, start: 1, end: 2}
  - {info: walk, start: 3, end: 4}
`
	if attach {
		doc += `
attachments:
  - {node: 2, segment: 2, lane: 0, offset: 128}
`
	}
	return build(t, doc)
}

func TestTransferLane(t *testing.T) {
	req := walkRequest(pos(2, 0, 255), pos(1, 0, 0))

	pool, id := solve(t, transferNetwork(t, false), 16, req)
	assert.Equal(t, pathunit.FlagFailed, pool.Flags(id))

	// 经节点2换乘到路段2的挂接车道
	pool, id = solve(t, transferNetwork(t, true), 16, req)
	require.Equal(t, pathunit.FlagReady, pool.Flags(id))
	ps := positions(t, pool, id)
	assert.Equal(t, []netgraph.SegmentID{2, 1}, segments(ps))
	assert.Equal(t, req.StartA, ps[0])
	assert.Contains(t, ps, pos(2, 0, 128))
	assert.Equal(t, req.EndA, ps[len(ps)-1])
}

// 节点3在路段1的车道中点上，路段2从节点3引出
func laneNodeNetwork(t *testing.T, attach bool) *netgraph.Network {
	doc := walkInfo + `
nodes:
  - position: {x: 0, y: 0, z: 0}
  - position: {x: 0, y: 0, z: 200}
  - position: {x: 30, y: 0, z: 100}
  - position: {x: 130, y: 0, z: 100}
segments:
  - {info: walk, start: 1, end: 2}
  - {info: walk, start: 3, end: 4}
`
	if attach {
		doc += `
attachments:
  - {node: 3, segment: 1, lane: 0, offset: 128}
`
	}
	return build(t, doc)
}

func TestLaneNodePassThrough(t *testing.T) {
	req := walkRequest(pos(2, 0, 255), pos(1, 0, 255))

	pool, id := solve(t, laneNodeNetwork(t, false), 16, req)
	assert.Equal(t, pathunit.FlagFailed, pool.Flags(id))

	pool, id = solve(t, laneNodeNetwork(t, true), 16, req)
	require.Equal(t, pathunit.FlagReady, pool.Flags(id))
	ps := positions(t, pool, id)
	assert.Equal(t, []netgraph.SegmentID{2, 1}, segments(ps))
	assert.Equal(t, req.StartA, ps[0])
	assert.Equal(t, req.EndA, ps[len(ps)-1])
	// 方式距离不含起点路段：节点3到车道的连接加车道后半段
	assert.InDelta(t, 30+100, pool.Unit(id).Length, 1)
}

// 直线上的n段100米步道，节点均为步行网络节点
func walkway(t *testing.T, n int) *netgraph.Network {
	var b strings.Builder
	b.WriteString(walkInfo)
	b.WriteString("nodes:\n")
	for i := 0; i <= n; i++ {
		fmt.Fprintf(&b, "  - {position: {x: 0, y: 0, z: %d}, flags: [footpath]}\n", i*100)
	}
	b.WriteString("segments:\n")
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "  - {info: walk, start: %d, end: %d}\n", i, i+1)
	}
	return build(t, b.String())
}

func TestPedestrianDistanceLimit(t *testing.T) {
	pool, id := solve(t, walkway(t, 5), 16, walkRequest(pos(1, 0, 0), pos(5, 0, 255)))
	require.Equal(t, pathunit.FlagReady, pool.Flags(id))
	assert.InDelta(t, 400, pool.Unit(id).Length, 1)

	// 超过1000米的步行路线被丢弃
	long := walkRequest(pos(1, 0, 0), pos(12, 0, 255))
	pool, id = solve(t, walkway(t, 12), 16, long)
	assert.Equal(t, pathunit.FlagFailed, pool.Flags(id))

	// StablePath不受步行距离限制
	long.Flags = pathunit.SimStablePath
	pool, id = solve(t, walkway(t, 12), 16, long)
	require.Equal(t, pathunit.FlagReady, pool.Flags(id))
	assert.InDelta(t, 1100, pool.Unit(id).Length, 1)
	assert.Equal(t, []netgraph.SegmentID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, segments(positions(t, pool, id)))
}

func TestCreatePathValidation(t *testing.T) {
	n := singleSegment(t, "road")
	e := pathfind.New(n, pathunit.NewPool(4), nil)
	defer e.Shutdown()

	_, err := e.CreatePath(carRequest(pos(9, 0, 0), pos(1, 0, 255)))
	assert.ErrorIs(t, err, pathfind.ErrInvalidRequest)
	_, err = e.CreatePath(carRequest(pos(1, 0, 0), pos(1, 5, 255)))
	assert.ErrorIs(t, err, pathfind.ErrInvalidRequest)
	req := carRequest(pos(1, 0, 0), pos(1, 0, 255))
	req.MaxLength = 0
	_, err = e.CreatePath(req)
	assert.ErrorIs(t, err, pathfind.ErrInvalidRequest)
}

func TestPoolExhausted(t *testing.T) {
	n := singleSegment(t, "road")
	pool := pathunit.NewPool(2)
	e := pathfind.New(n, pool, nil)
	defer e.Shutdown()

	_, err := e.CreatePath(carRequest(pos(1, 0, 0), pos(1, 0, 255)))
	require.NoError(t, err)
	_, err = e.CreatePath(carRequest(pos(1, 0, 0), pos(1, 0, 255)))
	assert.ErrorIs(t, err, pathfind.ErrAllocationExhausted)
}

func TestSubmitRejected(t *testing.T) {
	n := singleSegment(t, "road")
	pool := pathunit.NewPool(4)
	rec := &recorder{}
	e := pathfind.New(n, pool, nil, pathfind.WithObserver(rec))
	defer e.Shutdown()

	id, err := pool.CreateItem(nil)
	require.NoError(t, err)
	pool.Unit(id).ReferenceCount = 255
	assert.False(t, e.Submit(id, false))
	assert.Zero(t, e.Pending())
	assert.Zero(t, pool.Flags(id))
	assert.Equal(t, 1, rec.rejected())

	// 未分配的记录同样被拒绝
	assert.False(t, e.Submit(3, false))
}

func TestWaitForAllConcurrent(t *testing.T) {
	n := diamond(t, false)
	pool := pathunit.NewPool(256)
	e := pathfind.New(n, pool, nil)
	defer e.Shutdown()

	var mu sync.Mutex
	var ids []uint32
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			for j := 0; j < 8; j++ {
				id, err := e.CreatePath(carRequest(pos(1, 0, 0), pos(5, 0, 255)))
				if err != nil {
					return err
				}
				mu.Lock()
				ids = append(ids, id)
				mu.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	e.WaitForAll()

	assert.Zero(t, e.Pending())
	require.Len(t, ids, 64)
	for _, id := range ids {
		assert.Equal(t, pathunit.FlagReady, pool.Flags(id))
		assert.Equal(t, uint8(1), pool.Unit(id).ReferenceCount)
	}
}

// gatedGraph blocks the first search until gate is closed.
type gatedGraph struct {
	*netgraph.Network
	gate chan struct{}
	once sync.Once
}

func (g *gatedGraph) BeginRead() *xsync.RToken {
	g.once.Do(func() { <-g.gate })
	return g.Network.BeginRead()
}

type recorder struct {
	mu      sync.Mutex
	done    []uint32
	rejects int
}

func (r *recorder) OnSubmit(bool, int) {}

func (r *recorder) OnReject() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejects++
}

func (r *recorder) OnComplete(res pathfind.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = append(r.done, res.Unit)
}

func (r *recorder) order() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint32(nil), r.done...)
}

func (r *recorder) rejected() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rejects
}

func TestSkipQueue(t *testing.T) {
	g := &gatedGraph{Network: singleSegment(t, "road"), gate: make(chan struct{})}
	pool := pathunit.NewPool(8)
	rec := &recorder{}
	e := pathfind.New(g, pool, nil, pathfind.WithObserver(rec))
	defer e.Shutdown()

	req := carRequest(pos(1, 0, 0), pos(1, 0, 255))
	first, err := e.CreatePath(req)
	require.NoError(t, err)
	// 等待工作线程取走第一个请求
	require.Eventually(t, func() bool {
		return pool.Flags(first)&pathunit.FlagCalculating != 0
	}, time.Second, time.Millisecond)

	normal, err := e.CreatePath(req)
	require.NoError(t, err)
	req.SkipQueue = true
	urgent, err := e.CreatePath(req)
	require.NoError(t, err)
	assert.Equal(t, 2, e.Pending())
	assert.Equal(t, pathunit.FlagQueued, pool.Flags(normal))

	close(g.gate)
	e.WaitForAll()
	assert.Equal(t, []uint32{first, urgent, normal}, rec.order())
}

func TestShutdown(t *testing.T) {
	g := &gatedGraph{Network: singleSegment(t, "road"), gate: make(chan struct{})}
	pool := pathunit.NewPool(8)
	e := pathfind.New(g, pool, nil)
	require.True(t, e.IsAvailable())

	req := carRequest(pos(1, 0, 0), pos(1, 0, 255))
	running, err := e.CreatePath(req)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return pool.Flags(running)&pathunit.FlagCalculating != 0
	}, time.Second, time.Millisecond)
	queued, err := e.CreatePath(req)
	require.NoError(t, err)

	stopped := make(chan struct{})
	go func() {
		e.Shutdown()
		close(stopped)
	}()
	require.Eventually(t, func() bool {
		_, err := e.CreatePath(req)
		return errors.Is(err, pathfind.ErrShutdown)
	}, time.Second, time.Millisecond)
	// 正在运行的搜索完成后才退出
	close(g.gate)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not return")
	}

	assert.False(t, e.IsAvailable())
	assert.Equal(t, pathunit.FlagReady, pool.Flags(running))
	assert.Equal(t, pathunit.FlagFailed, pool.Flags(queued))
	assert.Equal(t, uint8(1), pool.Unit(queued).ReferenceCount)
	assert.Zero(t, e.Pending())

	_, err = e.CreatePath(req)
	assert.ErrorIs(t, err, pathfind.ErrShutdown)
	assert.False(t, e.Submit(running, false))
	e.WaitForAll()
	e.Shutdown()
}
