package main

import (
	"context"
	"flag"
	"math/rand"
	"time"

	"connectrpc.com/connect"
	"git.fiblab.net/sim/lanepath/netgraph"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var (
	benchmarkCount = flag.Int("benchmark.count", 1000, "the random path request count for benchmark")
	benchmarkRate  = flag.Float64("benchmark.rate", 0, "requests per second for benchmark (0 means unlimited)")
	benchmarkSeed  = flag.Int64("benchmark.seed", 0, "the seed for benchmark")
)

// carLanes lists the middle of every car lane as a candidate endpoint.
func carLanes(n *netgraph.Network) []netgraph.Position {
	var out []netgraph.Position
	for id := 1; id <= n.SegmentCount(); id++ {
		seg := n.Segment(netgraph.SegmentID(id))
		if seg.Info == nil {
			continue
		}
		for i := range seg.Info.Lanes {
			if seg.Info.Lanes[i].CheckType(netgraph.LaneTypeVehicle, netgraph.VehicleTypeCar) {
				out = append(out, netgraph.Position{Segment: netgraph.SegmentID(id), Lane: uint8(i), Offset: 128})
			}
		}
	}
	return out
}

func runBenchmark(server *PathServer) {
	log.Logger.SetLevel(logrus.WarnLevel)
	// 设置随机种子
	e := rand.New(rand.NewSource(*benchmarkSeed))
	lanes := carLanes(server.network)
	if len(lanes) == 0 {
		log.Error("benchmark failed, no car lane in graph")
		return
	}
	// 随机生成benchmarkCount个路径规划请求，每个请求的起点和终点都是随机的
	reqs := make([]*connect.Request[CreatePathRequest], *benchmarkCount)
	for i := range reqs {
		reqs[i] = connect.NewRequest(&CreatePathRequest{
			StartA:       lanes[e.Intn(len(lanes))],
			EndA:         lanes[e.Intn(len(lanes))],
			LaneTypes:    []string{"vehicle"},
			VehicleTypes: []string{"car"},
			MaxLength:    100000,
		})
	}

	limit := rate.Inf
	if *benchmarkRate > 0 {
		limit = rate.Limit(*benchmarkRate)
	}
	limiter := rate.NewLimiter(limit, 1)
	ctx := context.Background()

	// 开始benchmark
	start := time.Now()
	units := make([]uint32, 0, len(reqs))
	for _, req := range reqs {
		if err := limiter.Wait(ctx); err != nil {
			log.Error("benchmark failed, err:", err)
			break
		}
		res, err := server.CreatePath(ctx, req)
		if err != nil {
			log.Error("benchmark failed, err:", err)
			continue
		}
		units = append(units, res.Msg.Unit)
	}
	server.engine.WaitForAll()
	timeCost := time.Since(start)

	success := 0
	for _, unit := range units {
		if path, err := server.pathResult(unit); err == nil && path.Status == "ready" {
			success++
		}
		if err := server.pool.Release(unit); err != nil {
			log.Error("benchmark release failed, err:", err)
		}
	}
	log.Error(
		"benchmark finished", "\n",
		"count:", *benchmarkCount, "\n",
		"submitted:", len(units), "\n",
		"time:", timeCost, "\n",
		"avg:", timeCost/time.Duration(max(1, *benchmarkCount)), "\n",
		"success:", success, "\n",
	)
}
