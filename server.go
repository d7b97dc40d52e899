package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"connectrpc.com/connect"
	"git.fiblab.net/sim/lanepath/netgraph"
	"git.fiblab.net/sim/lanepath/pathfind"
	"git.fiblab.net/sim/lanepath/pathunit"
	"git.fiblab.net/sim/lanepath/speedlimit"
	"github.com/samber/lo"
)

var simFlagNames = map[string]uint8{
	"ignore_flooded":   pathunit.SimIgnoreFlooded,
	"waiting_path_ban": pathunit.SimWaitingPathBan,
	"ignore_cost":      pathunit.SimIgnoreCost,
	"heavy_ban":        pathunit.SimHeavyBan,
	"ignore_blocked":   pathunit.SimIgnoreBlocked,
	"stable_path":      pathunit.SimStablePath,
	"random_parking":   pathunit.SimRandomParking,
}

func parseSimFlags(names []string) (uint8, error) {
	var out uint8
	for _, name := range names {
		v, ok := simFlagNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			keys := lo.Keys(simFlagNames)
			sort.Strings(keys)
			return 0, fmt.Errorf("unknown flag %q, expect one of %v", name, keys)
		}
		out |= v
	}
	return out, nil
}

func pathStatus(flags uint8) string {
	switch {
	case flags&pathunit.FlagFailed != 0:
		return "failed"
	case flags&pathunit.FlagReady != 0:
		return "ready"
	case flags&pathunit.FlagCalculating != 0:
		return "calculating"
	case flags&pathunit.FlagQueued != 0:
		return "queued"
	}
	return "created"
}

type PathServer struct {
	network *netgraph.Network
	pool    *pathunit.Pool
	speeds  *speedlimit.Manager
	engine  *pathfind.Engine

	// 接口开启true或关闭false
	ok bool
	// 条件变量
	cond *sync.Cond
}

func NewPathServer(network *netgraph.Network, poolSize int, observer pathfind.Observer) *PathServer {
	pool := pathunit.NewPool(poolSize)
	speeds := speedlimit.New()
	opts := []pathfind.Option{}
	if observer != nil {
		opts = append(opts, pathfind.WithObserver(observer))
	}
	return &PathServer{
		network: network,
		pool:    pool,
		speeds:  speeds,
		engine:  pathfind.New(network, pool, speeds, opts...),
		ok:      true, cond: sync.NewCond(&sync.Mutex{}),
	}
}

// Handler mounts every procedure of the service.
func (s *PathServer) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)
	mux := http.NewServeMux()
	mux.Handle(CreatePathProcedure, connect.NewUnaryHandler(CreatePathProcedure, s.CreatePath, opts...))
	mux.Handle(GetPathProcedure, connect.NewUnaryHandler(GetPathProcedure, s.GetPath, opts...))
	mux.Handle(ReleasePathProcedure, connect.NewUnaryHandler(ReleasePathProcedure, s.ReleasePath, opts...))
	mux.Handle(WaitForAllProcedure, connect.NewUnaryHandler(WaitForAllProcedure, s.WaitForAll, opts...))
	mux.Handle(StatusProcedure, connect.NewUnaryHandler(StatusProcedure, s.Status, opts...))
	mux.Handle(SetSegmentFlagsProcedure, connect.NewUnaryHandler(SetSegmentFlagsProcedure, s.SetSegmentFlags, opts...))
	mux.Handle(SetSpeedLimitProcedure, connect.NewUnaryHandler(SetSpeedLimitProcedure, s.SetSpeedLimit, opts...))
	mux.Handle(SuspendProcedure, connect.NewUnaryHandler(SuspendProcedure, s.SuspendRPC, opts...))
	mux.Handle(ResumeProcedure, connect.NewUnaryHandler(ResumeProcedure, s.ResumeRPC, opts...))
	return "/" + ServiceName + "/", mux
}

// 暂停-恢复机制
func (s *PathServer) waitResumed() {
	s.cond.L.Lock()
	for !s.ok {
		// 暂停中
		s.cond.Wait()
	}
	s.cond.L.Unlock()
}

func (s *PathServer) checkPosition(name string, p netgraph.Position) error {
	if s.network.PositionLane(p) == 0 {
		return connect.NewError(
			connect.CodeInvalidArgument,
			fmt.Errorf("no %s lane: segment %d lane %d", name, p.Segment, p.Lane),
		)
	}
	return nil
}

func (s *PathServer) CreatePath(
	ctx context.Context,
	req *connect.Request[CreatePathRequest],
) (*connect.Response[CreatePathResponse], error) {
	in := req.Msg
	s.waitResumed()
	// 检查数据是否超出范围
	if err := s.checkPosition("start", in.StartA); err != nil {
		return nil, err
	}
	if err := s.checkPosition("end", in.EndA); err != nil {
		return nil, err
	}
	r := pathfind.Request{
		StartA:    in.StartA,
		EndA:      in.EndA,
		MaxLength: in.MaxLength,
		SkipQueue: in.SkipQueue,
	}
	for _, opt := range []struct {
		name string
		src  *netgraph.Position
		dst  *netgraph.Position
	}{
		{"second start", in.StartB, &r.StartB},
		{"second end", in.EndB, &r.EndB},
		{"vehicle", in.Vehicle, &r.Vehicle},
	} {
		if opt.src == nil {
			continue
		}
		if err := s.checkPosition(opt.name, *opt.src); err != nil {
			return nil, err
		}
		*opt.dst = *opt.src
	}
	var err error
	if r.LaneTypes, err = netgraph.ParseLaneTypes(in.LaneTypes); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	if r.VehicleTypes, err = netgraph.ParseVehicleTypes(in.VehicleTypes); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	if r.Flags, err = parseSimFlags(in.Flags); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	log.Debugf("create path from %+v to %+v", in.StartA, in.EndA)
	unit, err := s.engine.CreatePath(r)
	if err != nil {
		return nil, toConnectError(err)
	}
	out := &CreatePathResponse{Unit: unit}
	if in.Wait {
		if out.Path, err = s.waitPath(ctx, unit); err != nil {
			return nil, err
		}
	}
	return connect.NewResponse(out), nil
}

// 轮询等待单个路径完成的间隔
const waitPollInterval = 2 * time.Millisecond

// waitPath blocks until the unit is ready or failed, or ctx is done. Other
// requests still in the queue do not hold it up.
func (s *PathServer) waitPath(ctx context.Context, unit uint32) (*PathResult, error) {
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()
	for s.pool.Flags(unit)&(pathunit.FlagReady|pathunit.FlagFailed) == 0 && s.pool.Live(unit) {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, connect.NewError(connect.CodeDeadlineExceeded, ctx.Err())
		}
	}
	return s.pathResult(unit)
}

func (s *PathServer) pathResult(unit uint32) (*PathResult, error) {
	chain, err := s.pool.Chain(unit)
	if err != nil {
		return nil, connect.NewError(connect.CodeNotFound, err)
	}
	head := chain[0]
	out := &PathResult{Unit: unit, Status: pathStatus(head.PathFindFlags)}
	if out.Status != "ready" {
		return out, nil
	}
	out.Speed = head.Speed
	out.Records = len(chain)
	for _, u := range chain {
		out.Positions = append(out.Positions, u.Positions[:u.PositionCount]...)
		out.Length += u.Length
	}
	return out, nil
}

func (s *PathServer) GetPath(
	ctx context.Context,
	req *connect.Request[GetPathRequest],
) (*connect.Response[GetPathResponse], error) {
	path, err := s.pathResult(req.Msg.Unit)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&GetPathResponse{Path: path}), nil
}

func (s *PathServer) ReleasePath(
	ctx context.Context,
	req *connect.Request[ReleasePathRequest],
) (*connect.Response[ReleasePathResponse], error) {
	if err := s.pool.Release(req.Msg.Unit); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ReleasePathResponse{}), nil
}

func (s *PathServer) WaitForAll(
	ctx context.Context,
	req *connect.Request[WaitForAllRequest],
) (*connect.Response[WaitForAllResponse], error) {
	done := make(chan struct{})
	go func() {
		s.engine.WaitForAll()
		close(done)
	}()
	select {
	case <-done:
		return connect.NewResponse(&WaitForAllResponse{}), nil
	case <-ctx.Done():
		return nil, connect.NewError(connect.CodeDeadlineExceeded, ctx.Err())
	}
}

func (s *PathServer) Status(
	ctx context.Context,
	req *connect.Request[StatusRequest],
) (*connect.Response[StatusResponse], error) {
	s.cond.L.Lock()
	suspended := !s.ok
	s.cond.L.Unlock()
	return connect.NewResponse(&StatusResponse{
		Available: s.engine.IsAvailable(),
		Suspended: suspended,
		Pending:   s.engine.Pending(),
		Units:     s.pool.ItemCount(),
		PoolSize:  s.pool.Size() - 1,
		Nodes:     s.network.NodeCount(),
		Segments:  s.network.SegmentCount(),
		Lanes:     s.network.LaneCount() - 1,
	}), nil
}

func (s *PathServer) SetSegmentFlags(
	ctx context.Context,
	req *connect.Request[SetSegmentFlagsRequest],
) (*connect.Response[SetSegmentFlagsResponse], error) {
	in := req.Msg
	set, err := netgraph.ParseSegmentFlags(in.Set)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	unset, err := netgraph.ParseSegmentFlags(in.Clear)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	if err := s.network.SetSegmentFlags(in.Segment, set, unset); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&SetSegmentFlagsResponse{}), nil
}

func (s *PathServer) SetSpeedLimit(
	ctx context.Context,
	req *connect.Request[SetSpeedLimitRequest],
) (*connect.Response[SetSpeedLimitResponse], error) {
	in := req.Msg
	if !s.network.HasSegment(in.Segment) {
		return nil, connect.NewError(
			connect.CodeNotFound,
			fmt.Errorf("no segment: %d", in.Segment),
		)
	}
	if in.Lane != nil {
		info, ok := s.network.LaneInfo(in.Segment, *in.Lane)
		if !ok {
			return nil, connect.NewError(
				connect.CodeNotFound,
				fmt.Errorf("no lane %d in segment %d", *in.Lane, in.Segment),
			)
		}
		if err := s.speeds.SetLaneSpeedLimit(s.network.LaneID(in.Segment, *in.Lane), info, in.Speed); err != nil {
			return nil, toConnectError(err)
		}
		return connect.NewResponse(&SetSpeedLimitResponse{Lanes: 1}), nil
	}
	dir, err := netgraph.ParseDirection(in.Direction)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	n, err := s.speeds.SetSegmentSpeedLimit(s.network, in.Segment, dir, in.Speed)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&SetSpeedLimitResponse{Lanes: n}), nil
}

func (s *PathServer) SuspendRPC(
	ctx context.Context,
	req *connect.Request[SuspendRequest],
) (*connect.Response[SuspendResponse], error) {
	s.Suspend()
	return connect.NewResponse(&SuspendResponse{}), nil
}

func (s *PathServer) ResumeRPC(
	ctx context.Context,
	req *connect.Request[SuspendRequest],
) (*connect.Response[SuspendResponse], error) {
	s.Resume()
	return connect.NewResponse(&SuspendResponse{}), nil
}

// 暂停导航服务
func (s *PathServer) Suspend() {
	s.cond.L.Lock()
	defer s.cond.L.Unlock()
	s.ok = false
}

// 恢复导航服务
func (s *PathServer) Resume() {
	s.cond.L.Lock()
	defer s.cond.L.Unlock()
	s.ok = true
	s.cond.Broadcast()
}

// 关闭导航服务
func (s *PathServer) Close() {
	s.Resume()
	s.engine.Shutdown()
}

func toConnectError(err error) error {
	code := connect.CodeInternal
	switch {
	case errors.Is(err, pathfind.ErrInvalidRequest),
		errors.Is(err, speedlimit.ErrNotCustomizable),
		errors.Is(err, speedlimit.ErrInvalidSpeed):
		code = connect.CodeInvalidArgument
	case errors.Is(err, pathunit.ErrUnknownUnit),
		errors.Is(err, netgraph.ErrUnknownSegment):
		code = connect.CodeNotFound
	case errors.Is(err, pathfind.ErrAllocationExhausted),
		errors.Is(err, pathfind.ErrRejected):
		code = connect.CodeResourceExhausted
	case errors.Is(err, pathfind.ErrShutdown):
		code = connect.CodeUnavailable
	}
	return connect.NewError(code, err)
}

// healthz reports 503 once the engine stops accepting requests.
func (s *PathServer) healthz(w http.ResponseWriter, r *http.Request) {
	if !s.engine.IsAvailable() {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Write([]byte("ok"))
}
