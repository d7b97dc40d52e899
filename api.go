package main

import (
	"git.fiblab.net/sim/lanepath/netgraph"
	gojson "github.com/goccy/go-json"
)

const ServiceName = "lanepath.v1.PathService"

const (
	CreatePathProcedure      = "/" + ServiceName + "/CreatePath"
	GetPathProcedure         = "/" + ServiceName + "/GetPath"
	ReleasePathProcedure     = "/" + ServiceName + "/ReleasePath"
	WaitForAllProcedure      = "/" + ServiceName + "/WaitForAll"
	StatusProcedure          = "/" + ServiceName + "/Status"
	SetSegmentFlagsProcedure = "/" + ServiceName + "/SetSegmentFlags"
	SetSpeedLimitProcedure   = "/" + ServiceName + "/SetSpeedLimit"
	SuspendProcedure         = "/" + ServiceName + "/Suspend"
	ResumeProcedure          = "/" + ServiceName + "/Resume"
)

// jsonCodec carries the plain Go messages below over connect.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) { return gojson.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return gojson.Unmarshal(data, v) }

type CreatePathRequest struct {
	StartA netgraph.Position  `json:"start_a"`
	EndA   netgraph.Position  `json:"end_a"`
	StartB *netgraph.Position `json:"start_b,omitempty"`
	EndB   *netgraph.Position `json:"end_b,omitempty"`
	// 车辆停放位置
	Vehicle *netgraph.Position `json:"vehicle,omitempty"`

	LaneTypes    []string `json:"lane_types"`
	VehicleTypes []string `json:"vehicle_types,omitempty"`
	MaxLength    float32  `json:"max_length"`
	// ignore_flooded, waiting_path_ban, ignore_cost, heavy_ban, ignore_blocked, stable_path, random_parking
	Flags     []string `json:"flags,omitempty"`
	SkipQueue bool     `json:"skip_queue,omitempty"`
	// 等待搜索完成后再返回
	Wait bool `json:"wait,omitempty"`
}

type CreatePathResponse struct {
	Unit uint32 `json:"unit"`
	// Wait为true时返回
	Path *PathResult `json:"path,omitempty"`
}

type GetPathRequest struct {
	Unit uint32 `json:"unit"`
}

type PathResult struct {
	Unit      uint32              `json:"unit"`
	Status    string              `json:"status"`
	Positions []netgraph.Position `json:"positions,omitempty"`
	Length    float32             `json:"length"`
	Speed     uint8               `json:"speed"`
	Records   int                 `json:"records"`
}

type GetPathResponse struct {
	Path *PathResult `json:"path"`
}

type ReleasePathRequest struct {
	Unit uint32 `json:"unit"`
}

type ReleasePathResponse struct{}

type WaitForAllRequest struct{}

type WaitForAllResponse struct{}

type StatusRequest struct{}

type StatusResponse struct {
	Available bool `json:"available"`
	Suspended bool `json:"suspended"`
	Pending   int  `json:"pending"`
	Units     int  `json:"units"`
	PoolSize  int  `json:"pool_size"`
	Nodes     int  `json:"nodes"`
	Segments  int  `json:"segments"`
	Lanes     int  `json:"lanes"`
}

type SetSegmentFlagsRequest struct {
	Segment netgraph.SegmentID `json:"segment"`
	Set     []string           `json:"set,omitempty"`
	Clear   []string           `json:"clear,omitempty"`
}

type SetSegmentFlagsResponse struct{}

// SetSpeedLimitRequest overrides one lane when Lane is set, otherwise every
// customizable lane of the segment running in Direction. Speed 0 = unlimited.
type SetSpeedLimitRequest struct {
	Segment   netgraph.SegmentID `json:"segment"`
	Lane      *uint8             `json:"lane,omitempty"`
	Direction string             `json:"direction,omitempty"`
	Speed     float32            `json:"speed"`
}

type SetSpeedLimitResponse struct {
	Lanes int `json:"lanes"`
}

type SuspendRequest struct{}

type SuspendResponse struct{}
