package pathfind

import (
	"errors"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("module", "pathfind")

const (
	// 步行距离上限（非StablePath时）
	PEDESTRIAN_MAX_DISTANCE float32 = 1000
	// 禁行路段的代价倍数
	CAR_BAN_FACTOR float32 = 7.5
	// 公交车道连续行驶的折扣
	TRANSPORT_DISCOUNT float32 = 0.95
	// 票价到代价的换算系数
	TICKET_FACTOR float32 = 3.92156863e-7
	TICKET_RANDOM uint32  = 2000
	// 进入封闭路段的惩罚
	BLOCKED_PENALTY float32 = 0.1
	// 上公交车道的等待代价
	TRANSPORT_WAIT float32 = 20
	// 切换到步行/自行车的代价
	MODE_SWITCH_COST float32 = 100
	// 随机停车偏移的上限
	PARKING_RANDOM uint32 = 300
	// 目的地种子的初始方式距离
	SEED_METHOD_DISTANCE float32 = 0.01

	// 沿车道遍历车道节点的上限
	LANE_NODE_LIMIT = 32768
	// 横向寻找人行道时最多跨越的路段数
	NEIGHBOUR_HOPS = 8
)

var (
	ErrRejected            = errors.New("path request rejected")
	ErrInvalidRequest      = errors.New("invalid path request")
	ErrUnreachable         = errors.New("destination unreachable")
	ErrAllocationExhausted = errors.New("path unit allocation exhausted")
	ErrCorruptChain        = errors.New("corrupt predecessor chain")
	ErrUnexpected          = errors.New("unexpected search failure")
	ErrShutdown            = errors.New("path engine shut down")
)
