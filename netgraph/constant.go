package netgraph

import (
	"errors"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("module", "netgraph")

var (
	ErrUnknownNode     = errors.New("unknown node")
	ErrUnknownSegment  = errors.New("unknown segment")
	ErrUnknownLane     = errors.New("unknown lane")
	ErrUnknownInfo     = errors.New("unknown segment info")
	ErrDuplicateInfo   = errors.New("duplicate segment info")
	ErrNodeFull        = errors.New("node has no free segment slot")
	ErrLoopSegment     = errors.New("segment starts and ends at the same node")
	ErrTooManyNodes    = errors.New("too many nodes")
	ErrTooManySegments = errors.New("too many segments")
	ErrBadID           = errors.New("id does not match its position")
	ErrBadName         = errors.New("unknown name")
)
