package algo

import (
	"math"

	"git.fiblab.net/sim/lanepath/netgraph"
)

// BucketQueue is a bounded monotone priority queue (Dial's algorithm) over
// BUCKET_COUNT buckets of BUCKET_SIZE slots. Each bucket is a window
// [min, max] into its slots; popping advances min and never moves back.
//
// Lanes hold at most one live entry per epoch, tracked in the LaneTable.
// Entries that do not fit into any bucket at or after their own are dropped.
type BucketQueue struct {
	buffer []Item
	min    [BUCKET_COUNT]int
	max    [BUCKET_COUNT]int
	minPos int
	maxPos int

	epoch   uint32
	table   *LaneTable
	dropped int
}

func NewBucketQueue(table *LaneTable) *BucketQueue {
	q := &BucketQueue{
		buffer: make([]Item, BUCKET_COUNT*BUCKET_SIZE),
		table:  table,
	}
	q.clear()
	return q
}

func (q *BucketQueue) clear() {
	for i := range q.min {
		q.min[i] = 0
		q.max[i] = -1
	}
	q.minPos = 0
	q.maxPos = -1
	q.dropped = 0
}

// Begin starts a new search: it advances the epoch, resetting the lane table
// when the epoch wraps to zero, and empties every bucket.
func (q *BucketQueue) Begin() uint32 {
	q.epoch = (q.epoch + 1) & EPOCH_MASK
	if q.epoch == 0 {
		q.table.Reset()
	}
	q.clear()
	return q.epoch
}

func (q *BucketQueue) Epoch() uint32 {
	return q.epoch
}

func (q *BucketQueue) Table() *LaneTable {
	return q.table
}

// Dropped is the number of entries lost to saturation in the current search.
func (q *BucketQueue) Dropped() int {
	return q.dropped
}

// Len counts the live entries.
func (q *BucketQueue) Len() int {
	n := 0
	for b := q.minPos; b <= q.maxPos; b++ {
		if q.max[b] >= q.min[b] {
			n += q.max[b] - q.min[b] + 1
		}
	}
	return n
}

// Seed places a destination entry in bucket 0. Seeds are not recorded in the
// lane table, so a route may come back to the destination lane.
func (q *BucketQueue) Seed(item Item) bool {
	if q.max[0] == BUCKET_SIZE-1 {
		return false
	}
	q.max[0]++
	q.buffer[q.max[0]] = item
	if q.maxPos < 0 {
		q.maxPos = 0
	}
	return true
}

// bucketOf rounds half to even and clamps to the current minimum bucket.
func (q *BucketQueue) bucketOf(cost float32) int {
	v := math.RoundToEven(float64(cost) * BUCKET_SCALE)
	if v >= BUCKET_COUNT {
		return BUCKET_COUNT
	}
	b := int(v)
	if b < q.minPos {
		b = q.minPos
	}
	return b
}

// Push offers an entry for item.LaneID with the given predecessor. A live
// entry of the same lane is replaced only by a strictly cheaper one, and
// entries already popped are settled.
func (q *BucketQueue) Push(item Item, target netgraph.Position) {
	epoch, slot := q.table.Peek(item.LaneID)
	var bucket int
	if epoch == q.epoch {
		if item.ComparisonValue >= q.buffer[slot].ComparisonValue {
			return
		}
		ob, os := slot>>BUCKET_SHIFT, slot&(BUCKET_SIZE-1)
		if ob < q.minPos || (ob == q.minPos && os < q.min[ob]) {
			return
		}
		bucket = q.bucketOf(item.ComparisonValue)
		if bucket == ob {
			q.buffer[slot] = item
			q.table.SetTarget(item.LaneID, target)
			return
		}
		// 用桶内最后一个元素填补空位
		last := ob<<BUCKET_SHIFT | q.max[ob]
		q.max[ob]--
		moved := q.buffer[last]
		q.buffer[slot] = moved
		q.table.Record(moved.LaneID, q.epoch, slot)
		q.table.Invalidate(item.LaneID)
	} else {
		bucket = q.bucketOf(item.ComparisonValue)
	}

	for bucket < BUCKET_COUNT && q.max[bucket] == BUCKET_SIZE-1 {
		bucket++
	}
	if bucket >= BUCKET_COUNT {
		q.dropped++
		return
	}
	if bucket > q.maxPos {
		q.maxPos = bucket
	}
	q.max[bucket]++
	slot = bucket<<BUCKET_SHIFT | q.max[bucket]
	q.buffer[slot] = item
	q.table.Record(item.LaneID, q.epoch, slot)
	q.table.SetTarget(item.LaneID, target)
}

// PopMin removes the cheapest entry. Pops are monotone in bucket order.
func (q *BucketQueue) PopMin() (Item, bool) {
	for q.minPos <= q.maxPos {
		lo, hi := q.min[q.minPos], q.max[q.minPos]
		if lo > hi {
			q.minPos++
			continue
		}
		q.min[q.minPos] = lo + 1
		return q.buffer[q.minPos<<BUCKET_SHIFT|lo], true
	}
	return Item{}, false
}
