package algo

const (
	// 桶队列：1024个桶，每桶64个槽位
	BUCKET_COUNT = 1024
	BUCKET_SIZE  = 64
	BUCKET_SHIFT = 6

	// 代价到桶下标的换算系数
	BUCKET_SCALE = 1024

	// 15位的搜索代数，回绕到0时整表失效
	EPOCH_MASK = 0x7FFF

	// 车道表中的无效值：代数0xFFFF不会与任何15位代数相等
	LOCATION_NONE uint32 = 0xFFFF0000

	// 偏移量byte换算为[0,1]
	OFFSET_FACTOR float32 = 0.003921569
)
