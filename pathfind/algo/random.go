package algo

// Randomizer is a 64-bit linear congruential generator. The same seed always
// yields the same stream, which keeps searches reproducible.
type Randomizer struct {
	seed uint64
}

const (
	lcgMul = 6364136223846793005
	lcgInc = 1442695040888963407
)

func NewRandomizer(seed uint64) Randomizer {
	return Randomizer{seed: seed}
}

func (r *Randomizer) next() uint64 {
	r.seed = r.seed*lcgMul + lcgInc
	return r.seed >> 32
}

// UInt32 returns a value in [0, max).
func (r *Randomizer) UInt32(max uint32) uint32 {
	return uint32(uint64(max) * r.next() >> 32)
}

// UInt32Range returns a value in [min, max].
func (r *Randomizer) UInt32Range(min, max uint32) uint32 {
	return min + uint32(uint64(max-min+1)*r.next()>>32)
}

// Int32 returns a value in [0, max).
func (r *Randomizer) Int32(max uint32) int32 {
	return int32(uint64(max) * r.next() >> 32)
}

// Int32Range returns a value in [min, max].
func (r *Randomizer) Int32Range(min, max int32) int32 {
	return min + int32(uint64(max-min+1)*r.next()>>32)
}
