package netgraph

import "math"

// Vec3 is a point or direction in world space (y is height).
type Vec3 struct {
	X float32 `yaml:"x" json:"x" bson:"x"`
	Y float32 `yaml:"y" json:"y" bson:"y"`
	Z float32 `yaml:"z" json:"z" bson:"z"`
}

func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

func (v Vec3) Scale(k float32) Vec3 {
	return Vec3{v.X * k, v.Y * k, v.Z * k}
}

func (v Vec3) Length() float32 {
	return float32(math.Sqrt(float64(v.X*v.X + v.Y*v.Y + v.Z*v.Z)))
}

// Normalize returns the unit vector, or the zero vector for a zero input.
func (v Vec3) Normalize() Vec3 {
	l := v.Length()
	if l == 0 {
		return Vec3{}
	}
	return v.Scale(1 / l)
}

// Distance returns the euclidean distance between two points.
func Distance(a, b Vec3) float32 {
	return a.Sub(b).Length()
}

// Lerp blends a towards b by t.
func Lerp(a, b Vec3, t float32) Vec3 {
	return a.Add(b.Sub(a).Scale(t))
}

// Bezier3 is a cubic Bézier curve. A is at the segment start node, D at the end node.
type Bezier3 struct {
	A, B, C, D Vec3
}

// StraightBezier builds a degenerate cubic curve along the line a->d.
func StraightBezier(a, d Vec3) Bezier3 {
	return Bezier3{
		A: a,
		B: Lerp(a, d, 1.0/3),
		C: Lerp(a, d, 2.0/3),
		D: d,
	}
}

// Position evaluates the curve at t in [0, 1].
func (b Bezier3) Position(t float32) Vec3 {
	u := 1 - t
	return b.A.Scale(u * u * u).
		Add(b.B.Scale(3 * u * u * t)).
		Add(b.C.Scale(3 * u * t * t)).
		Add(b.D.Scale(t * t * t))
}

// ApproxLength sums chord lengths over a fixed number of steps.
func (b Bezier3) ApproxLength() float32 {
	const steps = 16
	var l float32
	prev := b.A
	for i := 1; i <= steps; i++ {
		p := b.Position(float32(i) / steps)
		l += Distance(prev, p)
		prev = p
	}
	return l
}
