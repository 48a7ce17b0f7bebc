package vmath

import "math"

// Vec3 is a world-space point or direction in engine order (x, y, z).
// Y is up; the horizontal plane is X/Z.
type Vec3 [3]float64

// Finite reports whether every component is a real number.
func (v Vec3) Finite() bool {
	for _, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v[0] + o[0], v[1] + o[1], v[2] + o[2]} }
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v[0] - o[0], v[1] - o[1], v[2] - o[2]} }

func (v Vec3) Scale(s float64) Vec3 { return Vec3{v[0] * s, v[1] * s, v[2] * s} }

func (v Vec3) Length() float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

// Distance is the straight-line distance between two points.
func Distance(a, b Vec3) float64 {
	return a.Sub(b).Length()
}

// HorizontalLength is the magnitude of the X/Z projection.
func (v Vec3) HorizontalLength() float64 {
	return math.Sqrt(v[0]*v[0] + v[2]*v[2])
}

// Yaw returns the heading of the X/Z projection as atan2(x, z),
// the orientation convention used by the game client.
func (v Vec3) Yaw() float64 {
	return math.Atan2(v[0], v[2])
}

// MoveToward steps from toward to by at most step along the X/Z plane.
// The Y component is left unchanged. Returns from when the points coincide.
func MoveToward(from, to Vec3, step float64) Vec3 {
	d := Vec3{to[0] - from[0], 0, to[2] - from[2]}
	l := d.HorizontalLength()
	if l == 0 {
		return from
	}
	if step >= l {
		return Vec3{to[0], from[1], to[2]}
	}
	return Vec3{from[0] + d[0]/l*step, from[1], from[2] + d[2]/l*step}
}
