package camera

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

type plane struct {
	n mgl64.Vec3
	d float64
}

// Frustum is the six view-volume planes extracted from a combined
// view-projection matrix, normals pointing inward.
type Frustum struct {
	planes [6]plane
}

// NewFrustum extracts the planes from a view-projection matrix.
func NewFrustum(vp mgl64.Mat4) Frustum {
	row := func(i int) [4]float64 {
		return [4]float64{vp.At(i, 0), vp.At(i, 1), vp.At(i, 2), vp.At(i, 3)}
	}
	r0, r1, r2, r3 := row(0), row(1), row(2), row(3)

	var f Frustum
	add := func(idx int, a, b [4]float64, sub bool) {
		var p [4]float64
		for i := 0; i < 4; i++ {
			if sub {
				p[i] = a[i] - b[i]
			} else {
				p[i] = a[i] + b[i]
			}
		}
		n := mgl64.Vec3{p[0], p[1], p[2]}
		length := n.Len()
		if length > 0 {
			n = n.Mul(1 / length)
			p[3] /= length
		}
		f.planes[idx] = plane{n: n, d: p[3]}
	}

	add(0, r3, r0, false) // left
	add(1, r3, r0, true)  // right
	add(2, r3, r1, false) // bottom
	add(3, r3, r1, true)  // top
	add(4, r3, r2, false) // near
	add(5, r3, r2, true)  // far
	return f
}

// IntersectsBox tests an axis-aligned box against the frustum using the
// positive-vertex test. Conservative: may report intersection for boxes
// slightly outside, never the reverse.
func (f Frustum) IntersectsBox(min, max mgl64.Vec3) bool {
	for _, p := range f.planes {
		v := mgl64.Vec3{
			pick(p.n[0], min[0], max[0]),
			pick(p.n[1], min[1], max[1]),
			pick(p.n[2], min[2], max[2]),
		}
		if p.n.Dot(v)+p.d < 0 {
			return false
		}
	}
	return true
}

// ContainsPoint reports whether a point lies inside all six planes.
func (f Frustum) ContainsPoint(pt mgl64.Vec3) bool {
	for _, p := range f.planes {
		if p.n.Dot(pt)+p.d < -math.SmallestNonzeroFloat64 {
			return false
		}
	}
	return true
}

func pick(n, min, max float64) float64 {
	if n >= 0 {
		return max
	}
	return min
}
