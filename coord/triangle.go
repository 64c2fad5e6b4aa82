package coord

import (
	"math"
)

const (
	// Epsilon is the max error when checking containment.
	Epsilon   = 0.001
	epsilonSq = Epsilon * Epsilon
)

type Triangle struct{ A, B, C Point }

// ContainsXY returns true if the 2D projection of the triangle
// has the point x,y. Points within Epsilon of an edge count as inside.
func (t Triangle) ContainsXY(x, y float64) bool {
	if !t.boundsXY(x, y) {
		return false
	}
	u, v, w, ok := t.barycentric(x, y)
	if ok && u >= 0 && v >= 0 && w >= 0 {
		return true
	}

	return segmentDistSq(t.A, t.B, x, y) <= epsilonSq ||
		segmentDistSq(t.B, t.C, x, y) <= epsilonSq ||
		segmentDistSq(t.C, t.A, x, y) <= epsilonSq
}

// Z will give the Z-coordinate on the plane defined by the triangle
// where it intersects x,y.
func (t Triangle) Z(x, y float64) float64 {
	u, v, w, ok := t.barycentric(x, y)
	if !ok {
		return Mean(t.A, t.B, t.C).Z
	}
	return u*t.A.Z + v*t.B.Z + w*t.C.Z
}

func (t Triangle) boundsXY(x, y float64) bool {
	minX := math.Min(t.A.X, math.Min(t.B.X, t.C.X)) - Epsilon
	maxX := math.Max(t.A.X, math.Max(t.B.X, t.C.X)) + Epsilon
	minY := math.Min(t.A.Y, math.Min(t.B.Y, t.C.Y)) - Epsilon
	maxY := math.Max(t.A.Y, math.Max(t.B.Y, t.C.Y)) + Epsilon

	return x >= minX && x <= maxX && y >= minY && y <= maxY
}

// barycentric returns the weights of A, B and C for (x,y). ok is false
// for a degenerate (zero area) triangle.
func (t Triangle) barycentric(x, y float64) (u, v, w float64, ok bool) {
	det := (t.B.Y-t.C.Y)*(t.A.X-t.C.X) + (t.C.X-t.B.X)*(t.A.Y-t.C.Y)
	if det == 0 {
		return 0, 0, 0, false
	}
	u = ((t.B.Y-t.C.Y)*(x-t.C.X) + (t.C.X-t.B.X)*(y-t.C.Y)) / det
	v = ((t.C.Y-t.A.Y)*(x-t.C.X) + (t.A.X-t.C.X)*(y-t.C.Y)) / det
	return u, v, 1 - u - v, true
}

func segmentDistSq(a, b Point, x, y float64) float64 {
	dx, dy := b.X-a.X, b.Y-a.Y
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return (x-a.X)*(x-a.X) + (y-a.Y)*(y-a.Y)
	}
	t := ((x-a.X)*dx + (y-a.Y)*dy) / lenSq
	t = math.Max(0, math.Min(1, t))
	px, py := a.X+t*dx, a.Y+t*dy
	return (x-px)*(x-px) + (y-py)*(y-py)
}
