package coord

import (
	"math"
)

// Point is a position in millimeters.
type Point struct{ X, Y, Z float64 }

func (p Point) Equal(b Point) bool {
	return p.X == b.X && p.Y == b.Y && p.Z == b.Z
}

// Near reports whether every axis of b is within eps of p.
func (p Point) Near(b Point, eps float64) bool {
	return math.Abs(p.X-b.X) <= eps && math.Abs(p.Y-b.Y) <= eps && math.Abs(p.Z-b.Z) <= eps
}

func (p Point) Cross(op Point) Point {
	return Point{
		p.Y*op.Z - p.Z*op.Y,
		p.Z*op.X - p.X*op.Z,
		p.X*op.Y - p.Y*op.X,
	}
}
func (p Point) Dot(op Point) float64 {
	return p.X*op.X + p.Y*op.Y + p.Z*op.Z
}
func (p Point) Mul(val float64) Point {
	p.X *= val
	p.Y *= val
	p.Z *= val
	return p
}

func (p Point) Div(val float64) Point {
	p.X /= val
	p.Y /= val
	p.Z /= val
	return p
}

// Add will add the target values to p.
func (p Point) Add(target Point) Point {
	p.X += target.X
	p.Y += target.Y
	p.Z += target.Z
	return p
}

// Sub will subtract the target values from p.
func (p Point) Sub(target Point) Point {
	p.X -= target.X
	p.Y -= target.Y
	p.Z -= target.Z
	return p
}

// WithZ returns p with Z replaced.
func (p Point) WithZ(z float64) Point {
	p.Z = z
	return p
}

// Split will return a set of evenly spaced points
// from p to the target.
func (p Point) Split(target Point, n int, relative bool) []Point {
	step := target.Sub(p).Div(float64(n))

	res := make([]Point, n)
	for i := range res {
		if relative {
			res[i] = step
			continue
		}
		res[i] = p.Add(step.Mul(float64(i + 1)))
	}

	return res
}

// DistanceXY will return the 2D distance to p from (x,y).
func (p Point) DistanceXY(x, y float64) float64 {
	return math.Hypot(x-p.X, y-p.Y)
}

// RotateXY rotates p around the origin in the XY plane by deg degrees
// (counter-clockwise). Z is unchanged.
func (p Point) RotateXY(deg float64) Point {
	if deg == 0 {
		return p
	}
	sin, cos := math.Sincos(deg * math.Pi / 180)
	return Point{
		X: p.X*cos - p.Y*sin,
		Y: p.X*sin + p.Y*cos,
		Z: p.Z,
	}
}

// AngleXY returns the direction from p to target in degrees.
func (p Point) AngleXY(target Point) float64 {
	return math.Atan2(target.Y-p.Y, target.X-p.X) * 180 / math.Pi
}

// Midpoint returns the point halfway between p and target.
func (p Point) Midpoint(target Point) Point {
	return p.Add(target).Div(2)
}

// Mean returns the average of points. It returns the zero value
// for an empty set.
func Mean(points ...Point) Point {
	var sum Point
	if len(points) == 0 {
		return sum
	}
	for _, p := range points {
		sum = sum.Add(p)
	}
	return sum.Div(float64(len(points)))
}
