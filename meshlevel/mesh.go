// Package meshlevel corrects streamed jobs for an uneven bed using a
// triangulated mesh of probe results.
package meshlevel

import (
	"errors"
	"math"

	"github.com/fogleman/delaunay"
	"github.com/mastercactapus/gatc/coord"
)

var ErrTooFewPoints = errors.New("need at least 3 points to create a mesh")

// Offsetter returns the Z correction at x,y, if known.
type Offsetter interface {
	OffsetZ(x, y float64) (bool, float64)
}

type Mesh struct {
	minX, minY, maxX, maxY float64
	points                 []coord.Point
	triangles              []coord.Triangle
}

// NewMesh triangulates points in XY. Z of each point is the correction
// applied at that point.
func NewMesh(points []coord.Point) (*Mesh, error) {
	if len(points) < 3 {
		return nil, ErrTooFewPoints
	}

	flat := make([]delaunay.Point, len(points))
	byXY := make(map[delaunay.Point]coord.Point, len(points))

	mesh := &Mesh{
		minX:   points[0].X,
		minY:   points[0].Y,
		maxX:   points[0].X,
		maxY:   points[0].Y,
		points: append([]coord.Point(nil), points...),
	}
	for i, p := range points {
		mesh.minX = math.Min(mesh.minX, p.X)
		mesh.minY = math.Min(mesh.minY, p.Y)
		mesh.maxX = math.Max(mesh.maxX, p.X)
		mesh.maxY = math.Max(mesh.maxY, p.Y)

		d := delaunay.Point{X: p.X, Y: p.Y}
		byXY[d] = p
		flat[i] = d
	}
	mesh.minX -= coord.Epsilon
	mesh.minY -= coord.Epsilon
	mesh.maxX += coord.Epsilon
	mesh.maxY += coord.Epsilon

	tri, err := delaunay.Triangulate(flat)
	if err != nil {
		return nil, err
	}

	mesh.triangles = make([]coord.Triangle, 0, len(tri.Triangles)/3)
	for i := 0; i+2 < len(tri.Triangles); i += 3 {
		mesh.triangles = append(mesh.triangles, coord.Triangle{
			A: byXY[tri.Points[tri.Triangles[i]]],
			B: byXY[tri.Points[tri.Triangles[i+1]]],
			C: byXY[tri.Points[tri.Triangles[i+2]]],
		})
	}

	return mesh, nil
}

// FromProbes builds a mesh from probed surface points, with the
// correction measured relative to the first point.
func FromProbes(probes []coord.Point) (*Mesh, error) {
	if len(probes) == 0 {
		return nil, ErrTooFewPoints
	}
	return NewMesh(relativeTo(probes[0].Z, probes))
}

func relativeTo(z float64, points []coord.Point) []coord.Point {
	p := make([]coord.Point, len(points))
	copy(p, points)
	for i := range p {
		p[i].Z -= z
	}
	return p
}

// Points returns the points the mesh was built from.
func (m *Mesh) Points() []coord.Point { return append([]coord.Point(nil), m.points...) }

// Triangles returns the number of triangles in the mesh.
func (m *Mesh) Triangles() int { return len(m.triangles) }

func (m *Mesh) OffsetZ(x, y float64) (bool, float64) {
	if x < m.minX || m.maxX < x || y < m.minY || m.maxY < y {
		return false, 0
	}
	for _, t := range m.triangles {
		if t.ContainsXY(x, y) {
			return true, t.Z(x, y)
		}
	}
	return false, 0
}

type noOffset struct{}

func (noOffset) OffsetZ(x, y float64) (bool, float64) { return false, 0 }
