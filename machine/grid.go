package machine

import "github.com/mastercactapus/gatc/coord"

// GridPoints returns nx by ny points covering sizeX by sizeY from
// origin, ordered as a serpentine scan so no two consecutive points
// are more than one cell apart. Z is taken from origin.
func GridPoints(origin coord.Point, sizeX, sizeY float64, nx, ny int) []coord.Point {
	if nx < 1 {
		nx = 1
	}
	if ny < 1 {
		ny = 1
	}
	step := func(size float64, n, i int) float64 {
		if n == 1 {
			return 0
		}
		return size / float64(n-1) * float64(i)
	}

	res := make([]coord.Point, 0, nx*ny)
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			xVal := step(sizeX, nx, x)
			if y%2 != 0 {
				xVal = sizeX - xVal
				if nx == 1 {
					xVal = 0
				}
			}
			res = append(res, coord.Point{
				X: origin.X + xVal,
				Y: origin.Y + step(sizeY, ny, y),
				Z: origin.Z,
			})
		}
	}
	return res
}
