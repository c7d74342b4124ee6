// Package tiling plans overlapping capture grids over a rectangular region and
// feathers tile edges so neighbouring captures blend without seams.
package tiling

import "math"

// Point is a position in machine millimetres.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is an extent in machine millimetres.
type Size struct {
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Rect is an axis-aligned rectangle in machine millimetres. Min is the
// top-left corner; Y grows downward as on the work surface.
type Rect struct {
	Min Point `json:"min"`
	Max Point `json:"max"`
}

// RectFromCorners builds a normalised rectangle from any two opposite corners.
func RectFromCorners(x1, y1, x2, y2 float64) Rect {
	return Rect{
		Min: Point{X: math.Min(x1, x2), Y: math.Min(y1, y2)},
		Max: Point{X: math.Max(x1, x2), Y: math.Max(y1, y2)},
	}
}

// RectFromSize returns the rectangle [0,w]x[0,h].
func RectFromSize(w, h float64) Rect {
	return Rect{Max: Point{X: w, Y: h}}
}

func (r Rect) Width() float64  { return r.Max.X - r.Min.X }
func (r Rect) Height() float64 { return r.Max.Y - r.Min.Y }

// Empty reports whether the rectangle has negative extent on either axis.
// A degenerate rectangle (zero width or height) is not empty.
func (r Rect) Empty() bool {
	return r.Max.X < r.Min.X || r.Max.Y < r.Min.Y
}

// Intersect returns the overlap of r and b. The result may be Empty.
func (r Rect) Intersect(b Rect) Rect {
	return Rect{
		Min: Point{X: math.Max(r.Min.X, b.Min.X), Y: math.Max(r.Min.Y, b.Min.Y)},
		Max: Point{X: math.Min(r.Max.X, b.Max.X), Y: math.Min(r.Max.Y, b.Max.Y)},
	}
}

// ClampPoint moves p to the nearest point inside r.
func (r Rect) ClampPoint(p Point) Point {
	return Point{
		X: math.Min(math.Max(p.X, r.Min.X), r.Max.X),
		Y: math.Min(math.Max(p.Y, r.Min.Y), r.Max.Y),
	}
}
