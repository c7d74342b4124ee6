package tiling

import (
	"errors"
	"fmt"
	"math"
)

// EdgeMask flags which tile edges have a real neighbouring tile.
type EdgeMask uint8

const (
	EdgeTop EdgeMask = 1 << iota
	EdgeRight
	EdgeBottom
	EdgeLeft
)

// Has reports whether every bit in e is set in m.
func (m EdgeMask) Has(e EdgeMask) bool { return m&e == e }

func (m EdgeMask) String() string {
	if m == 0 {
		return "none"
	}
	s := ""
	for _, e := range []struct {
		bit  EdgeMask
		name string
	}{{EdgeTop, "T"}, {EdgeRight, "R"}, {EdgeBottom, "B"}, {EdgeLeft, "L"}} {
		if m.Has(e.bit) {
			s += e.name
		}
	}
	return s
}

// Tile is one planned capture.
type Tile struct {
	Center Point    `json:"center"`
	Edges  EdgeMask `json:"edges"`
	Row    int      `json:"row"`
	Col    int      `json:"col"`
}

var (
	ErrInvalidFootprint = errors.New("tile footprint must be positive")
	ErrInvalidOverlap   = errors.New("overlap ratio must be in [0, 1)")
	ErrOutsideBounds    = errors.New("requested region lies outside the machine bounds")
)

// Plan returns capture tiles covering req (clamped to bounds) in serpentine
// order. Tile centres start half a footprint in from the clamped top-left
// corner and advance by footprint*(1-overlap); each axis gets
// max(1, ceil(range/step)) tiles.
func Plan(req, bounds Rect, footprint Size, overlap float64) ([]Tile, error) {
	if footprint.W <= 0 || footprint.H <= 0 {
		return nil, ErrInvalidFootprint
	}
	if overlap < 0 || overlap >= 1 || math.IsNaN(overlap) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidOverlap, overlap)
	}

	r := RectFromCorners(req.Min.X, req.Min.Y, req.Max.X, req.Max.Y).Intersect(bounds)
	if r.Empty() {
		return nil, ErrOutsideBounds
	}

	stepX := footprint.W * (1 - overlap)
	stepY := footprint.H * (1 - overlap)
	cols := axisCount(r.Width(), stepX)
	rows := axisCount(r.Height(), stepY)

	tiles := make([]Tile, 0, cols*rows)
	for j := 0; j < rows; j++ {
		y := r.Min.Y + footprint.H/2 + float64(j)*stepY
		row := make([]Tile, 0, cols)
		for i := 0; i < cols; i++ {
			row = append(row, Tile{
				Center: Point{X: r.Min.X + footprint.W/2 + float64(i)*stepX, Y: y},
				Edges:  edgesFor(i, j, cols, rows),
				Row:    j,
				Col:    i,
			})
		}
		if j%2 == 1 {
			for a, b := 0, len(row)-1; a < b; a, b = a+1, b-1 {
				row[a], row[b] = row[b], row[a]
			}
		}
		tiles = append(tiles, row...)
	}
	return tiles, nil
}

func axisCount(span, step float64) int {
	n := int(math.Ceil(span / step))
	if n < 1 {
		return 1
	}
	return n
}

func edgesFor(i, j, cols, rows int) EdgeMask {
	var m EdgeMask
	if j != 0 {
		m |= EdgeTop
	}
	if i != cols-1 {
		m |= EdgeRight
	}
	if j != rows-1 {
		m |= EdgeBottom
	}
	if i != 0 {
		m |= EdgeLeft
	}
	return m
}

// Dimensions reports the column and row count of a plan.
func Dimensions(tiles []Tile) (cols, rows int) {
	for _, t := range tiles {
		if t.Col+1 > cols {
			cols = t.Col + 1
		}
		if t.Row+1 > rows {
			rows = t.Row + 1
		}
	}
	return cols, rows
}
