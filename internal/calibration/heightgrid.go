package calibration

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

const (
	// Pixel density and padding of the perspective-transformed chessboard
	// image the gen-1 points are expressed in.
	chessboardDPMM    = 5
	chessboardPadding = 100
	chessboardSquare  = 10 // mm per square
)

// HeightGrid is the gen-1 model: correspondence points sampled at several
// heights, optionally with per-point cubic regression coefficients.
type HeightGrid struct {
	K       [][]float64
	D       [][]float64
	Heights []float64
	// Points[h][i][j] is the point at split (i, j) for Heights[h].
	Points [][][][2]float64
	// RegParam[i][j][axis] holds a, b, c, d of a·h³ + b·h² + c·h + d.
	RegParam [][][2][4]float64
	// Center is the workarea centre in transformed-image pixels; Chessboard
	// is the board dimension in squares. Both are required for per-point
	// leveling compensation.
	Center       *[2]float64
	Chessboard   *[2]int
	LevelingData Leveling

	grid     PerspectiveGrid
	workarea Workarea

	tilt *Tilt
	dh   float64
}

type heightGridJSON struct {
	K            [][]float64       `json:"k"`
	D            [][]float64       `json:"d"`
	Heights      []float64         `json:"heights"`
	Points       [][][][2]float64  `json:"points"`
	RegParam     [][][2][4]float64 `json:"reg_param"`
	Center       *[2]float64       `json:"center"`
	Chessboard   *[2]int           `json:"chessboard"`
	LevelingData Leveling          `json:"leveling_data"`
	Tilt         *Tilt             `json:"tilt"`
}

// ParseHeightGrid decodes a gen-1 blob. Either regression coefficients or
// at least one height sample with points is required.
func ParseHeightGrid(blob []byte, grid PerspectiveGrid, wa Workarea) (*HeightGrid, error) {
	var raw heightGridJSON
	if err := json.Unmarshal(blob, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse height-grid calibration: %w", err)
	}

	m := &HeightGrid{
		K:            raw.K,
		D:            raw.D,
		Heights:      raw.Heights,
		Points:       raw.Points,
		RegParam:     raw.RegParam,
		Center:       raw.Center,
		Chessboard:   raw.Chessboard,
		LevelingData: raw.LevelingData,
		grid:         grid,
		workarea:     wa,
	}

	if len(m.RegParam) == 0 {
		if len(m.Points) == 0 {
			return nil, fmt.Errorf("%w: no height samples or regression parameters", ErrMissingData)
		}
		if len(m.Heights) != len(m.Points) {
			return nil, fmt.Errorf("%w: %d heights for %d point sets", ErrMissingData, len(m.Heights), len(m.Points))
		}
		if !sort.Float64sAreSorted(m.Heights) {
			return nil, fmt.Errorf("%w: heights must be ascending", ErrMissingData)
		}
		rows, cols := len(m.Points[0]), 0
		if rows > 0 {
			cols = len(m.Points[0][0])
		}
		for k, set := range m.Points {
			if !rectangular(len(set), func(i int) int { return len(set[i]) }, rows, cols) {
				return nil, fmt.Errorf("%w: point set %d is not a %dx%d grid", ErrMissingData, k, rows, cols)
			}
		}
	} else if !rectangular(len(m.RegParam), func(i int) int { return len(m.RegParam[i]) }, len(m.RegParam), len(m.RegParam[0])) {
		return nil, fmt.Errorf("%w: regression parameters are not a full grid", ErrMissingData)
	}

	if raw.Tilt != nil {
		m.SetTilt(*raw.Tilt)
	}
	return m, nil
}

// rectangular reports whether a grid of n rows, row i holding width(i)
// entries, is exactly rows x cols with both non-zero.
func rectangular(n int, width func(i int) int, rows, cols int) bool {
	if rows == 0 || cols == 0 || n != rows {
		return false
	}
	for i := 0; i < n; i++ {
		if width(i) != cols {
			return false
		}
	}
	return true
}

func (m *HeightGrid) Generation() Generation { return GenHeightGrid }
func (m *HeightGrid) Grid() PerspectiveGrid  { return m.grid }

// Setup has nothing height-independent to push; the matrix carries the
// intrinsics on every Apply.
func (m *HeightGrid) Setup(ctx context.Context, t Target) error {
	return t.SetFisheyeGrid(ctx, m.grid)
}

// SetTilt stores the tilt and recomputes the height delta it induces.
func (m *HeightGrid) SetTilt(t Tilt) bool {
	tilt := t
	m.tilt = &tilt
	dh := t.HeightDelta(m.workarea)
	changed := dh != m.dh
	m.dh = dh
	return changed
}

// RotationFor returns the tilt command for objectHeight.
func (m *HeightGrid) RotationFor(objectHeight float64) (Rotation3D, bool) {
	if m.tilt == nil {
		return Rotation3D{}, false
	}
	return m.tilt.Rotation(m.workarea, objectHeight), true
}

// HeightDelta is the tilt-induced height adjustment currently in effect.
func (m *HeightGrid) HeightDelta() float64 { return m.dh }

// Apply pushes the correspondence points for the tilt-adjusted height and,
// when a tilt is set, the rotation command.
func (m *HeightGrid) Apply(ctx context.Context, t Target, s State) error {
	points := m.PointsAt(s.ObjectHeight+m.dh, s.LevelingOffset)
	mat := FisheyeMatrix{K: m.K, D: m.D, Points: points}
	if m.Center != nil {
		mat.Center = *m.Center
	}
	if err := t.SetFisheyeMatrix(ctx, mat); err != nil {
		return fmt.Errorf("failed to set fisheye matrix: %w", err)
	}
	if rot, ok := m.RotationFor(s.ObjectHeight); ok {
		if err := t.Set3DRotation(ctx, rot); err != nil {
			return fmt.Errorf("failed to set 3d rotation: %w", err)
		}
	}
	return nil
}

// PointsAt evaluates the correspondence points for height h. When leveling
// data and board geometry are present, each point's height is shifted by the
// leveling delta of the 3x3 region it falls in, corrected by offset.
func (m *HeightGrid) PointsAt(h float64, offset Leveling) [][][2]float64 {
	var rows, cols int
	if len(m.RegParam) > 0 {
		rows, cols = len(m.RegParam), len(m.RegParam[0])
	} else {
		rows, cols = len(m.Points[0]), len(m.Points[0][0])
	}

	comp := m.compensation(rows, cols, offset)

	out := make([][][2]float64, rows)
	for i := 0; i < rows; i++ {
		out[i] = make([][2]float64, cols)
		for j := 0; j < cols; j++ {
			ph := h
			if comp != nil {
				ph += comp[i][j]
			}
			if len(m.RegParam) > 0 {
				out[i][j] = regress(m.RegParam[i][j], ph)
			} else {
				out[i][j] = m.interpolate(i, j, ph)
			}
		}
	}
	return out
}

func (m *HeightGrid) compensation(rows, cols int, offset Leveling) [][]float64 {
	if m.Center == nil || m.Chessboard == nil || m.LevelingData == nil {
		return nil
	}
	delta := m.LevelingData.Minus(offset)
	pos := splitPositions(rows-1, cols-1, *m.Chessboard, m.workarea, *m.Center)

	comp := make([][]float64, rows)
	for i := range comp {
		comp[i] = make([]float64, cols)
		for j := range comp[i] {
			key := RegionKey(pos[i][j][0], pos[i][j][1], m.workarea.Width, m.workarea.Height)
			comp[i][j] = delta[key]
		}
	}
	return comp
}

func (m *HeightGrid) interpolate(i, j int, h float64) [2]float64 {
	if len(m.Points) == 1 {
		return m.Points[0][i][j]
	}
	k := bracketIndex(m.Heights, math.Floor(h))
	return lerp(m.Heights[k], m.Points[k][i][j], m.Heights[k+1], m.Points[k+1][i][j], h)
}

// bracketIndex returns the largest index k <= len-2 with heights[k] <= h, or
// 0 when h is below every sample.
func bracketIndex(heights []float64, h float64) int {
	left, right, result := 0, len(heights)-2, -1
	for left <= right {
		mid := (left + right) / 2
		if heights[mid] <= h {
			result = mid
			left = mid + 1
		} else {
			right = mid - 1
		}
	}
	if result < 0 {
		return 0
	}
	return result
}

func lerp(p1 float64, v1 [2]float64, p2 float64, v2 [2]float64, p float64) [2]float64 {
	r1 := (p - p1) / (p2 - p1)
	r2 := (p2 - p) / (p2 - p1)
	return [2]float64{v1[0]*r2 + v2[0]*r1, v1[1]*r2 + v2[1]*r1}
}

func regress(c [2][4]float64, h float64) [2]float64 {
	var out [2]float64
	for axis := 0; axis < 2; axis++ {
		a := c[axis]
		out[axis] = a[0]*h*h*h + a[1]*h*h + a[2]*h + a[3]
	}
	return out
}

// splitPositions maps each split index of the chessboard to its real
// workarea position in millimetres.
func splitPositions(splitX, splitY int, board [2]int, wa Workarea, center [2]float64) [][][2]float64 {
	index := func(i, split, size int) int {
		if split == 0 {
			return 0
		}
		return min(i*size/split, size-1)
	}

	out := make([][][2]float64, splitX+1)
	for i := 0; i <= splitX; i++ {
		out[i] = make([][2]float64, splitY+1)
		for j := 0; j <= splitY; j++ {
			px := float64(chessboardPadding + index(i, splitX, board[0])*chessboardSquare*chessboardDPMM)
			py := float64(chessboardPadding + index(j, splitY, board[1])*chessboardSquare*chessboardDPMM)
			out[i][j] = [2]float64{
				(px-center[0])/chessboardDPMM + wa.Width/2,
				(py-center[1])/chessboardDPMM + wa.Height/2,
			}
		}
	}
	return out
}
