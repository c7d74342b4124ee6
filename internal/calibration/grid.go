// Package calibration turns stored camera calibration data and a measured
// object height into the perspective correction a camera needs.
//
// Three generations of calibration data exist. The generation is chosen by
// which fields a stored blob carries (see Detect):
//
//   - gen 1: correspondence points sampled at several heights, optionally
//     with cubic regression coefficients, folded together with a 3x3
//     leveling grid and an optional 3-D tilt.
//   - gen 2: a single height corrected by the leveling difference between a
//     reference point and the autofocus probe point.
//   - gen 3/4: the object height from a focal-distance probe, forwarded as is.
package calibration

// PerspectiveGrid is the physical rectangle, relative to the camera, over
// which a camera mounting's distortion correction is valid. Each axis is
// [min, max, step] in millimetres.
type PerspectiveGrid struct {
	X [3]float64 `json:"x"`
	Y [3]float64 `json:"y"`
}

// Width is the X extent of the grid.
func (g PerspectiveGrid) Width() float64 { return g.X[1] - g.X[0] }

// Height is the Y extent of the grid.
func (g PerspectiveGrid) Height() float64 { return g.Y[1] - g.Y[0] }

// CenterOffset is the grid centre relative to the camera origin.
func (g PerspectiveGrid) CenterOffset() (x, y float64) {
	return g.X[0] + g.Width()/2, g.Y[0] + g.Height()/2
}

// Grids for the camera mountings the engine knows about.
var (
	// Laser-head camera on the second-generation tiled machines.
	TiledHeadGrid = PerspectiveGrid{X: [3]float64{-80, 80, 10}, Y: [3]float64{0, 100, 10}}
	// Laser-head camera on the RF hexa machines, narrower lens.
	TiledHeadGridRF = PerspectiveGrid{X: [3]float64{-70, 70, 10}, Y: [3]float64{0, 100, 10}}
	// Wide-angle lid camera on the second-generation tiled machines.
	WideAngleGridTiled = PerspectiveGrid{X: [3]float64{-10, 610, 20}, Y: [3]float64{-10, 385, 20}}
	// Wide-angle lid camera on the RF hexa machines.
	WideAngleGridRF = PerspectiveGrid{X: [3]float64{-10, 740, 25}, Y: [3]float64{-10, 420, 25}}
	// Head camera of the fisheye full-area machines.
	FullAreaGrid = PerspectiveGrid{X: [3]float64{0, 430, 10}, Y: [3]float64{0, 300, 10}}
)

// Workarea is the machine's reachable volume in millimetres.
type Workarea struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Depth  float64 `json:"depth"`
}
