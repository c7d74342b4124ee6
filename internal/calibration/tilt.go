package calibration

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Tilt describes how the camera plane is rotated against the work surface.
// Angles are degrees; TX, TY locate the pivot on the work surface.
type Tilt struct {
	RX float64 `json:"rx"`
	RY float64 `json:"ry"`
	RZ float64 `json:"rz"`
	// SH scales the rotation height; CH offsets the pivot height.
	SH float64 `json:"sh"`
	CH float64 `json:"ch"`
	TX float64 `json:"tx"`
	TY float64 `json:"ty"`
}

// HeightDelta is the vertical displacement of the workarea centre when the
// surface is rotated about the pivot by RX then RY. Rounded to 1e-3 so float
// noise does not register as a change.
func (t Tilt) HeightDelta(wa Workarea) float64 {
	arm := r3.Vec{X: wa.Width/2 - t.TX, Y: wa.Height/2 - t.TY}
	rx := r3.NewRotation(radians(t.RX), r3.Vec{X: 1})
	ry := r3.NewRotation(radians(t.RY), r3.Vec{Y: 1})
	moved := ry.Rotate(rx.Rotate(arm))
	return round3(moved.Z)
}

// Rotation builds the device command for the given object height:
// h = SH * (depth - objectHeight + CH).
func (t Tilt) Rotation(wa Workarea, objectHeight float64) Rotation3D {
	return Rotation3D{
		RX: round3(radians(t.RX)),
		RY: round3(radians(t.RY)),
		RZ: round3(radians(t.RZ)),
		H:  round3(t.SH * (wa.Depth - objectHeight + t.CH)),
		TX: round3(t.TX),
		TY: round3(t.TY),
	}
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func round3(v float64) float64 { return math.Round(v*1e3) / 1e3 }
