// Package imaging decodes camera frames and applies the client-side
// geometric corrections: resampling and rotate+scale onto a square canvas.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	stddraw "image/draw"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Decode decodes a frame in any registered format and returns it as NRGBA
// along with the format name.
func Decode(data []byte) (*image.NRGBA, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("empty frame")
	}
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode frame: %w", err)
	}
	return ToNRGBA(src), format, nil
}

// ToNRGBA returns img as a zero-origin NRGBA, copying only when needed.
func ToNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	stddraw.Draw(out, out.Bounds(), img, b.Min, stddraw.Src)
	return out
}

// Resample scales img by ratio in both axes.
func Resample(img image.Image, ratio float64) *image.NRGBA {
	b := img.Bounds()
	w := max(1, int(math.Round(float64(b.Dx())*ratio)))
	h := max(1, int(math.Round(float64(b.Dy())*ratio)))
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(out, out.Bounds(), img, b, draw.Src, nil)
	return out
}

// RotatedSide is the side of the square canvas a frame of height h occupies
// after rotation by angle (radians) and vertical scale sy.
func RotatedSide(h int, angle, sy float64) int {
	return int(math.Round(float64(h) * sy / (math.Cos(angle) + math.Sin(angle))))
}

// RotateScale draws img centred on a side×side transparent canvas after
// scaling by (sx, sy) and rotating by angle radians.
func RotateScale(img image.Image, angle, sx, sy float64, side int) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, side, side))
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	cos, sin := math.Cos(angle), math.Sin(angle)
	half := float64(side) / 2

	// src -> dst: translate to centre, rotate, scale, then offset by -w/2, -h/2
	a00, a01 := sx*cos, -sy*sin
	a10, a11 := sx*sin, sy*cos
	cx := float64(b.Min.X) + w/2
	cy := float64(b.Min.Y) + h/2
	s2d := f64.Aff3{
		a00, a01, half - (a00*cx + a01*cy),
		a10, a11, half - (a10*cx + a11*cy),
	}
	draw.BiLinear.Transform(out, s2d, img, b, draw.Over, nil)
	return out
}
