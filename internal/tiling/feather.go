package tiling

import (
	"image"
	"math"
)

// Feather ramps the alpha channel of img down towards each edge flagged in
// edges. The ramp is overlap*width pixels wide horizontally and
// overlap*height pixels vertically; the per-pixel factor is the product of the
// horizontal and vertical ratios. Edges without a neighbour keep full opacity.
func Feather(img *image.NRGBA, edges EdgeMask, overlap float64) {
	if img == nil || edges == 0 || overlap <= 0 {
		return
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	ow := int(math.Round(float64(w) * overlap))
	oh := int(math.Round(float64(h) * overlap))
	if ow <= 0 && oh <= 0 {
		return
	}

	for y := 0; y < h; y++ {
		tDist, bDist := oh, oh
		if edges.Has(EdgeTop) {
			tDist = y
		}
		if edges.Has(EdgeBottom) {
			bDist = h - y - 1
		}
		yRatio := rampRatio(min(tDist, bDist), oh)

		for x := 0; x < w; x++ {
			lDist, rDist := ow, ow
			if edges.Has(EdgeLeft) {
				lDist = x
			}
			if edges.Has(EdgeRight) {
				rDist = w - x - 1
			}
			ratio := rampRatio(min(lDist, rDist), ow) * yRatio
			if ratio >= 1 {
				continue
			}
			i := img.PixOffset(b.Min.X+x, b.Min.Y+y) + 3
			img.Pix[i] = uint8(math.Round(float64(img.Pix[i]) * ratio))
		}
	}
}

func rampRatio(dist, width int) float64 {
	if width <= 0 {
		return 1
	}
	return math.Min(float64(dist+1)/float64(width), 1)
}
