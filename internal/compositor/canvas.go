// Package compositor holds the in-memory preview canvas that corrected
// tiles and full-area frames are drawn onto.
package compositor

import (
	"image"
	"image/png"
	"io"
	"math"
	"sync"

	"golang.org/x/image/draw"

	"github.com/banshee-data/camera.preview/internal/tiling"
)

// Canvas covers the whole workarea at a fixed pixel density. Tiles land on
// a base layer; a full-area frame sits on an overlay above it until
// flattened.
type Canvas struct {
	mu      sync.Mutex
	ppmm    float64
	base    *image.NRGBA
	overlay *image.NRGBA
	clean   bool
	tiles   int
}

// New returns a clean canvas for a workarea of the given size in mm.
func New(workarea tiling.Size, ppmm float64) *Canvas {
	w := int(math.Round(workarea.W * ppmm))
	h := int(math.Round(workarea.H * ppmm))
	return &Canvas{
		ppmm:  ppmm,
		base:  image.NewNRGBA(image.Rect(0, 0, w, h)),
		clean: true,
	}
}

// PPMM is the canvas density in pixels per millimetre.
func (c *Canvas) PPMM() float64 { return c.ppmm }

// Bounds is the canvas size in pixels.
func (c *Canvas) Bounds() image.Rectangle { return c.base.Bounds() }

// DrawTile draws img centred on center (mm). With opacityMerge the tile's
// alpha blends over what is already there; otherwise it replaces it.
func (c *Canvas) DrawTile(img image.Image, center tiling.Point, opacityMerge bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := img.Bounds()
	x := int(math.Round(center.X*c.ppmm)) - b.Dx()/2
	y := int(math.Round(center.Y*c.ppmm)) - b.Dy()/2
	dst := image.Rect(x, y, x+b.Dx(), y+b.Dy())

	op := draw.Src
	if opacityMerge {
		op = draw.Over
	}
	draw.Draw(c.base, dst, img, b.Min, op)
	c.clean = false
	c.tiles++
}

// DrawFullArea stretches img over the whole canvas as the overlay,
// replacing any previous full-area frame.
func (c *Canvas) DrawFullArea(img image.Image) {
	c.mu.Lock()
	defer c.mu.Unlock()

	overlay := image.NewNRGBA(c.base.Bounds())
	draw.ApproxBiLinear.Scale(overlay, overlay.Bounds(), img, img.Bounds(), draw.Src, nil)
	c.overlay = overlay
	c.clean = false
}

// Flatten merges the overlay into the base layer.
func (c *Canvas) Flatten() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.overlay == nil {
		return
	}
	draw.Draw(c.base, c.base.Bounds(), c.overlay, image.Point{}, draw.Over)
	c.overlay = nil
}

// HasOverlay reports whether an unflattened full-area frame is shown.
func (c *Canvas) HasOverlay() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overlay != nil
}

// IsClean reports whether nothing has been drawn since the last Clear.
func (c *Canvas) IsClean() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clean
}

// TileCount is the number of tiles drawn since the last Clear.
func (c *Canvas) TileCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tiles
}

func (c *Canvas) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.base = image.NewNRGBA(c.base.Bounds())
	c.overlay = nil
	c.clean = true
	c.tiles = 0
}

// Snapshot renders base and overlay into a new image.
func (c *Canvas) Snapshot() *image.NRGBA {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := image.NewNRGBA(c.base.Bounds())
	draw.Draw(out, out.Bounds(), c.base, image.Point{}, draw.Src)
	if c.overlay != nil {
		draw.Draw(out, out.Bounds(), c.overlay, image.Point{}, draw.Over)
	}
	return out
}

// WritePNG encodes the current snapshot.
func (c *Canvas) WritePNG(w io.Writer) error {
	return png.Encode(w, c.Snapshot())
}
