package compositor

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/camera.preview/internal/tiling"
)

func fill(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func TestNewCanvasIsClean(t *testing.T) {
	t.Parallel()
	c := New(tiling.Size{W: 60, H: 40}, 10)
	assert.Equal(t, image.Rect(0, 0, 600, 400), c.Bounds())
	assert.True(t, c.IsClean())
	assert.Equal(t, 10.0, c.PPMM())
}

func TestDrawTilePlacesCentre(t *testing.T) {
	t.Parallel()
	c := New(tiling.Size{W: 60, H: 40}, 10)
	c.DrawTile(fill(100, 50, color.NRGBA{255, 0, 0, 255}), tiling.Point{X: 20, Y: 10}, false)

	snap := c.Snapshot()
	assert.Equal(t, uint8(255), snap.NRGBAAt(200, 100).R)
	assert.Equal(t, uint8(255), snap.NRGBAAt(150, 75).A, "top-left corner of the tile")
	assert.Equal(t, uint8(0), snap.NRGBAAt(149, 75).A)
	assert.Equal(t, uint8(0), snap.NRGBAAt(250, 100).A, "past the right edge")
	assert.False(t, c.IsClean())
	assert.Equal(t, 1, c.TileCount())
}

func TestDrawTileOpacityMerge(t *testing.T) {
	t.Parallel()
	c := New(tiling.Size{W: 10, H: 10}, 1)
	c.DrawTile(fill(10, 10, color.NRGBA{0, 0, 255, 255}), tiling.Point{X: 5, Y: 5}, false)

	half := fill(10, 10, color.NRGBA{255, 0, 0, 128})
	c.DrawTile(half, tiling.Point{X: 5, Y: 5}, true)
	merged := c.Snapshot().NRGBAAt(5, 5)
	assert.InDelta(t, 128, int(merged.R), 2)
	assert.InDelta(t, 127, int(merged.B), 2)
	assert.Equal(t, uint8(255), merged.A)

	c.DrawTile(half, tiling.Point{X: 5, Y: 5}, false)
	replaced := c.Snapshot().NRGBAAt(5, 5)
	assert.Equal(t, color.NRGBA{255, 0, 0, 128}, replaced)
}

func TestFullAreaOverlayAndFlatten(t *testing.T) {
	t.Parallel()
	c := New(tiling.Size{W: 20, H: 10}, 1)
	c.DrawTile(fill(4, 4, color.NRGBA{0, 255, 0, 255}), tiling.Point{X: 2, Y: 2}, false)

	c.DrawFullArea(fill(5, 5, color.NRGBA{255, 255, 255, 255}))
	assert.True(t, c.HasOverlay())
	assert.Equal(t, color.NRGBA{255, 255, 255, 255}, c.Snapshot().NRGBAAt(1, 1))

	c.Flatten()
	assert.False(t, c.HasOverlay())
	assert.Equal(t, color.NRGBA{255, 255, 255, 255}, c.Snapshot().NRGBAAt(19, 9))

	c.Flatten()
	c.Clear()
	assert.True(t, c.IsClean())
	assert.Equal(t, 0, c.TileCount())
	assert.Equal(t, uint8(0), c.Snapshot().NRGBAAt(1, 1).A)
}

func TestWritePNG(t *testing.T) {
	t.Parallel()
	c := New(tiling.Size{W: 8, H: 6}, 2)
	var buf bytes.Buffer
	require.NoError(t, c.WritePNG(&buf))
	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 16, 12), img.Bounds())
}
