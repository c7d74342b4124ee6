package preview

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/banshee-data/camera.preview/internal/calibration"
	"github.com/banshee-data/camera.preview/internal/imaging"
	"github.com/banshee-data/camera.preview/internal/tiling"
)

// Tiled previews with the fisheye camera on the laser head. The machine
// dewarps each frame onto its perspective grid; the client only resamples
// and feathers.
type Tiled struct {
	*Base

	grid   calibration.PerspectiveGrid
	params []byte
	// Grid centre relative to the head, mm.
	cx, cy float64
}

func NewTiled(d Deps) *Tiled {
	t := newTiled(newBase(d, "tiled", tiledFeedrate))
	t.abort = t.End
	return t
}

func newTiled(b *Base) *Tiled {
	grid := calibration.TiledHeadGrid
	if b.info.IsHexaRF() {
		grid = calibration.TiledHeadGridRF
	}
	cx, cy := grid.CenterOffset()
	return &Tiled{Base: b, grid: grid, cx: cx, cy: cy}
}

// Grid is the region the head camera covers, relative to the head.
func (t *Tiled) Grid() calibration.PerspectiveGrid { return t.grid }

func (t *Tiled) Setup(ctx context.Context) (bool, error) {
	defer t.Notifier.Done()
	t.Notifier.Progress(fmt.Sprintf("Connecting to %s...", t.info.Name))
	err := t.Machine.ConnectCamera(ctx)
	if err == nil {
		err = t.setupHead(ctx)
	}
	if err != nil {
		t.setupFailed(ctx, err, t.End)
		return false, nil
	}
	return true, nil
}

// setupHead readies the head camera. The camera must already be connected.
func (t *Tiled) setupHead(ctx context.Context) error {
	if t.params == nil {
		params, err := t.fetchBlob(ctx, BlobFisheyeParams)
		if err != nil {
			return fmt.Errorf("unable to get fisheye parameters, please make sure you have calibrated the camera: %w", err)
		}
		t.params = params
	}
	if err := t.prepareRaw(ctx, true); err != nil {
		return err
	}
	t.Notifier.Progress("Connecting camera...")
	if err := t.Machine.SetFisheyeParam(ctx, json.RawMessage(t.params)); err != nil {
		return fmt.Errorf("failed to set fisheye parameters: %w", err)
	}
	if err := t.Machine.SetFisheyeGrid(ctx, t.grid); err != nil {
		return fmt.Errorf("failed to set fisheye perspective grid: %w", err)
	}
	return nil
}

// headPosition is where the head goes to centre its grid on center, kept
// inside the travel range.
func (t *Tiled) headPosition(center tiling.Point) tiling.Point {
	wa := t.spec.Workarea
	return tiling.Point{
		X: math.Min(math.Max(center.X-t.cx, -t.grid.X[0]), wa.Width-t.grid.X[1]),
		Y: math.Min(math.Max(center.Y-t.cy, -t.grid.Y[0]), wa.Height-t.grid.Y[1]),
	}
}

func (t *Tiled) PreviewPoint(ctx context.Context, p tiling.Point) (bool, error) {
	return t.previewTile(ctx, p, 0, 0)
}

// PlanRegion lays out tiles the size of the head camera's corrected frame.
func (t *Tiled) PlanRegion(r tiling.Rect) (Plan, error) {
	p := Plan{
		Footprint: tiling.Size{W: t.grid.Width(), H: t.grid.Height()},
		Bounds:    t.workareaRect(),
	}
	var err error
	p.Tiles, err = tiling.Plan(r, p.Bounds, p.Footprint, t.Config.GetOverlapRatio())
	return p, err
}

func (t *Tiled) PreviewRegion(ctx context.Context, r tiling.Rect) (bool, error) {
	plan, err := t.PlanRegion(r)
	if err != nil {
		return false, err
	}
	overlap := t.Config.GetOverlapRatio()
	return t.runTiles(ctx, plan.Tiles, func(ctx context.Context, tile tiling.Tile) (bool, error) {
		return t.previewTile(ctx, tile.Center, tile.Edges, overlap)
	})
}

func (t *Tiled) previewTile(ctx context.Context, center tiling.Point, edges tiling.EdgeMask, overlap float64) (bool, error) {
	if t.Ended() {
		return false, nil
	}
	head := t.headPosition(center)
	img, ok, err := t.photoAfterMove(ctx, head)
	if err != nil || !ok {
		return false, err
	}
	tile := imaging.Resample(img, t.Config.GetPreviewPPMM()/t.Config.GetCameraPPMM())
	tiling.Feather(tile, edges, overlap)
	t.Canvas.DrawTile(tile, tiling.Point{X: head.X + t.cx, Y: head.Y + t.cy}, overlap > 0)
	return true, nil
}

func (t *Tiled) End(ctx context.Context) {
	if !t.markEnded() {
		return
	}
	t.Notifier.Done()
	t.endHead(ctx, true)
}

var (
	_ Strategy      = (*Tiled)(nil)
	_ RegionPlanner = (*Tiled)(nil)
)
