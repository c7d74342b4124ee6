package preview

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"

	"github.com/banshee-data/camera.preview/internal/device"
	"github.com/banshee-data/camera.preview/internal/imaging"
	"github.com/banshee-data/camera.preview/internal/tiling"
)

// CameraOffset is the mounting of a fixed head camera: its position relative
// to the laser (mm), rotation (radians) and pixel scale.
type CameraOffset struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Angle  float64 `json:"angle"`
	ScaleX float64 `json:"scale_x"`
	ScaleY float64 `json:"scale_y"`
}

func (o CameraOffset) String() string {
	return fmt.Sprintf("R:%g SX:%g SY:%g X:%g Y:%g", o.Angle, o.ScaleX, o.ScaleY, o.X, o.Y)
}

// IdealCameraOffset is used when a machine reports no offset.
var IdealCameraOffset = CameraOffset{X: 20, Y: 30, ScaleX: 1.625, ScaleY: 1.625}

// Fixed-camera frame geometry. Scale ratios map camera pixels to canvas
// pixels at fixedOffsetPPMM.
const (
	fixedFrameHeight = 280
	fixedOffsetPPMM  = 10
	// Right-hand strip the head cannot reach in borderless mode, mm.
	borderlessSafeX = 40
)

// ErrInvalidCameraOffset is returned for settings that do not parse.
var ErrInvalidCameraOffset = errors.New("invalid camera offset")

const offsetNumber = `\s?(-?\d+(?:\.\d+)?)`

var (
	offsetAngleRE  = regexp.MustCompile(`R:` + offsetNumber)
	offsetScaleXRE = regexp.MustCompile(`SX:` + offsetNumber)
	offsetScaleYRE = regexp.MustCompile(`SY:` + offsetNumber)
	offsetScaleRE  = regexp.MustCompile(`(?:^|\s)S:` + offsetNumber)
	offsetXRE      = regexp.MustCompile(`(?:^|\s)X:` + offsetNumber)
	offsetYRE      = regexp.MustCompile(`(?:^|\s)Y:` + offsetNumber)
)

// ParseCameraOffset reads the "R:<a> SX:<sx> SY:<sy> X:<x> Y:<y>" setting.
// Older firmware stores one scale as "S:<s>". An offset of X:0 Y:0 means
// the machine was never calibrated and IdealCameraOffset is returned.
func ParseCameraOffset(s string) (CameraOffset, error) {
	find := func(name string, res ...*regexp.Regexp) (float64, error) {
		for _, re := range res {
			if m := re.FindStringSubmatch(s); m != nil {
				return strconv.ParseFloat(m[1], 64)
			}
		}
		return 0, fmt.Errorf("%w: %s missing in %q", ErrInvalidCameraOffset, name, s)
	}

	var (
		o   CameraOffset
		err error
	)
	if o.Angle, err = find("R", offsetAngleRE); err != nil {
		return CameraOffset{}, err
	}
	if o.ScaleX, err = find("SX", offsetScaleXRE, offsetScaleRE); err != nil {
		return CameraOffset{}, err
	}
	if o.ScaleY, err = find("SY", offsetScaleYRE, offsetScaleRE); err != nil {
		return CameraOffset{}, err
	}
	if o.X, err = find("X", offsetXRE); err != nil {
		return CameraOffset{}, err
	}
	if o.Y, err = find("Y", offsetYRE); err != nil {
		return CameraOffset{}, err
	}
	if o.X == 0 && o.Y == 0 {
		return IdealCameraOffset, nil
	}
	return o, nil
}

// Fixed previews with a single camera bolted to the laser head.
type Fixed struct {
	*Base

	offset        CameraOffset
	borderless    bool
	originalSpeed float64
}

func NewFixed(d Deps) *Fixed {
	spec := d.Machine.Info().Spec()
	f := &Fixed{Base: newBase(d, "fixed", fixedFeedrate(spec))}
	f.abort = f.End
	return f
}

func (f *Fixed) CameraOffset() CameraOffset { return f.offset }

func (f *Fixed) Setup(ctx context.Context) (bool, error) {
	defer f.Notifier.Done()
	if err := f.setup(ctx); err != nil {
		f.setupFailed(ctx, err, f.End)
		return false, nil
	}
	return true, nil
}

func (f *Fixed) setup(ctx context.Context) error {
	f.Notifier.Progress(fmt.Sprintf("Connecting to %s...", f.info.Name))
	if err := f.retrieveCameraOffset(ctx); err != nil {
		return err
	}

	f.Notifier.Progress("Getting laser speed...")
	speed, err := f.Machine.LaserSpeed(ctx)
	if err != nil {
		return fmt.Errorf("failed to get laser speed: %w", err)
	}
	if speed != 1 {
		f.originalSpeed = speed
		f.Notifier.Progress("Setting laser speed...")
		if err := f.Machine.SetLaserSpeed(ctx, 1); err != nil {
			return fmt.Errorf("failed to set laser speed: %w", err)
		}
	}

	if err := f.prepareRaw(ctx, f.info.Supports(device.FeatureLineCheck)); err != nil {
		return err
	}
	f.Notifier.Progress("Connecting camera...")
	return f.Machine.ConnectCamera(ctx)
}

// retrieveCameraOffset leaves any stale raw session, since settings cannot
// be read in raw mode, then reads the offset setting.
func (f *Fixed) retrieveCameraOffset(ctx context.Context) error {
	if f.Machine.LineCheckEnabled() {
		f.Notifier.Progress("Ending line-check mode...")
		if err := f.Machine.EndLineCheck(ctx); err != nil &&
			!device.HasCode(err, device.CodeControlSocketMode) &&
			!device.HasCode(err, device.CodeUnknownCommand) {
			f.logf("unable to end line-check mode: %v", err)
		}
	}

	f.Notifier.Progress("Ending raw mode...")
	if err := f.Machine.EndRawMode(ctx); err != nil {
		switch {
		case device.HasCode(err, device.CodeOperationError):
			f.logf("not in raw mode")
		case device.HasCode(err, device.CodeTimeout):
			f.logf("timed out ending raw mode, reconnecting")
			if err := f.Machine.Reconnect(ctx); err != nil {
				return fmt.Errorf("failed to reconnect: %w", err)
			}
		default:
			f.logf("failed to end raw mode: %v", err)
		}
	}

	f.borderless = f.borderlessEnabled(ctx)
	name := "camera_offset"
	if f.borderless {
		name = "camera_offset_borderless"
	}
	f.Notifier.Progress("Retrieving camera offset...")
	v, err := f.Machine.GetSetting(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	offset, err := ParseCameraOffset(v)
	if err != nil {
		return err
	}
	f.offset = offset
	f.logf("got %s: %s", name, offset)
	return nil
}

func (f *Fixed) borderlessEnabled(ctx context.Context) bool {
	if f.Store == nil || !f.info.Supports(device.FeatureBorderless) {
		return false
	}
	on, err := f.Store.BoolPreference(ctx, PrefBorderless)
	if err != nil {
		f.logf("failed to read borderless preference: %v", err)
	}
	return on
}

// constrain keeps p where the camera can reach: not left of or above its
// own offset, not past the workarea.
func (f *Fixed) constrain(p tiling.Point) tiling.Point {
	maxW := f.spec.Workarea.Width
	if f.borderless {
		maxW -= borderlessSafeX
	}
	return tiling.Point{
		X: math.Min(math.Max(p.X, f.offset.X), maxW),
		Y: math.Min(math.Max(p.Y, f.offset.Y), f.spec.Workarea.Height),
	}
}

// footprint is the side of a corrected frame, mm.
func (f *Fixed) footprint() float64 {
	a := f.offset.Angle
	return fixedFrameHeight * f.offset.ScaleY / (math.Cos(a) + math.Sin(a)) / fixedOffsetPPMM
}

func (f *Fixed) PreviewPoint(ctx context.Context, p tiling.Point) (bool, error) {
	return f.previewTile(ctx, p, 0, 0)
}

// PlanRegion lays out square tiles the size of one corrected frame.
func (f *Fixed) PlanRegion(r tiling.Rect) (Plan, error) {
	side := f.footprint()
	p := Plan{Footprint: tiling.Size{W: side, H: side}, Bounds: f.workareaRect()}
	var err error
	p.Tiles, err = tiling.Plan(r, p.Bounds, p.Footprint, f.Config.GetOverlapRatio())
	return p, err
}

func (f *Fixed) PreviewRegion(ctx context.Context, r tiling.Rect) (bool, error) {
	plan, err := f.PlanRegion(r)
	if err != nil {
		return false, err
	}
	overlap := f.Config.GetOverlapRatio()
	return f.runTiles(ctx, plan.Tiles, func(ctx context.Context, t tiling.Tile) (bool, error) {
		return f.previewTile(ctx, t.Center, t.Edges, overlap)
	})
}

func (f *Fixed) previewTile(ctx context.Context, center tiling.Point, edges tiling.EdgeMask, overlap float64) (bool, error) {
	if f.Ended() {
		return false, nil
	}
	c := f.constrain(center)
	img, ok, err := f.photoAfterMove(ctx, tiling.Point{X: c.X - f.offset.X, Y: c.Y - f.offset.Y})
	if err != nil || !ok {
		return false, err
	}

	k := f.Config.GetPreviewPPMM() / fixedOffsetPPMM
	sx, sy := f.offset.ScaleX*k, f.offset.ScaleY*k
	side := imaging.RotatedSide(img.Bounds().Dy(), f.offset.Angle, sy)
	tile := imaging.RotateScale(img, f.offset.Angle, sx, sy, side)
	tiling.Feather(tile, edges, overlap)
	f.Canvas.DrawTile(tile, c, overlap > 0)
	return true, nil
}

func (f *Fixed) End(ctx context.Context) {
	if !f.markEnded() {
		return
	}
	f.Notifier.Done()
	f.endHead(ctx, true, step{"restore laser speed", f.restoreSpeed})
}

func (f *Fixed) restoreSpeed(ctx context.Context) error {
	if f.originalSpeed == 0 || f.originalSpeed == 1 {
		return nil
	}
	if err := f.Machine.SetLaserSpeed(ctx, f.originalSpeed); err != nil {
		return err
	}
	f.originalSpeed = 0
	return nil
}

var (
	_ Strategy        = (*Fixed)(nil)
	_ CameraOffsetter = (*Fixed)(nil)
	_ RegionPlanner   = (*Fixed)(nil)
)
