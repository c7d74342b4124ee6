package preview

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/banshee-data/camera.preview/internal/calibration"
	"github.com/banshee-data/camera.preview/internal/device"
	"github.com/banshee-data/camera.preview/internal/tiling"
)

// WideAngle previews the whole workarea in one frame. The machine dewarps
// the frame using the correction a Calibrator pushes to it.
type WideAngle struct {
	*Base

	blobName string
	grid     calibration.PerspectiveGrid

	mu     sync.Mutex
	params []byte
	cal    *calibration.Calibrator
	rotary bool
}

func NewWideAngle(d Deps) *WideAngle {
	spec := d.Machine.Info().Spec()
	w := newWideAngle(newBase(d, "wide-angle", fixedFeedrate(spec)), BlobFisheyeParams, calibration.FullAreaGrid)
	w.abort = w.End
	return w
}

func newWideAngle(b *Base, blobName string, grid calibration.PerspectiveGrid) *WideAngle {
	return &WideAngle{Base: b, blobName: blobName, grid: grid}
}

func (w *WideAngle) Mode() Mode { return ModeFullArea }

func (w *WideAngle) Setup(ctx context.Context) (bool, error) {
	defer w.Notifier.Done()
	w.Notifier.Progress(fmt.Sprintf("Connecting to %s...", w.info.Name))
	err := w.Machine.ConnectCamera(ctx)
	if err == nil {
		err = w.setupCamera(ctx)
	}
	if err != nil {
		w.setupFailed(ctx, err, w.End)
		return false, nil
	}
	return true, nil
}

func (w *WideAngle) calibrated() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.params != nil
}

func (w *WideAngle) setParams(p []byte) {
	w.mu.Lock()
	w.params = p
	w.mu.Unlock()
}

func (w *WideAngle) calibrator() *calibration.Calibrator {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cal
}

// setupCamera binds the calibration, re-homes the head out of view and
// makes sure an object height is applied. The camera must already be
// selected.
func (w *WideAngle) setupCamera(ctx context.Context) error {
	if !w.calibrated() {
		params, err := w.fetchBlob(ctx, w.blobName)
		if err != nil {
			return fmt.Errorf("unable to get fisheye parameters, please make sure you have calibrated the camera: %w", err)
		}
		w.setParams(params)
	}
	w.mu.Lock()
	params := w.params
	w.mu.Unlock()

	model, err := calibration.Detect(params, w.grid, w.spec.Workarea)
	if err != nil {
		return err
	}
	cal := calibration.NewCalibrator(model, w.Machine, w.offsets())
	cal.OnHeightChanged(func(h float64) {
		w.logf("%s correction applied at %.2fmm", model.Generation(), h)
	})

	if err := w.rehome(ctx); err != nil {
		return err
	}
	if _, ok := model.(calibration.TiltModel); ok {
		w.loadTilt(ctx, cal)
	}
	w.Notifier.Progress("Setting camera parameters...")
	if err := cal.Setup(ctx); err != nil {
		return err
	}

	h, has := w.Config.GetDefaultObjectHeight()
	if prev := w.calibrator(); prev != nil {
		if ph, ok := prev.ObjectHeight(); ok {
			h, has = ph, true
		}
	}
	w.mu.Lock()
	w.cal = cal
	w.mu.Unlock()

	if has {
		return cal.SetObjectHeight(ctx, h)
	}
	ok, err := cal.ResetObjectHeight(ctx, w.prober(model), w.Notifier)
	if err != nil {
		return err
	}
	if !ok {
		return calibration.ErrHeightUnset
	}
	return nil
}

// prober is the machine for generations that use the probe position or
// height, nil for the height-grid generation which asks the user.
func (w *WideAngle) prober(m calibration.Model) calibration.HeightProber {
	if m.Generation() == calibration.GenHeightGrid {
		return nil
	}
	return w.Machine
}

// rehome homes the head, and Z when the rotary is attached, then leaves raw
// mode with the motors released.
func (w *WideAngle) rehome(ctx context.Context) error {
	rotary, serr := w.Machine.GetSetting(ctx, "rotary_mode")
	if serr != nil {
		w.logf("failed to read rotary mode: %v", serr)
	}
	w.mu.Lock()
	w.rotary = rotary == "1"
	w.mu.Unlock()

	w.Notifier.Progress("Entering raw mode...")
	if err := w.Machine.EnterRawMode(ctx); err != nil {
		return fmt.Errorf("failed to enter raw mode: %w", err)
	}
	defer func() {
		if w.Machine.ControlMode() != device.ModeRaw {
			return
		}
		w.Notifier.Progress("Ending raw mode...")
		w.guarded(ctx,
			step{"release motors", w.Machine.LooseMotor},
			step{"end raw mode", w.Machine.EndRawMode},
		)
	}()

	w.Notifier.Progress("Homing...")
	if err := w.Machine.Home(ctx); err != nil {
		return fmt.Errorf("failed to home: %w", err)
	}
	w.homed()
	if rotary == "1" {
		if err := w.Machine.SetRotary(ctx, false); err != nil {
			return fmt.Errorf("failed to exit rotary mode: %w", err)
		}
		if err := w.Machine.HomeZ(ctx); err != nil {
			return fmt.Errorf("failed to home z: %w", err)
		}
	}
	return nil
}

// loadTilt applies the stored 3-D tilt, if the machine has one.
func (w *WideAngle) loadTilt(ctx context.Context, cal *calibration.Calibrator) {
	blob, err := w.fetchBlob(ctx, BlobTiltParams)
	if err != nil {
		w.logf("no tilt parameters: %v", err)
		return
	}
	var t calibration.Tilt
	if err := json.Unmarshal(blob, &t); err != nil {
		w.logf("failed to parse tilt parameters: %v", err)
		return
	}
	if err := cal.SetTilt(ctx, t); err != nil {
		w.logf("failed to apply tilt: %v", err)
	}
}

func (w *WideAngle) PreviewFullArea(ctx context.Context) (bool, error) {
	if w.Ended() {
		return false, nil
	}
	w.Notifier.Progress("Capturing image...")
	defer w.Notifier.Done()
	img, ok, err := w.photo(ctx)
	if err != nil || !ok {
		return false, err
	}
	w.Canvas.DrawFullArea(img)
	return true, nil
}

// PreviewPoint captures the full area; a wide-angle frame has no position.
func (w *WideAngle) PreviewPoint(ctx context.Context, _ tiling.Point) (bool, error) {
	return w.PreviewFullArea(ctx)
}

func (w *WideAngle) PreviewRegion(ctx context.Context, _ tiling.Rect) (bool, error) {
	return w.PreviewFullArea(ctx)
}

func (w *WideAngle) ResetObjectHeight(ctx context.Context) (bool, error) {
	cal := w.calibrator()
	if cal == nil {
		return false, nil
	}
	return cal.ResetObjectHeight(ctx, w.prober(cal.Model()), w.Notifier)
}

func (w *WideAngle) ReloadLevelingOffset(ctx context.Context) error {
	cal := w.calibrator()
	if cal == nil {
		return nil
	}
	return cal.ReloadLevelingOffset(ctx)
}

// ObjectHeight is the height the current correction is for.
func (w *WideAngle) ObjectHeight() (float64, bool) {
	cal := w.calibrator()
	if cal == nil {
		return 0, false
	}
	return cal.ObjectHeight()
}

// restoreRotary turns the rotary back on if setup turned it off.
func (w *WideAngle) restoreRotary(ctx context.Context) {
	w.mu.Lock()
	rotary := w.rotary
	w.rotary = false
	w.mu.Unlock()
	if !rotary {
		return
	}
	w.guarded(ctx,
		step{"enter raw mode", w.Machine.EnterRawMode},
		step{"restore rotary mode", func(ctx context.Context) error { return w.Machine.SetRotary(ctx, true) }},
		step{"home z", w.Machine.HomeZ},
		step{"end raw mode", w.Machine.EndRawMode},
	)
}

func (w *WideAngle) End(ctx context.Context) {
	if !w.markEnded() {
		return
	}
	w.Notifier.Done()
	w.teardown(ctx)
}

func (w *WideAngle) teardown(ctx context.Context) {
	w.restoreRotary(ctx)
	w.guarded(ctx,
		step{"disconnect camera", w.Machine.DisconnectCamera},
		step{"release control", w.Machine.Kick},
	)
}

var (
	_ Strategy          = (*WideAngle)(nil)
	_ FullAreaPreviewer = (*WideAngle)(nil)
	_ HeightResetter    = (*WideAngle)(nil)
	_ LevelingReloader  = (*WideAngle)(nil)
)
