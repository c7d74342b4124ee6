package preview

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/camera.preview/internal/calibration"
	"github.com/banshee-data/camera.preview/internal/config"
	"github.com/banshee-data/camera.preview/internal/device"
	"github.com/banshee-data/camera.preview/internal/imaging"
	"github.com/banshee-data/camera.preview/internal/monitoring"
	"github.com/banshee-data/camera.preview/internal/tiling"
	"github.com/banshee-data/camera.preview/internal/timeutil"
	"github.com/banshee-data/camera.preview/internal/units"
)

// Deps are the collaborators a strategy works with. Store may be nil; the
// other nil fields get defaults.
type Deps struct {
	Machine  device.Machine
	Canvas   Compositor
	Notifier Notifier
	Store    Store
	Config   *config.PreviewConfig
	Clock    timeutil.Clock
}

func (d Deps) withDefaults() Deps {
	if d.Notifier == nil {
		d.Notifier = NopNotifier{}
	}
	if d.Config == nil {
		d.Config = config.EmptyPreviewConfig()
	}
	if d.Clock == nil {
		d.Clock = timeutil.RealClock{}
	}
	return d
}

// Base holds what every strategy shares: travel and settle timing, photo
// capture with the cable check, the tile loop and guarded teardown.
type Base struct {
	Deps

	info     device.Info
	spec     device.Spec
	logf     func(format string, v ...interface{})
	feedrate func(level string) float64
	// abort ends the owning strategy when the user gives up on an unstable
	// camera cable.
	abort func(ctx context.Context)

	ended atomic.Bool
	stop  atomic.Bool

	mu  sync.Mutex
	pos tiling.Point
}

func newBase(d Deps, tag string, feedrate func(string) float64) *Base {
	d = d.withDefaults()
	info := d.Machine.Info()
	return &Base{
		Deps:     d,
		info:     info,
		spec:     info.Spec(),
		logf:     monitoring.Tagged(tag),
		feedrate: feedrate,
	}
}

// fixedFeedrate scales the model's travel speed by the speed level.
func fixedFeedrate(spec device.Spec) func(string) float64 {
	return func(level string) float64 {
		switch level {
		case units.SpeedMedium:
			return spec.MovementSpeed * 0.8
		case units.SpeedSlow:
			return spec.MovementSpeed * 0.6
		}
		return spec.MovementSpeed
	}
}

// tiledFeedrate is the travel speed of the fisheye head machines, mm/min.
func tiledFeedrate(level string) float64 {
	switch level {
	case units.SpeedFast:
		return 42000
	case units.SpeedMedium:
		return 36000
	}
	return 30000
}

// Ended reports whether End has been called.
func (b *Base) Ended() bool { return b.ended.Load() }

// markEnded reports whether this call ended the strategy.
func (b *Base) markEnded() bool { return b.ended.CompareAndSwap(false, true) }

func (b *Base) RequestStop() { b.stop.Store(true) }

// movementSpeed is the travel feedrate for the current speed preference.
func (b *Base) movementSpeed(ctx context.Context) float64 {
	level := b.Config.GetMovementSpeedLevel()
	if b.Store != nil {
		v, ok, err := b.Store.Preference(ctx, PrefMovementSpeed)
		switch {
		case err != nil:
			b.logf("failed to read movement speed preference: %v", err)
		case ok && units.IsValidSpeedLevel(v):
			level = v
		}
	}
	return b.feedrate(level)
}

func capSpeed(f, limit float64) float64 {
	if limit > 0 && limit < f {
		return limit
	}
	return f
}

// settleTime is how long to wait after travelling from -> to at feedrate f
// before the camera image is sharp.
func (b *Base) settleTime(from, to tiling.Point, f float64) time.Duration {
	vx := units.FeedrateToMMPerMs(capSpeed(f, b.spec.MaxSpeedX))
	vy := units.FeedrateToMMPerMs(capSpeed(f, b.spec.MaxSpeedY))
	travel := units.TravelTime(math.Abs(to.X-from.X), math.Abs(to.Y-from.Y), vx, vy)
	return time.Duration(float64(travel)*b.Config.GetSettleMargin()) + b.Config.GetSettleLatency()
}

// homed records that the head is at the origin.
func (b *Base) homed() {
	b.mu.Lock()
	b.pos = tiling.Point{}
	b.mu.Unlock()
}

// moveTo travels the head to p (mm) and waits for it to settle.
func (b *Base) moveTo(ctx context.Context, p tiling.Point) error {
	if b.Machine.ControlMode() != device.ModeRaw {
		if err := b.Machine.EnterRawMode(ctx); err != nil {
			return fmt.Errorf("failed to enter raw mode: %w", err)
		}
	}
	f := b.movementSpeed(ctx)
	if err := b.Machine.Move(ctx, device.Move{X: p.X, Y: p.Y, F: f}); err != nil {
		return fmt.Errorf("failed to move to (%.1f, %.1f): %w", p.X, p.Y, err)
	}

	b.mu.Lock()
	from := b.pos
	b.pos = p
	b.mu.Unlock()

	return b.Clock.SleepContext(ctx, b.settleTime(from, p, f))
}

// photo takes and decodes one frame. ok is false when the user aborted on
// an unstable cable warning; the strategy has then been ended.
func (b *Base) photo(ctx context.Context) (img *image.NRGBA, ok bool, err error) {
	ph, err := b.Machine.TakePhoto(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to take photo: %w", err)
	}
	if len(ph.Data) == 0 {
		return nil, false, device.ErrEmptyFrame
	}
	if ph.CableUnstable {
		cont, err := b.confirmCable(ctx)
		if err != nil {
			return nil, false, err
		}
		if !cont {
			b.logf("preview aborted on unstable camera cable")
			if b.abort != nil {
				b.abort(ctx)
			}
			return nil, false, nil
		}
	}
	img, _, err = imaging.Decode(ph.Data)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode photo: %w", err)
	}
	return img, true, nil
}

func (b *Base) confirmCable(ctx context.Context) (bool, error) {
	if !b.Config.GetCameraCableAlert() {
		return true, nil
	}
	if b.Store != nil {
		dismissed, err := b.Store.BoolPreference(ctx, PrefCableAlertDismissed)
		if err != nil {
			b.logf("failed to read cable alert preference: %v", err)
		}
		if dismissed {
			return true, nil
		}
	}
	d, err := b.Notifier.ConfirmUnstableCable(ctx)
	if err != nil {
		return false, fmt.Errorf("cable warning: %w", err)
	}
	if d.DontAskAgain && b.Store != nil {
		if err := b.Store.SetBoolPreference(ctx, PrefCableAlertDismissed, true); err != nil {
			b.logf("failed to save cable alert preference: %v", err)
		}
	}
	return d.Continue, nil
}

func (b *Base) photoAfterMove(ctx context.Context, p tiling.Point) (*image.NRGBA, bool, error) {
	if err := b.moveTo(ctx, p); err != nil {
		return nil, false, err
	}
	return b.photo(ctx)
}

// runTiles captures tiles in order until done, ended or stopped.
func (b *Base) runTiles(ctx context.Context, tiles []tiling.Tile, capture func(context.Context, tiling.Tile) (bool, error)) (bool, error) {
	b.stop.Store(false)
	defer b.Notifier.Done()

	for i, t := range tiles {
		if b.Ended() {
			return false, nil
		}
		if b.stop.Load() {
			b.logf("region capture stopped after %d of %d tiles", i, len(tiles))
			return false, nil
		}
		b.Notifier.Progress(fmt.Sprintf("Capturing image %d/%d", i+1, len(tiles)))
		ok, err := capture(ctx, t)
		if err != nil || !ok {
			return ok, err
		}
	}
	return true, nil
}

// workareaRect is the machine bed in mm.
func (b *Base) workareaRect() tiling.Rect {
	return tiling.RectFromSize(b.spec.Workarea.Width, b.spec.Workarea.Height)
}

// fetchBlob reads a calibration blob from the machine and caches it in the
// store. When the machine cannot supply it, the cached copy is used.
func (b *Base) fetchBlob(ctx context.Context, name string) ([]byte, error) {
	data, err := b.Machine.FetchBlob(ctx, name)
	if err == nil {
		if b.Store != nil {
			if serr := b.Store.SaveCalibrationBlob(ctx, b.info.Serial, name, data); serr != nil {
				b.logf("failed to cache %s: %v", name, serr)
			}
		}
		return data, nil
	}
	if b.Store == nil {
		return nil, err
	}
	cached, cerr := b.Store.CalibrationBlob(ctx, b.info.Serial, name)
	if cerr != nil {
		return nil, err
	}
	b.logf("using cached %s: %v", name, err)
	return cached, nil
}

func (b *Base) offsets() calibration.OffsetSource {
	if b.Store == nil {
		return nil
	}
	return b.Store.OffsetSource(b.info.Serial)
}

// prepareRaw puts the machine in raw mode with rotary, fan and pumps off and
// the head homed.
func (b *Base) prepareRaw(ctx context.Context, lineCheck bool) error {
	b.Notifier.Progress("Entering raw mode...")
	if err := b.Machine.EnterRawMode(ctx); err != nil {
		return fmt.Errorf("failed to enter raw mode: %w", err)
	}
	b.Notifier.Progress("Exiting rotary mode...")
	if err := b.Machine.SetRotary(ctx, false); err != nil {
		return fmt.Errorf("failed to exit rotary mode: %w", err)
	}
	b.Notifier.Progress("Homing...")
	if err := b.Machine.Home(ctx); err != nil {
		return fmt.Errorf("failed to home: %w", err)
	}
	b.homed()
	if lineCheck {
		if err := b.Machine.StartLineCheck(ctx); err != nil {
			return fmt.Errorf("failed to start line-check mode: %w", err)
		}
	}
	for _, p := range []device.Peripheral{device.Fan, device.Air, device.Water} {
		b.Notifier.Progress(fmt.Sprintf("Turning off %s...", p))
		if err := b.Machine.SetPeripheral(ctx, p, false); err != nil {
			return fmt.Errorf("failed to turn off %s: %w", p, err)
		}
	}
	return nil
}

// step is one guarded teardown action.
type step struct {
	what string
	run  func(context.Context) error
}

// guarded runs every step, logging failures without stopping. Teardown must
// run even when the caller's context is already done.
func (b *Base) guarded(ctx context.Context, steps ...step) {
	ctx = context.WithoutCancel(ctx)
	for _, s := range steps {
		if err := s.run(ctx); err != nil {
			b.logf("failed to %s: %v", s.what, err)
		}
	}
}

// endHead leaves laser-head preview: line-check off, raw mode exited with
// motors released, then extra. With final the camera is disconnected and
// control released; without it the camera stays up for another mode.
func (b *Base) endHead(ctx context.Context, final bool, extra ...step) {
	var steps []step
	if final {
		steps = append(steps, step{"disconnect camera", b.Machine.DisconnectCamera})
	}
	steps = append(steps,
		step{"enter raw mode", func(ctx context.Context) error {
			if b.Machine.ControlMode() == device.ModeRaw {
				return nil
			}
			return b.Machine.EnterRawMode(ctx)
		}},
		step{"end line-check mode", func(ctx context.Context) error {
			if !b.Machine.LineCheckEnabled() {
				return nil
			}
			return b.Machine.EndLineCheck(ctx)
		}},
		step{"release motors", b.Machine.LooseMotor},
		step{"end raw mode", b.Machine.EndRawMode},
	)
	steps = append(steps, extra...)
	if final {
		steps = append(steps, step{"release control", b.Machine.Kick})
	}
	b.guarded(ctx, steps...)
}

// setupFailed ends the strategy and reports err to the user.
func (b *Base) setupFailed(ctx context.Context, err error, end func(context.Context)) {
	end(ctx)
	b.logf("setup failed: %v", err)
	kind := ErrorStartFailure
	if errors.Is(err, device.ErrCameraLink) {
		kind = ErrorCameraLink
	}
	b.Notifier.Error(kind, err)
}
