// Package preview drives a machine's camera to capture corrected preview
// images. Each camera topology has its own Strategy; all of them share the
// motion, settle and capture helpers in Base.
package preview

import (
	"context"
	"errors"
	"image"

	"github.com/banshee-data/camera.preview/internal/calibration"
	"github.com/banshee-data/camera.preview/internal/tiling"
)

// Mode is the logical preview mode of a strategy.
type Mode string

const (
	// ModeRegion captures tiles with the laser-head camera.
	ModeRegion Mode = "region"
	// ModeFullArea captures the whole workarea in one frame.
	ModeFullArea Mode = "full_area"
)

// Strategy is the capability set every camera topology provides.
//
// The bool results report whether a capture was drawn. false with a nil
// error means the work was skipped: the strategy has ended, a stop was
// requested or the user aborted.
type Strategy interface {
	// Setup prepares the machine for preview. Failures are reported to the
	// Notifier, the strategy is ended and false is returned.
	Setup(ctx context.Context) (bool, error)
	// PreviewPoint captures one frame centred on p (mm).
	PreviewPoint(ctx context.Context, p tiling.Point) (bool, error)
	// PreviewRegion captures enough tiles to cover r (mm).
	PreviewRegion(ctx context.Context, r tiling.Rect) (bool, error)
	// RequestStop asks a running region capture to halt after its current
	// tile.
	RequestStop()
	// End restores the machine. It is best-effort and safe to call twice.
	End(ctx context.Context)
}

// FullAreaPreviewer is implemented by strategies that can capture the whole
// workarea in one frame.
type FullAreaPreviewer interface {
	PreviewFullArea(ctx context.Context) (bool, error)
}

// CameraOffsetter is implemented by strategies with a fixed camera offset.
type CameraOffsetter interface {
	CameraOffset() CameraOffset
}

// Moder reports the current logical mode.
type Moder interface {
	Mode() Mode
}

// ModeSwitcher is implemented by dual-camera strategies.
type ModeSwitcher interface {
	Moder
	// Switchable is false when the second camera is missing.
	Switchable() bool
	// SwitchMode changes camera and returns the mode now in effect.
	SwitchMode(ctx context.Context, m Mode) (Mode, error)
}

// Plan is the tile layout a region capture would use.
type Plan struct {
	Tiles     []tiling.Tile `json:"tiles"`
	Footprint tiling.Size   `json:"footprint"`
	Bounds    tiling.Rect   `json:"bounds"`
}

// RegionPlanner is implemented by strategies that capture regions in tiles.
type RegionPlanner interface {
	PlanRegion(r tiling.Rect) (Plan, error)
}

// HeightResetter re-measures the object height.
type HeightResetter interface {
	ResetObjectHeight(ctx context.Context) (bool, error)
}

// LevelingReloader re-reads the leveling offset and re-applies correction.
type LevelingReloader interface {
	ReloadLevelingOffset(ctx context.Context) error
}

// HeightReporter exposes the object height the correction is for.
type HeightReporter interface {
	ObjectHeight() (float64, bool)
}

// CurrentMode returns s's mode, ModeRegion for strategies without one.
func CurrentMode(s Strategy) Mode {
	if m, ok := s.(Moder); ok {
		return m.Mode()
	}
	return ModeRegion
}

// IsSwitchable reports whether s can change camera.
func IsSwitchable(s Strategy) bool {
	ms, ok := s.(ModeSwitcher)
	return ok && ms.Switchable()
}

// ErrorKind classifies errors surfaced to the user.
type ErrorKind string

const (
	ErrorCameraLink     ErrorKind = "camera_link"
	ErrorStartFailure   ErrorKind = "start_failure"
	ErrorCaptureFailure ErrorKind = "capture_failure"
	ErrorNotCalibrated  ErrorKind = "not_calibrated"
)

// CableDecision is the user's answer to an unstable-cable warning.
type CableDecision struct {
	Continue     bool
	DontAskAgain bool
}

// Notifier is the user-facing side of a preview: progress messages, errors
// and the prompts that need a decision.
type Notifier interface {
	calibration.HeightPrompter

	Progress(msg string)
	// Done clears any progress message.
	Done()
	Error(kind ErrorKind, err error)
	ConfirmUnstableCable(ctx context.Context) (CableDecision, error)
}

// NopNotifier discards messages, continues on cable warnings and cancels
// height prompts.
type NopNotifier struct{}

func (NopNotifier) Progress(string)        {}
func (NopNotifier) Done()                  {}
func (NopNotifier) Error(ErrorKind, error) {}
func (NopNotifier) ConfirmUnstableCable(context.Context) (CableDecision, error) {
	return CableDecision{Continue: true}, nil
}
func (NopNotifier) PromptObjectHeight(context.Context, float64, bool) (float64, bool, error) {
	return 0, false, nil
}

// Compositor receives corrected images. Tile centres are in mm.
type Compositor interface {
	DrawTile(img image.Image, center tiling.Point, opacityMerge bool)
	DrawFullArea(img image.Image)
	// Flatten merges a full-area frame into the tiles beneath it.
	Flatten()
	IsClean() bool
	Clear()
}

// Store persists calibration copies and user preferences.
type Store interface {
	CalibrationBlob(ctx context.Context, serial, name string) ([]byte, error)
	SaveCalibrationBlob(ctx context.Context, serial, name string, data []byte) error
	OffsetSource(serial string) calibration.OffsetSource
	Preference(ctx context.Context, key string) (string, bool, error)
	BoolPreference(ctx context.Context, key string) (bool, error)
	SetBoolPreference(ctx context.Context, key string, v bool) error
}

// Preference keys.
const (
	PrefCableAlertDismissed = "camera_cable_alert_dismissed"
	PrefMovementSpeed       = "preview_movement_speed_level"
	PrefBorderless          = "borderless"
)

// Calibration blob names on the machine.
const (
	BlobFisheyeParams   = "fisheye_params"
	BlobWideAngleParams = "wide_angle_params"
	BlobTiltParams      = "3d_rotation"
)

var (
	// ErrNotCalibrated is reported when full-area mode is requested without
	// wide-angle calibration.
	ErrNotCalibrated = errors.New("please calibrate the wide angle camera first")
	// ErrSwitchFailed means the target camera could not be set up; the
	// strategy has ended.
	ErrSwitchFailed = errors.New("failed to switch camera")
	// ErrNoPlan is returned when regions are not captured in tiles.
	ErrNoPlan = errors.New("region capture does not use tiles in full-area mode")
	// ErrUnsupportedModel is returned by the factory for unknown models.
	ErrUnsupportedModel = errors.New("model has no preview support")
)
