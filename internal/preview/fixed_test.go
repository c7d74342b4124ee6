package preview

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/camera.preview/internal/device"
	"github.com/banshee-data/camera.preview/internal/tiling"
	"github.com/banshee-data/camera.preview/internal/units"
)

const testOffset = "R:0 SX:1.625 SY:1.625 X:20 Y:30"

func TestParseCameraOffset(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    CameraOffset
		wantErr bool
	}{
		{
			name: "full",
			in:   "R:-0.0123 SX:1.62 SY:1.58 X:21.5 Y:-3.25",
			want: CameraOffset{X: 21.5, Y: -3.25, Angle: -0.0123, ScaleX: 1.62, ScaleY: 1.58},
		},
		{
			name: "legacy single scale",
			in:   "R:0.01 S:1.6 X:18 Y:29",
			want: CameraOffset{X: 18, Y: 29, Angle: 0.01, ScaleX: 1.6, ScaleY: 1.6},
		},
		{
			name: "space after colon",
			in:   "R: 0 SX: 2 SY: 2 X: 5 Y: 6",
			want: CameraOffset{X: 5, Y: 6, ScaleX: 2, ScaleY: 2},
		},
		{
			name: "uncalibrated",
			in:   "R:0 SX:1 SY:1 X:0 Y:0",
			want: IdealCameraOffset,
		},
		{name: "empty", in: "", wantErr: true},
		{name: "missing y", in: "R:0 SX:1 SY:1 X:3", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseCameraOffset(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidCameraOffset)
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("offset mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func newFixedFixture(t *testing.T) (*fixture, *Fixed) {
	t.Helper()
	fx := newFixture(t, "fbm1", "4.1.1")
	fx.machine.SetSetting("camera_offset", testOffset)
	return fx, NewFixed(fx.deps)
}

func TestFixedSetupSequence(t *testing.T) {
	t.Parallel()
	fx, f := newFixedFixture(t)

	ok, err := f.Setup(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	want := []string{
		"end_raw", "get_setting", "get_laser_speed", "set_laser_speed",
		"enter_raw", "set_rotary", "home", "linecheck_start",
		"fan", "air", "water", "camera_connect",
	}
	assert.Equal(t, want, fx.machine.Calls())
	assert.Equal(t, 1.0, fx.machine.Speed())
	assert.Equal(t, CameraOffset{X: 20, Y: 30, ScaleX: 1.625, ScaleY: 1.625}, f.CameraOffset())
	assert.Empty(t, fx.notifier.errs)
}

func TestFixedSetupOldFirmwareSkipsLineCheck(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, "fbm1", "3.2.0")
	fx.machine.SetSetting("camera_offset", testOffset)

	ok, err := NewFixed(fx.deps).Setup(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotContains(t, fx.machine.Calls(), "linecheck_start")
}

func TestFixedSetupReconnectsOnTimeout(t *testing.T) {
	t.Parallel()
	fx, f := newFixedFixture(t)
	fx.machine.FailNext("end_raw", &device.CommandError{Command: "end_raw", Codes: []string{device.CodeTimeout}})

	ok, err := f.Setup(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"end_raw", "reconnect"}, fx.machine.Calls()[:2])
}

func TestFixedEndRestoresMachine(t *testing.T) {
	t.Parallel()
	fx, f := newFixedFixture(t)
	ctx := context.Background()
	_, err := f.Setup(ctx)
	require.NoError(t, err)
	fx.machine.ResetCalls()

	f.End(ctx)

	want := []string{"camera_disconnect", "linecheck_end", "loose_motor", "end_raw", "set_laser_speed", "kick"}
	assert.Equal(t, want, fx.machine.Calls())
	assert.Equal(t, 100.0, fx.machine.Speed())
	assert.True(t, f.Ended())
	assert.False(t, fx.machine.CameraConnected())
}

func TestFixedEndContinuesPastFailures(t *testing.T) {
	t.Parallel()
	fx, f := newFixedFixture(t)
	ctx := context.Background()
	_, err := f.Setup(ctx)
	require.NoError(t, err)
	fx.machine.ResetCalls()
	fx.machine.FailNext("loose_motor", errors.New("stalled"))

	f.End(ctx)

	calls := fx.machine.Calls()
	assert.Contains(t, calls, "end_raw")
	assert.Equal(t, "kick", calls[len(calls)-1])
}

func TestFixedSetupFailureKinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fail string
		want ErrorKind
	}{
		{"camera", "camera_connect", ErrorCameraLink},
		{"settings", "get_setting", ErrorStartFailure},
		{"homing", "home", ErrorStartFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fx, f := newFixedFixture(t)
			fx.machine.FailNext(tt.fail, errors.New("boom"))

			ok, err := f.Setup(context.Background())
			require.NoError(t, err)
			assert.False(t, ok)
			assert.True(t, f.Ended())
			assert.Equal(t, []ErrorKind{tt.want}, fx.notifier.errorKinds())
			assert.Contains(t, fx.machine.Calls(), "kick")
		})
	}
}

func TestFixedPreviewPointMovesByOffset(t *testing.T) {
	t.Parallel()
	fx, f := newFixedFixture(t)
	ctx := context.Background()
	_, err := f.Setup(ctx)
	require.NoError(t, err)

	ok, err := f.PreviewPoint(ctx, tiling.Point{X: 100, Y: 100})
	require.NoError(t, err)
	require.True(t, ok)

	moves := fx.machine.Moves()
	require.Len(t, moves, 1)
	assert.Equal(t, 80.0, moves[0].X)
	assert.Equal(t, 70.0, moves[0].Y)
	assert.Equal(t, 18000.0, moves[0].F)
	assert.False(t, fx.canvas.IsClean())

	v := units.FeedrateToMMPerMs(18000)
	settle := time.Duration(float64(units.TravelTime(80, 70, v, v))*1.2) + 100*time.Millisecond
	assert.Equal(t, []time.Duration{settle}, fx.clock.Sleeps())
}

func TestFixedConstrain(t *testing.T) {
	t.Parallel()
	fx, f := newFixedFixture(t)
	_, err := f.Setup(context.Background())
	require.NoError(t, err)

	assert.Equal(t, tiling.Point{X: 20, Y: 30}, f.constrain(tiling.Point{X: 5, Y: -10}))
	assert.Equal(t, tiling.Point{X: 300, Y: 210}, f.constrain(tiling.Point{X: 900, Y: 900}))
	assert.Empty(t, fx.notifier.errs)
}

func TestFixedBorderlessOffset(t *testing.T) {
	t.Parallel()
	fx, f := newFixedFixture(t)
	fx.machine.SetSetting("camera_offset_borderless", "R:0 SX:1.625 SY:1.625 X:15 Y:25")
	fx.store.Set(PrefBorderless, "true")

	_, err := f.Setup(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 15.0, f.CameraOffset().X)
	assert.Equal(t, tiling.Point{X: 260, Y: 210}, f.constrain(tiling.Point{X: 900, Y: 900}))
}

func TestFixedFootprint(t *testing.T) {
	t.Parallel()
	_, f := newFixedFixture(t)
	f.offset = CameraOffset{ScaleX: 1.625, ScaleY: 1.625, Angle: math.Pi / 2}
	assert.InDelta(t, 45.5, f.footprint(), 1e-9)
}

func TestFixedMovementSpeedPreference(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level string
		want  float64
	}{
		{"", 18000},
		{units.SpeedFast, 18000},
		{units.SpeedMedium, 14400},
		{units.SpeedSlow, 10800},
		{"warp", 18000},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			t.Parallel()
			fx, f := newFixedFixture(t)
			if tt.level != "" {
				fx.store.Set(PrefMovementSpeed, tt.level)
			}
			assert.InDelta(t, tt.want, f.movementSpeed(context.Background()), 1e-9)
		})
	}
}

func TestFixedRegionStopsBetweenTiles(t *testing.T) {
	t.Parallel()
	fx, f := newFixedFixture(t)
	ctx := context.Background()
	_, err := f.Setup(ctx)
	require.NoError(t, err)

	fx.machine.Gate = func(_ context.Context, name string) error {
		if name == "require_frame" {
			f.RequestStop()
		}
		return nil
	}
	ok, err := f.PreviewRegion(ctx, tiling.RectFromSize(300, 210))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, fx.machine.Moves(), 1)
	assert.Contains(t, fx.notifier.progress, "Capturing image 1/35")
}

func TestFixedRegionCoversArea(t *testing.T) {
	t.Parallel()
	fx, f := newFixedFixture(t)
	ctx := context.Background()
	_, err := f.Setup(ctx)
	require.NoError(t, err)

	ok, err := f.PreviewRegion(ctx, tiling.RectFromCorners(20, 30, 100, 100))
	require.NoError(t, err)
	assert.True(t, ok)
	// 80x70mm with 45.5mm tiles at 5% overlap: 2x2.
	assert.Len(t, fx.machine.Moves(), 4)
	assert.Equal(t, 4, fx.canvas.TileCount())
}

func TestFixedCapturesSkippedAfterEnd(t *testing.T) {
	t.Parallel()
	fx, f := newFixedFixture(t)
	ctx := context.Background()
	_, err := f.Setup(ctx)
	require.NoError(t, err)
	f.End(ctx)

	ok, err := f.PreviewPoint(ctx, tiling.Point{X: 50, Y: 50})
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = f.PreviewRegion(ctx, tiling.RectFromSize(100, 100))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, fx.machine.Moves())
}

func TestPhotoEmptyFrame(t *testing.T) {
	t.Parallel()
	fx, f := newFixedFixture(t)
	ctx := context.Background()
	_, err := f.Setup(ctx)
	require.NoError(t, err)
	fx.machine.Frame = func(int) device.Photo { return device.Photo{} }

	_, err = f.PreviewPoint(ctx, tiling.Point{X: 50, Y: 50})
	assert.ErrorIs(t, err, device.ErrEmptyFrame)
	assert.ErrorIs(t, err, device.ErrCameraLink)
}

func unstableFrames(int) device.Photo {
	return device.Photo{Data: device.SyntheticFrame(64, 48), CableUnstable: true}
}

func TestCableWarningAbortEndsPreview(t *testing.T) {
	t.Parallel()
	fx, f := newFixedFixture(t)
	ctx := context.Background()
	_, err := f.Setup(ctx)
	require.NoError(t, err)
	fx.machine.Frame = unstableFrames
	fx.notifier.cable = CableDecision{}

	ok, err := f.PreviewPoint(ctx, tiling.Point{X: 50, Y: 50})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, f.Ended())
	assert.Contains(t, fx.machine.Calls(), "kick")
	assert.True(t, fx.canvas.IsClean())
}

func TestCableWarningDontAskAgain(t *testing.T) {
	t.Parallel()
	fx, f := newFixedFixture(t)
	ctx := context.Background()
	_, err := f.Setup(ctx)
	require.NoError(t, err)
	fx.machine.Frame = unstableFrames
	fx.notifier.cable = CableDecision{Continue: true, DontAskAgain: true}

	for range 2 {
		ok, err := f.PreviewPoint(ctx, tiling.Point{X: 50, Y: 50})
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, 1, fx.notifier.prompts)
	dismissed, err := fx.store.BoolPreference(ctx, PrefCableAlertDismissed)
	require.NoError(t, err)
	assert.True(t, dismissed)
}

func TestCableWarningDisabledByConfig(t *testing.T) {
	t.Parallel()
	fx, f := newFixedFixture(t)
	off := false
	fx.deps.Config.CameraCableAlert = &off
	ctx := context.Background()
	_, err := f.Setup(ctx)
	require.NoError(t, err)
	fx.machine.Frame = unstableFrames

	ok, err := f.PreviewPoint(ctx, tiling.Point{X: 50, Y: 50})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, fx.notifier.prompts)
}
