package preview

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/camera.preview/internal/calibration"
	"github.com/banshee-data/camera.preview/internal/tiling"
)

func newWideFixture(t *testing.T) (*fixture, *WideAngle) {
	t.Helper()
	fx := newFixture(t, "ado1", "5.0.0")
	fx.machine.SetBlob(BlobFisheyeParams, []byte(focalBlob))
	fx.machine.SetProbeResult(calibration.ProbeResult{Height: 12.5, X: 100, Y: 80})
	return fx, NewWideAngle(fx.deps)
}

func TestWideAngleSetupProbesHeight(t *testing.T) {
	t.Parallel()
	fx, w := newWideFixture(t)

	ok, err := w.Setup(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	want := []string{
		"camera_connect", "fetch_blob", "get_setting",
		"enter_raw", "home", "loose_motor", "end_raw",
		"set_fisheye_param", "set_fisheye_grid",
		"enter_raw", "probe_focal", "set_fisheye_height", "end_raw",
	}
	assert.Equal(t, want, fx.machine.Calls())
	assert.Equal(t, []float64{12.5}, fx.machine.FisheyeHeights())
	h, ok := w.ObjectHeight()
	assert.True(t, ok)
	assert.Equal(t, 12.5, h)
	assert.Equal(t, ModeFullArea, CurrentMode(w))
}

func TestWideAngleSetupConfiguredHeight(t *testing.T) {
	t.Parallel()
	fx, w := newWideFixture(t)
	h := 8.0
	fx.deps.Config.DefaultObjectHeight = &h

	ok, err := w.Setup(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotContains(t, fx.machine.Calls(), "probe_focal")
	assert.Equal(t, []float64{8}, fx.machine.FisheyeHeights())
}

func TestWideAngleSetupPromptsWhenProbeFails(t *testing.T) {
	t.Parallel()
	fx, w := newWideFixture(t)
	fx.machine.FailNext("probe_focal", errors.New("no probe"))
	fx.notifier.height, fx.notifier.heightOK = 20, true

	ok, err := w.Setup(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, fx.notifier.prompts)
	assert.Equal(t, []float64{20}, fx.machine.FisheyeHeights())
}

func TestWideAngleSetupFailsWithoutHeight(t *testing.T) {
	t.Parallel()
	fx, w := newWideFixture(t)
	fx.machine.FailNext("probe_focal", errors.New("no probe"))

	ok, err := w.Setup(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	require.Len(t, fx.notifier.errs, 1)
	assert.ErrorIs(t, fx.notifier.errs[0].err, calibration.ErrHeightUnset)
	assert.True(t, w.Ended())
}

func TestWideAngleRotary(t *testing.T) {
	t.Parallel()
	fx, w := newWideFixture(t)
	fx.machine.SetSetting("rotary_mode", "1")
	ctx := context.Background()

	_, err := w.Setup(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"enter_raw", "home", "set_rotary", "home_z", "loose_motor", "end_raw"}, fx.machine.Calls()[3:9])

	fx.machine.ResetCalls()
	w.End(ctx)
	want := []string{"enter_raw", "set_rotary", "home_z", "end_raw", "camera_disconnect", "kick"}
	assert.Equal(t, want, fx.machine.Calls())
}

func TestWideAngleCaptures(t *testing.T) {
	t.Parallel()
	fx, w := newWideFixture(t)
	ctx := context.Background()
	_, err := w.Setup(ctx)
	require.NoError(t, err)

	ok, err := w.PreviewPoint(ctx, tiling.Point{X: 10, Y: 10})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, fx.canvas.HasOverlay())
	assert.Empty(t, fx.machine.Moves(), "the lid camera never moves the head")
}

func TestWideAngleResetObjectHeight(t *testing.T) {
	t.Parallel()
	fx, w := newWideFixture(t)
	ctx := context.Background()
	_, err := w.Setup(ctx)
	require.NoError(t, err)

	fx.machine.SetProbeResult(calibration.ProbeResult{Height: 15})
	ok, err := w.ResetObjectHeight(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	h, _ := w.ObjectHeight()
	assert.Equal(t, 15.0, h)

	require.NoError(t, w.ReloadLevelingOffset(ctx))
	assert.Equal(t, []float64{12.5, 15, 15}, fx.machine.FisheyeHeights())
}
