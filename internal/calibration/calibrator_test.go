package calibration

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFocalCalibrator(t *testing.T, offsets OffsetSource) (*Calibrator, *recordingTarget, *int) {
	t.Helper()
	m, err := ParseFocal([]byte(`{"v":3,"k":[[1]],"d":[[0]]}`), FullAreaGrid)
	require.NoError(t, err)
	target := &recordingTarget{}
	c := NewCalibrator(m, target, offsets)
	calls := new(int)
	c.OnHeightChanged(func(float64) { *calls++ })
	return c, target, calls
}

func TestCalibratorHeightChangedExactlyOnce(t *testing.T) {
	ctx := context.Background()
	offsets := &staticOffsets{offset: Leveling{"A": 1}}
	c, target, calls := newFocalCalibrator(t, offsets)

	require.NoError(t, c.Setup(ctx))
	assert.Equal(t, 0, *calls, "setup without a height applies nothing")

	require.NoError(t, c.ReloadLevelingOffset(ctx))
	assert.Equal(t, 0, *calls, "reload while height is unset must not apply")

	require.NoError(t, c.SetObjectHeight(ctx, 12))
	assert.Equal(t, 1, *calls)

	require.NoError(t, c.ReloadLevelingOffset(ctx))
	assert.Equal(t, 2, *calls)

	require.NoError(t, c.SetObjectHeight(ctx, 13))
	assert.Equal(t, 3, *calls)

	assert.Equal(t, []float64{12, 12, 13}, target.heights)
	assert.Equal(t, 3, offsets.loads)
}

func TestCalibratorSetupAppliesKnownHeight(t *testing.T) {
	ctx := context.Background()
	c, target, calls := newFocalCalibrator(t, nil)

	require.NoError(t, c.SetObjectHeight(ctx, 5))
	require.NoError(t, c.Setup(ctx))
	assert.Equal(t, 2, *calls)
	assert.Equal(t, []string{"height", "param", "grid", "height"}, target.callNames())
}

func TestCalibratorApplyErrorSkipsObservers(t *testing.T) {
	c, target, calls := newFocalCalibrator(t, nil)
	target.failOn = "height"

	err := c.SetObjectHeight(context.Background(), 5)
	assert.ErrorIs(t, err, errTarget)
	assert.Equal(t, 0, *calls)
}

func TestCalibratorReloadError(t *testing.T) {
	c, _, _ := newFocalCalibrator(t, &staticOffsets{err: errors.New("db down")})
	err := c.ReloadLevelingOffset(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leveling offset")
}

type fakeProber struct {
	result   ProbeResult
	probeErr error
	entered  int
	ended    int
}

func (p *fakeProber) EnterRawMode(context.Context) error { p.entered++; return nil }
func (p *fakeProber) EndRawMode(context.Context) error   { p.ended++; return nil }
func (p *fakeProber) ProbeHeight(context.Context) (ProbeResult, error) {
	return p.result, p.probeErr
}

type fakePrompt struct {
	h      float64
	ok     bool
	asked  int
	hadCur bool
}

func (p *fakePrompt) PromptObjectHeight(_ context.Context, _ float64, has bool) (float64, bool, error) {
	p.asked++
	p.hadCur = has
	return p.h, p.ok, nil
}

func TestResetObjectHeightWithProbe(t *testing.T) {
	c, _, calls := newFocalCalibrator(t, nil)
	prober := &fakeProber{result: ProbeResult{Height: 21.5, X: 10, Y: 10}}

	ok, err := c.ResetObjectHeight(context.Background(), prober, nil)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, prober.entered)
	assert.Equal(t, 1, prober.ended)
	assert.Equal(t, 1, *calls)

	h, has := c.ObjectHeight()
	assert.True(t, has)
	assert.Equal(t, 21.5, h)
}

func TestResetObjectHeightProbeFailureStillExitsRawMode(t *testing.T) {
	c, _, calls := newFocalCalibrator(t, nil)
	prober := &fakeProber{probeErr: errors.New("probe stuck")}

	ok, err := c.ResetObjectHeight(context.Background(), prober, nil)
	require.Error(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, prober.ended)
	assert.Equal(t, 0, *calls)

	_, has := c.ObjectHeight()
	assert.False(t, has)
}

func TestResetObjectHeightFallsBackToPrompt(t *testing.T) {
	c, _, calls := newFocalCalibrator(t, nil)
	prober := &fakeProber{probeErr: errors.New("no probe")}
	prompt := &fakePrompt{h: 9, ok: true}

	ok, err := c.ResetObjectHeight(context.Background(), prober, prompt)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, prompt.asked)
	assert.False(t, prompt.hadCur)
	assert.Equal(t, 1, prober.ended)
	assert.Equal(t, 1, *calls)
}

func TestResetObjectHeightPromptCancelled(t *testing.T) {
	c, _, calls := newFocalCalibrator(t, nil)
	ok, err := c.ResetObjectHeight(context.Background(), nil, &fakePrompt{ok: false})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, *calls)
}

func TestResetObjectHeightRecordsProbePosition(t *testing.T) {
	m, err := ParseReference([]byte(`{"v":2,"k":[[1]],"d":[[0]],"source":"np","leveling_data":{"A":8,"E":9}}`),
		WideAngleGridTiled, Workarea{Width: 600, Height: 375})
	require.NoError(t, err)
	target := &recordingTarget{}
	c := NewCalibrator(m, target, &staticOffsets{offset: Leveling{"A": 0, "E": 2}})
	require.NoError(t, c.Setup(context.Background()))

	ok, err := c.ResetObjectHeight(context.Background(), &fakeProber{result: ProbeResult{Height: 7, X: 5, Y: 5}}, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float64{6}, target.heights)
}

func TestSetTiltNarrowTrigger(t *testing.T) {
	ctx := context.Background()
	m, err := ParseHeightGrid([]byte(`{"heights":[0],"points":[[[[1,1]]]],"tilt":{"sh":1}}`),
		FullAreaGrid, Workarea{Width: 200, Height: 200, Depth: 40})
	require.NoError(t, err)
	target := &recordingTarget{}
	c := NewCalibrator(m, target, nil)
	calls := 0
	c.OnHeightChanged(func(float64) { calls++ })

	require.NoError(t, c.SetObjectHeight(ctx, 10))
	require.Equal(t, 1, calls)

	// only rz changes: dh is unchanged, so just the rotation is re-sent
	require.NoError(t, c.SetTilt(ctx, Tilt{RZ: 5, SH: 1}))
	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"matrix", "rotation", "rotation"}, target.callNames())

	// a new ry moves the centre, which changes dh
	require.NoError(t, c.SetTilt(ctx, Tilt{RY: 10, SH: 1}))
	assert.Equal(t, 2, calls)

	assert.ErrorIs(t, NewCalibrator(&Focal{}, target, nil).SetTilt(ctx, Tilt{}), ErrNoTilt)
}
