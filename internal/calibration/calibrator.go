package calibration

import (
	"context"
	"fmt"
	"sync"

	"github.com/banshee-data/camera.preview/internal/monitoring"
)

// OffsetSource loads the user's leveling offset for the current device.
type OffsetSource interface {
	LoadLevelingOffset(ctx context.Context) (Leveling, error)
}

// ProbeResult is one autofocus measurement.
type ProbeResult struct {
	Height float64
	X, Y   float64
}

// HeightProber measures object height with the machine's probe. Probing
// requires raw mode.
type HeightProber interface {
	EnterRawMode(ctx context.Context) error
	ProbeHeight(ctx context.Context) (ProbeResult, error)
	EndRawMode(ctx context.Context) error
}

// HeightPrompter asks the user for an object height. ok is false when the
// user cancels.
type HeightPrompter interface {
	PromptObjectHeight(ctx context.Context, current float64, hasCurrent bool) (h float64, ok bool, err error)
}

// Calibrator owns the mutable correction state for one camera and pushes a
// fresh correction to its target whenever that state changes.
type Calibrator struct {
	model   Model
	target  Target
	offsets OffsetSource
	logf    func(string, ...interface{})

	mu        sync.Mutex
	height    float64
	hasHeight bool
	offset    Leveling
	probeX    float64
	probeY    float64
	hasProbe  bool
	observers []func(height float64)
}

// NewCalibrator binds model to target. offsets may be nil when the device
// has no stored offset.
func NewCalibrator(model Model, target Target, offsets OffsetSource) *Calibrator {
	return &Calibrator{
		model:   model,
		target:  target,
		offsets: offsets,
		logf:    monitoring.Tagged("calibration"),
	}
}

// Model returns the bound generation model.
func (c *Calibrator) Model() Model { return c.model }

// OnHeightChanged registers fn to run after every applied correction.
func (c *Calibrator) OnHeightChanged(fn func(height float64)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// ObjectHeight returns the current object height, false when unset.
func (c *Calibrator) ObjectHeight() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height, c.hasHeight
}

// LevelingOffset returns a copy of the loaded offset.
func (c *Calibrator) LevelingOffset() Leveling {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset.Clone()
}

// Setup pushes the model's static parameters and loads the leveling offset.
// If a height is already known the correction is applied too.
func (c *Calibrator) Setup(ctx context.Context) error {
	if err := c.model.Setup(ctx, c.target); err != nil {
		return err
	}
	offset, err := c.loadOffset(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.offset = offset
	has := c.hasHeight
	c.mu.Unlock()

	if has {
		return c.heightChanged(ctx)
	}
	return nil
}

// SetObjectHeight records h and re-applies the correction.
func (c *Calibrator) SetObjectHeight(ctx context.Context, h float64) error {
	c.mu.Lock()
	c.height = h
	c.hasHeight = true
	c.mu.Unlock()
	return c.heightChanged(ctx)
}

// ReloadLevelingOffset re-fetches the offset and re-applies the correction
// when a height is set.
func (c *Calibrator) ReloadLevelingOffset(ctx context.Context) error {
	offset, err := c.loadOffset(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.offset = offset
	has := c.hasHeight
	c.mu.Unlock()

	if !has {
		return nil
	}
	return c.heightChanged(ctx)
}

// SetTilt updates the gen-1 tilt. The full correction is recomputed only
// when the derived height delta changes; otherwise just the rotation command
// is re-sent.
func (c *Calibrator) SetTilt(ctx context.Context, t Tilt) error {
	tm, ok := c.model.(TiltModel)
	if !ok {
		return ErrNoTilt
	}

	c.mu.Lock()
	changed := tm.SetTilt(t)
	h, has := c.height, c.hasHeight
	c.mu.Unlock()

	if !has {
		return nil
	}
	if changed {
		return c.heightChanged(ctx)
	}
	rot, _ := tm.RotationFor(h)
	if err := c.target.Set3DRotation(ctx, rot); err != nil {
		return fmt.Errorf("failed to set 3d rotation: %w", err)
	}
	return nil
}

// ResetObjectHeight measures a new object height, with the probe when prober
// is non-nil and falling back to prompt. Raw probing mode is always exited
// before returning. The bool reports whether a new height was applied.
func (c *Calibrator) ResetObjectHeight(ctx context.Context, prober HeightProber, prompt HeightPrompter) (bool, error) {
	if prober != nil {
		ok, err := c.probeHeight(ctx, prober)
		if ok {
			return true, nil
		}
		if prompt == nil {
			return false, err
		}
		c.logf("probe failed, asking for height: %v", err)
	}
	if prompt == nil {
		return false, nil
	}

	cur, has := c.ObjectHeight()
	h, ok, err := prompt.PromptObjectHeight(ctx, cur, has)
	if err != nil || !ok {
		return false, err
	}
	if err := c.SetObjectHeight(ctx, h); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Calibrator) probeHeight(ctx context.Context, prober HeightProber) (applied bool, err error) {
	if err := prober.EnterRawMode(ctx); err != nil {
		return false, fmt.Errorf("failed to enter raw mode for probing: %w", err)
	}
	defer func() {
		if endErr := prober.EndRawMode(ctx); endErr != nil {
			c.logf("failed to exit raw mode after probing: %v", endErr)
			if err == nil && !applied {
				err = endErr
			}
		}
	}()

	res, err := prober.ProbeHeight(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to probe height: %w", err)
	}

	c.mu.Lock()
	c.probeX, c.probeY, c.hasProbe = res.X, res.Y, true
	c.mu.Unlock()

	if err := c.SetObjectHeight(ctx, res.Height); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Calibrator) loadOffset(ctx context.Context) (Leveling, error) {
	if c.offsets == nil {
		return Leveling{}, nil
	}
	offset, err := c.offsets.LoadLevelingOffset(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load leveling offset: %w", err)
	}
	return offset, nil
}

// heightChanged recomputes and applies the correction, then notifies
// observers. It is the single place a correction is pushed.
func (c *Calibrator) heightChanged(ctx context.Context) error {
	c.mu.Lock()
	if !c.hasHeight {
		c.mu.Unlock()
		return ErrHeightUnset
	}
	s := State{
		ObjectHeight:   c.height,
		LevelingOffset: c.offset.Clone(),
		ProbeX:         c.probeX,
		ProbeY:         c.probeY,
		HasProbe:       c.hasProbe,
	}
	observers := append([]func(float64){}, c.observers...)
	c.mu.Unlock()

	if err := c.model.Apply(ctx, c.target, s); err != nil {
		return err
	}
	for _, fn := range observers {
		fn(s.ObjectHeight)
	}
	return nil
}
