package preview

import (
	"context"
	"fmt"
	"sync"

	"github.com/banshee-data/camera.preview/internal/calibration"
	"github.com/banshee-data/camera.preview/internal/tiling"
)

// Camera indexes on dual-camera machines.
const (
	headCamera = 0
	wideCamera = 1
)

// Switchable drives a machine with both a head camera and a wide-angle lid
// camera. Region mode uses the head camera; full-area mode the lid camera.
type Switchable struct {
	*Base
	head *Tiled
	wide *WideAngle

	mu      sync.Mutex
	mode    Mode
	hasWide bool
}

func NewSwitchable(d Deps) *Switchable {
	b := newBase(d, "switchable", tiledFeedrate)
	grid := calibration.WideAngleGridTiled
	if b.info.IsHexaRF() {
		grid = calibration.WideAngleGridRF
	}
	s := &Switchable{
		Base: b,
		head: newTiled(b),
		wide: newWideAngle(b, BlobWideAngleParams, grid),
		mode: ModeRegion,
	}
	b.abort = s.End
	return s
}

func (s *Switchable) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *Switchable) Switchable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasWide
}

func (s *Switchable) setMode(m Mode) {
	s.mu.Lock()
	s.mode = m
	s.mu.Unlock()
}

// Setup starts in full-area mode when the lid camera is calibrated, region
// mode otherwise.
func (s *Switchable) Setup(ctx context.Context) (bool, error) {
	defer s.Notifier.Done()
	s.Notifier.Progress(fmt.Sprintf("Connecting to %s...", s.info.Name))
	if err := s.setup(ctx); err != nil {
		s.setupFailed(ctx, err, s.End)
		return false, nil
	}
	return true, nil
}

func (s *Switchable) setup(ctx context.Context) error {
	if err := s.Machine.ConnectCamera(ctx); err != nil {
		return err
	}
	s.detectWideAngle(ctx)
	if s.Switchable() && s.wide.calibrated() {
		s.setMode(ModeFullArea)
		return s.setupWide(ctx)
	}
	s.setMode(ModeRegion)
	return s.head.setupHead(ctx)
}

// detectWideAngle checks for the lid camera and its calibration. Neither is
// required; without them only region mode is available.
func (s *Switchable) detectWideAngle(ctx context.Context) {
	n, err := s.Machine.CameraCount(ctx)
	if err != nil {
		s.logf("failed to count cameras: %v", err)
		return
	}
	s.mu.Lock()
	s.hasWide = n > wideCamera
	s.mu.Unlock()
	if n <= wideCamera {
		return
	}
	params, err := s.fetchBlob(ctx, BlobWideAngleParams)
	if err != nil {
		s.logf("wide angle camera is not calibrated: %v", err)
		return
	}
	s.wide.setParams(params)
}

func (s *Switchable) setupWide(ctx context.Context) error {
	if err := s.Machine.SelectCamera(ctx, wideCamera); err != nil {
		return fmt.Errorf("unable to connect to wide angle camera: %w", err)
	}
	return s.wide.setupCamera(ctx)
}

// SwitchMode changes camera. Leaving full-area flattens the partial
// composite so head tiles are not painted under a stale frame.
func (s *Switchable) SwitchMode(ctx context.Context, m Mode) (Mode, error) {
	cur := s.Mode()
	if cur == m {
		return cur, nil
	}
	if m == ModeFullArea && (!s.Switchable() || !s.wide.calibrated()) {
		s.Notifier.Error(ErrorNotCalibrated, ErrNotCalibrated)
		return cur, nil
	}

	s.Notifier.Progress("Switching camera...")
	defer s.Notifier.Done()

	var err error
	if cur == ModeRegion {
		s.endHead(ctx, false)
	}
	if m == ModeRegion {
		s.Canvas.Flatten()
		if serr := s.Machine.SelectCamera(ctx, headCamera); serr != nil {
			s.logf("failed to select head camera: %v", serr)
		}
		err = s.head.setupHead(ctx)
	} else {
		err = s.setupWide(ctx)
	}
	if err != nil {
		s.setupFailed(ctx, err, s.End)
		return cur, fmt.Errorf("%w: %w", ErrSwitchFailed, err)
	}
	s.setMode(m)
	s.logf("switched to %s mode", m)
	return m, nil
}

func (s *Switchable) PreviewPoint(ctx context.Context, p tiling.Point) (bool, error) {
	if s.Mode() == ModeFullArea {
		return s.wide.PreviewFullArea(ctx)
	}
	return s.head.PreviewPoint(ctx, p)
}

func (s *Switchable) PreviewRegion(ctx context.Context, r tiling.Rect) (bool, error) {
	if s.Mode() == ModeFullArea {
		return s.wide.PreviewFullArea(ctx)
	}
	return s.head.PreviewRegion(ctx, r)
}

// PlanRegion is the head camera's plan; full-area mode has none.
func (s *Switchable) PlanRegion(r tiling.Rect) (Plan, error) {
	if s.Mode() == ModeFullArea {
		return Plan{}, ErrNoPlan
	}
	return s.head.PlanRegion(r)
}

// PreviewFullArea captures with the lid camera; in region mode it does
// nothing.
func (s *Switchable) PreviewFullArea(ctx context.Context) (bool, error) {
	if s.Mode() != ModeFullArea {
		return false, nil
	}
	return s.wide.PreviewFullArea(ctx)
}

func (s *Switchable) ResetObjectHeight(ctx context.Context) (bool, error) {
	if s.Mode() != ModeFullArea {
		return false, nil
	}
	return s.wide.ResetObjectHeight(ctx)
}

func (s *Switchable) ReloadLevelingOffset(ctx context.Context) error {
	if s.Mode() != ModeFullArea {
		return nil
	}
	return s.wide.ReloadLevelingOffset(ctx)
}

func (s *Switchable) ObjectHeight() (float64, bool) { return s.wide.ObjectHeight() }

func (s *Switchable) End(ctx context.Context) {
	if !s.markEnded() {
		return
	}
	s.Notifier.Done()
	if s.Mode() == ModeRegion {
		s.endHead(ctx, true)
		return
	}
	s.wide.teardown(ctx)
}

var (
	_ Strategy          = (*Switchable)(nil)
	_ ModeSwitcher      = (*Switchable)(nil)
	_ FullAreaPreviewer = (*Switchable)(nil)
	_ HeightResetter    = (*Switchable)(nil)
	_ LevelingReloader  = (*Switchable)(nil)
	_ HeightReporter    = (*Switchable)(nil)
	_ RegionPlanner     = (*Switchable)(nil)
)
