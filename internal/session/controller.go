// Package session owns the preview lifecycle for one design-tool connection:
// which machine is previewing, which capture strategy drives it, and which
// capture (if any) currently holds the camera.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/camera.preview/internal/config"
	"github.com/banshee-data/camera.preview/internal/db"
	"github.com/banshee-data/camera.preview/internal/device"
	"github.com/banshee-data/camera.preview/internal/monitoring"
	"github.com/banshee-data/camera.preview/internal/preview"
	"github.com/banshee-data/camera.preview/internal/tiling"
	"github.com/banshee-data/camera.preview/internal/timeutil"
)

// State is the controller's lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateActive   State = "active"
	StateDrawing  State = "drawing"
	StateEnding   State = "ending"
)

var (
	ErrNotActive    = errors.New("preview is not active")
	ErrBusy         = errors.New("a capture is already in progress")
	ErrNotSupported = errors.New("not supported by this camera")
)

// Factory builds the strategy for a connected machine.
type Factory func(ctx context.Context, d preview.Deps) (preview.Strategy, error)

// SessionLog records session lifetimes. *db.DB implements it.
type SessionLog interface {
	RecordSessionStart(ctx context.Context, r db.SessionRecord) error
	RecordSessionEnd(ctx context.Context, id string, endedAt time.Time, captures int) error
}

// Options are the controller's collaborators. Connector is required; the
// rest default to preview.New, no-op notifier, default config and the real
// clock. Canvas must be set for captures to land anywhere.
type Options struct {
	Connector device.Connector
	Factory   Factory
	Canvas    preview.Compositor
	Notifier  preview.Notifier
	Store     preview.Store
	Config    *config.PreviewConfig
	Clock     timeutil.Clock
	Log       SessionLog
}

// Controller is the preview session state machine:
//
//	Idle -> Starting -> Active <-> Drawing -> Ending -> Idle
//
// Starting falls back to Idle when setup fails. At most one Start and one
// capture run at a time.
type Controller struct {
	opts Options
	logf func(format string, v ...interface{})

	mu        sync.Mutex
	state     State
	info      device.Info
	strategy  preview.Strategy
	sessionID string
	startedAt time.Time
	captures  int
	blocked   bool
	starting  chan struct{}
	teardown  chan struct{}
	live      *liveTask
	observers []Observer
}

func NewController(opts Options) *Controller {
	if opts.Factory == nil {
		opts.Factory = preview.New
	}
	if opts.Notifier == nil {
		opts.Notifier = preview.NopNotifier{}
	}
	if opts.Config == nil {
		opts.Config = config.EmptyPreviewConfig()
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	return &Controller{
		opts:  opts,
		logf:  monitoring.Tagged("session"),
		state: StateIdle,
	}
}

// session is a detached strategy on its way out.
type session struct {
	id        string
	info      device.Info
	strategy  preview.Strategy
	live      *liveTask
	captures  int
	startedAt time.Time
}

// detach takes the current strategy out of the controller. c.mu must be
// held.
func (c *Controller) detach() *session {
	if c.strategy == nil {
		return nil
	}
	s := &session{
		id:        c.sessionID,
		info:      c.info,
		strategy:  c.strategy,
		live:      c.live,
		captures:  c.captures,
		startedAt: c.startedAt,
	}
	c.strategy = nil
	c.sessionID = ""
	c.live = nil
	c.blocked = false
	c.captures = 0
	return s
}

// close stops the live loop and ends the strategy. Without wait the
// strategy ends in the background; Start waits for it before connecting
// again.
func (c *Controller) close(ctx context.Context, s *session, wait bool) {
	if s.live != nil {
		s.live.stop(ctx)
	}
	end := func(ctx context.Context) {
		s.strategy.End(ctx)
		c.logf("session %s ended after %d captures", s.id, s.captures)
		if c.opts.Log == nil {
			return
		}
		if err := c.opts.Log.RecordSessionEnd(ctx, s.id, c.opts.Clock.Now(), s.captures); err != nil {
			c.logf("failed to record end of session %s: %v", s.id, err)
		}
	}
	ctx = context.WithoutCancel(ctx)
	if wait {
		end(ctx)
		return
	}
	done := make(chan struct{})
	c.mu.Lock()
	prev := c.teardown
	c.teardown = done
	c.mu.Unlock()
	go func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		end(ctx)
	}()
}

// awaitTeardown waits for background strategy ends to finish.
func (c *Controller) awaitTeardown(ctx context.Context) error {
	c.mu.Lock()
	pending := c.teardown
	c.mu.Unlock()
	if pending == nil {
		return nil
	}
	select {
	case <-pending:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start begins previewing info's machine. It returns false without doing
// anything while another Start is in flight. A session on a different
// machine is ended first; an active session on the same machine is kept.
func (c *Controller) Start(ctx context.Context, info device.Info) (bool, error) {
	c.mu.Lock()
	if c.state == StateStarting {
		c.mu.Unlock()
		c.logf("start for %s ignored: another start is in progress", info.Serial)
		return false, nil
	}
	if c.strategy != nil && c.info.SameMachine(info) && c.state != StateEnding {
		c.mu.Unlock()
		return true, nil
	}
	old := c.detach()
	done := make(chan struct{})
	c.starting = done
	c.state = StateStarting
	c.mu.Unlock()
	c.notify()

	defer close(done)

	if err := c.awaitTeardown(ctx); err != nil {
		c.setState(StateIdle)
		return false, err
	}
	if old != nil {
		c.close(ctx, old, true)
		if c.opts.Canvas != nil && !old.info.SameMachine(info) {
			c.opts.Canvas.Clear()
		}
	}

	s, err := c.setup(ctx, info)
	if s == nil {
		c.setState(StateIdle)
		return false, err
	}

	id := uuid.NewString()
	now := c.opts.Clock.Now()
	c.mu.Lock()
	c.state = StateActive
	c.info = info
	c.strategy = s
	c.sessionID = id
	c.startedAt = now
	c.captures = 0
	c.mu.Unlock()

	c.logf("session %s started on %s (%s, %s)", id, info.Serial, info.Model, strategyName(s))
	if c.opts.Log != nil {
		rec := db.SessionRecord{
			ID:        id,
			Serial:    info.Serial,
			Model:     info.Model,
			Strategy:  strategyName(s),
			StartedAt: now,
		}
		if err := c.opts.Log.RecordSessionStart(ctx, rec); err != nil {
			c.logf("failed to record session start: %v", err)
		}
	}
	c.notify()
	return true, nil
}

// setup connects, builds and sets up the strategy. A nil strategy means
// start failed; setup failures the strategy reported itself come back with
// a nil error.
func (c *Controller) setup(ctx context.Context, info device.Info) (preview.Strategy, error) {
	m, err := c.opts.Connector.Connect(ctx, info)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", info.Serial, err)
	}
	s, err := c.opts.Factory(ctx, preview.Deps{
		Machine:  m,
		Canvas:   c.opts.Canvas,
		Notifier: c.opts.Notifier,
		Store:    c.opts.Store,
		Config:   c.opts.Config,
		Clock:    c.opts.Clock,
	})
	if err != nil {
		if kerr := m.Kick(context.WithoutCancel(ctx)); kerr != nil {
			c.logf("failed to release %s: %v", info.Serial, kerr)
		}
		return nil, err
	}
	ok, err := s.Setup(ctx)
	if err != nil {
		s.End(ctx)
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return s, nil
}

// End stops the session. It waits for an in-flight Start first and, when
// wait is set, for the strategy to restore the machine. Safe to call when
// idle.
func (c *Controller) End(ctx context.Context, wait bool) {
	c.mu.Lock()
	starting := c.starting
	c.mu.Unlock()
	if starting != nil {
		select {
		case <-starting:
		case <-ctx.Done():
			return
		}
	}

	c.mu.Lock()
	if c.strategy == nil || c.state == StateEnding {
		c.mu.Unlock()
		return
	}
	c.state = StateEnding
	old := c.detach()
	c.mu.Unlock()
	c.notify()

	c.close(ctx, old, wait)

	c.mu.Lock()
	// A Start may already have begun.
	if c.state == StateEnding {
		c.state = StateIdle
	}
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.notify()
}

// prePreview claims the camera for one capture.
func (c *Controller) prePreview() (preview.Strategy, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.strategy == nil || c.state == StateStarting || c.state == StateEnding:
		return nil, "", ErrNotActive
	case c.blocked:
		return nil, "", ErrBusy
	}
	c.blocked = true
	c.state = StateDrawing
	return c.strategy, c.sessionID, nil
}

// release gives the camera back after a capture of session id.
func (c *Controller) release(id string, captured bool) {
	c.mu.Lock()
	if id == c.sessionID {
		c.blocked = false
		if c.state == StateDrawing {
			c.state = StateActive
		}
		if captured {
			c.captures++
		}
	}
	c.mu.Unlock()
}

// onFail reports err and ends the session it happened in, unless that
// session is already gone.
func (c *Controller) onFail(ctx context.Context, id string, err error) {
	c.mu.Lock()
	current := id == c.sessionID
	c.mu.Unlock()
	c.release(id, false)

	c.logf("capture failed: %v", err)
	if !current {
		return
	}
	kind := preview.ErrorCaptureFailure
	if errors.Is(err, device.ErrCameraLink) {
		kind = preview.ErrorCameraLink
	}
	c.opts.Notifier.Error(kind, err)
	c.End(ctx, false)
}

type ender interface{ Ended() bool }

// capture runs one capture under the camera claim. A strategy that ended
// itself, e.g. on an aborted cable warning, takes the session with it.
func (c *Controller) capture(ctx context.Context, run func(context.Context, preview.Strategy) (bool, error)) (bool, error) {
	s, id, err := c.prePreview()
	if err != nil {
		return false, err
	}
	c.notify()

	ok, err := run(ctx, s)
	if errors.Is(err, tiling.ErrOutsideBounds) {
		// Nothing was attempted.
		c.release(id, false)
		c.notify()
		return false, err
	}
	if err != nil {
		if ctx.Err() != nil {
			// Cancelled by the caller, not a device fault.
			c.release(id, false)
			c.notify()
			return false, err
		}
		c.onFail(ctx, id, err)
		return false, err
	}
	c.release(id, ok)
	if e, isEnder := s.(ender); isEnder && e.Ended() {
		c.End(ctx, false)
	}
	c.notify()
	return ok, nil
}

// CapturePoint captures one frame centred on p (mm).
func (c *Controller) CapturePoint(ctx context.Context, p tiling.Point) (bool, error) {
	return c.capture(ctx, func(ctx context.Context, s preview.Strategy) (bool, error) {
		return s.PreviewPoint(ctx, p)
	})
}

// CaptureRegion covers r (mm) with tiles.
func (c *Controller) CaptureRegion(ctx context.Context, r tiling.Rect) (bool, error) {
	return c.capture(ctx, func(ctx context.Context, s preview.Strategy) (bool, error) {
		return s.PreviewRegion(ctx, r)
	})
}

// CaptureFullArea captures the whole workarea in one frame.
func (c *Controller) CaptureFullArea(ctx context.Context) (bool, error) {
	if err := c.supports(canCaptureFullArea); err != nil {
		return false, err
	}
	return c.capture(ctx, func(ctx context.Context, s preview.Strategy) (bool, error) {
		fa, ok := s.(preview.FullAreaPreviewer)
		if !ok {
			return false, nil
		}
		return fa.PreviewFullArea(ctx)
	})
}

func (c *Controller) current() preview.Strategy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.strategy
}

// supports checks the current strategy against has.
func (c *Controller) supports(has func(preview.Strategy) bool) error {
	s := c.current()
	switch {
	case s == nil:
		return ErrNotActive
	case !has(s):
		return ErrNotSupported
	}
	return nil
}

func canCaptureFullArea(s preview.Strategy) bool {
	_, ok := s.(preview.FullAreaPreviewer)
	return ok
}

func canSwitch(s preview.Strategy) bool {
	_, ok := s.(preview.ModeSwitcher)
	return ok
}

func canResetHeight(s preview.Strategy) bool {
	_, ok := s.(preview.HeightResetter)
	return ok
}

// exclusive runs fn under the camera claim without capture bookkeeping.
func (c *Controller) exclusive(fn func(preview.Strategy)) error {
	s, id, err := c.prePreview()
	if err != nil {
		return err
	}
	c.notify()
	fn(s)
	c.release(id, false)
	c.notify()
	return nil
}

// SwitchMode changes camera on dual-camera machines. A failed switch has
// already been reported by the strategy and ends the session.
func (c *Controller) SwitchMode(ctx context.Context, m preview.Mode) (preview.Mode, error) {
	if err := c.supports(canSwitch); err != nil {
		return "", err
	}
	var (
		got preview.Mode
		err error
	)
	if xerr := c.exclusive(func(s preview.Strategy) {
		got, err = s.(preview.ModeSwitcher).SwitchMode(ctx, m)
	}); xerr != nil {
		return "", xerr
	}
	if errors.Is(err, preview.ErrSwitchFailed) {
		c.End(ctx, false)
	}
	return got, err
}

// ResetObjectHeight re-measures the object height. When it changed and
// something is already drawn, the full area is captured again.
func (c *Controller) ResetObjectHeight(ctx context.Context) (bool, error) {
	if err := c.supports(canResetHeight); err != nil {
		return false, err
	}
	var (
		ok  bool
		err error
	)
	if xerr := c.exclusive(func(s preview.Strategy) {
		ok, err = s.(preview.HeightResetter).ResetObjectHeight(ctx)
	}); xerr != nil {
		return false, xerr
	}
	if err != nil || !ok {
		return ok, err
	}
	if c.opts.Canvas != nil && !c.opts.Canvas.IsClean() {
		if _, err := c.CaptureFullArea(ctx); err != nil && !errors.Is(err, ErrNotSupported) {
			return true, err
		}
	}
	return true, nil
}

// ReloadLevelingOffset re-reads the leveling offset and re-applies
// correction, where the strategy has one.
func (c *Controller) ReloadLevelingOffset(ctx context.Context) error {
	r, ok := c.current().(preview.LevelingReloader)
	if !ok {
		return nil
	}
	return r.ReloadLevelingOffset(ctx)
}

// RequestStop halts a running region capture after its current tile.
func (c *Controller) RequestStop() {
	if s := c.current(); s != nil {
		s.RequestStop()
	}
}

// PlanRegion returns the tiles a region capture of r would take, without
// moving anything.
func (c *Controller) PlanRegion(r tiling.Rect) (preview.Plan, error) {
	s := c.current()
	if s == nil {
		return preview.Plan{}, ErrNotActive
	}
	p, ok := s.(preview.RegionPlanner)
	if !ok {
		return preview.Plan{}, ErrNotSupported
	}
	return p.PlanRegion(r)
}

// CameraOffset is the fixed camera's mounting, if the machine has one.
func (c *Controller) CameraOffset() (preview.CameraOffset, bool) {
	co, ok := c.current().(preview.CameraOffsetter)
	if !ok {
		return preview.CameraOffset{}, false
	}
	return co.CameraOffset(), true
}

func strategyName(s preview.Strategy) string {
	switch s.(type) {
	case *preview.Fixed:
		return "fixed"
	case *preview.Tiled:
		return "tiled"
	case *preview.WideAngle:
		return "wide-angle"
	case *preview.Switchable:
		return "switchable"
	}
	return fmt.Sprintf("%T", s)
}
