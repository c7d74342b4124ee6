package session

import (
	"context"
	"errors"
)

// liveTask is a running live loop. cancel stops the loop between ticks;
// abort also cancels a tick in flight.
type liveTask struct {
	cancel context.CancelFunc
	abort  context.CancelFunc
	done   chan struct{}
}

type liveKey struct{}

// onLoop reports whether ctx belongs to a tick of t.
func (t *liveTask) onLoop(ctx context.Context) bool {
	return ctx.Value(liveKey{}) == t
}

// stop cancels the loop and any tick in flight, then waits for the loop to
// exit. Called from the loop's own tick it only cancels.
func (t *liveTask) stop(ctx context.Context) {
	t.cancel()
	t.abort()
	if t.onLoop(ctx) {
		return
	}
	<-t.done
}

// ToggleLiveFullArea starts or stops periodic full-area recapture and
// reports whether live mode is now on. It only starts on an active session
// whose strategy can capture the full area. Turning it off lets a tick in
// flight finish.
func (c *Controller) ToggleLiveFullArea() bool {
	c.mu.Lock()
	if t := c.live; t != nil {
		c.live = nil
		c.mu.Unlock()
		t.cancel()
		c.logf("live full-area preview off")
		c.notify()
		return false
	}
	if !canCaptureFullArea(c.strategy) || (c.state != StateActive && c.state != StateDrawing) {
		c.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &liveTask{cancel: cancel, done: make(chan struct{})}
	tickCtx, abort := context.WithCancel(context.WithValue(context.Background(), liveKey{}, t))
	t.abort = abort
	c.live = t
	id := c.sessionID
	c.mu.Unlock()

	go c.runLive(ctx, tickCtx, t, id)
	c.logf("live full-area preview on")
	c.notify()
	return true
}

// IsLive reports whether live mode is on.
func (c *Controller) IsLive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live != nil
}

// liveEnabled reports whether t is still the live task of session id.
func (c *Controller) liveEnabled(t *liveTask, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live == t && c.sessionID == id && (c.state == StateActive || c.state == StateDrawing)
}

// runLive reloads the leveling offset and recaptures the full area every
// live interval. The timer is re-armed only after a tick finishes, and
// only while live mode is still on for the same session. Ticks run under
// tickCtx so turning live mode off does not cut one short.
func (c *Controller) runLive(ctx, tickCtx context.Context, t *liveTask, id string) {
	defer close(t.done)
	defer t.abort()
	defer t.cancel()
	interval := c.opts.Config.GetLiveInterval()
	for {
		timer := c.opts.Clock.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C():
		}
		if !c.liveEnabled(t, id) {
			return
		}
		if err := c.ReloadLevelingOffset(tickCtx); err != nil {
			c.logf("live: failed to reload leveling offset: %v", err)
		}
		if _, err := c.CaptureFullArea(tickCtx); err != nil && !errors.Is(err, ErrBusy) {
			// Either the session ended or the tick was aborted.
			return
		}
	}
}
