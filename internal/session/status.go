package session

import (
	"time"

	"github.com/banshee-data/camera.preview/internal/device"
	"github.com/banshee-data/camera.preview/internal/preview"
)

// Status is a snapshot of the controller for clients.
type Status struct {
	SessionID    string       `json:"session_id,omitempty"`
	State        State        `json:"state"`
	Device       *device.Info `json:"device,omitempty"`
	Strategy     string       `json:"strategy,omitempty"`
	Mode         preview.Mode `json:"mode,omitempty"`
	Switchable   bool         `json:"switchable"`
	Live         bool         `json:"live"`
	Capturing    bool         `json:"capturing"`
	Captures     int          `json:"captures"`
	ObjectHeight *float64     `json:"object_height,omitempty"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
}

// Observer is told about every state change.
type Observer interface {
	SessionChanged(Status)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Status)

func (f ObserverFunc) SessionChanged(s Status) { f(s) }

// AddObserver registers o. Observers are called synchronously, outside the
// controller lock, and must not block.
func (c *Controller) AddObserver(o Observer) {
	c.mu.Lock()
	c.observers = append(c.observers, o)
	c.mu.Unlock()
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status()
}

// status builds the snapshot. c.mu must be held.
func (c *Controller) status() Status {
	st := Status{
		State:     c.state,
		Live:      c.live != nil,
		Capturing: c.blocked,
	}
	if c.strategy == nil {
		return st
	}
	info := c.info
	started := c.startedAt
	st.SessionID = c.sessionID
	st.Device = &info
	st.Strategy = strategyName(c.strategy)
	st.Mode = preview.CurrentMode(c.strategy)
	st.Switchable = preview.IsSwitchable(c.strategy)
	st.Captures = c.captures
	st.StartedAt = &started
	if hr, ok := c.strategy.(preview.HeightReporter); ok {
		if h, ok := hr.ObjectHeight(); ok {
			st.ObjectHeight = &h
		}
	}
	return st
}

func (c *Controller) notify() {
	c.mu.Lock()
	if len(c.observers) == 0 {
		c.mu.Unlock()
		return
	}
	st := c.status()
	obs := append([]Observer(nil), c.observers...)
	c.mu.Unlock()
	for _, o := range obs {
		o.SessionChanged(st)
	}
}
