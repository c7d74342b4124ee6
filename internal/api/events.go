package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/camera.preview/internal/monitoring"
	"github.com/banshee-data/camera.preview/internal/preview"
	"github.com/banshee-data/camera.preview/internal/session"
	"github.com/banshee-data/camera.preview/internal/timeutil"
)

// Event types pushed to clients.
const (
	EventStatus   = "status"
	EventProgress = "progress"
	EventDone     = "done"
	EventError    = "error"
	EventPrompt   = "prompt"
	EventAnswered = "answered"
)

// Prompt kinds.
const (
	PromptUnstableCable = "unstable_cable"
	PromptObjectHeight  = "object_height"
)

const subscriberBuffer = 32

var (
	ErrUnknownPrompt = errors.New("no such prompt")
	ErrHubClosed     = errors.New("event hub closed")
)

// Event is one message on the event stream.
type Event struct {
	ID   string      `json:"id"`
	Type string      `json:"type"`
	Time time.Time   `json:"time"`
	Data interface{} `json:"data,omitempty"`
}

// ErrorEvent is the payload of an error event.
type ErrorEvent struct {
	Kind    preview.ErrorKind `json:"kind"`
	Message string            `json:"message"`
}

// PromptEvent asks the user a question. Answer it with Hub.Answer.
type PromptEvent struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
	// Current is the height in effect, for object height prompts.
	Current *float64 `json:"current,omitempty"`
}

// Answer is a user's reply to a prompt. Cancel dismisses any prompt.
type Answer struct {
	Cancel       bool     `json:"cancel"`
	Continue     bool     `json:"continue"`
	DontAskAgain bool     `json:"dont_ask_again"`
	Height       *float64 `json:"height,omitempty"`
}

type pendingPrompt struct {
	kind   string
	answer chan Answer
}

// Hub fans session events out to every connected client and parks prompts
// until a client answers them. It is the preview Notifier and a session
// Observer.
//
// Slow subscribers miss events rather than stall the preview: each has a
// buffered channel and sends never block.
type Hub struct {
	clock timeutil.Clock
	logf  func(string, ...interface{})

	mu          sync.RWMutex
	subscribers map[string]chan Event
	closed      bool

	promptMu sync.Mutex
	prompts  map[string]*pendingPrompt
}

func NewHub(clock timeutil.Clock) *Hub {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Hub{
		clock:       clock,
		logf:        monitoring.Tagged("events"),
		subscribers: make(map[string]chan Event),
		prompts:     make(map[string]*pendingPrompt),
	}
}

// Subscribe registers a client. A closed hub returns a closed channel.
func (h *Hub) Subscribe() (string, <-chan Event) {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return "", ch
	}
	id := uuid.NewString()
	h.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a client and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}

// Subscribers is the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

func (h *Hub) publish(typ string, data interface{}) {
	ev := Event{ID: uuid.NewString(), Type: typ, Time: h.clock.Now(), Data: data}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			h.logf("subscriber %s is full, dropping %s event", id, typ)
		}
	}
}

// Close cancels pending prompts and closes every subscriber channel.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
	h.mu.Unlock()

	h.promptMu.Lock()
	for id, p := range h.prompts {
		p.answer <- Answer{Cancel: true}
		delete(h.prompts, id)
	}
	h.promptMu.Unlock()
}

func (h *Hub) SessionChanged(st session.Status) { h.publish(EventStatus, st) }

func (h *Hub) Progress(msg string) {
	h.publish(EventProgress, map[string]string{"message": msg})
}

func (h *Hub) Done() { h.publish(EventDone, nil) }

func (h *Hub) Error(kind preview.ErrorKind, err error) {
	h.logf("%s: %v", kind, err)
	h.publish(EventError, ErrorEvent{Kind: kind, Message: err.Error()})
}

// ask publishes a prompt and waits for its answer.
func (h *Hub) ask(ctx context.Context, ev PromptEvent) (Answer, error) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		return Answer{}, ErrHubClosed
	}

	ev.ID = uuid.NewString()
	p := &pendingPrompt{kind: ev.Kind, answer: make(chan Answer, 1)}
	h.promptMu.Lock()
	h.prompts[ev.ID] = p
	h.promptMu.Unlock()
	defer func() {
		h.promptMu.Lock()
		delete(h.prompts, ev.ID)
		h.promptMu.Unlock()
	}()

	h.publish(EventPrompt, ev)
	select {
	case a := <-p.answer:
		h.publish(EventAnswered, map[string]string{"id": ev.ID})
		return a, nil
	case <-ctx.Done():
		return Answer{}, ctx.Err()
	}
}

// Answer delivers a reply to prompt id.
func (h *Hub) Answer(id string, a Answer) error {
	h.promptMu.Lock()
	defer h.promptMu.Unlock()
	p, ok := h.prompts[id]
	if !ok {
		return ErrUnknownPrompt
	}
	if p.kind == PromptObjectHeight && !a.Cancel && a.Height == nil {
		return fmt.Errorf("height is required for %s prompts", p.kind)
	}
	delete(h.prompts, id)
	p.answer <- a
	return nil
}

func (h *Hub) ConfirmUnstableCable(ctx context.Context) (preview.CableDecision, error) {
	a, err := h.ask(ctx, PromptEvent{Kind: PromptUnstableCable})
	if err != nil {
		return preview.CableDecision{}, err
	}
	if a.Cancel {
		return preview.CableDecision{}, nil
	}
	return preview.CableDecision{Continue: a.Continue, DontAskAgain: a.DontAskAgain}, nil
}

func (h *Hub) PromptObjectHeight(ctx context.Context, current float64, hasCurrent bool) (float64, bool, error) {
	ev := PromptEvent{Kind: PromptObjectHeight}
	if hasCurrent {
		ev.Current = &current
	}
	a, err := h.ask(ctx, ev)
	if err != nil {
		return 0, false, err
	}
	if a.Cancel || a.Height == nil {
		return 0, false, nil
	}
	return *a.Height, true, nil
}

var (
	_ preview.Notifier = (*Hub)(nil)
	_ session.Observer = (*Hub)(nil)
)
