package serialmux

import "strings"

const (
	EventTypeReply   = "reply"
	EventTypeFrame   = "frame"
	EventTypeMessage = "message"
)

// ClassifyPayload inspects a line from the machine. Every JSON object carrying
// a status is the reply to the current request; frames are replies too but
// are reported separately so they can be elided in logs.
func ClassifyPayload(payload string) string {
	p := strings.TrimSpace(payload)
	if !strings.HasPrefix(p, "{") || !strings.Contains(p, `"status"`) {
		return EventTypeMessage
	}
	if strings.Contains(p, `"image"`) {
		return EventTypeFrame
	}
	return EventTypeReply
}

const elideAfter = 256

// ElidePayload shortens long lines for display.
func ElidePayload(payload string) string {
	if len(payload) <= elideAfter {
		return payload
	}
	return payload[:elideAfter] + "…"
}
