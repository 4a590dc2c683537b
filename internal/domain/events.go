package domain

// EventType identifies a state-changed notification pushed to subscribers.
type EventType string

const (
	EventSessionUpdated  EventType = "session_updated"
	EventSessionEnded    EventType = "session_ended"
	EventPresenceUpdated EventType = "presence_updated"
)

// Event decouples the core from any rendering concern: transports forward
// these verbatim and decide how to redraw.
type Event struct {
	Type      EventType                 `json:"type"`
	SessionID string                    `json:"session_id"`
	Session   *Session                  `json:"session,omitempty"`
	Presence  map[string]PresenceRecord `json:"presence,omitempty"`
}
