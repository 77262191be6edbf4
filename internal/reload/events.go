package reload

import "time"

// Event topics published by the reload plugin.
const (
	TopicFileChanged      = "reload.file.changed"
	TopicRestartRequested = "reload.restart.requested"
	TopicTargetRemoved    = "reload.target.removed"
)

// RestartRequest is the payload for TopicRestartRequested events.
type RestartRequest struct {
	ID          string    `json:"id"`
	Signal      string    `json:"signal"`
	Path        string    `json:"path"`
	Coalesced   int       `json:"coalesced,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// TargetRemovedEvent is the payload for TopicTargetRemoved events.
type TargetRemovedEvent struct {
	Path string `json:"path"`
}
