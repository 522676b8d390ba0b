package publishers

import (
	"time"

	"github.com/samvad-hq/fetchstate/internal/domain"
)

// Event represents the payload published downstream.
type Event struct {
	TargetID    string            `json:"target_id"`
	TargetName  string            `json:"target_name"`
	Settlement  domain.Settlement `json:"settlement"`
	PublishedAt time.Time         `json:"published_at"`
}

// NewEvent constructs an Event for the given target settlement.
func NewEvent(targetName string, s domain.Settlement) Event {
	return Event{
		TargetID:    s.TargetID,
		TargetName:  targetName,
		Settlement:  s,
		PublishedAt: time.Now().UTC(),
	}
}
