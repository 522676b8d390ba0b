package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Settlement is the outcome of one settled fetch attempt for a watched target.
type Settlement struct {
	ID        string          `json:"id"`
	TargetID  string          `json:"target_id"`
	URL       string          `json:"url"`
	Method    string          `json:"method"`
	Attempt   uint64          `json:"attempt"`
	Status    string          `json:"status"`
	Failure   string          `json:"failure,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	SettledAt time.Time       `json:"settled_at"`
}

// NewSettlement stamps a settlement with a fresh id and the current time.
func NewSettlement(targetID, url, method string, attempt uint64) Settlement {
	return Settlement{
		ID:        uuid.NewString(),
		TargetID:  targetID,
		URL:       url,
		Method:    method,
		Attempt:   attempt,
		SettledAt: time.Now().UTC(),
	}
}
