package notifications

import (
	"time"

	"coldfront/internal/models"

	"github.com/google/uuid"
)

// EventType names a storage request lifecycle event.
type EventType string

const (
	EventRequestCreated   EventType = "request_created"
	EventRequestDenied    EventType = "request_denied"
	EventRequestCompleted EventType = "request_completed"
)

// Event is the JSON document published for a downstream mailer and the
// websocket feed.
type Event struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	RequestID   uint           `json:"request_id"`
	ProjectID   uint           `json:"project_id"`
	ProjectName string         `json:"project_name,omitempty"`
	Status      string         `json:"status"`
	Recipients  []uint         `json:"recipients,omitempty"`
	Emails      []string       `json:"emails,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// NewEvent builds an event for r addressed to its requester and PI.
func NewEvent(t EventType, r *models.StorageRequest) Event {
	e := Event{
		ID:         uuid.NewString(),
		Type:       t,
		RequestID:  r.ID,
		ProjectID:  r.ProjectID,
		Status:     string(r.Status),
		Recipients: recipients(r.RequesterID, r.PIID),
		OccurredAt: time.Now().UTC(),
	}
	if r.Project != nil {
		e.ProjectName = r.Project.Name
	}
	return e
}

func recipients(ids ...uint) []uint {
	out := make([]uint, 0, len(ids))
	seen := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
