package eventbus

import (
	"time"

	"github.com/google/uuid"
)

// AssessmentCompletedEvent is published after every persisted risk assessment.
type AssessmentCompletedEvent struct {
	AssessmentID uuid.UUID `json:"assessment_id"`
	UserID       uuid.UUID `json:"user_id"`
	Score        float64   `json:"score"`
	Decision     string    `json:"decision"`
	Degraded     bool      `json:"degraded"`
	CreatedAt    time.Time `json:"created_at"`
}

// AlertCreatedEvent is published when a fraud alert is raised,
// automatically or manually.
type AlertCreatedEvent struct {
	AlertID      uuid.UUID  `json:"alert_id"`
	UserID       *uuid.UUID `json:"user_id,omitempty"`
	AssessmentID *uuid.UUID `json:"assessment_id,omitempty"`
	Severity     string     `json:"severity"`
	AlertType    string     `json:"alert_type"`
	CreatedAt    time.Time  `json:"created_at"`
}

// AlertUpdatedEvent is published on every alert status transition.
type AlertUpdatedEvent struct {
	AlertID   uuid.UUID `json:"alert_id"`
	Status    string    `json:"status"`
	ActorID   uuid.UUID `json:"actor_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserBlockedEvent is published when an assessment decision is BLOCK.
type UserBlockedEvent struct {
	UserID       uuid.UUID `json:"user_id"`
	AssessmentID uuid.UUID `json:"assessment_id"`
	Score        float64   `json:"score"`
	CreatedAt    time.Time `json:"created_at"`
}
