package fraud

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cartvale/fraud-engine/pkg/common"
	"github.com/cartvale/fraud-engine/pkg/eventbus"
	"github.com/cartvale/fraud-engine/pkg/logger"
)

// allowedTransitions encodes the alert workflow. Closed is terminal.
var allowedTransitions = map[AlertStatus][]AlertStatus{
	AlertStatusOpen:       {AlertStatusInProgress, AlertStatusClosed},
	AlertStatusInProgress: {AlertStatusResolved, AlertStatusOpen},
	AlertStatusResolved:   {AlertStatusClosed},
	AlertStatusClosed:     {},
}

// TransitionAllowed reports whether an alert may move from one status to
// another.
func TransitionAllowed(from, to AlertStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AlertUpdate is a partial update applied to an alert. Nil fields are
// left untouched.
type AlertUpdate struct {
	Status     *AlertStatus `json:"status,omitempty"`
	AssignedTo *uuid.UUID   `json:"assigned_to,omitempty"`
	Resolution *string      `json:"resolution,omitempty"`
	Notes      *string      `json:"notes,omitempty"`
}

// AlertManager owns the alert lifecycle: creation, assignment and status
// transitions, with every change published to the event bus.
type AlertManager struct {
	repo   AlertStore
	events EventPublisher
}

// NewAlertManager creates an alert manager. events may be nil when the
// bus is disabled.
func NewAlertManager(repo AlertStore, events EventPublisher) *AlertManager {
	return &AlertManager{repo: repo, events: events}
}

// Create persists a new alert in the open state and publishes
// fraud.alert.created.
func (m *AlertManager) Create(ctx context.Context, alert *FraudAlert) (*FraudAlert, error) {
	if alert.Description == "" {
		return nil, common.NewValidationError("alert description is required")
	}
	if alert.Type == "" {
		alert.Type = AlertTypeManualReport
	}
	if alert.Severity == "" {
		alert.Severity = SeverityMedium
	}

	now := time.Now().UTC()
	alert.ID = uuid.New()
	alert.Status = AlertStatusOpen
	alert.CreatedAt = now
	alert.UpdatedAt = now

	if err := m.repo.CreateAlert(ctx, alert); err != nil {
		return nil, common.NewInternalError("failed to create alert", err)
	}

	recordAlertCreated(alert.Severity)
	m.publishCreated(ctx, alert)

	logger.InfoContext(ctx, "fraud alert created",
		zap.String("alert_id", alert.ID.String()),
		zap.String("severity", string(alert.Severity)),
		zap.String("type", string(alert.Type)),
	)
	return alert, nil
}

// Update applies a partial update to an alert, enforcing the status
// transition rules. actorID is the operator making the change.
func (m *AlertManager) Update(ctx context.Context, alertID, actorID uuid.UUID, update AlertUpdate) (*FraudAlert, error) {
	alert, err := m.repo.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}

	if alert.Status == AlertStatusClosed {
		return nil, common.NewConflictError("closed alerts cannot be modified")
	}

	if update.Status != nil && *update.Status != alert.Status {
		if !TransitionAllowed(alert.Status, *update.Status) {
			return nil, common.NewConflictError(
				fmt.Sprintf("cannot transition alert from %s to %s", alert.Status, *update.Status))
		}
		alert.Status = *update.Status
	}
	if update.AssignedTo != nil {
		alert.AssignedTo = update.AssignedTo
		if alert.Status == AlertStatusOpen && update.Status == nil {
			alert.Status = AlertStatusInProgress
		}
	}
	if update.Resolution != nil {
		alert.Resolution = *update.Resolution
	}
	if update.Notes != nil {
		alert.Notes = *update.Notes
	}
	alert.UpdatedAt = time.Now().UTC()

	if err := m.repo.UpdateAlert(ctx, alert); err != nil {
		return nil, common.NewInternalError("failed to update alert", err)
	}

	m.publishUpdated(ctx, alert, actorID)
	return alert, nil
}

// Get returns a single alert.
func (m *AlertManager) Get(ctx context.Context, alertID uuid.UUID) (*FraudAlert, error) {
	return m.repo.GetAlert(ctx, alertID)
}

// ListByStatus returns alerts filtered by status, newest first.
func (m *AlertManager) ListByStatus(ctx context.Context, status AlertStatus, limit, offset int) ([]FraudAlert, int64, error) {
	return m.repo.ListAlertsByStatus(ctx, status, limit, offset)
}

// ListByUser returns a user's alerts, newest first.
func (m *AlertManager) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]FraudAlert, int64, error) {
	return m.repo.ListAlertsByUser(ctx, userID, limit, offset)
}

func (m *AlertManager) publishCreated(ctx context.Context, alert *FraudAlert) {
	if m.events == nil {
		return
	}
	event, err := eventbus.NewEvent(eventbus.SubjectAlertCreated, "fraud-engine", eventbus.AlertCreatedEvent{
		AlertID:      alert.ID,
		UserID:       alert.UserID,
		AssessmentID: alert.RiskAssessmentID,
		Severity:     string(alert.Severity),
		AlertType:    string(alert.Type),
		CreatedAt:    alert.CreatedAt,
	})
	if err != nil {
		logger.WarnContext(ctx, "failed to build alert created event", zap.Error(err))
		return
	}
	if err := m.events.Publish(ctx, eventbus.SubjectAlertCreated, event); err != nil {
		logger.WarnContext(ctx, "failed to publish alert created event",
			zap.String("alert_id", alert.ID.String()),
			zap.Error(err),
		)
	}
}

func (m *AlertManager) publishUpdated(ctx context.Context, alert *FraudAlert, actorID uuid.UUID) {
	if m.events == nil {
		return
	}
	event, err := eventbus.NewEvent(eventbus.SubjectAlertUpdated, "fraud-engine", eventbus.AlertUpdatedEvent{
		AlertID:   alert.ID,
		Status:    string(alert.Status),
		ActorID:   actorID,
		UpdatedAt: alert.UpdatedAt,
	})
	if err != nil {
		logger.WarnContext(ctx, "failed to build alert updated event", zap.Error(err))
		return
	}
	if err := m.events.Publish(ctx, eventbus.SubjectAlertUpdated, event); err != nil {
		logger.WarnContext(ctx, "failed to publish alert updated event",
			zap.String("alert_id", alert.ID.String()),
			zap.Error(err),
		)
	}
}
