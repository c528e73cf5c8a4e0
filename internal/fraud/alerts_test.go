package fraud

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cartvale/fraud-engine/pkg/eventbus"
)

func statusPtr(s AlertStatus) *AlertStatus { return &s }

func strPtr(s string) *string { return &s }

func openAlert() *FraudAlert {
	now := time.Now().UTC().Add(-time.Hour)
	return &FraudAlert{
		ID:          uuid.New(),
		Type:        AlertTypeManualReport,
		Severity:    SeverityMedium,
		Status:      AlertStatusOpen,
		Description: "reported by support",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestTransitionAllowed(t *testing.T) {
	allowed := []struct{ from, to AlertStatus }{
		{AlertStatusOpen, AlertStatusInProgress},
		{AlertStatusOpen, AlertStatusClosed},
		{AlertStatusInProgress, AlertStatusResolved},
		{AlertStatusInProgress, AlertStatusOpen},
		{AlertStatusResolved, AlertStatusClosed},
	}
	for _, tc := range allowed {
		assert.True(t, TransitionAllowed(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	denied := []struct{ from, to AlertStatus }{
		{AlertStatusOpen, AlertStatusResolved},
		{AlertStatusResolved, AlertStatusOpen},
		{AlertStatusClosed, AlertStatusOpen},
		{AlertStatusClosed, AlertStatusInProgress},
		{AlertStatusClosed, AlertStatusResolved},
	}
	for _, tc := range denied {
		assert.False(t, TransitionAllowed(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestCreateAlertDefaultsAndPublishes(t *testing.T) {
	repo := new(mockRepo)
	pub := newCapturingPublisher()
	manager := NewAlertManager(repo, pub)

	repo.On("CreateAlert", mock.Anything, mock.Anything).Return(nil)

	alert, err := manager.Create(context.Background(), &FraudAlert{Description: "manual check"})
	require.NoError(t, err)

	assert.Equal(t, AlertStatusOpen, alert.Status)
	assert.Equal(t, SeverityMedium, alert.Severity)
	assert.Equal(t, AlertTypeManualReport, alert.Type)
	assert.NotEqual(t, uuid.Nil, alert.ID)
	assert.Equal(t, 1, pub.count(eventbus.SubjectAlertCreated))
}

func TestCreateAlertRequiresDescription(t *testing.T) {
	manager := NewAlertManager(new(mockRepo), nil)

	_, err := manager.Create(context.Background(), &FraudAlert{})
	assert.Error(t, err)
}

func TestUpdateAlertFullLifecycle(t *testing.T) {
	repo := new(mockRepo)
	pub := newCapturingPublisher()
	manager := NewAlertManager(repo, pub)
	actor := uuid.New()

	alert := openAlert()
	repo.On("GetAlert", mock.Anything, alert.ID).Return(alert, nil)
	repo.On("UpdateAlert", mock.Anything, mock.Anything).Return(nil)

	updated, err := manager.Update(context.Background(), alert.ID, actor, AlertUpdate{
		Status:     statusPtr(AlertStatusInProgress),
		AssignedTo: &actor,
	})
	require.NoError(t, err)
	assert.Equal(t, AlertStatusInProgress, updated.Status)
	assert.Equal(t, &actor, updated.AssignedTo)
	assert.True(t, updated.UpdatedAt.After(updated.CreatedAt))

	updated, err = manager.Update(context.Background(), alert.ID, actor, AlertUpdate{
		Status:     statusPtr(AlertStatusResolved),
		Resolution: strPtr("confirmed fraud, account suspended"),
	})
	require.NoError(t, err)
	assert.Equal(t, AlertStatusResolved, updated.Status)
	assert.Equal(t, "confirmed fraud, account suspended", updated.Resolution)

	updated, err = manager.Update(context.Background(), alert.ID, actor, AlertUpdate{
		Status: statusPtr(AlertStatusClosed),
	})
	require.NoError(t, err)
	assert.Equal(t, AlertStatusClosed, updated.Status)

	assert.Equal(t, 3, pub.count(eventbus.SubjectAlertUpdated))
}

func TestUpdateAlertRejectsInvalidTransition(t *testing.T) {
	repo := new(mockRepo)
	manager := NewAlertManager(repo, nil)

	alert := openAlert()
	repo.On("GetAlert", mock.Anything, alert.ID).Return(alert, nil)

	_, err := manager.Update(context.Background(), alert.ID, uuid.New(), AlertUpdate{
		Status: statusPtr(AlertStatusResolved),
	})
	assert.Error(t, err, "open alerts cannot jump straight to resolved")
	repo.AssertNotCalled(t, "UpdateAlert", mock.Anything, mock.Anything)
}

func TestUpdateAlertClosedIsTerminal(t *testing.T) {
	repo := new(mockRepo)
	manager := NewAlertManager(repo, nil)

	alert := openAlert()
	alert.Status = AlertStatusClosed
	repo.On("GetAlert", mock.Anything, alert.ID).Return(alert, nil)

	_, err := manager.Update(context.Background(), alert.ID, uuid.New(), AlertUpdate{
		Status: statusPtr(AlertStatusInProgress),
	})
	assert.Error(t, err)

	_, err = manager.Update(context.Background(), alert.ID, uuid.New(), AlertUpdate{
		Notes: strPtr("late note"),
	})
	assert.Error(t, err, "even note edits are rejected once closed")
}

func TestUpdateAlertAssignmentMovesOpenToInProgress(t *testing.T) {
	repo := new(mockRepo)
	manager := NewAlertManager(repo, nil)
	operator := uuid.New()

	alert := openAlert()
	repo.On("GetAlert", mock.Anything, alert.ID).Return(alert, nil)
	repo.On("UpdateAlert", mock.Anything, mock.Anything).Return(nil)

	updated, err := manager.Update(context.Background(), alert.ID, operator, AlertUpdate{
		AssignedTo: &operator,
	})
	require.NoError(t, err)
	assert.Equal(t, AlertStatusInProgress, updated.Status,
		"assigning an open alert implicitly starts work on it")
}
