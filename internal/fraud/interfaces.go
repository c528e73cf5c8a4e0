package fraud

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cartvale/fraud-engine/pkg/eventbus"
)

// EventPublisher abstracts the event bus so services can run without NATS
// and tests can capture published events.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, event *eventbus.Event) error
}

// AssessmentStore persists risk assessments. Assessments are append-only.
type AssessmentStore interface {
	CreateAssessment(ctx context.Context, assessment *RiskAssessment) error
	GetAssessment(ctx context.Context, id uuid.UUID) (*RiskAssessment, error)
	// LatestScore returns the most recent assessment score for a user and
	// whether any assessment exists.
	LatestScore(ctx context.Context, userID uuid.UUID) (float64, bool, error)
	GetStatistics(ctx context.Context, since time.Time) (*Statistics, error)
}

// RuleStore persists the rule catalog.
type RuleStore interface {
	ListRules(ctx context.Context, activeOnly bool) ([]FraudRule, error)
	GetRule(ctx context.Context, id uuid.UUID) (*FraudRule, error)
	CreateRule(ctx context.Context, rule *FraudRule) error
	UpdateRule(ctx context.Context, rule *FraudRule) error
	DeleteRule(ctx context.Context, id uuid.UUID) error
}

// AlertStore persists fraud alerts.
type AlertStore interface {
	CreateAlert(ctx context.Context, alert *FraudAlert) error
	GetAlert(ctx context.Context, id uuid.UUID) (*FraudAlert, error)
	UpdateAlert(ctx context.Context, alert *FraudAlert) error
	ListAlertsByStatus(ctx context.Context, status AlertStatus, limit, offset int) ([]FraudAlert, int64, error)
	ListAlertsByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]FraudAlert, int64, error)
}

// BlocklistStore manages reputation blocklist entries.
type BlocklistStore interface {
	BlocklistSource
	AddBlocklistEntry(ctx context.Context, kind, value, reason string, addedBy uuid.UUID) error
	RemoveBlocklistEntry(ctx context.Context, kind, value string) error
}

// FactorSource supplies the static account signals for a user.
type FactorSource interface {
	GetUserRiskFactors(ctx context.Context, userID uuid.UUID) (*UserRiskFactors, error)
}

// RepositoryInterface is the full persistence contract implemented by
// *Repository and mocked in tests.
type RepositoryInterface interface {
	AssessmentStore
	RuleStore
	AlertStore
	BlocklistStore
	FactorSource
	HistorySource
}
