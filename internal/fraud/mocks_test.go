package fraud

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/cartvale/fraud-engine/pkg/eventbus"
)

// ========================================
// INTERNAL MOCK (implements RepositoryInterface within this package)
// ========================================

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) CreateAssessment(ctx context.Context, assessment *RiskAssessment) error {
	args := m.Called(ctx, assessment)
	return args.Error(0)
}

func (m *mockRepo) GetAssessment(ctx context.Context, id uuid.UUID) (*RiskAssessment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*RiskAssessment), args.Error(1)
}

func (m *mockRepo) LatestScore(ctx context.Context, userID uuid.UUID) (float64, bool, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(float64), args.Bool(1), args.Error(2)
}

func (m *mockRepo) GetStatistics(ctx context.Context, since time.Time) (*Statistics, error) {
	args := m.Called(ctx, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Statistics), args.Error(1)
}

func (m *mockRepo) ListRules(ctx context.Context, activeOnly bool) ([]FraudRule, error) {
	args := m.Called(ctx, activeOnly)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]FraudRule), args.Error(1)
}

func (m *mockRepo) GetRule(ctx context.Context, id uuid.UUID) (*FraudRule, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*FraudRule), args.Error(1)
}

func (m *mockRepo) CreateRule(ctx context.Context, rule *FraudRule) error {
	args := m.Called(ctx, rule)
	return args.Error(0)
}

func (m *mockRepo) UpdateRule(ctx context.Context, rule *FraudRule) error {
	args := m.Called(ctx, rule)
	return args.Error(0)
}

func (m *mockRepo) DeleteRule(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockRepo) CreateAlert(ctx context.Context, alert *FraudAlert) error {
	args := m.Called(ctx, alert)
	return args.Error(0)
}

func (m *mockRepo) GetAlert(ctx context.Context, id uuid.UUID) (*FraudAlert, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*FraudAlert), args.Error(1)
}

func (m *mockRepo) UpdateAlert(ctx context.Context, alert *FraudAlert) error {
	args := m.Called(ctx, alert)
	return args.Error(0)
}

func (m *mockRepo) ListAlertsByStatus(ctx context.Context, status AlertStatus, limit, offset int) ([]FraudAlert, int64, error) {
	args := m.Called(ctx, status, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]FraudAlert), args.Get(1).(int64), args.Error(2)
}

func (m *mockRepo) ListAlertsByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]FraudAlert, int64, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]FraudAlert), args.Get(1).(int64), args.Error(2)
}

func (m *mockRepo) IsBlocklisted(ctx context.Context, kind, value string) (bool, error) {
	args := m.Called(ctx, kind, value)
	return args.Bool(0), args.Error(1)
}

func (m *mockRepo) AddBlocklistEntry(ctx context.Context, kind, value, reason string, addedBy uuid.UUID) error {
	args := m.Called(ctx, kind, value, reason, addedBy)
	return args.Error(0)
}

func (m *mockRepo) RemoveBlocklistEntry(ctx context.Context, kind, value string) error {
	args := m.Called(ctx, kind, value)
	return args.Error(0)
}

func (m *mockRepo) GetUserRiskFactors(ctx context.Context, userID uuid.UUID) (*UserRiskFactors, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*UserRiskFactors), args.Error(1)
}

func (m *mockRepo) RecentFailedPayments(ctx context.Context, userID string, lookback time.Duration) (int, error) {
	args := m.Called(ctx, userID, lookback)
	return args.Int(0), args.Error(1)
}

func (m *mockRepo) RecentAccountChanges(ctx context.Context, userID string, lookback time.Duration) (int, error) {
	args := m.Called(ctx, userID, lookback)
	return args.Int(0), args.Error(1)
}

func (m *mockRepo) DistinctDeviceCount(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *mockRepo) CompletedTransactionCount(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

// staticCatalog serves a fixed rule set without hitting a store.
type staticCatalog struct {
	rules []FraudRule
	err   error
}

func (c *staticCatalog) ActiveRules(ctx context.Context) ([]FraudRule, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.rules, nil
}

func (c *staticCatalog) Invalidate() {}

// capturingPublisher records published events for assertions.
type capturingPublisher struct {
	mu     sync.Mutex
	events map[string][]*eventbus.Event
}

func newCapturingPublisher() *capturingPublisher {
	return &capturingPublisher{events: make(map[string][]*eventbus.Event)}
}

func (p *capturingPublisher) Publish(_ context.Context, subject string, event *eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events[subject] = append(p.events[subject], event)
	return nil
}

func (p *capturingPublisher) count(subject string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events[subject])
}
