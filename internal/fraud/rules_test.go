package fraud

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cartvale/fraud-engine/pkg/counter"
)

func newTestRuleEngine(repo *mockRepo) *RuleEngine {
	store := counter.NewMemoryStore()
	oracle := NewOracle(repo, nil, 0)
	return NewRuleEngine(NewVelocityTracker(store), oracle, repo, 0)
}

func amountRule(weight float64, priority int, maxAmount float64) FraudRule {
	return FraudRule{
		ID:       uuid.New(),
		Name:     "amount",
		Type:     RuleTypeAmount,
		Weight:   weight,
		Priority: priority,
		IsActive: true,
		Config:   RuleConfig{Amount: &AmountConfig{MaxAmount: maxAmount}},
	}
}

func TestEvaluateSkipsInactiveRules(t *testing.T) {
	repo := new(mockRepo)
	engine := newTestRuleEngine(repo)

	active := amountRule(0.4, 0, 100)
	inactive := amountRule(0.4, 1, 100)
	inactive.IsActive = false

	result := engine.Evaluate(context.Background(), &FraudContext{Amount: 500, Currency: "USD"},
		[]FraudRule{active, inactive})

	assert.Equal(t, []uuid.UUID{active.ID}, result.TriggeredRuleIDs)
	assert.InDelta(t, 0.4, result.TriggeredWeight, 1e-9)
	assert.False(t, result.Degraded())
}

func TestEvaluateOrdersTriggeredByPriority(t *testing.T) {
	repo := new(mockRepo)
	engine := newTestRuleEngine(repo)

	low := amountRule(0.1, 10, 100)
	high := amountRule(0.2, 1, 200)

	result := engine.Evaluate(context.Background(), &FraudContext{Amount: 500, Currency: "USD"},
		[]FraudRule{low, high})

	require.Len(t, result.TriggeredRuleIDs, 2)
	assert.Equal(t, high.ID, result.TriggeredRuleIDs[0], "lower priority value evaluates first")
	assert.Equal(t, low.ID, result.TriggeredRuleIDs[1])
	assert.InDelta(t, 0.3, result.TriggeredWeight, 1e-9)
}

func TestEvaluateSkipsFailingRuleAndTracksWeight(t *testing.T) {
	repo := new(mockRepo)
	engine := newTestRuleEngine(repo)

	userID := uuid.New()
	repo.On("RecentFailedPayments", mock.Anything, userID.String(), mock.Anything).
		Return(0, errors.New("payments table unavailable"))

	failing := FraudRule{
		ID: uuid.New(), Name: "failed payments", Type: RuleTypePattern,
		Weight: 0.5, IsActive: true,
		Config: RuleConfig{Pattern: &PatternConfig{MaxFailedPayments: 3}},
	}
	working := amountRule(0.2, 1, 100)

	result := engine.Evaluate(context.Background(), &FraudContext{
		UserID: &userID, Amount: 500, Currency: "USD",
	}, []FraudRule{failing, working})

	assert.Equal(t, []uuid.UUID{failing.ID}, result.SkippedRuleIDs)
	assert.Equal(t, 0.5, result.MaxSkippedWeight)
	assert.Equal(t, []uuid.UUID{working.ID}, result.TriggeredRuleIDs)
	assert.True(t, result.Degraded())
}

func TestEvaluateUnknownRuleTypeIsSkipped(t *testing.T) {
	repo := new(mockRepo)
	engine := newTestRuleEngine(repo)

	bogus := FraudRule{ID: uuid.New(), Name: "bogus", Type: RuleType("ml_model"), Weight: 0.9, IsActive: true}

	result := engine.Evaluate(context.Background(), &FraudContext{}, []FraudRule{bogus})

	assert.Equal(t, []uuid.UUID{bogus.ID}, result.SkippedRuleIDs)
	assert.Empty(t, result.TriggeredRuleIDs)
}

func TestEvaluateLocationRuleBlockedCountry(t *testing.T) {
	repo := new(mockRepo)
	engine := newTestRuleEngine(repo)

	rule := FraudRule{
		ID: uuid.New(), Name: "embargo", Type: RuleTypeLocation, Weight: 0.5, IsActive: true,
		Config: RuleConfig{Location: &LocationConfig{BlockedCountries: []string{"KP", "IR"}}},
	}

	result := engine.Evaluate(context.Background(), &FraudContext{Country: "IR"}, []FraudRule{rule})
	assert.Equal(t, []uuid.UUID{rule.ID}, result.TriggeredRuleIDs)

	result = engine.Evaluate(context.Background(), &FraudContext{Country: "DE"}, []FraudRule{rule})
	assert.Empty(t, result.TriggeredRuleIDs)
}

func TestEvaluateAmountRuleFirstTransactionCeiling(t *testing.T) {
	repo := new(mockRepo)
	engine := newTestRuleEngine(repo)

	userID := uuid.New()
	repo.On("CompletedTransactionCount", mock.Anything, userID.String()).Return(0, nil)

	rule := FraudRule{
		ID: uuid.New(), Name: "first order cap", Type: RuleTypeAmount, Weight: 0.3, IsActive: true,
		Config: RuleConfig{Amount: &AmountConfig{MaxAmount: 10000, FirstTransactionAmount: 500}},
	}

	result := engine.Evaluate(context.Background(), &FraudContext{
		UserID: &userID, Amount: 900, Currency: "USD",
	}, []FraudRule{rule})

	assert.Equal(t, []uuid.UUID{rule.ID}, result.TriggeredRuleIDs,
		"first transaction above the lower ceiling must trigger")
}

func TestEvaluatePatternRuleAccountChanges(t *testing.T) {
	repo := new(mockRepo)
	engine := newTestRuleEngine(repo)

	userID := uuid.New()
	repo.On("RecentAccountChanges", mock.Anything, userID.String(), time.Hour).Return(2, nil)

	rule := FraudRule{
		ID: uuid.New(), Name: "account churn", Type: RuleTypePattern, Weight: 0.25, IsActive: true,
		Config: RuleConfig{Pattern: &PatternConfig{FlagRecentAccountChanges: true}},
	}

	result := engine.Evaluate(context.Background(), &FraudContext{UserID: &userID}, []FraudRule{rule})
	assert.Equal(t, []uuid.UUID{rule.ID}, result.TriggeredRuleIDs)
}

func TestEvaluateDeviceRuleCeiling(t *testing.T) {
	repo := new(mockRepo)
	engine := newTestRuleEngine(repo)

	userID := uuid.New()
	repo.On("DistinctDeviceCount", mock.Anything, userID.String()).Return(7, nil)

	rule := FraudRule{
		ID: uuid.New(), Name: "device spread", Type: RuleTypeDevice, Weight: 0.2, IsActive: true,
		Config: RuleConfig{Device: &DeviceConfig{MaxDevicesPerUser: 5}},
	}

	result := engine.Evaluate(context.Background(), &FraudContext{UserID: &userID}, []FraudRule{rule})
	assert.Equal(t, []uuid.UUID{rule.ID}, result.TriggeredRuleIDs)
}

func TestEvaluateCustomPredicates(t *testing.T) {
	repo := new(mockRepo)
	engine := newTestRuleEngine(repo)

	paymentRule := FraudRule{
		ID: uuid.New(), Name: "risky payment method", Type: RuleTypeCustom, Weight: 0.2, IsActive: true,
		Config: RuleConfig{Custom: &CustomConfig{
			Predicate: PredicatePaymentMethodRisk,
			Params:    map[string]interface{}{"risky_methods": []interface{}{"crypto", "gift_card"}},
		}},
	}

	result := engine.Evaluate(context.Background(), &FraudContext{
		Metadata: map[string]interface{}{"payment_method": "gift_card"},
	}, []FraudRule{paymentRule})
	assert.Equal(t, []uuid.UUID{paymentRule.ID}, result.TriggeredRuleIDs)

	result = engine.Evaluate(context.Background(), &FraudContext{
		Metadata: map[string]interface{}{"payment_method": "card"},
	}, []FraudRule{paymentRule})
	assert.Empty(t, result.TriggeredRuleIDs)

	unknownRule := FraudRule{
		ID: uuid.New(), Name: "typo", Type: RuleTypeCustom, Weight: 0.2, IsActive: true,
		Config: RuleConfig{Custom: &CustomConfig{Predicate: "does_not_exist"}},
	}
	result = engine.Evaluate(context.Background(), &FraudContext{}, []FraudRule{unknownRule})
	assert.Equal(t, []uuid.UUID{unknownRule.ID}, result.SkippedRuleIDs)
}

func TestRuleValidation(t *testing.T) {
	valid := amountRule(0.4, 0, 100)
	require.NoError(t, valid.Validate())

	noName := amountRule(0.4, 0, 100)
	noName.Name = " "
	assert.Error(t, noName.Validate())

	badWeight := amountRule(1.4, 0, 100)
	assert.Error(t, badWeight.Validate())

	wrongConfig := amountRule(0.4, 0, 100)
	wrongConfig.Type = RuleTypeVelocity
	assert.Error(t, wrongConfig.Validate(), "velocity rule without velocity config")

	badPredicate := FraudRule{
		Name: "x", Type: RuleTypeCustom, Weight: 0.1,
		Config: RuleConfig{Custom: &CustomConfig{Predicate: "nope"}},
	}
	assert.Error(t, badPredicate.Validate())
}

func TestCachedCatalog(t *testing.T) {
	calls := 0
	rules := []FraudRule{amountRule(0.1, 0, 100)}
	catalog := NewCachedCatalog(func(ctx context.Context) ([]FraudRule, error) {
		calls++
		return rules, nil
	}, time.Minute)

	_, err := catalog.ActiveRules(context.Background())
	require.NoError(t, err)
	_, err = catalog.ActiveRules(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "second read must hit the cache")

	catalog.Invalidate()
	_, err = catalog.ActiveRules(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "invalidate must force a refetch")
}

func TestCachedCatalogServesStaleOnRefreshFailure(t *testing.T) {
	calls := 0
	catalog := NewCachedCatalog(func(ctx context.Context) ([]FraudRule, error) {
		calls++
		if calls > 1 {
			return nil, errors.New("db down")
		}
		return []FraudRule{amountRule(0.1, 0, 100)}, nil
	}, time.Minute)

	base := time.Now()
	catalog.now = func() time.Time { return base }

	first, err := catalog.ActiveRules(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 1)

	// TTL expires, the refresh fails, the stale snapshot is served.
	catalog.now = func() time.Time { return base.Add(2 * time.Minute) }
	stale, err := catalog.ActiveRules(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, stale)

	// Invalidate drops the snapshot entirely, so the failure surfaces.
	catalog.Invalidate()
	_, err = catalog.ActiveRules(context.Background())
	assert.Error(t, err)
}
