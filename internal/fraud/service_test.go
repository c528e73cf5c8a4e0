package fraud

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cartvale/fraud-engine/pkg/config"
	"github.com/cartvale/fraud-engine/pkg/counter"
)

type countingCatalog struct {
	staticCatalog
	invalidations atomic.Int64
}

func (c *countingCatalog) Invalidate() { c.invalidations.Add(1) }

func newRuleAdminEngine(repo *mockRepo) (*Engine, *countingCatalog) {
	store := counter.NewMemoryStore()
	oracle := NewOracle(repo, nil, 0)
	ruleEngine := NewRuleEngine(NewVelocityTracker(store), oracle, repo, 0)
	catalog := &countingCatalog{}
	engine := NewEngine(config.DefaultFraudConfig(), repo, ruleEngine, catalog, oracle, nil, nil, nil)
	return engine, catalog
}

func TestCreateRuleValidatesAndInvalidatesCatalog(t *testing.T) {
	repo := new(mockRepo)
	engine, catalog := newRuleAdminEngine(repo)

	repo.On("CreateRule", mock.Anything, mock.Anything).Return(nil)

	rule, err := engine.CreateRule(context.Background(), &FraudRule{
		Name:     "checkout velocity",
		Type:     RuleTypeVelocity,
		Weight:   0.4,
		IsActive: true,
		Config: RuleConfig{Velocity: &VelocityConfig{
			Subject:           "user:{userId}",
			TimeWindowSeconds: 300,
			MaxCount:          5,
		}},
	})

	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, rule.ID)
	assert.False(t, rule.CreatedAt.IsZero())
	assert.Equal(t, int64(1), catalog.invalidations.Load())
}

func TestCreateRuleRejectsInvalidDefinitions(t *testing.T) {
	repo := new(mockRepo)
	engine, catalog := newRuleAdminEngine(repo)

	_, err := engine.CreateRule(context.Background(), &FraudRule{
		Name: "bad", Type: RuleType("neural"), Weight: 0.4,
	})
	assert.Error(t, err)

	_, err = engine.CreateRule(context.Background(), &FraudRule{
		Name: "no config", Type: RuleTypeVelocity, Weight: 0.4,
	})
	assert.Error(t, err)

	assert.Zero(t, catalog.invalidations.Load())
	repo.AssertNotCalled(t, "CreateRule", mock.Anything, mock.Anything)
}

func TestUpdateRulePreservesIdentity(t *testing.T) {
	repo := new(mockRepo)
	engine, catalog := newRuleAdminEngine(repo)

	existing := amountRule(0.3, 0, 100)
	repo.On("GetRule", mock.Anything, existing.ID).Return(&existing, nil)
	repo.On("UpdateRule", mock.Anything, mock.Anything).Return(nil)

	updated, err := engine.UpdateRule(context.Background(), existing.ID, &FraudRule{
		Name:     "tightened ceiling",
		Type:     RuleTypeAmount,
		Weight:   0.5,
		IsActive: true,
		Config:   RuleConfig{Amount: &AmountConfig{MaxAmount: 50}},
	})

	require.NoError(t, err)
	assert.Equal(t, existing.ID, updated.ID)
	assert.Equal(t, existing.CreatedAt, updated.CreatedAt)
	assert.Equal(t, 0.5, updated.Weight)
	assert.Equal(t, int64(1), catalog.invalidations.Load())
}

func TestDeleteRuleInvalidatesCatalog(t *testing.T) {
	repo := new(mockRepo)
	engine, catalog := newRuleAdminEngine(repo)

	id := uuid.New()
	repo.On("DeleteRule", mock.Anything, id).Return(nil)

	require.NoError(t, engine.DeleteRule(context.Background(), id))
	assert.Equal(t, int64(1), catalog.invalidations.Load())
}

func TestAddBlocklistEntryValidatesKind(t *testing.T) {
	repo := new(mockRepo)
	engine, _ := newRuleAdminEngine(repo)
	actor := uuid.New()

	err := engine.AddBlocklistEntry(context.Background(), "country", "KP", "embargo", actor)
	assert.Error(t, err)

	err = engine.AddBlocklistEntry(context.Background(), BlocklistKindIP, "", "empty", actor)
	assert.Error(t, err)

	repo.On("AddBlocklistEntry", mock.Anything, BlocklistKindEmail, "fraud@example.com", "chargeback ring", actor).Return(nil)
	err = engine.AddBlocklistEntry(context.Background(), BlocklistKindEmail, "fraud@example.com", "chargeback ring", actor)
	assert.NoError(t, err)
}

func TestCheckReputationDispatchesByKind(t *testing.T) {
	repo := new(mockRepo)
	engine, _ := newRuleAdminEngine(repo)

	repo.On("IsBlocklisted", mock.Anything, BlocklistKindDevice, "fp-1").Return(true, nil)

	result, err := engine.CheckReputation(context.Background(), BlocklistKindDevice, "fp-1")
	require.NoError(t, err)
	assert.True(t, result.Blocked)

	_, err = engine.CheckReputation(context.Background(), "phone", "+99312345678")
	assert.Error(t, err)
}
