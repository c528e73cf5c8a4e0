package fraud

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cartvale/fraud-engine/pkg/common"
	"github.com/cartvale/fraud-engine/pkg/logger"
)

// Rule catalog management. Every write invalidates the cached catalog so
// the next assessment sees the change.

// ListRules returns the full rule catalog.
func (e *Engine) ListRules(ctx context.Context, activeOnly bool) ([]FraudRule, error) {
	return e.repo.ListRules(ctx, activeOnly)
}

// GetRule returns a single rule.
func (e *Engine) GetRule(ctx context.Context, id uuid.UUID) (*FraudRule, error) {
	return e.repo.GetRule(ctx, id)
}

// CreateRule validates and persists a new rule.
func (e *Engine) CreateRule(ctx context.Context, rule *FraudRule) (*FraudRule, error) {
	if err := rule.Validate(); err != nil {
		return nil, common.NewValidationError(err.Error())
	}

	now := time.Now().UTC()
	rule.ID = uuid.New()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	if err := e.repo.CreateRule(ctx, rule); err != nil {
		return nil, common.NewInternalError("failed to create rule", err)
	}
	e.catalog.Invalidate()

	logger.InfoContext(ctx, "fraud rule created",
		zap.String("rule_id", rule.ID.String()),
		zap.String("rule_type", string(rule.Type)),
		zap.Float64("weight", rule.Weight),
	)
	return rule, nil
}

// UpdateRule validates and persists changes to an existing rule.
func (e *Engine) UpdateRule(ctx context.Context, id uuid.UUID, rule *FraudRule) (*FraudRule, error) {
	existing, err := e.repo.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}

	rule.ID = existing.ID
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now().UTC()

	if err := rule.Validate(); err != nil {
		return nil, common.NewValidationError(err.Error())
	}
	if err := e.repo.UpdateRule(ctx, rule); err != nil {
		return nil, err
	}
	e.catalog.Invalidate()

	logger.InfoContext(ctx, "fraud rule updated",
		zap.String("rule_id", rule.ID.String()),
		zap.Bool("is_active", rule.IsActive),
	)
	return rule, nil
}

// DeleteRule removes a rule from the catalog.
func (e *Engine) DeleteRule(ctx context.Context, id uuid.UUID) error {
	if err := e.repo.DeleteRule(ctx, id); err != nil {
		return err
	}
	e.catalog.Invalidate()

	logger.InfoContext(ctx, "fraud rule deleted", zap.String("rule_id", id.String()))
	return nil
}

// Blocklist management.

// AddBlocklistEntry adds a value to the reputation blocklist.
func (e *Engine) AddBlocklistEntry(ctx context.Context, kind, value, reason string, addedBy uuid.UUID) error {
	switch kind {
	case BlocklistKindIP, BlocklistKindEmail, BlocklistKindDevice:
	default:
		return common.NewValidationError("blocklist kind must be ip, email or device")
	}
	if value == "" {
		return common.NewValidationError("blocklist value is required")
	}

	if err := e.repo.AddBlocklistEntry(ctx, kind, value, reason, addedBy); err != nil {
		return common.NewInternalError("failed to add blocklist entry", err)
	}

	logger.InfoContext(ctx, "blocklist entry added",
		zap.String("kind", kind),
		zap.String("added_by", addedBy.String()),
	)
	return nil
}

// RemoveBlocklistEntry removes a value from the reputation blocklist.
func (e *Engine) RemoveBlocklistEntry(ctx context.Context, kind, value string) error {
	return e.repo.RemoveBlocklistEntry(ctx, kind, value)
}

// CheckReputation runs an ad-hoc reputation lookup for operators.
func (e *Engine) CheckReputation(ctx context.Context, kind, value string) (ReputationResult, error) {
	switch kind {
	case BlocklistKindIP:
		return e.oracle.CheckIP(ctx, value, true), nil
	case BlocklistKindEmail:
		return e.oracle.CheckEmail(ctx, value), nil
	case BlocklistKindDevice:
		return e.oracle.CheckDevice(ctx, value), nil
	default:
		return ReputationResult{}, common.NewValidationError("reputation kind must be ip, email or device")
	}
}
