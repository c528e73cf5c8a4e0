package fraud

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cartvale/fraud-engine/pkg/logger"
)

// HistorySource exposes the behavioral lookups pattern and device rules
// need. Implemented by the repository against the commerce schema.
type HistorySource interface {
	RecentFailedPayments(ctx context.Context, userID string, lookback time.Duration) (int, error)
	RecentAccountChanges(ctx context.Context, userID string, lookback time.Duration) (int, error)
	DistinctDeviceCount(ctx context.Context, userID string) (int, error)
	CompletedTransactionCount(ctx context.Context, userID string) (int, error)
}

// RuleCatalog supplies the active rule set. Invalidate is called after
// every rule write so the next read sees the change.
type RuleCatalog interface {
	ActiveRules(ctx context.Context) ([]FraudRule, error)
	Invalidate()
}

// RuleEngine evaluates the configured rules against a context. Rules run
// concurrently; a rule that errors is skipped and reported in the result
// rather than failing the whole pass.
type RuleEngine struct {
	velocity *VelocityTracker
	oracle   *Oracle
	history  HistorySource
	timeout  time.Duration
}

// NewRuleEngine creates a rule engine.
func NewRuleEngine(velocity *VelocityTracker, oracle *Oracle, history HistorySource, timeout time.Duration) *RuleEngine {
	return &RuleEngine{
		velocity: velocity,
		oracle:   oracle,
		history:  history,
		timeout:  timeout,
	}
}

// Evaluate runs every rule against the context and aggregates triggered
// weights. Triggered and skipped rule IDs come back ordered by rule
// priority so assessments are reproducible.
func (e *RuleEngine) Evaluate(ctx context.Context, fctx *FraudContext, rules []FraudRule) EvaluationResult {
	ordered := make([]FraudRule, 0, len(rules))
	for _, rule := range rules {
		if rule.IsActive {
			ordered = append(ordered, rule)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	type outcome struct {
		triggered bool
		err       error
	}
	outcomes := make([]outcome, len(ordered))

	var wg sync.WaitGroup
	for i := range ordered {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			ruleCtx := ctx
			var cancel context.CancelFunc
			if e.timeout > 0 {
				ruleCtx, cancel = context.WithTimeout(ctx, e.timeout)
				defer cancel()
			}

			triggered, err := e.evaluateRule(ruleCtx, ordered[i], fctx)
			outcomes[i] = outcome{triggered: triggered, err: err}
		}(i)
	}
	wg.Wait()

	var result EvaluationResult
	for i, rule := range ordered {
		if outcomes[i].err != nil {
			logger.WarnContext(ctx, "rule evaluation skipped",
				zap.String("rule_id", rule.ID.String()),
				zap.String("rule_name", rule.Name),
				zap.String("rule_type", string(rule.Type)),
				zap.Error(outcomes[i].err),
			)
			recordDegradation("rule:" + string(rule.Type))
			result.SkippedRuleIDs = append(result.SkippedRuleIDs, rule.ID)
			if rule.Weight > result.MaxSkippedWeight {
				result.MaxSkippedWeight = rule.Weight
			}
			continue
		}
		if outcomes[i].triggered {
			result.TriggeredRuleIDs = append(result.TriggeredRuleIDs, rule.ID)
			result.TriggeredWeight += rule.Weight
		}
	}
	return result
}

// evaluateRule dispatches on the rule type. The switch is exhaustive over
// the closed type set; anything else is a data error and skips the rule.
func (e *RuleEngine) evaluateRule(ctx context.Context, rule FraudRule, fctx *FraudContext) (bool, error) {
	switch rule.Type {
	case RuleTypeVelocity:
		if rule.Config.Velocity == nil {
			return false, fmt.Errorf("velocity rule %s has no config", rule.ID)
		}
		return e.velocity.Check(ctx, rule.ID, *rule.Config.Velocity, fctx)

	case RuleTypeAmount:
		if rule.Config.Amount == nil {
			return false, fmt.Errorf("amount rule %s has no config", rule.ID)
		}
		return e.evaluateAmount(ctx, *rule.Config.Amount, fctx)

	case RuleTypeLocation:
		if rule.Config.Location == nil {
			return false, fmt.Errorf("location rule %s has no config", rule.ID)
		}
		return e.evaluateLocation(ctx, *rule.Config.Location, fctx)

	case RuleTypePattern:
		if rule.Config.Pattern == nil {
			return false, fmt.Errorf("pattern rule %s has no config", rule.ID)
		}
		return e.evaluatePattern(ctx, *rule.Config.Pattern, fctx)

	case RuleTypeDevice:
		if rule.Config.Device == nil {
			return false, fmt.Errorf("device rule %s has no config", rule.ID)
		}
		return e.evaluateDevice(ctx, *rule.Config.Device, fctx)

	case RuleTypeCustom:
		if rule.Config.Custom == nil {
			return false, fmt.Errorf("custom rule %s has no config", rule.ID)
		}
		return e.evaluateCustom(ctx, *rule.Config.Custom, fctx)

	default:
		return false, fmt.Errorf("unknown rule type %q", rule.Type)
	}
}

func (e *RuleEngine) evaluateAmount(ctx context.Context, cfg AmountConfig, fctx *FraudContext) (bool, error) {
	if fctx.Amount <= 0 {
		return false, nil
	}
	if fctx.Amount > cfg.MaxAmount {
		return true, nil
	}
	if cfg.FirstTransactionAmount > 0 && fctx.UserID != nil && e.history != nil {
		completed, err := e.history.CompletedTransactionCount(ctx, fctx.UserID.String())
		if err != nil {
			return false, fmt.Errorf("completed transaction lookup: %w", err)
		}
		if completed == 0 && fctx.Amount > cfg.FirstTransactionAmount {
			return true, nil
		}
	}
	return false, nil
}

func (e *RuleEngine) evaluateLocation(ctx context.Context, cfg LocationConfig, fctx *FraudContext) (bool, error) {
	for _, country := range cfg.BlockedCountries {
		if fctx.Country != "" && fctx.Country == country {
			return true, nil
		}
	}
	if cfg.FlagAnonymizedIP && fctx.IPAddress != "" {
		result := e.oracle.CheckIP(ctx, fctx.IPAddress, true)
		if result.Degraded {
			return false, fmt.Errorf("anonymizer detection degraded for %s", fctx.IPAddress)
		}
		return result.Anonymized || result.Blocked, nil
	}
	return false, nil
}

func (e *RuleEngine) evaluatePattern(ctx context.Context, cfg PatternConfig, fctx *FraudContext) (bool, error) {
	if fctx.UserID == nil || e.history == nil {
		return false, nil
	}
	userID := fctx.UserID.String()

	if cfg.MaxFailedPayments > 0 {
		lookback := time.Duration(cfg.FailedPaymentLookbackHours) * time.Hour
		if lookback <= 0 {
			lookback = 24 * time.Hour
		}
		failed, err := e.history.RecentFailedPayments(ctx, userID, lookback)
		if err != nil {
			return false, fmt.Errorf("failed payment lookup: %w", err)
		}
		if failed >= cfg.MaxFailedPayments {
			return true, nil
		}
	}

	if cfg.FlagRecentAccountChanges {
		lookback := time.Duration(cfg.AccountChangeLookbackHours) * time.Hour
		if lookback <= 0 {
			lookback = time.Hour
		}
		changes, err := e.history.RecentAccountChanges(ctx, userID, lookback)
		if err != nil {
			return false, fmt.Errorf("account change lookup: %w", err)
		}
		if changes > 0 {
			return true, nil
		}
	}

	return false, nil
}

func (e *RuleEngine) evaluateDevice(ctx context.Context, cfg DeviceConfig, fctx *FraudContext) (bool, error) {
	if cfg.FlagKnownDevices && fctx.DeviceFingerprint != "" {
		result := e.oracle.CheckDevice(ctx, fctx.DeviceFingerprint)
		if result.Degraded {
			return false, fmt.Errorf("device blocklist degraded for fingerprint")
		}
		if result.Blocked {
			return true, nil
		}
	}
	if cfg.MaxDevicesPerUser > 0 && fctx.UserID != nil && e.history != nil {
		devices, err := e.history.DistinctDeviceCount(ctx, fctx.UserID.String())
		if err != nil {
			return false, fmt.Errorf("device count lookup: %w", err)
		}
		if devices > cfg.MaxDevicesPerUser {
			return true, nil
		}
	}
	return false, nil
}

// Custom predicates. The set is fixed in code; rule validation rejects
// unknown names so a typo never silently disables a rule.
const (
	PredicateMetadataEquals    = "metadata_equals"
	PredicatePaymentMethodRisk = "payment_method_risk"
	PredicateAmountModulo      = "amount_round_number"
)

func knownPredicate(name string) bool {
	switch name {
	case PredicateMetadataEquals, PredicatePaymentMethodRisk, PredicateAmountModulo:
		return true
	}
	return false
}

func (e *RuleEngine) evaluateCustom(_ context.Context, cfg CustomConfig, fctx *FraudContext) (bool, error) {
	switch cfg.Predicate {
	case PredicateMetadataEquals:
		key, _ := cfg.Params["key"].(string)
		if key == "" {
			return false, fmt.Errorf("metadata_equals requires a key param")
		}
		if fctx.Metadata == nil {
			return false, nil
		}
		return fctx.Metadata[key] == cfg.Params["value"], nil

	case PredicatePaymentMethodRisk:
		method, _ := metadataString(fctx.Metadata, "payment_method")
		if method == "" {
			return false, nil
		}
		risky, _ := cfg.Params["risky_methods"].([]interface{})
		for _, m := range risky {
			if s, ok := m.(string); ok && s == method {
				return true, nil
			}
		}
		return false, nil

	case PredicateAmountModulo:
		// Round-number amounts are a weak card-testing signal.
		modulo, _ := cfg.Params["modulo"].(float64)
		if modulo <= 0 {
			modulo = 1000
		}
		if fctx.Amount <= 0 {
			return false, nil
		}
		cents := int64(fctx.Amount * 100)
		return cents%int64(modulo*100) == 0, nil

	default:
		return false, fmt.Errorf("unknown custom predicate %q", cfg.Predicate)
	}
}

func metadataString(metadata map[string]interface{}, key string) (string, bool) {
	if metadata == nil {
		return "", false
	}
	s, ok := metadata[key].(string)
	return s, ok
}
