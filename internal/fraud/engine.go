package fraud

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cartvale/fraud-engine/pkg/cache"
	"github.com/cartvale/fraud-engine/pkg/common"
	"github.com/cartvale/fraud-engine/pkg/config"
	"github.com/cartvale/fraud-engine/pkg/eventbus"
	"github.com/cartvale/fraud-engine/pkg/logger"
	"github.com/cartvale/fraud-engine/pkg/tracing"
)

const scoreCachePrefix = "fraud:score:"

// Engine runs the full risk assessment pipeline: configurable rules,
// reputation lookups and static account factors combined into a bounded
// score and a decision. Sub-check failures degrade the assessment instead
// of failing it; only persistence failures surface as errors.
type Engine struct {
	cfg        config.FraudConfig
	repo       RepositoryInterface
	ruleEngine *RuleEngine
	catalog    RuleCatalog
	oracle     *Oracle
	alerts     *AlertManager
	events     EventPublisher
	scores     *cache.Manager
	now        func() time.Time
}

// NewEngine wires the assessment pipeline. events and scores may be nil
// when the bus or cache is disabled.
func NewEngine(
	cfg config.FraudConfig,
	repo RepositoryInterface,
	ruleEngine *RuleEngine,
	catalog RuleCatalog,
	oracle *Oracle,
	alerts *AlertManager,
	events EventPublisher,
	scores *cache.Manager,
) *Engine {
	return &Engine{
		cfg:        cfg,
		repo:       repo,
		ruleEngine: ruleEngine,
		catalog:    catalog,
		oracle:     oracle,
		alerts:     alerts,
		events:     events,
		scores:     scores,
		now:        time.Now,
	}
}

// subCheckOutcome carries one concurrent sub-check's contribution to the
// score plus its degradation weight when it could not complete.
type subCheckOutcome struct {
	weight         float64
	degraded       bool
	degradedWeight float64
	triggered      []uuid.UUID
	skipped        []uuid.UUID
}

// AssessRisk scores a request context and returns the persisted
// assessment. Guest contexts (no user id) are outside the scoring
// boundary: they return an allow decision and are not persisted.
func (e *Engine) AssessRisk(ctx context.Context, fctx *FraudContext) (*RiskAssessment, error) {
	ctx, span := tracing.StartSpan(ctx, "fraud-engine", "AssessRisk")
	defer span.End()

	if fctx == nil {
		return nil, common.NewValidationError("assessment context is required")
	}
	if err := fctx.Validate(); err != nil {
		return nil, common.NewValidationError(err.Error())
	}

	if fctx.UserID == nil {
		return &RiskAssessment{
			Decision:  DecisionAllow,
			Score:     0,
			CreatedAt: e.now().UTC(),
		}, nil
	}
	userID := *fctx.UserID

	var (
		wg         sync.WaitGroup
		ruleOut    subCheckOutcome
		repOut     subCheckOutcome
		factorsOut subCheckOutcome
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		ruleOut = e.runRules(ctx, fctx)
	}()
	go func() {
		defer wg.Done()
		repOut = e.runReputation(ctx, fctx)
	}()
	go func() {
		defer wg.Done()
		factorsOut = e.runFactors(ctx, fctx, userID)
	}()
	wg.Wait()

	score := ruleOut.weight + repOut.weight + factorsOut.weight
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}

	decision := e.decide(score)

	degraded := ruleOut.degraded || repOut.degraded || factorsOut.degraded
	maxDegradedWeight := ruleOut.degradedWeight
	if repOut.degradedWeight > maxDegradedWeight {
		maxDegradedWeight = repOut.degradedWeight
	}
	if factorsOut.degradedWeight > maxDegradedWeight {
		maxDegradedWeight = factorsOut.degradedWeight
	}

	if degraded && (e.cfg.FailClosed || maxDegradedWeight >= e.cfg.DegradedBiasMinWeight) {
		decision = decision.NextStricter()
	}

	assessment := &RiskAssessment{
		ID:                   uuid.New(),
		UserID:               userID,
		OrderID:              fctx.OrderID,
		TransactionID:        fctx.TransactionID,
		Amount:               fctx.Amount,
		Currency:             fctx.Currency,
		IPAddress:            fctx.IPAddress,
		DeviceFingerprint:    fctx.DeviceFingerprint,
		Score:                score,
		Decision:             decision,
		TriggeredRuleIDs:     ruleOut.triggered,
		RequiresManualReview: degraded,
		Degraded:             degraded,
		CreatedAt:            e.now().UTC(),
	}

	if err := e.repo.CreateAssessment(ctx, assessment); err != nil {
		tracing.RecordError(ctx, err)
		return nil, common.NewInternalError("failed to persist risk assessment", err)
	}

	recordAssessment(decision, score)
	e.cacheScore(ctx, userID, score)
	e.publishAssessment(ctx, assessment)
	e.raiseAlertIfNeeded(ctx, fctx, assessment)

	logger.InfoContext(ctx, "risk assessment completed",
		zap.String("assessment_id", assessment.ID.String()),
		zap.String("user_id", userID.String()),
		zap.Float64("score", score),
		zap.String("decision", string(decision)),
		zap.Bool("degraded", degraded),
		zap.Int("triggered_rules", len(ruleOut.triggered)),
		zap.Int("skipped_rules", len(ruleOut.skipped)),
	)

	return assessment, nil
}

// EvaluateRules runs the active rule set against a context without
// persisting anything. Used by the dry-run endpoint.
func (e *Engine) EvaluateRules(ctx context.Context, fctx *FraudContext) (*EvaluationResult, error) {
	if fctx == nil {
		return nil, common.NewValidationError("evaluation context is required")
	}
	if err := fctx.Validate(); err != nil {
		return nil, common.NewValidationError(err.Error())
	}

	rules, err := e.catalog.ActiveRules(ctx)
	if err != nil {
		return nil, common.NewInternalError("failed to load rule catalog", err)
	}

	result := e.ruleEngine.Evaluate(ctx, fctx, rules)
	return &result, nil
}

// GetUserFraudScore returns the user's most recent assessment score, or 0
// when the user has never been assessed. Satisfies ratelimit.ScoreSource.
func (e *Engine) GetUserFraudScore(ctx context.Context, userID uuid.UUID) (float64, error) {
	key := scoreCachePrefix + userID.String()

	if e.scores != nil {
		var cached float64
		if err := e.scores.Get(ctx, key, &cached); err == nil {
			return cached, nil
		}
	}

	score, found, err := e.repo.LatestScore(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("latest score lookup: %w", err)
	}
	if !found {
		score = 0
	}

	e.cacheScore(ctx, userID, score)
	return score, nil
}

// GetAssessment returns a persisted assessment.
func (e *Engine) GetAssessment(ctx context.Context, id uuid.UUID) (*RiskAssessment, error) {
	return e.repo.GetAssessment(ctx, id)
}

// GetStatistics summarizes engine activity since the given time.
func (e *Engine) GetStatistics(ctx context.Context, since time.Time) (*Statistics, error) {
	return e.repo.GetStatistics(ctx, since)
}

func (e *Engine) runRules(ctx context.Context, fctx *FraudContext) subCheckOutcome {
	rules, err := e.catalog.ActiveRules(ctx)
	if err != nil {
		logger.WarnContext(ctx, "rule catalog unavailable, skipping rule evaluation", zap.Error(err))
		recordDegradation("catalog")
		// The whole catalog is unknown, so the degradation weight is the
		// maximum a single rule could carry.
		return subCheckOutcome{degraded: true, degradedWeight: 1}
	}

	result := e.ruleEngine.Evaluate(ctx, fctx, rules)
	return subCheckOutcome{
		weight:         result.TriggeredWeight,
		degraded:       result.Degraded(),
		degradedWeight: result.MaxSkippedWeight,
		triggered:      result.TriggeredRuleIDs,
		skipped:        result.SkippedRuleIDs,
	}
}

func (e *Engine) runReputation(ctx context.Context, fctx *FraudContext) subCheckOutcome {
	var out subCheckOutcome

	checks := []ReputationResult{
		e.oracle.CheckIP(ctx, fctx.IPAddress, false),
		e.oracle.CheckEmail(ctx, fctx.Email),
		e.oracle.CheckDevice(ctx, fctx.DeviceFingerprint),
	}
	for _, result := range checks {
		if result.Degraded {
			out.degraded = true
			out.degradedWeight = e.cfg.ReputationPenaltyWeight
			continue
		}
		if result.Blocked && out.weight == 0 {
			out.weight = e.cfg.ReputationPenaltyWeight
		}
	}
	return out
}

func (e *Engine) runFactors(ctx context.Context, fctx *FraudContext, userID uuid.UUID) subCheckOutcome {
	lookupCtx, cancel := context.WithTimeout(ctx, e.cfg.SubCheckTimeout())
	defer cancel()

	factors, err := e.repo.GetUserRiskFactors(lookupCtx, userID)
	if err != nil {
		logger.WarnContext(ctx, "risk factor lookup failed, excluding static factors",
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
		recordDegradation("factors")
		return subCheckOutcome{
			degraded: true,
			degradedWeight: e.cfg.NewAccountWeight + e.cfg.UnverifiedEmailWeight +
				e.cfg.UnverifiedPhoneWeight + e.cfg.FirstTransactionWeight + e.cfg.AddressMismatchWeight,
		}
	}

	var out subCheckOutcome
	now := e.now().UTC()
	if factors.NewAccount(now) {
		out.weight += e.cfg.NewAccountWeight
	}
	if !factors.EmailVerified {
		out.weight += e.cfg.UnverifiedEmailWeight
	}
	if !factors.PhoneVerified {
		out.weight += e.cfg.UnverifiedPhoneWeight
	}
	if factors.CompletedTransactions == 0 && fctx.Amount > 0 {
		out.weight += e.cfg.FirstTransactionWeight
	}
	if fctx.AddressMismatch {
		out.weight += e.cfg.AddressMismatchWeight
	}
	return out
}

func (e *Engine) decide(score float64) Decision {
	switch {
	case score >= e.cfg.BlockThreshold:
		return DecisionBlock
	case score >= e.cfg.ReviewThreshold:
		return DecisionReview
	case score >= e.cfg.VerifyThreshold:
		return DecisionVerify
	case score >= e.cfg.MonitorThreshold:
		return DecisionMonitor
	default:
		return DecisionAllow
	}
}

func (e *Engine) severityForScore(score float64) AlertSeverity {
	switch {
	case score >= e.cfg.CriticalSeverityThreshold:
		return SeverityCritical
	case score >= e.cfg.HighSeverityThreshold:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

func (e *Engine) cacheScore(ctx context.Context, userID uuid.UUID, score float64) {
	if e.scores == nil {
		return
	}
	key := scoreCachePrefix + userID.String()
	if err := e.scores.Set(ctx, key, score, e.cfg.ScoreCacheTTL()); err != nil {
		logger.Debug("score cache write failed",
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
	}
}

func (e *Engine) publishAssessment(ctx context.Context, assessment *RiskAssessment) {
	if e.events == nil {
		return
	}

	event, err := eventbus.NewEvent(eventbus.SubjectAssessmentCompleted, "fraud-engine", eventbus.AssessmentCompletedEvent{
		AssessmentID: assessment.ID,
		UserID:       assessment.UserID,
		Score:        assessment.Score,
		Decision:     string(assessment.Decision),
		Degraded:     assessment.Degraded,
		CreatedAt:    assessment.CreatedAt,
	})
	if err != nil {
		logger.WarnContext(ctx, "failed to build assessment event", zap.Error(err))
		return
	}
	if err := e.events.Publish(ctx, eventbus.SubjectAssessmentCompleted, event); err != nil {
		logger.WarnContext(ctx, "failed to publish assessment event",
			zap.String("assessment_id", assessment.ID.String()),
			zap.Error(err),
		)
	}

	if assessment.Decision != DecisionBlock {
		return
	}
	blocked, err := eventbus.NewEvent(eventbus.SubjectUserBlocked, "fraud-engine", eventbus.UserBlockedEvent{
		UserID:       assessment.UserID,
		AssessmentID: assessment.ID,
		Score:        assessment.Score,
		CreatedAt:    assessment.CreatedAt,
	})
	if err != nil {
		logger.WarnContext(ctx, "failed to build user blocked event", zap.Error(err))
		return
	}
	if err := e.events.Publish(ctx, eventbus.SubjectUserBlocked, blocked); err != nil {
		logger.WarnContext(ctx, "failed to publish user blocked event",
			zap.String("user_id", assessment.UserID.String()),
			zap.Error(err),
		)
	}
}

// raiseAlertIfNeeded opens an alert for review and block decisions. Alert
// creation failures are logged, never propagated: the assessment already
// stands on its own.
func (e *Engine) raiseAlertIfNeeded(ctx context.Context, fctx *FraudContext, assessment *RiskAssessment) {
	if e.alerts == nil {
		return
	}
	if assessment.Decision != DecisionReview && assessment.Decision != DecisionBlock {
		return
	}

	userID := assessment.UserID
	alert := &FraudAlert{
		Type:     AlertTypeHighRiskAssessment,
		Severity: e.severityForScore(assessment.Score),
		Description: fmt.Sprintf("risk assessment scored %.2f resulting in %s",
			assessment.Score, assessment.Decision),
		UserID:           &userID,
		OrderID:          fctx.OrderID,
		RiskAssessmentID: &assessment.ID,
	}
	if _, err := e.alerts.Create(ctx, alert); err != nil {
		logger.ErrorContext(ctx, "failed to raise fraud alert",
			zap.String("assessment_id", assessment.ID.String()),
			zap.Error(err),
		)
	}
}
