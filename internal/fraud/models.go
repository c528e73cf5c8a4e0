package fraud

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Decision is the action the engine recommends for a request.
type Decision string

const (
	DecisionAllow   Decision = "allow"
	DecisionMonitor Decision = "monitor"
	DecisionVerify  Decision = "verify"
	DecisionReview  Decision = "review"
	DecisionBlock   Decision = "block"
)

// decisionRank orders decisions from most permissive to most restrictive.
var decisionRank = map[Decision]int{
	DecisionAllow:   0,
	DecisionMonitor: 1,
	DecisionVerify:  2,
	DecisionReview:  3,
	DecisionBlock:   4,
}

// Stricter reports whether d is more restrictive than other.
func (d Decision) Stricter(other Decision) bool {
	return decisionRank[d] > decisionRank[other]
}

// NextStricter returns the decision one tier more restrictive than d.
// Block has no stricter tier and returns itself.
func (d Decision) NextStricter() Decision {
	switch d {
	case DecisionAllow:
		return DecisionMonitor
	case DecisionMonitor:
		return DecisionVerify
	case DecisionVerify:
		return DecisionReview
	default:
		return DecisionBlock
	}
}

// RuleType identifies the evaluation strategy of a fraud rule. The set is
// closed: the rule engine switches exhaustively over it and rejects
// anything else at validation time.
type RuleType string

const (
	RuleTypeVelocity RuleType = "velocity"
	RuleTypeAmount   RuleType = "amount"
	RuleTypeLocation RuleType = "location"
	RuleTypePattern  RuleType = "pattern"
	RuleTypeDevice   RuleType = "device"
	RuleTypeCustom   RuleType = "custom"
)

// ValidRuleType reports whether t is one of the known rule types.
func ValidRuleType(t RuleType) bool {
	switch t {
	case RuleTypeVelocity, RuleTypeAmount, RuleTypeLocation, RuleTypePattern, RuleTypeDevice, RuleTypeCustom:
		return true
	}
	return false
}

// AlertSeverity grades how urgently an alert needs attention.
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// AlertStatus is the workflow state of a fraud alert.
type AlertStatus string

const (
	AlertStatusOpen       AlertStatus = "open"
	AlertStatusInProgress AlertStatus = "in_progress"
	AlertStatusResolved   AlertStatus = "resolved"
	AlertStatusClosed     AlertStatus = "closed"
)

// AlertType categorizes what raised the alert.
type AlertType string

const (
	AlertTypeHighRiskAssessment AlertType = "high_risk_assessment"
	AlertTypeVelocityAbuse      AlertType = "velocity_abuse"
	AlertTypeManualReport       AlertType = "manual_report"
)

// FraudContext carries everything known about the request being scored.
// UserID is nil for guest traffic, which is outside the scoring boundary.
type FraudContext struct {
	UserID            *uuid.UUID             `json:"user_id,omitempty"`
	OrderID           *uuid.UUID             `json:"order_id,omitempty"`
	TransactionID     *uuid.UUID             `json:"transaction_id,omitempty"`
	Amount            float64                `json:"amount"`
	Currency          string                 `json:"currency,omitempty"`
	IPAddress         string                 `json:"ip_address,omitempty"`
	Email             string                 `json:"email,omitempty"`
	DeviceFingerprint string                 `json:"device_fingerprint,omitempty"`
	SessionID         string                 `json:"session_id,omitempty"`
	Country           string                 `json:"country,omitempty"`
	AddressMismatch   bool                   `json:"address_mismatch,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// Validate checks the invariants a context must satisfy before scoring.
func (c *FraudContext) Validate() error {
	if c.Amount < 0 {
		return fmt.Errorf("amount must be non-negative, got %f", c.Amount)
	}
	if c.Amount > 0 && c.Currency == "" {
		return fmt.Errorf("currency is required when amount is set")
	}
	if c.Currency != "" && len(c.Currency) != 3 {
		return fmt.Errorf("currency must be a 3-letter ISO code, got %q", c.Currency)
	}
	return nil
}

// VelocityConfig bounds how often a subject may act within a fixed window.
// Subject is a template resolved against the context, e.g.
// "user:{userId}" or "ip:{ipAddress}".
type VelocityConfig struct {
	Subject           string `json:"subject"`
	TimeWindowSeconds int    `json:"time_window_seconds"`
	MaxCount          int64  `json:"max_count"`
}

// Window returns the velocity window as a duration.
func (c VelocityConfig) Window() time.Duration {
	return time.Duration(c.TimeWindowSeconds) * time.Second
}

// AmountConfig flags transactions above an absolute ceiling, with a lower
// ceiling for a user's first transaction.
type AmountConfig struct {
	MaxAmount              float64 `json:"max_amount"`
	FirstTransactionAmount float64 `json:"first_transaction_amount,omitempty"`
}

// LocationConfig flags traffic from blocked countries or anonymized IPs.
type LocationConfig struct {
	BlockedCountries []string `json:"blocked_countries,omitempty"`
	FlagAnonymizedIP bool     `json:"flag_anonymized_ip,omitempty"`
}

// PatternConfig flags behavioral patterns: repeated payment failures and
// account detail churn shortly before a purchase.
type PatternConfig struct {
	MaxFailedPayments          int  `json:"max_failed_payments,omitempty"`
	FailedPaymentLookbackHours int  `json:"failed_payment_lookback_hours,omitempty"`
	FlagRecentAccountChanges   bool `json:"flag_recent_account_changes,omitempty"`
	AccountChangeLookbackHours int  `json:"account_change_lookback_hours,omitempty"`
}

// DeviceConfig flags known-bad device fingerprints and accounts spread
// across too many devices.
type DeviceConfig struct {
	MaxDevicesPerUser int  `json:"max_devices_per_user,omitempty"`
	FlagKnownDevices  bool `json:"flag_known_devices,omitempty"`
}

// CustomConfig runs a named predicate against the context metadata.
// Predicates are registered in code; an unknown name fails validation.
type CustomConfig struct {
	Predicate string                 `json:"predicate"`
	Params    map[string]interface{} `json:"params,omitempty"`
}

// RuleConfig is the typed payload of a rule. Exactly the field matching
// the rule's type must be set; the rest stay nil. Stored as JSONB.
type RuleConfig struct {
	Velocity *VelocityConfig `json:"velocity,omitempty"`
	Amount   *AmountConfig   `json:"amount,omitempty"`
	Location *LocationConfig `json:"location,omitempty"`
	Pattern  *PatternConfig  `json:"pattern,omitempty"`
	Device   *DeviceConfig   `json:"device,omitempty"`
	Custom   *CustomConfig   `json:"custom,omitempty"`
}

// FraudRule is a configurable scoring rule. Weight is the score
// contribution when the rule triggers; Priority orders evaluation
// ascending.
type FraudRule struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Type        RuleType   `json:"type"`
	Weight      float64    `json:"weight"`
	Priority    int        `json:"priority"`
	IsActive    bool       `json:"is_active"`
	Config      RuleConfig `json:"config"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Validate checks structural invariants for a rule before persisting it.
func (r *FraudRule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("rule name is required")
	}
	if !ValidRuleType(r.Type) {
		return fmt.Errorf("unknown rule type %q", r.Type)
	}
	if r.Weight < 0 || r.Weight > 1 {
		return fmt.Errorf("rule weight must be in [0,1], got %f", r.Weight)
	}
	switch r.Type {
	case RuleTypeVelocity:
		cfg := r.Config.Velocity
		if cfg == nil {
			return fmt.Errorf("velocity rule requires a velocity config")
		}
		if cfg.Subject == "" {
			return fmt.Errorf("velocity rule requires a subject template")
		}
		if cfg.TimeWindowSeconds <= 0 || cfg.MaxCount <= 0 {
			return fmt.Errorf("velocity rule requires positive window and max count")
		}
	case RuleTypeAmount:
		cfg := r.Config.Amount
		if cfg == nil || cfg.MaxAmount <= 0 {
			return fmt.Errorf("amount rule requires a positive max amount")
		}
	case RuleTypeLocation:
		cfg := r.Config.Location
		if cfg == nil || (len(cfg.BlockedCountries) == 0 && !cfg.FlagAnonymizedIP) {
			return fmt.Errorf("location rule requires blocked countries or anonymized-IP flagging")
		}
	case RuleTypePattern:
		cfg := r.Config.Pattern
		if cfg == nil || (cfg.MaxFailedPayments <= 0 && !cfg.FlagRecentAccountChanges) {
			return fmt.Errorf("pattern rule requires a failed-payment ceiling or account-change flagging")
		}
	case RuleTypeDevice:
		cfg := r.Config.Device
		if cfg == nil || (cfg.MaxDevicesPerUser <= 0 && !cfg.FlagKnownDevices) {
			return fmt.Errorf("device rule requires a device ceiling or known-device flagging")
		}
	case RuleTypeCustom:
		cfg := r.Config.Custom
		if cfg == nil || cfg.Predicate == "" {
			return fmt.Errorf("custom rule requires a predicate name")
		}
		if !knownPredicate(cfg.Predicate) {
			return fmt.Errorf("unknown custom predicate %q", cfg.Predicate)
		}
	}
	return nil
}

// RiskAssessment is the persisted outcome of one scoring run. Records are
// append-only: assessments are never updated after creation.
type RiskAssessment struct {
	ID                   uuid.UUID   `json:"id"`
	UserID               uuid.UUID   `json:"user_id"`
	OrderID              *uuid.UUID  `json:"order_id,omitempty"`
	TransactionID        *uuid.UUID  `json:"transaction_id,omitempty"`
	Amount               float64     `json:"amount"`
	Currency             string      `json:"currency,omitempty"`
	IPAddress            string      `json:"ip_address,omitempty"`
	DeviceFingerprint    string      `json:"device_fingerprint,omitempty"`
	Score                float64     `json:"score"`
	Decision             Decision    `json:"decision"`
	TriggeredRuleIDs     []uuid.UUID `json:"triggered_rule_ids,omitempty"`
	RequiresManualReview bool        `json:"requires_manual_review"`
	Degraded             bool        `json:"degraded"`
	CreatedAt            time.Time   `json:"created_at"`
}

// FraudAlert is an operational case raised for human review.
type FraudAlert struct {
	ID               uuid.UUID              `json:"id"`
	Type             AlertType              `json:"type"`
	Severity         AlertSeverity          `json:"severity"`
	Status           AlertStatus            `json:"status"`
	Description      string                 `json:"description"`
	UserID           *uuid.UUID             `json:"user_id,omitempty"`
	OrderID          *uuid.UUID             `json:"order_id,omitempty"`
	RiskAssessmentID *uuid.UUID             `json:"risk_assessment_id,omitempty"`
	AssignedTo       *uuid.UUID             `json:"assigned_to,omitempty"`
	Resolution       string                 `json:"resolution,omitempty"`
	Notes            string                 `json:"notes,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// UserRiskFactors are the static account signals folded into every score.
type UserRiskFactors struct {
	AccountCreatedAt      time.Time `json:"account_created_at"`
	EmailVerified         bool      `json:"email_verified"`
	PhoneVerified         bool      `json:"phone_verified"`
	CompletedTransactions int       `json:"completed_transactions"`
}

// NewAccount reports whether the account is younger than 24 hours at now.
func (f *UserRiskFactors) NewAccount(now time.Time) bool {
	return now.Sub(f.AccountCreatedAt) < 24*time.Hour
}

// EvaluationResult aggregates one rule engine pass. SkippedRuleIDs lists
// rules that errored and were excluded; MaxSkippedWeight is the largest
// weight among them and drives the degradation bias.
type EvaluationResult struct {
	TriggeredRuleIDs []uuid.UUID
	TriggeredWeight  float64
	SkippedRuleIDs   []uuid.UUID
	MaxSkippedWeight float64
}

// Degraded reports whether any rule was skipped during evaluation.
func (r EvaluationResult) Degraded() bool {
	return len(r.SkippedRuleIDs) > 0
}

// Statistics summarizes engine activity since a point in time.
type Statistics struct {
	TotalAssessments int64              `json:"total_assessments"`
	ByDecision       map[Decision]int64 `json:"by_decision"`
	AverageScore     float64            `json:"average_score"`
	OpenAlerts       int64              `json:"open_alerts"`
	Since            time.Time          `json:"since"`
}
