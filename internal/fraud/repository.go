package fraud

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cartvale/fraud-engine/pkg/common"
)

// Repository handles fraud engine data operations. Assessments, rules,
// alerts and the reputation blocklist live in owned tables; the history
// lookups read the shared commerce schema.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new fraud repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateAssessment persists a risk assessment. Assessments are
// append-only; there is no update path.
func (r *Repository) CreateAssessment(ctx context.Context, assessment *RiskAssessment) error {
	ruleIDsJSON, err := json.Marshal(assessment.TriggeredRuleIDs)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO risk_assessments (
			id, user_id, order_id, transaction_id, amount, currency,
			ip_address, device_fingerprint, score, decision,
			triggered_rule_ids, requires_manual_review, degraded, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err = r.db.Exec(ctx, query,
		assessment.ID,
		assessment.UserID,
		assessment.OrderID,
		assessment.TransactionID,
		assessment.Amount,
		assessment.Currency,
		assessment.IPAddress,
		assessment.DeviceFingerprint,
		assessment.Score,
		assessment.Decision,
		ruleIDsJSON,
		assessment.RequiresManualReview,
		assessment.Degraded,
		assessment.CreatedAt,
	)

	return err
}

// GetAssessment retrieves a risk assessment by ID
func (r *Repository) GetAssessment(ctx context.Context, id uuid.UUID) (*RiskAssessment, error) {
	query := `
		SELECT id, user_id, order_id, transaction_id, amount, currency,
		       ip_address, device_fingerprint, score, decision,
		       triggered_rule_ids, requires_manual_review, degraded, created_at
		FROM risk_assessments
		WHERE id = $1
	`

	var assessment RiskAssessment
	var ruleIDsJSON []byte
	var currency, ipAddress, deviceFingerprint sql.NullString

	err := r.db.QueryRow(ctx, query, id).Scan(
		&assessment.ID,
		&assessment.UserID,
		&assessment.OrderID,
		&assessment.TransactionID,
		&assessment.Amount,
		&currency,
		&ipAddress,
		&deviceFingerprint,
		&assessment.Score,
		&assessment.Decision,
		&ruleIDsJSON,
		&assessment.RequiresManualReview,
		&assessment.Degraded,
		&assessment.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewNotFoundError("risk assessment not found", err)
		}
		return nil, err
	}

	assessment.Currency = currency.String
	assessment.IPAddress = ipAddress.String
	assessment.DeviceFingerprint = deviceFingerprint.String
	if len(ruleIDsJSON) > 0 {
		_ = json.Unmarshal(ruleIDsJSON, &assessment.TriggeredRuleIDs)
	}

	return &assessment, nil
}

// LatestScore returns the most recent assessment score for a user.
func (r *Repository) LatestScore(ctx context.Context, userID uuid.UUID) (float64, bool, error) {
	query := `
		SELECT score
		FROM risk_assessments
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	var score float64
	err := r.db.QueryRow(ctx, query, userID).Scan(&score)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return score, true, nil
}

// GetStatistics summarizes assessments and open alerts since a point in time.
func (r *Repository) GetStatistics(ctx context.Context, since time.Time) (*Statistics, error) {
	stats := &Statistics{
		ByDecision: make(map[Decision]int64),
		Since:      since,
	}

	query := `
		SELECT decision, COUNT(*), COALESCE(AVG(score), 0)
		FROM risk_assessments
		WHERE created_at >= $1
		GROUP BY decision
	`

	rows, err := r.db.Query(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var weightedSum float64
	for rows.Next() {
		var decision Decision
		var count int64
		var avg float64
		if err := rows.Scan(&decision, &count, &avg); err != nil {
			return nil, err
		}
		stats.ByDecision[decision] = count
		stats.TotalAssessments += count
		weightedSum += avg * float64(count)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if stats.TotalAssessments > 0 {
		stats.AverageScore = weightedSum / float64(stats.TotalAssessments)
	}

	alertQuery := `SELECT COUNT(*) FROM fraud_alerts WHERE status IN ('open', 'in_progress')`
	if err := r.db.QueryRow(ctx, alertQuery).Scan(&stats.OpenAlerts); err != nil {
		return nil, err
	}

	return stats, nil
}

// ListRules returns the rule catalog ordered by priority.
func (r *Repository) ListRules(ctx context.Context, activeOnly bool) ([]FraudRule, error) {
	query := `
		SELECT id, name, description, rule_type, weight, priority, is_active,
		       config, created_at, updated_at
		FROM fraud_rules
	`
	if activeOnly {
		query += ` WHERE is_active = true`
	}
	query += ` ORDER BY priority ASC, created_at ASC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []FraudRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

// GetRule retrieves a rule by ID
func (r *Repository) GetRule(ctx context.Context, id uuid.UUID) (*FraudRule, error) {
	query := `
		SELECT id, name, description, rule_type, weight, priority, is_active,
		       config, created_at, updated_at
		FROM fraud_rules
		WHERE id = $1
	`

	rule, err := scanRule(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewNotFoundError("fraud rule not found", err)
		}
		return nil, err
	}
	return rule, nil
}

// CreateRule persists a new rule
func (r *Repository) CreateRule(ctx context.Context, rule *FraudRule) error {
	configJSON, err := json.Marshal(rule.Config)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO fraud_rules (
			id, name, description, rule_type, weight, priority, is_active,
			config, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.db.Exec(ctx, query,
		rule.ID,
		rule.Name,
		rule.Description,
		rule.Type,
		rule.Weight,
		rule.Priority,
		rule.IsActive,
		configJSON,
		rule.CreatedAt,
		rule.UpdatedAt,
	)
	return err
}

// UpdateRule updates an existing rule
func (r *Repository) UpdateRule(ctx context.Context, rule *FraudRule) error {
	configJSON, err := json.Marshal(rule.Config)
	if err != nil {
		return err
	}

	query := `
		UPDATE fraud_rules
		SET name = $2, description = $3, rule_type = $4, weight = $5,
		    priority = $6, is_active = $7, config = $8, updated_at = $9
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query,
		rule.ID,
		rule.Name,
		rule.Description,
		rule.Type,
		rule.Weight,
		rule.Priority,
		rule.IsActive,
		configJSON,
		rule.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return common.NewNotFoundError("fraud rule not found", nil)
	}
	return nil
}

// DeleteRule removes a rule from the catalog
func (r *Repository) DeleteRule(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM fraud_rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return common.NewNotFoundError("fraud rule not found", nil)
	}
	return nil
}

// CreateAlert persists a new fraud alert
func (r *Repository) CreateAlert(ctx context.Context, alert *FraudAlert) error {
	metadataJSON, err := json.Marshal(alert.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO fraud_alerts (
			id, alert_type, severity, status, description, user_id, order_id,
			risk_assessment_id, assigned_to, resolution, notes, metadata,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err = r.db.Exec(ctx, query,
		alert.ID,
		alert.Type,
		alert.Severity,
		alert.Status,
		alert.Description,
		alert.UserID,
		alert.OrderID,
		alert.RiskAssessmentID,
		alert.AssignedTo,
		alert.Resolution,
		alert.Notes,
		metadataJSON,
		alert.CreatedAt,
		alert.UpdatedAt,
	)
	return err
}

// GetAlert retrieves a fraud alert by ID
func (r *Repository) GetAlert(ctx context.Context, id uuid.UUID) (*FraudAlert, error) {
	query := alertSelect + ` WHERE id = $1`

	alert, err := scanAlert(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewNotFoundError("fraud alert not found", err)
		}
		return nil, err
	}
	return alert, nil
}

// UpdateAlert persists alert changes
func (r *Repository) UpdateAlert(ctx context.Context, alert *FraudAlert) error {
	metadataJSON, err := json.Marshal(alert.Metadata)
	if err != nil {
		return err
	}

	query := `
		UPDATE fraud_alerts
		SET status = $2, assigned_to = $3, resolution = $4, notes = $5,
		    metadata = $6, updated_at = $7
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query,
		alert.ID,
		alert.Status,
		alert.AssignedTo,
		alert.Resolution,
		alert.Notes,
		metadataJSON,
		alert.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return common.NewNotFoundError("fraud alert not found", nil)
	}
	return nil
}

// ListAlertsByStatus returns alerts in a status, newest first, with a total count.
func (r *Repository) ListAlertsByStatus(ctx context.Context, status AlertStatus, limit, offset int) ([]FraudAlert, int64, error) {
	var total int64
	if err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM fraud_alerts WHERE status = $1`, status).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := alertSelect + `
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	alerts, err := collectAlerts(rows)
	return alerts, total, err
}

// ListAlertsByUser returns a user's alerts, newest first, with a total count.
func (r *Repository) ListAlertsByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]FraudAlert, int64, error) {
	var total int64
	if err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM fraud_alerts WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := alertSelect + `
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	alerts, err := collectAlerts(rows)
	return alerts, total, err
}

// IsBlocklisted reports whether a value of a kind is on the blocklist.
func (r *Repository) IsBlocklisted(ctx context.Context, kind, value string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM reputation_blocklist WHERE kind = $1 AND value = $2)`,
		kind, value).Scan(&exists)
	return exists, err
}

// AddBlocklistEntry adds or refreshes a blocklist entry.
func (r *Repository) AddBlocklistEntry(ctx context.Context, kind, value, reason string, addedBy uuid.UUID) error {
	query := `
		INSERT INTO reputation_blocklist (kind, value, reason, added_by, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (kind, value) DO UPDATE SET
			reason = EXCLUDED.reason,
			added_by = EXCLUDED.added_by
	`
	_, err := r.db.Exec(ctx, query, kind, value, reason, addedBy)
	return err
}

// RemoveBlocklistEntry removes a blocklist entry.
func (r *Repository) RemoveBlocklistEntry(ctx context.Context, kind, value string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM reputation_blocklist WHERE kind = $1 AND value = $2`, kind, value)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return common.NewNotFoundError("blocklist entry not found", nil)
	}
	return nil
}

// GetUserRiskFactors loads the static account signals from the users table.
func (r *Repository) GetUserRiskFactors(ctx context.Context, userID uuid.UUID) (*UserRiskFactors, error) {
	query := `
		SELECT u.created_at,
		       u.email_verified,
		       u.phone_verified,
		       (SELECT COUNT(*) FROM orders o WHERE o.user_id = u.id AND o.status = 'completed')
		FROM users u
		WHERE u.id = $1
	`

	var factors UserRiskFactors
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&factors.AccountCreatedAt,
		&factors.EmailVerified,
		&factors.PhoneVerified,
		&factors.CompletedTransactions,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewNotFoundError("user not found", err)
		}
		return nil, err
	}
	return &factors, nil
}

// RecentFailedPayments counts a user's failed payment attempts inside the lookback window.
func (r *Repository) RecentFailedPayments(ctx context.Context, userID string, lookback time.Duration) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM payment_attempts
		WHERE user_id = $1
		  AND status = 'failed'
		  AND created_at >= NOW() - $2::interval
	`
	var count int
	err := r.db.QueryRow(ctx, query, userID, lookback.String()).Scan(&count)
	return count, err
}

// RecentAccountChanges counts profile detail changes inside the lookback window.
func (r *Repository) RecentAccountChanges(ctx context.Context, userID string, lookback time.Duration) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM account_change_log
		WHERE user_id = $1
		  AND field IN ('email', 'phone', 'address')
		  AND changed_at >= NOW() - $2::interval
	`
	var count int
	err := r.db.QueryRow(ctx, query, userID, lookback.String()).Scan(&count)
	return count, err
}

// DistinctDeviceCount counts the devices a user has been seen on.
func (r *Repository) DistinctDeviceCount(ctx context.Context, userID string) (int, error) {
	query := `SELECT COUNT(DISTINCT fingerprint) FROM user_devices WHERE user_id = $1`
	var count int
	err := r.db.QueryRow(ctx, query, userID).Scan(&count)
	return count, err
}

// CompletedTransactionCount counts a user's completed orders.
func (r *Repository) CompletedTransactionCount(ctx context.Context, userID string) (int, error) {
	query := `SELECT COUNT(*) FROM orders WHERE user_id = $1 AND status = 'completed'`
	var count int
	err := r.db.QueryRow(ctx, query, userID).Scan(&count)
	return count, err
}

const alertSelect = `
	SELECT id, alert_type, severity, status, description, user_id, order_id,
	       risk_assessment_id, assigned_to, resolution, notes, metadata,
	       created_at, updated_at
	FROM fraud_alerts
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*FraudRule, error) {
	var rule FraudRule
	var description sql.NullString
	var configJSON []byte

	err := row.Scan(
		&rule.ID,
		&rule.Name,
		&description,
		&rule.Type,
		&rule.Weight,
		&rule.Priority,
		&rule.IsActive,
		&configJSON,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.Description = description.String
	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &rule.Config); err != nil {
			return nil, err
		}
	}
	return &rule, nil
}

func scanAlert(row rowScanner) (*FraudAlert, error) {
	var alert FraudAlert
	var resolution, notes sql.NullString
	var metadataJSON []byte

	err := row.Scan(
		&alert.ID,
		&alert.Type,
		&alert.Severity,
		&alert.Status,
		&alert.Description,
		&alert.UserID,
		&alert.OrderID,
		&alert.RiskAssessmentID,
		&alert.AssignedTo,
		&resolution,
		&notes,
		&metadataJSON,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	alert.Resolution = resolution.String
	alert.Notes = notes.String
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &alert.Metadata); err != nil {
			alert.Metadata = make(map[string]interface{})
		}
	}
	return &alert, nil
}

func collectAlerts(rows pgx.Rows) ([]FraudAlert, error) {
	var alerts []FraudAlert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, *alert)
	}
	return alerts, rows.Err()
}
