package fraud

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/cartvale/fraud-engine/pkg/counter"
)

// velocityKeyPrefix namespaces counter keys so velocity windows never
// collide with rate limit buckets sharing the same store.
const velocityKeyPrefix = "velocity"

// VelocityTracker counts subject activity in fixed windows on top of the
// shared counter store. Windows are fixed, not sliding: a burst straddling
// a window boundary can pass up to twice the configured ceiling.
type VelocityTracker struct {
	store counter.Store
}

// NewVelocityTracker creates a tracker backed by the given counter store.
func NewVelocityTracker(store counter.Store) *VelocityTracker {
	return &VelocityTracker{store: store}
}

// ResolveSubject expands the placeholders of a subject template against
// the context. Templates with an unresolvable placeholder return an error
// so the rule is skipped rather than counted against an empty subject.
func ResolveSubject(template string, fctx *FraudContext) (string, error) {
	replacements := map[string]string{
		"{userId}":            "",
		"{ipAddress}":         fctx.IPAddress,
		"{deviceFingerprint}": fctx.DeviceFingerprint,
		"{sessionId}":         fctx.SessionID,
	}
	if fctx.UserID != nil {
		replacements["{userId}"] = fctx.UserID.String()
	}

	subject := template
	for placeholder, value := range replacements {
		if !strings.Contains(subject, placeholder) {
			continue
		}
		if value == "" {
			return "", fmt.Errorf("subject template %q: no value for %s", template, placeholder)
		}
		subject = strings.ReplaceAll(subject, placeholder, value)
	}
	if subject == "" {
		return "", fmt.Errorf("subject template %q resolved to empty subject", template)
	}
	return subject, nil
}

// Check increments the window counter for the rule's subject and reports
// whether the count now exceeds the ceiling. The counter TTL is set only
// when the key is created, so the window does not slide with activity.
// Store errors propagate so the caller can record the rule as skipped.
func (t *VelocityTracker) Check(ctx context.Context, ruleID uuid.UUID, cfg VelocityConfig, fctx *FraudContext) (bool, error) {
	subject, err := ResolveSubject(cfg.Subject, fctx)
	if err != nil {
		return false, err
	}

	key := fmt.Sprintf("%s:%s:%s", velocityKeyPrefix, subject, ruleID)
	count, err := t.store.IncrementAndGet(ctx, key, cfg.Window())
	if err != nil {
		return false, fmt.Errorf("velocity counter %s: %w", key, err)
	}

	triggered := count > cfg.MaxCount
	if triggered {
		velocityTriggeredTotal.Inc()
	}
	return triggered, nil
}
