package fraud

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cartvale/fraud-engine/pkg/logger"
	"github.com/cartvale/fraud-engine/pkg/resilience"
)

// Blocklist kinds stored in reputation_blocklist.
const (
	BlocklistKindIP     = "ip"
	BlocklistKindEmail  = "email"
	BlocklistKindDevice = "device"
)

// BlocklistSource answers whether a value of a given kind is blocklisted.
type BlocklistSource interface {
	IsBlocklisted(ctx context.Context, kind, value string) (bool, error)
}

// AnonymizerDetector reports whether an IP belongs to a VPN, proxy or
// datacenter range. Implementations typically call an external provider.
type AnonymizerDetector interface {
	IsAnonymizedIP(ctx context.Context, ip string) (bool, error)
}

// ReputationResult is the outcome of one reputation lookup. Degraded means
// the answer could not be obtained and the engine should fail open.
type ReputationResult struct {
	Blocked    bool
	Anonymized bool
	Degraded   bool
}

// Oracle consults the blocklist and the anonymizer detector. Lookups never
// return an error: an unavailable upstream degrades the result instead of
// failing the assessment, and the detector sits behind a circuit breaker
// so a flapping provider stops being called at all.
type Oracle struct {
	lists    BlocklistSource
	detector AnonymizerDetector
	breaker  *resilience.CircuitBreaker
	timeout  time.Duration
}

// NewOracle builds a reputation oracle. detector may be nil when no
// external provider is configured; anonymizer checks then always degrade.
func NewOracle(lists BlocklistSource, detector AnonymizerDetector, timeout time.Duration) *Oracle {
	o := &Oracle{
		lists:    lists,
		detector: detector,
		timeout:  timeout,
	}
	if detector != nil {
		o.breaker = resilience.NewCircuitBreaker(resilience.Settings{
			Name:             "reputation-anonymizer",
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
		}, nil)
	}
	return o
}

// CheckIP looks up an IP against the blocklist and, when requested, the
// anonymizer detector.
func (o *Oracle) CheckIP(ctx context.Context, ip string, detectAnonymizer bool) ReputationResult {
	if ip == "" {
		return ReputationResult{}
	}

	result := o.checkBlocklist(ctx, BlocklistKindIP, ip)

	if detectAnonymizer && !result.Blocked {
		anonymized, err := o.detectAnonymizer(ctx, ip)
		if err != nil {
			logger.WarnContext(ctx, "anonymizer detection unavailable, failing open",
				zap.String("ip", ip),
				zap.Error(err),
			)
			recordDegradation("anonymizer")
			result.Degraded = true
		} else {
			result.Anonymized = anonymized
		}
	}

	return result
}

// CheckEmail looks up an email address against the blocklist.
func (o *Oracle) CheckEmail(ctx context.Context, email string) ReputationResult {
	if email == "" {
		return ReputationResult{}
	}
	return o.checkBlocklist(ctx, BlocklistKindEmail, email)
}

// CheckDevice looks up a device fingerprint against the blocklist.
func (o *Oracle) CheckDevice(ctx context.Context, fingerprint string) ReputationResult {
	if fingerprint == "" {
		return ReputationResult{}
	}
	return o.checkBlocklist(ctx, BlocklistKindDevice, fingerprint)
}

func (o *Oracle) checkBlocklist(ctx context.Context, kind, value string) ReputationResult {
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	blocked, err := o.lists.IsBlocklisted(ctx, kind, value)
	if err != nil {
		logger.WarnContext(ctx, "blocklist lookup failed, failing open",
			zap.String("kind", kind),
			zap.Error(err),
		)
		recordDegradation("blocklist")
		return ReputationResult{Degraded: true}
	}
	return ReputationResult{Blocked: blocked}
}

func (o *Oracle) detectAnonymizer(ctx context.Context, ip string) (bool, error) {
	if o.detector == nil {
		return false, fmt.Errorf("no anonymizer detector configured")
	}

	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	result, err := o.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return o.detector.IsAnonymizedIP(ctx, ip)
	})
	if err != nil {
		return false, err
	}
	anonymized, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("unexpected detector result type %T", result)
	}
	return anonymized, nil
}

func (o *Oracle) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.timeout)
}
