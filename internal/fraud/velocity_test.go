package fraud

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartvale/fraud-engine/pkg/counter"
)

func TestResolveSubject(t *testing.T) {
	userID := uuid.New()
	fctx := &FraudContext{
		UserID:            &userID,
		IPAddress:         "198.51.100.4",
		DeviceFingerprint: "fp-abc",
		SessionID:         "sess-1",
	}

	subject, err := ResolveSubject("user:{userId}", fctx)
	require.NoError(t, err)
	assert.Equal(t, "user:"+userID.String(), subject)

	subject, err = ResolveSubject("ip:{ipAddress}:device:{deviceFingerprint}", fctx)
	require.NoError(t, err)
	assert.Equal(t, "ip:198.51.100.4:device:fp-abc", subject)

	_, err = ResolveSubject("user:{userId}", &FraudContext{})
	assert.Error(t, err, "missing placeholder value must error, not count against an empty subject")
}

func TestVelocityCheckTriggersAboveCeiling(t *testing.T) {
	store := counter.NewMemoryStore()
	tracker := NewVelocityTracker(store)
	userID := uuid.New()
	ruleID := uuid.New()

	cfg := VelocityConfig{Subject: "user:{userId}", TimeWindowSeconds: 60, MaxCount: 3}
	fctx := &FraudContext{UserID: &userID}

	for i := 0; i < 3; i++ {
		triggered, err := tracker.Check(context.Background(), ruleID, cfg, fctx)
		require.NoError(t, err)
		assert.False(t, triggered, "attempt %d within the ceiling must pass", i+1)
	}

	triggered, err := tracker.Check(context.Background(), ruleID, cfg, fctx)
	require.NoError(t, err)
	assert.True(t, triggered, "attempt maxCount+1 must trigger")
}

func TestVelocityCountsArePerRuleAndSubject(t *testing.T) {
	store := counter.NewMemoryStore()
	tracker := NewVelocityTracker(store)
	userA := uuid.New()
	userB := uuid.New()
	ruleID := uuid.New()

	cfg := VelocityConfig{Subject: "user:{userId}", TimeWindowSeconds: 60, MaxCount: 1}

	_, err := tracker.Check(context.Background(), ruleID, cfg, &FraudContext{UserID: &userA})
	require.NoError(t, err)

	triggered, err := tracker.Check(context.Background(), ruleID, cfg, &FraudContext{UserID: &userB})
	require.NoError(t, err)
	assert.False(t, triggered, "a different subject starts its own window")

	otherRule := uuid.New()
	triggered, err = tracker.Check(context.Background(), otherRule, cfg, &FraudContext{UserID: &userA})
	require.NoError(t, err)
	assert.False(t, triggered, "a different rule keys its own counter")
}

func TestVelocityConcurrentChecksLoseNoIncrements(t *testing.T) {
	store := counter.NewMemoryStore()
	tracker := NewVelocityTracker(store)
	userID := uuid.New()
	ruleID := uuid.New()

	const attempts = 40
	cfg := VelocityConfig{Subject: "user:{userId}", TimeWindowSeconds: 60, MaxCount: 20}
	fctx := &FraudContext{UserID: &userID}

	var wg sync.WaitGroup
	results := make([]bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			triggered, err := tracker.Check(context.Background(), ruleID, cfg, fctx)
			require.NoError(t, err)
			results[i] = triggered
		}(i)
	}
	wg.Wait()

	triggeredCount := 0
	for _, triggered := range results {
		if triggered {
			triggeredCount++
		}
	}
	assert.Equal(t, attempts-int(cfg.MaxCount), triggeredCount,
		"exactly the attempts beyond the ceiling must trigger")

	key := fmt.Sprintf("velocity:user:%s:%s", userID, ruleID)
	count, exists, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, int64(attempts), count, "no increments may be lost under concurrency")
}

func TestVelocityStoreErrorPropagates(t *testing.T) {
	tracker := NewVelocityTracker(failingCounterStore{})
	userID := uuid.New()

	_, err := tracker.Check(context.Background(), uuid.New(),
		VelocityConfig{Subject: "user:{userId}", TimeWindowSeconds: 60, MaxCount: 3},
		&FraudContext{UserID: &userID})
	assert.Error(t, err, "store failures surface so the rule is recorded as skipped")
}

type failingCounterStore struct{}

func (failingCounterStore) IncrementAndGet(context.Context, string, time.Duration) (int64, error) {
	return 0, fmt.Errorf("store unavailable")
}

func (failingCounterStore) Get(context.Context, string) (int64, bool, error) {
	return 0, false, fmt.Errorf("store unavailable")
}
