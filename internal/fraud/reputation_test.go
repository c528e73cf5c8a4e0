package fraud

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type stubDetector struct {
	anonymized bool
	err        error
}

func (d stubDetector) IsAnonymizedIP(context.Context, string) (bool, error) {
	return d.anonymized, d.err
}

func TestOracleBlocklistHit(t *testing.T) {
	repo := new(mockRepo)
	repo.On("IsBlocklisted", mock.Anything, BlocklistKindEmail, "fraud@example.com").Return(true, nil)

	oracle := NewOracle(repo, nil, time.Second)
	result := oracle.CheckEmail(context.Background(), "fraud@example.com")

	assert.True(t, result.Blocked)
	assert.False(t, result.Degraded)
}

func TestOracleEmptyValuesSkipLookup(t *testing.T) {
	repo := new(mockRepo)
	oracle := NewOracle(repo, nil, time.Second)

	assert.Equal(t, ReputationResult{}, oracle.CheckIP(context.Background(), "", true))
	assert.Equal(t, ReputationResult{}, oracle.CheckEmail(context.Background(), ""))
	assert.Equal(t, ReputationResult{}, oracle.CheckDevice(context.Background(), ""))
	repo.AssertNotCalled(t, "IsBlocklisted", mock.Anything, mock.Anything, mock.Anything)
}

func TestOracleFailsOpenOnBlocklistError(t *testing.T) {
	repo := new(mockRepo)
	repo.On("IsBlocklisted", mock.Anything, BlocklistKindIP, "203.0.113.1").
		Return(false, errors.New("connection refused"))

	oracle := NewOracle(repo, nil, time.Second)
	result := oracle.CheckIP(context.Background(), "203.0.113.1", false)

	assert.False(t, result.Blocked)
	assert.True(t, result.Degraded)
}

func TestOracleAnonymizerDetection(t *testing.T) {
	repo := new(mockRepo)
	repo.On("IsBlocklisted", mock.Anything, BlocklistKindIP, "203.0.113.2").Return(false, nil)

	oracle := NewOracle(repo, stubDetector{anonymized: true}, time.Second)
	result := oracle.CheckIP(context.Background(), "203.0.113.2", true)

	assert.True(t, result.Anonymized)
	assert.False(t, result.Degraded)
}

func TestOracleAnonymizerFailureDegrades(t *testing.T) {
	repo := new(mockRepo)
	repo.On("IsBlocklisted", mock.Anything, BlocklistKindIP, "203.0.113.3").Return(false, nil)

	oracle := NewOracle(repo, stubDetector{err: errors.New("provider timeout")}, time.Second)
	result := oracle.CheckIP(context.Background(), "203.0.113.3", true)

	assert.False(t, result.Anonymized)
	assert.True(t, result.Degraded)
}

func TestOracleWithoutDetectorDegradesAnonymizerChecks(t *testing.T) {
	repo := new(mockRepo)
	repo.On("IsBlocklisted", mock.Anything, BlocklistKindIP, "203.0.113.4").Return(false, nil)

	oracle := NewOracle(repo, nil, time.Second)
	result := oracle.CheckIP(context.Background(), "203.0.113.4", true)

	assert.True(t, result.Degraded, "no detector configured means the answer is unknown")
}
