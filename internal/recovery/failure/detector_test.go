package failure

import (
	"context"
	"testing"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/kashguard/go-consensus-infra/internal/recovery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsensusDetector(t *testing.T) {
	clock := time2.NewMockClock(time.Now())
	snapshot := ConsensusSnapshot{
		PendingProposals: []PendingProposal{
			{ProposalID: "p-old", DecisionID: "d1", CreatedAt: clock.Now().Add(-2 * time.Minute)},
			{ProposalID: "p-fresh", DecisionID: "d2", CreatedAt: clock.Now().Add(-10 * time.Second)},
		},
		ByzantineNodes: []string{"n3"},
	}
	d := NewConsensusDetector(func() ConsensusSnapshot { return snapshot }, 30*time.Second, clock)

	records, err := d.Detect(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, TypeStalledProposal, records[0].FailureType)
	assert.Equal(t, "p-old", records[0].Details["proposal_id"])
	assert.Equal(t, recovery.DomainConsensus, records[0].Domain)

	assert.Equal(t, TypeByzantineNode, records[1].FailureType)
	assert.Equal(t, "n3", records[1].Details["node_id"])
}

func TestTrustDetector(t *testing.T) {
	clock := time2.NewMockClock(time.Now())
	scores := map[string]float64{"n0": 0.9, "n1": 0.2, "n2": 0.4}
	d := NewTrustDetector(func() map[string]float64 { return scores }, 0.5, clock)

	records, err := d.Detect(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)

	// sorted by node id
	assert.Equal(t, "n1", records[0].Details["node_id"])
	assert.Equal(t, "n2", records[1].Details["node_id"])
	assert.Equal(t, TypeTrustDegraded, records[0].FailureType)
}

func TestGovernanceDetector(t *testing.T) {
	clock := time2.NewMockClock(time.Now())
	violations := []PolicyViolation{{PolicyID: "pol-1", RuleID: "quorum-floor", Description: "quorum below policy floor"}}
	d := NewGovernanceDetector(func() []PolicyViolation { return violations }, clock)

	records, err := d.Detect(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, TypePolicyViolation, records[0].FailureType)
	assert.Equal(t, "pol-1", records[0].Details["policy_id"])
}

func TestSystemDetector(t *testing.T) {
	clock := time2.NewMockClock(time.Now())
	metrics := ResourceMetrics{CPUPercent: 95, MemoryPercent: 50, DiskPercent: 86}
	d := NewSystemDetector(func() ResourceMetrics { return metrics }, DefaultSystemThresholds(), clock)

	records, err := d.Detect(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "cpu", records[0].Details["resource"])
	assert.Equal(t, "disk", records[1].Details["resource"])
}

func TestDetectorsReportNothingWhenHealthy(t *testing.T) {
	clock := time2.NewMockClock(time.Now())

	detectors := []Detector{
		NewConsensusDetector(func() ConsensusSnapshot { return ConsensusSnapshot{} }, 30*time.Second, clock),
		NewTrustDetector(func() map[string]float64 { return map[string]float64{"n0": 1.0} }, 0.5, clock),
		NewGovernanceDetector(func() []PolicyViolation { return nil }, clock),
		NewSystemDetector(func() ResourceMetrics { return ResourceMetrics{CPUPercent: 10, MemoryPercent: 10, DiskPercent: 10} }, DefaultSystemThresholds(), clock),
	}

	for _, d := range detectors {
		records, err := d.Detect(context.Background())
		require.NoError(t, err)
		assert.Empty(t, records, d.Domain())
	}
}
