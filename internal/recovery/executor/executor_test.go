package executor

import (
	"context"
	"testing"
	"time"

	"github.com/kashguard/go-consensus-infra/internal/consensus/node"
	"github.com/kashguard/go-consensus-infra/internal/consensus/storage"
	"github.com/kashguard/go-consensus-infra/internal/recovery"
	"github.com/kashguard/go-consensus-infra/internal/recovery/failure"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockConsensusControl is a mock implementation of ConsensusControl
type MockConsensusControl struct {
	mock.Mock
}

func (m *MockConsensusControl) FinalizeDecision(ctx context.Context, proposalID string) (*storage.DecisionRecord, error) {
	args := m.Called(ctx, proposalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.DecisionRecord), args.Error(1)
}

func (m *MockConsensusControl) UpdateNodeStatus(nodeID string, status node.Status) error {
	args := m.Called(nodeID, status)
	return args.Error(0)
}

func (m *MockConsensusControl) UpdateTrustScore(nodeID string, score float64) error {
	args := m.Called(nodeID, score)
	return args.Error(0)
}

func testFailure(domain, failureType string, details map[string]interface{}) recovery.FailureRecord {
	return recovery.FailureRecord{
		FailureID:   "failure-1",
		FailureType: failureType,
		Domain:      domain,
		Details:     details,
		Timestamp:   time.Now(),
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(NewSystemExecutor(LoggingSystemControl{}))

	e, err := r.Get(recovery.DomainSystem)
	require.NoError(t, err)
	assert.Equal(t, recovery.DomainSystem, e.RecoveryType())

	_, err = r.Get("unknown")
	assert.True(t, errors.Is(err, ErrNoExecutorForType))

	assert.Panics(t, func() {
		r.Register(NewSystemExecutor(LoggingSystemControl{}))
	})
}

func TestConsensusExecutor_ByzantineNode(t *testing.T) {
	control := new(MockConsensusControl)
	control.On("UpdateNodeStatus", "n3", node.StatusSuspended).Return(nil)
	control.On("UpdateTrustScore", "n3", 0.0).Return(nil)

	e := NewConsensusExecutor(control, nil)

	f := testFailure(recovery.DomainConsensus, failure.TypeByzantineNode, map[string]interface{}{"node_id": "n3"})
	steps, compensation, err := e.BuildPlan(f)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	require.Len(t, compensation, 2)

	plan := &recovery.Plan{PlanID: "plan-1", RecoveryType: recovery.DomainConsensus, Failure: f, Steps: steps}
	data, err := e.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, []string{"suspend_node", "zero_trust"}, data["steps_completed"])
	control.AssertExpectations(t)
}

func TestConsensusExecutor_StalledProposalQuorumStillOpen(t *testing.T) {
	quorumErr := errors.New("quorum not reached")
	control := new(MockConsensusControl)
	control.On("FinalizeDecision", mock.Anything, "p1").Return(nil, quorumErr)

	e := NewConsensusExecutor(control, func(err error) bool { return errors.Is(err, quorumErr) })

	f := testFailure(recovery.DomainConsensus, failure.TypeStalledProposal, map[string]interface{}{"proposal_id": "p1"})
	steps, _, err := e.BuildPlan(f)
	require.NoError(t, err)

	plan := &recovery.Plan{PlanID: "plan-1", Steps: steps}
	data, err := e.Execute(context.Background(), plan)
	require.NoError(t, err)

	results := data["results"].(map[string]interface{})
	stepResult := results["force_consensus_check"].(map[string]interface{})
	assert.Equal(t, false, stepResult["finalized"])
}

func TestExecute_StopsAtFirstFailingStep(t *testing.T) {
	control := new(MockConsensusControl)
	control.On("UpdateNodeStatus", "n3", node.StatusSuspended).Return(nil)
	control.On("UpdateTrustScore", "n3", 0.0).Return(errors.New("registry unavailable"))

	e := NewConsensusExecutor(control, nil)
	f := testFailure(recovery.DomainConsensus, failure.TypeByzantineNode, map[string]interface{}{"node_id": "n3"})
	steps, _, err := e.BuildPlan(f)
	require.NoError(t, err)

	plan := &recovery.Plan{PlanID: "plan-1", Steps: steps}
	data, err := e.Execute(context.Background(), plan)
	require.Error(t, err)

	// partial data survives for compensation
	assert.Equal(t, []string{"suspend_node"}, data["steps_completed"])
	assert.Equal(t, "zero_trust", data["failed_step"])
}

func TestExecute_HonorsContextCancellation(t *testing.T) {
	e := NewSystemExecutor(LoggingSystemControl{})
	f := testFailure(recovery.DomainSystem, failure.TypeResourceExhaustion, map[string]interface{}{"resource": "cpu"})
	steps, _, err := e.BuildPlan(f)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	plan := &recovery.Plan{PlanID: "plan-1", Steps: steps}
	_, err = e.Execute(ctx, plan)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestTrustExecutor(t *testing.T) {
	control := new(MockConsensusControl)
	control.On("UpdateTrustScore", "n1", 0.5).Return(nil)

	e := NewTrustExecutor(control)
	f := testFailure(recovery.DomainTrust, failure.TypeTrustDegraded, map[string]interface{}{
		"node_id": "n1", "score": 0.2, "threshold": 0.5,
	})

	steps, compensation, err := e.BuildPlan(f)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	require.Len(t, compensation, 1)
	assert.Equal(t, 0.2, compensation[0].Params["score"])

	plan := &recovery.Plan{PlanID: "plan-1", Steps: steps}
	_, err = e.Execute(context.Background(), plan)
	require.NoError(t, err)
	control.AssertExpectations(t)
}

func TestGovernanceExecutor(t *testing.T) {
	e := NewGovernanceExecutor(LoggingPolicyControl{})
	f := testFailure(recovery.DomainGovernance, failure.TypePolicyViolation, map[string]interface{}{
		"policy_id": "pol-1", "rule_id": "quorum-floor",
	})

	steps, compensation, err := e.BuildPlan(f)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	require.Len(t, compensation, 1)

	plan := &recovery.Plan{PlanID: "plan-1", Steps: steps}
	data, err := e.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, []string{"reload_policy", "reapply_rule"}, data["steps_completed"])
}

func TestSystemExecutor(t *testing.T) {
	e := NewSystemExecutor(LoggingSystemControl{})
	f := testFailure(recovery.DomainSystem, failure.TypeResourceExhaustion, map[string]interface{}{"resource": "memory"})

	steps, compensation, err := e.BuildPlan(f)
	require.NoError(t, err)
	assert.Empty(t, compensation)

	plan := &recovery.Plan{PlanID: "plan-1", Steps: steps}
	data, err := e.Execute(context.Background(), plan)
	require.NoError(t, err)

	results := data["results"].(map[string]interface{})
	diag := results["collect_diagnostics"].(map[string]interface{})
	assert.Contains(t, diag, "goroutines")
}

func TestBuildPlan_RejectsUnknownFailureType(t *testing.T) {
	e := NewConsensusExecutor(new(MockConsensusControl), nil)
	_, _, err := e.BuildPlan(testFailure(recovery.DomainConsensus, "made_up", nil))
	assert.Error(t, err)
}
