package executor

import (
	"context"

	"github.com/kashguard/go-consensus-infra/internal/consensus/node"
	"github.com/kashguard/go-consensus-infra/internal/consensus/storage"
	"github.com/kashguard/go-consensus-infra/internal/recovery"
	"github.com/kashguard/go-consensus-infra/internal/recovery/failure"
	"github.com/pkg/errors"
)

// ConsensusControl is the slice of the consensus engine the executor
// remediates through.
type ConsensusControl interface {
	FinalizeDecision(ctx context.Context, proposalID string) (*storage.DecisionRecord, error)
	UpdateNodeStatus(nodeID string, status node.Status) error
	UpdateTrustScore(nodeID string, score float64) error
}

// ConsensusExecutor remediates stalled proposals and byzantine nodes.
type ConsensusExecutor struct {
	base
	control     ConsensusControl
	quorumCheck func(error) bool
}

// NewConsensusExecutor builds the executor. quorumCheck classifies
// finalization errors that mean "quorum still open"; those do not fail
// the step.
func NewConsensusExecutor(control ConsensusControl, quorumCheck func(error) bool) *ConsensusExecutor {
	e := &ConsensusExecutor{
		base:        newBase(recovery.DomainConsensus),
		control:     control,
		quorumCheck: quorumCheck,
	}
	e.register("finalize_decision", e.finalizeDecision)
	e.register("suspend_node", e.suspendNode)
	e.register("set_trust", e.setTrust)
	return e
}

func (e *ConsensusExecutor) BuildPlan(f recovery.FailureRecord) ([]recovery.RemediationStep, []recovery.CompensationStep, error) {
	switch f.FailureType {
	case failure.TypeStalledProposal:
		proposalID, _ := f.Details["proposal_id"].(string)
		if proposalID == "" {
			return nil, nil, errors.New("stalled proposal failure without proposal_id")
		}
		steps := []recovery.RemediationStep{
			{Name: "force_consensus_check", Action: "finalize_decision", Params: map[string]interface{}{"proposal_id": proposalID}},
		}
		return steps, nil, nil

	case failure.TypeByzantineNode:
		nodeID, _ := f.Details["node_id"].(string)
		if nodeID == "" {
			return nil, nil, errors.New("byzantine node failure without node_id")
		}
		steps := []recovery.RemediationStep{
			{Name: "suspend_node", Action: "suspend_node", Params: map[string]interface{}{"node_id": nodeID}},
			{Name: "zero_trust", Action: "set_trust", Params: map[string]interface{}{"node_id": nodeID, "score": 0.0}},
		}
		compensation := []recovery.CompensationStep{
			{Name: "reactivate_node", Action: "reactivate_node", Params: map[string]interface{}{"node_id": nodeID}},
			{Name: "restore_trust", Action: "set_trust", Params: map[string]interface{}{"node_id": nodeID, "score": 1.0}},
		}
		return steps, compensation, nil

	default:
		return nil, nil, errors.Errorf("unsupported consensus failure type %s", f.FailureType)
	}
}

func (e *ConsensusExecutor) finalizeDecision(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	proposalID, err := paramString(params, "proposal_id")
	if err != nil {
		return nil, err
	}

	record, err := e.control.FinalizeDecision(ctx, proposalID)
	if err != nil {
		if e.quorumCheck != nil && e.quorumCheck(err) {
			// still pending, nothing to force
			return map[string]interface{}{"finalized": false}, nil
		}
		return nil, err
	}

	return map[string]interface{}{"finalized": true, "decision_id": record.DecisionID}, nil
}

func (e *ConsensusExecutor) suspendNode(_ context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	nodeID, err := paramString(params, "node_id")
	if err != nil {
		return nil, err
	}
	if err := e.control.UpdateNodeStatus(nodeID, node.StatusSuspended); err != nil {
		return nil, err
	}
	return map[string]interface{}{"node_id": nodeID, "status": string(node.StatusSuspended)}, nil
}

func (e *ConsensusExecutor) setTrust(_ context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	nodeID, err := paramString(params, "node_id")
	if err != nil {
		return nil, err
	}
	score, err := paramFloat(params, "score")
	if err != nil {
		return nil, err
	}
	if err := e.control.UpdateTrustScore(nodeID, score); err != nil {
		return nil, err
	}
	return map[string]interface{}{"node_id": nodeID, "score": score}, nil
}
