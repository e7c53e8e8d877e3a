package verifier

import (
	"context"

	"github.com/kashguard/go-consensus-infra/internal/recovery"
	"github.com/kashguard/go-consensus-infra/internal/recovery/failure"
)

// ConsensusVerifier re-probes the consensus snapshot: the stalled
// proposal must be gone from the pending set, or the flagged node gone
// from the byzantine set.
type ConsensusVerifier struct {
	source failure.ConsensusSource
}

func NewConsensusVerifier(source failure.ConsensusSource) *ConsensusVerifier {
	return &ConsensusVerifier{source: source}
}

func (v *ConsensusVerifier) RecoveryType() string {
	return recovery.DomainConsensus
}

func (v *ConsensusVerifier) Verify(ctx context.Context, plan *recovery.Plan) (recovery.VerificationResult, error) {
	if err := ctx.Err(); err != nil {
		return recovery.VerificationResult{}, err
	}

	ok, details := stepsComplete(plan)
	if !ok {
		return recovery.VerificationResult{Success: false, Details: details}, nil
	}

	snapshot := v.source()
	switch plan.Failure.FailureType {
	case failure.TypeStalledProposal:
		proposalID, _ := plan.Failure.Details["proposal_id"].(string)
		for _, p := range snapshot.PendingProposals {
			if p.ProposalID == proposalID {
				details["still_pending"] = proposalID
				return recovery.VerificationResult{Success: false, Details: details}, nil
			}
		}
	case failure.TypeByzantineNode:
		nodeID, _ := plan.Failure.Details["node_id"].(string)
		for _, id := range snapshot.ByzantineNodes {
			if id == nodeID {
				details["still_byzantine"] = nodeID
				return recovery.VerificationResult{Success: false, Details: details}, nil
			}
		}
	}

	return recovery.VerificationResult{Success: true, Details: details}, nil
}

// TrustVerifier checks the node's score climbed back over the minimum.
type TrustVerifier struct {
	source    failure.TrustSource
	threshold float64
}

func NewTrustVerifier(source failure.TrustSource, threshold float64) *TrustVerifier {
	return &TrustVerifier{source: source, threshold: threshold}
}

func (v *TrustVerifier) RecoveryType() string {
	return recovery.DomainTrust
}

func (v *TrustVerifier) Verify(ctx context.Context, plan *recovery.Plan) (recovery.VerificationResult, error) {
	if err := ctx.Err(); err != nil {
		return recovery.VerificationResult{}, err
	}

	ok, details := stepsComplete(plan)
	if !ok {
		return recovery.VerificationResult{Success: false, Details: details}, nil
	}

	nodeID, _ := plan.Failure.Details["node_id"].(string)
	score, known := v.source()[nodeID]
	details["node_id"] = nodeID
	details["score"] = score

	if !known || score < v.threshold {
		return recovery.VerificationResult{Success: false, Details: details}, nil
	}
	return recovery.VerificationResult{Success: true, Details: details}, nil
}

// GovernanceVerifier checks the violated rule is no longer reported.
type GovernanceVerifier struct {
	source failure.GovernanceSource
}

func NewGovernanceVerifier(source failure.GovernanceSource) *GovernanceVerifier {
	return &GovernanceVerifier{source: source}
}

func (v *GovernanceVerifier) RecoveryType() string {
	return recovery.DomainGovernance
}

func (v *GovernanceVerifier) Verify(ctx context.Context, plan *recovery.Plan) (recovery.VerificationResult, error) {
	if err := ctx.Err(); err != nil {
		return recovery.VerificationResult{}, err
	}

	ok, details := stepsComplete(plan)
	if !ok {
		return recovery.VerificationResult{Success: false, Details: details}, nil
	}

	policyID, _ := plan.Failure.Details["policy_id"].(string)
	ruleID, _ := plan.Failure.Details["rule_id"].(string)
	for _, violation := range v.source() {
		if violation.PolicyID == policyID && violation.RuleID == ruleID {
			details["still_violated"] = policyID
			return recovery.VerificationResult{Success: false, Details: details}, nil
		}
	}
	return recovery.VerificationResult{Success: true, Details: details}, nil
}

// SystemVerifier re-samples the metrics and checks the exhausted
// resource is back under its threshold.
type SystemVerifier struct {
	source     failure.SystemSource
	thresholds failure.SystemThresholds
}

func NewSystemVerifier(source failure.SystemSource, thresholds failure.SystemThresholds) *SystemVerifier {
	return &SystemVerifier{source: source, thresholds: thresholds}
}

func (v *SystemVerifier) RecoveryType() string {
	return recovery.DomainSystem
}

func (v *SystemVerifier) Verify(ctx context.Context, plan *recovery.Plan) (recovery.VerificationResult, error) {
	if err := ctx.Err(); err != nil {
		return recovery.VerificationResult{}, err
	}

	ok, details := stepsComplete(plan)
	if !ok {
		return recovery.VerificationResult{Success: false, Details: details}, nil
	}

	resource, _ := plan.Failure.Details["resource"].(string)
	m := v.source()

	var value, threshold float64
	switch resource {
	case "cpu":
		value, threshold = m.CPUPercent, v.thresholds.CPU
	case "memory":
		value, threshold = m.MemoryPercent, v.thresholds.Memory
	case "disk":
		value, threshold = m.DiskPercent, v.thresholds.Disk
	}
	details["resource"] = resource
	details["value"] = value

	if value > threshold {
		return recovery.VerificationResult{Success: false, Details: details}, nil
	}
	return recovery.VerificationResult{Success: true, Details: details}, nil
}
