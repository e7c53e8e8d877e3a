package failure

import (
	"context"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/kashguard/go-consensus-infra/internal/recovery"
)

// Failure types reported by the consensus detector.
const (
	TypeStalledProposal = "stalled_proposal"
	TypeByzantineNode   = "byzantine_node"
)

// PendingProposal is the consensus snapshot entry for one unfinalized
// proposal.
type PendingProposal struct {
	ProposalID string
	DecisionID string
	CreatedAt  time.Time
}

// ConsensusSnapshot is what the consensus engine exposes to the
// detector.
type ConsensusSnapshot struct {
	PendingProposals []PendingProposal
	ByzantineNodes   []string
}

// ConsensusSource provides the current consensus snapshot.
type ConsensusSource func() ConsensusSnapshot

// ConsensusDetector flags proposals pending longer than the node
// timeout and nodes the engine has flagged as byzantine.
type ConsensusDetector struct {
	source  ConsensusSource
	timeout time.Duration
	clock   time2.Clock
}

func NewConsensusDetector(source ConsensusSource, timeout time.Duration, clock time2.Clock) *ConsensusDetector {
	return &ConsensusDetector{source: source, timeout: timeout, clock: clock}
}

func (d *ConsensusDetector) Domain() string {
	return recovery.DomainConsensus
}

func (d *ConsensusDetector) Detect(_ context.Context) ([]recovery.FailureRecord, error) {
	snapshot := d.source()
	now := d.clock.Now()

	var records []recovery.FailureRecord
	for _, p := range snapshot.PendingProposals {
		age := now.Sub(p.CreatedAt)
		if age <= d.timeout {
			continue
		}
		records = append(records, newRecord(d.clock, recovery.DomainConsensus, TypeStalledProposal, map[string]interface{}{
			"proposal_id": p.ProposalID,
			"decision_id": p.DecisionID,
			"age_seconds": age.Seconds(),
		}))
	}

	for _, nodeID := range snapshot.ByzantineNodes {
		records = append(records, newRecord(d.clock, recovery.DomainConsensus, TypeByzantineNode, map[string]interface{}{
			"node_id": nodeID,
		}))
	}

	return records, nil
}
