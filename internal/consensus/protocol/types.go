package protocol

import "time"

// Phase is the PBFT agreement phase of a proposal.
type Phase string

const (
	PhasePrePrepare Phase = "pre_prepare"
	PhasePrepare    Phase = "prepare"
	PhaseCommit     Phase = "commit"
	PhaseFinalized  Phase = "finalized"
)

// Status is the proposal lifecycle status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusFinalized Status = "finalized"
)

// Proposal is one governance decision submitted for agreement.
// Once Status is StatusFinalized, Result is set and never changes.
type Proposal struct {
	ProposalID  string
	DecisionID  string
	ProposerID  string
	Payload     map[string]interface{}
	Status      Status
	Phase       Phase  // PBFT only
	View        uint64 // view (PBFT) or term (Raft) the proposal was submitted under
	Votes       map[string]bool // latest vote per node
	Result      *bool
	CreatedAt   time.Time
	FinalizedAt *time.Time
}

// VoteEntry is one submission in a proposal's append-only vote log.
// Unlike Proposal.Votes it retains every submission, which is what the
// equivocation and flip analyses operate on.
type VoteEntry struct {
	NodeID    string
	Value     bool
	Timestamp time.Time
}

// Outcome is what a vote submission or consensus check produced.
type Outcome struct {
	Finalized bool
	Result    bool
}

// Protocol is the pluggable agreement rule. Implementations own the
// per-proposal phase state and the quorum/termination logic. All
// methods are safe for concurrent use; votes on the same proposal
// serialize, votes on different proposals proceed independently.
type Protocol interface {
	Type() string

	// SubmitProposal registers a new proposal with the protocol.
	SubmitProposal(p *Proposal) error

	// SubmitVote records a vote and advances the proposal. The returned
	// outcome signals whether the proposal reached a terminal result.
	SubmitVote(proposalID string, nodeID string, value bool, timestamp time.Time) (Outcome, error)

	// CheckConsensus re-evaluates the termination rule. It is
	// idempotent and safe to call repeatedly, including after
	// finalization.
	CheckConsensus(proposalID string) (Outcome, error)

	// DetectByzantineNodes returns IDs of nodes whose votes violate the
	// protocol's consistency rules.
	DetectByzantineNodes() []string

	// GetProposal returns a copy of the proposal.
	GetProposal(proposalID string) (*Proposal, error)

	// Proposals returns copies of all known proposals.
	Proposals() []*Proposal

	// VoteLog returns the append-only vote log of a proposal.
	VoteLog(proposalID string) ([]VoteEntry, error)

	// SetQuorumSize updates the quorum for future termination checks.
	SetQuorumSize(n int)

	// QuorumSize returns the current quorum.
	QuorumSize() int
}

func copyProposal(p *Proposal) *Proposal {
	c := *p
	c.Votes = make(map[string]bool, len(p.Votes))
	for k, v := range p.Votes {
		c.Votes[k] = v
	}
	if p.Result != nil {
		r := *p.Result
		c.Result = &r
	}
	if p.FinalizedAt != nil {
		ts := *p.FinalizedAt
		c.FinalizedAt = &ts
	}
	return &c
}

func tally(votes map[string]bool) (positive int, negative int) {
	for _, v := range votes {
		if v {
			positive++
		} else {
			negative++
		}
	}
	return positive, negative
}
