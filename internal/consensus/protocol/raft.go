package protocol

import (
	"sync"
	"time"

	"github.com/dropbox/godropbox/time2"
)

// TypeRaft selects the Raft-style majority-vote protocol.
const TypeRaft = "raft"

// Raft is a majority-vote agreement rule without phases: a proposal is
// finalized as soon as either the positive or the negative tally of
// latest-per-node votes reaches the quorum. Every submission is also
// kept in an append-only log for equivocation analysis.
type Raft struct {
	mu     sync.RWMutex
	quorum int
	term   uint64
	states map[string]*raftState
	clock  time2.Clock
}

type raftState struct {
	mu       sync.Mutex
	proposal *Proposal
	voteLog  []VoteEntry
}

func NewRaft(quorumSize int, clock time2.Clock) *Raft {
	return &Raft{
		quorum: quorumSize,
		term:   1,
		states: make(map[string]*raftState),
		clock:  clock,
	}
}

func (r *Raft) Type() string {
	return TypeRaft
}

// SetQuorumSize begins a new term; proposals submitted afterwards
// carry it.
func (r *Raft) SetQuorumSize(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quorum = n
	r.term++
}

func (r *Raft) QuorumSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.quorum
}

func (r *Raft) SubmitProposal(proposal *Proposal) error {
	if proposal == nil || proposal.ProposalID == "" {
		return NewRejectedError("", "proposal is missing an id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.states[proposal.ProposalID]; ok {
		return NewDuplicateProposalError(proposal.ProposalID)
	}

	proposal.Status = StatusPending
	proposal.View = r.term
	if proposal.Votes == nil {
		proposal.Votes = make(map[string]bool)
	}
	if proposal.CreatedAt.IsZero() {
		proposal.CreatedAt = r.clock.Now()
	}

	r.states[proposal.ProposalID] = &raftState{proposal: proposal}

	return nil
}

func (r *Raft) SubmitVote(proposalID string, nodeID string, value bool, timestamp time.Time) (Outcome, error) {
	state, quorum, err := r.state(proposalID)
	if err != nil {
		return Outcome{}, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if state.proposal.Status == StatusFinalized {
		return Outcome{Finalized: true, Result: *state.proposal.Result}, nil
	}

	if timestamp.IsZero() {
		timestamp = r.clock.Now()
	}

	// Latest vote per node wins; the log keeps every submission.
	state.proposal.Votes[nodeID] = value
	state.voteLog = append(state.voteLog, VoteEntry{NodeID: nodeID, Value: value, Timestamp: timestamp})

	return r.checkLocked(state, quorum), nil
}

func (r *Raft) CheckConsensus(proposalID string) (Outcome, error) {
	state, quorum, err := r.state(proposalID)
	if err != nil {
		return Outcome{}, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if state.proposal.Status == StatusFinalized {
		return Outcome{Finalized: true, Result: *state.proposal.Result}, nil
	}

	return r.checkLocked(state, quorum), nil
}

func (r *Raft) checkLocked(state *raftState, quorum int) Outcome {
	positive, negative := tally(state.proposal.Votes)

	if positive >= quorum {
		return r.finalizeLocked(state, true)
	}
	if negative >= quorum {
		return r.finalizeLocked(state, false)
	}
	return Outcome{}
}

func (r *Raft) finalizeLocked(state *raftState, result bool) Outcome {
	now := r.clock.Now()
	state.proposal.Status = StatusFinalized
	state.proposal.Result = &result
	state.proposal.FinalizedAt = &now
	return Outcome{Finalized: true, Result: result}
}

// DetectByzantineNodes flags nodes with more than one entry in a
// proposal's append-only vote log (equivocation).
func (r *Raft) DetectByzantineNodes() []string {
	r.mu.RLock()
	states := make([]*raftState, 0, len(r.states))
	for _, s := range r.states {
		states = append(states, s)
	}
	r.mu.RUnlock()

	flagged := make(map[string]struct{})
	for _, state := range states {
		state.mu.Lock()
		counts := make(map[string]int)
		for _, entry := range state.voteLog {
			counts[entry.NodeID]++
		}
		for nodeID, count := range counts {
			if count > 1 {
				flagged[nodeID] = struct{}{}
			}
		}
		state.mu.Unlock()
	}

	res := make([]string, 0, len(flagged))
	for nodeID := range flagged {
		res = append(res, nodeID)
	}
	return res
}

func (r *Raft) GetProposal(proposalID string) (*Proposal, error) {
	state, _, err := r.state(proposalID)
	if err != nil {
		return nil, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	return copyProposal(state.proposal), nil
}

func (r *Raft) Proposals() []*Proposal {
	r.mu.RLock()
	states := make([]*raftState, 0, len(r.states))
	for _, s := range r.states {
		states = append(states, s)
	}
	r.mu.RUnlock()

	res := make([]*Proposal, 0, len(states))
	for _, state := range states {
		state.mu.Lock()
		res = append(res, copyProposal(state.proposal))
		state.mu.Unlock()
	}
	return res
}

func (r *Raft) VoteLog(proposalID string) ([]VoteEntry, error) {
	state, _, err := r.state(proposalID)
	if err != nil {
		return nil, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	return append([]VoteEntry(nil), state.voteLog...), nil
}

func (r *Raft) state(proposalID string) (*raftState, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.states[proposalID]
	if !ok {
		return nil, 0, NewUnknownProposalError(proposalID)
	}
	return state, r.quorum, nil
}
