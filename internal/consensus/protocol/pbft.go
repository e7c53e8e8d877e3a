package protocol

import (
	"sync"
	"time"

	"github.com/dropbox/godropbox/time2"
)

// TypePBFT selects the three-phase PBFT-style protocol.
const TypePBFT = "pbft"

// PBFT is a PBFT-style three-phase agreement rule. Each proposal walks
// pre_prepare -> prepare -> commit -> finalized; a phase advances once
// its vote count reaches the quorum, and the commit tally decides the
// result.
//
// A submitted vote is recorded into all three phase-vote maps at once:
// the system collects a single ballot per node rather than separate
// protocol-round messages. Phase advancement still gates on per-phase
// quorum, so the phase sequence stays monotonic.
type PBFT struct {
	mu     sync.RWMutex
	quorum int
	view   uint64
	states map[string]*pbftState
	clock  time2.Clock
}

type pbftState struct {
	mu         sync.Mutex
	proposal   *Proposal
	phaseVotes map[Phase]map[string]bool
	voteLog    []VoteEntry
}

func NewPBFT(quorumSize int, clock time2.Clock) *PBFT {
	return &PBFT{
		quorum: quorumSize,
		states: make(map[string]*pbftState),
		clock:  clock,
	}
}

func (p *PBFT) Type() string {
	return TypePBFT
}

// SetQuorumSize begins a new view; proposals submitted afterwards
// carry it.
func (p *PBFT) SetQuorumSize(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quorum = n
	p.view++
}

func (p *PBFT) QuorumSize() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.quorum
}

func (p *PBFT) SubmitProposal(proposal *Proposal) error {
	if proposal == nil || proposal.ProposalID == "" {
		return NewRejectedError("", "proposal is missing an id")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.states[proposal.ProposalID]; ok {
		return NewDuplicateProposalError(proposal.ProposalID)
	}

	proposal.Status = StatusPending
	proposal.Phase = PhasePrePrepare
	proposal.View = p.view
	if proposal.Votes == nil {
		proposal.Votes = make(map[string]bool)
	}
	if proposal.CreatedAt.IsZero() {
		proposal.CreatedAt = p.clock.Now()
	}

	p.states[proposal.ProposalID] = &pbftState{
		proposal: proposal,
		phaseVotes: map[Phase]map[string]bool{
			PhasePrePrepare: make(map[string]bool),
			PhasePrepare:    make(map[string]bool),
			PhaseCommit:     make(map[string]bool),
		},
	}

	return nil
}

func (p *PBFT) SubmitVote(proposalID string, nodeID string, value bool, timestamp time.Time) (Outcome, error) {
	state, quorum, err := p.state(proposalID)
	if err != nil {
		return Outcome{}, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	// Votes arriving after finalization are accepted but change nothing.
	if state.proposal.Status == StatusFinalized {
		return Outcome{Finalized: true, Result: *state.proposal.Result}, nil
	}

	if timestamp.IsZero() {
		timestamp = p.clock.Now()
	}

	// One ballot feeds every phase simultaneously.
	for _, phase := range []Phase{PhasePrePrepare, PhasePrepare, PhaseCommit} {
		state.phaseVotes[phase][nodeID] = value
	}
	state.proposal.Votes[nodeID] = value
	state.voteLog = append(state.voteLog, VoteEntry{NodeID: nodeID, Value: value, Timestamp: timestamp})

	return p.advanceLocked(state, quorum), nil
}

func (p *PBFT) CheckConsensus(proposalID string) (Outcome, error) {
	state, quorum, err := p.state(proposalID)
	if err != nil {
		return Outcome{}, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if state.proposal.Status == StatusFinalized {
		return Outcome{Finalized: true, Result: *state.proposal.Result}, nil
	}

	return p.advanceLocked(state, quorum), nil
}

// advanceLocked moves the proposal through its phases as far as the
// current quorum allows. Caller must hold state.mu.
func (p *PBFT) advanceLocked(state *pbftState, quorum int) Outcome {
	proposal := state.proposal

	if proposal.Phase == PhasePrePrepare && len(state.phaseVotes[PhasePrePrepare]) >= quorum {
		proposal.Phase = PhasePrepare
	}
	if proposal.Phase == PhasePrepare && len(state.phaseVotes[PhasePrepare]) >= quorum {
		proposal.Phase = PhaseCommit
	}
	if proposal.Phase == PhaseCommit && len(state.phaseVotes[PhaseCommit]) >= quorum {
		positive, negative := tally(state.phaseVotes[PhaseCommit])
		if positive >= quorum {
			return p.finalizeLocked(state, true)
		}
		if negative >= quorum {
			return p.finalizeLocked(state, false)
		}
	}

	return Outcome{}
}

func (p *PBFT) finalizeLocked(state *pbftState, result bool) Outcome {
	now := p.clock.Now()
	state.proposal.Status = StatusFinalized
	state.proposal.Phase = PhaseFinalized
	state.proposal.Result = &result
	state.proposal.FinalizedAt = &now
	return Outcome{Finalized: true, Result: result}
}

// DetectByzantineNodes flags nodes whose recorded votes differ between
// the three phases of a single proposal. The phases of one ballot
// should always agree; a mismatch means the state was tampered with or
// fed inconsistent messages.
func (p *PBFT) DetectByzantineNodes() []string {
	p.mu.RLock()
	states := make([]*pbftState, 0, len(p.states))
	for _, s := range p.states {
		states = append(states, s)
	}
	p.mu.RUnlock()

	flagged := make(map[string]struct{})
	for _, state := range states {
		state.mu.Lock()
		for nodeID := range state.phaseVotes[PhasePrePrepare] {
			prePrepare := state.phaseVotes[PhasePrePrepare][nodeID]
			prepare, inPrepare := state.phaseVotes[PhasePrepare][nodeID]
			commit, inCommit := state.phaseVotes[PhaseCommit][nodeID]
			if (inPrepare && prepare != prePrepare) || (inCommit && commit != prePrepare) {
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

func (p *PBFT) GetProposal(proposalID string) (*Proposal, error) {
	state, _, err := p.state(proposalID)
	if err != nil {
		return nil, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	return copyProposal(state.proposal), nil
}

func (p *PBFT) Proposals() []*Proposal {
	p.mu.RLock()
	states := make([]*pbftState, 0, len(p.states))
	for _, s := range p.states {
		states = append(states, s)
	}
	p.mu.RUnlock()

	res := make([]*Proposal, 0, len(states))
	for _, state := range states {
		state.mu.Lock()
		res = append(res, copyProposal(state.proposal))
		state.mu.Unlock()
	}
	return res
}

func (p *PBFT) VoteLog(proposalID string) ([]VoteEntry, error) {
	state, _, err := p.state(proposalID)
	if err != nil {
		return nil, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	return append([]VoteEntry(nil), state.voteLog...), nil
}

func (p *PBFT) state(proposalID string) (*pbftState, int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	state, ok := p.states[proposalID]
	if !ok {
		return nil, 0, NewUnknownProposalError(proposalID)
	}
	return state, p.quorum, nil
}
