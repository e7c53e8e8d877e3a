package manager

import (
	"context"
	"sync"

	"github.com/dropbox/godropbox/time2"
	"github.com/google/uuid"
	"github.com/kashguard/go-consensus-infra/internal/config"
	"github.com/kashguard/go-consensus-infra/internal/consensus/byzantine"
	"github.com/kashguard/go-consensus-infra/internal/consensus/crypto"
	"github.com/kashguard/go-consensus-infra/internal/consensus/node"
	"github.com/kashguard/go-consensus-infra/internal/consensus/protocol"
	"github.com/kashguard/go-consensus-infra/internal/consensus/storage"
	"github.com/kashguard/go-consensus-infra/internal/consensus/vote"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	ErrQuorumExceedsActiveNodes = errors.New("quorum exceeds number of active nodes")
	ErrQuorumNotReached         = errors.New("quorum not reached")
	ErrProtocolRejected         = errors.New("protocol rejected the proposal")
)

// Manager orchestrates node registration, proposal submission, vote
// intake and decision finalization. It is the only component other
// subsystems call into; the node registry and the protocol's proposal
// table are mutated exclusively through its operations.
type Manager struct {
	cfg       config.Consensus
	registry  *node.Registry
	validator *vote.Validator
	protocol  protocol.Protocol
	detector  *byzantine.Detector
	decisions storage.DecisionRegistry
	clock     time2.Clock

	// registered guards the one-shot decision-registry write per proposal.
	mu         sync.Mutex
	registered map[string]struct{}
}

func NewManager(cfg config.Consensus, proto protocol.Protocol, decisions storage.DecisionRegistry, verifier crypto.Verifier, clock time2.Clock) *Manager {
	return &Manager{
		cfg:        cfg,
		registry:   node.NewRegistry(clock),
		validator:  vote.NewValidator(cfg.MinTrustScore, cfg.RequiredCapabilities, cfg.MaxVoteAge, cfg.RequireSignatures, verifier, clock),
		protocol:   proto,
		detector:   byzantine.NewDetector(cfg.VoteFlipThreshold, clock),
		decisions:  decisions,
		clock:      clock,
		registered: make(map[string]struct{}),
	}
}

// RegisterNode adds a node to the registry.
func (m *Manager) RegisterNode(nodeID string, info node.Info) (*node.Node, error) {
	n, err := m.registry.Register(nodeID, info)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("node_id", nodeID).
		Str("endpoint", info.Endpoint).
		Msg("Node registered")

	return n, nil
}

// GetNode returns a copy of the node.
func (m *Manager) GetNode(nodeID string) (*node.Node, error) {
	return m.registry.Get(nodeID)
}

// ListNodes returns copies of all nodes, optionally filtered by status.
func (m *Manager) ListNodes(status node.Status) []*node.Node {
	return m.registry.List(status)
}

// UpdateNodeStatus transitions a node's lifecycle status. Byzantine
// findings are advisory; suspending a node happens only through this
// explicit call.
func (m *Manager) UpdateNodeStatus(nodeID string, status node.Status) error {
	if err := m.registry.UpdateStatus(nodeID, status); err != nil {
		return err
	}

	log.Info().
		Str("node_id", nodeID).
		Str("status", string(status)).
		Msg("Node status updated")

	return nil
}

// UpdateTrustScore sets a node's trust score, clamped to [0,1].
func (m *Manager) UpdateTrustScore(nodeID string, score float64) error {
	return m.registry.UpdateTrustScore(nodeID, score)
}

// ProposeDecision submits a new proposal for the given decision and
// returns the generated proposal id.
func (m *Manager) ProposeDecision(decisionID string, payload map[string]interface{}) (string, error) {
	proposalID := "proposal-" + uuid.New().String()

	p := &protocol.Proposal{
		ProposalID: proposalID,
		DecisionID: decisionID,
		Payload:    payload,
		CreatedAt:  m.clock.Now(),
	}

	if err := m.protocol.SubmitProposal(p); err != nil {
		return "", errors.Wrapf(ErrProtocolRejected, "decision %s: %v", decisionID, err)
	}

	log.Info().
		Str("proposal_id", proposalID).
		Str("decision_id", decisionID).
		Msg("Proposal submitted")

	return proposalID, nil
}

// VoteOnProposal validates and records a vote. If the vote completes a
// quorum the proposal is finalized and the decision registered.
func (m *Manager) VoteOnProposal(ctx context.Context, v vote.Vote) error {
	n, err := m.registry.Get(v.NodeID)
	if err != nil {
		return err
	}

	if err := m.validator.Validate(v, n); err != nil {
		return err
	}

	proposal, err := m.protocol.GetProposal(v.ProposalID)
	if err != nil {
		return err
	}

	outcome, err := m.protocol.SubmitVote(v.ProposalID, v.NodeID, v.Value, v.Timestamp)
	if err != nil {
		return err
	}

	ts := v.Timestamp
	if ts.IsZero() {
		ts = m.clock.Now()
	}
	if err := m.registry.AppendVote(v.NodeID, node.VoteRecord{
		ProposalID: v.ProposalID,
		DecisionID: proposal.DecisionID,
		Value:      v.Value,
		Timestamp:  ts,
	}); err != nil {
		return err
	}

	if outcome.Finalized {
		if _, err := m.FinalizeDecision(ctx, v.ProposalID); err != nil {
			return err
		}
	}

	return nil
}

// FinalizeDecision forces a consensus check and, when a quorum has been
// reached, registers the decision. It is idempotent: repeated calls
// return the stored result and never write the registry twice.
func (m *Manager) FinalizeDecision(ctx context.Context, proposalID string) (*storage.DecisionRecord, error) {
	outcome, err := m.protocol.CheckConsensus(proposalID)
	if err != nil {
		return nil, err
	}
	if !outcome.Finalized {
		return nil, errors.Wrapf(ErrQuorumNotReached, "proposal %s", proposalID)
	}

	proposal, err := m.protocol.GetProposal(proposalID)
	if err != nil {
		return nil, err
	}

	record := &storage.DecisionRecord{
		DecisionID:   proposal.DecisionID,
		ProposalID:   proposal.ProposalID,
		Payload:      proposal.Payload,
		Result:       outcome.Result,
		RegisteredAt: m.clock.Now(),
	}

	m.mu.Lock()
	_, alreadyRegistered := m.registered[proposalID]
	if !alreadyRegistered {
		m.registered[proposalID] = struct{}{}
	}
	m.mu.Unlock()

	if alreadyRegistered {
		return record, nil
	}

	if err := m.decisions.RegisterDecision(ctx, record); err != nil {
		// Roll back the guard so a later call can retry the write.
		m.mu.Lock()
		delete(m.registered, proposalID)
		m.mu.Unlock()
		return nil, errors.Wrap(err, "failed to register decision")
	}

	log.Info().
		Str("proposal_id", proposalID).
		Str("decision_id", proposal.DecisionID).
		Bool("result", outcome.Result).
		Msg("Decision finalized")

	return record, nil
}

// GetDecision returns a finalized decision from the registry.
func (m *Manager) GetDecision(ctx context.Context, decisionID string) (*storage.DecisionRecord, error) {
	return m.decisions.GetDecision(ctx, decisionID)
}

// GetProposal returns a copy of the proposal.
func (m *Manager) GetProposal(proposalID string) (*protocol.Proposal, error) {
	return m.protocol.GetProposal(proposalID)
}

// DetectByzantineBehavior analyzes the full proposal and vote history
// and returns flagged node ids. Findings are advisory; callers decide
// whether to suspend nodes.
func (m *Manager) DetectByzantineBehavior() []string {
	proposals := m.protocol.Proposals()

	history := make([]byzantine.ProposalVotes, 0, len(proposals))
	for _, p := range proposals {
		voteLog, err := m.protocol.VoteLog(p.ProposalID)
		if err != nil {
			continue
		}
		history = append(history, byzantine.ProposalVotes{
			ProposalID: p.ProposalID,
			DecisionID: p.DecisionID,
			Votes:      p.Votes,
			Log:        voteLog,
		})
	}

	flagged := make(map[string]struct{})
	for _, nodeID := range m.detector.Analyze(history) {
		flagged[nodeID] = struct{}{}
	}
	for _, nodeID := range m.protocol.DetectByzantineNodes() {
		flagged[nodeID] = struct{}{}
	}

	res := make([]string, 0, len(flagged))
	for nodeID := range flagged {
		res = append(res, nodeID)
	}

	if len(res) > 0 {
		log.Warn().
			Strs("node_ids", res).
			Msg("Byzantine behavior detected")
	}

	return res
}

// PendingProposals returns copies of all proposals that have not
// finalized yet.
func (m *Manager) PendingProposals() []*protocol.Proposal {
	var res []*protocol.Proposal
	for _, p := range m.protocol.Proposals() {
		if p.Status == protocol.StatusPending {
			res = append(res, p)
		}
	}
	return res
}

// TrustScores returns the current trust score per node.
func (m *Manager) TrustScores() map[string]float64 {
	scores := make(map[string]float64)
	for _, n := range m.registry.List("") {
		scores[n.NodeID] = n.TrustScore
	}
	return scores
}

// DetectionHistory returns the detector's findings for one node.
func (m *Manager) DetectionHistory(nodeID string) []byzantine.Detection {
	return m.detector.History(nodeID)
}

// UpdateQuorumSize changes the quorum for future termination checks.
func (m *Manager) UpdateQuorumSize(n int) error {
	if active := m.registry.ActiveCount(); n > active {
		return errors.Wrapf(ErrQuorumExceedsActiveNodes, "quorum %d, active nodes %d", n, active)
	}

	m.protocol.SetQuorumSize(n)

	log.Info().
		Int("quorum_size", n).
		Msg("Quorum size updated")

	return nil
}
