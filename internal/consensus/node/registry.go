package node

import (
	"sync"

	"github.com/dropbox/godropbox/time2"
	"github.com/pkg/errors"
)

var (
	ErrDuplicateNode   = errors.New("node is already registered")
	ErrUnknownNode     = errors.New("node is not registered")
	ErrInvalidNodeInfo = errors.New("invalid node info")
)

// Registry is the node table. It is owned by the consensus manager and
// mutated only through its methods; no caller ever holds a mutable
// reference into the table.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	clock time2.Clock
}

func NewRegistry(clock time2.Clock) *Registry {
	return &Registry{
		nodes: make(map[string]*Node),
		clock: clock,
	}
}

// Register adds a node. The public key, endpoint and at least one
// capability are required.
func (r *Registry) Register(nodeID string, info Info) (*Node, error) {
	if info.PublicKey == "" || info.Endpoint == "" || len(info.Capabilities) == 0 {
		return nil, errors.Wrapf(ErrInvalidNodeInfo, "node %s", nodeID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.nodes[nodeID]; ok {
		return nil, errors.Wrapf(ErrDuplicateNode, "node %s", nodeID)
	}

	trust := info.TrustScore
	if trust <= 0 {
		trust = 1.0
	}

	now := r.clock.Now()
	n := &Node{
		NodeID:       nodeID,
		PublicKey:    info.PublicKey,
		Endpoint:     info.Endpoint,
		Capabilities: append([]string(nil), info.Capabilities...),
		Status:       StatusActive,
		TrustScore:   clampScore(trust),
		RegisteredAt: now,
		LastSeen:     now,
	}
	r.nodes[nodeID] = n

	return snapshot(n), nil
}

// Get returns a copy of the node.
func (r *Registry) Get(nodeID string) (*Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.nodes[nodeID]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownNode, "node %s", nodeID)
	}
	return snapshot(n), nil
}

// List returns copies of all nodes, optionally filtered by status.
func (r *Registry) List(status Status) []*Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make([]*Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		if status != "" && n.Status != status {
			continue
		}
		res = append(res, snapshot(n))
	}
	return res
}

// ActiveCount returns the number of active nodes.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, n := range r.nodes {
		if n.Status == StatusActive {
			count++
		}
	}
	return count
}

// UpdateStatus transitions the node to the given status.
func (r *Registry) UpdateStatus(nodeID string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[nodeID]
	if !ok {
		return errors.Wrapf(ErrUnknownNode, "node %s", nodeID)
	}
	n.Status = status
	n.LastSeen = r.clock.Now()
	return nil
}

// UpdateTrustScore sets the trust score, clamped to [0,1].
func (r *Registry) UpdateTrustScore(nodeID string, score float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[nodeID]
	if !ok {
		return errors.Wrapf(ErrUnknownNode, "node %s", nodeID)
	}
	n.TrustScore = clampScore(score)
	return nil
}

// AppendVote records a cast vote in the node's history.
func (r *Registry) AppendVote(nodeID string, record VoteRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[nodeID]
	if !ok {
		return errors.Wrapf(ErrUnknownNode, "node %s", nodeID)
	}
	n.VoteHistory = append(n.VoteHistory, record)
	n.LastSeen = r.clock.Now()
	return nil
}

// AppendProposal records a proposal the node has initiated.
func (r *Registry) AppendProposal(nodeID string, proposalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[nodeID]
	if !ok {
		return errors.Wrapf(ErrUnknownNode, "node %s", nodeID)
	}
	n.ProposalHistory = append(n.ProposalHistory, proposalID)
	return nil
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func snapshot(n *Node) *Node {
	c := *n
	c.Capabilities = append([]string(nil), n.Capabilities...)
	c.VoteHistory = append([]VoteRecord(nil), n.VoteHistory...)
	c.ProposalHistory = append([]string(nil), n.ProposalHistory...)
	return &c
}
