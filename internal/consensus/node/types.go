package node

import "time"

// Node is a consensus participant. Nodes are never deleted from the
// registry, only status-transitioned.
type Node struct {
	NodeID          string
	PublicKey       string
	Endpoint        string
	Capabilities    []string
	Status          Status
	TrustScore      float64 // [0,1]
	RegisteredAt    time.Time
	LastSeen        time.Time
	VoteHistory     []VoteRecord
	ProposalHistory []string
}

// Status is the node lifecycle status.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
	StatusByzantine Status = "byzantine"
)

// VoteRecord is one vote a node has cast, kept on the node for
// history queries and Byzantine analysis.
type VoteRecord struct {
	ProposalID string
	DecisionID string
	Value      bool
	Timestamp  time.Time
}

// Info is the caller-supplied registration payload.
type Info struct {
	PublicKey    string
	Endpoint     string
	Capabilities []string
	TrustScore   float64
}

// HasCapability reports whether the node advertises the capability.
func (n *Node) HasCapability(capability string) bool {
	for _, c := range n.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}
