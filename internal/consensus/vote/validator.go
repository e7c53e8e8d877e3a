package vote

import (
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/kashguard/go-consensus-infra/internal/consensus/crypto"
	"github.com/kashguard/go-consensus-infra/internal/consensus/node"
	"github.com/pkg/errors"
)

// maxClockSkew is how far in the future a vote timestamp may lie before
// the vote is rejected.
const maxClockSkew = 60 * time.Second

var (
	ErrNodeNotActive     = errors.New("node is not active")
	ErrInsufficientTrust = errors.New("node trust score below minimum")
	ErrMissingCapability = errors.New("node lacks required capability")
	ErrMissingSignature  = errors.New("vote signature required but missing")
	ErrInvalidSignature  = errors.New("vote signature verification failed")
	ErrVoteFromFuture    = errors.New("vote timestamp is too far in the future")
	ErrVoteExpired       = errors.New("vote is older than the maximum vote age")
)

// Vote is a single ballot. A present Signature and Timestamp are always
// checked; an absent Signature is rejected only when the validator
// requires signed votes.
type Vote struct {
	NodeID     string
	ProposalID string
	Value      bool
	Timestamp  time.Time
	Signature  []byte
}

// Validator is a stateless admissibility check for incoming votes.
// It performs no mutation and is safe for concurrent use.
type Validator struct {
	minTrustScore        float64
	requiredCapabilities []string
	maxVoteAge           time.Duration
	requireSignature     bool
	verifier             crypto.Verifier
	clock                time2.Clock
}

func NewValidator(minTrustScore float64, requiredCapabilities []string, maxVoteAge time.Duration, requireSignature bool, verifier crypto.Verifier, clock time2.Clock) *Validator {
	return &Validator{
		minTrustScore:        minTrustScore,
		requiredCapabilities: requiredCapabilities,
		maxVoteAge:           maxVoteAge,
		requireSignature:     requireSignature,
		verifier:             verifier,
		clock:                clock,
	}
}

// Validate returns nil if the vote is admissible for the given node.
func (v *Validator) Validate(vt Vote, n *node.Node) error {
	if n.Status != node.StatusActive {
		return errors.Wrapf(ErrNodeNotActive, "node %s has status %s", n.NodeID, n.Status)
	}

	if n.TrustScore < v.minTrustScore {
		return errors.Wrapf(ErrInsufficientTrust, "node %s score %.2f below %.2f", n.NodeID, n.TrustScore, v.minTrustScore)
	}

	for _, capability := range v.requiredCapabilities {
		if !n.HasCapability(capability) {
			return errors.Wrapf(ErrMissingCapability, "node %s lacks %q", n.NodeID, capability)
		}
	}

	if len(vt.Signature) == 0 {
		if v.requireSignature {
			return errors.Wrapf(ErrMissingSignature, "node %s proposal %s", vt.NodeID, vt.ProposalID)
		}
	} else {
		payload := signPayload(vt)
		valid, err := v.verifier.VerifySignature(payload, vt.Signature, n.PublicKey)
		if err != nil {
			return errors.Wrap(err, "failed to verify vote signature")
		}
		if !valid {
			return errors.Wrapf(ErrInvalidSignature, "node %s proposal %s", vt.NodeID, vt.ProposalID)
		}
	}

	if !vt.Timestamp.IsZero() {
		now := v.clock.Now()
		if vt.Timestamp.After(now.Add(maxClockSkew)) {
			return errors.Wrapf(ErrVoteFromFuture, "node %s", vt.NodeID)
		}
		if now.Sub(vt.Timestamp) > v.maxVoteAge {
			return errors.Wrapf(ErrVoteExpired, "node %s", vt.NodeID)
		}
	}

	return nil
}

// signPayload is the canonical byte representation a vote signature
// covers: node id, proposal id and the vote value.
func signPayload(vt Vote) []byte {
	return SignaturePayload(vt.NodeID, vt.ProposalID, vt.Value)
}

// SignaturePayload builds the bytes a node must sign for one vote.
func SignaturePayload(nodeID, proposalID string, value bool) []byte {
	v := byte(0)
	if value {
		v = 1
	}
	payload := make([]byte, 0, len(nodeID)+len(proposalID)+2)
	payload = append(payload, []byte(nodeID)...)
	payload = append(payload, '|')
	payload = append(payload, []byte(proposalID)...)
	payload = append(payload, v)
	return payload
}
