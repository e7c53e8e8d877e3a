package vote

import (
	"testing"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/kashguard/go-consensus-infra/internal/consensus/crypto"
	"github.com/kashguard/go-consensus-infra/internal/consensus/node"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func activeNode() *node.Node {
	return &node.Node{
		NodeID:       "n0",
		PublicKey:    "pk0",
		Status:       node.StatusActive,
		TrustScore:   0.9,
		Capabilities: []string{"voting"},
	}
}

func newTestValidator(verifier crypto.Verifier, clock time2.Clock) *Validator {
	if verifier == nil {
		verifier = &crypto.StaticVerifier{Valid: true}
	}
	if clock == nil {
		clock = time2.NewMockClock(time.Now())
	}
	return NewValidator(0.5, []string{"voting"}, time.Hour, false, verifier, clock)
}

func TestValidator_Accepts(t *testing.T) {
	v := newTestValidator(nil, nil)

	err := v.Validate(Vote{NodeID: "n0", ProposalID: "p1", Value: true}, activeNode())
	assert.NoError(t, err)
}

func TestValidator_RejectsInactiveNode(t *testing.T) {
	v := newTestValidator(nil, nil)

	n := activeNode()
	n.Status = node.StatusSuspended

	err := v.Validate(Vote{NodeID: "n0", ProposalID: "p1"}, n)
	assert.True(t, errors.Is(err, ErrNodeNotActive))
}

func TestValidator_RejectsLowTrust(t *testing.T) {
	v := newTestValidator(nil, nil)

	n := activeNode()
	n.TrustScore = 0.2

	err := v.Validate(Vote{NodeID: "n0", ProposalID: "p1"}, n)
	assert.True(t, errors.Is(err, ErrInsufficientTrust))
}

func TestValidator_RejectsMissingCapability(t *testing.T) {
	v := newTestValidator(nil, nil)

	n := activeNode()
	n.Capabilities = []string{"observing"}

	err := v.Validate(Vote{NodeID: "n0", ProposalID: "p1"}, n)
	assert.True(t, errors.Is(err, ErrMissingCapability))
}

func TestValidator_RejectsBadSignature(t *testing.T) {
	v := newTestValidator(&crypto.StaticVerifier{Valid: false}, nil)

	err := v.Validate(Vote{NodeID: "n0", ProposalID: "p1", Signature: []byte{0x01}}, activeNode())
	assert.True(t, errors.Is(err, ErrInvalidSignature))
}

func TestValidator_RequiredSignatureMissing(t *testing.T) {
	v := NewValidator(0.5, []string{"voting"}, time.Hour, true, &crypto.StaticVerifier{Valid: true}, time2.NewMockClock(time.Now()))

	err := v.Validate(Vote{NodeID: "n0", ProposalID: "p1"}, activeNode())
	assert.True(t, errors.Is(err, ErrMissingSignature))

	// a signed vote still passes verification
	err = v.Validate(Vote{NodeID: "n0", ProposalID: "p1", Signature: []byte{0x01}}, activeNode())
	assert.NoError(t, err)
}

func TestValidator_Freshness(t *testing.T) {
	now := time.Now()
	clock := time2.NewMockClock(now)
	v := newTestValidator(nil, clock)

	// more than 60s in the future
	err := v.Validate(Vote{NodeID: "n0", ProposalID: "p1", Timestamp: now.Add(2 * time.Minute)}, activeNode())
	assert.True(t, errors.Is(err, ErrVoteFromFuture))

	// older than max age
	err = v.Validate(Vote{NodeID: "n0", ProposalID: "p1", Timestamp: now.Add(-2 * time.Hour)}, activeNode())
	assert.True(t, errors.Is(err, ErrVoteExpired))

	// within bounds
	err = v.Validate(Vote{NodeID: "n0", ProposalID: "p1", Timestamp: now.Add(-time.Minute)}, activeNode())
	assert.NoError(t, err)
}
