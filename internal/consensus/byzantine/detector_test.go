package byzantine

import (
	"testing"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/kashguard/go-consensus-infra/internal/consensus/protocol"
	"github.com/stretchr/testify/assert"
)

func newTestDetector(flipThreshold int) *Detector {
	return NewDetector(flipThreshold, time2.NewMockClock(time.Now()))
}

func flipHistory(base time.Time, values ...bool) []ProposalVotes {
	// One proposal per vote, each for a distinct decision, so only the
	// flip analysis can trigger.
	proposals := make([]ProposalVotes, 0, len(values))
	for i, v := range values {
		proposals = append(proposals, ProposalVotes{
			ProposalID: string(rune('a' + i)),
			DecisionID: "d" + string(rune('a'+i)),
			Votes:      map[string]bool{"n0": v},
			Log: []protocol.VoteEntry{
				{NodeID: "n0", Value: v, Timestamp: base.Add(time.Duration(i) * time.Minute)},
			},
		})
	}
	return proposals
}

func TestDetector_VoteFlippingAtThreshold(t *testing.T) {
	base := time.Now()

	// true, false, true, false -> 3 flips
	d := newTestDetector(3)
	flagged := d.Analyze(flipHistory(base, true, false, true, false))
	assert.Equal(t, []string{"n0"}, flagged)

	history := d.History("n0")
	assert.Len(t, history, 1)
	assert.Equal(t, ReasonVoteFlipping, history[0].Reason)
}

func TestDetector_VoteFlippingBelowThreshold(t *testing.T) {
	base := time.Now()

	d := newTestDetector(4)
	flagged := d.Analyze(flipHistory(base, true, false, true, false))
	assert.Empty(t, flagged)
	assert.Empty(t, d.History("n0"))
}

func TestDetector_InconsistentVotingAcrossDecision(t *testing.T) {
	d := newTestDetector(10)

	flagged := d.Analyze([]ProposalVotes{
		{ProposalID: "p1", DecisionID: "d1", Votes: map[string]bool{"n0": true, "n1": true}},
		{ProposalID: "p2", DecisionID: "d1", Votes: map[string]bool{"n0": false, "n1": true}},
	})

	assert.Equal(t, []string{"n0"}, flagged)
	history := d.History("n0")
	assert.Len(t, history, 1)
	assert.Equal(t, ReasonInconsistentVoting, history[0].Reason)
}

func TestDetector_Equivocation(t *testing.T) {
	d := newTestDetector(10)
	base := time.Now()

	flagged := d.Analyze([]ProposalVotes{
		{
			ProposalID: "p1",
			DecisionID: "d1",
			Votes:      map[string]bool{"n0": true, "n1": true},
			Log: []protocol.VoteEntry{
				{NodeID: "n0", Value: true, Timestamp: base},
				{NodeID: "n0", Value: true, Timestamp: base.Add(time.Second)},
				{NodeID: "n1", Value: true, Timestamp: base},
			},
		},
	})

	assert.Equal(t, []string{"n0"}, flagged)
}

func TestDetector_UnionOfDetections(t *testing.T) {
	d := newTestDetector(1)
	base := time.Now()

	flagged := d.Analyze([]ProposalVotes{
		// n0 equivocates on p1
		{
			ProposalID: "p1",
			DecisionID: "d1",
			Votes:      map[string]bool{"n0": true},
			Log: []protocol.VoteEntry{
				{NodeID: "n0", Value: true, Timestamp: base},
				{NodeID: "n0", Value: false, Timestamp: base.Add(time.Second)},
			},
		},
		// n1 contradicts itself across d2
		{ProposalID: "p2", DecisionID: "d2", Votes: map[string]bool{"n1": true}},
		{ProposalID: "p3", DecisionID: "d2", Votes: map[string]bool{"n1": false}},
	})

	assert.Equal(t, []string{"n0", "n1"}, flagged)
}
