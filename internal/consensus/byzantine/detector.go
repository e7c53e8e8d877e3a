package byzantine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/kashguard/go-consensus-infra/internal/consensus/protocol"
)

// Detection reasons.
const (
	ReasonInconsistentVoting = "inconsistent_voting"
	ReasonVoteFlipping       = "vote_flipping"
	ReasonEquivocation       = "equivocation"
)

// ProposalVotes is the voting history of one proposal as handed over
// by the consensus manager.
type ProposalVotes struct {
	ProposalID string
	DecisionID string
	Votes      map[string]bool // latest vote per node
	Log        []protocol.VoteEntry
}

// Detection is one timestamped finding, retained in the detector's
// history.
type Detection struct {
	NodeID    string
	Reason    string
	Details   string
	Timestamp time.Time
}

// Detector analyzes completed voting history for Byzantine behavior.
// Three independent analyses run on every pass; a node flagged by any
// of them is reported.
type Detector struct {
	flipThreshold int
	clock         time2.Clock

	mu      sync.Mutex
	history map[string][]Detection
}

func NewDetector(flipThreshold int, clock time2.Clock) *Detector {
	return &Detector{
		flipThreshold: flipThreshold,
		clock:         clock,
		history:       make(map[string][]Detection),
	}
}

// Analyze runs all three detections over the given history and returns
// the union of flagged node IDs. Findings are appended to the
// detection history.
func (d *Detector) Analyze(proposals []ProposalVotes) []string {
	findings := make([]Detection, 0)
	findings = append(findings, d.detectInconsistentVoting(proposals)...)
	findings = append(findings, d.detectVoteFlipping(proposals)...)
	findings = append(findings, d.detectEquivocation(proposals)...)

	flagged := make(map[string]struct{})

	d.mu.Lock()
	for _, f := range findings {
		d.history[f.NodeID] = append(d.history[f.NodeID], f)
		flagged[f.NodeID] = struct{}{}
	}
	d.mu.Unlock()

	res := make([]string, 0, len(flagged))
	for nodeID := range flagged {
		res = append(res, nodeID)
	}
	sort.Strings(res)
	return res
}

// History returns the detection history for one node, oldest first.
func (d *Detector) History(nodeID string) []Detection {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Detection(nil), d.history[nodeID]...)
}

// detectInconsistentVoting flags nodes whose latest votes differ across
// proposals that belong to the same decision.
func (d *Detector) detectInconsistentVoting(proposals []ProposalVotes) []Detection {
	byDecision := make(map[string][]ProposalVotes)
	for _, p := range proposals {
		if p.DecisionID == "" {
			continue
		}
		byDecision[p.DecisionID] = append(byDecision[p.DecisionID], p)
	}

	now := d.clock.Now()
	var findings []Detection
	for decisionID, group := range byDecision {
		if len(group) < 2 {
			continue
		}

		seen := make(map[string]bool) // nodeID -> first observed value
		flagged := make(map[string]struct{})
		for _, p := range group {
			for nodeID, value := range p.Votes {
				if first, ok := seen[nodeID]; ok {
					if first != value {
						flagged[nodeID] = struct{}{}
					}
					continue
				}
				seen[nodeID] = value
			}
		}

		for nodeID := range flagged {
			findings = append(findings, Detection{
				NodeID:    nodeID,
				Reason:    ReasonInconsistentVoting,
				Details:   fmt.Sprintf("conflicting votes for decision %s", decisionID),
				Timestamp: now,
			})
		}
	}
	return findings
}

// detectVoteFlipping flags nodes whose chronologically ordered votes
// across all proposals change value at least flipThreshold times.
func (d *Detector) detectVoteFlipping(proposals []ProposalVotes) []Detection {
	type timedVote struct {
		value bool
		ts    time.Time
	}

	byNode := make(map[string][]timedVote)
	for _, p := range proposals {
		for _, entry := range p.Log {
			byNode[entry.NodeID] = append(byNode[entry.NodeID], timedVote{value: entry.Value, ts: entry.Timestamp})
		}
	}

	now := d.clock.Now()
	var findings []Detection
	for nodeID, votes := range byNode {
		sort.Slice(votes, func(i, j int) bool { return votes[i].ts.Before(votes[j].ts) })

		flips := 0
		for i := 1; i < len(votes); i++ {
			if votes[i].value != votes[i-1].value {
				flips++
			}
		}

		if flips >= d.flipThreshold {
			findings = append(findings, Detection{
				NodeID:    nodeID,
				Reason:    ReasonVoteFlipping,
				Details:   fmt.Sprintf("%d vote flips (threshold %d)", flips, d.flipThreshold),
				Timestamp: now,
			})
		}
	}
	return findings
}

// detectEquivocation flags nodes with more than one vote-log entry for
// the same proposal.
func (d *Detector) detectEquivocation(proposals []ProposalVotes) []Detection {
	now := d.clock.Now()
	var findings []Detection
	for _, p := range proposals {
		counts := make(map[string]int)
		for _, entry := range p.Log {
			counts[entry.NodeID]++
		}
		for nodeID, count := range counts {
			if count > 1 {
				findings = append(findings, Detection{
					NodeID:    nodeID,
					Reason:    ReasonEquivocation,
					Details:   fmt.Sprintf("%d votes for proposal %s", count, p.ProposalID),
					Timestamp: now,
				})
			}
		}
	}
	return findings
}
