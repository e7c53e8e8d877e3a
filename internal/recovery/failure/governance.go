package failure

import (
	"context"

	"github.com/dropbox/godropbox/time2"
	"github.com/kashguard/go-consensus-infra/internal/recovery"
)

const TypePolicyViolation = "policy_violation"

// PolicyViolation is one reported governance rule breach.
type PolicyViolation struct {
	PolicyID    string
	RuleID      string
	Description string
}

// GovernanceSource provides the currently open policy violations.
type GovernanceSource func() []PolicyViolation

// GovernanceDetector turns open policy violations into failure records.
type GovernanceDetector struct {
	source GovernanceSource
	clock  time2.Clock
}

func NewGovernanceDetector(source GovernanceSource, clock time2.Clock) *GovernanceDetector {
	return &GovernanceDetector{source: source, clock: clock}
}

func (d *GovernanceDetector) Domain() string {
	return recovery.DomainGovernance
}

func (d *GovernanceDetector) Detect(_ context.Context) ([]recovery.FailureRecord, error) {
	var records []recovery.FailureRecord
	for _, v := range d.source() {
		records = append(records, newRecord(d.clock, recovery.DomainGovernance, TypePolicyViolation, map[string]interface{}{
			"policy_id":   v.PolicyID,
			"rule_id":     v.RuleID,
			"description": v.Description,
		}))
	}
	return records, nil
}
