package recovery

import "time"

// Recovery domains. Each domain has one failure detector, one executor
// and one verifier.
const (
	DomainConsensus  = "consensus"
	DomainTrust      = "trust"
	DomainGovernance = "governance"
	DomainSystem     = "system"
)

// FailureRecord is one detected failure. It is the input to exactly
// one recovery plan.
type FailureRecord struct {
	FailureID   string                 `json:"failure_id"`
	FailureType string                 `json:"failure_type"`
	Domain      string                 `json:"domain"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// RemediationStep is one ordered action of a recovery plan.
type RemediationStep struct {
	Name   string                 `json:"name"`
	Action string                 `json:"action"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// CompensationStep is one undo action, replayed in reverse order when
// verification fails.
type CompensationStep struct {
	Name   string                 `json:"name"`
	Action string                 `json:"action"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// PlanStatus is the recovery plan lifecycle status.
type PlanStatus string

const (
	PlanCreated            PlanStatus = "created"
	PlanExecuting          PlanStatus = "executing"
	PlanExecuted           PlanStatus = "executed"
	PlanFailed             PlanStatus = "failed"
	PlanVerifying          PlanStatus = "verifying"
	PlanVerified           PlanStatus = "verified"
	PlanVerificationFailed PlanStatus = "verification_failed"
	PlanCompensated        PlanStatus = "compensated"
	PlanCancelled          PlanStatus = "cancelled"
)

// Plan is one recovery plan. It is immutable once it reaches
// PlanVerified or PlanCompensated.
type Plan struct {
	PlanID        string                 `json:"plan_id"`
	RecoveryType  string                 `json:"recovery_type"`
	Failure       FailureRecord          `json:"failure"`
	Steps         []RemediationStep      `json:"steps"`
	Compensation  []CompensationStep     `json:"compensation,omitempty"`
	Status        PlanStatus             `json:"status"`
	ExecutionData map[string]interface{} `json:"execution_data,omitempty"`
	Error         string                 `json:"error,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
	CompletedAt   *time.Time             `json:"completed_at,omitempty"`
}

// VerificationResult is what a recovery verifier reports.
type VerificationResult struct {
	Success bool                   `json:"success"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Copy returns a deep enough copy for handing plans across the manager
// boundary without sharing mutable state.
func (p *Plan) Copy() *Plan {
	c := *p
	c.Steps = append([]RemediationStep(nil), p.Steps...)
	c.Compensation = append([]CompensationStep(nil), p.Compensation...)
	if p.ExecutionData != nil {
		c.ExecutionData = make(map[string]interface{}, len(p.ExecutionData))
		for k, v := range p.ExecutionData {
			c.ExecutionData[k] = v
		}
	}
	if p.CompletedAt != nil {
		ts := *p.CompletedAt
		c.CompletedAt = &ts
	}
	return &c
}
