package executor

import (
	"context"

	"github.com/kashguard/go-consensus-infra/internal/recovery"
	"github.com/kashguard/go-consensus-infra/internal/recovery/failure"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// PolicyControl is the governance remediation surface.
type PolicyControl interface {
	ReloadPolicy(ctx context.Context, policyID string) error
	ApplyRule(ctx context.Context, policyID, ruleID string) error
	RollbackPolicy(ctx context.Context, policyID string) error
}

// LoggingPolicyControl is the default control for deployments without
// an external policy store. It records the action and succeeds.
type LoggingPolicyControl struct{}

func (LoggingPolicyControl) ReloadPolicy(_ context.Context, policyID string) error {
	log.Info().Str("policy_id", policyID).Msg("Policy reloaded")
	return nil
}

func (LoggingPolicyControl) ApplyRule(_ context.Context, policyID, ruleID string) error {
	log.Info().Str("policy_id", policyID).Str("rule_id", ruleID).Msg("Policy rule reapplied")
	return nil
}

func (LoggingPolicyControl) RollbackPolicy(_ context.Context, policyID string) error {
	log.Info().Str("policy_id", policyID).Msg("Policy rolled back")
	return nil
}

// GovernanceExecutor remediates policy violations by reloading the
// policy and reapplying the violated rule.
type GovernanceExecutor struct {
	base
	control PolicyControl
}

func NewGovernanceExecutor(control PolicyControl) *GovernanceExecutor {
	e := &GovernanceExecutor{
		base:    newBase(recovery.DomainGovernance),
		control: control,
	}
	e.register("reload_policy", e.reloadPolicy)
	e.register("apply_rule", e.applyRule)
	return e
}

func (e *GovernanceExecutor) BuildPlan(f recovery.FailureRecord) ([]recovery.RemediationStep, []recovery.CompensationStep, error) {
	if f.FailureType != failure.TypePolicyViolation {
		return nil, nil, errors.Errorf("unsupported governance failure type %s", f.FailureType)
	}

	policyID, _ := f.Details["policy_id"].(string)
	if policyID == "" {
		return nil, nil, errors.New("policy violation without policy_id")
	}
	ruleID, _ := f.Details["rule_id"].(string)

	steps := []recovery.RemediationStep{
		{Name: "reload_policy", Action: "reload_policy", Params: map[string]interface{}{"policy_id": policyID}},
		{Name: "reapply_rule", Action: "apply_rule", Params: map[string]interface{}{"policy_id": policyID, "rule_id": ruleID}},
	}
	compensation := []recovery.CompensationStep{
		{Name: "rollback_policy", Action: "rollback_policy", Params: map[string]interface{}{"policy_id": policyID}},
	}
	return steps, compensation, nil
}

func (e *GovernanceExecutor) reloadPolicy(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	policyID, err := paramString(params, "policy_id")
	if err != nil {
		return nil, err
	}
	if err := e.control.ReloadPolicy(ctx, policyID); err != nil {
		return nil, err
	}
	return map[string]interface{}{"policy_id": policyID}, nil
}

func (e *GovernanceExecutor) applyRule(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	policyID, err := paramString(params, "policy_id")
	if err != nil {
		return nil, err
	}
	ruleID, _ := params["rule_id"].(string)
	if err := e.control.ApplyRule(ctx, policyID, ruleID); err != nil {
		return nil, err
	}
	return map[string]interface{}{"policy_id": policyID, "rule_id": ruleID}, nil
}
