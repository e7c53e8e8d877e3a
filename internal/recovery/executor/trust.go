package executor

import (
	"context"

	"github.com/kashguard/go-consensus-infra/internal/recovery"
	"github.com/kashguard/go-consensus-infra/internal/recovery/failure"
	"github.com/pkg/errors"
)

// TrustControl is the trust score mutation surface.
type TrustControl interface {
	UpdateTrustScore(nodeID string, score float64) error
}

// TrustExecutor restores degraded trust scores to the configured
// minimum so a node can participate again while it re-earns trust.
type TrustExecutor struct {
	base
	control TrustControl
}

func NewTrustExecutor(control TrustControl) *TrustExecutor {
	e := &TrustExecutor{
		base:    newBase(recovery.DomainTrust),
		control: control,
	}
	e.register("set_trust", e.setTrust)
	return e
}

func (e *TrustExecutor) BuildPlan(f recovery.FailureRecord) ([]recovery.RemediationStep, []recovery.CompensationStep, error) {
	if f.FailureType != failure.TypeTrustDegraded {
		return nil, nil, errors.Errorf("unsupported trust failure type %s", f.FailureType)
	}

	nodeID, _ := f.Details["node_id"].(string)
	if nodeID == "" {
		return nil, nil, errors.New("trust failure without node_id")
	}
	previous, _ := f.Details["score"].(float64)
	target, ok := f.Details["threshold"].(float64)
	if !ok {
		target = 0.5
	}

	steps := []recovery.RemediationStep{
		{Name: "restore_trust", Action: "set_trust", Params: map[string]interface{}{"node_id": nodeID, "score": target}},
	}
	compensation := []recovery.CompensationStep{
		{Name: "revert_trust", Action: "set_trust", Params: map[string]interface{}{"node_id": nodeID, "score": previous}},
	}
	return steps, compensation, nil
}

func (e *TrustExecutor) setTrust(_ context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	nodeID, err := paramString(params, "node_id")
	if err != nil {
		return nil, err
	}
	score, err := paramFloat(params, "score")
	if err != nil {
		return nil, err
	}
	if err := e.control.UpdateTrustScore(nodeID, score); err != nil {
		return nil, err
	}
	return map[string]interface{}{"node_id": nodeID, "score": score}, nil
}
