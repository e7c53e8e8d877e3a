package executor

import (
	"context"

	"github.com/kashguard/go-consensus-infra/internal/recovery"
	"github.com/pkg/errors"
)

// ActionFunc runs one remediation action and returns its result data.
type ActionFunc func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error)

// base is the shared step runner. Concrete executors register their
// actions and implement BuildPlan.
type base struct {
	recoveryType string
	actions      map[string]ActionFunc
}

func newBase(recoveryType string) base {
	return base{recoveryType: recoveryType, actions: make(map[string]ActionFunc)}
}

func (b *base) RecoveryType() string {
	return b.recoveryType
}

func (b *base) register(action string, fn ActionFunc) {
	b.actions[action] = fn
}

// Execute runs the plan's steps in order. On the first failing step it
// returns the partial execution data together with the error, so the
// caller can still hand the data to compensation.
func (b *base) Execute(ctx context.Context, plan *recovery.Plan) (map[string]interface{}, error) {
	completed := make([]string, 0, len(plan.Steps))
	results := make(map[string]interface{}, len(plan.Steps))
	data := map[string]interface{}{
		"steps_total":     len(plan.Steps),
		"steps_completed": completed,
		"results":         results,
	}

	for _, step := range plan.Steps {
		select {
		case <-ctx.Done():
			return data, errors.Wrapf(ctx.Err(), "step %s", step.Name)
		default:
		}

		fn, ok := b.actions[step.Action]
		if !ok {
			data["failed_step"] = step.Name
			return data, errors.Errorf("unknown action %s in step %s", step.Action, step.Name)
		}

		res, err := fn(ctx, step.Params)
		if err != nil {
			data["failed_step"] = step.Name
			return data, errors.Wrapf(err, "step %s", step.Name)
		}

		completed = append(completed, step.Name)
		results[step.Name] = res
		data["steps_completed"] = completed
	}

	return data, nil
}

func paramString(params map[string]interface{}, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", errors.Errorf("missing param %s", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.Errorf("param %s is not a string", key)
	}
	return s, nil
}

func paramFloat(params map[string]interface{}, key string) (float64, error) {
	v, ok := params[key]
	if !ok {
		return 0, errors.Errorf("missing param %s", key)
	}
	f, ok := v.(float64)
	if !ok {
		return 0, errors.Errorf("param %s is not a number", key)
	}
	return f, nil
}
