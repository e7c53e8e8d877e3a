package verifier

import (
	"context"

	"github.com/kashguard/go-consensus-infra/internal/recovery"
	"github.com/pkg/errors"
)

var ErrNoVerifierForType = errors.New("no verifier registered for recovery type")

// Verifier checks whether an executed plan actually repaired the
// failure it was built for.
type Verifier interface {
	RecoveryType() string
	Verify(ctx context.Context, plan *recovery.Plan) (recovery.VerificationResult, error)
}

// Registry maps recovery types to verifiers.
type Registry struct {
	verifiers map[string]Verifier
}

func NewRegistry() *Registry {
	return &Registry{verifiers: make(map[string]Verifier)}
}

func (r *Registry) Register(v Verifier) {
	if _, ok := r.verifiers[v.RecoveryType()]; ok {
		panic("verifier already registered: " + v.RecoveryType())
	}
	r.verifiers[v.RecoveryType()] = v
}

func (r *Registry) Get(recoveryType string) (Verifier, error) {
	v, ok := r.verifiers[recoveryType]
	if !ok {
		return nil, errors.Wrapf(ErrNoVerifierForType, "type %s", recoveryType)
	}
	return v, nil
}

// stepsComplete checks the execution data against the plan: every step
// must appear in steps_completed.
func stepsComplete(plan *recovery.Plan) (bool, map[string]interface{}) {
	completed, _ := plan.ExecutionData["steps_completed"].([]string)
	done := make(map[string]struct{}, len(completed))
	for _, name := range completed {
		done[name] = struct{}{}
	}

	var missing []string
	for _, step := range plan.Steps {
		if _, ok := done[step.Name]; !ok {
			missing = append(missing, step.Name)
		}
	}

	details := map[string]interface{}{
		"steps_expected":  len(plan.Steps),
		"steps_completed": len(completed),
	}
	if len(missing) > 0 {
		details["missing_steps"] = missing
		return false, details
	}
	return true, details
}
