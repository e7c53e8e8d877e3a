package executor

import (
	"context"

	"github.com/kashguard/go-consensus-infra/internal/recovery"
	"github.com/pkg/errors"
)

var ErrNoExecutorForType = errors.New("no executor registered for recovery type")

// Executor builds and runs recovery plans for one recovery type.
//
// BuildPlan maps a failure to an ordered list of remediation steps and
// their compensation. Execute runs the steps and returns the execution
// data the verifier will inspect; it must not mutate the plan.
type Executor interface {
	RecoveryType() string
	BuildPlan(failure recovery.FailureRecord) ([]recovery.RemediationStep, []recovery.CompensationStep, error)
	Execute(ctx context.Context, plan *recovery.Plan) (map[string]interface{}, error)
}

// Registry maps recovery types to executors.
type Registry struct {
	executors map[string]Executor
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register adds an executor. Registering the same type twice is a
// programmer error.
func (r *Registry) Register(e Executor) {
	if _, ok := r.executors[e.RecoveryType()]; ok {
		panic("executor already registered: " + e.RecoveryType())
	}
	r.executors[e.RecoveryType()] = e
}

func (r *Registry) Get(recoveryType string) (Executor, error) {
	e, ok := r.executors[recoveryType]
	if !ok {
		return nil, errors.Wrapf(ErrNoExecutorForType, "type %s", recoveryType)
	}
	return e, nil
}

func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	return types
}
