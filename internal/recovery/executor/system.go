package executor

import (
	"context"
	"os"
	"runtime"

	"github.com/kashguard/go-consensus-infra/internal/recovery"
	"github.com/kashguard/go-consensus-infra/internal/recovery/failure"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// SystemControl is the host remediation surface.
type SystemControl interface {
	FreeResource(ctx context.Context, resource string) error
	CollectDiagnostics(ctx context.Context) (map[string]interface{}, error)
}

// LoggingSystemControl is the default control. Freeing memory triggers
// a GC cycle; other resources are only logged.
type LoggingSystemControl struct{}

func (LoggingSystemControl) FreeResource(_ context.Context, resource string) error {
	if resource == "memory" {
		runtime.GC()
	}
	log.Info().Str("resource", resource).Msg("Resource pressure remediation applied")
	return nil
}

func (LoggingSystemControl) CollectDiagnostics(_ context.Context) (map[string]interface{}, error) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return map[string]interface{}{
		"goroutines": runtime.NumGoroutine(),
		"heap_alloc": m.HeapAlloc,
		"gc_cycles":  m.NumGC,
		"pid":        os.Getpid(),
	}, nil
}

// SystemExecutor remediates resource exhaustion.
type SystemExecutor struct {
	base
	control SystemControl
}

func NewSystemExecutor(control SystemControl) *SystemExecutor {
	e := &SystemExecutor{
		base:    newBase(recovery.DomainSystem),
		control: control,
	}
	e.register("free_resource", e.freeResource)
	e.register("collect_diagnostics", e.collectDiagnostics)
	return e
}

func (e *SystemExecutor) BuildPlan(f recovery.FailureRecord) ([]recovery.RemediationStep, []recovery.CompensationStep, error) {
	if f.FailureType != failure.TypeResourceExhaustion {
		return nil, nil, errors.Errorf("unsupported system failure type %s", f.FailureType)
	}

	resource, _ := f.Details["resource"].(string)
	if resource == "" {
		return nil, nil, errors.New("resource exhaustion without resource")
	}

	steps := []recovery.RemediationStep{
		{Name: "free_" + resource, Action: "free_resource", Params: map[string]interface{}{"resource": resource}},
		{Name: "collect_diagnostics", Action: "collect_diagnostics"},
	}
	return steps, nil, nil
}

func (e *SystemExecutor) freeResource(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	resource, err := paramString(params, "resource")
	if err != nil {
		return nil, err
	}
	if err := e.control.FreeResource(ctx, resource); err != nil {
		return nil, err
	}
	return map[string]interface{}{"resource": resource}, nil
}

func (e *SystemExecutor) collectDiagnostics(ctx context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
	return e.control.CollectDiagnostics(ctx)
}
