package manager

import (
	"context"
	"testing"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/kashguard/go-consensus-infra/internal/config"
	"github.com/kashguard/go-consensus-infra/internal/recovery"
	"github.com/kashguard/go-consensus-infra/internal/recovery/audit"
	"github.com/kashguard/go-consensus-infra/internal/recovery/compensator"
	"github.com/kashguard/go-consensus-infra/internal/recovery/executor"
	"github.com/kashguard/go-consensus-infra/internal/recovery/failure"
	"github.com/kashguard/go-consensus-infra/internal/recovery/verifier"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubExecutor drives the manager through arbitrary execution
// outcomes.
type stubExecutor struct {
	recoveryType string
	steps        []recovery.RemediationStep
	compensation []recovery.CompensationStep
	execData     map[string]interface{}
	execErr      error
	panics       bool
	onExecute    func(plan *recovery.Plan)
}

func (s *stubExecutor) RecoveryType() string { return s.recoveryType }

func (s *stubExecutor) BuildPlan(_ recovery.FailureRecord) ([]recovery.RemediationStep, []recovery.CompensationStep, error) {
	return s.steps, s.compensation, nil
}

func (s *stubExecutor) Execute(_ context.Context, plan *recovery.Plan) (map[string]interface{}, error) {
	if s.panics {
		panic("executor blew up")
	}
	if s.onExecute != nil {
		s.onExecute(plan)
	}
	return s.execData, s.execErr
}

// stubVerifier reports a fixed verification outcome.
type stubVerifier struct {
	recoveryType string
	success      bool
	err          error
}

func (s *stubVerifier) RecoveryType() string { return s.recoveryType }

func (s *stubVerifier) Verify(_ context.Context, _ *recovery.Plan) (recovery.VerificationResult, error) {
	return recovery.VerificationResult{Success: s.success}, s.err
}

type fixture struct {
	manager  *Manager
	auditLog *audit.Logger
	clock    *time2.MockClock
	exec     *stubExecutor
	verif    *stubVerifier
	comp     *compensator.Compensator
}

func newFixture(t *testing.T, compHandler compensator.StepHandler) *fixture {
	t.Helper()

	clock := time2.NewMockClock(time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC))

	exec := &stubExecutor{
		recoveryType: recovery.DomainTrust,
		steps: []recovery.RemediationStep{
			{Name: "step-a", Action: "a"},
			{Name: "step-b", Action: "b"},
		},
		compensation: []recovery.CompensationStep{
			{Name: "undo-a", Action: "a"},
			{Name: "undo-b", Action: "b"},
			{Name: "undo-c", Action: "c"},
		},
		execData: map[string]interface{}{"steps_completed": []string{"step-a", "step-b"}},
	}
	verif := &stubVerifier{recoveryType: recovery.DomainTrust, success: true}

	executors := executor.NewRegistry()
	executors.Register(exec)
	verifiers := verifier.NewRegistry()
	verifiers.Register(verif)

	auditLog := audit.NewLogger(config.Audit{
		Level:           "summary",
		LogDirectory:    t.TempDir(),
		RetentionPeriod: 90 * 24 * time.Hour,
	}, clock)

	comp := compensator.NewCompensator(compHandler, clock)

	cfg := config.Recovery{
		MaxRetries:          3,
		RecoveryTypes:       []string{recovery.DomainTrust},
		MaxRecoveryTime:     5 * time.Minute,
		VerificationTimeout: time.Minute,
	}

	return &fixture{
		manager:  NewManager(cfg, executors, verifiers, comp, auditLog, nil, clock),
		auditLog: auditLog,
		clock:    clock,
		exec:     exec,
		verif:    verif,
		comp:     comp,
	}
}

func trustFailure() recovery.FailureRecord {
	return recovery.FailureRecord{
		FailureID:   "failure-1",
		FailureType: failure.TypeTrustDegraded,
		Domain:      recovery.DomainTrust,
		Details:     map[string]interface{}{"node_id": "n1"},
	}
}

func TestPerformRecovery_RoundTrip(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	plan, verified, err := fx.manager.PerformRecovery(ctx, trustFailure())
	require.NoError(t, err)
	assert.True(t, verified)
	assert.Equal(t, recovery.PlanVerified, plan.Status)
	require.NotNil(t, plan.CompletedAt)

	history := fx.manager.GetRecoveryHistory()
	require.Len(t, history, 1)
	assert.Equal(t, plan.PlanID, history[0].PlanID)
	assert.Equal(t, recovery.PlanVerified, history[0].Status)

	// every lifecycle stage left an audit entry
	entries, err := fx.auditLog.Query(audit.Filter{PlanID: plan.PlanID})
	require.NoError(t, err)
	types := make([]string, 0, len(entries))
	for _, e := range entries {
		types = append(types, e.EventType)
	}
	assert.Equal(t, []string{audit.EventPlanCreation, audit.EventExecution, audit.EventVerification}, types)
}

func TestVerifyRecovery_RequiresExecutedPlan(t *testing.T) {
	fx := newFixture(t, nil)

	plan, err := fx.manager.CreateRecoveryPlan(trustFailure())
	require.NoError(t, err)

	_, err = fx.manager.VerifyRecovery(context.Background(), plan.PlanID)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	// state unchanged
	stored, err := fx.manager.GetPlan(plan.PlanID)
	require.NoError(t, err)
	assert.Equal(t, recovery.PlanCreated, stored.Status)
}

func TestExecuteRecoveryPlan_FailureMarksPlanFailed(t *testing.T) {
	fx := newFixture(t, nil)
	fx.exec.execErr = errors.New("step exploded")
	fx.exec.execData = map[string]interface{}{"steps_completed": []string{"step-a"}, "failed_step": "step-b"}

	plan, err := fx.manager.CreateRecoveryPlan(trustFailure())
	require.NoError(t, err)

	err = fx.manager.ExecuteRecoveryPlan(context.Background(), plan.PlanID)
	require.Error(t, err)

	stored, err := fx.manager.GetPlan(plan.PlanID)
	require.NoError(t, err)
	assert.Equal(t, recovery.PlanFailed, stored.Status)
	assert.Contains(t, stored.Error, "step exploded")
	assert.Equal(t, "step-b", stored.ExecutionData["failed_step"])

	// no automatic retry: the plan is terminal
	err = fx.manager.ExecuteRecoveryPlan(context.Background(), plan.PlanID)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestExecuteRecoveryPlan_PanicIsContained(t *testing.T) {
	fx := newFixture(t, nil)
	fx.exec.panics = true

	plan, err := fx.manager.CreateRecoveryPlan(trustFailure())
	require.NoError(t, err)

	err = fx.manager.ExecuteRecoveryPlan(context.Background(), plan.PlanID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	stored, err := fx.manager.GetPlan(plan.PlanID)
	require.NoError(t, err)
	assert.Equal(t, recovery.PlanFailed, stored.Status)
}

func TestVerificationFailureTriggersCompensation(t *testing.T) {
	fx := newFixture(t, func(_ context.Context, step recovery.CompensationStep, _ map[string]interface{}) error {
		if step.Name == "undo-b" {
			return errors.New("undo unavailable")
		}
		return nil
	})
	fx.verif.success = false
	ctx := context.Background()

	plan, verified, err := fx.manager.PerformRecovery(ctx, trustFailure())
	require.NoError(t, err)
	assert.False(t, verified)
	assert.Equal(t, recovery.PlanCompensated, plan.Status)

	// all three compensation steps attempted despite the middle failure
	attempts := fx.manager.CompensationHistory(plan.PlanID)
	require.Len(t, attempts, 3)
	assert.Equal(t, "undo-c", attempts[0].Step)
	assert.False(t, attempts[1].Success)
	assert.Equal(t, "undo-a", attempts[2].Step)

	entries, err := fx.auditLog.Query(audit.Filter{PlanID: plan.PlanID, EventType: audit.EventCompensation})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, false, entries[0].Data["success"])
}

func TestVerificationFailureWithoutCompensationStillCompletes(t *testing.T) {
	fx := newFixture(t, nil)
	fx.exec.compensation = nil
	fx.verif.success = false
	ctx := context.Background()

	plan, verified, err := fx.manager.PerformRecovery(ctx, trustFailure())
	require.NoError(t, err)
	assert.False(t, verified)
	assert.Equal(t, recovery.PlanCompensated, plan.Status)
	require.NotNil(t, plan.CompletedAt)

	// the failed recovery is not lost from the history
	history := fx.manager.GetRecoveryHistory()
	require.Len(t, history, 1)
	assert.Equal(t, plan.PlanID, history[0].PlanID)
	assert.Equal(t, recovery.PlanCompensated, history[0].Status)

	// nothing to undo, so no step attempts were recorded
	assert.Empty(t, fx.manager.CompensationHistory(plan.PlanID))

	entries, err := fx.auditLog.Query(audit.Filter{PlanID: plan.PlanID, EventType: audit.EventCompensation})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, true, entries[0].Data["success"])
}

func TestCancelDuringExecutionDiscardsStaleResult(t *testing.T) {
	fx := newFixture(t, nil)
	fx.exec.onExecute = func(plan *recovery.Plan) {
		require.NoError(t, fx.manager.CancelRecovery(plan.PlanID))
	}

	plan, err := fx.manager.CreateRecoveryPlan(trustFailure())
	require.NoError(t, err)

	err = fx.manager.ExecuteRecoveryPlan(context.Background(), plan.PlanID)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	// the cancelled plan keeps none of the stale execution result
	stored, err := fx.manager.GetPlan(plan.PlanID)
	require.NoError(t, err)
	assert.Equal(t, recovery.PlanCancelled, stored.Status)
	assert.Empty(t, stored.ExecutionData)
	assert.Empty(t, stored.Error)
	require.NotNil(t, stored.CompletedAt)

	// the rejected attempt is still audited
	entries, err := fx.auditLog.Query(audit.Filter{PlanID: plan.PlanID, EventType: audit.EventExecution})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, string(recovery.PlanCancelled), entries[0].Data["status"])
}

func TestCreateRecoveryPlan_DisabledType(t *testing.T) {
	fx := newFixture(t, nil)

	f := trustFailure()
	f.Domain = recovery.DomainSystem
	_, err := fx.manager.CreateRecoveryPlan(f)
	assert.True(t, errors.Is(err, ErrRecoveryTypeDisabled))
}

func TestCancelRecovery_OnlyFromActiveStates(t *testing.T) {
	fx := newFixture(t, nil)

	plan, err := fx.manager.CreateRecoveryPlan(trustFailure())
	require.NoError(t, err)

	// created plans cannot be cancelled
	err = fx.manager.CancelRecovery(plan.PlanID)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	err = fx.manager.CancelRecovery("plan-missing")
	assert.True(t, errors.Is(err, ErrUnknownPlan))
}

func TestDetectFailures_FiltersDisabledDomains(t *testing.T) {
	fx := newFixture(t, nil)
	clock := fx.clock

	trustDetector := failure.NewTrustDetector(func() map[string]float64 {
		return map[string]float64{"n1": 0.1}
	}, 0.5, clock)
	systemDetector := failure.NewSystemDetector(func() failure.ResourceMetrics {
		return failure.ResourceMetrics{CPUPercent: 99}
	}, failure.DefaultSystemThresholds(), clock)

	fx.manager.detectors = []failure.Detector{trustDetector, systemDetector}

	records, err := fx.manager.DetectFailures(context.Background())
	require.NoError(t, err)

	// system is not in the configured recovery types
	require.Len(t, records, 1)
	assert.Equal(t, recovery.DomainTrust, records[0].Domain)

	entries, err := fx.auditLog.Query(audit.Filter{EventType: audit.EventDetection})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
