package manager

import (
	"context"
	"sync"

	"github.com/dropbox/godropbox/time2"
	"github.com/google/uuid"
	"github.com/kashguard/go-consensus-infra/internal/config"
	"github.com/kashguard/go-consensus-infra/internal/recovery"
	"github.com/kashguard/go-consensus-infra/internal/recovery/audit"
	"github.com/kashguard/go-consensus-infra/internal/recovery/compensator"
	"github.com/kashguard/go-consensus-infra/internal/recovery/executor"
	"github.com/kashguard/go-consensus-infra/internal/recovery/failure"
	"github.com/kashguard/go-consensus-infra/internal/recovery/verifier"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnknownPlan          = errors.New("unknown recovery plan")
	ErrRecoveryTypeDisabled = errors.New("recovery type not enabled")
)

// Manager owns the recovery plan lifecycle. Plans are mutated only
// through its operations, and every lifecycle event leaves an audit
// trail entry.
type Manager struct {
	cfg         config.Recovery
	executors   *executor.Registry
	verifiers   *verifier.Registry
	compensator *compensator.Compensator
	audit       *audit.Logger
	detectors   []failure.Detector
	clock       time2.Clock

	mu      sync.Mutex
	plans   map[string]*recovery.Plan
	history []string // terminal plan ids in completion order
}

func NewManager(cfg config.Recovery, executors *executor.Registry, verifiers *verifier.Registry, comp *compensator.Compensator, auditLog *audit.Logger, detectors []failure.Detector, clock time2.Clock) *Manager {
	return &Manager{
		cfg:         cfg,
		executors:   executors,
		verifiers:   verifiers,
		compensator: comp,
		audit:       auditLog,
		detectors:   detectors,
		clock:       clock,
		plans:       make(map[string]*recovery.Plan),
	}
}

// auditEvent records a lifecycle event. Audit failures are advisory
// and never fail the operation being audited.
func (m *Manager) auditEvent(eventType string, data map[string]interface{}) {
	_ = m.audit.LogEvent(eventType, data)
}

func (m *Manager) typeEnabled(recoveryType string) bool {
	for _, t := range m.cfg.RecoveryTypes {
		if t == recoveryType {
			return true
		}
	}
	return false
}

// DetectFailures runs all detectors for enabled recovery types and
// returns the union of their findings.
func (m *Manager) DetectFailures(ctx context.Context) ([]recovery.FailureRecord, error) {
	var records []recovery.FailureRecord
	for _, d := range m.detectors {
		if !m.typeEnabled(d.Domain()) {
			continue
		}
		found, err := d.Detect(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "detector %s", d.Domain())
		}
		records = append(records, found...)
	}

	for _, f := range records {
		m.auditEvent(audit.EventDetection, map[string]interface{}{
			"failure_id":   f.FailureID,
			"failure_type": f.FailureType,
			"domain":       f.Domain,
			"details":      f.Details,
		})
	}

	if len(records) > 0 {
		log.Info().
			Int("failures", len(records)).
			Msg("Failures detected")
	}

	return records, nil
}

// CreateRecoveryPlan builds a plan for one failure. The failure's
// domain selects the executor.
func (m *Manager) CreateRecoveryPlan(f recovery.FailureRecord) (*recovery.Plan, error) {
	if !m.typeEnabled(f.Domain) {
		return nil, errors.Wrapf(ErrRecoveryTypeDisabled, "type %s", f.Domain)
	}

	exec, err := m.executors.Get(f.Domain)
	if err != nil {
		return nil, err
	}

	steps, compensation, err := exec.BuildPlan(f)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build recovery plan")
	}

	now := m.clock.Now()
	plan := &recovery.Plan{
		PlanID:       "plan-" + uuid.New().String(),
		RecoveryType: f.Domain,
		Failure:      f,
		Steps:        steps,
		Compensation: compensation,
		Status:       recovery.PlanCreated,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	m.mu.Lock()
	m.plans[plan.PlanID] = plan
	m.mu.Unlock()

	m.auditEvent(audit.EventPlanCreation, map[string]interface{}{
		"plan_id":       plan.PlanID,
		"status":        string(plan.Status),
		"recovery_type": plan.RecoveryType,
		"failure_type":  f.FailureType,
		"failure_id":    f.FailureID,
		"steps":         len(steps),
	})

	log.Info().
		Str("plan_id", plan.PlanID).
		Str("recovery_type", plan.RecoveryType).
		Str("failure_type", f.FailureType).
		Msg("Recovery plan created")

	return plan.Copy(), nil
}

// ExecuteRecoveryPlan runs a created plan's steps, bounded by the
// configured max recovery time. Step failures and executor panics mark
// the plan failed; they are never retried here.
func (m *Manager) ExecuteRecoveryPlan(ctx context.Context, planID string) error {
	plan, err := m.transitionPlan(planID, recovery.PlanExecuting)
	if err != nil {
		return err
	}

	exec, err := m.executors.Get(plan.RecoveryType)
	if err != nil {
		return err
	}

	execCtx, cancel := context.WithTimeout(ctx, m.cfg.MaxRecoveryTime)
	defer cancel()

	data, execErr := runExecutor(execCtx, exec, plan)

	m.mu.Lock()
	stored, ok := m.plans[planID]
	if !ok {
		m.mu.Unlock()
		return errors.Wrapf(ErrUnknownPlan, "plan %s", planID)
	}

	next := recovery.PlanExecuted
	if execErr != nil {
		next = recovery.PlanFailed
	}
	if transitionErr := transition(stored, next); transitionErr != nil {
		// cancelled while the executor was running; the stale result is
		// discarded without touching the plan
		current := stored.Status
		m.mu.Unlock()
		m.auditEvent(audit.EventExecution, map[string]interface{}{
			"plan_id": planID,
			"status":  string(current),
			"error":   transitionErr.Error(),
		})
		return transitionErr
	}
	stored.ExecutionData = data
	stored.UpdatedAt = m.clock.Now()
	if execErr != nil {
		stored.Error = execErr.Error()
	}
	m.finishLocked(stored)
	errStr := stored.Error
	m.mu.Unlock()

	m.auditEvent(audit.EventExecution, map[string]interface{}{
		"plan_id":         planID,
		"status":          string(next),
		"steps_completed": data["steps_completed"],
		"error":           errStr,
	})

	if execErr != nil {
		log.Error().
			Err(execErr).
			Str("plan_id", planID).
			Msg("Recovery plan execution failed")
		return errors.Wrapf(execErr, "plan %s", planID)
	}

	log.Info().
		Str("plan_id", planID).
		Msg("Recovery plan executed")

	return nil
}

// runExecutor converts an executor panic into an execution error.
func runExecutor(ctx context.Context, exec executor.Executor, plan *recovery.Plan) (data map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("executor panicked: %v", r)
		}
	}()
	return exec.Execute(ctx, plan)
}

// VerifyRecovery checks an executed plan against its domain verifier.
// A failed verification triggers compensation.
func (m *Manager) VerifyRecovery(ctx context.Context, planID string) (bool, error) {
	plan, err := m.transitionPlan(planID, recovery.PlanVerifying)
	if err != nil {
		return false, err
	}

	verif, err := m.verifiers.Get(plan.RecoveryType)
	if err != nil {
		return false, err
	}

	verifyCtx, cancel := context.WithTimeout(ctx, m.cfg.VerificationTimeout)
	defer cancel()

	result, verifyErr := runVerifier(verifyCtx, verif, plan)

	next := recovery.PlanVerified
	if verifyErr != nil || !result.Success {
		next = recovery.PlanVerificationFailed
	}

	m.mu.Lock()
	stored, ok := m.plans[planID]
	if !ok {
		m.mu.Unlock()
		return false, errors.Wrapf(ErrUnknownPlan, "plan %s", planID)
	}
	if transitionErr := transition(stored, next); transitionErr != nil {
		// cancelled while the verifier was running; the stale result is
		// discarded without touching the plan
		current := stored.Status
		m.mu.Unlock()
		m.auditEvent(audit.EventVerification, map[string]interface{}{
			"plan_id": planID,
			"status":  string(current),
			"error":   transitionErr.Error(),
		})
		return false, transitionErr
	}
	if verifyErr != nil {
		stored.Error = verifyErr.Error()
	}
	stored.UpdatedAt = m.clock.Now()
	m.finishLocked(stored)
	errStr := stored.Error
	m.mu.Unlock()

	m.auditEvent(audit.EventVerification, map[string]interface{}{
		"plan_id": planID,
		"status":  string(next),
		"success": next == recovery.PlanVerified,
		"details": result.Details,
		"error":   errStr,
	})

	if next == recovery.PlanVerified {
		log.Info().
			Str("plan_id", planID).
			Msg("Recovery verified")
		return true, nil
	}

	m.compensate(ctx, planID)
	return false, nil
}

func runVerifier(ctx context.Context, verif verifier.Verifier, plan *recovery.Plan) (result recovery.VerificationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("verifier panicked: %v", r)
		}
	}()
	return verif.Verify(ctx, plan)
}

// compensate replays the plan's compensation steps and moves it to
// compensated. A plan without compensation steps has nothing to undo
// and moves there directly, so every failed verification still ends in
// a terminal state and in the history.
func (m *Manager) compensate(ctx context.Context, planID string) {
	m.mu.Lock()
	stored, ok := m.plans[planID]
	if !ok {
		m.mu.Unlock()
		return
	}
	plan := stored.Copy()
	m.mu.Unlock()

	allOK := true
	if len(plan.Compensation) > 0 {
		allOK = m.compensator.Compensate(ctx, plan)
	}

	m.mu.Lock()
	stored.UpdatedAt = m.clock.Now()
	if err := transition(stored, recovery.PlanCompensated); err == nil {
		m.finishLocked(stored)
	}
	m.mu.Unlock()

	m.auditEvent(audit.EventCompensation, map[string]interface{}{
		"plan_id": planID,
		"status":  string(recovery.PlanCompensated),
		"success": allOK,
		"steps":   len(plan.Compensation),
	})

	log.Warn().
		Str("plan_id", planID).
		Bool("success", allOK).
		Msg("Recovery plan compensated")
}

// PerformRecovery is the full pipeline for one failure: plan,
// execute, verify (and compensate on verification failure). It
// returns the terminal plan and whether the recovery ended verified.
func (m *Manager) PerformRecovery(ctx context.Context, f recovery.FailureRecord) (*recovery.Plan, bool, error) {
	plan, err := m.CreateRecoveryPlan(f)
	if err != nil {
		return nil, false, err
	}

	if err := m.ExecuteRecoveryPlan(ctx, plan.PlanID); err != nil {
		final, getErr := m.GetPlan(plan.PlanID)
		if getErr != nil {
			return nil, false, err
		}
		return final, false, err
	}

	verified, err := m.VerifyRecovery(ctx, plan.PlanID)
	final, getErr := m.GetPlan(plan.PlanID)
	if getErr != nil {
		return nil, false, getErr
	}
	return final, verified, err
}

// CancelRecovery aborts a plan that is executing or verifying.
func (m *Manager) CancelRecovery(planID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.plans[planID]
	if !ok {
		return errors.Wrapf(ErrUnknownPlan, "plan %s", planID)
	}
	if err := transition(stored, recovery.PlanCancelled); err != nil {
		return err
	}
	stored.UpdatedAt = m.clock.Now()
	m.finishLocked(stored)

	log.Info().
		Str("plan_id", planID).
		Msg("Recovery plan cancelled")

	return nil
}

// GetPlan returns a copy of the plan.
func (m *Manager) GetPlan(planID string) (*recovery.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	plan, ok := m.plans[planID]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownPlan, "plan %s", planID)
	}
	return plan.Copy(), nil
}

// GetRecoveryHistory returns copies of all terminal plans in
// completion order.
func (m *Manager) GetRecoveryHistory() []*recovery.Plan {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := make([]*recovery.Plan, 0, len(m.history))
	for _, planID := range m.history {
		if plan, ok := m.plans[planID]; ok {
			res = append(res, plan.Copy())
		}
	}
	return res
}

// CompensationHistory returns the recorded compensation attempts for
// one plan.
func (m *Manager) CompensationHistory(planID string) []compensator.StepAttempt {
	return m.compensator.History(planID)
}

// transitionPlan moves a plan to next under the lock and returns a
// working copy.
func (m *Manager) transitionPlan(planID string, next recovery.PlanStatus) (*recovery.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.plans[planID]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownPlan, "plan %s", planID)
	}
	if err := transition(stored, next); err != nil {
		return nil, err
	}
	stored.UpdatedAt = m.clock.Now()
	return stored.Copy(), nil
}

// finishLocked stamps completion on terminal plans and appends them to
// the history. Callers hold m.mu.
func (m *Manager) finishLocked(plan *recovery.Plan) {
	if !isTerminal(plan.Status) || plan.CompletedAt != nil {
		return
	}
	now := m.clock.Now()
	plan.CompletedAt = &now
	m.history = append(m.history, plan.PlanID)
}
