package manager

import (
	"github.com/kashguard/go-consensus-infra/internal/recovery"
	"github.com/pkg/errors"
)

var ErrInvalidTransition = errors.New("invalid plan state transition")

// canTransition encodes the plan lifecycle:
//
//	created -> executing -> executed -> verifying -> verified
//	executing -> failed
//	verifying -> verification_failed -> compensated
//	executing|verifying -> cancelled
//
// verified, compensated, failed and cancelled are terminal.
func canTransition(current, next recovery.PlanStatus) bool {
	switch current {
	case recovery.PlanCreated:
		return next == recovery.PlanExecuting
	case recovery.PlanExecuting:
		return next == recovery.PlanExecuted || next == recovery.PlanFailed || next == recovery.PlanCancelled
	case recovery.PlanExecuted:
		return next == recovery.PlanVerifying
	case recovery.PlanVerifying:
		return next == recovery.PlanVerified || next == recovery.PlanVerificationFailed || next == recovery.PlanCancelled
	case recovery.PlanVerificationFailed:
		return next == recovery.PlanCompensated
	default:
		return false
	}
}

func transition(plan *recovery.Plan, next recovery.PlanStatus) error {
	if !canTransition(plan.Status, next) {
		return errors.Wrapf(ErrInvalidTransition, "from %s to %s", plan.Status, next)
	}
	plan.Status = next
	return nil
}

func isTerminal(status recovery.PlanStatus) bool {
	switch status {
	case recovery.PlanVerified, recovery.PlanCompensated, recovery.PlanFailed, recovery.PlanCancelled:
		return true
	default:
		return false
	}
}
