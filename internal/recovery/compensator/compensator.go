package compensator

import (
	"context"
	"sync"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/kashguard/go-consensus-infra/internal/recovery"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// StepHandler runs one compensation step. The execution data of the
// failed plan is passed through so handlers can undo exactly what was
// done.
type StepHandler func(ctx context.Context, step recovery.CompensationStep, executionData map[string]interface{}) error

// LoggingHandler is the default handler for actions without a wired
// undo path. It records the step and succeeds.
func LoggingHandler(_ context.Context, step recovery.CompensationStep, _ map[string]interface{}) error {
	log.Info().
		Str("step", step.Name).
		Str("action", step.Action).
		Msg("Compensation step applied")
	return nil
}

// StepAttempt is one recorded compensation attempt.
type StepAttempt struct {
	Step      string    `json:"step"`
	Action    string    `json:"action"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Compensator replays a failed plan's compensation steps in reverse
// order. Every step is attempted regardless of earlier failures; the
// overall result is true only when all steps succeeded.
type Compensator struct {
	handler StepHandler
	clock   time2.Clock

	mu      sync.Mutex
	history map[string][]StepAttempt
}

func NewCompensator(handler StepHandler, clock time2.Clock) *Compensator {
	if handler == nil {
		handler = LoggingHandler
	}
	return &Compensator{
		handler: handler,
		clock:   clock,
		history: make(map[string][]StepAttempt),
	}
}

// Compensate runs the plan's compensation steps last-to-first and
// returns whether every step succeeded. A panicking handler counts as
// a failed step, never as a crashed compensation run.
func (c *Compensator) Compensate(ctx context.Context, plan *recovery.Plan) bool {
	allOK := true
	for i := len(plan.Compensation) - 1; i >= 0; i-- {
		step := plan.Compensation[i]
		err := c.runStep(ctx, step, plan.ExecutionData)

		attempt := StepAttempt{
			Step:      step.Name,
			Action:    step.Action,
			Success:   err == nil,
			Timestamp: c.clock.Now(),
		}
		if err != nil {
			attempt.Error = err.Error()
			allOK = false
			log.Error().
				Err(err).
				Str("plan_id", plan.PlanID).
				Str("step", step.Name).
				Msg("Compensation step failed")
		}

		c.mu.Lock()
		c.history[plan.PlanID] = append(c.history[plan.PlanID], attempt)
		c.mu.Unlock()
	}
	return allOK
}

func (c *Compensator) runStep(ctx context.Context, step recovery.CompensationStep, executionData map[string]interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("compensation step %s panicked: %v", step.Name, r)
		}
	}()
	return c.handler(ctx, step, executionData)
}

// History returns the recorded attempts for one plan, oldest first.
func (c *Compensator) History(planID string) []StepAttempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]StepAttempt(nil), c.history[planID]...)
}
