package compensator

import (
	"context"
	"testing"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/kashguard/go-consensus-infra/internal/recovery"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threeStepPlan() *recovery.Plan {
	return &recovery.Plan{
		PlanID: "plan-1",
		Status: recovery.PlanVerificationFailed,
		Compensation: []recovery.CompensationStep{
			{Name: "undo-a", Action: "a"},
			{Name: "undo-b", Action: "b"},
			{Name: "undo-c", Action: "c"},
		},
	}
}

func TestCompensate_ReverseOrder(t *testing.T) {
	clock := time2.NewMockClock(time.Now())
	var order []string
	c := NewCompensator(func(_ context.Context, step recovery.CompensationStep, _ map[string]interface{}) error {
		order = append(order, step.Name)
		return nil
	}, clock)

	ok := c.Compensate(context.Background(), threeStepPlan())
	assert.True(t, ok)
	assert.Equal(t, []string{"undo-c", "undo-b", "undo-a"}, order)
}

func TestCompensate_MiddleStepFails_AllAttempted(t *testing.T) {
	clock := time2.NewMockClock(time.Now())
	c := NewCompensator(func(_ context.Context, step recovery.CompensationStep, _ map[string]interface{}) error {
		if step.Name == "undo-b" {
			return errors.New("undo unavailable")
		}
		return nil
	}, clock)

	ok := c.Compensate(context.Background(), threeStepPlan())
	assert.False(t, ok)

	history := c.History("plan-1")
	require.Len(t, history, 3)
	assert.True(t, history[0].Success)  // undo-c
	assert.False(t, history[1].Success) // undo-b
	assert.True(t, history[2].Success)  // undo-a
	assert.Contains(t, history[1].Error, "undo unavailable")
}

func TestCompensate_PanickingHandler(t *testing.T) {
	clock := time2.NewMockClock(time.Now())
	c := NewCompensator(func(_ context.Context, step recovery.CompensationStep, _ map[string]interface{}) error {
		if step.Name == "undo-c" {
			panic("boom")
		}
		return nil
	}, clock)

	ok := c.Compensate(context.Background(), threeStepPlan())
	assert.False(t, ok)

	history := c.History("plan-1")
	require.Len(t, history, 3)
	assert.False(t, history[0].Success)
	assert.Contains(t, history[0].Error, "panicked")
}

func TestCompensate_ReceivesExecutionData(t *testing.T) {
	clock := time2.NewMockClock(time.Now())
	plan := threeStepPlan()
	plan.ExecutionData = map[string]interface{}{"steps_completed": []string{"a", "b"}}

	var seen map[string]interface{}
	c := NewCompensator(func(_ context.Context, _ recovery.CompensationStep, data map[string]interface{}) error {
		seen = data
		return nil
	}, clock)

	c.Compensate(context.Background(), plan)
	assert.Equal(t, plan.ExecutionData, seen)
}

func TestHistory_CopyIsolated(t *testing.T) {
	clock := time2.NewMockClock(time.Now())
	c := NewCompensator(nil, clock)
	c.Compensate(context.Background(), threeStepPlan())

	h := c.History("plan-1")
	require.NotEmpty(t, h)
	h[0].Step = "mutated"
	assert.NotEqual(t, "mutated", c.History("plan-1")[0].Step)
}
