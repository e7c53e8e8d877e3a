package audit

import (
	"encoding/json"
	"io"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// TimelineEvent is one entry of a plan's audit timeline.
type TimelineEvent struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
}

// PlanReport is the per-plan section of an audit report.
type PlanReport struct {
	PlanID             string          `json:"plan_id"`
	Status             string          `json:"status"`
	Timeline           []TimelineEvent `json:"timeline"`
	FailureType        string          `json:"failure_type,omitempty"`
	RecoveryType       string          `json:"recovery_type,omitempty"`
	ExecutionSteps     []string        `json:"execution_steps,omitempty"`
	VerificationResult *bool           `json:"verification_result,omitempty"`
}

// Report is the compliance report shape.
type Report struct {
	GeneratedAt time.Time `json:"generated_at"`
	TimeRange   struct {
		Start time.Time `json:"start"`
		End   time.Time `json:"end"`
	} `json:"time_range"`
	Summary struct {
		TotalPlans  int            `json:"total_plans"`
		TotalEvents int            `json:"total_events"`
		EventTypes  map[string]int `json:"event_types"`
	} `json:"summary"`
	Plans []PlanReport `json:"plans"`
}

// GenerateAuditReport queries the trail for the given window, groups
// entries by plan id and writes the JSON report. An empty planID
// reports all plans.
func (l *Logger) GenerateAuditReport(output io.Writer, start, end time.Time, planID string) error {
	entries, err := l.Query(Filter{Start: start, End: end, PlanID: planID})
	if err != nil {
		return err
	}

	report := Report{GeneratedAt: l.clock.Now()}
	report.TimeRange.Start = start
	report.TimeRange.End = end
	report.Summary.TotalEvents = len(entries)
	report.Summary.EventTypes = make(map[string]int)

	byPlan := make(map[string][]Entry)
	for _, entry := range entries {
		report.Summary.EventTypes[entry.EventType]++

		id, _ := entry.Data["plan_id"].(string)
		if id == "" {
			continue
		}
		byPlan[id] = append(byPlan[id], entry)
	}

	planIDs := make([]string, 0, len(byPlan))
	for id := range byPlan {
		planIDs = append(planIDs, id)
	}
	sort.Strings(planIDs)

	report.Summary.TotalPlans = len(planIDs)
	report.Plans = make([]PlanReport, 0, len(planIDs))
	for _, id := range planIDs {
		report.Plans = append(report.Plans, buildPlanReport(id, byPlan[id]))
	}

	enc := json.NewEncoder(output)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return errors.Wrap(err, "failed to write audit report")
	}
	return nil
}

// buildPlanReport derives the plan view from its event stream: the
// latest event carrying a status wins, the timeline keeps all events
// in order.
func buildPlanReport(planID string, entries []Entry) PlanReport {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})

	pr := PlanReport{PlanID: planID}
	for _, entry := range entries {
		pr.Timeline = append(pr.Timeline, TimelineEvent{
			Timestamp: entry.Timestamp,
			EventType: entry.EventType,
		})

		if status, ok := entry.Data["status"].(string); ok && status != "" {
			pr.Status = status
		}
		if t, ok := entry.Data["failure_type"].(string); ok && t != "" {
			pr.FailureType = t
		}
		if t, ok := entry.Data["recovery_type"].(string); ok && t != "" {
			pr.RecoveryType = t
		}
		if entry.EventType == EventExecution {
			pr.ExecutionSteps = stepNames(entry.Data["steps_completed"])
		}
		if entry.EventType == EventVerification {
			if success, ok := entry.Data["success"].(bool); ok {
				v := success
				pr.VerificationResult = &v
			}
		}
	}

	return pr
}

// stepNames tolerates both in-memory []string data and the
// []interface{} shape JSON decoding produces.
func stepNames(v interface{}) []string {
	switch steps := v.(type) {
	case []string:
		return steps
	case []interface{}:
		names := make([]string, 0, len(steps))
		for _, s := range steps {
			if name, ok := s.(string); ok {
				names = append(names, name)
			}
		}
		return names
	default:
		return nil
	}
}
