package failure

import (
	"context"

	"github.com/dropbox/godropbox/time2"
	"github.com/kashguard/go-consensus-infra/internal/recovery"
)

const TypeResourceExhaustion = "resource_exhaustion"

// ResourceMetrics is one sample of host resource usage, in percent.
type ResourceMetrics struct {
	CPUPercent    float64
	MemoryPercent float64
	DiskPercent   float64
}

// SystemSource provides the current resource metrics.
type SystemSource func() ResourceMetrics

// SystemThresholds are the exhaustion limits per resource, in percent.
type SystemThresholds struct {
	CPU    float64
	Memory float64
	Disk   float64
}

// DefaultSystemThresholds returns the thresholds used when the caller
// does not override them.
func DefaultSystemThresholds() SystemThresholds {
	return SystemThresholds{CPU: 90, Memory: 90, Disk: 85}
}

// SystemDetector flags resources that exceed their threshold.
type SystemDetector struct {
	source     SystemSource
	thresholds SystemThresholds
	clock      time2.Clock
}

func NewSystemDetector(source SystemSource, thresholds SystemThresholds, clock time2.Clock) *SystemDetector {
	return &SystemDetector{source: source, thresholds: thresholds, clock: clock}
}

func (d *SystemDetector) Domain() string {
	return recovery.DomainSystem
}

func (d *SystemDetector) Detect(_ context.Context) ([]recovery.FailureRecord, error) {
	m := d.source()

	checks := []struct {
		resource  string
		value     float64
		threshold float64
	}{
		{"cpu", m.CPUPercent, d.thresholds.CPU},
		{"memory", m.MemoryPercent, d.thresholds.Memory},
		{"disk", m.DiskPercent, d.thresholds.Disk},
	}

	var records []recovery.FailureRecord
	for _, c := range checks {
		if c.value <= c.threshold {
			continue
		}
		records = append(records, newRecord(d.clock, recovery.DomainSystem, TypeResourceExhaustion, map[string]interface{}{
			"resource":  c.resource,
			"value":     c.value,
			"threshold": c.threshold,
		}))
	}

	return records, nil
}
