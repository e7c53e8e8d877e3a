package failure

import (
	"context"
	"sort"

	"github.com/dropbox/godropbox/time2"
	"github.com/kashguard/go-consensus-infra/internal/recovery"
)

const TypeTrustDegraded = "trust_degraded"

// TrustSource provides the current trust score per node.
type TrustSource func() map[string]float64

// TrustDetector flags nodes whose trust score dropped below the
// configured minimum.
type TrustDetector struct {
	source    TrustSource
	threshold float64
	clock     time2.Clock
}

func NewTrustDetector(source TrustSource, threshold float64, clock time2.Clock) *TrustDetector {
	return &TrustDetector{source: source, threshold: threshold, clock: clock}
}

func (d *TrustDetector) Domain() string {
	return recovery.DomainTrust
}

func (d *TrustDetector) Detect(_ context.Context) ([]recovery.FailureRecord, error) {
	scores := d.source()

	// stable order for deterministic failure batches
	nodeIDs := make([]string, 0, len(scores))
	for nodeID := range scores {
		nodeIDs = append(nodeIDs, nodeID)
	}
	sort.Strings(nodeIDs)

	var records []recovery.FailureRecord
	for _, nodeID := range nodeIDs {
		score := scores[nodeID]
		if score >= d.threshold {
			continue
		}
		records = append(records, newRecord(d.clock, recovery.DomainTrust, TypeTrustDegraded, map[string]interface{}{
			"node_id":   nodeID,
			"score":     score,
			"threshold": d.threshold,
		}))
	}

	return records, nil
}
