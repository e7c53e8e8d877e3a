package failure

import (
	"context"

	"github.com/dropbox/godropbox/time2"
	"github.com/google/uuid"
	"github.com/kashguard/go-consensus-infra/internal/recovery"
)

// Detector inspects one domain and reports current failures. Detectors
// are pure over the snapshot their source function returns; they never
// mutate the observed subsystem.
type Detector interface {
	Domain() string
	Detect(ctx context.Context) ([]recovery.FailureRecord, error)
}

func newRecord(clock time2.Clock, domain, failureType string, details map[string]interface{}) recovery.FailureRecord {
	return recovery.FailureRecord{
		FailureID:   "failure-" + uuid.New().String(),
		FailureType: failureType,
		Domain:      domain,
		Details:     details,
		Timestamp:   clock.Now(),
	}
}
