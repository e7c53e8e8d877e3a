package storage

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// InMemoryRegistry is the default decision registry for single-process
// deployments and tests.
type InMemoryRegistry struct {
	mu        sync.RWMutex
	decisions map[string]*DecisionRecord
}

func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		decisions: make(map[string]*DecisionRecord),
	}
}

func (r *InMemoryRegistry) RegisterDecision(_ context.Context, record *DecisionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.decisions[record.DecisionID]; ok {
		return nil
	}

	c := *record
	r.decisions[record.DecisionID] = &c
	return nil
}

func (r *InMemoryRegistry) GetDecision(_ context.Context, decisionID string) (*DecisionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.decisions[decisionID]
	if !ok {
		return nil, errors.Wrapf(ErrDecisionNotFound, "decision %s", decisionID)
	}
	c := *record
	return &c, nil
}

func (r *InMemoryRegistry) ListDecisions(_ context.Context) ([]*DecisionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make([]*DecisionRecord, 0, len(r.decisions))
	for _, record := range r.decisions {
		c := *record
		res = append(res, &c)
	}
	return res, nil
}
