package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrDecisionNotFound = errors.New("decision not found")
)

// DecisionRecord is a finalized governance decision.
type DecisionRecord struct {
	DecisionID   string                 `json:"decision_id"`
	ProposalID   string                 `json:"proposal_id"`
	Payload      map[string]interface{} `json:"payload"`
	Result       bool                   `json:"result"`
	RegisteredAt time.Time              `json:"registered_at"`
}

// DecisionRegistry persists finalized decisions. RegisterDecision is
// idempotent: registering an already-known decision id is a no-op so
// that repeated finalization produces no duplicate writes.
type DecisionRegistry interface {
	RegisterDecision(ctx context.Context, record *DecisionRecord) error
	GetDecision(ctx context.Context, decisionID string) (*DecisionRecord, error)
	ListDecisions(ctx context.Context) ([]*DecisionRecord, error)
}
