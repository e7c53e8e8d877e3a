package protocol

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ProtocolError represents a generic protocol error
type ProtocolError struct {
	Type       ErrorType
	Message    string
	ProposalID string
	Culprits   []string // Node IDs of malicious or faulty parties
	Original   error
}

type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeUnknownProposal
	ErrTypeDuplicateProposal
	ErrTypeRejected
	ErrTypeMalicious
)

func (e *ProtocolError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Type.String(), e.Message))
	if len(e.Culprits) > 0 {
		sb.WriteString(fmt.Sprintf(" (culprits: %v)", e.Culprits))
	}
	if e.ProposalID != "" {
		sb.WriteString(fmt.Sprintf(" [proposal: %s]", e.ProposalID))
	}
	if e.Original != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Original))
	}
	return sb.String()
}

func (e *ProtocolError) Unwrap() error {
	return e.Original
}

func (t ErrorType) String() string {
	switch t {
	case ErrTypeUnknownProposal:
		return "UNKNOWN_PROPOSAL"
	case ErrTypeDuplicateProposal:
		return "DUPLICATE_PROPOSAL"
	case ErrTypeRejected:
		return "REJECTED"
	case ErrTypeMalicious:
		return "MALICIOUS"
	default:
		return "UNKNOWN"
	}
}

// NewUnknownProposalError creates an error for an unregistered proposal id.
func NewUnknownProposalError(proposalID string) *ProtocolError {
	return &ProtocolError{
		Type:       ErrTypeUnknownProposal,
		Message:    "proposal not found",
		ProposalID: proposalID,
	}
}

// NewDuplicateProposalError creates an error for re-submitting a proposal id.
func NewDuplicateProposalError(proposalID string) *ProtocolError {
	return &ProtocolError{
		Type:       ErrTypeDuplicateProposal,
		Message:    "proposal already submitted",
		ProposalID: proposalID,
	}
}

// NewRejectedError creates an error for a proposal the protocol declines.
func NewRejectedError(proposalID string, msg string) *ProtocolError {
	return &ProtocolError{
		Type:       ErrTypeRejected,
		Message:    msg,
		ProposalID: proposalID,
	}
}

// IsErrorType reports whether err is a ProtocolError of the given type.
func IsErrorType(err error, t ErrorType) bool {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Type == t
	}
	return false
}
