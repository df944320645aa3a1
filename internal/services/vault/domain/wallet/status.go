package wallet

import (
	"strings"

	apperrors "github.com/covaulthq/covault/internal/platform/errors"
)

// Status describes the lifecycle of a wallet definition.
type Status int

const (
	// StatusUnspecified represents an invalid status value.
	StatusUnspecified Status = iota
	// StatusDraft indicates the wallet definition is being authored.
	StatusDraft
	// StatusValidated indicates the policy is complete and visible to its
	// participants.
	StatusValidated
	// StatusFinal indicates every key holder confirmed device readiness.
	StatusFinal
)

// String returns the wire name of the status.
func (s Status) String() string {
	switch s {
	case StatusDraft:
		return "draft"
	case StatusValidated:
		return "validated"
	case StatusFinal:
		return "final"
	}
	return "unspecified"
}

// ParseStatus resolves a wire status name.
func ParseStatus(value string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "draft":
		return StatusDraft, nil
	case "validated":
		return StatusValidated, nil
	case "final":
		return StatusFinal, nil
	}
	return StatusUnspecified, apperrors.WithMetadata(apperrors.CodeWalletInvalidStatusChange, "unknown wallet status", map[string]string{"status": value})
}

// CanTransition reports whether the lifecycle permits moving from one status
// to the next. Transitions are monotonic and never skip a state.
func CanTransition(from, to Status) bool {
	switch {
	case from == StatusDraft && to == StatusValidated:
		return true
	case from == StatusValidated && to == StatusFinal:
		return true
	}
	return false
}
