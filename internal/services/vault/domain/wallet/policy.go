package wallet

import (
	"fmt"

	apperrors "github.com/covaulthq/covault/internal/platform/errors"
)

var (
	// ErrPolicyEmpty indicates a template with no spending paths.
	ErrPolicyEmpty = apperrors.New(apperrors.CodePolicyEmpty, "policy template requires at least one spending path")
	// ErrTimelockNotIncreasing indicates recovery timelocks out of order.
	ErrTimelockNotIncreasing = apperrors.New(apperrors.CodePolicyTimelockNotIncreasing, "recovery timelocks must be strictly increasing")
)

// SpendingPath is a threshold-of-keys condition, optionally gated behind a
// relative timelock. A zero timelock means the path carries none.
type SpendingPath struct {
	Threshold int
	Timelock  uint32
	KeyIDs    []string
}

// PolicyTemplate is the ordered sequence of spending paths. Order is semantic:
// the first path is the primary spending condition and subsequent paths are
// recovery paths that activate in sequence.
type PolicyTemplate struct {
	Paths []SpendingPath
}

// Clone returns a deep copy of the template.
func (t PolicyTemplate) Clone() PolicyTemplate {
	cloned := PolicyTemplate{Paths: make([]SpendingPath, len(t.Paths))}
	for i, path := range t.Paths {
		copied := path
		copied.KeyIDs = append([]string(nil), path.KeyIDs...)
		cloned.Paths[i] = copied
	}
	return cloned
}

// References reports whether any path references the given key.
func (t PolicyTemplate) References(keyID string) bool {
	for _, path := range t.Paths {
		for _, id := range path.KeyIDs {
			if id == keyID {
				return true
			}
		}
	}
	return false
}

// Validate checks the structural invariants of a template against the
// wallet's key set:
//
//   - every path references at least one key, each exactly once
//   - every referenced key exists in the wallet
//   - threshold is positive and never exceeds the path's key count
//   - every recovery path carries a timelock, strictly increasing across
//     recovery paths so a later inheritance path can never become spendable
//     before an earlier one
//
// An empty template is valid while drafting; completeness is enforced by the
// Draft to Validated transition, not here.
func (t PolicyTemplate) Validate(keys map[string]Key) error {
	var lastTimelock uint32
	for i, path := range t.Paths {
		if len(path.KeyIDs) == 0 {
			return apperrors.WithMetadata(apperrors.CodePolicyIncomplete, fmt.Sprintf("spending path %d references no keys", i), pathMeta(i))
		}
		seen := make(map[string]struct{}, len(path.KeyIDs))
		for _, keyID := range path.KeyIDs {
			if _, ok := keys[keyID]; !ok {
				return apperrors.WithMetadata(apperrors.CodePolicyUnknownKey, fmt.Sprintf("spending path %d references unknown key %s", i, keyID), map[string]string{"path": fmt.Sprintf("%d", i), "key_id": keyID})
			}
			if _, dup := seen[keyID]; dup {
				return apperrors.WithMetadata(apperrors.CodeKeyDuplicateAssignment, fmt.Sprintf("spending path %d references key %s twice", i, keyID), map[string]string{"path": fmt.Sprintf("%d", i), "key_id": keyID})
			}
			seen[keyID] = struct{}{}
		}
		if path.Threshold < 1 || path.Threshold > len(path.KeyIDs) {
			return apperrors.WithMetadata(apperrors.CodePolicyThresholdExceedsKeys, fmt.Sprintf("spending path %d threshold %d is not satisfiable by %d keys", i, path.Threshold, len(path.KeyIDs)), map[string]string{
				"path":      fmt.Sprintf("%d", i),
				"threshold": fmt.Sprintf("%d", path.Threshold),
				"keys":      fmt.Sprintf("%d", len(path.KeyIDs)),
			})
		}
		if i == 0 {
			continue
		}
		if path.Timelock == 0 {
			return apperrors.WithMetadata(apperrors.CodePolicyTimelockNotIncreasing, fmt.Sprintf("recovery path %d requires a timelock", i), pathMeta(i))
		}
		if path.Timelock <= lastTimelock {
			return ErrTimelockNotIncreasing
		}
		lastTimelock = path.Timelock
	}
	return nil
}

func pathMeta(i int) map[string]string {
	return map[string]string{"path": fmt.Sprintf("%d", i)}
}
