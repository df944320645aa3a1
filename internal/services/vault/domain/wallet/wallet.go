// Package wallet defines the miniscript multisig wallet model: the policy
// template of spending paths, the key set, and the Draft to Validated to
// Final lifecycle with its invariants.
package wallet

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/covaulthq/covault/internal/platform/errors"
)

var (
	// ErrAliasEmpty indicates a missing wallet alias.
	ErrAliasEmpty = apperrors.New(apperrors.CodeWalletAliasEmpty, "wallet alias is required")
	// ErrNotDraft indicates an operation restricted to draft wallets.
	ErrNotDraft = apperrors.New(apperrors.CodeWalletNotDraft, "operation requires a draft wallet")
)

// Wallet is one multisig wallet definition under construction or finalized.
// Version is the per-wallet monotonic counter used for optimistic concurrency
// and delta ordering; every applied mutation increments it by exactly one.
type Wallet struct {
	ID        string
	OrgID     string
	Alias     string
	Status    Status
	Template  PolicyTemplate
	Keys      map[string]Key
	Version   uint64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// New builds a wallet in Draft status at version zero.
func New(id, orgID, alias string, createdAt time.Time) (Wallet, error) {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return Wallet{}, ErrAliasEmpty
	}
	return Wallet{
		ID:        id,
		OrgID:     orgID,
		Alias:     alias,
		Status:    StatusDraft,
		Keys:      make(map[string]Key),
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}, nil
}

// Clone returns a deep copy safe to hand outside the store's lock.
func (w Wallet) Clone() Wallet {
	cloned := w
	cloned.Template = w.Template.Clone()
	cloned.Keys = make(map[string]Key, len(w.Keys))
	for id, key := range w.Keys {
		cloned.Keys[id] = key
	}
	return cloned
}

// HoldsKeyFor reports whether the given participant email is assigned to at
// least one key of the wallet.
func (w Wallet) HoldsKeyFor(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false
	}
	for _, key := range w.Keys {
		if strings.ToLower(strings.TrimSpace(key.ParticipantEmail)) == email {
			return true
		}
	}
	return false
}

// ValidateTransition checks the predicate guarding an explicit status change.
//
// Draft to Validated requires at least one spending path, a structurally valid
// template, and every referenced key fully assigned. Validated to Final
// requires every key to have confirmed readiness.
func (w Wallet) ValidateTransition(to Status) error {
	if !CanTransition(w.Status, to) {
		return apperrors.WithMetadata(apperrors.CodeWalletInvalidStatusChange, fmt.Sprintf("cannot transition wallet from %s to %s", w.Status, to), map[string]string{
			"from": w.Status.String(),
			"to":   to.String(),
		})
	}
	switch to {
	case StatusValidated:
		if len(w.Template.Paths) == 0 {
			return ErrPolicyEmpty
		}
		if err := w.Template.Validate(w.Keys); err != nil {
			return err
		}
		for _, path := range w.Template.Paths {
			for _, keyID := range path.KeyIDs {
				if !w.Keys[keyID].Assigned() {
					return apperrors.WithMetadata(apperrors.CodePolicyIncomplete, fmt.Sprintf("key %s is not assigned", keyID), map[string]string{"key_id": keyID})
				}
			}
		}
	case StatusFinal:
		for _, key := range w.Keys {
			if !key.Ready {
				return apperrors.WithMetadata(apperrors.CodeKeyNotReady, fmt.Sprintf("key %s has not confirmed readiness", key.ID), map[string]string{"key_id": key.ID})
			}
		}
	}
	return nil
}
