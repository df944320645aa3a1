package handler

import (
	"context"
	"strings"

	apperrors "github.com/covaulthq/covault/internal/platform/errors"
	"github.com/covaulthq/covault/internal/platform/id"
	"github.com/covaulthq/covault/internal/protocol"
	"github.com/covaulthq/covault/internal/services/auth"
	"github.com/covaulthq/covault/internal/services/vault/domain/org"
	"github.com/covaulthq/covault/internal/services/vault/domain/wallet"
	"github.com/covaulthq/covault/internal/services/vault/hub"
)

// authorizeWallet loads the target wallet and runs the permission matrix for
// the action. Wallets the requester cannot see answer NOT_FOUND.
func (h *Handler) authorizeWallet(walletID string, identity auth.Identity, action ActionKind) (wallet.Wallet, org.Role, error) {
	w, err := h.store.Snapshot(walletID)
	if err != nil {
		return wallet.Wallet{}, org.RoleUnspecified, err
	}
	role := h.store.RoleOf(w.OrgID, identity.UserID)
	if !visibleTo(w, role, identity.Email) {
		return wallet.Wallet{}, org.RoleUnspecified, apperrors.New(apperrors.CodeNotFound, "wallet not found")
	}
	if !allowed(role, action) {
		return wallet.Wallet{}, org.RoleUnspecified, apperrors.New(apperrors.CodeForbidden, "action is not permitted for role "+role.String())
	}
	return w, role, nil
}

// applyAndBroadcast runs the version-checked mutation, answers the requester
// with the updated snapshot, and pushes the delta to subscribers. Both frames
// are published from the store's applied callback, while the wallet entry is
// still locked, so subscribers see deltas in the order commits happened.
func (h *Handler) applyAndBroadcast(ctx context.Context, peer *hub.Peer, messageID string, req protocol.WalletRequest, changeKind string, mutate func(*wallet.Wallet) error) {
	_, err := h.store.Apply(ctx, req.WalletID, req.ExpectedVersion, mutate, func(updated wallet.Wallet) {
		view := snapshotView(updated)
		h.respondResult(peer, messageID, protocol.WalletResult{Wallet: view})
		h.broadcast(updated.ID, updated.Version, changeKind, &view)
	})
	if err != nil {
		h.respondError(peer, messageID, err)
	}
}

func (h *Handler) handleDeleteWallet(ctx context.Context, identity auth.Identity, peer *hub.Peer, env protocol.Envelope) {
	var req protocol.WalletRequest
	if err := protocol.UnmarshalPayload(env, &req); err != nil {
		h.respondError(peer, env.MessageID, err)
		return
	}
	if _, _, err := h.authorizeWallet(req.WalletID, identity, actionFor(env.Type)); err != nil {
		h.respondError(peer, env.MessageID, err)
		return
	}
	_, err := h.store.DeleteWallet(ctx, req.WalletID, req.ExpectedVersion, func(deleted wallet.Wallet) {
		h.respondResult(peer, env.MessageID, protocol.AckResult{Status: "ok"})
		h.broadcast(deleted.ID, deleted.Version+1, protocol.ChangeWalletDeleted, nil)
		h.hub.DropWallet(deleted.ID)
	})
	if err != nil {
		h.respondError(peer, env.MessageID, err)
	}
}

func (h *Handler) handleRenameWallet(ctx context.Context, identity auth.Identity, peer *hub.Peer, env protocol.Envelope) {
	var req protocol.RenameWalletRequest
	if err := protocol.UnmarshalPayload(env, &req); err != nil {
		h.respondError(peer, env.MessageID, err)
		return
	}
	if _, _, err := h.authorizeWallet(req.WalletID, identity, actionFor(env.Type)); err != nil {
		h.respondError(peer, env.MessageID, err)
		return
	}
	alias := strings.TrimSpace(req.Alias)
	h.applyAndBroadcast(ctx, peer, env.MessageID, req.WalletRequest, protocol.ChangeWalletRenamed, func(w *wallet.Wallet) error {
		if alias == "" {
			return wallet.ErrAliasEmpty
		}
		w.Alias = alias
		return nil
	})
}

func (h *Handler) handleUpdatePolicy(ctx context.Context, identity auth.Identity, peer *hub.Peer, env protocol.Envelope) {
	var req protocol.UpdatePolicyRequest
	if err := protocol.UnmarshalPayload(env, &req); err != nil {
		h.respondError(peer, env.MessageID, err)
		return
	}
	if _, _, err := h.authorizeWallet(req.WalletID, identity, actionFor(env.Type)); err != nil {
		h.respondError(peer, env.MessageID, err)
		return
	}
	template := templateFromWire(req.Template)
	h.applyAndBroadcast(ctx, peer, env.MessageID, req.WalletRequest, protocol.ChangePolicyUpdated, func(w *wallet.Wallet) error {
		if w.Status != wallet.StatusDraft {
			return wallet.ErrNotDraft
		}
		if err := template.Validate(w.Keys); err != nil {
			return err
		}
		w.Template = template.Clone()
		return nil
	})
}

func (h *Handler) handleAddKey(ctx context.Context, identity auth.Identity, peer *hub.Peer, env protocol.Envelope) {
	var req protocol.AddKeyRequest
	if err := protocol.UnmarshalPayload(env, &req); err != nil {
		h.respondError(peer, env.MessageID, err)
		return
	}
	if _, _, err := h.authorizeWallet(req.WalletID, identity, actionFor(env.Type)); err != nil {
		h.respondError(peer, env.MessageID, err)
		return
	}
	keyType, err := wallet.ParseKeyType(req.KeyType)
	if err != nil {
		h.respondError(peer, env.MessageID, err)
		return
	}
	alias := strings.TrimSpace(req.Alias)
	h.applyAndBroadcast(ctx, peer, env.MessageID, req.WalletRequest, protocol.ChangeKeyAdded, func(w *wallet.Wallet) error {
		if w.Status != wallet.StatusDraft {
			return wallet.ErrNotDraft
		}
		if alias == "" {
			return apperrors.New(apperrors.CodeKeyAliasEmpty, "key alias is required")
		}
		keyID := "key_" + id.MustNewID()
		w.Keys[keyID] = wallet.Key{
			ID:          keyID,
			Alias:       alias,
			Description: strings.TrimSpace(req.Description),
			Type:        keyType,
		}
		return nil
	})
}

func (h *Handler) handleRemoveKey(ctx context.Context, identity auth.Identity, peer *hub.Peer, env protocol.Envelope) {
	var req protocol.RemoveKeyRequest
	if err := protocol.UnmarshalPayload(env, &req); err != nil {
		h.respondError(peer, env.MessageID, err)
		return
	}
	if _, _, err := h.authorizeWallet(req.WalletID, identity, actionFor(env.Type)); err != nil {
		h.respondError(peer, env.MessageID, err)
		return
	}
	h.applyAndBroadcast(ctx, peer, env.MessageID, req.WalletRequest, protocol.ChangeKeyRemoved, func(w *wallet.Wallet) error {
		if w.Status != wallet.StatusDraft {
			return wallet.ErrNotDraft
		}
		if _, ok := w.Keys[req.KeyID]; !ok {
			return apperrors.WithMetadata(apperrors.CodeNotFound, "key not found", map[string]string{"key_id": req.KeyID})
		}
		if w.Template.References(req.KeyID) {
			return apperrors.WithMetadata(apperrors.CodeKeyInUse, "key is referenced by a spending path", map[string]string{"key_id": req.KeyID})
		}
		delete(w.Keys, req.KeyID)
		return nil
	})
}

func (h *Handler) handleAssignKey(ctx context.Context, identity auth.Identity, peer *hub.Peer, env protocol.Envelope) {
	var req protocol.AssignKeyRequest
	if err := protocol.UnmarshalPayload(env, &req); err != nil {
		h.respondError(peer, env.MessageID, err)
		return
	}
	if _, _, err := h.authorizeWallet(req.WalletID, identity, actionFor(env.Type)); err != nil {
		h.respondError(peer, env.MessageID, err)
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.ParticipantEmail))
	xpub := strings.TrimSpace(req.XPub)
	h.applyAndBroadcast(ctx, peer, env.MessageID, req.WalletRequest, protocol.ChangeKeyAssigned, func(w *wallet.Wallet) error {
		if w.Status != wallet.StatusDraft {
			return wallet.ErrNotDraft
		}
		key, ok := w.Keys[req.KeyID]
		if !ok {
			return apperrors.WithMetadata(apperrors.CodeNotFound, "key not found", map[string]string{"key_id": req.KeyID})
		}
		if email == "" || !strings.Contains(email, "@") {
			return apperrors.New(apperrors.CodeProtocolMalformed, "participant email is required")
		}
		if err := h.xpub.ValidateXPub(xpub); err != nil {
			return err
		}
		for otherID, other := range w.Keys {
			if otherID != req.KeyID && other.XPub == xpub {
				return apperrors.WithMetadata(apperrors.CodeKeyDuplicateAssignment, "xpub is already assigned to another key", map[string]string{"key_id": otherID})
			}
		}
		key.ParticipantEmail = email
		key.XPub = xpub
		// Reassignment invalidates any earlier readiness confirmation.
		key.Ready = false
		w.Keys[req.KeyID] = key
		return nil
	})
}

func (h *Handler) handleMarkKeyReady(ctx context.Context, identity auth.Identity, peer *hub.Peer, env protocol.Envelope) {
	var req protocol.MarkKeyReadyRequest
	if err := protocol.UnmarshalPayload(env, &req); err != nil {
		h.respondError(peer, env.MessageID, err)
		return
	}
	_, role, err := h.authorizeWallet(req.WalletID, identity, actionFor(env.Type))
	if err != nil {
		h.respondError(peer, env.MessageID, err)
		return
	}
	email := strings.ToLower(strings.TrimSpace(identity.Email))
	h.applyAndBroadcast(ctx, peer, env.MessageID, req.WalletRequest, protocol.ChangeKeyReady, func(w *wallet.Wallet) error {
		key, ok := w.Keys[req.KeyID]
		if !ok {
			return apperrors.WithMetadata(apperrors.CodeNotFound, "key not found", map[string]string{"key_id": req.KeyID})
		}
		if !key.Assigned() {
			return apperrors.WithMetadata(apperrors.CodePolicyIncomplete, "key is not assigned", map[string]string{"key_id": req.KeyID})
		}
		// Participants confirm readiness only for their own keys.
		if role == org.RoleParticipant && strings.ToLower(key.ParticipantEmail) != email {
			return apperrors.New(apperrors.CodeForbidden, "participants confirm only their own keys")
		}
		key.Ready = true
		w.Keys[req.KeyID] = key
		return nil
	})
}

func (h *Handler) handleStatusTransition(ctx context.Context, identity auth.Identity, peer *hub.Peer, env protocol.Envelope) {
	var req protocol.StatusTransitionRequest
	if err := protocol.UnmarshalPayload(env, &req); err != nil {
		h.respondError(peer, env.MessageID, err)
		return
	}
	if _, _, err := h.authorizeWallet(req.WalletID, identity, actionFor(env.Type)); err != nil {
		h.respondError(peer, env.MessageID, err)
		return
	}
	target, err := wallet.ParseStatus(req.Target)
	if err != nil {
		h.respondError(peer, env.MessageID, err)
		return
	}
	h.applyAndBroadcast(ctx, peer, env.MessageID, req.WalletRequest, protocol.ChangeStatusChanged, func(w *wallet.Wallet) error {
		if err := w.ValidateTransition(target); err != nil {
			return err
		}
		w.Status = target
		return nil
	})
}
