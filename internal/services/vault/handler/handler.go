// Package handler dispatches protocol requests through the permission matrix
// and domain validation onto the state store, answering the requester and
// fanning out wallet deltas to subscribers.
package handler

import (
	"context"
	"log"
	"strings"

	apperrors "github.com/covaulthq/covault/internal/platform/errors"
	"github.com/covaulthq/covault/internal/protocol"
	"github.com/covaulthq/covault/internal/services/auth"
	"github.com/covaulthq/covault/internal/services/vault/domain/org"
	"github.com/covaulthq/covault/internal/services/vault/domain/wallet"
	"github.com/covaulthq/covault/internal/services/vault/hub"
	"github.com/covaulthq/covault/internal/services/vault/state"
)

// Handler is the request pipeline: identity, permission matrix, domain
// validation, version-checked apply, delta broadcast.
type Handler struct {
	store *state.Store
	hub   *hub.Hub
	xpub  wallet.XPubValidator
}

// New builds a handler. A nil validator falls back to the syntactic default.
func New(store *state.Store, h *hub.Hub, xpub wallet.XPubValidator) *Handler {
	if xpub == nil {
		xpub = wallet.SyntaxValidator{}
	}
	return &Handler{store: store, hub: h, xpub: xpub}
}

// Handle processes one decoded envelope for an authenticated connection.
// Responses and deltas go through the peer's bounded queue; Handle itself
// never blocks on a slow consumer.
func (h *Handler) Handle(ctx context.Context, identity auth.Identity, peer *hub.Peer, env protocol.Envelope) {
	switch env.Type {
	case protocol.TypePing:
		h.send(peer, protocol.Envelope{
			ProtocolVersion: protocol.Version,
			MessageID:       env.MessageID,
			Type:            protocol.TypePong,
		})
	case protocol.TypeCreateOrg:
		h.handleCreateOrg(ctx, identity, peer, env)
	case protocol.TypeInviteMember:
		h.handleInviteMember(ctx, identity, peer, env)
	case protocol.TypeCreateWallet:
		h.handleCreateWallet(ctx, identity, peer, env)
	case protocol.TypeDeleteWallet:
		h.handleDeleteWallet(ctx, identity, peer, env)
	case protocol.TypeRenameWallet:
		h.handleRenameWallet(ctx, identity, peer, env)
	case protocol.TypeUpdatePolicy:
		h.handleUpdatePolicy(ctx, identity, peer, env)
	case protocol.TypeAddKey:
		h.handleAddKey(ctx, identity, peer, env)
	case protocol.TypeRemoveKey:
		h.handleRemoveKey(ctx, identity, peer, env)
	case protocol.TypeAssignKey:
		h.handleAssignKey(ctx, identity, peer, env)
	case protocol.TypeMarkKeyReady:
		h.handleMarkKeyReady(ctx, identity, peer, env)
	case protocol.TypeStatusTransition:
		h.handleStatusTransition(ctx, identity, peer, env)
	case protocol.TypeGetWallet:
		h.handleGetWallet(identity, peer, env)
	case protocol.TypeListWallets:
		h.handleListWallets(identity, peer, env)
	case protocol.TypeSubscribeWallet:
		h.handleSubscribeWallet(identity, peer, env)
	case protocol.TypeUnsubscribeWallet:
		h.handleUnsubscribeWallet(peer, env)
	default:
		h.respondError(peer, env.MessageID, apperrors.WithMetadata(apperrors.CodeProtocolMalformed, "unsupported message type", map[string]string{"type": env.Type}))
	}
}

func (h *Handler) send(peer *hub.Peer, env protocol.Envelope) {
	_ = peer.Send(env)
}

func (h *Handler) respondResult(peer *hub.Peer, messageID string, payload any) {
	h.send(peer, protocol.Envelope{
		ProtocolVersion: protocol.Version,
		MessageID:       messageID,
		Type:            protocol.TypeResult,
		Payload:         protocol.MustPayload(payload),
	})
}

func (h *Handler) respondError(peer *hub.Peer, messageID string, err error) {
	code := apperrors.GetCode(err)
	if code == apperrors.CodeUnknown || code == apperrors.CodeInternal {
		log.Printf("handler: internal error for user %s: %v", peer.UserID, err)
		code = apperrors.CodeInternal
		err = apperrors.New(code, "internal server error")
	}
	h.send(peer, protocol.Envelope{
		ProtocolVersion: protocol.Version,
		MessageID:       messageID,
		Type:            protocol.TypeError,
		Payload: protocol.MustPayload(protocol.ErrorPayload{
			Category: string(code.WireCategory()),
			Code:     string(code),
			Message:  err.Error(),
			Details:  apperrors.GetMetadata(err),
		}),
	})
}

// broadcast pushes a delta for an applied mutation. Broadcast frames carry no
// message id.
func (h *Handler) broadcast(walletID string, version uint64, changeKind string, snapshot *protocol.WalletSnapshot) {
	h.hub.Broadcast(walletID, protocol.Envelope{
		ProtocolVersion: protocol.Version,
		Type:            protocol.TypeDelta,
		Payload: protocol.MustPayload(protocol.Delta{
			WalletID:   walletID,
			NewVersion: version,
			ChangeKind: changeKind,
			Snapshot:   snapshot,
		}),
	})
}

func (h *Handler) handleCreateOrg(ctx context.Context, identity auth.Identity, peer *hub.Peer, env protocol.Envelope) {
	var req protocol.CreateOrgRequest
	if err := protocol.UnmarshalPayload(env, &req); err != nil {
		h.respondError(peer, env.MessageID, err)
		return
	}
	created, err := h.store.CreateOrg(ctx, req.Name, identity.UserID, identity.Email)
	if err != nil {
		h.respondError(peer, env.MessageID, err)
		return
	}
	h.respondResult(peer, env.MessageID, protocol.CreateOrgResult{Org: protocol.OrgInfo{
		OrgID: created.ID,
		Name:  created.Name,
		Role:  org.RoleOwner.String(),
	}})
}

func (h *Handler) handleInviteMember(ctx context.Context, identity auth.Identity, peer *hub.Peer, env protocol.Envelope) {
	var req protocol.InviteMemberRequest
	if err := protocol.UnmarshalPayload(env, &req); err != nil {
		h.respondError(peer, env.MessageID, err)
		return
	}
	role, err := org.ParseRole(req.Role)
	if err != nil {
		h.respondError(peer, env.MessageID, err)
		return
	}

	requesterRole := h.store.RoleOf(req.OrgID, identity.UserID)
	if requesterRole == org.RoleUnspecified {
		h.respondError(peer, env.MessageID, apperrors.New(apperrors.CodeNotFound, "organization not found"))
		return
	}
	if !allowed(requesterRole, actionFor(env.Type)) {
		h.respondError(peer, env.MessageID, apperrors.New(apperrors.CodeForbidden, "only owners and managers invite members"))
		return
	}
	// Role grants above participant stay with the owner.
	if role != org.RoleParticipant && requesterRole != org.RoleOwner {
		h.respondError(peer, env.MessageID, apperrors.New(apperrors.CodeForbidden, "only the owner grants owner or manager roles"))
		return
	}

	invited, err := h.store.ResolveOrCreateUser(ctx, req.Email)
	if err != nil {
		h.respondError(peer, env.MessageID, err)
		return
	}
	if _, err := h.store.AddMember(ctx, req.OrgID, org.Member{UserID: invited.ID, Email: invited.Email, Role: role}); err != nil {
		h.respondError(peer, env.MessageID, err)
		return
	}
	h.respondResult(peer, env.MessageID, protocol.AckResult{Status: "ok"})
}

func (h *Handler) handleCreateWallet(ctx context.Context, identity auth.Identity, peer *hub.Peer, env protocol.Envelope) {
	var req protocol.CreateWalletRequest
	if err := protocol.UnmarshalPayload(env, &req); err != nil {
		h.respondError(peer, env.MessageID, err)
		return
	}
	role := h.store.RoleOf(req.OrgID, identity.UserID)
	if role == org.RoleUnspecified {
		h.respondError(peer, env.MessageID, apperrors.New(apperrors.CodeNotFound, "organization not found"))
		return
	}
	if !allowed(role, actionFor(env.Type)) {
		h.respondError(peer, env.MessageID, apperrors.New(apperrors.CodeForbidden, "only owners and managers create wallets"))
		return
	}
	created, err := h.store.CreateWallet(ctx, req.OrgID, req.Alias)
	if err != nil {
		h.respondError(peer, env.MessageID, err)
		return
	}
	h.respondResult(peer, env.MessageID, protocol.WalletResult{Wallet: snapshotView(created)})
}

func (h *Handler) handleGetWallet(identity auth.Identity, peer *hub.Peer, env protocol.Envelope) {
	var req protocol.GetWalletRequest
	if err := protocol.UnmarshalPayload(env, &req); err != nil {
		h.respondError(peer, env.MessageID, err)
		return
	}
	w, err := h.visibleSnapshot(req.WalletID, identity)
	if err != nil {
		h.respondError(peer, env.MessageID, err)
		return
	}
	h.respondResult(peer, env.MessageID, protocol.WalletResult{Wallet: snapshotView(w)})
}

func (h *Handler) handleListWallets(identity auth.Identity, peer *hub.Peer, env protocol.Envelope) {
	orgID := identity.OrgID
	if len(env.Payload) > 0 {
		var req protocol.ListWalletsRequest
		if err := protocol.UnmarshalPayload(env, &req); err != nil {
			h.respondError(peer, env.MessageID, err)
			return
		}
		if strings.TrimSpace(req.OrgID) != "" {
			orgID = req.OrgID
		}
	}
	role := h.store.RoleOf(orgID, identity.UserID)
	if !allowed(role, actionFor(env.Type)) {
		h.respondError(peer, env.MessageID, apperrors.New(apperrors.CodeForbidden, "membership required to list wallets"))
		return
	}

	wallets := make([]protocol.WalletSnapshot, 0)
	for _, w := range h.store.WalletsForOrg(orgID) {
		if visibleTo(w, role, identity.Email) {
			wallets = append(wallets, snapshotView(w))
		}
	}
	h.respondResult(peer, env.MessageID, protocol.WalletListResult{Wallets: wallets})
}

func (h *Handler) handleSubscribeWallet(identity auth.Identity, peer *hub.Peer, env protocol.Envelope) {
	var req protocol.SubscribeWalletRequest
	if err := protocol.UnmarshalPayload(env, &req); err != nil {
		h.respondError(peer, env.MessageID, err)
		return
	}
	w, err := h.visibleSnapshot(req.WalletID, identity)
	if err != nil {
		h.respondError(peer, env.MessageID, err)
		return
	}
	h.hub.Subscribe(w.ID, peer)
	// The subscription result carries the current snapshot so the client
	// starts from a known version before the first delta arrives.
	h.respondResult(peer, env.MessageID, protocol.WalletResult{Wallet: snapshotView(w)})
}

func (h *Handler) handleUnsubscribeWallet(peer *hub.Peer, env protocol.Envelope) {
	var req protocol.SubscribeWalletRequest
	if err := protocol.UnmarshalPayload(env, &req); err != nil {
		h.respondError(peer, env.MessageID, err)
		return
	}
	h.hub.Unsubscribe(req.WalletID, peer)
	h.respondResult(peer, env.MessageID, protocol.AckResult{Status: "ok"})
}

// visibleSnapshot fetches a wallet the requester is allowed to see. Wallets
// outside the requester's reach answer NOT_FOUND rather than FORBIDDEN so the
// response does not leak their existence.
func (h *Handler) visibleSnapshot(walletID string, identity auth.Identity) (wallet.Wallet, error) {
	w, err := h.store.Snapshot(walletID)
	if err != nil {
		return wallet.Wallet{}, err
	}
	role := h.store.RoleOf(w.OrgID, identity.UserID)
	if !visibleTo(w, role, identity.Email) {
		return wallet.Wallet{}, apperrors.New(apperrors.CodeNotFound, "wallet not found")
	}
	return w, nil
}
