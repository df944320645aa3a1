package handler

import (
	"github.com/covaulthq/covault/internal/protocol"
	"github.com/covaulthq/covault/internal/services/vault/domain/org"
)

// ActionKind identifies one row of the permission matrix. The action set is
// closed; unknown message types never reach the matrix.
type ActionKind int

const (
	ActionUnspecified ActionKind = iota
	ActionCreateOrg
	ActionInviteMember
	ActionCreateWallet
	ActionDeleteWallet
	ActionRenameWallet
	ActionUpdatePolicy
	ActionAddKey
	ActionRemoveKey
	ActionAssignKey
	ActionMarkKeyReady
	ActionStatusTransition
	ActionGetWallet
	ActionListWallets
	ActionSubscribeWallet
	ActionUnsubscribeWallet
)

func actionFor(messageType string) ActionKind {
	switch messageType {
	case protocol.TypeCreateOrg:
		return ActionCreateOrg
	case protocol.TypeInviteMember:
		return ActionInviteMember
	case protocol.TypeCreateWallet:
		return ActionCreateWallet
	case protocol.TypeDeleteWallet:
		return ActionDeleteWallet
	case protocol.TypeRenameWallet:
		return ActionRenameWallet
	case protocol.TypeUpdatePolicy:
		return ActionUpdatePolicy
	case protocol.TypeAddKey:
		return ActionAddKey
	case protocol.TypeRemoveKey:
		return ActionRemoveKey
	case protocol.TypeAssignKey:
		return ActionAssignKey
	case protocol.TypeMarkKeyReady:
		return ActionMarkKeyReady
	case protocol.TypeStatusTransition:
		return ActionStatusTransition
	case protocol.TypeGetWallet:
		return ActionGetWallet
	case protocol.TypeListWallets:
		return ActionListWallets
	case protocol.TypeSubscribeWallet:
		return ActionSubscribeWallet
	case protocol.TypeUnsubscribeWallet:
		return ActionUnsubscribeWallet
	}
	return ActionUnspecified
}

// allowed is the fixed Role by ActionKind permission matrix.
//
// Owners and managers author; participants read the wallets that reference
// their keys and confirm readiness of their own keys. CreateOrg needs no org
// role because the requester is creating the org they will own.
func allowed(role org.Role, action ActionKind) bool {
	switch action {
	case ActionCreateOrg:
		return true
	case ActionInviteMember,
		ActionCreateWallet,
		ActionDeleteWallet,
		ActionRenameWallet,
		ActionUpdatePolicy,
		ActionAddKey,
		ActionRemoveKey,
		ActionAssignKey,
		ActionStatusTransition:
		return role == org.RoleOwner || role == org.RoleManager
	case ActionMarkKeyReady:
		return role == org.RoleOwner || role == org.RoleManager || role == org.RoleParticipant
	case ActionGetWallet,
		ActionListWallets,
		ActionSubscribeWallet,
		ActionUnsubscribeWallet:
		return role != org.RoleUnspecified
	}
	return false
}
