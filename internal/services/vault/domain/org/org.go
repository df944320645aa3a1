// Package org defines organizations, membership, and roles.
package org

import (
	"strings"
	"time"

	apperrors "github.com/covaulthq/covault/internal/platform/errors"
)

// Role governs permitted actions and wallet visibility within an organization.
type Role int

const (
	// RoleUnspecified represents an invalid role value.
	RoleUnspecified Role = iota
	// RoleOwner is the organization owner.
	RoleOwner
	// RoleManager is a delegated manager with org-wide authoring rights.
	RoleManager
	// RoleParticipant is a key holder; wallet visibility is scoped to the
	// wallets that reference one of their keys.
	RoleParticipant
)

// String returns the wire name of the role.
func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "owner"
	case RoleManager:
		return "manager"
	case RoleParticipant:
		return "participant"
	}
	return "unspecified"
}

// ParseRole resolves a wire role name.
func ParseRole(value string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "owner":
		return RoleOwner, nil
	case "manager":
		return RoleManager, nil
	case "participant":
		return RoleParticipant, nil
	}
	return RoleUnspecified, apperrors.WithMetadata(apperrors.CodeMemberInvalidRole, "unknown role", map[string]string{"role": value})
}

var (
	// ErrNameEmpty indicates a missing organization name.
	ErrNameEmpty = apperrors.New(apperrors.CodeOrgNameEmpty, "organization name is required")
)

// Member binds a user to a role within an organization.
type Member struct {
	UserID string
	Email  string
	Role   Role
}

// Organization is the tenant boundary owning wallets and a membership list.
type Organization struct {
	ID        string
	Name      string
	Members   map[string]Member // keyed by user id
	CreatedAt time.Time
}

// New validates input and builds an organization owned by the given user.
func New(id, name, ownerID, ownerEmail string, createdAt time.Time) (Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Organization{}, ErrNameEmpty
	}
	return Organization{
		ID:   id,
		Name: name,
		Members: map[string]Member{
			ownerID: {UserID: ownerID, Email: ownerEmail, Role: RoleOwner},
		},
		CreatedAt: createdAt,
	}, nil
}

// RoleOf returns the role of the given user, or RoleUnspecified for non-members.
func (o Organization) RoleOf(userID string) Role {
	member, ok := o.Members[userID]
	if !ok {
		return RoleUnspecified
	}
	return member.Role
}

// AddMember adds or updates a membership entry.
func (o *Organization) AddMember(member Member) error {
	if member.Role == RoleUnspecified {
		return apperrors.New(apperrors.CodeMemberInvalidRole, "member role is required")
	}
	if o.Members == nil {
		o.Members = make(map[string]Member)
	}
	o.Members[member.UserID] = member
	return nil
}

// Clone returns a deep copy safe to hand outside the store's lock.
func (o Organization) Clone() Organization {
	cloned := o
	cloned.Members = make(map[string]Member, len(o.Members))
	for id, member := range o.Members {
		cloned.Members[id] = member
	}
	return cloned
}
