package protocol

// Request payloads. Every wallet mutation carries ExpectedVersion for
// optimistic concurrency; a mismatch is rejected without applying.

// CreateOrgRequest creates a new organization owned by the requester.
type CreateOrgRequest struct {
	Name string `json:"name"`
}

// InviteMemberRequest adds a member to an organization.
type InviteMemberRequest struct {
	OrgID string `json:"org_id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// CreateWalletRequest creates a wallet in Draft status.
type CreateWalletRequest struct {
	OrgID string `json:"org_id"`
	Alias string `json:"alias"`
}

// WalletRequest targets an existing wallet for a version-checked mutation.
type WalletRequest struct {
	WalletID        string `json:"wallet_id"`
	ExpectedVersion uint64 `json:"expected_version"`
}

// RenameWalletRequest updates a wallet alias.
type RenameWalletRequest struct {
	WalletRequest
	Alias string `json:"alias"`
}

// UpdatePolicyRequest replaces the wallet's policy template.
type UpdatePolicyRequest struct {
	WalletRequest
	Template PolicyTemplate `json:"template"`
}

// AddKeyRequest adds a key definition to a wallet.
type AddKeyRequest struct {
	WalletRequest
	Alias       string `json:"alias"`
	Description string `json:"description,omitempty"`
	KeyType     string `json:"key_type"`
}

// RemoveKeyRequest removes a key not referenced by any spending path.
type RemoveKeyRequest struct {
	WalletRequest
	KeyID string `json:"key_id"`
}

// AssignKeyRequest binds a key to a participant identity and xpub.
type AssignKeyRequest struct {
	WalletRequest
	KeyID            string `json:"key_id"`
	ParticipantEmail string `json:"participant_email"`
	XPub             string `json:"xpub"`
}

// MarkKeyReadyRequest records the external readiness confirmation for a key.
type MarkKeyReadyRequest struct {
	WalletRequest
	KeyID string `json:"key_id"`
}

// StatusTransitionRequest requests an explicit lifecycle transition.
type StatusTransitionRequest struct {
	WalletRequest
	Target string `json:"target"`
}

// GetWalletRequest fetches a wallet snapshot.
type GetWalletRequest struct {
	WalletID string `json:"wallet_id"`
}

// ListWalletsRequest lists the wallets of an organization visible to the
// requester. An empty org id defaults to the requester's session org.
type ListWalletsRequest struct {
	OrgID string `json:"org_id,omitempty"`
}

// SubscribeWalletRequest declares interest in a wallet's broadcasts.
type SubscribeWalletRequest struct {
	WalletID string `json:"wallet_id"`
}

// Response payloads.

// CreateOrgResult reports the new organization.
type CreateOrgResult struct {
	Org OrgInfo `json:"org"`
}

// WalletResult reports the wallet snapshot after a read or mutation.
type WalletResult struct {
	Wallet WalletSnapshot `json:"wallet"`
}

// WalletListResult reports every wallet visible to the requester.
type WalletListResult struct {
	Wallets []WalletSnapshot `json:"wallets"`
}

// AckResult reports success for requests with no richer payload.
type AckResult struct {
	Status string `json:"status"`
}

// Auth payloads for the HTTP surface.

// RequestCodeRequest asks for a one-time login code by email.
type RequestCodeRequest struct {
	Email string `json:"email"`
}

// VerifyCodeRequest exchanges a one-time code for a session token.
type VerifyCodeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// VerifyCodeResponse carries the bearer session token.
type VerifyCodeResponse struct {
	Token     string `json:"token"`
	UserID    string `json:"user_id"`
	OrgID     string `json:"org_id"`
	ExpiresAt int64  `json:"expires_at"`
}
