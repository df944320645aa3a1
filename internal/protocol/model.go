package protocol

// Wire model shared with the desktop client. These mirror the server's domain
// model but are plain JSON shapes with no behavior.

// OrgInfo describes an organization and the requester's role in it.
type OrgInfo struct {
	OrgID string `json:"org_id"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// WalletSnapshot is a point-in-time view of a wallet at a specific version.
type WalletSnapshot struct {
	WalletID string         `json:"wallet_id"`
	OrgID    string         `json:"org_id"`
	Alias    string         `json:"alias"`
	Status   string         `json:"status"`
	Version  uint64         `json:"version"`
	Template PolicyTemplate `json:"template"`
	Keys     []Key          `json:"keys"`
}

// PolicyTemplate is the ordered list of spending paths. The first path is the
// primary spending condition; the rest are recovery paths in activation order.
type PolicyTemplate struct {
	Paths []SpendingPath `json:"paths"`
}

// SpendingPath is a threshold-of-keys condition, optionally time-gated.
// A zero timelock means the path carries none.
type SpendingPath struct {
	Threshold int      `json:"threshold"`
	Timelock  uint32   `json:"timelock,omitempty"`
	KeyIDs    []string `json:"key_ids"`
}

// Key is a named, typed reference to an extended public key.
type Key struct {
	KeyID            string `json:"key_id"`
	Alias            string `json:"alias"`
	Description      string `json:"description,omitempty"`
	ParticipantEmail string `json:"participant_email,omitempty"`
	KeyType          string `json:"key_type"`
	XPub             string `json:"xpub,omitempty"`
	Ready            bool   `json:"ready"`
}

// Delta is the unsolicited push sent to every subscriber of a wallet after a
// successful mutation. Versions are strictly increasing per wallet; a client
// observing a gap must refetch the wallet snapshot.
type Delta struct {
	WalletID   string          `json:"wallet_id"`
	NewVersion uint64          `json:"new_version"`
	ChangeKind string          `json:"change_kind"`
	Snapshot   *WalletSnapshot `json:"snapshot,omitempty"`
}

// Change kinds carried by Delta.
const (
	ChangeWalletCreated = "wallet_created"
	ChangeWalletDeleted = "wallet_deleted"
	ChangeWalletRenamed = "wallet_renamed"
	ChangePolicyUpdated = "policy_updated"
	ChangeKeyAdded      = "key_added"
	ChangeKeyRemoved    = "key_removed"
	ChangeKeyAssigned   = "key_assigned"
	ChangeKeyReady      = "key_ready"
	ChangeStatusChanged = "status_changed"
)

// ErrorPayload is the error response correlated to a request by message id.
type ErrorPayload struct {
	Category string            `json:"category"`
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Details  map[string]string `json:"details,omitempty"`
}
