package handler

import (
	"sort"

	"github.com/covaulthq/covault/internal/protocol"
	"github.com/covaulthq/covault/internal/services/vault/domain/org"
	"github.com/covaulthq/covault/internal/services/vault/domain/wallet"
)

// snapshotView converts a wallet deep copy to its wire shape. Keys are sorted
// by id so listings stay stable across snapshots.
func snapshotView(w wallet.Wallet) protocol.WalletSnapshot {
	keys := make([]protocol.Key, 0, len(w.Keys))
	for _, key := range w.Keys {
		keys = append(keys, protocol.Key{
			KeyID:            key.ID,
			Alias:            key.Alias,
			Description:      key.Description,
			ParticipantEmail: key.ParticipantEmail,
			KeyType:          key.Type.String(),
			XPub:             key.XPub,
			Ready:            key.Ready,
		})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].KeyID < keys[j].KeyID })

	return protocol.WalletSnapshot{
		WalletID: w.ID,
		OrgID:    w.OrgID,
		Alias:    w.Alias,
		Status:   w.Status.String(),
		Version:  w.Version,
		Template: templateView(w.Template),
		Keys:     keys,
	}
}

func templateView(t wallet.PolicyTemplate) protocol.PolicyTemplate {
	view := protocol.PolicyTemplate{Paths: make([]protocol.SpendingPath, len(t.Paths))}
	for i, path := range t.Paths {
		view.Paths[i] = protocol.SpendingPath{
			Threshold: path.Threshold,
			Timelock:  path.Timelock,
			KeyIDs:    append([]string(nil), path.KeyIDs...),
		}
	}
	return view
}

func templateFromWire(t protocol.PolicyTemplate) wallet.PolicyTemplate {
	template := wallet.PolicyTemplate{Paths: make([]wallet.SpendingPath, len(t.Paths))}
	for i, path := range t.Paths {
		template.Paths[i] = wallet.SpendingPath{
			Threshold: path.Threshold,
			Timelock:  path.Timelock,
			KeyIDs:    append([]string(nil), path.KeyIDs...),
		}
	}
	return template
}

// visibleTo applies the visibility invariant: owners and managers see every
// org wallet; a participant sees a wallet only once it left Draft and one of
// its keys is assigned to them.
func visibleTo(w wallet.Wallet, role org.Role, email string) bool {
	switch role {
	case org.RoleOwner, org.RoleManager:
		return true
	case org.RoleParticipant:
		return w.Status != wallet.StatusDraft && w.HoldsKeyFor(email)
	}
	return false
}
