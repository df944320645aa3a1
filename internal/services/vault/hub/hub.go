// Package hub tracks live connections and fans wallet deltas out to
// subscribers. One connection per user; each connection carries a bounded
// outbound queue drained by its own writer goroutine.
package hub

import (
	"log"
	"sync"

	"github.com/covaulthq/covault/internal/protocol"
)

// Hub is the connection registry and broadcast engine.
//
// Broadcast enqueues under the hub lock, so deltas for the same wallet reach
// every subscriber's queue in the order they were published. Enqueue never
// blocks; slow consumers are disconnected instead of stalling the fan-out.
type Hub struct {
	mu         sync.Mutex
	byUser     map[string]*Peer
	walletSubs map[string]map[*Peer]struct{}
	peerSubs   map[*Peer]map[string]struct{}
}

// New builds an empty hub.
func New() *Hub {
	return &Hub{
		byUser:     make(map[string]*Peer),
		walletSubs: make(map[string]map[*Peer]struct{}),
		peerSubs:   make(map[*Peer]map[string]struct{}),
	}
}

// Register makes the peer the single live connection for its user. Any prior
// connection for the same user is closed and dropped from all subscriptions.
func (h *Hub) Register(p *Peer) {
	h.mu.Lock()
	previous := h.byUser[p.UserID]
	if previous != nil {
		h.removeLocked(previous)
	}
	h.byUser[p.UserID] = p
	h.peerSubs[p] = make(map[string]struct{})
	h.mu.Unlock()

	if previous != nil {
		log.Printf("hub: replacing connection for user %s", p.UserID)
		previous.Close()
	}
}

// Unregister drops the peer from the registry and every subscription. It does
// not close the peer; callers close the transport themselves.
func (h *Hub) Unregister(p *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(p)
}

func (h *Hub) removeLocked(p *Peer) {
	if current, ok := h.byUser[p.UserID]; ok && current == p {
		delete(h.byUser, p.UserID)
	}
	for walletID := range h.peerSubs[p] {
		subs := h.walletSubs[walletID]
		delete(subs, p)
		if len(subs) == 0 {
			delete(h.walletSubs, walletID)
		}
	}
	delete(h.peerSubs, p)
}

// Subscribe registers the peer for deltas of one wallet. Subscribing twice is
// a no-op.
func (h *Hub) Subscribe(walletID string, p *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.peerSubs[p]; !ok {
		return
	}
	subs, ok := h.walletSubs[walletID]
	if !ok {
		subs = make(map[*Peer]struct{})
		h.walletSubs[walletID] = subs
	}
	subs[p] = struct{}{}
	h.peerSubs[p][walletID] = struct{}{}
}

// Unsubscribe removes the peer's subscription for one wallet. Unknown
// subscriptions are a no-op.
func (h *Hub) Unsubscribe(walletID string, p *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.walletSubs[walletID]
	delete(subs, p)
	if len(subs) == 0 {
		delete(h.walletSubs, walletID)
	}
	delete(h.peerSubs[p], walletID)
}

// Broadcast delivers an envelope to every subscriber of the wallet. Peers
// whose queues overflow are closed by Send; their read loops take care of
// unregistering them.
func (h *Hub) Broadcast(walletID string, env protocol.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for p := range h.walletSubs[walletID] {
		_ = p.Send(env)
	}
}

// DropWallet clears every subscription for a wallet that no longer exists.
func (h *Hub) DropWallet(walletID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for p := range h.walletSubs[walletID] {
		delete(h.peerSubs[p], walletID)
	}
	delete(h.walletSubs, walletID)
}

// Subscribers reports how many peers follow a wallet.
func (h *Hub) Subscribers(walletID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.walletSubs[walletID])
}
