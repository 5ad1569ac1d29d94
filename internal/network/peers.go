package network

import (
	"crypto/ed25519"
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/NOVAInetwork/NOVAI-node/internal/types"
	ctypes "github.com/NOVAInetwork/NOVAI-node/pkg/consensus/types"
)

// PeerBook maps consensus NodeIDs to libp2p identities and dial addresses.
type PeerBook struct {
	mu     sync.RWMutex
	byNode map[ctypes.NodeID]peer.AddrInfo
	byPeer map[peer.ID]ctypes.NodeID
}

// NewPeerBook creates an empty book.
func NewPeerBook() *PeerBook {
	return &PeerBook{
		byNode: make(map[ctypes.NodeID]peer.AddrInfo),
		byPeer: make(map[peer.ID]ctypes.NodeID),
	}
}

// PeerBookFromRoster resolves every roster entry. When the consensus keys are
// ed25519 and an entry has no explicit peer_id, the ID is derived from its key;
// otherwise peer_id is required.
func PeerBookFromRoster(entries []types.ValidatorEntry, deriveFromKey bool) (*PeerBook, error) {
	book := NewPeerBook()
	for _, e := range entries {
		pid, err := resolvePeerID(e, deriveFromKey)
		if err != nil {
			return nil, fmt.Errorf("validator %d: %w", e.ID, err)
		}
		addrs, err := e.Multiaddrs()
		if err != nil {
			return nil, fmt.Errorf("validator %d: %w", e.ID, err)
		}
		book.Add(ctypes.NodeID(e.ID), peer.AddrInfo{ID: pid, Addrs: addrs})
	}
	return book, nil
}

func resolvePeerID(e types.ValidatorEntry, deriveFromKey bool) (peer.ID, error) {
	if e.PeerID != "" {
		return peer.Decode(e.PeerID)
	}
	if !deriveFromKey {
		return "", fmt.Errorf("peer_id is required")
	}
	key, err := e.DecodePublicKey()
	if err != nil {
		return "", err
	}
	if len(key) != ed25519.PublicKeySize {
		return "", fmt.Errorf("peer_id is required for non-ed25519 keys")
	}
	return PeerIDFromEd25519(key)
}

// Add registers or replaces the mapping for node.
func (b *PeerBook) Add(node ctypes.NodeID, info peer.AddrInfo) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.byNode[node]; ok {
		delete(b.byPeer, old.ID)
	}
	b.byNode[node] = info
	b.byPeer[info.ID] = node
}

// AddAddrs appends dial addresses for node.
func (b *PeerBook) AddAddrs(node ctypes.NodeID, addrs ...multiaddr.Multiaddr) {
	b.mu.Lock()
	defer b.mu.Unlock()

	info, ok := b.byNode[node]
	if !ok {
		return
	}
	info.Addrs = append(info.Addrs, addrs...)
	b.byNode[node] = info
}

// Lookup returns the libp2p identity of node.
func (b *PeerBook) Lookup(node ctypes.NodeID) (peer.AddrInfo, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	info, ok := b.byNode[node]
	return info, ok
}

// NodeOf maps an authenticated libp2p peer back to its NodeID.
func (b *PeerBook) NodeOf(pid peer.ID) (ctypes.NodeID, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	node, ok := b.byPeer[pid]
	return node, ok
}

// Nodes returns every registered NodeID.
func (b *PeerBook) Nodes() []ctypes.NodeID {
	b.mu.RLock()
	defer b.mu.RUnlock()

	nodes := make([]ctypes.NodeID, 0, len(b.byNode))
	for id := range b.byNode {
		nodes = append(nodes, id)
	}
	return nodes
}
