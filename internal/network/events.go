package network

import (
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/multiformats/go-multiaddr"
)

// connNotifiee logs validator connections and keeps the connected gauge.
type connNotifiee struct {
	transport *Transport
}

// Connected implements network.Notifiee
func (cn *connNotifiee) Connected(n network.Network, conn network.Conn) {
	node, ok := cn.transport.peers.NodeOf(conn.RemotePeer())
	if !ok {
		return
	}
	cn.transport.connected.Inc()
	cn.transport.log.Info().
		Uint16("node", uint16(node)).
		Str("peer_id", conn.RemotePeer().String()).
		Str("address", conn.RemoteMultiaddr().String()).
		Str("direction", conn.Stat().Direction.String()).
		Msg("Validator connected")
}

// Disconnected implements network.Notifiee
func (cn *connNotifiee) Disconnected(n network.Network, conn network.Conn) {
	node, ok := cn.transport.peers.NodeOf(conn.RemotePeer())
	if !ok {
		return
	}
	cn.transport.connected.Dec()
	cn.transport.log.Info().
		Uint16("node", uint16(node)).
		Str("peer_id", conn.RemotePeer().String()).
		Int("remaining", len(n.ConnsToPeer(conn.RemotePeer()))).
		Msg("Validator disconnected")
}

// Listen implements network.Notifiee
func (cn *connNotifiee) Listen(network.Network, multiaddr.Multiaddr) {}

// ListenClose implements network.Notifiee
func (cn *connNotifiee) ListenClose(network.Network, multiaddr.Multiaddr) {}
