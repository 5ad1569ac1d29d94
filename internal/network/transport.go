// Package network carries consensus messages between validators over libp2p.
package network

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/codec"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/messages"
	cnetwork "github.com/NOVAInetwork/NOVAI-node/pkg/consensus/network"
	ctypes "github.com/NOVAInetwork/NOVAI-node/pkg/consensus/types"
)

// ConsensusProtocol is the stream protocol carrying framed consensus messages.
const ConsensusProtocol = protocol.ID("/novai/consensus/1.0.0")

const (
	// DefaultInboundBuffer is the inbound channel capacity.
	DefaultInboundBuffer = 1024
	// maxFrameSize bounds one encoded message: a block at the payload limit
	// plus its header and a full QC.
	maxFrameSize = codec.MaxBytesLength + 64<<10
	sendTimeout  = 5 * time.Second
)

// Transport implements the consensus NetworkInterface on a libp2p host. Each
// message travels on its own stream as a u32 little-endian length followed by
// the canonical message encoding.
type Transport struct {
	host    host.Host
	self    ctypes.NodeID
	peers   *PeerBook
	inbound chan cnetwork.ReceivedMessage
	log     zerolog.Logger

	connected *atomic.Int64
	closed    *atomic.Bool
}

var _ cnetwork.NetworkInterface = (*Transport)(nil)

// NewTransport registers the consensus protocol on h.
func NewTransport(h host.Host, self ctypes.NodeID, peers *PeerBook, bufferSize int, log zerolog.Logger) *Transport {
	if bufferSize <= 0 {
		bufferSize = DefaultInboundBuffer
	}

	t := &Transport{
		host:      h,
		self:      self,
		peers:     peers,
		inbound:   make(chan cnetwork.ReceivedMessage, bufferSize),
		log:       log.With().Str("component", "transport").Logger(),
		connected: atomic.NewInt64(0),
		closed:    atomic.NewBool(false),
	}

	for _, node := range peers.Nodes() {
		if info, ok := peers.Lookup(node); ok && info.ID != h.ID() {
			h.Peerstore().AddAddrs(info.ID, info.Addrs, peerstore.PermanentAddrTTL)
		}
	}

	h.Network().Notify(&connNotifiee{transport: t})
	h.SetStreamHandler(ConsensusProtocol, t.handleStream)
	return t
}

// Send delivers message to nodeID. Messages addressed to the local node are
// looped back without touching the network.
func (t *Transport) Send(ctx context.Context, nodeID ctypes.NodeID, message messages.ConsensusMessage) error {
	if t.closed.Load() {
		return cnetwork.ErrClosed
	}

	data, err := codec.EncodeMessage(message)
	if err != nil {
		return cnetwork.NewNetworkErrorWithCause(cnetwork.ErrorTypeEncoding, "failed to encode message", err)
	}

	if nodeID == t.self {
		t.deliver(message, t.self)
		return nil
	}

	return t.sendFrame(ctx, nodeID, data)
}

// Broadcast sends message to every known validator except the local one.
// Every failed destination is reported in the returned error.
func (t *Transport) Broadcast(ctx context.Context, message messages.ConsensusMessage) error {
	if t.closed.Load() {
		return cnetwork.ErrClosed
	}

	data, err := codec.EncodeMessage(message)
	if err != nil {
		return cnetwork.NewNetworkErrorWithCause(cnetwork.ErrorTypeEncoding, "failed to encode message", err)
	}

	nodes := t.peers.Nodes()
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })

	var result error
	for _, node := range nodes {
		if node == t.self {
			continue
		}
		if err := t.sendFrame(ctx, node, data); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}

// Receive returns the inbound message stream.
func (t *Transport) Receive() <-chan cnetwork.ReceivedMessage {
	return t.inbound
}

// ConnectedPeers returns the number of open connections to validators.
func (t *Transport) ConnectedPeers() int64 {
	return t.connected.Load()
}

// Close stops accepting streams. The inbound channel is left open so a reader
// never observes a spurious close while a handler is mid-delivery.
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.host.RemoveStreamHandler(ConsensusProtocol)
	return nil
}

func (t *Transport) sendFrame(ctx context.Context, nodeID ctypes.NodeID, data []byte) error {
	info, ok := t.peers.Lookup(nodeID)
	if !ok {
		return cnetwork.NewNetworkError(cnetwork.ErrorTypeNodeNotFound, fmt.Sprintf("no peer for node %d", nodeID))
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	stream, err := t.host.NewStream(ctx, info.ID, ConsensusProtocol)
	if err != nil {
		return cnetwork.NewNetworkErrorWithCause(cnetwork.ErrorTypeConnection,
			fmt.Sprintf("failed to open stream to node %d", nodeID), err)
	}
	defer stream.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetWriteDeadline(deadline)
	}

	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(data)))
	if _, err := stream.Write(append(header[:], data...)); err != nil {
		stream.Reset()
		return cnetwork.NewNetworkErrorWithCause(cnetwork.ErrorTypeMessageDelivery,
			fmt.Sprintf("failed to write to node %d", nodeID), err)
	}
	return nil
}

func (t *Transport) handleStream(stream network.Stream) {
	defer stream.Close()

	remote := stream.Conn().RemotePeer()
	sender, ok := t.peers.NodeOf(remote)
	if !ok {
		t.log.Warn().Str("peer_id", remote.String()).Msg("Stream from peer outside the validator set")
		stream.Reset()
		return
	}

	reader := bufio.NewReader(stream)
	for {
		var header [4]byte
		if _, err := io.ReadFull(reader, header[:]); err != nil {
			if err != io.EOF {
				t.log.Debug().Err(err).Uint16("sender", uint16(sender)).Msg("Stream read failed")
			}
			return
		}

		size := binary.LittleEndian.Uint32(header[:])
		if size > maxFrameSize {
			t.log.Warn().Uint16("sender", uint16(sender)).Uint32("size", size).Msg("Oversized frame")
			stream.Reset()
			return
		}

		frame := make([]byte, size)
		if _, err := io.ReadFull(reader, frame); err != nil {
			t.log.Debug().Err(err).Uint16("sender", uint16(sender)).Msg("Truncated frame")
			return
		}

		msg, err := codec.DecodeMessage(frame)
		if err != nil {
			t.log.Debug().Err(err).Uint16("sender", uint16(sender)).Msg("Dropping undecodable message")
			continue
		}
		t.deliver(msg, sender)
	}
}

func (t *Transport) deliver(msg messages.ConsensusMessage, sender ctypes.NodeID) {
	if t.closed.Load() {
		return
	}
	select {
	case t.inbound <- cnetwork.ReceivedMessage{Message: msg, Sender: sender, ReceivedAt: time.Now()}:
	default:
		t.log.Warn().
			Str("type", msg.Type().String()).
			Uint64("view", uint64(msg.View())).
			Msg("Inbound buffer full, dropping message")
	}
}
