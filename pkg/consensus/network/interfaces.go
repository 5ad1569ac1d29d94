// Package network defines the transport capability the consensus core depends on.
// Delivery is best effort: messages may be lost, delayed, duplicated or
// reordered, and the core tolerates all four.
package network

import (
	"context"
	"time"

	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/messages"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/types"
)

// NetworkInterface provides network communication abstraction for consensus nodes.
type NetworkInterface interface {
	// Send delivers message to a single validator.
	Send(ctx context.Context, nodeID types.NodeID, message messages.ConsensusMessage) error
	// Broadcast delivers message to every other validator.
	Broadcast(ctx context.Context, message messages.ConsensusMessage) error
	// Receive returns the inbound message stream.
	Receive() <-chan ReceivedMessage
}

// ReceivedMessage represents a consensus message received from the network.
// Sender is the authenticated transport peer, which may differ from the
// message's claimed sender; the core trusts only signatures.
type ReceivedMessage struct {
	Message    messages.ConsensusMessage
	Sender     types.NodeID
	ReceivedAt time.Time
}
