// Package mocks provides in-memory implementations of the consensus adapters
// with failure injection, for tests.
package mocks

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/events"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/messages"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/network"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/types"
)

// NetworkConfig contains configuration parameters for MockNetwork behavior.
type NetworkConfig struct {
	// BaseDelay is the base delay for message delivery
	BaseDelay time.Duration
	// DelayVariation is the random variation added to base delay
	DelayVariation time.Duration
	// PacketLossRate is the probability (0.0-1.0) of messages being dropped
	PacketLossRate float64
	// DuplicationRate is the probability (0.0-1.0) of messages being duplicated
	DuplicationRate float64
	// MessageQueueSize is the buffer size for the message queue
	MessageQueueSize int
	// Seed makes loss, duplication and delay reproducible
	Seed int64
}

// DefaultNetworkConfig returns a configuration suitable for most tests.
func DefaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		BaseDelay:        time.Millisecond,
		DelayVariation:   time.Millisecond,
		PacketLossRate:   0.0,
		DuplicationRate:  0.0,
		MessageQueueSize: 1024,
		Seed:             1,
	}
}

// NetworkFailureConfig contains failure injection parameters.
type NetworkFailureConfig struct {
	// PartitionedNodes contains node IDs that are isolated from the network
	PartitionedNodes map[types.NodeID]bool
	// FailingSendRate is the probability of Send operations failing
	FailingSendRate float64
	// MessageCorruptionRate is the probability of a delivered message having
	// its signature or payload bytes flipped
	MessageCorruptionRate float64
}

// DefaultNetworkFailureConfig returns a failure configuration with no failures.
func DefaultNetworkFailureConfig() NetworkFailureConfig {
	return NetworkFailureConfig{
		PartitionedNodes: make(map[types.NodeID]bool),
	}
}

// MockNetwork implements NetworkInterface for one node of an in-memory mesh.
// Partitions are shared by the whole mesh.
type MockNetwork struct {
	nodeID      types.NodeID
	nodes       map[types.NodeID]*MockNetwork
	msgQueue    chan network.ReceivedMessage
	config      NetworkConfig
	failures    *meshFailures
	eventTracer events.EventTracer
	mu          sync.RWMutex
	rand        *rand.Rand
	randMu      sync.Mutex
	stopped     bool
	pending     sync.WaitGroup
}

type meshFailures struct {
	mu sync.RWMutex
	NetworkFailureConfig
}

// NewMockNetwork creates a new MockNetwork instance.
func NewMockNetwork(nodeID types.NodeID, config NetworkConfig, failures NetworkFailureConfig) *MockNetwork {
	if failures.PartitionedNodes == nil {
		failures.PartitionedNodes = make(map[types.NodeID]bool)
	}
	return &MockNetwork{
		nodeID:      nodeID,
		nodes:       make(map[types.NodeID]*MockNetwork),
		msgQueue:    make(chan network.ReceivedMessage, config.MessageQueueSize),
		config:      config,
		failures:    &meshFailures{NetworkFailureConfig: failures},
		eventTracer: &events.NoOpEventTracer{},
		rand:        rand.New(rand.NewSource(config.Seed + int64(nodeID))),
	}
}

// NewMockMesh creates n fully connected networks sharing one failure config.
func NewMockMesh(n int, config NetworkConfig, failures NetworkFailureConfig) []*MockNetwork {
	nets := make([]*MockNetwork, n)
	peers := make(map[types.NodeID]*MockNetwork, n)
	for i := 0; i < n; i++ {
		nets[i] = NewMockNetwork(types.NodeID(i), config, failures)
		peers[types.NodeID(i)] = nets[i]
	}
	shared := nets[0].failures
	for _, net := range nets {
		net.failures = shared
		net.SetPeers(peers)
	}
	return nets
}

// SetEventTracer sets the event tracer for this network instance
func (mn *MockNetwork) SetEventTracer(tracer events.EventTracer) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	if tracer != nil {
		mn.eventTracer = tracer
	} else {
		mn.eventTracer = &events.NoOpEventTracer{}
	}
}

// SetPeers establishes connections to other mock network nodes.
func (mn *MockNetwork) SetPeers(peers map[types.NodeID]*MockNetwork) {
	mn.mu.Lock()
	defer mn.mu.Unlock()

	mn.nodes = make(map[types.NodeID]*MockNetwork, len(peers))
	for id, peer := range peers {
		mn.nodes[id] = peer
	}
}

// Send delivers a message to a specific node. Sending to self loops back.
func (mn *MockNetwork) Send(ctx context.Context, nodeID types.NodeID, message messages.ConsensusMessage) error {
	mn.mu.RLock()
	defer mn.mu.RUnlock()

	mn.eventTracer.RecordMessage(uint16(mn.nodeID), events.MessageOutbound, message.Type().String(), events.EventPayload{
		"destination": nodeID,
		"view":        message.View(),
	})

	if mn.stopped {
		return network.NewNetworkError(network.ErrorTypeClosed, "network is stopped")
	}
	if mn.partitioned(mn.nodeID) {
		return network.NewNetworkError(network.ErrorTypeConnection, "node is partitioned")
	}
	if mn.chance(mn.failureRate()) {
		return network.NewNetworkError(network.ErrorTypeMessageDelivery, "simulated send failure")
	}

	target, exists := mn.nodes[nodeID]
	if !exists {
		return network.NewNetworkError(network.ErrorTypeNodeNotFound, fmt.Sprintf("node %d not found", nodeID))
	}

	mn.dispatch(ctx, target, message)
	return nil
}

// Broadcast delivers a message to all other nodes of the mesh.
func (mn *MockNetwork) Broadcast(ctx context.Context, message messages.ConsensusMessage) error {
	mn.mu.RLock()
	defer mn.mu.RUnlock()

	mn.eventTracer.RecordMessage(uint16(mn.nodeID), events.MessageOutbound, message.Type().String(), events.EventPayload{
		"destination": "broadcast",
		"view":        message.View(),
		"peer_count":  len(mn.nodes) - 1,
	})

	if mn.stopped {
		return network.NewNetworkError(network.ErrorTypeClosed, "network is stopped")
	}
	if mn.partitioned(mn.nodeID) {
		return network.NewNetworkError(network.ErrorTypeConnection, "node is partitioned")
	}

	for id, target := range mn.nodes {
		if id == mn.nodeID {
			continue
		}
		mn.dispatch(ctx, target, message)
	}
	return nil
}

// Receive returns the channel for receiving messages.
func (mn *MockNetwork) Receive() <-chan network.ReceivedMessage {
	return mn.msgQueue
}

// Stop stops delivery to and from this node and waits for in-flight
// deliveries to finish.
func (mn *MockNetwork) Stop() {
	mn.mu.Lock()
	if mn.stopped {
		mn.mu.Unlock()
		return
	}
	mn.stopped = true
	mn.mu.Unlock()

	mn.pending.Wait()
}

// Restart re-enables a stopped node with an empty inbound queue.
func (mn *MockNetwork) Restart() {
	mn.mu.Lock()
	defer mn.mu.Unlock()

	mn.stopped = false
	mn.msgQueue = make(chan network.ReceivedMessage, mn.config.MessageQueueSize)
}

// SetPartitioned isolates or reconnects node for the whole mesh.
func (mn *MockNetwork) SetPartitioned(node types.NodeID, partitioned bool) {
	mn.failures.mu.Lock()
	defer mn.failures.mu.Unlock()

	if partitioned {
		mn.failures.PartitionedNodes[node] = true
	} else {
		delete(mn.failures.PartitionedNodes, node)
	}
}

// IsPartitioned returns true if this node is currently partitioned.
func (mn *MockNetwork) IsPartitioned() bool {
	return mn.partitioned(mn.nodeID)
}

// UpdateFailures replaces the mesh failure configuration.
func (mn *MockNetwork) UpdateFailures(failures NetworkFailureConfig) {
	if failures.PartitionedNodes == nil {
		failures.PartitionedNodes = make(map[types.NodeID]bool)
	}
	mn.failures.mu.Lock()
	defer mn.failures.mu.Unlock()
	mn.failures.NetworkFailureConfig = failures
}

// GetStats returns network statistics for monitoring.
func (mn *MockNetwork) GetStats() NetworkStats {
	mn.mu.RLock()
	defer mn.mu.RUnlock()

	return NetworkStats{
		NodeID:         mn.nodeID,
		ConnectedPeers: len(mn.nodes) - 1,
		QueueSize:      len(mn.msgQueue),
		QueueCapacity:  cap(mn.msgQueue),
		IsPartitioned:  mn.partitioned(mn.nodeID),
		IsStopped:      mn.stopped,
	}
}

// NetworkStats contains runtime statistics for MockNetwork.
type NetworkStats struct {
	NodeID         types.NodeID
	ConnectedPeers int
	QueueSize      int
	QueueCapacity  int
	IsPartitioned  bool
	IsStopped      bool
}

func (mn *MockNetwork) partitioned(node types.NodeID) bool {
	mn.failures.mu.RLock()
	defer mn.failures.mu.RUnlock()
	return mn.failures.PartitionedNodes[node]
}

func (mn *MockNetwork) failureRate() float64 {
	mn.failures.mu.RLock()
	defer mn.failures.mu.RUnlock()
	return mn.failures.FailingSendRate
}

func (mn *MockNetwork) corruptionRate() float64 {
	mn.failures.mu.RLock()
	defer mn.failures.mu.RUnlock()
	return mn.failures.MessageCorruptionRate
}

func (mn *MockNetwork) chance(p float64) bool {
	if p <= 0 {
		return false
	}
	mn.randMu.Lock()
	defer mn.randMu.Unlock()
	return mn.rand.Float64() < p
}

func (mn *MockNetwork) delay() time.Duration {
	d := mn.config.BaseDelay
	if mn.config.DelayVariation > 0 {
		mn.randMu.Lock()
		d += time.Duration(mn.rand.Int63n(int64(mn.config.DelayVariation)))
		mn.randMu.Unlock()
	}
	return d
}

// dispatch applies loss and duplication, then delivers asynchronously.
func (mn *MockNetwork) dispatch(ctx context.Context, target *MockNetwork, message messages.ConsensusMessage) {
	if target.nodeID != mn.nodeID && mn.partitioned(target.nodeID) {
		return
	}
	if mn.chance(mn.config.PacketLossRate) {
		return
	}
	if mn.chance(mn.corruptionRate()) {
		message = corrupt(message)
	}

	copies := 1
	if mn.chance(mn.config.DuplicationRate) {
		copies = 2
	}
	for i := 0; i < copies; i++ {
		mn.pending.Add(1)
		go mn.deliverMessage(ctx, target, message, mn.delay())
	}
}

func (mn *MockNetwork) deliverMessage(ctx context.Context, target *MockNetwork, message messages.ConsensusMessage, delay time.Duration) {
	defer mn.pending.Done()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}

	// A partition raised while the message was in flight drops it.
	if target.nodeID != mn.nodeID && (mn.partitioned(target.nodeID) || mn.partitioned(mn.nodeID)) {
		return
	}

	received := network.ReceivedMessage{
		Message:    message,
		Sender:     mn.nodeID,
		ReceivedAt: time.Now(),
	}

	target.mu.RLock()
	defer target.mu.RUnlock()
	if target.stopped {
		return
	}

	select {
	case target.msgQueue <- received:
		target.eventTracer.RecordMessage(uint16(target.nodeID), events.MessageInbound, message.Type().String(), events.EventPayload{
			"sender": mn.nodeID,
			"view":   message.View(),
		})
	default:
		target.eventTracer.RecordEvent(uint16(target.nodeID), "message_dropped", events.EventPayload{
			"sender":       mn.nodeID,
			"message_type": message.Type().String(),
			"reason":       "queue_full",
		})
	}
}

// corrupt returns a copy of msg with its authenticating bytes altered.
func corrupt(msg messages.ConsensusMessage) messages.ConsensusMessage {
	flip := func(b []byte) []byte {
		out := append([]byte(nil), b...)
		if len(out) == 0 {
			return []byte{0xFF}
		}
		out[0] ^= 0xFF
		return out
	}

	switch m := msg.(type) {
	case *messages.VoteMsg:
		v := *m.Vote
		v.Signature = flip(v.Signature)
		return messages.NewVoteMsg(&v)
	case *messages.NewViewMsg:
		nv := messages.NewNewViewMsg(m.ViewNumber, m.HighQC, m.SenderID, flip(m.Signature))
		nv.LastVote = m.LastVote
		return nv
	case *messages.ProposalMsg:
		b := *m.Block
		b.Payload = flip(b.Payload)
		return messages.NewProposalMsg(&b, m.Proposer)
	case *messages.BlockResponseMsg:
		blocks := append([]*types.Block(nil), m.Blocks...)
		if n := len(blocks); n > 0 {
			last := *blocks[n-1]
			last.Payload = flip(last.Payload)
			blocks[n-1] = &last
		}
		return messages.NewBlockResponseMsg(m.Hash, blocks, m.Responder)
	default:
		return msg
	}
}
