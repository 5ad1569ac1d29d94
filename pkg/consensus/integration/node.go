package integration

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/codec"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/crypto"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/mempool"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/network"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/storage"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/types"
)

// NodeConfig contains the configuration of a complete validator node.
type NodeConfig struct {
	Consensus       Config
	MempoolSize     int
	MaxPayloadItems int
}

// DefaultNodeConfig creates a node configuration with sensible defaults.
func DefaultNodeConfig(id types.NodeID, validators *types.ValidatorSet) NodeConfig {
	return NodeConfig{
		Consensus:       DefaultConfig(id, validators),
		MempoolSize:     10000,
		MaxPayloadItems: 256,
	}
}

// Node is a validator: the consensus state machine fed by a local mempool.
type Node struct {
	sm   *StateMachine
	pool *mempool.Mempool
	log  zerolog.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// NewNode creates a node over the injected adapters. Committed payload items
// are evicted from the mempool so they are not proposed again.
func NewNode(
	cfg NodeConfig,
	signer crypto.CryptoInterface,
	store storage.Store,
	net network.NetworkInterface,
	log zerolog.Logger,
	opts ...Option,
) (*Node, error) {
	pool, err := mempool.New(cfg.MempoolSize, cfg.MaxPayloadItems)
	if err != nil {
		return nil, fmt.Errorf("failed to create mempool: %w", err)
	}

	n := &Node{
		pool: pool,
		log:  log.With().Uint16("node_id", uint16(cfg.Consensus.NodeID)).Str("component", "node").Logger(),
	}

	opts = append(opts, WithCommitHandler(n.evictCommitted))
	sm, err := NewStateMachine(cfg.Consensus, signer, store, net, pool, log, opts...)
	if err != nil {
		return nil, err
	}
	n.sm = sm
	return n, nil
}

// Start runs consensus in the background until Stop or a fatal error.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.started {
		return fmt.Errorf("node already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.done = make(chan struct{})
	n.started = true

	go func() {
		defer close(n.done)
		err := n.sm.Run(runCtx)
		n.mu.Lock()
		n.err = err
		n.mu.Unlock()
	}()
	return nil
}

// Stop cancels consensus and waits for it to wind down. It returns the error
// that ended the run, if any.
func (n *Node) Stop() error {
	n.mu.Lock()
	if !n.started {
		n.mu.Unlock()
		return nil
	}
	cancel, done := n.cancel, n.done
	n.mu.Unlock()

	cancel()
	<-done

	n.mu.Lock()
	defer n.mu.Unlock()
	return n.err
}

// Done is closed once consensus stopped.
func (n *Node) Done() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.done
}

// Submit queues an opaque item for inclusion in a future block.
func (n *Node) Submit(item []byte) (mempool.ItemID, error) {
	if n.sm.Halted() {
		return mempool.ItemID{}, fmt.Errorf("%w: node is halted", ErrSafetyViolation)
	}
	return n.pool.Insert(item)
}

// Status returns the consensus progress of the node.
func (n *Node) Status() Status {
	return n.sm.Status()
}

// Halted reports whether the node stopped on a safety violation.
func (n *Node) Halted() bool {
	return n.sm.Halted()
}

// Mempool returns the pool feeding this node's proposals.
func (n *Node) Mempool() *mempool.Mempool {
	return n.pool
}

// StateMachine returns the consensus state machine of the node.
func (n *Node) StateMachine() *StateMachine {
	return n.sm
}

func (n *Node) evictCommitted(b *types.Block) {
	if len(b.Payload) == 0 {
		return
	}
	items, err := codec.DecodeBatch(b.Payload)
	if err != nil {
		n.log.Debug().Err(err).Uint64("height", uint64(b.Height)).Msg("Committed payload is not a batch")
		return
	}
	for _, item := range items {
		n.pool.Remove(mempool.ID(item))
	}
}
