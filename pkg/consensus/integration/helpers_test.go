package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/engine"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/mocks"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/pacemaker"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/storage"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/types"
)

func fastPacemaker() pacemaker.Config {
	return pacemaker.Config{
		BaseTimeout: 100 * time.Millisecond,
		Multiplier:  2,
		MaxTimeout:  time.Second,
	}
}

func fastRetry() RetryConfig {
	return RetryConfig{
		BaseDelay:  time.Millisecond,
		MaxDelay:   10 * time.Millisecond,
		MaxRetries: 5,
	}
}

// cluster is an n-validator network over the in-memory mesh. Byzantine
// members have no Node; their slot in nodes is nil.
type cluster struct {
	t      *testing.T
	keys   *mocks.Keyring
	netCfg mocks.NetworkConfig
	nets   []*mocks.MockNetwork
	stores []storage.Store
	tracer *mocks.ConsensusEventTracer
	nodes  []*Node

	byzantine map[int][]mocks.ByzantineBehavior
	actors    map[int]*mocks.ByzantineNode
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

type clusterOption func(*cluster)

// withNetwork replaces the default lossless mesh configuration.
func withNetwork(cfg mocks.NetworkConfig) clusterOption {
	return func(c *cluster) { c.netCfg = cfg }
}

// withByzantine runs id as a ByzantineNode with behaviors instead of a Node.
func withByzantine(id int, behaviors ...mocks.ByzantineBehavior) clusterOption {
	return func(c *cluster) { c.byzantine[id] = behaviors }
}

func newCluster(t *testing.T, n int, opts ...clusterOption) *cluster {
	t.Helper()
	keys, err := mocks.NewKeyring(n)
	require.NoError(t, err)

	stores := make([]storage.Store, n)
	for i := range stores {
		stores[i] = mocks.NewMockStorage(mocks.DefaultStorageConfig(), mocks.DefaultStorageFailureConfig())
	}

	c := &cluster{
		t:         t,
		keys:      keys,
		netCfg:    mocks.DefaultNetworkConfig(),
		stores:    stores,
		tracer:    mocks.NewConsensusEventTracer(),
		byzantine: make(map[int][]mocks.ByzantineBehavior),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.rebuild()
	return c
}

// rebuild creates fresh networks and nodes over the existing stores, as after
// a restart of every process.
func (c *cluster) rebuild() {
	c.t.Helper()
	n := len(c.stores)
	c.nets = mocks.NewMockMesh(n, c.netCfg, mocks.DefaultNetworkFailureConfig())
	c.nodes = make([]*Node, n)
	c.actors = make(map[int]*mocks.ByzantineNode)
	for i := 0; i < n; i++ {
		id := types.NodeID(i)
		if behaviors, ok := c.byzantine[i]; ok {
			signer := c.keys.Signer(id)
			actor := mocks.NewByzantineNode(id, c.keys.Validators, signer, engine.NewGenesisBlock(signer), c.nets[i], c.tracer)
			for _, b := range behaviors {
				actor.EnableByzantineBehavior(b)
			}
			c.actors[i] = actor
			continue
		}
		cfg := DefaultNodeConfig(id, c.keys.Validators)
		cfg.Consensus.Pacemaker = fastPacemaker()
		cfg.Consensus.Retry = fastRetry()

		node, err := NewNode(cfg, c.keys.Signer(id), c.stores[i], c.nets[i], zerolog.Nop(), WithEventTracer(c.tracer))
		require.NoError(c.t, err)
		c.nodes[i] = node
	}
}

func (c *cluster) start() {
	c.t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	for _, actor := range c.actors {
		c.wg.Add(1)
		go func(a *mocks.ByzantineNode) {
			defer c.wg.Done()
			a.Run(ctx)
		}(actor)
	}
	for _, node := range c.nodes {
		if node != nil {
			require.NoError(c.t, node.Start(context.Background()))
		}
	}
}

// stop shuts every node down and returns the error each run ended with.
func (c *cluster) stop() []error {
	errs := make([]error, len(c.nodes))
	for i, node := range c.nodes {
		if node != nil {
			errs[i] = node.Stop()
		}
	}
	if c.cancel != nil {
		c.cancel()
		c.wg.Wait()
	}
	for _, net := range c.nets {
		net.Stop()
	}
	return errs
}

func (c *cluster) committed(id int) types.Height {
	return c.nodes[id].Status().CommittedHeight
}

// waitCommitted waits until every node in ids committed at least height.
func (c *cluster) waitCommitted(height types.Height, timeout time.Duration, ids ...int) {
	c.t.Helper()
	require.Eventually(c.t, func() bool {
		for _, id := range ids {
			if c.committed(id) < height {
				return false
			}
		}
		return true
	}, timeout, 10*time.Millisecond, "nodes %v did not reach height %d", ids, height)
}

// requireSameChain checks that ids stored identical blocks up to height.
func (c *cluster) requireSameChain(height types.Height, ids ...int) {
	c.t.Helper()
	for h := types.Height(0); h <= height; h++ {
		var want types.BlockHash
		for i, id := range ids {
			b, err := c.stores[id].GetBlockByHeight(h)
			require.NoError(c.t, err, "node %d height %d", id, h)
			if i == 0 {
				want = b.Hash
				continue
			}
			require.Equal(c.t, want, b.Hash, "node %d diverges at height %d", id, h)
		}
	}
}

// crash stops id and cuts its network, as a process kill would.
func (c *cluster) crash(id int) {
	c.t.Helper()
	require.NoError(c.t, c.nodes[id].Stop())
	c.nets[id].Stop()
}

// maxCommitted returns the highest committed height among ids.
func (c *cluster) maxCommitted(ids ...int) types.Height {
	var top types.Height
	for _, id := range ids {
		if h := c.committed(id); h > top {
			top = h
		}
	}
	return top
}

// requireNoConflicts checks that no two of ids committed different blocks at
// any height both of them reached.
func (c *cluster) requireNoConflicts(ids ...int) {
	c.t.Helper()
	top := c.maxCommitted(ids...)
	for h := types.Height(1); h <= top; h++ {
		seen := make(map[types.BlockHash]int)
		for _, id := range ids {
			b, err := c.stores[id].GetBlockByHeight(h)
			if err != nil {
				continue
			}
			seen[b.Hash] = id
		}
		require.LessOrEqual(c.t, len(seen), 1, "conflicting blocks committed at height %d: %v", h, seen)
	}
	for _, id := range ids {
		require.False(c.t, c.nodes[id].Halted(), "node %d halted", id)
	}
}

func allNodes(n int) []int {
	ids := make([]int, n)
	for i := range ids {
		ids[i] = i
	}
	return ids
}

// conflictStore reports every block write above height 0 as conflicting with
// a block already finalized at that height.
type conflictStore struct {
	*mocks.MockStorage
}

func (s conflictStore) PersistBlock(ctx context.Context, block *types.Block) error {
	if block.Height > 0 {
		return storage.NewStorageError(storage.ErrorTypeConflict, "height already finalized with another block")
	}
	return s.MockStorage.PersistBlock(ctx, block)
}
