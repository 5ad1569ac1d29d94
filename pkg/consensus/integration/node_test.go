package integration

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/codec"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/mempool"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/mocks"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/types"
)

func newTestNode(t *testing.T) *Node {
	t.Helper()
	keys, err := mocks.NewKeyring(4)
	require.NoError(t, err)
	nets := mocks.NewMockMesh(4, mocks.DefaultNetworkConfig(), mocks.DefaultNetworkFailureConfig())
	t.Cleanup(nets[0].Stop)

	store := mocks.NewMockStorage(mocks.DefaultStorageConfig(), mocks.DefaultStorageFailureConfig())
	node, err := NewNode(DefaultNodeConfig(0, keys.Validators), keys.Signer(0), store, nets[0], zerolog.Nop())
	require.NoError(t, err)
	return node
}

func TestNode_Lifecycle(t *testing.T) {
	node := newTestNode(t)

	require.NoError(t, node.Stop(), "stopping an idle node is a no-op")

	require.NoError(t, node.Start(context.Background()))
	assert.Error(t, node.Start(context.Background()))

	require.NoError(t, node.Stop())
	select {
	case <-node.Done():
	default:
		t.Fatal("done not closed after stop")
	}
	assert.False(t, node.Halted())
}

func TestNode_Submit(t *testing.T) {
	node := newTestNode(t)

	id, err := node.Submit([]byte("tx"))
	require.NoError(t, err)
	assert.Equal(t, mempool.ID([]byte("tx")), id)

	_, err = node.Submit([]byte("tx"))
	assert.ErrorIs(t, err, mempool.ErrDuplicate)
	assert.Equal(t, 1, node.Mempool().Len())
}

func TestNode_EvictsCommittedItems(t *testing.T) {
	node := newTestNode(t)
	for _, item := range []string{"a", "b", "c"} {
		_, err := node.Submit([]byte(item))
		require.NoError(t, err)
	}

	payload, err := codec.EncodeBatch([][]byte{[]byte("a"), []byte("c")})
	require.NoError(t, err)
	node.evictCommitted(&types.Block{Height: 1, Payload: payload})
	node.evictCommitted(&types.Block{Height: 2, Payload: []byte{0xFF}})

	assert.Equal(t, 1, node.Mempool().Len())
	assert.True(t, node.Mempool().Contains(mempool.ID([]byte("b"))))
}

func TestNewNode_RejectsBadMempoolLimits(t *testing.T) {
	keys, err := mocks.NewKeyring(4)
	require.NoError(t, err)
	nets := mocks.NewMockMesh(4, mocks.DefaultNetworkConfig(), mocks.DefaultNetworkFailureConfig())
	store := mocks.NewMockStorage(mocks.DefaultStorageConfig(), mocks.DefaultStorageFailureConfig())

	cfg := DefaultNodeConfig(0, keys.Validators)
	cfg.MempoolSize = 0
	_, err = NewNode(cfg, keys.Signer(0), store, nets[0], zerolog.Nop())
	assert.Error(t, err)
}
