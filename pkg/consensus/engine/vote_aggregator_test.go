package engine

import (
	"errors"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/types"
)

func newAggregator(f *fixture, tree *BlockTree) *VoteAggregator {
	return NewVoteAggregator(f.keys.Validators, f.signers[0], tree, f.genesis.Hash)
}

func TestVoteAggregator_FormsQCExactlyOnce(t *testing.T) {
	f := newFixture(t)
	tree := NewBlockTree(f.genesis)
	b1 := f.chain(f.genesis, f.genesis.Justify, 1)[0]
	require.NoError(t, tree.AddBlock(b1))
	agg := newAggregator(f, tree)

	qc, err := agg.OnVote(f.vote(b1, 0))
	require.NoError(t, err)
	assert.Nil(t, qc)
	qc, err = agg.OnVote(f.vote(b1, 2))
	require.NoError(t, err)
	assert.Nil(t, qc)

	qc, err = agg.OnVote(f.vote(b1, 3))
	require.NoError(t, err)
	require.NotNil(t, qc)
	assert.Equal(t, b1.Hash, qc.BlockHash)
	assert.Equal(t, types.ViewNumber(1), qc.View)
	assert.Equal(t, types.Height(1), qc.Height)
	assert.Equal(t, []types.NodeID{0, 2, 3}, qc.Voters())
	require.NoError(t, agg.VerifyQC(qc))

	// a late vote is accepted but never yields a second QC
	qc, err = agg.OnVote(f.vote(b1, 1))
	require.NoError(t, err)
	assert.Nil(t, qc)
	assert.Equal(t, 4, agg.VoteCount(1, b1.Hash))
}

func TestVoteAggregator_Rejections(t *testing.T) {
	f := newFixture(t)
	tree := NewBlockTree(f.genesis)
	a := f.block(f.genesis, f.genesis.Justify, 1, "a")
	b := f.block(f.genesis, f.genesis.Justify, 1, "b")
	require.NoError(t, tree.AddBlock(a))
	require.NoError(t, tree.AddBlock(b))
	agg := newAggregator(f, tree)

	_, err := agg.OnVote(f.vote(a, 1))
	require.NoError(t, err)

	_, err = agg.OnVote(f.vote(a, 1))
	assert.ErrorIs(t, err, ErrDuplicateVote)

	_, err = agg.OnVote(f.vote(b, 1))
	assert.ErrorIs(t, err, ErrEquivocation)
	assert.Equal(t, 0, agg.VoteCount(1, b.Hash))

	unknown := f.vote(a, 2)
	unknown.Voter = 9
	_, err = agg.OnVote(unknown)
	assert.ErrorIs(t, err, ErrUnknownValidator)

	forged := f.vote(a, 2)
	forged.Voter = 3
	_, err = agg.OnVote(forged)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = agg.OnVote(nil)
	assert.Error(t, err)
}

func TestVoteAggregator_WaitsForUnknownBlock(t *testing.T) {
	f := newFixture(t)
	tree := NewBlockTree(f.genesis)
	agg := newAggregator(f, tree)
	b1 := f.block(f.genesis, f.genesis.Justify, 1, "late")

	for _, voter := range []types.NodeID{0, 1, 2} {
		qc, err := agg.OnVote(f.vote(b1, voter))
		require.NoError(t, err)
		assert.Nil(t, qc)
	}

	require.NoError(t, tree.AddBlock(b1))
	qc, err := agg.OnBlockKnown(b1)
	require.NoError(t, err)
	require.NotNil(t, qc)
	assert.Equal(t, types.Height(1), qc.Height)

	qc, err = agg.OnBlockKnown(b1)
	require.NoError(t, err)
	assert.Nil(t, qc)
}

func TestVoteAggregator_PruneBelow(t *testing.T) {
	f := newFixture(t)
	tree := NewBlockTree(f.genesis)
	chain := f.chain(f.genesis, f.genesis.Justify, 1, 2, 3)
	agg := newAggregator(f, tree)

	for _, b := range chain {
		_, err := agg.OnVote(f.vote(b, 0))
		require.NoError(t, err)
	}
	assert.Equal(t, 3, agg.PendingViews())

	agg.PruneBelow(3)
	assert.Equal(t, 1, agg.PendingViews())

	_, err := agg.OnVote(f.vote(chain[0], 1))
	assert.ErrorIs(t, err, ErrStaleVote)

	agg.PruneBelow(2)
	_, err = agg.OnVote(f.vote(chain[1], 1))
	assert.ErrorIs(t, err, ErrStaleVote, "pruning never moves backwards")
}

func TestVoteAggregator_LookaheadWindow(t *testing.T) {
	f := newFixture(t)
	tree := NewBlockTree(f.genesis)
	agg := newAggregator(f, tree)

	far := f.block(f.genesis, f.genesis.Justify, MaxVoteLookahead+1, "far")
	_, err := agg.OnVote(f.vote(far, 1))
	assert.ErrorIs(t, err, ErrFutureVote)
	assert.Zero(t, agg.PendingViews(), "a rejected vote must not allocate view state")

	edge := f.block(f.genesis, f.genesis.Justify, MaxVoteLookahead, "edge")
	_, err = agg.OnVote(f.vote(edge, 1))
	require.NoError(t, err)

	agg.SetCurrentView(10)
	_, err = agg.OnVote(f.vote(far, 1))
	require.NoError(t, err)

	agg.SetCurrentView(2)
	beyond := f.block(f.genesis, f.genesis.Justify, MaxVoteLookahead+11, "beyond")
	_, err = agg.OnVote(f.vote(beyond, 1))
	assert.ErrorIs(t, err, ErrFutureVote, "the window never moves backwards")
}

func TestVoteAggregator_VerifyQC(t *testing.T) {
	f := newFixture(t)
	tree := NewBlockTree(f.genesis)
	b1 := f.chain(f.genesis, f.genesis.Justify, 1)[0]
	require.NoError(t, tree.AddBlock(b1))
	agg := newAggregator(f, tree)

	t.Run("genesis", func(t *testing.T) {
		assert.NoError(t, agg.VerifyQC(f.genesis.Justify))
		assert.ErrorIs(t, agg.VerifyQC(types.NewGenesisQC(b1.Hash)), ErrInvalidQC)
	})

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, agg.VerifyQC(f.qc(b1, 1, 2, 3)))
		assert.NoError(t, agg.VerifyQC(f.qc(b1, 0, 1, 2, 3)))
	})

	t.Run("below threshold", func(t *testing.T) {
		assert.ErrorIs(t, agg.VerifyQC(f.qc(b1, 0, 1)), ErrInvalidQC)
	})

	t.Run("wrong height", func(t *testing.T) {
		qc := f.qc(b1)
		qc.Height = 5
		assert.ErrorIs(t, agg.VerifyQC(qc), ErrInvalidQC)
	})

	t.Run("signature over another view", func(t *testing.T) {
		qc := f.qc(b1)
		qc.View = 2
		assert.ErrorIs(t, agg.VerifyQC(qc), ErrInvalidSignature)
	})

	t.Run("every bad signature is reported", func(t *testing.T) {
		qc := f.qc(b1)
		qc.Signatures[0].Signature = append([]byte(nil), qc.Signatures[1].Signature...)
		qc.Signatures[2].Signature = append([]byte(nil), qc.Signatures[1].Signature...)

		err := agg.VerifyQC(qc)
		require.ErrorIs(t, err, ErrInvalidQC)
		require.ErrorIs(t, err, ErrInvalidSignature)

		var merr *multierror.Error
		require.True(t, errors.As(err, &merr))
		assert.Len(t, merr.Errors, 2)
	})

	t.Run("duplicate voter", func(t *testing.T) {
		qc := f.qc(b1)
		qc.Signatures[1] = qc.Signatures[0]
		assert.ErrorIs(t, agg.VerifyQC(qc), ErrInvalidQC)
	})
}
