package engine

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/codec"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/mocks"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/types"
)

func TestDecide_Table(t *testing.T) {
	f := newFixture(t)
	chain := f.chain(f.genesis, f.genesis.Justify, 1, 2)
	b1, b2 := chain[0], chain[1]
	qc1 := f.qc(b1)
	qc2 := f.qc(b2)

	child := f.block(b2, qc2, 3, "child")

	wrongHeight := *child
	wrongHeight.Height = 9

	wrongParent := *child
	wrongParent.ParentHash = b1.Hash

	sameView := f.block(b2, qc2, 2, "same-view")

	tests := []struct {
		name      string
		state     VotingState
		block     *types.Block
		justified *types.Block
		wantErr   error
	}{
		{"vote", VotingState{LockedQC: qc1, LastVotedView: 2}, child, b2, nil},
		{"fresh validator", VotingState{}, child, b2, nil},
		{"height gap", VotingState{}, &wrongHeight, b2, ErrInvalidHeight},
		{"parent mismatch", VotingState{}, &wrongParent, b2, ErrParentMismatch},
		{"below lock", VotingState{LockedQC: f.qc(child)}, child, b2, ErrBelowLock},
		{"equal to lock", VotingState{LockedQC: qc2}, child, b2, nil},
		{"already voted", VotingState{LastVotedView: 3, LastVotedBlock: child.Hash}, child, b2, ErrAlreadyVoted},
		{"double vote", VotingState{LastVotedView: 3, LastVotedBlock: b1.Hash}, child, b2, ErrDoubleVote},
		{"stale view", VotingState{LastVotedView: 7}, child, b2, ErrStaleView},
		{"justify not below block", VotingState{}, sameView, b2, ErrInvalidJustify},
		{"unknown justified block", VotingState{}, child, nil, ErrUnknownBlock},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Decide(tt.state, tt.block, tt.justified)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestDecide_IsPure(t *testing.T) {
	f := newFixture(t)
	b1 := f.chain(f.genesis, f.genesis.Justify, 1)[0]
	state := VotingState{LockedQC: f.genesis.Justify}

	for i := 0; i < 3; i++ {
		assert.NoError(t, Decide(state, b1, f.genesis))
	}
	assert.Equal(t, types.ViewNumber(0), state.LastVotedView)
}

func TestSafetyRules_OnProposeVotesOncePerView(t *testing.T) {
	f := newFixture(t)
	sr := f.safetyRules(1)

	b1 := f.block(f.genesis, f.genesis.Justify, 1, "a")
	conflicting := f.block(f.genesis, f.genesis.Justify, 1, "b")
	require.NoError(t, sr.Tree().AddBlock(b1))
	require.NoError(t, sr.Tree().AddBlock(conflicting))

	vote, err := sr.OnPropose(b1)
	require.NoError(t, err)
	assert.Equal(t, types.NodeID(1), vote.Voter)
	assert.Equal(t, b1.Hash, vote.BlockHash)
	require.NoError(t, f.signers[0].Verify(codec.VoteSigningBytes(b1.Hash, 1), vote.Signature, 1))

	_, err = sr.OnPropose(b1)
	assert.ErrorIs(t, err, ErrAlreadyVoted)

	_, err = sr.OnPropose(conflicting)
	assert.ErrorIs(t, err, ErrDoubleVote)

	assert.Equal(t, types.ViewNumber(1), sr.LastVotedView())
	assert.Equal(t, vote, sr.LastVote())
}

func TestSafetyRules_SignFailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	signer := f.keys.MockSigner(2)
	sr := NewSafetyRules(2, signer, f.genesis, zerolog.Nop())

	b1 := f.block(f.genesis, f.genesis.Justify, 1, "a")
	require.NoError(t, sr.Tree().AddBlock(b1))

	signer.UpdateFailures(mocks.CryptoFailureConfig{FailSigns: 1})
	_, err := sr.OnPropose(b1)
	require.Error(t, err)
	assert.Equal(t, types.ViewNumber(0), sr.LastVotedView())

	_, err = sr.OnPropose(b1)
	require.NoError(t, err)
}

func TestSafetyRules_LockAndThreeChainCommit(t *testing.T) {
	f := newFixture(t)
	sr := f.safetyRules(0)

	chain := f.chain(f.genesis, f.genesis.Justify, 1, 2, 3, 4)
	for _, b := range chain {
		require.NoError(t, sr.Tree().AddBlock(b))
	}
	b1, b2, b3, b4 := chain[0], chain[1], chain[2], chain[3]

	committed, err := sr.OnQCFormed(f.qc(b1))
	require.NoError(t, err)
	assert.Empty(t, committed)
	assert.Equal(t, types.ViewNumber(1), sr.HighQC().View)
	assert.Equal(t, types.ViewNumber(0), sr.LockedQC().View)

	committed, err = sr.OnQCFormed(f.qc(b2))
	require.NoError(t, err)
	assert.Empty(t, committed)
	assert.Equal(t, b1.Hash, sr.LockedQC().BlockHash)

	committed, err = sr.OnQCFormed(f.qc(b3))
	require.NoError(t, err)
	assert.Equal(t, []types.BlockHash{b1.Hash}, hashes(committed))
	assert.Equal(t, b2.Hash, sr.LockedQC().BlockHash)
	assert.Equal(t, types.Height(1), sr.CommittedHeight())

	// the same QC again commits nothing new
	committed, err = sr.OnQCFormed(f.qc(b3))
	require.NoError(t, err)
	assert.Empty(t, committed)

	committed, err = sr.OnQCFormed(f.qc(b4))
	require.NoError(t, err)
	assert.Equal(t, []types.BlockHash{b2.Hash}, hashes(committed))
	assert.Equal(t, types.Height(2), sr.CommittedHeight())
	assert.Equal(t, b2.Hash, sr.Tree().Root().Hash)

	sd := sr.SafetyData(5)
	assert.Equal(t, b3.Hash, sd.LockedQC.BlockHash)
	assert.Equal(t, b4.Hash, sd.HighQC.BlockHash)
	assert.Equal(t, types.Height(2), sd.CommittedHeight)
	assert.Equal(t, types.ViewNumber(5), sd.CurrentView)
}

func TestSafetyRules_NoCommitAcrossViewGap(t *testing.T) {
	f := newFixture(t)
	sr := f.safetyRules(0)

	chain := f.chain(f.genesis, f.genesis.Justify, 1, 2, 4)
	for _, b := range chain {
		require.NoError(t, sr.Tree().AddBlock(b))
	}

	committed, err := sr.OnQCFormed(f.qc(chain[2]))
	require.NoError(t, err)
	assert.Empty(t, committed)
	assert.Equal(t, types.Height(0), sr.CommittedHeight())
	// the lock still moves
	assert.Equal(t, chain[1].Hash, sr.LockedQC().BlockHash)
}

func TestSafetyRules_CommitIncludesUncommittedAncestors(t *testing.T) {
	f := newFixture(t)
	sr := f.safetyRules(0)

	// a timeout between views 2 and 4 leaves b1, b2 uncommitted until b3..b5
	// form a three-chain in consecutive views
	chain := f.chain(f.genesis, f.genesis.Justify, 1, 2, 4, 5, 6)
	for _, b := range chain {
		require.NoError(t, sr.Tree().AddBlock(b))
	}
	for _, b := range chain[:4] {
		committed, err := sr.OnQCFormed(f.qc(b))
		require.NoError(t, err)
		assert.Empty(t, committed)
	}

	committed, err := sr.OnQCFormed(f.qc(chain[4]))
	require.NoError(t, err)
	assert.Equal(t, hashes(chain[:3]), hashes(committed))
	assert.Equal(t, types.Height(3), sr.CommittedHeight())
}

// blockSet is a BlockLookup over loose blocks, outside any tree.
type blockSet map[types.BlockHash]*types.Block

func (s blockSet) GetBlock(hash types.BlockHash) (*types.Block, bool) {
	b, ok := s[hash]
	return b, ok
}

func newBlockSet(blocks ...*types.Block) blockSet {
	s := make(blockSet, len(blocks))
	for _, b := range blocks {
		s[b.Hash] = b
	}
	return s
}

func TestThreeChain(t *testing.T) {
	f := newFixture(t)
	chain := f.chain(f.genesis, f.genesis.Justify, 1, 2, 3, 5)
	all := newBlockSet(append([]*types.Block{f.genesis}, chain...)...)

	b1, ok := ThreeChain(f.qc(chain[2]), all)
	require.True(t, ok)
	assert.Equal(t, chain[0].Hash, b1.Hash)

	_, ok = ThreeChain(f.qc(chain[3]), all)
	assert.False(t, ok, "views 2, 3, 5 are not consecutive")

	_, ok = ThreeChain(f.qc(chain[2]), newBlockSet(chain[1], chain[2]))
	assert.False(t, ok, "b1 missing")

	_, ok = ThreeChain(f.qc(f.genesis), all)
	assert.False(t, ok, "genesis has no chain below it")

	// justify pointing away from the parent never forms a chain
	odd := f.block(chain[1], f.qc(chain[0]), 3, "odd")
	all[odd.Hash] = odd
	_, ok = ThreeChain(f.qc(odd), all)
	assert.False(t, ok)

	_, ok = ThreeChain(nil, all)
	assert.False(t, ok)
}

func TestSafetyRules_LockRejectsConflictingBranch(t *testing.T) {
	f := newFixture(t)
	sr := f.safetyRules(3)

	chain := f.chain(f.genesis, f.genesis.Justify, 1, 2, 3)
	for _, b := range chain {
		require.NoError(t, sr.Tree().AddBlock(b))
	}
	_, err := sr.OnQCFormed(f.qc(chain[2]))
	require.NoError(t, err)
	require.Equal(t, chain[1].Hash, sr.LockedQC().BlockHash)

	// a fork off b1, justified by the QC for b1 which is below the lock
	fork := f.block(chain[0], f.qc(chain[0]), 6, "fork")
	require.NoError(t, sr.Tree().AddBlock(fork))

	_, err = sr.OnPropose(fork)
	assert.ErrorIs(t, err, ErrBelowLock)
	assert.Equal(t, types.ViewNumber(0), sr.LastVotedView())
}

func TestSafetyRules_UnknownCertifiedBlock(t *testing.T) {
	f := newFixture(t)
	sr := f.safetyRules(0)

	b1 := f.block(f.genesis, f.genesis.Justify, 1, "unknown")
	_, err := sr.OnQCFormed(f.qc(b1))
	assert.ErrorIs(t, err, ErrUnknownBlock)
	assert.Equal(t, types.ViewNumber(0), sr.HighQC().View)
}

func TestSafetyRules_Restore(t *testing.T) {
	f := newFixture(t)
	chain := f.chain(f.genesis, f.genesis.Justify, 1, 2, 3)

	sr := f.safetyRules(1)
	sr.Restore(&types.SafetyData{
		LockedQC:      f.qc(chain[0]),
		HighQC:        f.qc(chain[1]),
		LastVotedView: 3,
	}, chain)

	assert.Equal(t, types.ViewNumber(1), sr.LockedQC().View)
	assert.Equal(t, types.ViewNumber(2), sr.HighQC().View)
	assert.Equal(t, types.ViewNumber(3), sr.LastVotedView())
	assert.Equal(t, 4, sr.Tree().GetBlockCount())

	// a restored validator never re-votes in its last voted view
	_, err := sr.OnPropose(chain[2])
	assert.ErrorIs(t, err, ErrDoubleVote)
}
