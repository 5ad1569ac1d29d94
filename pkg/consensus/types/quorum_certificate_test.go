package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeVotes(hash BlockHash, view ViewNumber, voters ...NodeID) []*Vote {
	votes := make([]*Vote, len(voters))
	for i, voter := range voters {
		votes[i] = &Vote{BlockHash: hash, View: view, Voter: voter, Signature: []byte{byte(voter), 0xAB}}
	}
	return votes
}

func TestNewQuorumCertificate_SortsVoters(t *testing.T) {
	hash := BlockHash{0x01}
	qc, err := NewQuorumCertificate(hash, 7, 3, makeVotes(hash, 7, 3, 0, 2))
	require.NoError(t, err)

	assert.Equal(t, []NodeID{0, 2, 3}, qc.Voters())
	assert.Equal(t, Height(3), qc.Height)
}

func TestNewQuorumCertificate_RejectsMixedVotes(t *testing.T) {
	hash := BlockHash{0x01}

	votes := makeVotes(hash, 7, 0, 1)
	votes = append(votes, &Vote{BlockHash: BlockHash{0x02}, View: 7, Voter: 2, Signature: []byte{1}})
	_, err := NewQuorumCertificate(hash, 7, 3, votes)
	assert.Error(t, err)

	_, err = NewQuorumCertificate(hash, 7, 3, makeVotes(hash, 7, 0, 1, 1))
	assert.Error(t, err)
}

func TestQuorumCertificate_Validate(t *testing.T) {
	vs, err := NewValidatorSet(testKeys(4))
	require.NoError(t, err)
	hash := BlockHash{0x09}

	t.Run("quorum", func(t *testing.T) {
		qc, err := NewQuorumCertificate(hash, 2, 1, makeVotes(hash, 2, 0, 1, 2))
		require.NoError(t, err)
		assert.NoError(t, qc.Validate(vs))
		assert.True(t, qc.HasQuorum(vs))
	})

	t.Run("below threshold", func(t *testing.T) {
		qc, err := NewQuorumCertificate(hash, 2, 1, makeVotes(hash, 2, 0, 1))
		require.NoError(t, err)
		assert.Error(t, qc.Validate(vs))
	})

	t.Run("unknown voter", func(t *testing.T) {
		qc, err := NewQuorumCertificate(hash, 2, 1, makeVotes(hash, 2, 0, 1, 7))
		require.NoError(t, err)
		assert.Error(t, qc.Validate(vs))
	})

	t.Run("unsorted", func(t *testing.T) {
		qc := &QuorumCertificate{BlockHash: hash, View: 2, Height: 1, Signatures: []VoterSignature{
			{Voter: 2, Signature: []byte{1}},
			{Voter: 1, Signature: []byte{1}},
			{Voter: 0, Signature: []byte{1}},
		}}
		assert.Error(t, qc.Validate(vs))
	})

	t.Run("genesis", func(t *testing.T) {
		qc := NewGenesisQC(hash)
		assert.True(t, qc.IsGenesis())
		assert.NoError(t, qc.Validate(vs))
	})
}

func TestBlock_Validate(t *testing.T) {
	vs, err := NewValidatorSet(testKeys(4))
	require.NoError(t, err)

	parent := BlockHash{0x05}
	justify := &QuorumCertificate{BlockHash: parent, View: 3, Height: 2}

	good := &Block{Height: 3, View: 4, ParentHash: parent, Proposer: 0, Justify: justify}
	assert.NoError(t, good.Validate(vs))

	wrongHeight := *good
	wrongHeight.Height = 5
	assert.Error(t, wrongHeight.Validate(vs))

	wrongParent := *good
	wrongParent.ParentHash = BlockHash{0x06}
	assert.Error(t, wrongParent.Validate(vs))

	lateJustify := *good
	lateJustify.View = 3
	assert.Error(t, lateJustify.Validate(vs))

	unknownProposer := *good
	unknownProposer.Proposer = 11
	assert.Error(t, unknownProposer.Validate(vs))
}
