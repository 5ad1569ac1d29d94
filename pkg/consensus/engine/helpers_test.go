package engine

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/codec"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/crypto"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/mocks"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/types"
)

// fixture is a 4-validator chain builder with real ed25519 keys.
type fixture struct {
	t       *testing.T
	keys    *mocks.Keyring
	signers []crypto.CryptoInterface
	genesis *types.Block
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	keys, err := mocks.NewKeyring(4)
	require.NoError(t, err)

	signers := make([]crypto.CryptoInterface, 4)
	for i := range signers {
		signers[i] = keys.Signer(types.NodeID(i))
	}

	return &fixture{
		t:       t,
		keys:    keys,
		signers: signers,
		genesis: NewGenesisBlock(signers[0]),
	}
}

// block builds a child of justify's block at view.
func (f *fixture) block(parent *types.Block, justify *types.QuorumCertificate, view types.ViewNumber, payload string) *types.Block {
	b := &types.Block{
		Height:      parent.Height + 1,
		View:        view,
		ParentHash:  parent.Hash,
		PayloadHash: f.signers[0].Hash([]byte(payload)),
		Proposer:    f.keys.Validators.LeaderFor(view),
		Justify:     justify,
		Payload:     []byte(payload),
	}
	b.Hash = codec.BlockHash(f.signers[0], b)
	return b
}

func (f *fixture) vote(b *types.Block, voter types.NodeID) *types.Vote {
	sig, err := f.signers[voter].Sign(codec.VoteSigningBytes(b.Hash, b.View))
	require.NoError(f.t, err)
	return &types.Vote{BlockHash: b.Hash, View: b.View, Voter: voter, Signature: sig}
}

// qc certifies b with votes from voters (default 0, 1, 2).
func (f *fixture) qc(b *types.Block, voters ...types.NodeID) *types.QuorumCertificate {
	if len(voters) == 0 {
		voters = []types.NodeID{0, 1, 2}
	}
	votes := make([]*types.Vote, 0, len(voters))
	for _, v := range voters {
		votes = append(votes, f.vote(b, v))
	}
	qc, err := types.NewQuorumCertificate(b.Hash, b.View, b.Height, votes)
	require.NoError(f.t, err)
	return qc
}

func (f *fixture) safetyRules(self types.NodeID) *SafetyRules {
	return NewSafetyRules(self, f.signers[self], f.genesis, zerolog.Nop())
}

// chain extends parent with one block per view, each justified by a QC on
// its predecessor.
func (f *fixture) chain(parent *types.Block, parentQC *types.QuorumCertificate, views ...types.ViewNumber) []*types.Block {
	out := make([]*types.Block, 0, len(views))
	justify := parentQC
	for _, v := range views {
		b := f.block(parent, justify, v, "payload")
		out = append(out, b)
		parent = b
		justify = f.qc(b)
	}
	return out
}

func hashes(blocks []*types.Block) []types.BlockHash {
	out := make([]types.BlockHash, len(blocks))
	for i, b := range blocks {
		out[i] = b.Hash
	}
	return out
}
