package engine

import (
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/codec"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/types"
)

// GenesisPayload is the fixed payload of block 0.
var GenesisPayload = []byte("novai-genesis")

// NewGenesisBlock builds block 0. Every validator derives the same block from
// the hash function alone; it is justified by the signature-less genesis QC.
func NewGenesisBlock(hasher codec.Hasher) *types.Block {
	genesis := &types.Block{
		Height:      0,
		View:        0,
		PayloadHash: hasher.Hash(GenesisPayload),
		Proposer:    0,
		Payload:     append([]byte(nil), GenesisPayload...),
	}
	genesis.Hash = codec.BlockHash(hasher, genesis)
	genesis.Justify = types.NewGenesisQC(genesis.Hash)
	return genesis
}
