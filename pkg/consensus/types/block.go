package types

import (
	"fmt"
)

// Block is a proposal in the chain. It carries an opaque payload that consensus
// never interprets, only its hash. A block is immutable once its Hash is set.
type Block struct {
	// Hash is the digest of the canonical block header
	Hash BlockHash
	// Height is the position of this block in the chain
	Height Height
	// View is the view in which the block was proposed
	View ViewNumber
	// ParentHash is the hash of the parent block
	ParentHash BlockHash
	// PayloadHash is the digest of Payload
	PayloadHash BlockHash
	// Proposer is the leader that built the block
	Proposer NodeID
	// Justify is the QC that allows this block to extend its parent
	Justify *QuorumCertificate
	// Payload is opaque, already validated application data
	Payload []byte
}

// IsGenesis returns true if this is the genesis block (height 0 with no parent).
func (b *Block) IsGenesis() bool {
	return b.Height == 0 && b.ParentHash.IsZero()
}

// Validate performs structural checks that need no cryptography.
// Hash and signature checks live with the crypto adapter.
func (b *Block) Validate(validators *ValidatorSet) error {
	if b.IsGenesis() {
		return nil
	}

	if validators != nil && !validators.IsMember(b.Proposer) {
		return fmt.Errorf("invalid proposer node ID: %d", b.Proposer)
	}

	if b.Justify == nil {
		return fmt.Errorf("block at height %d has no justification", b.Height)
	}

	if b.Justify.BlockHash != b.ParentHash {
		return fmt.Errorf("justify QC certifies %s, parent is %s", b.Justify.BlockHash, b.ParentHash)
	}

	if b.Justify.Height+1 != b.Height {
		return fmt.Errorf("block height %d does not follow justified height %d", b.Height, b.Justify.Height)
	}

	if b.Justify.View >= b.View {
		return fmt.Errorf("justify view %d is not below block view %d", b.Justify.View, b.View)
	}

	return nil
}

// String returns a string representation of the block for debugging.
func (b *Block) String() string {
	return fmt.Sprintf("Block{Hash: %s, Height: %d, View: %d, Proposer: %d}",
		b.Hash, b.Height, b.View, b.Proposer)
}
