// Package storage defines the persistence capability the consensus core depends on.
// The core never decides how blocks are laid out on disk; it only needs the
// guarantee that a write has been made durable before it continues.
package storage

import (
	"context"

	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/types"
)

// BlockStore persists finalized blocks and the pending blocks a validator has
// accepted but not yet seen committed.
//
// PersistBlock must be durable before it returns nil. Persisting the same block
// twice is a no-op; persisting a different block at an already-persisted height
// fails with ErrConflict. Committing a height discards pending blocks at or
// below it.
type BlockStore interface {
	PersistBlock(ctx context.Context, block *types.Block) error
	GetBlock(hash types.BlockHash) (*types.Block, error)
	GetBlockByHeight(height types.Height) (*types.Block, error)
	// CommittedHeight returns the highest persisted height, or 0 when empty.
	CommittedHeight() (types.Height, error)

	// StorePending durably records an uncommitted block.
	StorePending(ctx context.Context, block *types.Block) error
	// PendingBlocks returns the uncommitted blocks in ascending height.
	PendingBlocks() ([]*types.Block, error)
}

// SafetyStore persists the validator's safety-critical state. A vote may only be
// sent after PutSafetyData for it has returned nil.
type SafetyStore interface {
	PutSafetyData(ctx context.Context, data *types.SafetyData) error
	// GetSafetyData returns ErrNotFound on a fresh store.
	GetSafetyData() (*types.SafetyData, error)
}

// Store is the full persistence adapter handed to the state machine.
type Store interface {
	BlockStore
	SafetyStore
	Close() error
}
