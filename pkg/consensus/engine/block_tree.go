package engine

import (
	"fmt"

	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/types"
)

// BlockTree holds the uncommitted blocks of the chain as a forest rooted at
// the last committed block. Every block in the tree descends from the root.
type BlockTree struct {
	// blocks stores all known blocks indexed by their hash
	blocks map[types.BlockHash]*types.Block

	// children maps each block hash to its child blocks (for fork management)
	children map[types.BlockHash][]*types.Block

	// root is the highest committed block
	root *types.Block
}

// NewBlockTree creates a tree whose root is the given committed block.
func NewBlockTree(root *types.Block) *BlockTree {
	if root == nil {
		panic("block tree root cannot be nil")
	}

	bt := &BlockTree{
		blocks:   make(map[types.BlockHash]*types.Block),
		children: make(map[types.BlockHash][]*types.Block),
		root:     root,
	}
	bt.blocks[root.Hash] = root

	return bt
}

// AddBlock inserts block below its parent. Adding a block twice is a no-op.
func (bt *BlockTree) AddBlock(block *types.Block) error {
	if block == nil {
		return fmt.Errorf("block cannot be nil")
	}

	if _, exists := bt.blocks[block.Hash]; exists {
		return nil
	}

	parent, exists := bt.blocks[block.ParentHash]
	if !exists {
		return fmt.Errorf("%w: parent %s of block %s", ErrUnknownBlock, block.ParentHash, block.Hash)
	}

	if block.Height != parent.Height+1 {
		return fmt.Errorf("%w: expected %d, got %d", ErrInvalidHeight, parent.Height+1, block.Height)
	}

	bt.blocks[block.Hash] = block
	bt.children[block.ParentHash] = append(bt.children[block.ParentHash], block)

	return nil
}

// GetBlock retrieves a block by its hash.
func (bt *BlockTree) GetBlock(hash types.BlockHash) (*types.Block, bool) {
	block, exists := bt.blocks[hash]
	return block, exists
}

// Contains reports whether hash is in the tree.
func (bt *BlockTree) Contains(hash types.BlockHash) bool {
	_, exists := bt.blocks[hash]
	return exists
}

// Extends reports whether descendant is ancestor or lies below it.
func (bt *BlockTree) Extends(descendant, ancestor types.BlockHash) bool {
	current, ok := bt.blocks[descendant]
	for ok {
		if current.Hash == ancestor {
			return true
		}
		if current.Hash == bt.root.Hash {
			return false
		}
		current, ok = bt.blocks[current.ParentHash]
	}
	return false
}

// PathFromRoot returns the blocks strictly above the root up to and including
// hash, in ascending height.
func (bt *BlockTree) PathFromRoot(hash types.BlockHash) ([]*types.Block, error) {
	var path []*types.Block

	current, ok := bt.blocks[hash]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBlock, hash)
	}
	for current.Hash != bt.root.Hash {
		path = append(path, current)
		parent, ok := bt.blocks[current.ParentHash]
		if !ok {
			return nil, fmt.Errorf("missing parent %s of block %s", current.ParentHash, current.Hash)
		}
		current = parent
	}

	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

// Root returns the highest committed block.
func (bt *BlockTree) Root() *types.Block {
	return bt.root
}

// PruneTo makes block the new root and drops every block that does not
// descend from it.
func (bt *BlockTree) PruneTo(hash types.BlockHash) error {
	newRoot, ok := bt.blocks[hash]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBlock, hash)
	}
	if newRoot.Hash == bt.root.Hash {
		return nil
	}
	if !bt.Extends(hash, bt.root.Hash) {
		return fmt.Errorf("block %s does not extend root %s", hash, bt.root.Hash)
	}

	blocks := map[types.BlockHash]*types.Block{newRoot.Hash: newRoot}
	children := make(map[types.BlockHash][]*types.Block)

	queue := []*types.Block{newRoot}
	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]
		for _, child := range bt.children[b.Hash] {
			blocks[child.Hash] = child
			children[b.Hash] = append(children[b.Hash], child)
			queue = append(queue, child)
		}
	}

	bt.blocks = blocks
	bt.children = children
	bt.root = newRoot
	return nil
}

// GetBlockCount returns the total number of blocks in the tree.
func (bt *BlockTree) GetBlockCount() int {
	return len(bt.blocks)
}

// forkCount returns the number of blocks with more than one child.
func (bt *BlockTree) forkCount() int {
	forkCount := 0
	for _, children := range bt.children {
		if len(children) > 1 {
			forkCount++
		}
	}
	return forkCount
}

// ValidateTree performs consistency checks on the entire tree structure.
func (bt *BlockTree) ValidateTree() error {
	if bt.root == nil {
		return fmt.Errorf("tree root cannot be nil")
	}

	for hash, block := range bt.blocks {
		if block.Hash != hash {
			return fmt.Errorf("block hash mismatch in storage: key %s, block hash %s", hash, block.Hash)
		}

		if hash == bt.root.Hash {
			continue
		}

		parent, exists := bt.blocks[block.ParentHash]
		if !exists {
			return fmt.Errorf("orphaned block %s: parent %s not found", block.Hash, block.ParentHash)
		}

		found := false
		for _, child := range bt.children[block.ParentHash] {
			if child.Hash == block.Hash {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("block %s not in parent %s children list", block.Hash, parent.Hash)
		}
	}

	return nil
}

// String returns a string representation of the tree for debugging.
func (bt *BlockTree) String() string {
	return fmt.Sprintf("BlockTree{Blocks: %d, Forks: %d, Root: %s}",
		bt.GetBlockCount(), bt.forkCount(), bt.root.String())
}
