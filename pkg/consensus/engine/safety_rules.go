package engine

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/codec"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/crypto"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/types"
)

// VotingState is the part of the safety state a vote decision depends on.
type VotingState struct {
	LockedQC       *types.QuorumCertificate
	LastVotedView  types.ViewNumber
	LastVotedBlock types.BlockHash
}

// Decide is the voting rule as a pure function. It returns nil if a validator
// in state may vote for block, whose justification certifies justified.
//
//	height      block.Height == justified.Height+1        else ErrInvalidHeight
//	parent      block.ParentHash == justify.BlockHash     else ErrParentMismatch
//	lock        justify.View >= locked.View               else ErrBelowLock
//	one vote    block.View > lastVotedView                else ErrAlreadyVoted, ErrDoubleVote or ErrStaleView
//	justify     justify.View < block.View                 else ErrInvalidJustify
func Decide(state VotingState, block, justified *types.Block) error {
	if block == nil || block.Justify == nil {
		return fmt.Errorf("%w: block carries no justification", ErrInvalidJustify)
	}
	if justified == nil {
		return fmt.Errorf("%w: justified block %s", ErrUnknownBlock, block.Justify.BlockHash)
	}
	justify := block.Justify

	if block.Height != justified.Height+1 {
		return fmt.Errorf("%w: block height %d, justified height %d", ErrInvalidHeight, block.Height, justified.Height)
	}

	if block.ParentHash != justify.BlockHash {
		return fmt.Errorf("%w: parent %s, justified %s", ErrParentMismatch, block.ParentHash, justify.BlockHash)
	}

	if state.LockedQC != nil && justify.View < state.LockedQC.View {
		return fmt.Errorf("%w: justify view %d, locked view %d", ErrBelowLock, justify.View, state.LockedQC.View)
	}

	if block.View <= state.LastVotedView {
		switch {
		case block.View < state.LastVotedView:
			return fmt.Errorf("%w: block view %d, last voted %d", ErrStaleView, block.View, state.LastVotedView)
		case block.Hash == state.LastVotedBlock:
			return fmt.Errorf("%w: %s in view %d", ErrAlreadyVoted, block.Hash, block.View)
		default:
			return fmt.Errorf("%w: view %d, voted %s, asked %s", ErrDoubleVote, block.View, state.LastVotedBlock, block.Hash)
		}
	}

	if justify.View >= block.View {
		return fmt.Errorf("%w: justify view %d, block view %d", ErrInvalidJustify, justify.View, block.View)
	}

	return nil
}

// SafetyRules owns the safety state of one validator: locked QC, high QC,
// last vote and committed height. It is not safe for concurrent use; the state
// machine goroutine is its only caller.
//
// Locking follows the two-chain rule: observing a QC for block b locks on the
// QC b carries. Committing follows the three-chain rule: a QC for b3 commits b1
// when b3 -> b2 -> b1 are parent links in consecutive views.
type SafetyRules struct {
	self   types.NodeID
	signer crypto.CryptoInterface
	tree   *BlockTree

	lockedQC        *types.QuorumCertificate
	highQC          *types.QuorumCertificate
	lastVotedView   types.ViewNumber
	lastVotedBlock  types.BlockHash
	lastVote        *types.Vote
	committedHeight types.Height

	log zerolog.Logger
}

// NewSafetyRules creates the safety state on top of the committed block root.
// Locked and high QC start as root.Justify.
func NewSafetyRules(self types.NodeID, signer crypto.CryptoInterface, root *types.Block, log zerolog.Logger) *SafetyRules {
	return &SafetyRules{
		self:            self,
		signer:          signer,
		tree:            NewBlockTree(root),
		lockedQC:        root.Justify,
		highQC:          root.Justify,
		committedHeight: root.Height,
		log:             log.With().Str("component", "safety").Logger(),
	}
}

// Restore loads persisted safety data and re-inserts pending blocks. Blocks
// that no longer descend from the committed root are skipped.
func (sr *SafetyRules) Restore(sd *types.SafetyData, pending []*types.Block) {
	if sd != nil {
		if sd.LockedQC != nil && (sr.lockedQC == nil || sd.LockedQC.View > sr.lockedQC.View) {
			sr.lockedQC = sd.LockedQC
		}
		if sd.HighQC != nil && (sr.highQC == nil || sd.HighQC.View > sr.highQC.View) {
			sr.highQC = sd.HighQC
		}
		if sd.LastVotedView > sr.lastVotedView {
			sr.lastVotedView = sd.LastVotedView
		}
	}

	for _, b := range pending {
		if b.Height <= sr.committedHeight {
			continue
		}
		if err := sr.tree.AddBlock(b); err != nil {
			sr.log.Debug().Err(err).Str("block_hash", b.Hash.String()).Msg("Skipping pending block")
		}
	}
}

// OnPropose runs the voting rule for block and, if it passes, signs a vote and
// records it. A refused proposal leaves the state untouched.
func (sr *SafetyRules) OnPropose(block *types.Block) (*types.Vote, error) {
	if block == nil || block.Justify == nil {
		return nil, fmt.Errorf("%w: block carries no justification", ErrInvalidJustify)
	}

	justified, _ := sr.tree.GetBlock(block.Justify.BlockHash)
	if err := Decide(sr.VotingState(), block, justified); err != nil {
		return nil, err
	}

	sig, err := sr.signer.Sign(codec.VoteSigningBytes(block.Hash, block.View))
	if err != nil {
		return nil, fmt.Errorf("failed to sign vote: %w", err)
	}

	vote := &types.Vote{
		BlockHash: block.Hash,
		View:      block.View,
		Voter:     sr.self,
		Signature: sig,
	}

	sr.lastVotedView = block.View
	sr.lastVotedBlock = block.Hash
	sr.lastVote = vote

	return vote, nil
}

// UpdateHighQC records qc if it is the highest QC seen so far.
func (sr *SafetyRules) UpdateHighQC(qc *types.QuorumCertificate) bool {
	if qc == nil || (sr.highQC != nil && qc.View <= sr.highQC.View) {
		return false
	}
	if !sr.tree.Contains(qc.BlockHash) {
		return false
	}
	sr.highQC = qc
	return true
}

// OnQCFormed processes a verified QC: it raises the high QC, moves the lock
// forward and returns the blocks the QC commits, in ascending height. Each
// height is returned at most once. Blocks on forks of the committed chain never
// reach the tree, so conflicting finality is caught before the QC gets here.
func (sr *SafetyRules) OnQCFormed(qc *types.QuorumCertificate) ([]*types.Block, error) {
	if qc == nil {
		return nil, fmt.Errorf("%w: nil", ErrInvalidQC)
	}

	b3, ok := sr.tree.GetBlock(qc.BlockHash)
	if !ok {
		return nil, fmt.Errorf("%w: certified block %s", ErrUnknownBlock, qc.BlockHash)
	}

	sr.UpdateHighQC(qc)

	if b3.Hash == sr.tree.Root().Hash || b3.Justify == nil {
		return nil, nil
	}

	// two-chain lock: b3 certified means b3.Justify is now held by a quorum
	candidate := b3.Justify
	if sr.lockedQC == nil || candidate.View > sr.lockedQC.View {
		sr.lockedQC = candidate
		sr.log.Debug().
			Uint64("view", uint64(candidate.View)).
			Str("block_hash", candidate.BlockHash.String()).
			Msg("Locked QC updated")
	}

	b1, ok := ThreeChain(qc, sr.tree)
	if !ok {
		return nil, nil
	}
	return sr.commit(b1)
}

// ThreeChain returns the block qc finalizes: qc certifies b3, and b3 -> b2 ->
// b1 are parent links whose justifications certify the parent in consecutive
// views. It reports false when any link is missing from blocks.
func ThreeChain(qc *types.QuorumCertificate, blocks BlockLookup) (*types.Block, bool) {
	if qc == nil {
		return nil, false
	}
	b3, ok := blocks.GetBlock(qc.BlockHash)
	if !ok || b3.Justify == nil || b3.Justify.BlockHash != b3.ParentHash {
		return nil, false
	}
	b2, ok := blocks.GetBlock(b3.ParentHash)
	if !ok || b2.Justify == nil || b2.Justify.BlockHash != b2.ParentHash {
		return nil, false
	}
	b1, ok := blocks.GetBlock(b2.ParentHash)
	if !ok {
		return nil, false
	}
	if b3.View != b2.View+1 || b2.View != b1.View+1 {
		return nil, false
	}
	return b1, true
}

// commit moves the root to b1. A b1 at or below the committed height is the
// root itself, since every block in the tree descends from it.
func (sr *SafetyRules) commit(b1 *types.Block) ([]*types.Block, error) {
	if b1.Height <= sr.committedHeight {
		return nil, nil
	}

	path, err := sr.tree.PathFromRoot(b1.Hash)
	if err != nil {
		return nil, fmt.Errorf("failed to collect committed blocks: %w", err)
	}
	if err := sr.tree.PruneTo(b1.Hash); err != nil {
		return nil, fmt.Errorf("failed to prune block tree: %w", err)
	}
	sr.committedHeight = b1.Height

	return path, nil
}

// Tree returns the block tree.
func (sr *SafetyRules) Tree() *BlockTree {
	return sr.tree
}

// VotingState returns the inputs of Decide.
func (sr *SafetyRules) VotingState() VotingState {
	return VotingState{
		LockedQC:       sr.lockedQC,
		LastVotedView:  sr.lastVotedView,
		LastVotedBlock: sr.lastVotedBlock,
	}
}

// LockedQC returns the current locked quorum certificate.
func (sr *SafetyRules) LockedQC() *types.QuorumCertificate {
	return sr.lockedQC
}

// HighQC returns the highest quorum certificate seen.
func (sr *SafetyRules) HighQC() *types.QuorumCertificate {
	return sr.highQC
}

// LastVotedView returns the last view in which this node voted.
func (sr *SafetyRules) LastVotedView() types.ViewNumber {
	return sr.lastVotedView
}

// LastVote returns the most recent vote cast since start, or nil.
func (sr *SafetyRules) LastVote() *types.Vote {
	return sr.lastVote
}

// CommittedHeight returns the highest committed height.
func (sr *SafetyRules) CommittedHeight() types.Height {
	return sr.committedHeight
}

// SafetyData snapshots the state that must be durable before voting.
func (sr *SafetyRules) SafetyData(currentView types.ViewNumber) *types.SafetyData {
	return &types.SafetyData{
		LockedQC:        sr.lockedQC,
		HighQC:          sr.highQC,
		LastVotedView:   sr.lastVotedView,
		CommittedHeight: sr.committedHeight,
		CurrentView:     currentView,
	}
}

// String returns a string representation of the safety rules state for debugging.
func (sr *SafetyRules) String() string {
	return fmt.Sprintf("SafetyRules{LockedQC: %s, HighQC: %s, LastVoted: %d, Committed: %d}",
		sr.lockedQC, sr.highQC, sr.lastVotedView, sr.committedHeight)
}
