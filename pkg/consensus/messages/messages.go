// Package messages defines the messages validators exchange in the HotStuff consensus core.
package messages

import (
	"fmt"

	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/types"
)

// MessageType identifies a consensus message on the wire. The values are part of
// the canonical encoding and must never be renumbered.
type MessageType uint8

const (
	// MsgTypeProposal carries a leader's block and its justification
	MsgTypeProposal MessageType = 1
	// MsgTypeVote carries a single validator vote to the next leader
	MsgTypeVote MessageType = 2
	// MsgTypeNewView carries a validator's highest QC after a timeout
	MsgTypeNewView MessageType = 3
	// MsgTypeBlockRequest asks a peer for a block and its missing ancestors
	MsgTypeBlockRequest MessageType = 4
	// MsgTypeBlockResponse answers a block request with a chain segment
	MsgTypeBlockResponse MessageType = 5
)

// MaxSyncBlocks bounds the chain segment carried by one block response.
const MaxSyncBlocks = 64

// String returns a human-readable representation of the message type.
func (mt MessageType) String() string {
	switch mt {
	case MsgTypeProposal:
		return "Proposal"
	case MsgTypeVote:
		return "Vote"
	case MsgTypeNewView:
		return "NewView"
	case MsgTypeBlockRequest:
		return "BlockRequest"
	case MsgTypeBlockResponse:
		return "BlockResponse"
	default:
		return "Unknown"
	}
}

// IsValid returns true for the message types defined above.
func (mt MessageType) IsValid() bool {
	return mt >= MsgTypeProposal && mt <= MsgTypeBlockResponse
}

// ConsensusMessage defines the common interface for all consensus messages.
type ConsensusMessage interface {
	// Type returns the message type
	Type() MessageType
	// View returns the consensus view number for this message
	View() types.ViewNumber
	// Sender returns the validator that produced this message
	Sender() types.NodeID
	// Validate performs structural validation; signatures are checked by the engine
	Validate(validators *types.ValidatorSet) error
}

// ProposalMsg is broadcast by the leader of a view. The justification QC travels
// inside the block.
type ProposalMsg struct {
	Block    *types.Block
	Proposer types.NodeID
}

// NewProposalMsg creates a new block proposal message.
func NewProposalMsg(block *types.Block, proposer types.NodeID) *ProposalMsg {
	return &ProposalMsg{
		Block:    block,
		Proposer: proposer,
	}
}

// Type returns the message type.
func (pm *ProposalMsg) Type() MessageType {
	return MsgTypeProposal
}

// View returns the view of the proposed block.
func (pm *ProposalMsg) View() types.ViewNumber {
	if pm.Block == nil {
		return 0
	}
	return pm.Block.View
}

// Sender returns the node that sent this message.
func (pm *ProposalMsg) Sender() types.NodeID {
	return pm.Proposer
}

// JustifyQC returns the QC the proposal extends.
func (pm *ProposalMsg) JustifyQC() *types.QuorumCertificate {
	if pm.Block == nil {
		return nil
	}
	return pm.Block.Justify
}

// Validate performs basic validation on the proposal message.
func (pm *ProposalMsg) Validate(validators *types.ValidatorSet) error {
	if pm.Block == nil {
		return fmt.Errorf("proposal block cannot be nil")
	}

	if pm.Block.IsGenesis() {
		return fmt.Errorf("genesis block cannot be proposed")
	}

	if err := pm.Block.Validate(validators); err != nil {
		return fmt.Errorf("invalid proposal block: %w", err)
	}

	if pm.Block.Proposer != pm.Proposer {
		return fmt.Errorf("block proposer %d does not match message proposer %d", pm.Block.Proposer, pm.Proposer)
	}

	if err := pm.Block.Justify.Validate(validators); err != nil {
		return fmt.Errorf("invalid justify QC: %w", err)
	}

	return nil
}

// VoteMsg carries a vote to the leader of the next view.
type VoteMsg struct {
	Vote *types.Vote
}

// NewVoteMsg creates a new vote message.
func NewVoteMsg(vote *types.Vote) *VoteMsg {
	return &VoteMsg{Vote: vote}
}

// Type returns the message type.
func (vm *VoteMsg) Type() MessageType {
	return MsgTypeVote
}

// View returns the consensus view number.
func (vm *VoteMsg) View() types.ViewNumber {
	if vm.Vote == nil {
		return 0
	}
	return vm.Vote.View
}

// Sender returns the voter.
func (vm *VoteMsg) Sender() types.NodeID {
	if vm.Vote == nil {
		return 0
	}
	return vm.Vote.Voter
}

// Validate performs basic validation on the vote message.
func (vm *VoteMsg) Validate(validators *types.ValidatorSet) error {
	if vm.Vote == nil {
		return fmt.Errorf("vote cannot be nil")
	}

	if err := vm.Vote.Validate(validators); err != nil {
		return fmt.Errorf("invalid vote: %w", err)
	}

	return nil
}

// NewViewMsg is sent to the leader of ViewNumber after the sender's previous
// view timed out. It carries the sender's highest QC so the leader can extend
// the most recent certified block, and the sender's last vote so a QC whose
// collector was offline can still be assembled by the new leader.
type NewViewMsg struct {
	// ViewNumber is the view the sender has moved to
	ViewNumber types.ViewNumber
	// HighQC is the highest QC known to the sender
	HighQC *types.QuorumCertificate
	// SenderID is the validator sending this NewView
	SenderID types.NodeID
	// Signature covers the canonical NewView signing bytes
	Signature []byte
	// LastVote is the sender's most recent vote, if any. It is signed on its own.
	LastVote *types.Vote
}

// NewNewViewMsg creates a new view message.
func NewNewViewMsg(view types.ViewNumber, highQC *types.QuorumCertificate, sender types.NodeID, signature []byte) *NewViewMsg {
	return &NewViewMsg{
		ViewNumber: view,
		HighQC:     highQC,
		SenderID:   sender,
		Signature:  signature,
	}
}

// Type returns the message type.
func (nvm *NewViewMsg) Type() MessageType {
	return MsgTypeNewView
}

// View returns the view the sender moved to.
func (nvm *NewViewMsg) View() types.ViewNumber {
	return nvm.ViewNumber
}

// Sender returns the node that sent this message.
func (nvm *NewViewMsg) Sender() types.NodeID {
	return nvm.SenderID
}

// Validate performs basic validation on the new view message.
func (nvm *NewViewMsg) Validate(validators *types.ValidatorSet) error {
	if validators != nil && !validators.IsMember(nvm.SenderID) {
		return fmt.Errorf("invalid sender node ID: %d", nvm.SenderID)
	}

	if nvm.HighQC == nil {
		return fmt.Errorf("NewView must carry a high QC")
	}

	if err := nvm.HighQC.Validate(validators); err != nil {
		return fmt.Errorf("invalid high QC: %w", err)
	}

	if nvm.HighQC.View >= nvm.ViewNumber {
		return fmt.Errorf("high QC view %d is not below NewView view %d", nvm.HighQC.View, nvm.ViewNumber)
	}

	if len(nvm.Signature) == 0 {
		return fmt.Errorf("NewView message signature cannot be empty")
	}

	if nvm.LastVote != nil {
		if err := nvm.LastVote.Validate(validators); err != nil {
			return fmt.Errorf("invalid last vote: %w", err)
		}
		if nvm.LastVote.Voter != nvm.SenderID {
			return fmt.Errorf("last vote cast by %d, NewView sent by %d", nvm.LastVote.Voter, nvm.SenderID)
		}
		if nvm.LastVote.View >= nvm.ViewNumber {
			return fmt.Errorf("last vote view %d is not below NewView view %d", nvm.LastVote.View, nvm.ViewNumber)
		}
	}

	return nil
}

// BlockRequestMsg asks a peer for the block Hash. The responder also returns
// ancestors above KnownHeight, the requester's committed height.
type BlockRequestMsg struct {
	Hash        types.BlockHash
	KnownHeight types.Height
	Requester   types.NodeID
}

// NewBlockRequestMsg creates a block request.
func NewBlockRequestMsg(hash types.BlockHash, known types.Height, requester types.NodeID) *BlockRequestMsg {
	return &BlockRequestMsg{Hash: hash, KnownHeight: known, Requester: requester}
}

// Type returns the message type.
func (m *BlockRequestMsg) Type() MessageType {
	return MsgTypeBlockRequest
}

// View is zero: sync traffic is not bound to a view.
func (m *BlockRequestMsg) View() types.ViewNumber {
	return 0
}

// Sender returns the requesting validator.
func (m *BlockRequestMsg) Sender() types.NodeID {
	return m.Requester
}

// Validate checks the request is well formed.
func (m *BlockRequestMsg) Validate(validators *types.ValidatorSet) error {
	if validators != nil && !validators.IsMember(m.Requester) {
		return fmt.Errorf("invalid requester node ID: %d", m.Requester)
	}
	if m.Hash.IsZero() {
		return fmt.Errorf("requested block hash cannot be empty")
	}
	return nil
}

// BlockResponseMsg carries the block Hash preceded by its ancestors, in
// ascending height. Blocks are unverified until the receiver checks them.
type BlockResponseMsg struct {
	Hash      types.BlockHash
	Blocks    []*types.Block
	Responder types.NodeID
}

// NewBlockResponseMsg creates a block response.
func NewBlockResponseMsg(hash types.BlockHash, blocks []*types.Block, responder types.NodeID) *BlockResponseMsg {
	return &BlockResponseMsg{Hash: hash, Blocks: blocks, Responder: responder}
}

// Type returns the message type.
func (m *BlockResponseMsg) Type() MessageType {
	return MsgTypeBlockResponse
}

// View returns the view of the requested block.
func (m *BlockResponseMsg) View() types.ViewNumber {
	if len(m.Blocks) == 0 || m.Blocks[len(m.Blocks)-1] == nil {
		return 0
	}
	return m.Blocks[len(m.Blocks)-1].View
}

// Sender returns the responding validator.
func (m *BlockResponseMsg) Sender() types.NodeID {
	return m.Responder
}

// Validate checks that the blocks form one contiguous segment ending at Hash.
func (m *BlockResponseMsg) Validate(validators *types.ValidatorSet) error {
	if validators != nil && !validators.IsMember(m.Responder) {
		return fmt.Errorf("invalid responder node ID: %d", m.Responder)
	}
	if len(m.Blocks) == 0 || len(m.Blocks) > MaxSyncBlocks {
		return fmt.Errorf("response carries %d blocks, want 1 to %d", len(m.Blocks), MaxSyncBlocks)
	}

	var prev *types.Block
	for i, b := range m.Blocks {
		if b == nil {
			return fmt.Errorf("block %d is nil", i)
		}
		if b.IsGenesis() {
			return fmt.Errorf("genesis block cannot be synced")
		}
		if err := b.Validate(validators); err != nil {
			return fmt.Errorf("invalid block %d: %w", i, err)
		}
		if err := b.Justify.Validate(validators); err != nil {
			return fmt.Errorf("invalid justify QC of block %d: %w", i, err)
		}
		if prev != nil && (b.ParentHash != prev.Hash || b.Height != prev.Height+1) {
			return fmt.Errorf("block %d does not extend block %d", i, i-1)
		}
		prev = b
	}

	if prev.Hash != m.Hash {
		return fmt.Errorf("response ends at %s, requested %s", prev.Hash, m.Hash)
	}
	return nil
}
