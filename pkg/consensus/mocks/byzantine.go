package mocks

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/atomic"

	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/codec"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/crypto"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/events"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/messages"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/types"
)

// ByzantineBehavior names a misbehaviour a ByzantineNode can be told to
// perform.
type ByzantineBehavior string

const (
	// ConflictingProposalMode sends a different block to each half of the
	// validators whenever the node leads a view
	ConflictingProposalMode ByzantineBehavior = "conflicting_proposal"
	// DoubleVoteMode votes for every proposal and for a sibling block in the
	// same view
	DoubleVoteMode ByzantineBehavior = "double_vote"
)

// EventByzantineBehavior is recorded each time a misbehaviour is carried out.
const EventByzantineBehavior events.EventType = "byzantine_behavior_occurred"

// ByzantineNode is a validator that holds real keys but does not run the
// consensus rules. It follows the protocol just far enough to lead views and
// vote, and misbehaves in the ways enabled on it.
type ByzantineNode struct {
	nodeID     types.NodeID
	validators *types.ValidatorSet
	signer     crypto.CryptoInterface
	net        *MockNetwork
	tracer     events.EventTracer

	mu        sync.Mutex
	behaviors map[ByzantineBehavior]bool

	// owned by Run
	blocks   map[types.BlockHash]*types.Block
	highQC   *types.QuorumCertificate
	votes    map[types.ViewNumber]map[types.BlockHash][]*types.Vote
	newViews map[types.ViewNumber]map[types.NodeID]bool
	led      map[types.ViewNumber]bool

	conflictingProposals *atomic.Int64
	doubleVotes          *atomic.Int64
}

// ByzantineStats counts the misbehaviours carried out so far.
type ByzantineStats struct {
	ConflictingProposals int64
	DoubleVotes          int64
}

// NewByzantineNode creates a misbehaving validator on net. genesis must be the
// genesis block the honest validators use.
func NewByzantineNode(
	nodeID types.NodeID,
	validators *types.ValidatorSet,
	signer crypto.CryptoInterface,
	genesis *types.Block,
	net *MockNetwork,
	tracer events.EventTracer,
) *ByzantineNode {
	if tracer == nil {
		tracer = &events.NoOpEventTracer{}
	}
	return &ByzantineNode{
		nodeID:               nodeID,
		validators:           validators,
		signer:               signer,
		net:                  net,
		tracer:               tracer,
		behaviors:            make(map[ByzantineBehavior]bool),
		blocks:               map[types.BlockHash]*types.Block{genesis.Hash: genesis},
		highQC:               genesis.Justify,
		votes:                make(map[types.ViewNumber]map[types.BlockHash][]*types.Vote),
		newViews:             make(map[types.ViewNumber]map[types.NodeID]bool),
		led:                  make(map[types.ViewNumber]bool),
		conflictingProposals: atomic.NewInt64(0),
		doubleVotes:          atomic.NewInt64(0),
	}
}

// EnableByzantineBehavior turns a misbehaviour on.
func (bn *ByzantineNode) EnableByzantineBehavior(behavior ByzantineBehavior) {
	bn.mu.Lock()
	bn.behaviors[behavior] = true
	bn.mu.Unlock()

	bn.tracer.RecordEvent(uint16(bn.nodeID), "byzantine_behavior_enabled", events.EventPayload{
		"behavior_type": string(behavior),
	})
}

// DisableByzantineBehavior turns a misbehaviour off.
func (bn *ByzantineNode) DisableByzantineBehavior(behavior ByzantineBehavior) {
	bn.mu.Lock()
	defer bn.mu.Unlock()
	delete(bn.behaviors, behavior)
}

func (bn *ByzantineNode) enabled(behavior ByzantineBehavior) bool {
	bn.mu.Lock()
	defer bn.mu.Unlock()
	return bn.behaviors[behavior]
}

// Stats returns the misbehaviour counters.
func (bn *ByzantineNode) Stats() ByzantineStats {
	return ByzantineStats{
		ConflictingProposals: bn.conflictingProposals.Load(),
		DoubleVotes:          bn.doubleVotes.Load(),
	}
}

// Run processes inbound messages until ctx ends.
func (bn *ByzantineNode) Run(ctx context.Context) {
	inbound := bn.net.Receive()
	for {
		select {
		case <-ctx.Done():
			return
		case rm, ok := <-inbound:
			if !ok {
				return
			}
			bn.handle(ctx, rm.Message)
		}
	}
}

func (bn *ByzantineNode) handle(ctx context.Context, msg messages.ConsensusMessage) {
	switch m := msg.(type) {
	case *messages.ProposalMsg:
		if m.Block == nil || m.Block.Justify == nil {
			return
		}
		bn.blocks[m.Block.Hash] = m.Block
		bn.observe(m.Block.Justify)
		bn.vote(ctx, m.Block)

	case *messages.VoteMsg:
		if m.Vote == nil || bn.validators.LeaderFor(m.Vote.View+1) != bn.nodeID {
			return
		}
		if bn.signer.Verify(codec.VoteSigningBytes(m.Vote.BlockHash, m.Vote.View), m.Vote.Signature, m.Vote.Voter) != nil {
			return
		}
		if qc := bn.collect(m.Vote); qc != nil {
			bn.observe(qc)
			bn.lead(ctx, qc.View+1)
		}

	case *messages.NewViewMsg:
		if m.HighQC == nil {
			return
		}
		bn.observe(m.HighQC)
		seen, ok := bn.newViews[m.ViewNumber]
		if !ok {
			seen = make(map[types.NodeID]bool)
			bn.newViews[m.ViewNumber] = seen
		}
		seen[m.SenderID] = true
		if bn.validators.HasQuorum(len(seen)) {
			bn.lead(ctx, m.ViewNumber)
		}
	}
}

func (bn *ByzantineNode) observe(qc *types.QuorumCertificate) {
	if qc.View > bn.highQC.View {
		bn.highQC = qc
	}
}

// collect records a vote and returns a QC the first time its block reaches
// quorum.
func (bn *ByzantineNode) collect(vote *types.Vote) *types.QuorumCertificate {
	byBlock, ok := bn.votes[vote.View]
	if !ok {
		byBlock = make(map[types.BlockHash][]*types.Vote)
		bn.votes[vote.View] = byBlock
	}
	for _, v := range byBlock[vote.BlockHash] {
		if v.Voter == vote.Voter {
			return nil
		}
	}
	byBlock[vote.BlockHash] = append(byBlock[vote.BlockHash], vote)

	block, known := bn.blocks[vote.BlockHash]
	if !known || len(byBlock[vote.BlockHash]) != bn.validators.QuorumThreshold() {
		return nil
	}
	qc, err := types.NewQuorumCertificate(block.Hash, vote.View, block.Height, byBlock[vote.BlockHash])
	if err != nil {
		return nil
	}
	return qc
}

// vote endorses block, and a sibling of it as well in DoubleVoteMode.
func (bn *ByzantineNode) vote(ctx context.Context, block *types.Block) {
	bn.sendVote(ctx, block.Hash, block.View)
	if !bn.enabled(DoubleVoteMode) {
		return
	}
	seed := make([]byte, 0, len(block.Hash)+1)
	seed = append(seed, block.Hash[:]...)
	sibling := bn.signer.Hash(append(seed, byte(bn.nodeID)))
	bn.sendVote(ctx, sibling, block.View)
	bn.doubleVotes.Inc()
	bn.tracer.RecordEvent(uint16(bn.nodeID), EventByzantineBehavior, events.EventPayload{
		"behavior_type": string(DoubleVoteMode),
		"view":          uint64(block.View),
	})
}

func (bn *ByzantineNode) sendVote(ctx context.Context, hash types.BlockHash, view types.ViewNumber) {
	sig, err := bn.signer.Sign(codec.VoteSigningBytes(hash, view))
	if err != nil {
		return
	}
	vote := &types.Vote{BlockHash: hash, View: view, Voter: bn.nodeID, Signature: sig}
	_ = bn.net.Send(ctx, bn.validators.LeaderFor(view+1), messages.NewVoteMsg(vote))
}

// lead proposes in view once, on top of the highest certified block known.
func (bn *ByzantineNode) lead(ctx context.Context, view types.ViewNumber) {
	if bn.validators.LeaderFor(view) != bn.nodeID || bn.led[view] {
		return
	}
	parent, ok := bn.blocks[bn.highQC.BlockHash]
	if !ok || bn.highQC.View >= view {
		return
	}
	bn.led[view] = true

	if !bn.enabled(ConflictingProposalMode) {
		block := bn.build(parent, view, "byzantine")
		if block != nil {
			_ = bn.net.Broadcast(ctx, messages.NewProposalMsg(block, bn.nodeID))
		}
		return
	}

	a := bn.build(parent, view, "byzantine-a")
	b := bn.build(parent, view, "byzantine-b")
	if a == nil || b == nil {
		return
	}
	others := make([]types.NodeID, 0, bn.validators.TotalNodes())
	for _, v := range bn.validators.Validators() {
		if v.ID != bn.nodeID {
			others = append(others, v.ID)
		}
	}
	half := (len(others) + 1) / 2
	for i, id := range others {
		block := a
		if i >= half {
			block = b
		}
		_ = bn.net.Send(ctx, id, messages.NewProposalMsg(block, bn.nodeID))
	}
	if bn.enabled(DoubleVoteMode) {
		bn.sendVote(ctx, a.Hash, view)
		bn.sendVote(ctx, b.Hash, view)
	}

	bn.conflictingProposals.Inc()
	bn.tracer.RecordEvent(uint16(bn.nodeID), EventByzantineBehavior, events.EventPayload{
		"behavior_type": string(ConflictingProposalMode),
		"view":          uint64(view),
		"block_a":       a.Hash.String(),
		"block_b":       b.Hash.String(),
	})
}

func (bn *ByzantineNode) build(parent *types.Block, view types.ViewNumber, tag string) *types.Block {
	payload, err := codec.EncodeBatch([][]byte{[]byte(fmt.Sprintf("%s-%d", tag, view))})
	if err != nil {
		return nil
	}
	block := &types.Block{
		Height:      parent.Height + 1,
		View:        view,
		ParentHash:  parent.Hash,
		PayloadHash: bn.signer.Hash(payload),
		Proposer:    bn.nodeID,
		Justify:     bn.highQC,
		Payload:     payload,
	}
	block.Hash = codec.BlockHash(bn.signer, block)
	bn.blocks[block.Hash] = block
	return block
}
