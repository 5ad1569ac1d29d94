package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/codec"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/events"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/messages"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/mocks"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/network"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/pacemaker"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/types"
)

// harness drives one state machine by hand: recovered but not running, so
// every handler call is synchronous and outbound messages stay in the outbox.
type harness struct {
	t      *testing.T
	keys   *mocks.Keyring
	store  *mocks.MockStorage
	tracer *mocks.ConsensusEventTracer
	sm     *StateMachine
}

func newHarness(t *testing.T, self types.NodeID) *harness {
	t.Helper()
	keys, err := mocks.NewKeyring(4)
	require.NoError(t, err)

	nets := mocks.NewMockMesh(4, mocks.DefaultNetworkConfig(), mocks.DefaultNetworkFailureConfig())
	store := mocks.NewMockStorage(mocks.DefaultStorageConfig(), mocks.DefaultStorageFailureConfig())
	tracer := mocks.NewConsensusEventTracer()

	cfg := DefaultConfig(self, keys.Validators)
	cfg.Retry = fastRetry()
	sm, err := NewStateMachine(cfg, keys.Signer(self), store, nets[self], staticPayload{}, zerolog.Nop(), WithEventTracer(tracer))
	require.NoError(t, err)

	require.NoError(t, sm.recover(context.Background()))
	sm.pm.AdvanceTo(sm.startView)

	return &harness{t: t, keys: keys, store: store, tracer: tracer, sm: sm}
}

func (h *harness) handle(msg messages.ConsensusMessage) {
	h.t.Helper()
	h.handleFrom(msg.Sender(), msg)
}

// handleFrom delivers msg as if the transport authenticated sender.
func (h *harness) handleFrom(sender types.NodeID, msg messages.ConsensusMessage) {
	h.t.Helper()
	require.NoError(h.t, h.receive(sender, msg))
}

func (h *harness) receive(sender types.NodeID, msg messages.ConsensusMessage) error {
	return h.sm.handleMessage(context.Background(), network.ReceivedMessage{
		Message:    msg,
		Sender:     sender,
		ReceivedAt: time.Now(),
	})
}

// drain processes the messages the state machine queued for itself.
func (h *harness) drain() {
	h.t.Helper()
	for {
		rm, ok := h.sm.queue.Pop()
		if !ok {
			return
		}
		require.NoError(h.t, h.sm.handleMessage(context.Background(), rm))
	}
}

// outbound returns the messages waiting in the outbox.
func (h *harness) outbound() []outbound {
	var out []outbound
	for {
		select {
		case o := <-h.sm.outbox.ch:
			out = append(out, o)
		default:
			return out
		}
	}
}

func (h *harness) block(parent *types.Block, justify *types.QuorumCertificate, view types.ViewNumber, payload string) *types.Block {
	signer := h.keys.Signer(0)
	b := &types.Block{
		Height:      parent.Height + 1,
		View:        view,
		ParentHash:  parent.Hash,
		PayloadHash: signer.Hash([]byte(payload)),
		Proposer:    h.keys.Validators.LeaderFor(view),
		Justify:     justify,
		Payload:     []byte(payload),
	}
	b.Hash = codec.BlockHash(signer, b)
	return b
}

func (h *harness) vote(b *types.Block, voter types.NodeID) *types.Vote {
	sig, err := h.keys.Signer(voter).Sign(codec.VoteSigningBytes(b.Hash, b.View))
	require.NoError(h.t, err)
	return &types.Vote{BlockHash: b.Hash, View: b.View, Voter: voter, Signature: sig}
}

// qc certifies b with the votes of voters.
func (h *harness) qc(b *types.Block, voters ...types.NodeID) *types.QuorumCertificate {
	votes := make([]*types.Vote, len(voters))
	for i, v := range voters {
		votes[i] = h.vote(b, v)
	}
	qc, err := types.NewQuorumCertificate(b.Hash, b.View, b.Height, votes)
	require.NoError(h.t, err)
	return qc
}

// requests returns the block requests among out.
func requests(out []outbound) []outbound {
	var reqs []outbound
	for _, o := range out {
		if _, ok := o.msg.(*messages.BlockRequestMsg); ok {
			reqs = append(reqs, o)
		}
	}
	return reqs
}

func (h *harness) newView(sender types.NodeID, view types.ViewNumber, highQC *types.QuorumCertificate, last *types.Vote) *messages.NewViewMsg {
	sig, err := h.keys.Signer(sender).Sign(codec.NewViewSigningBytes(view, highQC))
	require.NoError(h.t, err)
	msg := messages.NewNewViewMsg(view, highQC, sender, sig)
	msg.LastVote = last
	return msg
}

func (h *harness) count(eventType events.EventType) int {
	return h.tracer.CountByNodeAndType(uint16(h.sm.self), eventType)
}

func TestHandlers_VotesOnValidProposal(t *testing.T) {
	h := newHarness(t, 0)
	b1 := h.block(h.sm.genesis, h.sm.genesis.Justify, 1, "a")

	h.handle(messages.NewProposalMsg(b1, 1))

	assert.Equal(t, types.ViewNumber(1), h.sm.safety.LastVotedView())
	sd, err := h.store.GetSafetyData()
	require.NoError(t, err)
	assert.Equal(t, types.ViewNumber(1), sd.LastVotedView)

	pending, err := h.store.PendingBlocks()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, b1.Hash, pending[0].Hash)

	out := h.outbound()
	require.Len(t, out, 1)
	assert.Equal(t, types.NodeID(2), out[0].target, "votes go to the next leader")
	vote, ok := out[0].msg.(*messages.VoteMsg)
	require.True(t, ok)
	assert.Equal(t, b1.Hash, vote.Vote.BlockHash)
	assert.Equal(t, 1, h.count(events.EventProposalAccepted))
}

func TestHandlers_RejectsBadProposals(t *testing.T) {
	h := newHarness(t, 0)
	genesis := h.sm.genesis

	wrongLeader := h.block(genesis, genesis.Justify, 1, "a")
	wrongLeader.Proposer = 3
	wrongLeader.Hash = codec.BlockHash(h.keys.Signer(0), wrongLeader)

	badHash := h.block(genesis, genesis.Justify, 1, "b")
	badHash.Hash[0] ^= 0xFF

	badPayload := h.block(genesis, genesis.Justify, 1, "c")
	badPayload.Payload = []byte("tampered")

	orphanParent := h.block(genesis, genesis.Justify, 1, "d")
	orphan := h.block(orphanParent, h.qc(orphanParent, 0, 1, 2), 2, "e")

	for _, b := range []*types.Block{wrongLeader, badHash, badPayload, orphan} {
		h.handle(messages.NewProposalMsg(b, b.Proposer))
	}

	assert.Zero(t, h.sm.safety.LastVotedView())
	assert.Equal(t, 3, h.count(events.EventProposalRejected))

	// the orphan is parked while its parent is fetched from the proposer
	out := h.outbound()
	require.Len(t, out, 1)
	req, ok := out[0].msg.(*messages.BlockRequestMsg)
	require.True(t, ok)
	assert.Equal(t, types.NodeID(2), out[0].target)
	assert.Equal(t, orphanParent.Hash, req.Hash)
}

func TestHandlers_RejectsRelayedProposal(t *testing.T) {
	h := newHarness(t, 0)
	genesis := h.sm.genesis

	// node 3 passes off its own block as the proposal of the view 1 leader
	forged := h.block(genesis, genesis.Justify, 1, "forged")
	require.Equal(t, types.NodeID(1), forged.Proposer)
	h.handleFrom(3, messages.NewProposalMsg(forged, 1))

	assert.Zero(t, h.sm.safety.LastVotedView())
	assert.Empty(t, h.outbound())
	assert.Equal(t, 1, h.count(events.EventProposalRejected))
	assert.False(t, h.sm.safety.Tree().Contains(forged.Hash))

	genuine := h.block(genesis, genesis.Justify, 1, "a")
	h.handleFrom(1, messages.NewProposalMsg(genuine, 1))

	assert.Equal(t, types.ViewNumber(1), h.sm.safety.LastVotedView())
	out := h.outbound()
	require.Len(t, out, 1)
	vote, ok := out[0].msg.(*messages.VoteMsg)
	require.True(t, ok)
	assert.Equal(t, genuine.Hash, vote.Vote.BlockHash)
}

func TestHandlers_FetchesMissingAncestry(t *testing.T) {
	h := newHarness(t, 0)
	genesis := h.sm.genesis
	b1 := h.block(genesis, genesis.Justify, 1, "a")
	b2 := h.block(b1, h.qc(b1, 1, 2, 3), 2, "b")
	b3 := h.block(b2, h.qc(b2, 1, 2, 3), 3, "c")

	// node 0 missed views 1 and 2
	h.handleFrom(3, messages.NewProposalMsg(b3, 3))
	assert.Zero(t, h.sm.safety.LastVotedView())
	assert.Zero(t, h.count(events.EventProposalRejected))

	reqs := requests(h.outbound())
	require.Len(t, reqs, 1)
	assert.Equal(t, types.NodeID(3), reqs[0].target)
	req := reqs[0].msg.(*messages.BlockRequestMsg)
	assert.Equal(t, b2.Hash, req.Hash)
	assert.Equal(t, types.NodeID(0), req.Requester)
	assert.Zero(t, req.KnownHeight)

	// a repeat of the proposal does not request again
	h.handleFrom(3, messages.NewProposalMsg(b3, 3))
	assert.Empty(t, requests(h.outbound()))

	// unsolicited
	h.handleFrom(3, messages.NewBlockResponseMsg(b1.Hash, []*types.Block{b1}, 3))
	// responder does not match the authenticated sender
	h.handleFrom(2, messages.NewBlockResponseMsg(b2.Hash, []*types.Block{b1, b2}, 3))
	// payload no longer matches its hash
	tampered := *b1
	tampered.Payload = []byte("tampered")
	h.handleFrom(3, messages.NewBlockResponseMsg(b2.Hash, []*types.Block{&tampered, b2}, 3))

	assert.Equal(t, 3, h.count(events.EventSyncRejected))
	assert.False(t, h.sm.safety.Tree().Contains(b1.Hash))
	assert.Zero(t, h.sm.safety.LastVotedView())

	h.handleFrom(3, messages.NewBlockResponseMsg(b2.Hash, []*types.Block{b1, b2}, 3))

	assert.Equal(t, 1, h.count(events.EventBlocksSynced))
	for _, b := range []*types.Block{b1, b2, b3} {
		assert.True(t, h.sm.safety.Tree().Contains(b.Hash))
	}
	assert.Equal(t, b2.Hash, h.sm.safety.HighQC().BlockHash)
	assert.Equal(t, b1.Hash, h.sm.safety.LockedQC().BlockHash)
	assert.Equal(t, types.ViewNumber(3), h.sm.safety.LastVotedView(), "the parked proposal is voted once its ancestry is known")

	// node 0 leads view 4, so its own vote loops back through the queue
	rm, ok := h.sm.queue.Pop()
	require.True(t, ok)
	vote, ok := rm.Message.(*messages.VoteMsg)
	require.True(t, ok)
	assert.Equal(t, b3.Hash, vote.Vote.BlockHash)

	// the same segment again is unsolicited
	h.handleFrom(3, messages.NewBlockResponseMsg(b2.Hash, []*types.Block{b1, b2}, 3))
	assert.Equal(t, 4, h.count(events.EventSyncRejected))
	h.outbound()

	// node 0 now serves the blocks it fetched
	h.handleFrom(2, messages.NewBlockRequestMsg(b3.Hash, 1, 2))
	out := h.outbound()
	require.Len(t, out, 1)
	assert.Equal(t, types.NodeID(2), out[0].target)
	resp, ok := out[0].msg.(*messages.BlockResponseMsg)
	require.True(t, ok)
	require.Len(t, resp.Blocks, 2, "blocks at or below the known height are left out")
	assert.Equal(t, b2.Hash, resp.Blocks[0].Hash)
	assert.Equal(t, b3.Hash, resp.Blocks[1].Hash)

	// a request may only be answered to the node that sent it
	h.handleFrom(2, messages.NewBlockRequestMsg(b3.Hash, 0, 1))
	assert.Empty(t, h.outbound())
	assert.Equal(t, 5, h.count(events.EventSyncRejected))
}

func TestHandlers_HaltsOnConflictingFinality(t *testing.T) {
	h := newHarness(t, 0)
	genesis := h.sm.genesis

	a1 := h.block(genesis, genesis.Justify, 1, "a1")
	a2 := h.block(a1, h.qc(a1, 0, 1, 2), 2, "a2")
	a3 := h.block(a2, h.qc(a2, 0, 1, 2), 3, "a3")
	a4 := h.block(a3, h.qc(a3, 0, 1, 2), 5, "a4")
	for _, b := range []*types.Block{a1, a2, a3, a4} {
		h.handleFrom(b.Proposer, messages.NewProposalMsg(b, b.Proposer))
	}
	require.Equal(t, types.Height(1), h.sm.safety.CommittedHeight())
	committed, err := h.store.GetBlockByHeight(1)
	require.NoError(t, err)
	require.Equal(t, a1.Hash, committed.Hash)
	h.outbound()

	// a quorum that signs a second chain from genesis finalizes f1 at height 1
	f1 := h.block(genesis, genesis.Justify, 6, "f1")
	f2 := h.block(f1, h.qc(f1, 1, 2, 3), 7, "f2")
	f3 := h.block(f2, h.qc(f2, 1, 2, 3), 8, "f3")
	f4 := h.block(f3, h.qc(f3, 1, 2, 3), 9, "f4")
	require.Equal(t, types.NodeID(1), f4.Proposer)

	h.handleFrom(1, messages.NewProposalMsg(f4, 1))
	reqs := requests(h.outbound())
	require.Len(t, reqs, 1)
	assert.Equal(t, f3.Hash, reqs[0].msg.(*messages.BlockRequestMsg).Hash)

	err = h.receive(1, messages.NewBlockResponseMsg(f3.Hash, []*types.Block{f1, f2, f3}, 1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSafetyViolation))
	assert.False(t, h.sm.safety.Tree().Contains(f1.Hash))

	require.ErrorIs(t, h.sm.fail(context.Background(), err), ErrSafetyViolation)
	assert.True(t, h.sm.Halted())
	assert.Equal(t, 1, h.count(events.EventSafetyViolation))

	// a halted node ignores everything
	h.handleFrom(2, messages.NewBlockRequestMsg(a1.Hash, 0, 2))
	assert.Empty(t, h.outbound())
}

func TestHandlers_RefusesSecondProposalInView(t *testing.T) {
	h := newHarness(t, 0)
	genesis := h.sm.genesis

	h.handle(messages.NewProposalMsg(h.block(genesis, genesis.Justify, 1, "a"), 1))
	h.handle(messages.NewProposalMsg(h.block(genesis, genesis.Justify, 1, "b"), 1))

	out := h.outbound()
	require.Len(t, out, 1, "one vote per view")
}

func TestHandlers_VoteRouting(t *testing.T) {
	h := newHarness(t, 1)
	b1 := h.block(h.sm.genesis, h.sm.genesis.Justify, 1, "a")

	// votes of view 1 belong to the leader of view 2
	h.handle(messages.NewVoteMsg(h.vote(b1, 0)))

	assert.Equal(t, 1, h.count(events.EventVoteRejected))
	assert.Zero(t, h.count(events.EventVoteReceived))
}

func TestHandlers_FormsQCAndAdvances(t *testing.T) {
	h := newHarness(t, 2)
	b1 := h.block(h.sm.genesis, h.sm.genesis.Justify, 1, "a")

	h.handle(messages.NewProposalMsg(b1, 1))
	h.drain() // own vote
	h.handle(messages.NewVoteMsg(h.vote(b1, 0)))
	assert.Equal(t, types.ViewNumber(1), h.sm.pm.CurrentView())

	h.handle(messages.NewVoteMsg(h.vote(b1, 3)))

	assert.Equal(t, 1, h.count(events.EventQCFormed))
	assert.Equal(t, types.ViewNumber(1), h.sm.safety.HighQC().View)
	assert.Equal(t, types.ViewNumber(2), h.sm.pm.CurrentView())

	// node 2 leads view 2 and proposes at once on top of the new QC
	assert.Equal(t, 1, h.count(events.EventProposalCreated))
	var proposal *messages.ProposalMsg
	for _, o := range h.outbound() {
		if p, ok := o.msg.(*messages.ProposalMsg); ok {
			require.True(t, o.broadcast)
			proposal = p
		}
	}
	require.NotNil(t, proposal)
	assert.Equal(t, b1.Hash, proposal.Block.ParentHash)
	assert.Equal(t, types.ViewNumber(2), proposal.Block.View)
}

func TestHandlers_DetectsEquivocation(t *testing.T) {
	h := newHarness(t, 2)
	genesis := h.sm.genesis
	a := h.block(genesis, genesis.Justify, 1, "a")
	b := h.block(genesis, genesis.Justify, 1, "b")

	h.handle(messages.NewVoteMsg(h.vote(a, 0)))
	h.handle(messages.NewVoteMsg(h.vote(b, 0)))
	h.handle(messages.NewVoteMsg(h.vote(a, 0)))

	assert.Equal(t, 1, h.count(events.EventEquivocationFound))
	assert.Equal(t, 1, h.count(events.EventVoteReceived))
	assert.False(t, h.sm.Halted())
}

func TestHandlers_NewViewSyncAndPropose(t *testing.T) {
	h := newHarness(t, 3)
	genesisQC := h.sm.genesis.Justify

	h.handle(h.newView(0, 7, genesisQC, nil))
	assert.Equal(t, types.ViewNumber(1), h.sm.pm.CurrentView(), "one announcement is not enough to jump")

	h.handle(h.newView(1, 7, genesisQC, nil))
	assert.Equal(t, types.ViewNumber(7), h.sm.pm.CurrentView(), "f+1 announcements move the view")
	assert.Equal(t, 1, h.count(events.EventViewSynchronized))
	assert.Zero(t, h.count(events.EventProposalCreated))

	h.handle(h.newView(2, 7, genesisQC, nil))
	require.Equal(t, 1, h.count(events.EventProposalCreated), "2f+1 announcements let the leader propose")

	var proposal *messages.ProposalMsg
	for _, o := range h.outbound() {
		if p, ok := o.msg.(*messages.ProposalMsg); ok {
			proposal = p
		}
	}
	require.NotNil(t, proposal)
	assert.Equal(t, types.ViewNumber(7), proposal.Block.View)
	assert.Equal(t, types.Height(1), proposal.Block.Height)
	assert.True(t, proposal.Block.Justify.IsGenesis())

	// the leader's own NewView for view 7 changes nothing
	h.drain()
	assert.Equal(t, 1, h.count(events.EventProposalCreated))
}

func TestHandlers_NewViewCarriesLastVote(t *testing.T) {
	h := newHarness(t, 2)
	b1 := h.block(h.sm.genesis, h.sm.genesis.Justify, 1, "a")
	h.handle(messages.NewProposalMsg(b1, 1))

	// votes of view 1 reached node 2 only through NewView messages
	h.handle(h.newView(0, 3, h.sm.genesis.Justify, h.vote(b1, 0)))
	h.handle(h.newView(3, 3, h.sm.genesis.Justify, h.vote(b1, 3)))
	assert.Zero(t, h.count(events.EventQCFormed))

	h.drain()

	assert.Equal(t, 1, h.count(events.EventQCFormed))
	assert.Equal(t, b1.Hash, h.sm.safety.HighQC().BlockHash)
}

func TestHandlers_RejectsForgedNewView(t *testing.T) {
	h := newHarness(t, 1)
	msg := h.newView(0, 5, h.sm.genesis.Justify, nil)
	msg.SenderID = 3

	h.handle(msg)

	assert.Equal(t, 1, h.count(events.EventNewViewRejected))
	assert.Equal(t, types.ViewNumber(1), h.sm.pm.CurrentView())
}

func TestHandlers_TimeoutSendsNewView(t *testing.T) {
	h := newHarness(t, 0)
	b1 := h.block(h.sm.genesis, h.sm.genesis.Justify, 1, "a")
	h.handle(messages.NewProposalMsg(b1, 1))
	h.outbound()

	view := h.sm.pm.CurrentView()
	require.NoError(t, h.sm.onTimeout(context.Background(), timeoutEvent(view)))

	assert.Equal(t, view+1, h.sm.pm.CurrentView())
	out := h.outbound()
	require.Len(t, out, 1)
	nv, ok := out[0].msg.(*messages.NewViewMsg)
	require.True(t, ok)
	assert.True(t, out[0].broadcast, "every replica counts NewView messages")
	assert.Equal(t, view+1, nv.ViewNumber)

	// and the node counts its own
	rm, ok := h.sm.queue.Pop()
	require.True(t, ok)
	assert.Same(t, nv, rm.Message)
	require.NotNil(t, nv.LastVote)
	assert.Equal(t, b1.Hash, nv.LastVote.BlockHash)

	sd, err := h.store.GetSafetyData()
	require.NoError(t, err)
	assert.Equal(t, view+1, sd.CurrentView)

	// a stale timer is ignored
	require.NoError(t, h.sm.onTimeout(context.Background(), timeoutEvent(view)))
	assert.Equal(t, view+1, h.sm.pm.CurrentView())
}

func timeoutEvent(view types.ViewNumber) pacemaker.TimeoutEvent {
	return pacemaker.TimeoutEvent{View: view, Duration: 100 * time.Millisecond}
}
