package integration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/codec"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/engine"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/events"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/messages"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/network"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/pacemaker"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/types"
)

// handleMessage dispatches one inbound message by kind. Invalid input is
// dropped and logged; only fatal conditions are returned.
func (sm *StateMachine) handleMessage(ctx context.Context, rm network.ReceivedMessage) error {
	if sm.halted.Load() || rm.Message == nil {
		return nil
	}

	switch msg := rm.Message.(type) {
	case *messages.ProposalMsg:
		return sm.onProposal(ctx, msg, rm.Sender)
	case *messages.VoteMsg:
		if err := msg.Validate(sm.validators); err != nil {
			sm.reject(msg, err)
			return nil
		}
		if next := sm.validators.LeaderFor(msg.Vote.View + 1); next != sm.self {
			sm.reject(msg, fmt.Errorf("vote for view %d belongs to leader %d", msg.Vote.View, next))
			return nil
		}
		return sm.onVote(ctx, msg.Vote)
	case *messages.NewViewMsg:
		return sm.onNewView(ctx, msg)
	case *messages.BlockRequestMsg:
		sm.onBlockRequest(msg, rm.Sender)
		return nil
	case *messages.BlockResponseMsg:
		return sm.onBlockResponse(ctx, msg, rm.Sender)
	default:
		sm.reject(rm.Message, fmt.Errorf("unsupported message type %T", rm.Message))
		return nil
	}
}

// onProposal is the replica path. The leader runs it on its own proposal too.
// sender is the peer the transport authenticated; only the proposer itself
// may deliver its proposal.
func (sm *StateMachine) onProposal(ctx context.Context, msg *messages.ProposalMsg, sender types.NodeID) error {
	if err := msg.Validate(sm.validators); err != nil {
		sm.reject(msg, err)
		return nil
	}
	if sender != msg.Proposer {
		sm.reject(msg, fmt.Errorf("proposal of %d relayed by %d", msg.Proposer, sender))
		return nil
	}
	block := msg.Block

	sm.tracer.RecordEvent(uint16(sm.self), events.EventProposalReceived, events.EventPayload{
		"view":       uint64(block.View),
		"height":     uint64(block.Height),
		"block_hash": block.Hash.String(),
		"proposer":   uint16(block.Proposer),
	})

	if current := sm.pm.CurrentView(); block.View < current {
		sm.reject(msg, fmt.Errorf("stale proposal for view %d, current view %d", block.View, current))
		return nil
	}
	if leader := sm.validators.LeaderFor(block.View); msg.Proposer != leader {
		sm.reject(msg, fmt.Errorf("proposer %d is not the leader %d of view %d", msg.Proposer, leader, block.View))
		return nil
	}
	if hash := codec.BlockHash(sm.signer, block); hash != block.Hash {
		sm.reject(msg, fmt.Errorf("block hash %s, computed %s", block.Hash, hash))
		return nil
	}
	if hash := sm.signer.Hash(block.Payload); hash != block.PayloadHash {
		sm.reject(msg, fmt.Errorf("payload hash %s, computed %s", block.PayloadHash, hash))
		return nil
	}
	if err := sm.votes.VerifyQC(block.Justify); err != nil {
		sm.reject(msg, err)
		return nil
	}
	if !sm.safety.Tree().Contains(block.Justify.BlockHash) {
		sm.stashProposal(msg, sender)
		return nil
	}

	if err := sm.observeQC(ctx, block.Justify); err != nil {
		return err
	}
	if sm.pm.AdvanceTo(block.View) {
		if err := sm.enterView(ctx, block.View, "proposal"); err != nil {
			return err
		}
	}

	// a block fetched by sync is already attached but not voted for yet
	if !sm.safety.Tree().Contains(block.Hash) {
		if err := sm.attachBlock(ctx, block); err != nil {
			return err
		}
		if !sm.safety.Tree().Contains(block.Hash) {
			sm.reject(msg, fmt.Errorf("%w: block %s does not attach to the tree", engine.ErrUnknownBlock, block.Hash))
			return nil
		}
	}

	vote, err := sm.safety.OnPropose(block)
	if err != nil {
		sm.tracer.RecordEvent(uint16(sm.self), events.EventProposalRejected, events.EventPayload{
			"view":       uint64(block.View),
			"block_hash": block.Hash.String(),
			"reason":     err.Error(),
		})
		sm.log.Debug().Err(err).
			Uint64("view", uint64(block.View)).
			Str("block_hash", block.Hash.String()).
			Msg("Refused to vote")
		return nil
	}

	sm.tracer.RecordEvent(uint16(sm.self), events.EventProposalAccepted, events.EventPayload{
		"view":       uint64(block.View),
		"height":     uint64(block.Height),
		"block_hash": block.Hash.String(),
	})

	// the vote leaves only once the safety record covering it is durable
	if err := sm.persistSafetyData(ctx); err != nil {
		return err
	}
	sm.phases.Advance(block.View, types.PhasePreCommit, "vote")
	sm.sendVote(vote)
	return nil
}

// onVote feeds a vote into the aggregator and acts on a resulting QC. Votes
// arrive directly from voters or piggybacked on NewView messages.
func (sm *StateMachine) onVote(ctx context.Context, vote *types.Vote) error {
	qc, err := sm.votes.OnVote(vote)
	switch {
	case errors.Is(err, engine.ErrEquivocation):
		sm.metrics.EquivocationDetected()
		sm.tracer.RecordEvent(uint16(sm.self), events.EventEquivocationFound, events.EventPayload{
			"voter":      uint16(vote.Voter),
			"view":       uint64(vote.View),
			"block_hash": vote.BlockHash.String(),
		})
		sm.log.Warn().Err(err).
			Uint16("voter", uint16(vote.Voter)).
			Uint64("view", uint64(vote.View)).
			Msg("Equivocation detected")
		return nil
	case errors.Is(err, engine.ErrDuplicateVote):
		return nil
	case err != nil:
		sm.reject(messages.NewVoteMsg(vote), err)
		return nil
	}

	sm.metrics.VoteAccepted()
	sm.tracer.RecordEvent(uint16(sm.self), events.EventVoteReceived, events.EventPayload{
		"voter":      uint16(vote.Voter),
		"view":       uint64(vote.View),
		"block_hash": vote.BlockHash.String(),
	})

	if qc == nil {
		return nil
	}
	return sm.onQCFormed(ctx, qc)
}

// onNewView handles a peer that abandoned its view. Its last vote and high QC
// are used first so a proposal built right after reflects them.
func (sm *StateMachine) onNewView(ctx context.Context, msg *messages.NewViewMsg) error {
	if err := msg.Validate(sm.validators); err != nil {
		sm.reject(msg, err)
		return nil
	}
	signing := codec.NewViewSigningBytes(msg.ViewNumber, msg.HighQC)
	if err := sm.signer.Verify(signing, msg.Signature, msg.SenderID); err != nil {
		sm.reject(msg, fmt.Errorf("%w: NewView from %d: %v", engine.ErrInvalidSignature, msg.SenderID, err))
		return nil
	}

	sm.tracer.RecordEvent(uint16(sm.self), events.EventNewViewReceived, events.EventPayload{
		"sender":       uint16(msg.SenderID),
		"view":         uint64(msg.ViewNumber),
		"high_qc_view": uint64(msg.HighQC.View),
		"last_vote":    msg.LastVote != nil,
	})

	if msg.LastVote != nil {
		if err := sm.onVote(ctx, msg.LastVote); err != nil {
			return err
		}
	}

	if err := sm.votes.VerifyQC(msg.HighQC); err != nil {
		sm.log.Debug().Err(err).Uint16("sender", uint16(msg.SenderID)).Msg("Ignoring invalid high QC")
	} else if !sm.safety.Tree().Contains(msg.HighQC.BlockHash) {
		sm.awaitQC(msg.HighQC, msg.SenderID)
	} else if err := sm.observeQC(ctx, msg.HighQC); err != nil {
		return err
	}

	if !sm.views.Add(msg) {
		return nil
	}

	current := sm.pm.CurrentView()
	if target, ok := sm.views.JumpTarget(current); ok && sm.pm.AdvanceTo(target) {
		sm.tracer.RecordEvent(uint16(sm.self), events.EventViewSynchronized, events.EventPayload{
			"from_view": uint64(current),
			"view":      uint64(target),
		})
		sm.sendNewView(target)
		if err := sm.enterView(ctx, target, "new_view"); err != nil {
			return err
		}
	}

	return sm.tryPropose(ctx)
}

// onTimeout abandons the current view and announces the next one.
func (sm *StateMachine) onTimeout(ctx context.Context, ev pacemaker.TimeoutEvent) error {
	if sm.halted.Load() {
		return nil
	}
	next, ok := sm.pm.OnTimeout(ev.View)
	if !ok {
		return nil
	}

	sm.metrics.ViewTimedOut()
	sm.phases.Advance(ev.View, types.PhaseTimedOut, "timeout")
	sm.tracer.RecordEvent(uint16(sm.self), events.EventViewTimeout, events.EventPayload{
		"view":    uint64(ev.View),
		"timeout": ev.Duration.String(),
	})
	sm.log.Info().
		Uint64("view", uint64(ev.View)).
		Dur("timeout", ev.Duration).
		Uint16("next_leader", uint16(sm.validators.LeaderFor(next))).
		Msg("View timed out")

	if err := sm.persistSafetyData(ctx); err != nil {
		return err
	}
	sm.sendNewView(next)
	return sm.enterView(ctx, next, "timeout")
}

func (sm *StateMachine) onQCFormed(ctx context.Context, qc *types.QuorumCertificate) error {
	sm.metrics.QCFormed()
	sm.tracer.RecordEvent(uint16(sm.self), events.EventQCFormed, events.EventPayload{
		"view":       uint64(qc.View),
		"height":     uint64(qc.Height),
		"block_hash": qc.BlockHash.String(),
	})
	sm.log.Debug().
		Uint64("view", uint64(qc.View)).
		Str("block_hash", qc.BlockHash.String()).
		Msg("QC formed")
	return sm.observeQC(ctx, qc)
}

// observeQC applies a verified QC: lock and high QC move forward, committed
// blocks are persisted in height order and the pacemaker advances.
func (sm *StateMachine) observeQC(ctx context.Context, qc *types.QuorumCertificate) error {
	prevHigh := sm.safety.HighQC().View
	prevLocked := sm.safety.LockedQC().View

	committed, err := sm.safety.OnQCFormed(qc)
	if errors.Is(err, engine.ErrSafetyViolation) {
		return err
	}
	if err != nil {
		sm.log.Debug().Err(err).Uint64("view", uint64(qc.View)).Msg("Ignoring QC")
		return nil
	}

	if high := sm.safety.HighQC(); high.View > prevHigh {
		sm.tracer.RecordEvent(uint16(sm.self), events.EventHighestQCUpdated, events.EventPayload{
			"view":       uint64(high.View),
			"block_hash": high.BlockHash.String(),
		})
	}
	if locked := sm.safety.LockedQC(); locked.View > prevLocked {
		sm.metrics.LockedView(uint64(locked.View))
		sm.votes.PruneBelow(locked.View)
		sm.tracer.RecordEvent(uint16(sm.self), events.EventLockedQCUpdated, events.EventPayload{
			"view":       uint64(locked.View),
			"block_hash": locked.BlockHash.String(),
		})
	}
	sm.phases.Advance(qc.View, types.PhaseCommit, "qc")

	if len(committed) > 0 {
		if err := sm.commit(ctx, committed); err != nil {
			return err
		}
		sm.phases.Advance(qc.View, types.PhaseDecide, "commit")
	}

	if sm.pm.AdvanceOnQC(qc) {
		return sm.enterView(ctx, qc.View+1, "qc")
	}
	return nil
}

// commit makes every finalized block durable, lowest height first.
func (sm *StateMachine) commit(ctx context.Context, blocks []*types.Block) error {
	for _, b := range blocks {
		if err := sm.persistBlock(ctx, b); err != nil {
			return err
		}
		sm.metrics.CommittedHeight(uint64(b.Height))
		sm.tracer.RecordEvent(uint16(sm.self), events.EventBlockCommitted, events.EventPayload{
			"view":       uint64(b.View),
			"height":     uint64(b.Height),
			"block_hash": b.Hash.String(),
		})
		sm.log.Info().
			Uint64("height", uint64(b.Height)).
			Uint64("view", uint64(b.View)).
			Str("block_hash", b.Hash.String()).
			Msg("Block committed")
		for _, fn := range sm.onCommit {
			fn(b)
		}
	}
	return sm.persistSafetyData(ctx)
}

// enterView resets per-view state after the pacemaker moved to view.
func (sm *StateMachine) enterView(ctx context.Context, view types.ViewNumber, reason string) error {
	now := time.Now()
	sm.metrics.ViewDuration(now.Sub(sm.viewStarted))
	sm.viewStarted = now
	sm.metrics.CurrentView(uint64(view))
	sm.votes.SetCurrentView(view)

	sm.phases.Enter(view, reason)

	leader := sm.validators.LeaderFor(view)
	sm.tracer.RecordEvent(uint16(sm.self), events.EventViewChange, events.EventPayload{
		"view":   uint64(view),
		"leader": uint16(leader),
		"reason": reason,
	})
	if leader == sm.self {
		sm.tracer.RecordEvent(uint16(sm.self), events.EventLeaderElected, events.EventPayload{
			"view": uint64(view),
		})
	}

	return sm.tryPropose(ctx)
}

// sendVote routes vote to the leader of the next view.
func (sm *StateMachine) sendVote(vote *types.Vote) {
	next := sm.validators.LeaderFor(vote.View + 1)
	msg := messages.NewVoteMsg(vote)

	sm.tracer.RecordEvent(uint16(sm.self), events.EventVoteSent, events.EventPayload{
		"view":        uint64(vote.View),
		"block_hash":  vote.BlockHash.String(),
		"destination": uint16(next),
	})
	sm.deliver(next, msg)
}

// sendNewView announces view to every validator, itself included, with the
// high QC and last vote. Replicas count the announcements to catch up on view
// and the leader counts them to propose.
func (sm *StateMachine) sendNewView(view types.ViewNumber) {
	highQC := sm.safety.HighQC()
	sig, err := sm.signer.Sign(codec.NewViewSigningBytes(view, highQC))
	if err != nil {
		sm.log.Warn().Err(err).Uint64("view", uint64(view)).Msg("Failed to sign NewView")
		return
	}

	msg := messages.NewNewViewMsg(view, highQC, sm.self, sig)
	if last := sm.safety.LastVote(); last != nil && last.View < view {
		msg.LastVote = last
	}

	sm.tracer.RecordEvent(uint16(sm.self), events.EventNewViewSent, events.EventPayload{
		"view":         uint64(view),
		"high_qc_view": uint64(highQC.View),
		"leader":       uint16(sm.validators.LeaderFor(view)),
	})
	sm.outbox.Broadcast(msg)
	sm.deliver(sm.self, msg)
}

// deliver sends msg to target, looping messages for this node back through
// the event queue.
func (sm *StateMachine) deliver(target types.NodeID, msg messages.ConsensusMessage) {
	if target == sm.self {
		sm.queue.Push(network.ReceivedMessage{Message: msg, Sender: sm.self, ReceivedAt: time.Now()})
		return
	}
	sm.outbox.Send(target, msg)
}

func (sm *StateMachine) reject(msg messages.ConsensusMessage, err error) {
	kind := msg.Type().String()
	sm.metrics.MessageRejected(kind)

	evType := events.EventVoteRejected
	switch msg.Type() {
	case messages.MsgTypeProposal:
		evType = events.EventProposalRejected
	case messages.MsgTypeNewView:
		evType = events.EventNewViewRejected
	case messages.MsgTypeBlockRequest, messages.MsgTypeBlockResponse:
		evType = events.EventSyncRejected
	}
	sm.tracer.RecordEvent(uint16(sm.self), evType, events.EventPayload{
		"view":   uint64(msg.View()),
		"sender": uint16(msg.Sender()),
		"reason": err.Error(),
	})

	sm.log.Debug().Err(err).
		Str("message_type", kind).
		Uint64("view", uint64(msg.View())).
		Uint16("sender", uint16(msg.Sender())).
		Msg("Dropped message")
}
