package integration

import (
	"context"

	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/codec"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/events"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/messages"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/types"
)

// tryPropose is the leader path. The leader of the current view proposes once,
// as soon as it holds a QC for the previous view or 2f+1 validators announced
// the view. The block extends the highest certified block known.
func (sm *StateMachine) tryPropose(ctx context.Context) error {
	view := sm.pm.CurrentView()
	if sm.validators.LeaderFor(view) != sm.self || sm.proposedView >= view || sm.halted.Load() {
		return nil
	}

	highQC := sm.safety.HighQC()
	if highQC.View+1 != view && !sm.views.HasQuorum(view) {
		return nil
	}

	parent, ok := sm.safety.Tree().GetBlock(highQC.BlockHash)
	if !ok {
		sm.log.Warn().
			Uint64("view", uint64(view)).
			Str("block_hash", highQC.BlockHash.String()).
			Msg("High QC block missing, cannot propose")
		return nil
	}

	payload, err := sm.payload.NextPayload(ctx, view)
	if err != nil {
		sm.log.Warn().Err(err).Uint64("view", uint64(view)).Msg("Failed to get payload, proposing empty block")
		if payload, err = codec.EncodeBatch(nil); err != nil {
			return nil
		}
	}

	block := &types.Block{
		Height:      parent.Height + 1,
		View:        view,
		ParentHash:  parent.Hash,
		PayloadHash: sm.signer.Hash(payload),
		Proposer:    sm.self,
		Justify:     highQC,
		Payload:     payload,
	}
	block.Hash = codec.BlockHash(sm.signer, block)
	sm.proposedView = view

	msg := messages.NewProposalMsg(block, sm.self)
	sm.outbox.Broadcast(msg)

	sm.metrics.ProposalSent()
	sm.tracer.RecordEvent(uint16(sm.self), events.EventProposalCreated, events.EventPayload{
		"view":         uint64(view),
		"height":       uint64(block.Height),
		"block_hash":   block.Hash.String(),
		"justify_view": uint64(highQC.View),
	})
	sm.log.Info().
		Uint64("view", uint64(view)).
		Uint64("height", uint64(block.Height)).
		Str("block_hash", block.Hash.String()).
		Uint64("justify_view", uint64(highQC.View)).
		Msg("Proposed block")

	return sm.onProposal(ctx, msg, sm.self)
}
