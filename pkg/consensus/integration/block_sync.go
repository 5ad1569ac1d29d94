package integration

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/codec"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/engine"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/events"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/messages"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/storage"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/types"
)

const (
	// syncRetryInterval is the minimum gap between two requests for one hash.
	syncRetryInterval = 500 * time.Millisecond
	// maxStashedProposals bounds proposals parked until their ancestry arrives.
	maxStashedProposals = 16
	// maxOrphans bounds fetched blocks that do not connect to the tree yet.
	maxOrphans = 4 * messages.MaxSyncBlocks
	// maxWaitingQCs bounds verified QCs whose block is still being fetched.
	maxWaitingQCs = 16
)

type stashedProposal struct {
	msg    *messages.ProposalMsg
	sender types.NodeID
}

// blockSync tracks the blocks a replica missed. Proposals and QCs that
// reference an unknown block wait here while the ancestry is fetched from the
// peer that referenced it. Owned by the state machine goroutine.
type blockSync struct {
	requested map[types.BlockHash]time.Time
	stashed   []stashedProposal
	orphans   map[types.BlockHash]*types.Block
	waiting   map[types.BlockHash]*types.QuorumCertificate
}

func newBlockSync() *blockSync {
	return &blockSync{
		requested: make(map[types.BlockHash]time.Time),
		orphans:   make(map[types.BlockHash]*types.Block),
		waiting:   make(map[types.BlockHash]*types.QuorumCertificate),
	}
}

// GetBlock resolves fetched blocks that are not attached yet.
func (bs *blockSync) GetBlock(hash types.BlockHash) (*types.Block, bool) {
	b, ok := bs.orphans[hash]
	return b, ok
}

// lowestOrphans returns the orphans in ascending height.
func (bs *blockSync) lowestOrphans() []*types.Block {
	out := make([]*types.Block, 0, len(bs.orphans))
	for _, b := range bs.orphans {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Height < out[j].Height })
	return out
}

// chainLookup layers extra blocks over the block tree and the sync orphans.
type chainLookup struct {
	sm    *StateMachine
	extra map[types.BlockHash]*types.Block
}

func (cl chainLookup) GetBlock(hash types.BlockHash) (*types.Block, bool) {
	if b, ok := cl.extra[hash]; ok {
		return b, true
	}
	if b, ok := cl.sm.safety.Tree().GetBlock(hash); ok {
		return b, true
	}
	return cl.sm.sync.GetBlock(hash)
}

// stashProposal parks a verified proposal whose justified block is unknown
// and asks sender for the missing ancestry.
func (sm *StateMachine) stashProposal(msg *messages.ProposalMsg, sender types.NodeID) {
	for _, p := range sm.sync.stashed {
		if p.msg.Block.Hash == msg.Block.Hash {
			return
		}
	}
	if len(sm.sync.stashed) >= maxStashedProposals {
		sm.sync.stashed = sm.sync.stashed[1:]
	}
	sm.sync.stashed = append(sm.sync.stashed, stashedProposal{msg: msg, sender: sender})

	sm.log.Debug().
		Uint64("view", uint64(msg.Block.View)).
		Str("justify_hash", msg.Block.Justify.BlockHash.String()).
		Msg("Proposal extends an unknown block, fetching ancestry")
	sm.requestAncestry(msg.Block.Justify.BlockHash, sender)
}

// awaitQC keeps a verified QC for a block that is not in the tree and fetches
// the block from peer.
func (sm *StateMachine) awaitQC(qc *types.QuorumCertificate, peer types.NodeID) {
	if qc.Height <= sm.safety.CommittedHeight() || sm.safety.Tree().Contains(qc.BlockHash) {
		return
	}
	if _, ok := sm.sync.waiting[qc.BlockHash]; !ok && len(sm.sync.waiting) < maxWaitingQCs {
		sm.sync.waiting[qc.BlockHash] = qc
	}
	sm.requestAncestry(qc.BlockHash, peer)
}

// requestAncestry asks peer for hash, or for the lowest block still missing
// below it when part of the ancestry was already fetched.
func (sm *StateMachine) requestAncestry(hash types.BlockHash, peer types.NodeID) {
	for {
		b, ok := sm.sync.orphans[hash]
		if !ok {
			break
		}
		hash = b.ParentHash
	}
	if sm.safety.Tree().Contains(hash) {
		return
	}
	sm.requestBlock(hash, peer)
}

func (sm *StateMachine) requestBlock(hash types.BlockHash, peer types.NodeID) {
	if peer == sm.self {
		return
	}
	now := time.Now()
	if last, ok := sm.sync.requested[hash]; ok && now.Sub(last) < syncRetryInterval {
		return
	}
	if len(sm.sync.requested) >= maxOrphans {
		for h, at := range sm.sync.requested {
			if now.Sub(at) >= syncRetryInterval {
				delete(sm.sync.requested, h)
			}
		}
	}
	sm.sync.requested[hash] = now

	known := sm.safety.CommittedHeight()
	sm.tracer.RecordEvent(uint16(sm.self), events.EventBlockRequested, events.EventPayload{
		"block_hash":   hash.String(),
		"known_height": uint64(known),
		"destination":  uint16(peer),
	})
	sm.outbox.Send(peer, messages.NewBlockRequestMsg(hash, known, sm.self))
}

// onBlockRequest serves the requested block and its ancestors above the
// requester's committed height.
func (sm *StateMachine) onBlockRequest(msg *messages.BlockRequestMsg, sender types.NodeID) {
	if err := msg.Validate(sm.validators); err != nil {
		sm.reject(msg, err)
		return
	}
	if msg.Requester != sender {
		sm.reject(msg, fmt.Errorf("request for %d arrived from %d", msg.Requester, sender))
		return
	}

	blocks := sm.ancestry(msg.Hash, msg.KnownHeight)
	if len(blocks) == 0 {
		sm.log.Debug().
			Str("block_hash", msg.Hash.String()).
			Uint16("requester", uint16(sender)).
			Msg("Requested block unknown")
		return
	}
	sm.outbox.Send(sender, messages.NewBlockResponseMsg(msg.Hash, blocks, sm.self))
}

// ancestry returns hash and up to MaxSyncBlocks-1 of its ancestors above
// known, in ascending height.
func (sm *StateMachine) ancestry(hash types.BlockHash, known types.Height) []*types.Block {
	var out []*types.Block
	next := hash
	for len(out) < messages.MaxSyncBlocks {
		b, ok := sm.lookupBlock(next)
		if !ok || b.IsGenesis() {
			break
		}
		if len(out) > 0 && b.Height <= known {
			break
		}
		out = append(out, b)
		next = b.ParentHash
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// lookupBlock finds a block in the tree or among the committed blocks.
func (sm *StateMachine) lookupBlock(hash types.BlockHash) (*types.Block, bool) {
	if b, ok := sm.safety.Tree().GetBlock(hash); ok {
		return b, true
	}
	b, err := sm.store.GetBlock(hash)
	if err != nil {
		return nil, false
	}
	return b, true
}

// onBlockResponse verifies a solicited chain segment, checks it against the
// committed chain and attaches whatever now connects to the tree.
func (sm *StateMachine) onBlockResponse(ctx context.Context, msg *messages.BlockResponseMsg, sender types.NodeID) error {
	if err := msg.Validate(sm.validators); err != nil {
		sm.reject(msg, err)
		return nil
	}
	if msg.Responder != sender {
		sm.reject(msg, fmt.Errorf("response from %d arrived from %d", msg.Responder, sender))
		return nil
	}
	if _, ok := sm.sync.requested[msg.Hash]; !ok {
		sm.reject(msg, fmt.Errorf("unsolicited block %s", msg.Hash))
		return nil
	}
	for _, b := range msg.Blocks {
		if err := sm.verifyBlock(b); err != nil {
			sm.reject(msg, err)
			return nil
		}
	}
	delete(sm.sync.requested, msg.Hash)

	if err := sm.checkFinality(msg.Blocks); err != nil {
		return err
	}

	committed := sm.safety.CommittedHeight()
	added := 0
	for _, b := range msg.Blocks {
		if b.Height <= committed || sm.safety.Tree().Contains(b.Hash) {
			continue
		}
		if _, ok := sm.sync.orphans[b.Hash]; ok {
			continue
		}
		if len(sm.sync.orphans) >= maxOrphans {
			break
		}
		sm.sync.orphans[b.Hash] = b
		added++
	}

	sm.metrics.BlocksSynced(added)
	sm.tracer.RecordEvent(uint16(sm.self), events.EventBlocksSynced, events.EventPayload{
		"block_hash": msg.Hash.String(),
		"blocks":     added,
		"responder":  uint16(sender),
	})

	if err := sm.connectOrphans(ctx, sender); err != nil {
		return err
	}
	return sm.replayStashed(ctx)
}

// verifyBlock runs the checks a proposal gets, minus the view rules: synced
// blocks are old by definition.
func (sm *StateMachine) verifyBlock(b *types.Block) error {
	if hash := codec.BlockHash(sm.signer, b); hash != b.Hash {
		return fmt.Errorf("block hash %s, computed %s", b.Hash, hash)
	}
	if hash := sm.signer.Hash(b.Payload); hash != b.PayloadHash {
		return fmt.Errorf("payload hash %s, computed %s", b.PayloadHash, hash)
	}
	if leader := sm.validators.LeaderFor(b.View); b.Proposer != leader {
		return fmt.Errorf("proposer %d is not the leader %d of view %d", b.Proposer, leader, b.View)
	}
	return sm.votes.VerifyQC(b.Justify)
}

// connectOrphans attaches every fetched block whose parent is in the tree,
// lowest first, and asks peer for the next gap.
func (sm *StateMachine) connectOrphans(ctx context.Context, peer types.NodeID) error {
	tree := sm.safety.Tree()
	for _, b := range sm.sync.lowestOrphans() {
		if b.Height <= sm.safety.CommittedHeight() {
			delete(sm.sync.orphans, b.Hash)
			continue
		}
		if !tree.Contains(b.ParentHash) {
			continue
		}
		delete(sm.sync.orphans, b.Hash)
		if err := sm.attachBlock(ctx, b); err != nil {
			return err
		}
	}

	for hash, qc := range sm.sync.waiting {
		if !tree.Contains(hash) {
			continue
		}
		delete(sm.sync.waiting, hash)
		if err := sm.observeQC(ctx, qc); err != nil {
			return err
		}
	}

	if remaining := sm.sync.lowestOrphans(); len(remaining) > 0 {
		lowest := remaining[0]
		if lowest.Height > sm.safety.CommittedHeight()+1 {
			sm.requestBlock(lowest.ParentHash, peer)
		} else {
			// hangs off a block below the root: a dead fork
			delete(sm.sync.orphans, lowest.Hash)
		}
	}
	return nil
}

// attachBlock adds a verified block whose parent is in the tree, exactly as
// an accepted proposal would be, without voting for it.
func (sm *StateMachine) attachBlock(ctx context.Context, b *types.Block) error {
	if err := sm.safety.Tree().AddBlock(b); err != nil {
		sm.log.Debug().Err(err).Str("block_hash", b.Hash.String()).Msg("Skipping synced block")
		return nil
	}
	if err := sm.storePending(ctx, b); err != nil {
		return err
	}
	qc, err := sm.votes.OnBlockKnown(b)
	if err != nil {
		sm.log.Warn().Err(err).Str("block_hash", b.Hash.String()).Msg("Failed to form QC for synced block")
	}
	if qc != nil {
		if err := sm.onQCFormed(ctx, qc); err != nil {
			return err
		}
	}
	return sm.observeQC(ctx, b.Justify)
}

// replayStashed re-runs parked proposals whose ancestry is now known and
// drops those the view has moved past.
func (sm *StateMachine) replayStashed(ctx context.Context) error {
	stashed := sm.sync.stashed
	sm.sync.stashed = nil
	for i, p := range stashed {
		if p.msg.Block.View < sm.pm.CurrentView() {
			continue
		}
		if !sm.safety.Tree().Contains(p.msg.Block.Justify.BlockHash) {
			sm.sync.stashed = append(sm.sync.stashed, p)
			continue
		}
		if err := sm.onProposal(ctx, p.msg, p.sender); err != nil {
			sm.sync.stashed = append(sm.sync.stashed, stashed[i+1:]...)
			return err
		}
	}
	return sm.tryPropose(ctx)
}

// checkFinality looks for a three-chain among the fetched blocks, the parked
// proposals and the waiting QCs that finalizes a block conflicting with the
// committed chain. Every QC involved is verified before it gets here.
func (sm *StateMachine) checkFinality(blocks []*types.Block) error {
	lookup := chainLookup{sm: sm, extra: make(map[types.BlockHash]*types.Block, len(blocks))}
	for _, b := range blocks {
		lookup.extra[b.Hash] = b
	}

	qcs := make([]*types.QuorumCertificate, 0, len(blocks)+len(sm.sync.stashed)+len(sm.sync.waiting))
	for _, p := range sm.sync.stashed {
		qcs = append(qcs, p.msg.Block.Justify)
	}
	for _, qc := range sm.sync.waiting {
		qcs = append(qcs, qc)
	}
	for i := len(blocks) - 1; i >= 0; i-- {
		qcs = append(qcs, blocks[i].Justify)
	}

	for _, qc := range qcs {
		b1, ok := engine.ThreeChain(qc, lookup)
		if !ok {
			continue
		}
		if err := sm.checkAncestry(b1, lookup); err != nil {
			return err
		}
	}
	return nil
}

// checkAncestry walks down from a finalized block until it meets the tree or
// the committed chain, and fails if it meets the committed chain elsewhere
// than at the committed block of that height.
func (sm *StateMachine) checkAncestry(b *types.Block, lookup engine.BlockLookup) error {
	committed := sm.safety.CommittedHeight()
	for {
		if sm.safety.Tree().Contains(b.Hash) {
			return nil
		}
		if b.Height <= committed {
			return sm.checkCommitted(b.Height, b.Hash)
		}
		parent, ok := lookup.GetBlock(b.ParentHash)
		if !ok {
			if b.Height-1 <= committed {
				return sm.checkCommitted(b.Height-1, b.ParentHash)
			}
			return nil
		}
		b = parent
	}
}

// checkCommitted compares hash against the block committed at height.
func (sm *StateMachine) checkCommitted(height types.Height, hash types.BlockHash) error {
	var want types.BlockHash
	if root := sm.safety.Tree().Root(); root.Height == height {
		want = root.Hash
	} else {
		b, err := sm.store.GetBlockByHeight(height)
		if storage.IsStorageError(err, storage.ErrorTypeNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read committed block %d: %w", height, err)
		}
		want = b.Hash
	}
	if want != hash {
		return fmt.Errorf("%w: height %d committed as %s, quorum finalized %s", ErrSafetyViolation, height, want, hash)
	}
	return nil
}
