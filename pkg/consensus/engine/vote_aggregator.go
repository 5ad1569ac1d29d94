package engine

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/codec"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/crypto"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/types"
)

// BlockLookup resolves certified blocks so a QC can carry the block height.
type BlockLookup interface {
	GetBlock(hash types.BlockHash) (*types.Block, bool)
}

// voteSet holds the votes for one (view, block) pair.
type voteSet struct {
	votes   map[types.NodeID]*types.Vote
	emitted bool
}

// MaxVoteLookahead bounds how far past the current view a vote is buffered.
// A node that lags further behind catches up through QCs, not buffered votes.
const MaxVoteLookahead types.ViewNumber = 32

// viewVotes holds every vote received for one view.
type viewVotes struct {
	// first vote each voter cast in this view
	byVoter map[types.NodeID]*types.Vote
	blocks  map[types.BlockHash]*voteSet
}

// VoteAggregator collects votes per (view, block) and synthesizes a QC once
// 2f+1 distinct validators have voted. Each QC is produced exactly once.
type VoteAggregator struct {
	validators *types.ValidatorSet
	verifier   crypto.CryptoInterface
	blocks     BlockLookup
	genesis    types.BlockHash

	views   map[types.ViewNumber]*viewVotes
	pruned  types.ViewNumber
	current types.ViewNumber
}

// NewVoteAggregator creates an aggregator for validators. genesis is the hash
// certified by the only QC allowed to carry no signatures.
func NewVoteAggregator(validators *types.ValidatorSet, verifier crypto.CryptoInterface, blocks BlockLookup, genesis types.BlockHash) *VoteAggregator {
	return &VoteAggregator{
		validators: validators,
		verifier:   verifier,
		blocks:     blocks,
		genesis:    genesis,
		views:      make(map[types.ViewNumber]*viewVotes),
	}
}

// OnVote verifies and records vote. It returns a QC the first time the vote's
// block reaches quorum and the block is known; otherwise nil. Votes beyond the
// threshold are kept but never produce a second QC.
func (va *VoteAggregator) OnVote(vote *types.Vote) (*types.QuorumCertificate, error) {
	if vote == nil {
		return nil, fmt.Errorf("vote cannot be nil")
	}

	if vote.View < va.pruned {
		return nil, fmt.Errorf("%w: view %d, pruned below %d", ErrStaleVote, vote.View, va.pruned)
	}

	if vote.View > va.current+MaxVoteLookahead {
		return nil, fmt.Errorf("%w: view %d, current view %d", ErrFutureVote, vote.View, va.current)
	}

	if !va.validators.IsMember(vote.Voter) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownValidator, vote.Voter)
	}

	if err := va.verifier.Verify(codec.VoteSigningBytes(vote.BlockHash, vote.View), vote.Signature, vote.Voter); err != nil {
		return nil, fmt.Errorf("%w: vote from %d: %v", ErrInvalidSignature, vote.Voter, err)
	}

	vv, ok := va.views[vote.View]
	if !ok {
		vv = &viewVotes{
			byVoter: make(map[types.NodeID]*types.Vote),
			blocks:  make(map[types.BlockHash]*voteSet),
		}
		va.views[vote.View] = vv
	}

	if prior, voted := vv.byVoter[vote.Voter]; voted {
		if prior.ConflictsWith(vote) {
			return nil, fmt.Errorf("%w: validator %d voted %s and %s in view %d",
				ErrEquivocation, vote.Voter, prior.BlockHash, vote.BlockHash, vote.View)
		}
		return nil, fmt.Errorf("%w: validator %d, view %d", ErrDuplicateVote, vote.Voter, vote.View)
	}
	vv.byVoter[vote.Voter] = vote

	set, ok := vv.blocks[vote.BlockHash]
	if !ok {
		set = &voteSet{votes: make(map[types.NodeID]*types.Vote)}
		vv.blocks[vote.BlockHash] = set
	}
	set.votes[vote.Voter] = vote

	return va.tryForm(vote.View, vote.BlockHash, set)
}

// OnBlockKnown retries QC formation for a block whose votes reached quorum
// before the block itself arrived.
func (va *VoteAggregator) OnBlockKnown(block *types.Block) (*types.QuorumCertificate, error) {
	vv, ok := va.views[block.View]
	if !ok {
		return nil, nil
	}
	set, ok := vv.blocks[block.Hash]
	if !ok {
		return nil, nil
	}
	return va.tryForm(block.View, block.Hash, set)
}

func (va *VoteAggregator) tryForm(view types.ViewNumber, hash types.BlockHash, set *voteSet) (*types.QuorumCertificate, error) {
	if set.emitted || !va.validators.HasQuorum(len(set.votes)) {
		return nil, nil
	}

	block, ok := va.blocks.GetBlock(hash)
	if !ok {
		return nil, nil
	}

	votes := make([]*types.Vote, 0, len(set.votes))
	for _, v := range set.votes {
		votes = append(votes, v)
	}

	qc, err := types.NewQuorumCertificate(hash, view, block.Height, votes)
	if err != nil {
		return nil, fmt.Errorf("failed to build QC: %w", err)
	}
	set.emitted = true
	return qc, nil
}

// VoteCount returns how many distinct validators voted for hash in view.
func (va *VoteAggregator) VoteCount(view types.ViewNumber, hash types.BlockHash) int {
	vv, ok := va.views[view]
	if !ok {
		return 0
	}
	set, ok := vv.blocks[hash]
	if !ok {
		return 0
	}
	return len(set.votes)
}

// PruneBelow drops every vote for a view below view. Later votes for those
// views are rejected as stale.
func (va *VoteAggregator) PruneBelow(view types.ViewNumber) {
	if view <= va.pruned {
		return
	}
	for v := range va.views {
		if v < view {
			delete(va.views, v)
		}
	}
	va.pruned = view
}

// SetCurrentView moves the lookahead window. It never moves backwards.
func (va *VoteAggregator) SetCurrentView(view types.ViewNumber) {
	if view > va.current {
		va.current = view
	}
}

// PendingViews returns the number of views with collected votes.
func (va *VoteAggregator) PendingViews() int {
	return len(va.views)
}

// VerifyQC checks that qc carries 2f+1 distinct members whose signatures all
// verify over (qc.BlockHash, qc.View). The genesis QC is the only one without
// signatures. Every failing signature is reported.
func (va *VoteAggregator) VerifyQC(qc *types.QuorumCertificate) error {
	if qc == nil {
		return fmt.Errorf("%w: nil", ErrInvalidQC)
	}

	if qc.IsGenesis() {
		if qc.BlockHash != va.genesis {
			return fmt.Errorf("%w: genesis QC certifies %s, genesis is %s", ErrInvalidQC, qc.BlockHash, va.genesis)
		}
		return nil
	}

	if err := qc.Validate(va.validators); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidQC, err)
	}

	if block, ok := va.blocks.GetBlock(qc.BlockHash); ok && block.Height != qc.Height {
		return fmt.Errorf("%w: QC height %d, block height %d", ErrInvalidQC, qc.Height, block.Height)
	}

	signing := codec.VoteSigningBytes(qc.BlockHash, qc.View)
	var result *multierror.Error
	for _, s := range qc.Signatures {
		if err := va.verifier.Verify(signing, s.Signature, s.Voter); err != nil {
			result = multierror.Append(result, fmt.Errorf("%w: voter %d: %v", ErrInvalidSignature, s.Voter, err))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidQC, err)
	}

	return nil
}
