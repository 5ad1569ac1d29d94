package engine

import "errors"

// Proposal rejections. Each one means the validator refuses to vote; none of
// them changes state.
var (
	ErrInvalidHeight  = errors.New("block height does not follow justified block")
	ErrParentMismatch = errors.New("block parent is not the justified block")
	ErrBelowLock      = errors.New("justification is below the locked QC")
	ErrDoubleVote     = errors.New("already voted for a different block in this view")
	ErrAlreadyVoted   = errors.New("already voted for this block")
	ErrStaleView      = errors.New("view is not above the last voted view")
	ErrInvalidJustify = errors.New("justification view is not below block view")
	ErrUnknownBlock   = errors.New("block not in block tree")
)

// Vote and QC rejections.
var (
	ErrUnknownValidator = errors.New("unknown validator")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrDuplicateVote    = errors.New("duplicate vote")
	ErrEquivocation     = errors.New("conflicting votes in the same view")
	ErrStaleVote        = errors.New("vote below pruned view")
	ErrFutureVote       = errors.New("vote too far ahead of current view")
	ErrInvalidQC        = errors.New("invalid quorum certificate")
)

// ErrSafetyViolation reports two different finalized blocks at one height. It
// implies more than f Byzantine validators and is never retried.
var ErrSafetyViolation = errors.New("safety violation: conflicting committed blocks")
