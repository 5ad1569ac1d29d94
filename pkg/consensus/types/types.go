// Package types defines the fundamental data types used throughout the HotStuff consensus core.
package types

import (
	"encoding/hex"
	"fmt"
)

// ViewNumber represents a consensus view identifier.
// Each view has exactly one designated leader.
type ViewNumber uint64

// NodeID represents a unique identifier for a validator.
// It corresponds to the validator's index in the sorted validator set.
type NodeID uint16

// String returns a string representation of the NodeID.
func (n NodeID) String() string {
	return fmt.Sprintf("%d", n)
}

// BlockHash is the 32-byte digest of a canonical block header.
type BlockHash [32]byte

// IsZero reports whether the hash is all zeroes.
func (h BlockHash) IsZero() bool {
	return h == BlockHash{}
}

// String returns the hex encoding of the first 8 bytes, for logs.
func (h BlockHash) String() string {
	return hex.EncodeToString(h[:8])
}

// Height represents the position of a block in the chain.
type Height uint64

// ViewPhase is the progress of the state machine within a single view.
type ViewPhase uint8

const (
	// PhasePrepare waits for (or constructs) the view's proposal.
	PhasePrepare ViewPhase = iota
	// PhasePreCommit means the proposal was accepted and our vote was sent.
	PhasePreCommit
	// PhaseCommit means a QC for the view's block has been observed.
	PhaseCommit
	// PhaseDecide means the commit rule has been evaluated and the view is complete.
	PhaseDecide
	// PhaseTimedOut means the view was abandoned by the pacemaker.
	PhaseTimedOut
)

// String returns a human-readable representation of the phase.
func (p ViewPhase) String() string {
	switch p {
	case PhasePrepare:
		return "Prepare"
	case PhasePreCommit:
		return "PreCommit"
	case PhaseCommit:
		return "Commit"
	case PhaseDecide:
		return "Decide"
	case PhaseTimedOut:
		return "TimedOut"
	default:
		return "Unknown"
	}
}

// IsTerminal returns true for the phases that end a view.
func (p ViewPhase) IsTerminal() bool {
	return p == PhaseDecide || p == PhaseTimedOut
}
