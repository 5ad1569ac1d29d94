package types

import "fmt"

// Vote is a validator's signed endorsement of a block in a view.
type Vote struct {
	// BlockHash is the hash of the block being voted on
	BlockHash BlockHash
	// View is the view the block was proposed in
	View ViewNumber
	// Voter is the validator that cast this vote
	Voter NodeID
	// Signature covers the canonical vote signing bytes of (BlockHash, View)
	Signature []byte
}

// Validate performs structural validation on the vote.
func (v *Vote) Validate(validators *ValidatorSet) error {
	if validators == nil {
		return fmt.Errorf("validator set cannot be nil")
	}

	if !validators.IsMember(v.Voter) {
		return fmt.Errorf("invalid voter node ID: %d", v.Voter)
	}

	if v.BlockHash.IsZero() {
		return fmt.Errorf("vote block hash cannot be empty")
	}

	if len(v.Signature) == 0 {
		return fmt.Errorf("vote signature cannot be empty")
	}

	return nil
}

// ConflictsWith reports whether both votes come from the same voter in the same
// view but endorse different blocks.
func (v *Vote) ConflictsWith(other *Vote) bool {
	if other == nil {
		return false
	}
	return v.Voter == other.Voter && v.View == other.View && v.BlockHash != other.BlockHash
}

// String returns a string representation of the vote for debugging.
func (v *Vote) String() string {
	return fmt.Sprintf("Vote{BlockHash: %s, View: %d, Voter: %d}", v.BlockHash, v.View, v.Voter)
}
