package types

import (
	"fmt"
	"sort"
)

const (
	// MinValidators is the smallest set that tolerates one Byzantine validator.
	MinValidators = 4
	// MaxValidators bounds the set so NodeIDs and QC sizes stay small.
	MaxValidators = 512
)

// PublicKey is the opaque public key of a validator. Its format belongs to the
// crypto adapter.
type PublicKey []byte

// Validator is one member of the validator set.
type Validator struct {
	ID        NodeID
	PublicKey PublicKey
}

// ValidatorSet is the fixed, agreed-upon set of consensus participants,
// sorted by NodeID.
type ValidatorSet struct {
	validators []Validator
	index      map[NodeID]int
}

// NewValidatorSet creates a validator set from the given public keys.
// NodeIDs are assigned sequentially starting from 0.
func NewValidatorSet(publicKeys []PublicKey) (*ValidatorSet, error) {
	validators := make([]Validator, len(publicKeys))
	for i, key := range publicKeys {
		validators[i] = Validator{ID: NodeID(i), PublicKey: key}
	}
	return NewValidatorSetFromValidators(validators)
}

// NewValidatorSetFromValidators creates a validator set from explicit members.
func NewValidatorSetFromValidators(validators []Validator) (*ValidatorSet, error) {
	sorted := make([]Validator, len(validators))
	copy(sorted, validators)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	vs := &ValidatorSet{
		validators: sorted,
		index:      make(map[NodeID]int, len(sorted)),
	}
	for i, v := range sorted {
		vs.index[v.ID] = i
	}

	if err := vs.Validate(); err != nil {
		return nil, err
	}
	return vs, nil
}

// TotalNodes returns n.
func (vs *ValidatorSet) TotalNodes() int {
	return len(vs.validators)
}

// FaultyNodes returns f, the number of Byzantine validators tolerated: n = 3f + 1.
func (vs *ValidatorSet) FaultyNodes() int {
	if len(vs.validators) == 0 {
		return -1
	}
	return (len(vs.validators) - 1) / 3
}

// QuorumThreshold returns 2f+1.
func (vs *ValidatorSet) QuorumThreshold() int {
	return 2*vs.FaultyNodes() + 1
}

// HasQuorum returns true if count meets the quorum threshold.
func (vs *ValidatorSet) HasQuorum(count int) bool {
	return count >= vs.QuorumThreshold()
}

// HasHonestWitness returns true if count exceeds f, so at least one honest
// validator is among the senders.
func (vs *ValidatorSet) HasHonestWitness(count int) bool {
	return count > vs.FaultyNodes()
}

// IsMember returns true if id belongs to the set.
func (vs *ValidatorSet) IsMember(id NodeID) bool {
	_, ok := vs.index[id]
	return ok
}

// PublicKey returns the public key of a member.
func (vs *ValidatorSet) PublicKey(id NodeID) (PublicKey, error) {
	i, ok := vs.index[id]
	if !ok {
		return nil, fmt.Errorf("invalid node ID: %d", id)
	}
	return vs.validators[i].PublicKey, nil
}

// Validators returns a copy of the members in NodeID order.
func (vs *ValidatorSet) Validators() []Validator {
	out := make([]Validator, len(vs.validators))
	copy(out, vs.validators)
	return out
}

// LeaderFor returns the leader of a view using round-robin over the sorted set.
// It depends on nothing but the view and the set, so every honest validator
// computes the same answer.
func (vs *ValidatorSet) LeaderFor(view ViewNumber) NodeID {
	n := uint64(len(vs.validators))
	return vs.validators[uint64(view)%n].ID
}

// Validate checks size bounds, sequential IDs and non-empty keys.
func (vs *ValidatorSet) Validate() error {
	total := len(vs.validators)

	if total < MinValidators {
		return fmt.Errorf("BFT consensus requires at least %d validators, got %d", MinValidators, total)
	}

	if total > MaxValidators {
		return fmt.Errorf("validator count cannot exceed %d, got %d", MaxValidators, total)
	}

	for i, v := range vs.validators {
		if v.ID != NodeID(i) {
			return fmt.Errorf("missing node ID %d - node IDs must be sequential starting from 0", i)
		}
		if len(v.PublicKey) == 0 {
			return fmt.Errorf("empty public key for node ID: %d", v.ID)
		}
	}

	return nil
}

// String returns a string representation of the validator set.
func (vs *ValidatorSet) String() string {
	return fmt.Sprintf("ValidatorSet{Nodes: %d, Faulty: %d, Quorum: %d}",
		vs.TotalNodes(), vs.FaultyNodes(), vs.QuorumThreshold())
}
