package types

import (
	"fmt"
	"sort"
)

// VoterSignature is one validator's contribution to a QC.
type VoterSignature struct {
	Voter     NodeID
	Signature []byte
}

// QuorumCertificate proves that a quorum of validators voted for BlockHash in View.
// Signatures are kept sorted by voter so the canonical encoding is unique.
type QuorumCertificate struct {
	// BlockHash is the hash of the certified block
	BlockHash BlockHash
	// View is the view the certified block was proposed in
	View ViewNumber
	// Height is the height of the certified block
	Height Height
	// Signatures holds one entry per contributing voter, ordered by voter
	Signatures []VoterSignature
}

// NewQuorumCertificate builds a QC from votes that all endorse the same block and view.
func NewQuorumCertificate(blockHash BlockHash, view ViewNumber, height Height, votes []*Vote) (*QuorumCertificate, error) {
	qc := &QuorumCertificate{
		BlockHash:  blockHash,
		View:       view,
		Height:     height,
		Signatures: make([]VoterSignature, 0, len(votes)),
	}

	seen := make(map[NodeID]struct{}, len(votes))
	for _, vote := range votes {
		if vote.BlockHash != blockHash || vote.View != view {
			return nil, fmt.Errorf("vote from %d is for %s/%d, not %s/%d",
				vote.Voter, vote.BlockHash, vote.View, blockHash, view)
		}
		if _, dup := seen[vote.Voter]; dup {
			return nil, fmt.Errorf("duplicate vote from %d", vote.Voter)
		}
		seen[vote.Voter] = struct{}{}

		sig := make([]byte, len(vote.Signature))
		copy(sig, vote.Signature)
		qc.Signatures = append(qc.Signatures, VoterSignature{Voter: vote.Voter, Signature: sig})
	}

	sort.Slice(qc.Signatures, func(i, j int) bool {
		return qc.Signatures[i].Voter < qc.Signatures[j].Voter
	})

	return qc, nil
}

// NewGenesisQC returns the certificate that justifies the first block.
// It is the only QC that carries no signatures.
func NewGenesisQC(genesisHash BlockHash) *QuorumCertificate {
	return &QuorumCertificate{
		BlockHash: genesisHash,
		View:      0,
		Height:    0,
	}
}

// IsGenesis reports whether the QC is the signature-less genesis certificate.
func (qc *QuorumCertificate) IsGenesis() bool {
	return qc.View == 0 && qc.Height == 0 && len(qc.Signatures) == 0
}

// Validate performs the structural part of QC validation: threshold, membership,
// distinctness and canonical order. Signatures are checked by the aggregator.
func (qc *QuorumCertificate) Validate(validators *ValidatorSet) error {
	if qc.BlockHash.IsZero() {
		return fmt.Errorf("QC block hash cannot be empty")
	}

	if qc.IsGenesis() {
		return nil
	}

	if validators != nil && !validators.HasQuorum(len(qc.Signatures)) {
		return fmt.Errorf("QC does not meet quorum threshold: got %d votes, need %d",
			len(qc.Signatures), validators.QuorumThreshold())
	}

	for i, s := range qc.Signatures {
		if validators != nil && !validators.IsMember(s.Voter) {
			return fmt.Errorf("unknown voter %d at index %d", s.Voter, i)
		}
		if len(s.Signature) == 0 {
			return fmt.Errorf("empty signature from voter %d", s.Voter)
		}
		if i > 0 && qc.Signatures[i-1].Voter >= s.Voter {
			return fmt.Errorf("voters not strictly ascending at index %d", i)
		}
	}

	return nil
}

// HasQuorum returns true if the QC carries enough signatures for the validator set.
func (qc *QuorumCertificate) HasQuorum(validators *ValidatorSet) bool {
	return validators.HasQuorum(len(qc.Signatures))
}

// Voters returns the node IDs that contributed to this QC.
func (qc *QuorumCertificate) Voters() []NodeID {
	voters := make([]NodeID, len(qc.Signatures))
	for i, s := range qc.Signatures {
		voters[i] = s.Voter
	}
	return voters
}

// String returns a string representation of the QC for debugging.
func (qc *QuorumCertificate) String() string {
	return fmt.Sprintf("QC{BlockHash: %s, View: %d, Height: %d, Votes: %d}",
		qc.BlockHash, qc.View, qc.Height, len(qc.Signatures))
}
