// Package codec implements the single canonical binary encoding used for every
// consensus message and persisted record.
//
// Layout rules:
//   - a version byte leads every top-level value; nested values carry none
//   - integers are little-endian, NodeIDs are u16, views and heights u64
//   - byte strings are prefixed with a u32 length
//   - hashes are fixed 32-byte arrays
//   - optional values are preceded by a 0/1 presence byte
//
// Field order is consensus relevant. Changing it changes block hashes and
// signatures, and the golden vectors under testdata/ will fail.
package codec

import (
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/types"
)

const (
	// Version is the only encoding version currently understood.
	Version uint8 = 1

	// MaxBytesLength bounds any single length-prefixed field.
	MaxBytesLength = 16 << 20

	// MaxSignatures bounds the number of entries in a QC.
	MaxSignatures = types.MaxValidators

	// MaxBatchItems bounds the number of entries in a payload batch.
	MaxBatchItems = 1 << 16
)

// Signing domains keep a vote signature from ever verifying as a NewView
// signature and vice versa.
const (
	domainVote    uint8 = 0x01
	domainNewView uint8 = 0x02
)

// Hasher is the part of the crypto adapter the codec needs to derive hashes.
type Hasher interface {
	Hash(data []byte) types.BlockHash
}

// EncodeBlockHeader returns the hash preimage of a block. The payload is
// represented only by its hash and the justification only by (hash, view).
func EncodeBlockHeader(b *types.Block) []byte {
	w := newWriter(123)
	w.u8(Version)
	w.u64(uint64(b.Height))
	w.u64(uint64(b.View))
	w.hash(b.ParentHash)
	w.hash(b.PayloadHash)
	w.u16(uint16(b.Proposer))
	if b.Justify != nil {
		w.hash(b.Justify.BlockHash)
		w.u64(uint64(b.Justify.View))
	} else {
		w.hash(types.BlockHash{})
		w.u64(0)
	}
	return w.buf
}

// BlockHash computes the canonical hash of b.
func BlockHash(h Hasher, b *types.Block) types.BlockHash {
	return h.Hash(EncodeBlockHeader(b))
}

// VoteSigningBytes is what a validator signs when voting for (hash, view).
func VoteSigningBytes(hash types.BlockHash, view types.ViewNumber) []byte {
	w := newWriter(42)
	w.u8(Version)
	w.u8(domainVote)
	w.hash(hash)
	w.u64(uint64(view))
	return w.buf
}

// NewViewSigningBytes is what a validator signs when announcing view with highQC.
func NewViewSigningBytes(view types.ViewNumber, highQC *types.QuorumCertificate) []byte {
	w := newWriter(58)
	w.u8(Version)
	w.u8(domainNewView)
	w.u64(uint64(view))
	w.hash(highQC.BlockHash)
	w.u64(uint64(highQC.View))
	return w.buf
}

// EncodeBlock encodes a full block, payload included.
func EncodeBlock(b *types.Block) ([]byte, error) {
	w := newWriter(160 + len(b.Payload))
	w.u8(Version)
	writeBlock(w, b)
	return w.result()
}

// DecodeBlock decodes a block produced by EncodeBlock.
func DecodeBlock(data []byte) (*types.Block, error) {
	r := newReader(data)
	r.version()
	b := readBlock(r)
	if err := r.finish(); err != nil {
		return nil, err
	}
	return b, nil
}

// EncodeQC encodes a quorum certificate.
func EncodeQC(qc *types.QuorumCertificate) ([]byte, error) {
	w := newWriter(52 + len(qc.Signatures)*70)
	w.u8(Version)
	writeQC(w, qc)
	return w.result()
}

// DecodeQC decodes a quorum certificate produced by EncodeQC.
func DecodeQC(data []byte) (*types.QuorumCertificate, error) {
	r := newReader(data)
	r.version()
	qc := readQC(r)
	if err := r.finish(); err != nil {
		return nil, err
	}
	return qc, nil
}

// EncodeVote encodes a vote.
func EncodeVote(v *types.Vote) ([]byte, error) {
	w := newWriter(48 + len(v.Signature))
	w.u8(Version)
	writeVote(w, v)
	return w.result()
}

// DecodeVote decodes a vote produced by EncodeVote.
func DecodeVote(data []byte) (*types.Vote, error) {
	r := newReader(data)
	r.version()
	v := readVote(r)
	if err := r.finish(); err != nil {
		return nil, err
	}
	return v, nil
}

// EncodeSafetyData encodes the crash-recovery record.
func EncodeSafetyData(sd *types.SafetyData) ([]byte, error) {
	w := newWriter(256)
	w.u8(Version)
	writeOptionalQC(w, sd.LockedQC)
	writeOptionalQC(w, sd.HighQC)
	w.u64(uint64(sd.LastVotedView))
	w.u64(uint64(sd.CommittedHeight))
	w.u64(uint64(sd.CurrentView))
	return w.result()
}

// DecodeSafetyData decodes a record produced by EncodeSafetyData.
func DecodeSafetyData(data []byte) (*types.SafetyData, error) {
	r := newReader(data)
	r.version()
	sd := &types.SafetyData{
		LockedQC: readOptionalQC(r),
		HighQC:   readOptionalQC(r),
	}
	sd.LastVotedView = types.ViewNumber(r.u64())
	sd.CommittedHeight = types.Height(r.u64())
	sd.CurrentView = types.ViewNumber(r.u64())
	if err := r.finish(); err != nil {
		return nil, err
	}
	return sd, nil
}

// EncodeBatch packs opaque items into a single block payload.
func EncodeBatch(items [][]byte) ([]byte, error) {
	if len(items) > MaxBatchItems {
		return nil, ErrLengthOverflow
	}
	size := 5
	for _, item := range items {
		size += 4 + len(item)
	}
	w := newWriter(size)
	w.u8(Version)
	w.u32(uint32(len(items)))
	for _, item := range items {
		w.bytes(item)
	}
	return w.result()
}

// DecodeBatch unpacks a payload produced by EncodeBatch.
func DecodeBatch(data []byte) ([][]byte, error) {
	r := newReader(data)
	r.version()
	n := r.u32()
	if r.err == nil && n > MaxBatchItems {
		return nil, ErrLengthOverflow
	}
	items := make([][]byte, 0, n)
	for i := uint32(0); i < n && r.err == nil; i++ {
		items = append(items, r.bytes())
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return items, nil
}

func writeBlock(w *writer, b *types.Block) {
	w.hash(b.Hash)
	w.u64(uint64(b.Height))
	w.u64(uint64(b.View))
	w.hash(b.ParentHash)
	w.hash(b.PayloadHash)
	w.u16(uint16(b.Proposer))
	writeOptionalQC(w, b.Justify)
	w.bytes(b.Payload)
}

func readBlock(r *reader) *types.Block {
	b := &types.Block{}
	b.Hash = r.hash()
	b.Height = types.Height(r.u64())
	b.View = types.ViewNumber(r.u64())
	b.ParentHash = r.hash()
	b.PayloadHash = r.hash()
	b.Proposer = types.NodeID(r.u16())
	b.Justify = readOptionalQC(r)
	b.Payload = r.bytes()
	return b
}

func writeQC(w *writer, qc *types.QuorumCertificate) {
	if len(qc.Signatures) > MaxSignatures {
		if w.err == nil {
			w.err = ErrLengthOverflow
		}
		return
	}
	w.hash(qc.BlockHash)
	w.u64(uint64(qc.View))
	w.u64(uint64(qc.Height))
	w.u32(uint32(len(qc.Signatures)))
	for _, s := range qc.Signatures {
		w.u16(uint16(s.Voter))
		w.bytes(s.Signature)
	}
}

func readQC(r *reader) *types.QuorumCertificate {
	qc := &types.QuorumCertificate{}
	qc.BlockHash = r.hash()
	qc.View = types.ViewNumber(r.u64())
	qc.Height = types.Height(r.u64())
	n := r.u32()
	if r.err != nil {
		return qc
	}
	if n > MaxSignatures {
		r.err = ErrLengthOverflow
		return qc
	}
	if n > 0 {
		qc.Signatures = make([]types.VoterSignature, 0, n)
	}
	for i := uint32(0); i < n && r.err == nil; i++ {
		voter := types.NodeID(r.u16())
		sig := r.bytes()
		qc.Signatures = append(qc.Signatures, types.VoterSignature{Voter: voter, Signature: sig})
	}
	return qc
}

func writeOptionalQC(w *writer, qc *types.QuorumCertificate) {
	w.flag(qc != nil)
	if qc != nil {
		writeQC(w, qc)
	}
}

func readOptionalQC(r *reader) *types.QuorumCertificate {
	if !r.flag() {
		return nil
	}
	return readQC(r)
}

func writeVote(w *writer, v *types.Vote) {
	w.hash(v.BlockHash)
	w.u64(uint64(v.View))
	w.u16(uint16(v.Voter))
	w.bytes(v.Signature)
}

func readVote(r *reader) *types.Vote {
	v := &types.Vote{}
	v.BlockHash = r.hash()
	v.View = types.ViewNumber(r.u64())
	v.Voter = types.NodeID(r.u16())
	v.Signature = r.bytes()
	return v
}
