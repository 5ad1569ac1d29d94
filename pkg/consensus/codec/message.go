package codec

import (
	"fmt"

	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/messages"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/types"
)

// EncodeMessage frames a consensus message as (version, type, body).
func EncodeMessage(msg messages.ConsensusMessage) ([]byte, error) {
	w := newWriter(256)
	w.u8(Version)

	switch m := msg.(type) {
	case *messages.ProposalMsg:
		if m.Block == nil {
			return nil, fmt.Errorf("proposal without block")
		}
		w.u8(uint8(messages.MsgTypeProposal))
		w.u16(uint16(m.Proposer))
		writeBlock(w, m.Block)

	case *messages.VoteMsg:
		if m.Vote == nil {
			return nil, fmt.Errorf("vote message without vote")
		}
		w.u8(uint8(messages.MsgTypeVote))
		writeVote(w, m.Vote)

	case *messages.NewViewMsg:
		if m.HighQC == nil {
			return nil, fmt.Errorf("NewView without high QC")
		}
		w.u8(uint8(messages.MsgTypeNewView))
		w.u64(uint64(m.ViewNumber))
		w.u16(uint16(m.SenderID))
		writeQC(w, m.HighQC)
		w.bytes(m.Signature)
		w.flag(m.LastVote != nil)
		if m.LastVote != nil {
			writeVote(w, m.LastVote)
		}

	case *messages.BlockRequestMsg:
		w.u8(uint8(messages.MsgTypeBlockRequest))
		w.hash(m.Hash)
		w.u64(uint64(m.KnownHeight))
		w.u16(uint16(m.Requester))

	case *messages.BlockResponseMsg:
		if len(m.Blocks) > messages.MaxSyncBlocks {
			return nil, ErrLengthOverflow
		}
		w.u8(uint8(messages.MsgTypeBlockResponse))
		w.u16(uint16(m.Responder))
		w.hash(m.Hash)
		w.u32(uint32(len(m.Blocks)))
		for _, b := range m.Blocks {
			if b == nil {
				return nil, fmt.Errorf("block response with nil block")
			}
			writeBlock(w, b)
		}

	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessageType, msg)
	}

	return w.result()
}

// DecodeMessage parses a frame produced by EncodeMessage.
func DecodeMessage(data []byte) (messages.ConsensusMessage, error) {
	r := newReader(data)
	r.version()
	msgType := messages.MessageType(r.u8())
	if r.err != nil {
		return nil, r.err
	}

	var msg messages.ConsensusMessage
	switch msgType {
	case messages.MsgTypeProposal:
		proposer := types.NodeID(r.u16())
		msg = messages.NewProposalMsg(readBlock(r), proposer)

	case messages.MsgTypeVote:
		msg = messages.NewVoteMsg(readVote(r))

	case messages.MsgTypeNewView:
		view := types.ViewNumber(r.u64())
		sender := types.NodeID(r.u16())
		highQC := readQC(r)
		nv := messages.NewNewViewMsg(view, highQC, sender, r.bytes())
		if r.flag() {
			nv.LastVote = readVote(r)
		}
		msg = nv

	case messages.MsgTypeBlockRequest:
		hash := r.hash()
		known := types.Height(r.u64())
		msg = messages.NewBlockRequestMsg(hash, known, types.NodeID(r.u16()))

	case messages.MsgTypeBlockResponse:
		responder := types.NodeID(r.u16())
		hash := r.hash()
		n := r.u32()
		if r.err == nil && n > messages.MaxSyncBlocks {
			return nil, ErrLengthOverflow
		}
		blocks := make([]*types.Block, 0, n)
		for i := uint32(0); i < n && r.err == nil; i++ {
			blocks = append(blocks, readBlock(r))
		}
		msg = messages.NewBlockResponseMsg(hash, blocks, responder)

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessageType, msgType)
	}

	if err := r.finish(); err != nil {
		return nil, err
	}
	return msg, nil
}
