package codec

import (
	"encoding/binary"
	"math"

	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/types"
)

// writer appends little-endian primitives to a buffer. The first error sticks
// and every later write is a no-op.
type writer struct {
	buf []byte
	err error
}

func newWriter(sizeHint int) *writer {
	return &writer{buf: make([]byte, 0, sizeHint)}
}

func (w *writer) u8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *writer) u16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *writer) u32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *writer) u64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *writer) hash(h types.BlockHash) {
	w.buf = append(w.buf, h[:]...)
}

func (w *writer) flag(present bool) {
	if present {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

// bytes writes a u32 length prefix followed by b.
func (w *writer) bytes(b []byte) {
	if w.err != nil {
		return
	}
	if uint64(len(b)) > math.MaxUint32 || len(b) > MaxBytesLength {
		w.err = ErrLengthOverflow
		return
	}
	w.u32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *writer) result() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.buf, nil
}

// reader consumes little-endian primitives. Like writer, the first error sticks.
type reader struct {
	buf []byte
	err error
}

func newReader(b []byte) *reader {
	return &reader{buf: b}
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf) < n {
		r.err = ErrUnexpectedEOF
		return nil
	}
	out := r.buf[:n]
	r.buf = r.buf[n:]
	return out
}

func (r *reader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) hash() types.BlockHash {
	var h types.BlockHash
	if b := r.take(32); b != nil {
		copy(h[:], b)
	}
	return h
}

func (r *reader) flag() bool {
	v := r.u8()
	if r.err == nil && v > 1 {
		r.err = ErrInvalidFlag
	}
	return v == 1
}

// bytes reads a u32 length prefix and returns a copy of that many bytes.
func (r *reader) bytes() []byte {
	n := r.u32()
	if r.err != nil {
		return nil
	}
	if n > MaxBytesLength {
		r.err = ErrLengthOverflow
		return nil
	}
	b := r.take(int(n))
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (r *reader) version() {
	v := r.u8()
	if r.err == nil && v != Version {
		r.err = ErrInvalidVersion
	}
}

// finish reports the sticky error, or ErrTrailingBytes if input remains.
func (r *reader) finish() error {
	if r.err != nil {
		return r.err
	}
	if len(r.buf) != 0 {
		return ErrTrailingBytes
	}
	return nil
}
