package tempest

import (
	"encoding/binary"
	"math"
	"math/bits"

	"github.com/bytedance/gopkg/lang/dirtmake"
)

// Writer is a resizable little-endian byte buffer with cursor-relative
// patch-up operations (insert_bytes, pad). It backs the framer's
// "write length placeholder, append envelope, patch length" sequence
// (spec.md §4.4); the framer appends the IV and ciphertext in order and
// patches fields with PatchAt rather than splicing with InsertBytes.
//
// Growth is geometric (double until it fits, like the teacher's
// bytes.Buffer-backed MarshalMessage) but uses dirtmake.Bytes so grown
// regions are not zero-filled twice (grounded on cloudwego-gopkg's
// bufiox.BytesWriter).
type Writer struct {
	buf []byte
}

// NewWriter returns an empty, growable Writer.
func NewWriter() *Writer { return &Writer{buf: dirtmake.Bytes(0, 64)} }

// NewWriterSize returns an empty Writer pre-sized to at least n bytes.
func NewWriterSize(n int) *Writer {
	if n < 0 {
		n = 0
	}
	return &Writer{buf: dirtmake.Bytes(0, n)}
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

// Bytes returns the written region. The slice aliases the Writer's
// internal buffer; callers that retain it across further writes must copy.
func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) grow(extra int) {
	need := len(w.buf) + extra
	if need <= cap(w.buf) {
		return
	}
	ncap := 1 << bits.Len(uint(need-1))
	if ncap < 64 {
		ncap = 64
	}
	nbuf := dirtmake.Bytes(len(w.buf), ncap)
	copy(nbuf, w.buf)
	w.buf = nbuf
}

func (w *Writer) append(p []byte) {
	w.grow(len(p))
	w.buf = append(w.buf, p...)
}

// WriteRaw appends p verbatim with no length prefix, for framer stages
// that already know the boundary out of band (a serialized payload, an IV,
// a ciphertext or signature whose length was just written separately).
func (w *Writer) WriteRaw(p []byte) { w.append(p) }

// Pad appends n zero bytes, growing geometrically like every other write.
func (w *Writer) Pad(n int) {
	if n <= 0 {
		return
	}
	w.grow(n)
	for i := 0; i < n; i++ {
		w.buf = append(w.buf, 0)
	}
}

// InsertBytes splices p into the buffer at offset, shifting everything at
// or after offset to the right. offset is clamped to [0, Len()]. The framer
// does not call it; it appends its envelope fields in order instead.
func (w *Writer) InsertBytes(offset int, p []byte) {
	if offset < 0 {
		offset = 0
	}
	if offset > len(w.buf) {
		offset = len(w.buf)
	}
	w.grow(len(p))
	w.buf = append(w.buf, p...) // extend length first
	copy(w.buf[offset+len(p):], w.buf[offset:len(w.buf)-len(p)])
	copy(w.buf[offset:offset+len(p)], p)
}

// PatchAt overwrites len(p) bytes starting at offset in place, for
// rewriting the length field once the final size is known.
func (w *Writer) PatchAt(offset int, p []byte) {
	if offset < 0 || offset+len(p) > len(w.buf) {
		return
	}
	copy(w.buf[offset:offset+len(p)], p)
}

// Truncate drops the buffer back to n bytes.
func (w *Writer) Truncate(n int) {
	if n < 0 {
		n = 0
	}
	if n > len(w.buf) {
		return
	}
	w.buf = w.buf[:n]
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.append([]byte{1})
	} else {
		w.append([]byte{0})
	}
}

func (w *Writer) WriteUint8(v uint8)   { w.append([]byte{v}) }
func (w *Writer) WriteInt8(v int8)     { w.WriteUint8(uint8(v)) }

func (w *Writer) WriteUint16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.append(b[:])
}
func (w *Writer) WriteInt16(v int16) { w.WriteUint16(uint16(v)) }

func (w *Writer) WriteUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.append(b[:])
}
func (w *Writer) WriteInt32(v int32) { w.WriteUint32(uint32(v)) }

func (w *Writer) WriteUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.append(b[:])
}
func (w *Writer) WriteInt64(v int64) { w.WriteUint64(uint64(v)) }

func (w *Writer) WriteFloat32(v float32) { w.WriteUint32(math.Float32bits(v)) }
func (w *Writer) WriteFloat64(v float64) { w.WriteUint64(math.Float64bits(v)) }

// WriteDecimal writes a four-part 128-bit decimal as four little-endian
// uint32 words (spec.md §4.1).
func (w *Writer) WriteDecimal(parts [4]uint32) {
	for _, p := range parts {
		w.WriteUint32(p)
	}
}

// WriteBytes writes a length-prefixed (int32 LE) byte slice.
func (w *Writer) WriteBytes(b []byte) {
	w.WriteInt32(int32(len(b)))
	w.append(b)
}

// WriteString writes a length-prefixed (int32 LE) UTF-8 string. Per
// spec.md §4.1, length 0 means null, so an empty string and a null string
// encode identically; the package has no separate nullable-string writer.
func (w *Writer) WriteString(s string) {
	w.WriteInt32(int32(len(s)))
	w.append([]byte(s))
}

// Reader is a bounds-checked cursor over a byte slice. Per spec.md §9, all
// remaining-length comparisons use '>' (read-to-end-of-buffer prohibited
// even when the exact last byte is available), not '>=' as the original
// source used.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for sequential reads starting at offset 0.
func NewReader(buf []byte) *Reader { return &Reader{buf: buf} }

// Pos returns the current read cursor.
func (r *Reader) Pos() int { return r.pos }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

// Seek repositions the cursor absolutely.
func (r *Reader) Seek(pos int) { r.pos = pos }

func (r *Reader) need(n int) error {
	if n > r.Remaining() {
		return ErrBufferUnderflow
	}
	return nil
}

func (r *Reader) ReadBool() (bool, error) {
	if err := r.need(1); err != nil {
		return false, err
	}
	v := r.buf[r.pos] != 0
	r.pos++
	return v, nil
}

func (r *Reader) ReadUint8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}
func (r *Reader) ReadInt8() (int8, error) {
	v, err := r.ReadUint8()
	return int8(v), err
}

func (r *Reader) ReadUint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}
func (r *Reader) ReadInt16() (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

func (r *Reader) ReadUint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}
func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

func (r *Reader) ReadUint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}
func (r *Reader) ReadInt64() (int64, error) {
	v, err := r.ReadUint64()
	return int64(v), err
}

func (r *Reader) ReadFloat32() (float32, error) {
	v, err := r.ReadUint32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

func (r *Reader) ReadFloat64() (float64, error) {
	v, err := r.ReadUint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// ReadDecimal reads a four-part 128-bit decimal (spec.md §4.1).
func (r *Reader) ReadDecimal() ([4]uint32, error) {
	var parts [4]uint32
	for i := range parts {
		v, err := r.ReadUint32()
		if err != nil {
			return parts, err
		}
		parts[i] = v
	}
	return parts, nil
}

// ReadBytes reads a length-prefixed (int32 LE) byte slice.
func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, ErrInvalidMessage
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	copy(b, r.buf[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return b, nil
}

// ReadString reads a length-prefixed (int32 LE) UTF-8 string; a declared
// length of 0 yields "" (spec.md treats 0 as null, which for a string type
// collapses to the empty string at this layer).
func (r *Reader) ReadString() (string, error) {
	b, err := r.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadRaw returns (without copying) the next n bytes and advances past
// them, for callers that need to hand a sub-slice to another decoder
// (e.g. the framer pulling an IV, ciphertext or signature out of a frame).
func (r *Reader) ReadRaw(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}
