package packet

import (
	"encoding/binary"
	"math"
)

// Writer builds a feed packet. All multi-byte writes are little-endian.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 64)}
}

func NewWriterWithOpcode(opcode byte) *Writer {
	w := &Writer{buf: make([]byte, 0, 64)}
	w.WriteC(opcode)
	return w
}

// WriteC writes 1 byte.
func (w *Writer) WriteC(v byte) {
	w.buf = append(w.buf, v)
}

// WriteBool writes 1 byte, 1 for true.
func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteC(1)
		return
	}
	w.WriteC(0)
}

// WriteH writes 2 bytes little-endian.
func (w *Writer) WriteH(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// WriteD writes 4 bytes little-endian (signed or unsigned via cast).
func (w *Writer) WriteD(v int32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	w.buf = append(w.buf, b[:]...)
}

// WriteQ writes 8 bytes little-endian.
func (w *Writer) WriteQ(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// WriteF writes an IEEE 754 float64.
func (w *Writer) WriteF(v float64) {
	w.WriteQ(math.Float64bits(v))
}

// WriteS writes a null-terminated UTF-8 string. Embedded NULs are dropped.
func (w *Writer) WriteS(s string) {
	for i := 0; i < len(s); i++ {
		if s[i] != 0 {
			w.buf = append(w.buf, s[i])
		}
	}
	w.buf = append(w.buf, 0)
}

// WriteBytes writes raw bytes.
func (w *Writer) WriteBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// Bytes returns the packet content.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the current length.
func (w *Writer) Len() int {
	return len(w.buf)
}
