package dba

import (
	"bytes"
	"encoding/binary"
)

// binWriter appends fixed-width fields in the target byte order. Pointers
// are written at the target's pointer width.
type binWriter struct {
	buf   bytes.Buffer
	order binary.ByteOrder
	ptrSz int
}

func newBinWriter(t Target) *binWriter {
	return &binWriter{order: t.Order, ptrSz: t.PointerSize}
}

func (w *binWriter) raw(b []byte) { w.buf.Write(b) }

func (w *binWriter) u8(v uint8) { w.buf.WriteByte(v) }

func (w *binWriter) u16(v uint16) {
	var b [2]byte
	w.order.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

func (w *binWriter) u32(v uint32) {
	var b [4]byte
	w.order.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *binWriter) ptr(v uint64) {
	if w.ptrSz == 8 {
		var b [8]byte
		w.order.PutUint64(b[:], v)
		w.buf.Write(b[:])
		return
	}
	w.u32(uint32(v))
}

// pad appends zero bytes up to the next multiple of align.
func (w *binWriter) pad(align int) {
	for w.buf.Len()%align != 0 {
		w.buf.WriteByte(0)
	}
}

func (w *binWriter) bytes() []byte { return w.buf.Bytes() }

func alignUp(n, align int) int {
	return (n + align - 1) / align * align
}

// stringTable stores NUL-terminated strings, deduplicated.
type stringTable struct {
	buf     bytes.Buffer
	offsets map[string]uint64
}

func newStringTable() *stringTable {
	return &stringTable{offsets: make(map[string]uint64)}
}

func (s *stringTable) add(str string) uint64 {
	if off, ok := s.offsets[str]; ok {
		return off
	}
	off := uint64(s.buf.Len())
	s.buf.WriteString(str)
	s.buf.WriteByte(0)
	s.offsets[str] = off
	return off
}

func (s *stringTable) len() int { return s.buf.Len() }

func (s *stringTable) bytes() []byte { return s.buf.Bytes() }
