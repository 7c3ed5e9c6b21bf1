package consensus

import "encoding/binary"

// cursor is a forward-only little-endian byte reader used by
// ParseHeaderBytes in header.go. Grounded on the teacher's consensus/parse.go cursor idiom.
type cursor struct {
	buf []byte
	off int
}

func newCursor(b []byte) *cursor {
	return &cursor{buf: b}
}

func (c *cursor) readExact(n int) ([]byte, error) {
	if n < 0 {
		return nil, newErr(ErrParse, "negative length")
	}
	if c.off+n > len(c.buf) {
		return nil, newErr(ErrParse, "unexpected EOF")
	}
	out := c.buf[c.off : c.off+n]
	c.off += n
	return out, nil
}

func (c *cursor) readU32LE() (uint32, error) {
	b, err := c.readExact(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (c *cursor) readU64LE() (uint64, error) {
	b, err := c.readExact(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (c *cursor) remaining() int {
	return len(c.buf) - c.off
}

func toIntLen(v uint64, name string) (int, error) {
	if v > MaxTxInOuts*4 {
		// Generous upper bound before allocation; real bound (script size,
		// in/out count) is enforced by the caller against the precise field.
		return 0, newErr(ErrParse, name+": length too large")
	}
	return int(v), nil
}

// byteWriter accumulates a little-endian encoding in-place.
type byteWriter struct {
	buf []byte
}

func (w *byteWriter) putU32LE(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *byteWriter) putU64LE(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *byteWriter) putI32LE(v int32) {
	w.putU32LE(uint32(v))
}

func (w *byteWriter) putBytes(b []byte) {
	w.buf = append(w.buf, b...)
}
