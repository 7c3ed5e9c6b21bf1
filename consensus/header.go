package consensus

const HeaderBytesLen = 80

// HeaderBytes is the fixed 80-byte little-endian layout of spec.md §6:
// version(4) || prev_block_hash(32) || merkle_root(32) || time(4) ||
// bits(4) || nonce(4).
func HeaderBytes(h BlockHeader) []byte {
	w := &byteWriter{buf: make([]byte, 0, HeaderBytesLen)}
	w.putI32LE(h.Version)
	w.putBytes(h.PrevBlockHash[:])
	w.putBytes(h.MerkleRoot[:])
	w.putU32LE(h.Time)
	w.putU32LE(h.Bits)
	w.putU32LE(h.Nonce)
	return w.buf
}

// HeaderHash is double-SHA-256 of HeaderBytes (spec.md §4.3).
func HeaderHash(h BlockHeader) [32]byte {
	return doubleSHA256(HeaderBytes(h))
}

// ParseHeaderBytes decodes a fixed 80-byte buffer back into a BlockHeader.
func ParseHeaderBytes(b []byte) (BlockHeader, error) {
	if len(b) != HeaderBytesLen {
		return BlockHeader{}, newErr(ErrParse, "header must be 80 bytes")
	}
	c := newCursor(b)
	var h BlockHeader
	v, err := c.readU32LE()
	if err != nil {
		return BlockHeader{}, err
	}
	h.Version = int32(v)
	prev, err := c.readExact(32)
	if err != nil {
		return BlockHeader{}, err
	}
	copy(h.PrevBlockHash[:], prev)
	merkle, err := c.readExact(32)
	if err != nil {
		return BlockHeader{}, err
	}
	copy(h.MerkleRoot[:], merkle)
	if h.Time, err = c.readU32LE(); err != nil {
		return BlockHeader{}, err
	}
	if h.Bits, err = c.readU32LE(); err != nil {
		return BlockHeader{}, err
	}
	if h.Nonce, err = c.readU32LE(); err != nil {
		return BlockHeader{}, err
	}
	return h, nil
}
