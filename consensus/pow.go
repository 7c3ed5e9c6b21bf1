package consensus

import (
	"bytes"
	"math/big"
)

// BitsToTarget decodes Bitcoin-style compact nBits into a 32-byte
// big-endian target (spec.md §4.3). e = bits>>24, m = bits&0x7fffff.
func BitsToTarget(bits uint32) ([32]byte, error) {
	var out [32]byte
	e := bits >> 24
	m := bits & 0x7fffff
	if bits == 0 || m == 0 {
		return out, newErr(ErrInvalidBits, "zero mantissa or bits")
	}
	if e <= 3 {
		shift := 8 * (3 - e)
		v := m >> shift
		out[29] = byte(v >> 16)
		out[30] = byte(v >> 8)
		out[31] = byte(v)
		return out, nil
	}
	msbIndex := int(32 - e)
	if msbIndex < 0 || msbIndex+3 > 32 {
		return out, newErr(ErrInvalidBits, "exponent out of range")
	}
	out[msbIndex] = byte(m >> 16)
	out[msbIndex+1] = byte(m >> 8)
	out[msbIndex+2] = byte(m)
	return out, nil
}

// TargetToBits re-encodes a 32-byte big-endian target into compact nBits
// form, the inverse of BitsToTarget, used by the retarget step (spec.md §4.4).
func TargetToBits(target [32]byte) uint32 {
	// Find the first non-zero byte (most significant).
	first := -1
	for i, b := range target {
		if b != 0 {
			first = i
			break
		}
	}
	if first == -1 {
		return 0
	}
	size := 32 - first
	var mantissa uint32
	switch {
	case size <= 3:
		// Right-align the available bytes into the low bits of mantissa.
		for i := first; i < 32; i++ {
			mantissa = mantissa<<8 | uint32(target[i])
		}
		mantissa <<= uint(8 * (3 - size))
	default:
		mantissa = uint32(target[first])<<16 | uint32(target[first+1])<<8 | uint32(target[first+2])
	}
	// If the high bit of the mantissa's top byte is set, compact encoding
	// would be read as negative; shift down one byte and bump size.
	if mantissa&0x800000 != 0 {
		mantissa >>= 8
		size++
	}
	return uint32(size)<<24 | mantissa
}

// CheckPoW reports whether HeaderHash(h), read as a 32-byte big-endian
// integer, is <= BitsToTarget(h.Bits) (spec.md §4.3).
func CheckPoW(h BlockHeader) (bool, error) {
	target, err := BitsToTarget(h.Bits)
	if err != nil {
		return false, err
	}
	hash := HeaderHash(h)
	return bytes.Compare(hash[:], target[:]) <= 0, nil
}

// MineHeader scans nonce values starting at h.Nonce, wrapping on overflow,
// until CheckPoW succeeds or maxNonce+1 probes have been tried (spec.md §4.3).
// It returns (winningNonce, true) on success, (0, false) otherwise.
func MineHeader(h BlockHeader, maxNonce uint32) (uint32, bool) {
	nonce := h.Nonce
	for i := uint64(0); i <= uint64(maxNonce); i++ {
		cand := h
		cand.Nonce = nonce
		if ok, err := CheckPoW(cand); err == nil && ok {
			return nonce, true
		}
		nonce++
	}
	return 0, false
}

// workPerTargetNumerator is 2^120, the fixed numerator of the work formula
// (spec.md §4.3): work_from_bits(bits) = 2^120 / (target+1).
var workPerTargetNumerator = new(big.Int).Lsh(big.NewInt(1), 120)

// maxU128 bounds the saturating domain of WorkFromBits.
var maxU128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// WorkFromBits quantifies the work represented by a difficulty target,
// saturating at the u128 domain, for comparing cumulative chain work
// (spec.md §4.3).
func WorkFromBits(bits uint32) (*big.Int, error) {
	target, err := BitsToTarget(bits)
	if err != nil {
		return nil, err
	}
	t := new(big.Int).SetBytes(target[:])
	denom := new(big.Int).Add(t, big.NewInt(1))
	work := new(big.Int).Div(workPerTargetNumerator, denom)
	if work.Cmp(maxU128) > 0 {
		work = new(big.Int).Set(maxU128)
	}
	return work, nil
}
