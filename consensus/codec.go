package consensus

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// doubleSHA256 is the consensus hash primitive used for txids, header
// hashes, and merkle nodes throughout (spec.md §4.1, §4.3).
func doubleSHA256(b []byte) [32]byte {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	return second
}

// validateTxBounds enforces the structural invariants of spec.md §3 before
// any encoding is attempted: in/out counts and script lengths.
func validateTxBounds(tx *Transaction) error {
	if tx == nil {
		return newErr(ErrParse, "nil transaction")
	}
	if len(tx.Vin) > MaxTxInOuts {
		return newErr(ErrTooManyInOut, "too many inputs")
	}
	if len(tx.Vout) > MaxTxInOuts {
		return newErr(ErrTooManyInOut, "too many outputs")
	}
	for _, in := range tx.Vin {
		if len(in.ScriptSig) > MaxScriptSize {
			return newErr(ErrTooLargeScript, "script_sig too large")
		}
	}
	for _, out := range tx.Vout {
		if len(out.ScriptPubkey) > MaxScriptSize {
			return newErr(ErrTooLargeScript, "script_pubkey too large")
		}
	}
	return nil
}

// CanonicalBytesV2 is the deterministic little-endian encoding of tx
// described in spec.md §4.1. Validation runs first: bound violations fail
// with TooLargeScript/TooManyInOut before any bytes are produced.
func CanonicalBytesV2(tx *Transaction) ([]byte, error) {
	if err := validateTxBounds(tx); err != nil {
		return nil, err
	}
	w := &byteWriter{buf: make([]byte, 0, 128)}
	w.putI32LE(tx.Version)
	w.putU64LE(uint64(len(tx.Vin)))
	for _, in := range tx.Vin {
		w.putBytes(in.Prevout.Txid[:])
		w.putU32LE(in.Prevout.Vout)
		w.putU64LE(uint64(len(in.ScriptSig)))
		w.putBytes(in.ScriptSig)
		w.putU32LE(in.Sequence)
	}
	w.putU64LE(uint64(len(tx.Vout)))
	for _, out := range tx.Vout {
		w.putU64LE(out.Value)
		w.putU64LE(uint64(len(out.ScriptPubkey)))
		w.putBytes(out.ScriptPubkey)
	}
	w.putU32LE(tx.LockTime)
	return w.buf, nil
}

// TxIDV2 is the double-SHA-256 of CanonicalBytesV2.
func TxIDV2(tx *Transaction) ([32]byte, error) {
	b, err := CanonicalBytesV2(tx)
	if err != nil {
		return [32]byte{}, err
	}
	return doubleSHA256(b), nil
}

// txJSONV1 fixes the field order (version, vin, vout, lock_time) of the
// legacy JSON encoding (spec.md §4.1). A plain struct with json tags in
// this order already produces that order via encoding/json's field-order
// preservation.
type txJSONV1 struct {
	Version  int32      `json:"version"`
	Vin      []txInJSON `json:"vin"`
	Vout     []txOutJSON `json:"vout"`
	LockTime uint32     `json:"lock_time"`
}

type txInJSON struct {
	PrevTxid  string `json:"prev_txid"`
	PrevVout  uint32 `json:"prev_vout"`
	ScriptSig string `json:"script_sig"`
	Sequence  uint32 `json:"sequence"`
}

type txOutJSON struct {
	Value        uint64 `json:"value"`
	ScriptPubkey string `json:"script_pubkey"`
}

// CanonicalBytesV1 is the UTF-8 JSON encoding used only for backward
// compatibility and reindex mapping (spec.md §4.1).
func CanonicalBytesV1(tx *Transaction) ([]byte, error) {
	if err := validateTxBounds(tx); err != nil {
		return nil, err
	}
	disk := txJSONV1{
		Version:  tx.Version,
		LockTime: tx.LockTime,
		Vin:      make([]txInJSON, len(tx.Vin)),
		Vout:     make([]txOutJSON, len(tx.Vout)),
	}
	for i, in := range tx.Vin {
		disk.Vin[i] = txInJSON{
			PrevTxid:  hex.EncodeToString(in.Prevout.Txid[:]),
			PrevVout:  in.Prevout.Vout,
			ScriptSig: hex.EncodeToString(in.ScriptSig),
			Sequence:  in.Sequence,
		}
	}
	for i, out := range tx.Vout {
		disk.Vout[i] = txOutJSON{
			Value:        out.Value,
			ScriptPubkey: hex.EncodeToString(out.ScriptPubkey),
		}
	}
	return json.Marshal(disk)
}

// TxIDV1 is the double-SHA-256 of CanonicalBytesV1.
func TxIDV1(tx *Transaction) ([32]byte, error) {
	b, err := CanonicalBytesV1(tx)
	if err != nil {
		return [32]byte{}, err
	}
	return doubleSHA256(b), nil
}

// SighashV2 is the digest an external wallet signs to authorize spending:
// txid_v2 of tx with every script_sig cleared (spec.md §4.1, §9). The core
// never verifies signatures against it; it only needs to be stable given
// non-script fields.
func SighashV2(tx *Transaction) ([32]byte, error) {
	if tx == nil {
		return [32]byte{}, newErr(ErrParse, "nil transaction")
	}
	cleared := *tx
	cleared.Vin = make([]TxIn, len(tx.Vin))
	for i, in := range tx.Vin {
		cleared.Vin[i] = TxIn{Prevout: in.Prevout, Sequence: in.Sequence}
	}
	return TxIDV2(&cleared)
}
