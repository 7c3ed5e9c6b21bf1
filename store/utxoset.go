package store

import (
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"go.utxod.dev/node/consensus"
)

// encodeOutpoint is spec.md §4.9's utxo key: txid ‖ vout_le (36 bytes).
func encodeOutpoint(op consensus.OutPoint) []byte {
	out := make([]byte, 36)
	copy(out[:32], op.Txid[:])
	binary.LittleEndian.PutUint32(out[32:36], op.Vout)
	return out
}

func decodeOutpoint(b []byte) (consensus.OutPoint, error) {
	if len(b) != 36 {
		return consensus.OutPoint{}, fmt.Errorf("store: outpoint key malformed")
	}
	var op consensus.OutPoint
	copy(op.Txid[:], b[:32])
	op.Vout = binary.LittleEndian.Uint32(b[32:36])
	return op, nil
}

// encodeTxOut is spec.md §4.9's utxo value: value_le(8) ‖ script_len_le(8) ‖
// script_bytes.
func encodeTxOut(out consensus.TxOut) []byte {
	b := make([]byte, 8+8+len(out.ScriptPubkey))
	binary.LittleEndian.PutUint64(b[0:8], out.Value)
	binary.LittleEndian.PutUint64(b[8:16], uint64(len(out.ScriptPubkey)))
	copy(b[16:], out.ScriptPubkey)
	return b
}

func decodeTxOut(b []byte) (consensus.TxOut, error) {
	if len(b) < 16 {
		return consensus.TxOut{}, fmt.Errorf("store: utxo value truncated")
	}
	value := binary.LittleEndian.Uint64(b[0:8])
	scriptLen := binary.LittleEndian.Uint64(b[8:16])
	if uint64(len(b)-16) != scriptLen {
		return consensus.TxOut{}, fmt.Errorf("store: utxo script_len mismatch")
	}
	script := append([]byte(nil), b[16:]...)
	return consensus.TxOut{Value: value, ScriptPubkey: script}, nil
}

// Get satisfies consensus.UtxoSet.
func (s *Store) Get(op consensus.OutPoint) (consensus.TxOut, bool) {
	key := encodeOutpoint(op)
	var out consensus.TxOut
	var ok bool
	_ = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketUtxo).Get(key)
		if v == nil {
			return nil
		}
		decoded, err := decodeTxOut(v)
		if err != nil {
			return nil
		}
		out, ok = decoded, true
		return nil
	})
	return out, ok
}

// Insert satisfies consensus.UtxoSet, updating meta.utxo_count.
func (s *Store) Insert(op consensus.OutPoint, out consensus.TxOut) {
	_ = s.db.Update(func(tx *bolt.Tx) error {
		return s.insertLocked(tx, op, out)
	})
}

func (s *Store) insertLocked(tx *bolt.Tx, op consensus.OutPoint, out consensus.TxOut) error {
	utxo := tx.Bucket(bucketUtxo)
	key := encodeOutpoint(op)
	existed := utxo.Get(key) != nil
	if err := utxo.Put(key, encodeTxOut(out)); err != nil {
		return err
	}
	if !existed {
		return bumpUtxoCount(tx, 1)
	}
	return nil
}

// Remove satisfies consensus.UtxoSet.
func (s *Store) Remove(op consensus.OutPoint) (consensus.TxOut, bool) {
	var out consensus.TxOut
	var ok bool
	_ = s.db.Update(func(tx *bolt.Tx) error {
		removed, found, err := s.removeLocked(tx, op)
		if err != nil {
			return err
		}
		out, ok = removed, found
		return nil
	})
	return out, ok
}

func (s *Store) removeLocked(tx *bolt.Tx, op consensus.OutPoint) (consensus.TxOut, bool, error) {
	utxo := tx.Bucket(bucketUtxo)
	key := encodeOutpoint(op)
	v := utxo.Get(key)
	if v == nil {
		return consensus.TxOut{}, false, nil
	}
	out, err := decodeTxOut(v)
	if err != nil {
		return consensus.TxOut{}, false, err
	}
	if err := utxo.Delete(key); err != nil {
		return consensus.TxOut{}, false, err
	}
	if err := bumpUtxoCount(tx, -1); err != nil {
		return consensus.TxOut{}, false, err
	}
	return out, true, nil
}

func bumpUtxoCount(tx *bolt.Tx, delta int64) error {
	meta := tx.Bucket(bucketMeta)
	cur := int64(0)
	if v := meta.Get([]byte(metaKeyUtxoCount)); len(v) == 8 {
		cur = int64(binary.LittleEndian.Uint64(v))
	}
	cur += delta
	if cur < 0 {
		cur = 0
	}
	return meta.Put([]byte(metaKeyUtxoCount), encodeU64(uint64(cur)))
}

// Len satisfies consensus.UtxoSet.
func (s *Store) Len() int {
	var n int
	_ = s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketUtxo).Stats().KeyN
		return nil
	})
	return n
}

// ApplyTx mirrors consensus.InMemoryUtxoSet.ApplyTx but runs inside a single
// bbolt write transaction, so a failure midway leaves the database
// unmodified (spec.md §4.2).
func (s *Store) ApplyTx(txn *consensus.Transaction) (consensus.ApplyReceipt, error) {
	if _, err := consensus.ValidateValueConservation(txn, s); err != nil {
		return consensus.ApplyReceipt{}, err
	}

	var receipt consensus.ApplyReceipt
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, in := range txn.Vin {
			out, ok, err := s.removeLocked(tx, in.Prevout)
			if err != nil {
				return err
			}
			if !ok {
				return consensus.NewError(consensus.ErrMissingUtxo, "prevout missing during apply")
			}
			receipt.Removed = append(receipt.Removed, consensus.RemovedEntry{OutPoint: in.Prevout, TxOut: out})
		}

		txid, err := consensus.TxIDV2(txn)
		if err != nil {
			return err
		}
		for i, out := range txn.Vout {
			op := consensus.OutPoint{Txid: txid, Vout: uint32(i)}
			if tx.Bucket(bucketUtxo).Get(encodeOutpoint(op)) != nil {
				return consensus.NewError(consensus.ErrDuplicateOutput, "output outpoint collision")
			}
			if err := s.insertLocked(tx, op, out); err != nil {
				return err
			}
			receipt.Inserted = append(receipt.Inserted, op)
		}
		return nil
	})
	if err != nil {
		return consensus.ApplyReceipt{}, err
	}
	return receipt, nil
}

// ApplyCoinbase mirrors consensus.InMemoryUtxoSet.ApplyCoinbase transactionally.
func (s *Store) ApplyCoinbase(txn *consensus.Transaction) (consensus.ApplyReceipt, error) {
	if err := consensus.ValidateCoinbaseShape(txn); err != nil {
		return consensus.ApplyReceipt{}, err
	}
	txid, err := consensus.TxIDV2(txn)
	if err != nil {
		return consensus.ApplyReceipt{}, err
	}

	var receipt consensus.ApplyReceipt
	err = s.db.Update(func(tx *bolt.Tx) error {
		for i, out := range txn.Vout {
			op := consensus.OutPoint{Txid: txid, Vout: uint32(i)}
			if tx.Bucket(bucketUtxo).Get(encodeOutpoint(op)) != nil {
				return consensus.NewError(consensus.ErrDuplicateOutput, "coinbase output outpoint collision")
			}
			if err := s.insertLocked(tx, op, out); err != nil {
				return err
			}
			receipt.Inserted = append(receipt.Inserted, op)
		}
		return nil
	})
	if err != nil {
		return consensus.ApplyReceipt{}, err
	}
	return receipt, nil
}

// Rollback mirrors consensus.InMemoryUtxoSet.Rollback transactionally.
func (s *Store) Rollback(r consensus.ApplyReceipt) {
	_ = s.db.Update(func(tx *bolt.Tx) error {
		for _, op := range r.Inserted {
			if _, _, err := s.removeLocked(tx, op); err != nil {
				return err
			}
		}
		for _, re := range r.Removed {
			if err := s.insertLocked(tx, re.OutPoint, re.TxOut); err != nil {
				return err
			}
		}
		return nil
	})
}
