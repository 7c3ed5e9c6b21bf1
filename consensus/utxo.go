package consensus

// RemovedEntry pairs an OutPoint with the TxOut that was bound to it,
// recorded in an ApplyReceipt so Rollback can restore it exactly.
type RemovedEntry struct {
	OutPoint OutPoint
	TxOut    TxOut
}

// ApplyReceipt exactly reverses one ApplyTx call via Rollback (spec.md §3).
type ApplyReceipt struct {
	Removed  []RemovedEntry
	Inserted []OutPoint
}

// UtxoSet is a keyed store of unspent outputs with atomic apply/rollback
// (spec.md §4.2, C2). InMemoryUtxoSet is the reference implementation; the
// persistent store package adapts the same contract onto bbolt.
type UtxoSet interface {
	Get(op OutPoint) (TxOut, bool)
	Insert(op OutPoint, out TxOut)
	Remove(op OutPoint) (TxOut, bool)
	ApplyTx(tx *Transaction) (ApplyReceipt, error)
	ApplyCoinbase(tx *Transaction) (ApplyReceipt, error)
	Rollback(r ApplyReceipt)
	Len() int
}

// InMemoryUtxoSet is a plain map-backed UtxoSet. Not safe for concurrent
// use without an external lock; callers (mempool, reorg engine, node) hold
// the owning mutex per spec.md §5's lock-ordering rule.
type InMemoryUtxoSet struct {
	m map[OutPoint]TxOut
}

func NewInMemoryUtxoSet() *InMemoryUtxoSet {
	return &InMemoryUtxoSet{m: make(map[OutPoint]TxOut)}
}

func (s *InMemoryUtxoSet) Get(op OutPoint) (TxOut, bool) {
	out, ok := s.m[op]
	return out, ok
}

func (s *InMemoryUtxoSet) Insert(op OutPoint, out TxOut) {
	s.m[op] = out
}

func (s *InMemoryUtxoSet) Remove(op OutPoint) (TxOut, bool) {
	out, ok := s.m[op]
	if ok {
		delete(s.m, op)
	}
	return out, ok
}

func (s *InMemoryUtxoSet) Len() int {
	return len(s.m)
}

// ApplyTx spends tx's inputs and creates its outputs, per spec.md §4.2:
// validate -> compute fee via ValidateValueConservation -> remove prevouts
// one-by-one (reinsert-and-fail on any miss) -> insert new outputs
// (reinsert-removed and remove-already-inserted, then fail, on collision).
// On any error the set is left bitwise identical to its pre-call state.
func (s *InMemoryUtxoSet) ApplyTx(tx *Transaction) (ApplyReceipt, error) {
	if _, err := ValidateValueConservation(tx, s); err != nil {
		return ApplyReceipt{}, err
	}

	var removed []RemovedEntry
	for _, in := range tx.Vin {
		out, ok := s.Remove(in.Prevout)
		if !ok {
			// Reinsert everything removed so far.
			for _, r := range removed {
				s.Insert(r.OutPoint, r.TxOut)
			}
			return ApplyReceipt{}, newErr(ErrMissingUtxo, "prevout missing during apply")
		}
		removed = append(removed, RemovedEntry{OutPoint: in.Prevout, TxOut: out})
	}

	txid, err := TxIDV2(tx)
	if err != nil {
		for _, r := range removed {
			s.Insert(r.OutPoint, r.TxOut)
		}
		return ApplyReceipt{}, err
	}

	var inserted []OutPoint
	for i, out := range tx.Vout {
		op := OutPoint{Txid: txid, Vout: uint32(i)}
		if _, collide := s.Get(op); collide {
			// Undo: reinsert all removed, remove all already inserted.
			for _, ins := range inserted {
				s.Remove(ins)
			}
			for _, r := range removed {
				s.Insert(r.OutPoint, r.TxOut)
			}
			return ApplyReceipt{}, newErr(ErrDuplicateOutput, "output outpoint collision")
		}
		s.Insert(op, out)
		inserted = append(inserted, op)
	}

	return ApplyReceipt{Removed: removed, Inserted: inserted}, nil
}

// ApplyCoinbase applies the first transaction of a block: no input removal,
// no conservation check, output shape/bounds validated, fails on any
// pre-existing output collision (spec.md §4.2).
func (s *InMemoryUtxoSet) ApplyCoinbase(tx *Transaction) (ApplyReceipt, error) {
	if err := ValidateCoinbaseShape(tx); err != nil {
		return ApplyReceipt{}, err
	}
	txid, err := TxIDV2(tx)
	if err != nil {
		return ApplyReceipt{}, err
	}

	var inserted []OutPoint
	for i, out := range tx.Vout {
		op := OutPoint{Txid: txid, Vout: uint32(i)}
		if _, collide := s.Get(op); collide {
			for _, ins := range inserted {
				s.Remove(ins)
			}
			return ApplyReceipt{}, newErr(ErrDuplicateOutput, "coinbase output outpoint collision")
		}
		s.Insert(op, out)
		inserted = append(inserted, op)
	}
	return ApplyReceipt{Inserted: inserted}, nil
}

// Rollback reverses one ApplyTx/ApplyCoinbase call: remove every inserted
// output, then reinsert every removed output (spec.md §4.2).
func (s *InMemoryUtxoSet) Rollback(r ApplyReceipt) {
	for _, op := range r.Inserted {
		s.Remove(op)
	}
	for _, re := range r.Removed {
		s.Insert(re.OutPoint, re.TxOut)
	}
}
