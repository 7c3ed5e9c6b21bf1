package consensus

import "math/bits"

// UtxoLookup is the minimal read surface validate_value_conservation needs;
// satisfied by UtxoSet and by any snapshot/mempool-backed view.
type UtxoLookup interface {
	Get(op OutPoint) (TxOut, bool)
}

// ValidateValueConservation enforces spec.md §4.1/§4.2: every prevout must
// be present exactly once (no duplicate inputs) and resolvable in utxos,
// and sum(inputs) must be >= sum(outputs). Returns the fee (sum(in)-sum(out))
// on success.
func ValidateValueConservation(tx *Transaction, utxos UtxoLookup) (uint64, error) {
	if err := validateTxBounds(tx); err != nil {
		return 0, err
	}
	if tx.IsCoinbase() {
		return 0, newErr(ErrParse, "validate_value_conservation: coinbase has no inputs to sum")
	}

	seen := make(map[OutPoint]struct{}, len(tx.Vin))
	var sumIn uint64
	for _, in := range tx.Vin {
		if _, dup := seen[in.Prevout]; dup {
			return 0, newErr(ErrDuplicateInput, "duplicate input prevout")
		}
		seen[in.Prevout] = struct{}{}

		out, ok := utxos.Get(in.Prevout)
		if !ok {
			return 0, newErr(ErrMissingUtxo, "prevout not in utxo set")
		}
		newSum, carry := bitsAddU64(sumIn, out.Value)
		if carry {
			return 0, newErr(ErrValueOverflow, "sum(inputs) overflow")
		}
		sumIn = newSum
	}

	var sumOut uint64
	for _, out := range tx.Vout {
		newSum, carry := bitsAddU64(sumOut, out.Value)
		if carry {
			return 0, newErr(ErrValueOverflow, "sum(outputs) overflow")
		}
		sumOut = newSum
	}

	if sumIn < sumOut {
		return 0, newErr(ErrValueNotConserved, "sum(inputs) < sum(outputs)")
	}
	return sumIn - sumOut, nil
}

// bitsAddU64 adds a and b, reporting overflow instead of wrapping.
func bitsAddU64(a, b uint64) (uint64, bool) {
	sum, carry := bits.Add64(a, b, 0)
	return sum, carry != 0
}

// ValidateCoinbaseShape enforces the structural rule for txs[0]: it must
// have an empty Vin (spec.md §4.5 step 4).
func ValidateCoinbaseShape(tx *Transaction) error {
	if tx == nil {
		return newErr(ErrParse, "nil coinbase")
	}
	if err := validateTxBounds(tx); err != nil {
		return err
	}
	if len(tx.Vin) != 0 {
		return newErr(ErrCoinbaseHasInputs, "coinbase must have no inputs")
	}
	return nil
}
