package consensus

import "math/bits"

// BlockApplyResult carries the per-tx undo receipts produced by ApplyBlock,
// in transaction order, for the persistence/reorg layers to store and later
// reverse (spec.md §4.5, §3: ApplyReceipt).
type BlockApplyResult struct {
	Receipts []ApplyReceipt
	Fees     uint64
}

// ApplyBlock performs the full per-block check of spec.md §4.5 against utxos,
// returning one ApplyReceipt per transaction (coinbase first) on success.
// skipPoW bypasses step 1 (used for test fixtures and trusted fast-sync).
func ApplyBlock(block *Block, height uint64, utxos UtxoSet, skipPoW bool) (BlockApplyResult, error) {
	if block == nil {
		return BlockApplyResult{}, newErr(ErrParse, "nil block")
	}
	if !skipPoW {
		ok, err := CheckPoW(block.Header)
		if err != nil {
			return BlockApplyResult{}, err
		}
		if !ok {
			return BlockApplyResult{}, newErr(ErrPowInvalid, "pow check failed")
		}
	}
	if len(block.Txs) == 0 {
		return BlockApplyResult{}, newErr(ErrEmptyBlock, "block has no transactions")
	}

	ids := make([][32]byte, len(block.Txs))
	for i := range block.Txs {
		id, err := TxIDV2(&block.Txs[i])
		if err != nil {
			return BlockApplyResult{}, err
		}
		ids[i] = id
	}
	got := MerkleRoot(ids)
	if got != block.Header.MerkleRoot {
		return BlockApplyResult{}, newErr(ErrMerkleMismatch, "merkle root mismatch")
	}

	coinbase := &block.Txs[0]
	receipts := make([]ApplyReceipt, 0, len(block.Txs))

	coinbaseReceipt, err := utxos.ApplyCoinbase(coinbase)
	if err != nil {
		// Nothing applied yet; nothing to unwind.
		return BlockApplyResult{}, err
	}
	receipts = append(receipts, coinbaseReceipt)

	var totalFees uint64
	for i := 1; i < len(block.Txs); i++ {
		tx := &block.Txs[i]
		fee, err := ValidateValueConservation(tx, utxos)
		if err != nil {
			unwind(utxos, receipts)
			return BlockApplyResult{}, err
		}
		sum, carry := bits.Add64(totalFees, fee, 0)
		if carry != 0 {
			unwind(utxos, receipts)
			return BlockApplyResult{}, newErr(ErrValueOverflow, "cumulative fee overflow")
		}
		totalFees = sum

		receipt, err := utxos.ApplyTx(tx)
		if err != nil {
			unwind(utxos, receipts)
			return BlockApplyResult{}, err
		}
		receipts = append(receipts, receipt)
	}

	var coinbaseOut uint64
	for _, out := range coinbase.Vout {
		sum, carry := bits.Add64(coinbaseOut, out.Value, 0)
		if carry != 0 {
			unwind(utxos, receipts)
			return BlockApplyResult{}, newErr(ErrValueOverflow, "coinbase output sum overflow")
		}
		coinbaseOut = sum
	}
	subsidy := Subsidy(height)
	bound, carry := bits.Add64(subsidy, totalFees, 0)
	if carry != 0 || coinbaseOut > bound {
		unwind(utxos, receipts)
		return BlockApplyResult{}, newErr(ErrCoinbaseExceedsSubsidy, "coinbase exceeds subsidy+fees")
	}

	return BlockApplyResult{Receipts: receipts, Fees: totalFees}, nil
}

// unwind reverses already-applied receipts in reverse order, used when a
// later transaction in the block fails its own check.
func unwind(utxos UtxoSet, receipts []ApplyReceipt) {
	for i := len(receipts) - 1; i >= 0; i-- {
		utxos.Rollback(receipts[i])
	}
}
