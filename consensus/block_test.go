package consensus

import "testing"

func coinbaseWithValue(height uint64, value uint64) Transaction {
	return Transaction{
		Version: 1,
		Vout:    []TxOut{{Value: value}},
	}
}

func buildBlock(t *testing.T, coinbase Transaction, rest []Transaction) *Block {
	t.Helper()
	txs := append([]Transaction{coinbase}, rest...)
	ids := make([][32]byte, len(txs))
	for i := range txs {
		id, err := TxIDV2(&txs[i])
		if err != nil {
			t.Fatalf("txid: %v", err)
		}
		ids[i] = id
	}
	return &Block{
		Header: BlockHeader{
			Version:    1,
			MerkleRoot: MerkleRoot(ids),
			Bits:       InitialBits,
		},
		Txs: txs,
	}
}

func TestApplyBlockHappyPath(t *testing.T) {
	utxos := NewInMemoryUtxoSet()
	funding := OutPoint{Txid: [32]byte{7}, Vout: 0}
	utxos.Insert(funding, TxOut{Value: 1_000})

	spend := Transaction{
		Version: 1,
		Vin:     []TxIn{{Prevout: funding}},
		Vout:    []TxOut{{Value: 900}},
	}
	coinbase := coinbaseWithValue(0, Subsidy(0)+100)
	block := buildBlock(t, coinbase, []Transaction{spend})

	result, err := ApplyBlock(block, 0, utxos, true)
	if err != nil {
		t.Fatalf("apply_block: %v", err)
	}
	if result.Fees != 100 {
		t.Fatalf("expected fee 100, got %d", result.Fees)
	}
	if len(result.Receipts) != 2 {
		t.Fatalf("expected 2 receipts, got %d", len(result.Receipts))
	}
	if _, ok := utxos.Get(funding); ok {
		t.Fatalf("spent funding output still present")
	}
}

func TestApplyBlockRejectsEmptyBlock(t *testing.T) {
	utxos := NewInMemoryUtxoSet()
	block := &Block{Header: BlockHeader{Bits: InitialBits}}
	if _, err := ApplyBlock(block, 0, utxos, true); err == nil {
		t.Fatalf("expected EmptyBlock error")
	} else if code, _ := CodeOf(err); code != ErrEmptyBlock {
		t.Fatalf("expected ErrEmptyBlock, got %v", code)
	}
}

func TestApplyBlockRejectsMerkleMismatch(t *testing.T) {
	utxos := NewInMemoryUtxoSet()
	coinbase := coinbaseWithValue(0, Subsidy(0))
	block := buildBlock(t, coinbase, nil)
	block.Header.MerkleRoot[0] ^= 0xff // corrupt it

	if _, err := ApplyBlock(block, 0, utxos, true); err == nil {
		t.Fatalf("expected MerkleMismatch error")
	} else if code, _ := CodeOf(err); code != ErrMerkleMismatch {
		t.Fatalf("expected ErrMerkleMismatch, got %v", code)
	}
	if utxos.Len() != 0 {
		t.Fatalf("utxo set mutated despite merkle mismatch, len=%d", utxos.Len())
	}
}

func TestApplyBlockRejectsCoinbaseExceedsSubsidy(t *testing.T) {
	utxos := NewInMemoryUtxoSet()
	coinbase := coinbaseWithValue(0, Subsidy(0)+1)
	block := buildBlock(t, coinbase, nil)

	if _, err := ApplyBlock(block, 0, utxos, true); err == nil {
		t.Fatalf("expected CoinbaseExceedsSubsidy error")
	} else if code, _ := CodeOf(err); code != ErrCoinbaseExceedsSubsidy {
		t.Fatalf("expected ErrCoinbaseExceedsSubsidy, got %v", code)
	}
	if utxos.Len() != 0 {
		t.Fatalf("utxo set left mutated after rejected coinbase, len=%d", utxos.Len())
	}
}

func TestApplyBlockRollsBackOnLaterTxFailure(t *testing.T) {
	utxos := NewInMemoryUtxoSet()
	funding := OutPoint{Txid: [32]byte{9}, Vout: 0}
	utxos.Insert(funding, TxOut{Value: 10})

	// Second tx spends a prevout that doesn't exist; apply must unwind the
	// coinbase insertion before returning.
	bogus := Transaction{
		Version: 1,
		Vin:     []TxIn{{Prevout: OutPoint{Txid: [32]byte{99}, Vout: 0}}},
		Vout:    []TxOut{{Value: 1}},
	}
	coinbase := coinbaseWithValue(0, Subsidy(0))
	block := buildBlock(t, coinbase, []Transaction{bogus})

	before := utxos.Len()
	if _, err := ApplyBlock(block, 0, utxos, true); err == nil {
		t.Fatalf("expected failure applying block with an unresolvable input")
	} else if code, _ := CodeOf(err); code != ErrMissingUtxo {
		t.Fatalf("expected ErrMissingUtxo, got %v", code)
	}
	if utxos.Len() != before {
		t.Fatalf("utxo set not fully unwound: before=%d after=%d", before, utxos.Len())
	}
	if _, ok := utxos.Get(funding); !ok {
		t.Fatalf("unrelated pre-existing utxo lost during unwind")
	}
}

func TestSubsidyHalvingSchedule(t *testing.T) {
	if Subsidy(0) != InitialSubsidy {
		t.Fatalf("height 0 subsidy = %d, want %d", Subsidy(0), uint64(InitialSubsidy))
	}
	if Subsidy(HalvingInterval) != InitialSubsidy/2 {
		t.Fatalf("first halving subsidy = %d, want %d", Subsidy(HalvingInterval), uint64(InitialSubsidy/2))
	}
	if Subsidy(HalvingInterval*64) != 0 {
		t.Fatalf("subsidy should be zero after 64 halvings, got %d", Subsidy(HalvingInterval*64))
	}
}
