package mempool

import (
	"testing"

	"go.utxod.dev/node/consensus"
)

type fakeUtxos struct {
	m map[consensus.OutPoint]consensus.TxOut
}

func newFakeUtxos() *fakeUtxos {
	return &fakeUtxos{m: make(map[consensus.OutPoint]consensus.TxOut)}
}

func (f *fakeUtxos) Get(op consensus.OutPoint) (consensus.TxOut, bool) {
	out, ok := f.m[op]
	return out, ok
}

func fundedTx(t *testing.T, utxos *fakeUtxos, value, outValue uint64, seed byte) *consensus.Transaction {
	t.Helper()
	op := consensus.OutPoint{Txid: [32]byte{seed}, Vout: 0}
	utxos.m[op] = consensus.TxOut{Value: value}
	return &consensus.Transaction{
		Version: 1,
		Vin:     []consensus.TxIn{{Prevout: op}},
		Vout:    []consensus.TxOut{{Value: outValue}},
	}
}

func TestAddTxAdmitsAndIndexesByBothTxidVariants(t *testing.T) {
	utxos := newFakeUtxos()
	p := New(Config{MaxTxs: 10, MaxTotalBytes: 1_000_000, MinFeeRate: 0})
	tx := fundedTx(t, utxos, 1000, 900, 1)

	if err := p.AddTx(tx, utxos); err != nil {
		t.Fatalf("add_tx: %v", err)
	}
	if p.Len() != 1 {
		t.Fatalf("expected pool len 1, got %d", p.Len())
	}
	v1, _ := consensus.TxIDV1(tx)
	v2, _ := consensus.TxIDV2(tx)
	if !p.ContainsV1(v1) || !p.Contains(v2) {
		t.Fatalf("tx not indexed by both txid variants")
	}
}

func TestAddTxRejectsDuplicate(t *testing.T) {
	utxos := newFakeUtxos()
	p := New(Config{MaxTxs: 10, MaxTotalBytes: 1_000_000, MinFeeRate: 0})
	tx := fundedTx(t, utxos, 1000, 900, 1)

	if err := p.AddTx(tx, utxos); err != nil {
		t.Fatalf("add_tx: %v", err)
	}
	err := p.AddTx(tx, utxos)
	if err == nil {
		t.Fatalf("expected DuplicateTx error")
	}
	if code, _ := consensus.CodeOf(err); code != consensus.ErrDuplicateTx {
		t.Fatalf("expected ErrDuplicateTx, got %v", code)
	}
}

func TestAddTxRejectsDoubleSpend(t *testing.T) {
	utxos := newFakeUtxos()
	p := New(Config{MaxTxs: 10, MaxTotalBytes: 1_000_000, MinFeeRate: 0})
	op := consensus.OutPoint{Txid: [32]byte{5}, Vout: 0}
	utxos.m[op] = consensus.TxOut{Value: 1000}

	tx1 := &consensus.Transaction{Vin: []consensus.TxIn{{Prevout: op}}, Vout: []consensus.TxOut{{Value: 500}}}
	tx2 := &consensus.Transaction{Vin: []consensus.TxIn{{Prevout: op}}, Vout: []consensus.TxOut{{Value: 400}}}

	if err := p.AddTx(tx1, utxos); err != nil {
		t.Fatalf("add_tx tx1: %v", err)
	}
	err := p.AddTx(tx2, utxos)
	if err == nil {
		t.Fatalf("expected DoubleSpend error")
	}
	if code, _ := consensus.CodeOf(err); code != consensus.ErrDoubleSpend {
		t.Fatalf("expected ErrDoubleSpend, got %v", code)
	}
}

func TestAddTxRejectsLowFeeRate(t *testing.T) {
	utxos := newFakeUtxos()
	p := New(Config{MaxTxs: 10, MaxTotalBytes: 1_000_000, MinFeeRate: 1_000_000})
	tx := fundedTx(t, utxos, 1000, 999, 1) // fee=1, tiny rate

	err := p.AddTx(tx, utxos)
	if err == nil {
		t.Fatalf("expected LowFee error")
	}
	if code, _ := consensus.CodeOf(err); code != consensus.ErrLowFee {
		t.Fatalf("expected ErrLowFee, got %v", code)
	}
}

func TestAddTxEvictsLowestFeeRateUnderTxCountPressure(t *testing.T) {
	utxos := newFakeUtxos()
	p := New(Config{MaxTxs: 1, MaxTotalBytes: 1_000_000, MinFeeRate: 0})

	cheap := fundedTx(t, utxos, 1000, 999, 1) // fee 1
	if err := p.AddTx(cheap, utxos); err != nil {
		t.Fatalf("add cheap: %v", err)
	}
	expensive := fundedTx(t, utxos, 1000, 500, 2) // fee 500, much higher rate
	if err := p.AddTx(expensive, utxos); err != nil {
		t.Fatalf("add expensive: %v", err)
	}

	if p.Len() != 1 {
		t.Fatalf("expected exactly 1 tx after eviction, got %d", p.Len())
	}
	cheapV2, _ := consensus.TxIDV2(cheap)
	expensiveV2, _ := consensus.TxIDV2(expensive)
	if p.Contains(cheapV2) {
		t.Fatalf("cheap tx should have been evicted")
	}
	if !p.Contains(expensiveV2) {
		t.Fatalf("expensive tx should remain in pool")
	}
}

func TestRemoveTxUnhooksAllIndexes(t *testing.T) {
	utxos := newFakeUtxos()
	p := New(Config{MaxTxs: 10, MaxTotalBytes: 1_000_000, MinFeeRate: 0})
	tx := fundedTx(t, utxos, 1000, 900, 1)
	if err := p.AddTx(tx, utxos); err != nil {
		t.Fatalf("add_tx: %v", err)
	}

	v1, _ := consensus.TxIDV1(tx)
	v2, _ := consensus.TxIDV2(tx)
	p.RemoveTx(v2)

	if p.Len() != 0 || p.Contains(v2) || p.ContainsV1(v1) || p.TotalBytes() != 0 {
		t.Fatalf("remove_tx left residue: len=%d bytes=%d", p.Len(), p.TotalBytes())
	}
	op := tx.Vin[0].Prevout
	tx2 := &consensus.Transaction{Vin: []consensus.TxIn{{Prevout: op}}, Vout: []consensus.TxOut{{Value: 1}}}
	if err := p.AddTx(tx2, utxos); err != nil {
		t.Fatalf("prevout should be free again after removal: %v", err)
	}
}

func TestEntriesSortedByDescendingFeeRate(t *testing.T) {
	utxos := newFakeUtxos()
	p := New(Config{MaxTxs: 10, MaxTotalBytes: 1_000_000, MinFeeRate: 0})
	low := fundedTx(t, utxos, 1000, 990, 1)  // fee 10
	high := fundedTx(t, utxos, 1000, 500, 2) // fee 500
	if err := p.AddTx(low, utxos); err != nil {
		t.Fatalf("add low: %v", err)
	}
	if err := p.AddTx(high, utxos); err != nil {
		t.Fatalf("add high: %v", err)
	}

	entries := p.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].FeeRate < entries[1].FeeRate {
		t.Fatalf("entries not sorted by descending fee rate")
	}
	highV2, _ := consensus.TxIDV2(high)
	if entries[0].TxidV2 != highV2 {
		t.Fatalf("expected higher-fee-rate tx first")
	}
}
