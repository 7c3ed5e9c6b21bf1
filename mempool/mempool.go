// Package mempool implements the unconfirmed transaction pool: admission
// control, double-spend tracking, and fee-rate eviction (spec.md §4.6, C7).
package mempool

import (
	"sort"
	"sync"

	"go.utxod.dev/node/consensus"
)

// Config bounds pool growth and the minimum fee rate accepted.
type Config struct {
	MaxTxs        int
	MaxTotalBytes uint64
	MinFeeRate    float64 // fee/byte
}

// entry is one admitted transaction plus the bookkeeping the pool needs to
// evict and index it.
type entry struct {
	tx      *consensus.Transaction
	txidV1  [32]byte
	txidV2  [32]byte
	size    uint64
	fee     uint64
	feeRate float64
}

// Pool is the mempool: indexed by both txid variants, tracking which
// outpoints are currently claimed so double-spends are rejected up front
// (spec.md §4.6).
type Pool struct {
	cfg Config

	mu         sync.Mutex
	byV2       map[[32]byte]*entry
	v1ToV2     map[[32]byte][32]byte
	spent      map[consensus.OutPoint]struct{}
	totalBytes uint64
}

func New(cfg Config) *Pool {
	return &Pool{
		cfg:    cfg,
		byV2:   make(map[[32]byte]*entry),
		v1ToV2: make(map[[32]byte][32]byte),
		spent:  make(map[consensus.OutPoint]struct{}),
	}
}

// Len reports the number of transactions currently held.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byV2)
}

// TotalBytes reports the sum of admitted transactions' canonical sizes.
func (p *Pool) TotalBytes() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalBytes
}

// Contains reports whether txid (v2) is currently held.
func (p *Pool) Contains(txidV2 [32]byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.byV2[txidV2]
	return ok
}

// ContainsV1 reports whether txid (v1) is currently held.
func (p *Pool) ContainsV1(txidV1 [32]byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.v1ToV2[txidV1]
	return ok
}

// AddTx implements spec.md §4.6's add_tx: reject duplicates and
// double-spends, verify value conservation and the fee-rate floor, then
// evict by ascending fee rate to make room if the pool is over capacity.
func (p *Pool) AddTx(tx *consensus.Transaction, utxos consensus.UtxoLookup) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	txidV1, err := consensus.TxIDV1(tx)
	if err != nil {
		return err
	}
	txidV2, err := consensus.TxIDV2(tx)
	if err != nil {
		return err
	}
	if _, ok := p.byV2[txidV2]; ok {
		return consensus.NewError(consensus.ErrDuplicateTx, "transaction already in mempool")
	}
	if _, ok := p.v1ToV2[txidV1]; ok {
		return consensus.NewError(consensus.ErrDuplicateTx, "transaction already in mempool")
	}

	for _, in := range tx.Vin {
		if _, claimed := p.spent[in.Prevout]; claimed {
			return consensus.NewError(consensus.ErrDoubleSpend, "prevout already claimed by a pooled transaction")
		}
	}

	fee, err := consensus.ValidateValueConservation(tx, utxos)
	if err != nil {
		return err
	}

	raw, err := consensus.CanonicalBytesV2(tx)
	if err != nil {
		return err
	}
	size := uint64(len(raw))
	if size == 0 {
		return consensus.NewError(consensus.ErrParse, "zero-size transaction")
	}
	rate := float64(fee) / float64(size)
	if rate < p.cfg.MinFeeRate {
		return consensus.NewError(consensus.ErrLowFee, "fee rate below pool minimum")
	}

	if err := p.makeRoom(size); err != nil {
		return err
	}

	e := &entry{tx: tx, txidV1: txidV1, txidV2: txidV2, size: size, fee: fee, feeRate: rate}
	p.byV2[txidV2] = e
	p.v1ToV2[txidV1] = txidV2
	for _, in := range tx.Vin {
		p.spent[in.Prevout] = struct{}{}
	}
	p.totalBytes += size
	return nil
}

// makeRoom evicts entries in ascending fee-rate order until adding
// extraBytes would not overflow the pool's configured limits, or the pool
// is empty. Called with p.mu held.
func (p *Pool) makeRoom(extraBytes uint64) error {
	for {
		overCount := p.cfg.MaxTxs > 0 && len(p.byV2)+1 > p.cfg.MaxTxs
		overBytes := p.cfg.MaxTotalBytes > 0 && p.totalBytes+extraBytes > p.cfg.MaxTotalBytes
		if !overCount && !overBytes {
			return nil
		}
		victim := p.lowestFeeRateLocked()
		if victim == nil {
			if overCount {
				return consensus.NewError(consensus.ErrFull, "mempool at capacity")
			}
			return consensus.NewError(consensus.ErrBytesLimit, "mempool byte limit exceeded")
		}
		p.removeLocked(victim.txidV2)
	}
}

// lowestFeeRateLocked finds the entry with the smallest fee rate, ties
// broken by lexicographically smaller txid_v2 for determinism.
func (p *Pool) lowestFeeRateLocked() *entry {
	var victim *entry
	for _, e := range p.byV2 {
		if victim == nil {
			victim = e
			continue
		}
		if e.feeRate < victim.feeRate {
			victim = e
			continue
		}
		if e.feeRate == victim.feeRate && lessTxid(e.txidV2, victim.txidV2) {
			victim = e
		}
	}
	return victim
}

func lessTxid(a, b [32]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// RemoveTx unhooks txidV2 from every index and decrements the byte total,
// saturating at zero (spec.md §4.6).
func (p *Pool) RemoveTx(txidV2 [32]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(txidV2)
}

// RemoveTxV1 removes a transaction identified by its v1 txid, via the
// v1->v2 index.
func (p *Pool) RemoveTxV1(txidV1 [32]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v2, ok := p.v1ToV2[txidV1]
	if !ok {
		return
	}
	p.removeLocked(v2)
}

func (p *Pool) removeLocked(txidV2 [32]byte) {
	e, ok := p.byV2[txidV2]
	if !ok {
		return
	}
	delete(p.byV2, txidV2)
	delete(p.v1ToV2, e.txidV1)
	for _, in := range e.tx.Vin {
		delete(p.spent, in.Prevout)
	}
	if p.totalBytes >= e.size {
		p.totalBytes -= e.size
	} else {
		p.totalBytes = 0
	}
}

// Snapshot is one pooled transaction as exposed to the block template
// builder: the parsed tx plus its precomputed size, fee, and txid_v2.
type Snapshot struct {
	Tx      *consensus.Transaction
	TxidV2  [32]byte
	Size    uint64
	Fee     uint64
	FeeRate float64
}

// Entries returns a stable-ordered snapshot of the pool's contents, sorted
// by descending fee rate with ascending txid_v2 as a deterministic
// tie-break (the same ordering the block template builder assumes).
func (p *Pool) Entries() []Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Snapshot, 0, len(p.byV2))
	for _, e := range p.byV2 {
		out = append(out, Snapshot{Tx: e.tx, TxidV2: e.txidV2, Size: e.size, Fee: e.fee, FeeRate: e.feeRate})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FeeRate != out[j].FeeRate {
			return out[i].FeeRate > out[j].FeeRate
		}
		return lessTxid(out[i].TxidV2, out[j].TxidV2)
	})
	return out
}
