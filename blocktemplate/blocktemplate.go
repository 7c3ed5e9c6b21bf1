// Package blocktemplate assembles a candidate Block from a mempool snapshot
// and a coinbase transaction (spec.md §4.7, C8).
package blocktemplate

import (
	"sort"

	"go.utxod.dev/node/consensus"
	"go.utxod.dev/node/mempool"
)

// Build sorts entries by descending fee rate (ties broken by ascending
// txid_v2), always places coinbase first, and greedily packs entries while
// cumulative size stays within maxBlockBytes — skipping (not stopping at)
// any entry that would overflow the budget. header carries the caller's
// version/prev_block_hash/time/bits; MerkleRoot and Nonce are set here.
func Build(coinbase consensus.Transaction, entries []mempool.Snapshot, header consensus.BlockHeader, maxBlockBytes uint64) (consensus.Block, error) {
	sorted := make([]mempool.Snapshot, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].FeeRate != sorted[j].FeeRate {
			return sorted[i].FeeRate > sorted[j].FeeRate
		}
		return lessTxid(sorted[i].TxidV2, sorted[j].TxidV2)
	})

	coinbaseBytes, err := consensus.CanonicalBytesV2(&coinbase)
	if err != nil {
		return consensus.Block{}, err
	}
	var total uint64 = uint64(len(coinbaseBytes))

	txs := make([]consensus.Transaction, 0, len(sorted)+1)
	txs = append(txs, coinbase)
	ids := make([][32]byte, 0, len(sorted)+1)
	coinbaseID, err := consensus.TxIDV2(&coinbase)
	if err != nil {
		return consensus.Block{}, err
	}
	ids = append(ids, coinbaseID)

	for _, e := range sorted {
		if total+e.Size > maxBlockBytes {
			continue
		}
		total += e.Size
		txs = append(txs, *e.Tx)
		ids = append(ids, e.TxidV2)
	}

	header.MerkleRoot = consensus.MerkleRoot(ids)
	header.Nonce = 0

	return consensus.Block{Header: header, Txs: txs}, nil
}

func lessTxid(a, b [32]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
