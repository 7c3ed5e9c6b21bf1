// Package reorg implements the common-ancestor walk that moves the applied
// UTXO tip from one header-chain branch to another (spec.md §4.5, C6).
package reorg

import (
	"fmt"

	"go.utxod.dev/node/consensus"
)

// ChainView is the read-only header lookup the engine needs: height and
// parent linkage for any accepted hash. chain.Chain satisfies this.
type ChainView interface {
	HeaderAt(hash [32]byte) (header consensus.BlockHeader, height uint64, ok bool)
}

// BlockSource loads a full block body by its header hash.
type BlockSource interface {
	Block(hash [32]byte) (*consensus.Block, bool)
}

// AppliedState is the reorg engine's mutable bookkeeping: the hash the UTXO
// set currently reflects, and one undo receipt list per applied block hash
// (spec.md §4.5's applied.tip / applied.undo).
type AppliedState struct {
	Tip  [32]byte
	Undo map[[32]byte][]consensus.ApplyReceipt
}

// NewAppliedState returns an AppliedState rooted at genesisHash with an
// empty undo log.
func NewAppliedState(genesisHash [32]byte) *AppliedState {
	return &AppliedState{Tip: genesisHash, Undo: make(map[[32]byte][]consensus.ApplyReceipt)}
}

// Engine runs reorg.ToTip against a chain view, a block store, and a live
// UTXO set.
type Engine struct {
	Chain  ChainView
	Blocks BlockSource
	Utxos  consensus.UtxoSet
}

// ToTip moves applied.Tip to newTip, per spec.md §4.5:
//  1. find the common ancestor of applied.Tip and newTip,
//  2. roll back old_path (tip downward to, exclusive, the ancestor),
//     collecting every non-coinbase tx for the caller to re-offer to the
//     mempool,
//  3. apply new_path (ancestor exclusive upward to newTip) in order.
//
// On success, applied.Tip == newTip and evicted holds every non-coinbase
// transaction that was rolled back off the old branch. On a new-path apply
// failure, ToTip returns the error with applied.Tip and the UTXO set left
// reflecting whatever prefix of new_path was successfully applied — the
// engine does not automatically unwind those partial new-path applies
// (spec.md §4.5 "Atomicity", §9). A caller wanting a clean abort can
// re-invoke ToTip targeting the pre-reorg tip.
func (e *Engine) ToTip(applied *AppliedState, newTip [32]byte) (evicted []consensus.Transaction, err error) {
	if applied.Tip == newTip {
		return nil, nil
	}

	ancestor, err := e.findCommonAncestor(applied.Tip, newTip)
	if err != nil {
		return nil, err
	}

	oldPath, err := e.pathDown(applied.Tip, ancestor)
	if err != nil {
		return nil, err
	}
	newPath, err := e.pathUp(ancestor, newTip)
	if err != nil {
		return nil, err
	}

	for _, h := range oldPath {
		block, ok := e.Blocks.Block(h)
		if !ok {
			return evicted, fmt.Errorf("reorg: block body missing for %x", h)
		}
		for _, tx := range block.Txs[1:] { // skip coinbase
			evicted = append(evicted, tx)
		}
		receipts := applied.Undo[h]
		for i := len(receipts) - 1; i >= 0; i-- {
			e.Utxos.Rollback(receipts[i])
		}
		delete(applied.Undo, h)
		applied.Tip = parentOf(block.Header)
	}

	for _, h := range newPath {
		block, ok := e.Blocks.Block(h)
		if !ok {
			return evicted, fmt.Errorf("reorg: block body missing for %x", h)
		}
		_, height, ok := e.Chain.HeaderAt(h)
		if !ok {
			return evicted, fmt.Errorf("reorg: header missing for %x", h)
		}
		result, err := consensus.ApplyBlock(block, height, e.Utxos, true)
		if err != nil {
			return evicted, err
		}
		applied.Undo[h] = result.Receipts
		applied.Tip = h
	}

	return evicted, nil
}

func parentOf(h consensus.BlockHeader) [32]byte {
	return h.PrevBlockHash
}

// findCommonAncestor walks a and b back to equal heights, then in lockstep,
// until the hashes agree (spec.md §4.5 step 1).
func (e *Engine) findCommonAncestor(a, b [32]byte) ([32]byte, error) {
	ha, heightA, ok := e.Chain.HeaderAt(a)
	if !ok {
		return [32]byte{}, fmt.Errorf("reorg: header missing for %x", a)
	}
	hb, heightB, ok := e.Chain.HeaderAt(b)
	if !ok {
		return [32]byte{}, fmt.Errorf("reorg: header missing for %x", b)
	}

	for heightA > heightB {
		a = ha.PrevBlockHash
		ha, heightA, ok = e.Chain.HeaderAt(a)
		if !ok {
			return [32]byte{}, fmt.Errorf("reorg: header missing for %x", a)
		}
	}
	for heightB > heightA {
		b = hb.PrevBlockHash
		hb, heightB, ok = e.Chain.HeaderAt(b)
		if !ok {
			return [32]byte{}, fmt.Errorf("reorg: header missing for %x", b)
		}
	}
	for a != b {
		a = ha.PrevBlockHash
		b = hb.PrevBlockHash
		ha, heightA, ok = e.Chain.HeaderAt(a)
		if !ok {
			return [32]byte{}, fmt.Errorf("reorg: header missing for %x", a)
		}
		hb, heightB, ok = e.Chain.HeaderAt(b)
		if !ok {
			return [32]byte{}, fmt.Errorf("reorg: header missing for %x", b)
		}
	}
	return a, nil
}

// pathDown returns the hashes from tip down to (exclusive of) ancestor, in
// tip-first order (spec.md §4.5 step 2, old_path).
func (e *Engine) pathDown(tip, ancestor [32]byte) ([][32]byte, error) {
	if tip == ancestor {
		return nil, nil
	}
	var out [][32]byte
	cur := tip
	for cur != ancestor {
		out = append(out, cur)
		h, _, ok := e.Chain.HeaderAt(cur)
		if !ok {
			return nil, fmt.Errorf("reorg: header missing for %x", cur)
		}
		cur = h.PrevBlockHash
	}
	return out, nil
}

// pathUp returns the hashes from (exclusive of) ancestor up to tip, in
// ascending-height order (spec.md §4.5 step 3, new_path).
func (e *Engine) pathUp(ancestor, tip [32]byte) ([][32]byte, error) {
	if ancestor == tip {
		return nil, nil
	}
	var reversed [][32]byte
	cur := tip
	for cur != ancestor {
		reversed = append(reversed, cur)
		h, _, ok := e.Chain.HeaderAt(cur)
		if !ok {
			return nil, fmt.Errorf("reorg: header missing for %x", cur)
		}
		cur = h.PrevBlockHash
	}
	out := make([][32]byte, len(reversed))
	for i, h := range reversed {
		out[len(out)-1-i] = h
	}
	return out, nil
}
