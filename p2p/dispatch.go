package p2p

import (
	"fmt"
	"time"

	"go.utxod.dev/node/consensus"
)

// semanticUTXOCodes are the mempool-admission failures spec.md §7
// classifies as Semantic UTXO, reachable via consensus.ValidateValueConservation
// inside mempool.Pool.AddTx (missing UTXO, duplicate input, value not
// conserved, numeric overflow). These are attacker-reachable and ban.
var semanticUTXOCodes = map[consensus.ErrorCode]struct{}{
	consensus.ErrMissingUtxo:       {},
	consensus.ErrDuplicateInput:    {},
	consensus.ErrDuplicateOutput:   {},
	consensus.ErrValueNotConserved: {},
	consensus.ErrValueOverflow:     {},
}

// structuralCodes are spec.md §7's Structural category: malformed
// transaction shape, caught before any UTXO lookup. Also ban-worthy.
var structuralCodes = map[consensus.ErrorCode]struct{}{
	consensus.ErrTooLargeScript: {},
	consensus.ErrTooManyInOut:   {},
	consensus.ErrParse:          {},
}

// isBanWorthyTxError reports whether err is one of the Structural or
// Semantic UTXO categories spec.md §7 requires a ban for. Mempool's own
// bookkeeping rejections (already pooled, prevout claimed by another
// pooled tx, fee below the local floor, pool at capacity) are ordinary
// network conditions rather than attacker-controlled protocol violations,
// and are excluded: they report false here so the caller drops the
// transaction without disconnecting the peer.
func isBanWorthyTxError(err error) bool {
	code, ok := consensus.CodeOf(err)
	if !ok {
		return false
	}
	if _, ok := semanticUTXOCodes[code]; ok {
		return true
	}
	_, ok = structuralCodes[code]
	return ok
}

// OnHello implements spec.md §4.8's Hello dispatch: any field violation is
// ban-worthy (the caller disconnects and bans on a non-nil return). On
// success the peer is registered and answered with the known address book.
func (n *Node) OnHello(p *Peer, h *HelloPayload) error {
	if h == nil {
		return fmt.Errorf("p2p: hello: missing payload")
	}
	if h.Version != n.cfg.Version {
		return fmt.Errorf("p2p: hello: unsupported version %d", h.Version)
	}
	if h.TxidVersion != 1 && h.TxidVersion != 2 {
		return fmt.Errorf("p2p: hello: txid_version must be 1 or 2")
	}
	if h.TxidVersion != n.cfg.TxidVersion {
		return fmt.Errorf("p2p: hello: txid_version %d does not match local preference", h.TxidVersion)
	}
	if h.Network != n.cfg.Network {
		return fmt.Errorf("p2p: hello: network mismatch")
	}
	if len(h.NodeID) < 1 || len(h.NodeID) > 64 {
		return fmt.Errorf("p2p: hello: node_id length out of bounds")
	}
	if len(h.Network) < 1 || len(h.Network) > 16 {
		return fmt.Errorf("p2p: hello: network length out of bounds")
	}

	n.peersMu.Lock()
	n.peers[p.Addr] = p
	n.peersMu.Unlock()

	return p.Send(&Message{Kind: KindAddr, Addr: n.knownAddrList()})
}

// OnAddr implements spec.md §4.8's Addr dispatch: attempt to register each
// address, stopping at the first rejection; spawn an outbound dialer for
// every newly registered address.
func (n *Node) OnAddr(p *Peer, addrs []string) {
	for _, a := range addrs {
		added, ok := n.addAddr(a)
		if !ok {
			return
		}
		if added {
			go n.DialWithBackoff(a)
		}
	}
}

// OnGetHeaders implements spec.md §4.8's GetHeaders dispatch.
func (n *Node) OnGetHeaders(p *Peer, locator [][32]byte) {
	headers := n.Chain.HeadersAfter(locator, MaxHeadersEntries)
	if len(headers) == 0 {
		return
	}
	_ = p.Send(&Message{Kind: KindHeaders, Headers: headers})
}

// OnHeaders implements spec.md §4.8's Headers dispatch: add each header,
// returning the first rejection outward. Every code chain.AddHeader can
// produce (invalid PoW/bits, unexpected difficulty,
// unknown previous header, time too old/future) falls under spec.md §7's
// Consensus category, which bans in P2P — so the caller always bans on a
// non-nil return here.
func (n *Node) OnHeaders(p *Peer, headers []consensus.BlockHeader) error {
	now := uint32(time.Now().Unix())
	for _, h := range headers {
		if err := n.Chain.AddHeader(h, false, now); err != nil {
			return fmt.Errorf("p2p: headers: %w", err)
		}
	}
	return nil
}

// OnInv implements spec.md §4.8's Inv dispatch: request anything not
// already held, under the locally configured txid variant for mempool
// membership checks.
func (n *Node) OnInv(p *Peer, inv InvPayload) {
	var wantTx [][32]byte
	for _, id := range inv.Txids {
		var have bool
		if n.cfg.TxidVersion == 1 {
			have = n.Mempool.ContainsV1(id)
		} else {
			have = n.Mempool.Contains(id)
		}
		if !have {
			wantTx = append(wantTx, id)
		}
	}
	var wantBlocks [][32]byte
	for _, hash := range inv.Blocks {
		if _, ok := n.Blocks.Block(hash); !ok {
			wantBlocks = append(wantBlocks, hash)
		}
	}
	if len(wantTx) > 0 {
		_ = p.Send(&Message{Kind: KindGetTx, GetTx: wantTx})
	}
	if len(wantBlocks) > 0 {
		_ = p.Send(&Message{Kind: KindGetBlock, GetBlock: wantBlocks})
	}
}

// OnGetTx implements spec.md §4.8's GetTx dispatch: reply with Tx for each
// id found in the mempool.
func (n *Node) OnGetTx(p *Peer, ids [][32]byte) {
	byID := make(map[[32]byte]*consensus.Transaction, len(n.Mempool.Entries()))
	for _, e := range n.Mempool.Entries() {
		byID[e.TxidV2] = e.Tx
	}
	for _, id := range ids {
		if tx, ok := byID[id]; ok {
			_ = p.Send(&Message{Kind: KindTx, Tx: tx})
		}
	}
}

// OnGetBlock implements spec.md §4.8's GetBlock dispatch: reply with Block
// for each hash found in the block store.
func (n *Node) OnGetBlock(p *Peer, hashes [][32]byte) {
	for _, hash := range hashes {
		if b, ok := n.Blocks.Block(hash); ok {
			_ = p.Send(&Message{Kind: KindBlock, Block: b})
		}
	}
}

// OnTx implements spec.md §4.8's Tx dispatch: gate on Seen, admit to the
// mempool, and rebroadcast an Inv announcement on success. A Structural or
// Semantic UTXO failure (spec.md §7) is returned outward so the caller
// bans; mempool's own bookkeeping rejections (already pooled, prevout
// claimed by another pooled tx, fee below the floor, pool at capacity) are
// ordinary network conditions and are dropped without a ban.
func (n *Node) OnTx(p *Peer, tx *consensus.Transaction) error {
	id, err := consensus.TxIDV2(tx)
	if err != nil {
		return fmt.Errorf("p2p: tx: %w", err)
	}
	if n.seen.tx(id) {
		return nil
	}
	if err := n.Mempool.AddTx(tx, n.Utxos); err != nil {
		if isBanWorthyTxError(err) {
			return fmt.Errorf("p2p: tx: %w", err)
		}
		return nil
	}
	n.broadcastInv(InvPayload{Txids: [][32]byte{id}})
	return nil
}

// OnBlock implements spec.md §4.8's Block dispatch: gate on Seen, store the
// block, accept its header, reorg the applied state to the chain's new
// best tip, re-offer evicted mempool transactions, drop newly confirmed
// ones, and rebroadcast if this block became the tip. Both the header
// accept and the reorg/apply step surface failures from spec.md §7's
// Consensus and Semantic UTXO categories (invalid PoW/bits/merkle/
// timestamp; coinbase-has-inputs/exceeds-subsidy; missing UTXO/value not
// conserved during block application) — every one of them is returned
// outward rather than logged and dropped, so the caller bans.
func (n *Node) OnBlock(p *Peer, block *consensus.Block) error {
	hash := consensus.HeaderHash(block.Header)
	if n.seen.block(hash) {
		return nil
	}
	n.Blocks.Put(hash, block)
	if err := n.Chain.AddHeader(block.Header, false, uint32(time.Now().Unix())); err != nil {
		return fmt.Errorf("p2p: block: %w", err)
	}

	n.applyMu.Lock()
	tipHash, _, ok := n.Chain.Tip()
	if !ok {
		n.applyMu.Unlock()
		return fmt.Errorf("p2p: block: no chain tip after accepting header")
	}
	evicted, err := n.Reorg.ToTip(n.applied, tipHash)
	n.applyMu.Unlock()
	if err != nil {
		return fmt.Errorf("p2p: block: reorg to new tip failed: %w", err)
	}

	for _, tx := range evicted {
		tx := tx
		_ = n.Mempool.AddTx(&tx, n.Utxos)
	}
	for _, tx := range block.Txs[1:] {
		if id, err := consensus.TxIDV2(&tx); err == nil {
			n.Mempool.RemoveTx(id)
		}
	}

	if tipHash == hash {
		n.broadcastInv(InvPayload{Blocks: [][32]byte{hash}})
	}
	return nil
}
