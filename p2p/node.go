package p2p

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"go.utxod.dev/node/chain"
	"go.utxod.dev/node/consensus"
	"go.utxod.dev/node/mempool"
	"go.utxod.dev/node/reorg"
)

// MaxPeerCount bounds concurrently connected peers (spec.md §4.8).
const MaxPeerCount = 64

// Dial backoff parameters (spec.md §4.8): base=2s, max=60s, up to 8 attempts.
const (
	DialBaseDelay   = 2 * time.Second
	DialMaxDelay    = 60 * time.Second
	MaxDialAttempts = 8
	SeedInterval    = 30 * time.Second
)

// Node owns the chain, mempool, block store, UTXO set, and reorg engine, and
// dispatches every inbound peer message into them per spec.md §4.8's
// dispatch contract.
//
// Lock-ordering rule (spec.md §5): chain → blocks → utxos → mempool →
// applied → peers → seen, acquired in this order and released in reverse.
// chain/utxos/mempool each guard themselves internally; applyMu below
// stands in for the combined "acquire chain+blocks+utxos+mempool+applied"
// step the Block dispatch case performs as a unit (Go has no single
// multi-lock primitive, so one coarse mutex serializes that critical
// section instead). peersMu and seen's own mutex are always taken after it.
type Node struct {
	cfg Config

	Chain   *chain.Chain
	Blocks  BlockStore
	Utxos   consensus.UtxoSet
	Mempool *mempool.Pool
	Reorg   *reorg.Engine

	applyMu sync.Mutex
	applied *reorg.AppliedState

	peersMu    sync.Mutex
	peers      map[string]*Peer
	knownAddrs map[string]time.Time

	bans *banList
	seen *seen

	MaxPeers int
}

// NewNode wires a Node around an already-constructed chain, block store,
// UTXO set, and mempool, with the applied state rooted at genesisHash.
func NewNode(cfg Config, c *chain.Chain, blocks BlockStore, utxos consensus.UtxoSet, mp *mempool.Pool, genesisHash [32]byte) *Node {
	return &Node{
		cfg:        cfg,
		Chain:      c,
		Blocks:     blocks,
		Utxos:      utxos,
		Mempool:    mp,
		Reorg:      &reorg.Engine{Chain: c, Blocks: blocks, Utxos: utxos},
		applied:    reorg.NewAppliedState(genesisHash),
		peers:      make(map[string]*Peer),
		knownAddrs: make(map[string]time.Time),
		bans:       newBanList(),
		seen:       newSeen(),
		MaxPeers:   MaxPeerCount,
	}
}

// Accept handles an inbound connection: ban/capacity-gate it, register it,
// and run its dispatch loop in a new goroutine.
func (n *Node) Accept(conn net.Conn) {
	addr := conn.RemoteAddr().String()
	now := time.Now()
	if n.bans.isBanned(addr, now) {
		conn.Close()
		return
	}
	n.peersMu.Lock()
	if len(n.peers) >= n.MaxPeers {
		n.peersMu.Unlock()
		conn.Close()
		return
	}
	p := NewPeer(conn, addr, false, n.cfg)
	n.peers[addr] = p
	n.peersMu.Unlock()

	go n.runPeer(p)
}

// Seed registers the node's initial peer list and seed-file addresses and
// immediately attempts to dial each.
func (n *Node) Seed(addrs []string) {
	for _, a := range addrs {
		added, ok := n.addAddr(a)
		if ok && added {
			go n.DialWithBackoff(a)
		}
	}
}

// DialWithBackoff attempts an outbound connection to addr, retrying with
// exponential backoff (base 2s, max 60s) up to MaxDialAttempts times.
func (n *Node) DialWithBackoff(addr string) {
	delay := DialBaseDelay
	for attempt := 0; attempt < MaxDialAttempts; attempt++ {
		if n.bans.isBanned(addr, time.Now()) {
			return
		}
		n.peersMu.Lock()
		full := len(n.peers) >= n.MaxPeers
		n.peersMu.Unlock()
		if full {
			return
		}

		conn, err := net.Dial("tcp", addr)
		if err == nil {
			p := NewPeer(conn, addr, true, n.cfg)
			n.peersMu.Lock()
			n.peers[addr] = p
			n.knownAddrs[addr] = time.Now()
			n.peersMu.Unlock()
			n.runPeer(p)
			return
		}

		time.Sleep(delay)
		delay *= 2
		if delay > DialMaxDelay {
			delay = DialMaxDelay
		}
	}
}

// SeedLoop periodically re-dials known addresses whose last dial attempt is
// older than SeedInterval and that aren't currently connected.
func (n *Node) SeedLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(SeedInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			n.redialStale()
		}
	}
}

func (n *Node) redialStale() {
	now := time.Now()
	var toDial []string
	n.peersMu.Lock()
	for addr, last := range n.knownAddrs {
		if _, connected := n.peers[addr]; connected {
			continue
		}
		if now.Sub(last) >= SeedInterval {
			toDial = append(toDial, addr)
			n.knownAddrs[addr] = now
		}
	}
	n.peersMu.Unlock()
	for _, a := range toDial {
		go n.DialWithBackoff(a)
	}
}

// StatsLoop periodically logs peer count, mempool size, UTXO count, and tip
// (spec.md §4.8's optional stats thread).
func (n *Node) StatsLoop(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			n.logStats()
		}
	}
}

func (n *Node) logStats() {
	n.peersMu.Lock()
	peerCount := len(n.peers)
	n.peersMu.Unlock()
	tipHash, entry, ok := n.Chain.Tip()
	log.Info().
		Int("peers", peerCount).
		Int("mempool_txs", n.Mempool.Len()).
		Uint64("mempool_bytes", n.Mempool.TotalBytes()).
		Int("utxo_count", n.Utxos.Len()).
		Str("tip", fmt.Sprintf("%x", tipHash)).
		Uint64("tip_height", entry.Height).
		Bool("has_tip", ok).
		Msg("node stats")
}

func (n *Node) runPeer(p *Peer) {
	tipHash, _, ok := n.Chain.Tip()
	var locator [][32]byte
	if ok {
		locator = [][32]byte{tipHash}
	}
	err := p.Run(n, locator)
	now := time.Now()
	if p.Ban.ShouldBan(now) {
		n.bans.ban(p.Addr, now)
	}
	n.removePeer(p.Addr)
	if err != nil {
		log.Debug().Str("peer", p.Addr).Err(err).Msg("peer connection ended")
	}
	_ = p.Conn.Close()
}

func (n *Node) removePeer(addr string) {
	n.peersMu.Lock()
	defer n.peersMu.Unlock()
	delete(n.peers, addr)
}

// addAddr attempts to register addr in the known-address book. ok is false
// on a ban or address-book-capacity failure (the caller should stop
// processing the remaining addresses in the same Addr message, per
// spec.md §4.8). added is true only if addr was not already known.
func (n *Node) addAddr(addr string) (added bool, ok bool) {
	now := time.Now()
	if n.bans.isBanned(addr, now) {
		return false, false
	}
	n.peersMu.Lock()
	defer n.peersMu.Unlock()
	if _, exists := n.knownAddrs[addr]; exists {
		return false, true
	}
	if len(n.knownAddrs) >= n.MaxPeers {
		return false, false
	}
	n.knownAddrs[addr] = time.Time{}
	return true, true
}

func (n *Node) knownAddrList() []string {
	n.peersMu.Lock()
	defer n.peersMu.Unlock()
	out := make([]string, 0, len(n.knownAddrs))
	for a := range n.knownAddrs {
		out = append(out, a)
	}
	return out
}

func (n *Node) broadcastInv(inv InvPayload) {
	n.peersMu.Lock()
	snapshot := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		snapshot = append(snapshot, p)
	}
	n.peersMu.Unlock()
	for _, p := range snapshot {
		_ = p.Send(&Message{Kind: KindInv, Inv: &inv})
	}
}
