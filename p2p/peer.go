package p2p

import (
	"fmt"
	"net"
	"sync"
	"time"

	"go.utxod.dev/node/consensus"
)

// Config is the local node identity a Peer presents in its Hello and
// validates in the peer's (spec.md §4.8).
type Config struct {
	Version     uint32
	Network     string
	NodeID      string
	TxidVersion int
}

// Handler receives dispatched messages for a Peer. Node implements this.
// spec.md §7's propagation policy applies per dispatch case: OnHello,
// OnHeaders, OnTx, and OnBlock can all surface a Consensus- or
// Semantic-UTXO-category failure (invalid PoW/bits/merkle/timestamp from
// add_header; missing UTXO/duplicate input/value not conserved/overflow
// from mempool admission) and must return it rather than swallow it, so
// Peer.Run can ban. The remaining cases (address/query/inventory dispatch)
// never reach those categories and stay error-free.
type Handler interface {
	OnHello(p *Peer, h *HelloPayload) error
	OnAddr(p *Peer, addrs []string)
	OnGetHeaders(p *Peer, locator [][32]byte)
	OnHeaders(p *Peer, headers []consensus.BlockHeader) error
	OnInv(p *Peer, inv InvPayload)
	OnGetTx(p *Peer, ids [][32]byte)
	OnGetBlock(p *Peer, ids [][32]byte)
	OnTx(p *Peer, tx *consensus.Transaction) error
	OnBlock(p *Peer, block *consensus.Block) error
}

// SocketTimeout bounds both read and write deadlines on a peer socket
// (spec.md §5): expiration closes the connection.
const SocketTimeout = 30 * time.Second

// Peer is one framed gossip connection. Safe for concurrent Send; Run must
// only be called from a single goroutine.
type Peer struct {
	Conn     net.Conn
	Addr     string
	Outbound bool
	cfg      Config

	Ban BanScore
	rl  rateLimiter

	mu sync.Mutex
}

// NewPeer wraps conn for the gossip protocol. addr identifies the remote
// endpoint for ban/dial bookkeeping.
func NewPeer(conn net.Conn, addr string, outbound bool, cfg Config) *Peer {
	return &Peer{Conn: conn, Addr: addr, Outbound: outbound, cfg: cfg}
}

// Send writes one frame to the peer. Safe to call concurrently with Run
// (e.g. a broadcast goroutine racing the peer's own reply).
func (p *Peer) Send(msg *Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.Conn.SetWriteDeadline(time.Now().Add(SocketTimeout)); err != nil {
		return err
	}
	return WriteFrame(p.Conn, msg)
}

// Run sends the initial handshake (Hello, then GetHeaders{locator}) and
// loops: read → rate-limit → dispatch, until a fatal error (malformed
// frame, rate-limit overflow, or a banned Hello) ends the connection.
func (p *Peer) Run(h Handler, initialLocator [][32]byte) error {
	hello := &Message{Kind: KindHello, Hello: &HelloPayload{
		Version:     p.cfg.Version,
		Network:     p.cfg.Network,
		NodeID:      p.cfg.NodeID,
		TxidVersion: p.cfg.TxidVersion,
	}}
	if err := p.Send(hello); err != nil {
		return err
	}
	if err := p.Send(&Message{Kind: KindGetHeaders, GetHeaders: initialLocator}); err != nil {
		return err
	}

	for {
		if err := p.Conn.SetReadDeadline(time.Now().Add(SocketTimeout)); err != nil {
			return err
		}
		msg, err := ReadFrame(p.Conn)
		if err != nil {
			return fmt.Errorf("p2p: peer %s: %w", p.Addr, err)
		}

		now := time.Now()
		if !p.rl.allow(now) {
			p.Ban.Add(now, BanThreshold)
			return fmt.Errorf("p2p: peer %s exceeded rate limit", p.Addr)
		}

		switch msg.Kind {
		case KindHello:
			if err := h.OnHello(p, msg.Hello); err != nil {
				p.Ban.Add(now, BanThreshold)
				return fmt.Errorf("p2p: peer %s: hello rejected: %w", p.Addr, err)
			}
		case KindAddr:
			h.OnAddr(p, msg.Addr)
		case KindGetHeaders:
			h.OnGetHeaders(p, msg.GetHeaders)
		case KindHeaders:
			if err := h.OnHeaders(p, msg.Headers); err != nil {
				p.Ban.Add(now, BanThreshold)
				return fmt.Errorf("p2p: peer %s: headers rejected: %w", p.Addr, err)
			}
		case KindInv:
			if msg.Inv != nil {
				h.OnInv(p, *msg.Inv)
			}
		case KindGetTx:
			h.OnGetTx(p, msg.GetTx)
		case KindGetBlock:
			h.OnGetBlock(p, msg.GetBlock)
		case KindTx:
			if msg.Tx != nil {
				if err := h.OnTx(p, msg.Tx); err != nil {
					p.Ban.Add(now, BanThreshold)
					return fmt.Errorf("p2p: peer %s: tx rejected: %w", p.Addr, err)
				}
			}
		case KindBlock:
			if msg.Block != nil {
				if err := h.OnBlock(p, msg.Block); err != nil {
					p.Ban.Add(now, BanThreshold)
					return fmt.Errorf("p2p: peer %s: block rejected: %w", p.Addr, err)
				}
			}
		case KindPing:
			if err := p.Send(&Message{Kind: KindPong}); err != nil {
				return err
			}
		case KindPong:
			// no-op
		default:
			// unknown kind: ignore, no ban-score
		}
	}
}
