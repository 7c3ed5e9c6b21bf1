package p2p

import (
	"net"
	"testing"
	"time"

	"go.utxod.dev/node/chain"
	"go.utxod.dev/node/consensus"
	"go.utxod.dev/node/mempool"
)

func testCfg() Config {
	return Config{Version: 1, Network: "testnet", NodeID: "node-a", TxidVersion: 2}
}

func newTestNode(t *testing.T) (*Node, [32]byte) {
	t.Helper()
	c := chain.New()
	g := consensus.GenesisHeader()
	if err := c.AddHeader(g, true, g.Time); err != nil {
		t.Fatalf("add genesis: %v", err)
	}
	gHash := consensus.HeaderHash(g)
	blocks := NewInMemoryBlockStore()
	blocks.Put(gHash, &consensus.Block{Header: g, Txs: []consensus.Transaction{{}}})
	utxos := consensus.NewInMemoryUtxoSet()
	pool := mempool.New(mempool.Config{MaxTxs: 100, MaxTotalBytes: 1 << 20, MinFeeRate: 0})
	n := NewNode(testCfg(), c, blocks, utxos, pool, gHash)
	return n, gHash
}

func TestOnHelloRegistersPeerAndRepliesAddr(t *testing.T) {
	n, _ := newTestNode(t)
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	peer := NewPeer(serverConn, "peer-1", false, n.cfg)
	errCh := make(chan error, 1)
	go func() {
		errCh <- n.OnHello(peer, &HelloPayload{Version: 1, Network: "testnet", NodeID: "node-b", TxidVersion: 2})
	}()

	reply, err := ReadFrame(clientConn)
	if err != nil {
		t.Fatalf("read addr reply: %v", err)
	}
	if reply.Kind != KindAddr {
		t.Fatalf("expected addr reply, got %v", reply.Kind)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("OnHello: %v", err)
	}

	n.peersMu.Lock()
	_, registered := n.peers["peer-1"]
	n.peersMu.Unlock()
	if !registered {
		t.Fatalf("expected peer registered after successful hello")
	}
}

func TestOnHelloRejectsVersionMismatch(t *testing.T) {
	n, _ := newTestNode(t)
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()
	peer := NewPeer(serverConn, "peer-1", false, n.cfg)
	if err := n.OnHello(peer, &HelloPayload{Version: 99, Network: "testnet", NodeID: "x", TxidVersion: 2}); err == nil {
		t.Fatalf("expected version mismatch to be rejected")
	}
}

func TestOnHelloRejectsNetworkMismatch(t *testing.T) {
	n, _ := newTestNode(t)
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()
	peer := NewPeer(serverConn, "peer-1", false, n.cfg)
	if err := n.OnHello(peer, &HelloPayload{Version: 1, Network: "othernet", NodeID: "x", TxidVersion: 2}); err == nil {
		t.Fatalf("expected network mismatch to be rejected")
	}
}

func TestOnHelloRejectsNodeIDOutOfBounds(t *testing.T) {
	n, _ := newTestNode(t)
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()
	peer := NewPeer(serverConn, "peer-1", false, n.cfg)
	if err := n.OnHello(peer, &HelloPayload{Version: 1, Network: "testnet", NodeID: "", TxidVersion: 2}); err == nil {
		t.Fatalf("expected empty node_id to be rejected")
	}
}

func TestOnAddrStopsAtFirstBanFailure(t *testing.T) {
	n, _ := newTestNode(t)
	n.bans.ban("bad-addr", time.Now())
	peer := &Peer{Addr: "n/a"}
	n.OnAddr(peer, []string{"good-1", "bad-addr", "good-2"})

	n.peersMu.Lock()
	_, gotGood1 := n.knownAddrs["good-1"]
	_, gotGood2 := n.knownAddrs["good-2"]
	n.peersMu.Unlock()
	if !gotGood1 {
		t.Fatalf("expected good-1 to be registered before the ban was hit")
	}
	if gotGood2 {
		t.Fatalf("expected good-2 to never be processed after the ban stopped the loop")
	}
}

func TestOnTxGatesOnSeenAndAdmitsOnce(t *testing.T) {
	n, gHash := newTestNode(t)
	funding := consensus.OutPoint{Txid: gHash, Vout: 0}
	n.Utxos.Insert(funding, consensus.TxOut{Value: 1000})
	tx := &consensus.Transaction{
		Vin:  []consensus.TxIn{{Prevout: funding}},
		Vout: []consensus.TxOut{{Value: 900}},
	}
	peer := &Peer{Addr: "n/a"}
	if err := n.OnTx(peer, tx); err != nil {
		t.Fatalf("OnTx: %v", err)
	}
	if n.Mempool.Len() != 1 {
		t.Fatalf("expected tx admitted to mempool, got %d entries", n.Mempool.Len())
	}
	if err := n.OnTx(peer, tx); err != nil { // same tx again: seen gate must short-circuit before AddTx
		t.Fatalf("OnTx (replay): %v", err)
	}
	if n.Mempool.Len() != 1 {
		t.Fatalf("expected seen-gate to prevent reprocessing, got %d entries", n.Mempool.Len())
	}
}

// TestOnTxReturnsErrorOnMissingUtxo exercises spec.md §7's Semantic UTXO
// category: a tx spending a prevout absent from the UTXO set must surface
// an error so Peer.Run bans, never just drop silently.
func TestOnTxReturnsErrorOnMissingUtxo(t *testing.T) {
	n, _ := newTestNode(t)
	tx := &consensus.Transaction{
		Vin:  []consensus.TxIn{{Prevout: consensus.OutPoint{Txid: [32]byte{9}, Vout: 0}}},
		Vout: []consensus.TxOut{{Value: 100}},
	}
	peer := &Peer{Addr: "n/a"}
	err := n.OnTx(peer, tx)
	if err == nil {
		t.Fatalf("expected missing-utxo spend to be rejected")
	}
	if code, ok := consensus.CodeOf(err); !ok || code != consensus.ErrMissingUtxo {
		t.Fatalf("expected ErrMissingUtxo, got %v (ok=%v)", err, ok)
	}
	if n.Mempool.Len() != 0 {
		t.Fatalf("expected nothing admitted to mempool")
	}
}

// TestOnTxDropsDuplicateWithoutBanning confirms mempool's own bookkeeping
// rejections (here: already-pooled) are not propagated as errors -
// they're ordinary gossip noise, not a protocol violation worth banning.
func TestOnTxDropsDuplicateWithoutBanning(t *testing.T) {
	n, gHash := newTestNode(t)
	funding := consensus.OutPoint{Txid: gHash, Vout: 0}
	n.Utxos.Insert(funding, consensus.TxOut{Value: 1000})
	tx := &consensus.Transaction{
		Vin:  []consensus.TxIn{{Prevout: funding}},
		Vout: []consensus.TxOut{{Value: 900}},
	}
	if err := n.Mempool.AddTx(tx, n.Utxos); err != nil {
		t.Fatalf("seed mempool: %v", err)
	}

	// The tx was seeded straight into the mempool, so the seen gate has not
	// recorded its id; OnTx therefore reaches AddTx, which rejects it.
	dup := &consensus.Transaction{Vin: tx.Vin, Vout: tx.Vout}
	peer := &Peer{Addr: "n/a"}
	if err := n.OnTx(peer, dup); err != nil {
		t.Fatalf("expected duplicate-tx rejection to be dropped without a ban, got %v", err)
	}
}

// TestOnHeadersReturnsErrorOnUnknownPrev exercises spec.md §7's Consensus
// category via chain.AddHeader: a header citing an unknown parent must
// surface an error so Peer.Run bans, rather than being dropped silently.
func TestOnHeadersReturnsErrorOnUnknownPrev(t *testing.T) {
	n, _ := newTestNode(t)
	orphan := consensus.BlockHeader{
		Version:       1,
		PrevBlockHash: [32]byte{0xff},
		Time:          uint32(time.Now().Unix()),
		Bits:          consensus.InitialBits,
	}
	peer := &Peer{Addr: "n/a"}
	err := n.OnHeaders(peer, []consensus.BlockHeader{orphan})
	if err == nil {
		t.Fatalf("expected header with unknown parent to be rejected")
	}
	if code, ok := consensus.CodeOf(err); !ok || code != consensus.ErrUnknownPrev {
		t.Fatalf("expected ErrUnknownPrev, got %v (ok=%v)", err, ok)
	}
}

func TestOnInvRequestsOnlyMissingItems(t *testing.T) {
	n, gHash := newTestNode(t)
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()
	peer := NewPeer(serverConn, "peer-1", false, n.cfg)

	n.Utxos.Insert(consensus.OutPoint{Txid: gHash, Vout: 2}, consensus.TxOut{Value: 500})
	haveTx := consensus.Transaction{
		Vin:  []consensus.TxIn{{Prevout: consensus.OutPoint{Txid: gHash, Vout: 2}}},
		Vout: []consensus.TxOut{{Value: 400}},
	}
	haveID, _ := consensus.TxIDV2(&haveTx)
	missingTx := consensus.Transaction{
		Vin:  []consensus.TxIn{{Prevout: consensus.OutPoint{Txid: gHash, Vout: 1}}},
		Vout: []consensus.TxOut{{Value: 900}},
	}
	missingID, _ := consensus.TxIDV2(&missingTx)
	if err := n.Mempool.AddTx(&haveTx, n.Utxos); err != nil {
		t.Fatalf("seed mempool: %v", err)
	}

	go n.OnInv(peer, InvPayload{Txids: [][32]byte{haveID, missingID}})

	got, err := ReadFrame(clientConn)
	if err != nil {
		t.Fatalf("read get_tx: %v", err)
	}
	if got.Kind != KindGetTx || len(got.GetTx) != 1 || got.GetTx[0] != missingID {
		t.Fatalf("expected get_tx requesting only the missing id, got %+v", got)
	}
}
