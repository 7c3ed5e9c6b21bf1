// Command utxod runs the full node: it opens the persistent store, bootstraps
// genesis on first start, and serves the gossip protocol until signaled to
// stop.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.utxod.dev/node/chain"
	"go.utxod.dev/node/consensus"
	"go.utxod.dev/node/logx"
	"go.utxod.dev/node/mempool"
	"go.utxod.dev/node/p2p"
	"go.utxod.dev/node/store"
)

type multiStringFlag []string

func (m *multiStringFlag) String() string {
	if m == nil {
		return ""
	}
	return strings.Join(*m, ",")
}

func (m *multiStringFlag) Set(value string) error {
	*m = append(*m, value)
	return nil
}

// config is the node's effective runtime configuration, printed verbatim by
// -dry-run.
type config struct {
	Network     string   `json:"network"`
	DataDir     string   `json:"datadir"`
	BindAddr    string   `json:"bind"`
	LogLevel    string   `json:"log_level"`
	LogJSON     bool     `json:"log_json"`
	MaxPeers    int      `json:"max_peers"`
	TxidVersion int      `json:"txid_version"`
	Peers       []string `json:"peers"`
}

func defaultConfig() config {
	return config{
		Network:     "devnet",
		DataDir:     "./data",
		BindAddr:    "127.0.0.1:7777",
		LogLevel:    "info",
		LogJSON:     false,
		MaxPeers:    p2p.MaxPeerCount,
		TxidVersion: 2,
	}
}

// normalizePeers merges the comma-separated and repeatable peer flags,
// trims whitespace, and drops empties and duplicates.
func normalizePeers(lists ...string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, l := range lists {
		for _, p := range strings.Split(l, ",") {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

func validateConfig(cfg config) error {
	if cfg.Network == "" {
		return fmt.Errorf("network must not be empty")
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("datadir must not be empty")
	}
	if cfg.TxidVersion != 1 && cfg.TxidVersion != 2 {
		return fmt.Errorf("txid-version must be 1 or 2")
	}
	if cfg.MaxPeers <= 0 {
		return fmt.Errorf("max-peers must be positive")
	}
	return nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	defaults := defaultConfig()
	var peerFlags multiStringFlag

	cfg := defaults
	fs := flag.NewFlagSet("utxod", flag.ContinueOnError)
	fs.SetOutput(stderr)

	peerCSV := fs.String("peers", "", "bootstrap peers, comma-separated host:port")
	fs.Var(&peerFlags, "peer", "single bootstrap peer host:port (repeatable)")
	fs.StringVar(&cfg.Network, "network", defaults.Network, "network id")
	fs.StringVar(&cfg.DataDir, "datadir", defaults.DataDir, "node data directory")
	fs.StringVar(&cfg.BindAddr, "bind", defaults.BindAddr, "bind address host:port")
	fs.StringVar(&cfg.LogLevel, "log-level", defaults.LogLevel, "log level: debug|info|warn|error")
	fs.BoolVar(&cfg.LogJSON, "log-json", defaults.LogJSON, "emit JSON logs instead of console logs")
	fs.IntVar(&cfg.MaxPeers, "max-peers", defaults.MaxPeers, "max connected peers")
	fs.IntVar(&cfg.TxidVersion, "txid-version", defaults.TxidVersion, "preferred txid version: 1 or 2")
	dryRun := fs.Bool("dry-run", false, "print effective config and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.Peers = normalizePeers(append([]string{*peerCSV}, peerFlags...)...)
	if err := validateConfig(cfg); err != nil {
		fmt.Fprintf(stderr, "invalid config: %v\n", err)
		return 2
	}

	if err := logx.Init(cfg.LogLevel, cfg.LogJSON, ""); err != nil {
		fmt.Fprintf(stderr, "logger init failed: %v\n", err)
		return 2
	}

	if err := printConfig(stdout, cfg); err != nil {
		fmt.Fprintf(stderr, "config encode failed: %v\n", err)
		return 1
	}
	if *dryRun {
		return 0
	}

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		fmt.Fprintf(stderr, "datadir create failed: %v\n", err)
		return 2
	}

	db, err := store.Open(cfg.DataDir, cfg.Network)
	if err != nil {
		fmt.Fprintf(stderr, "store open failed: %v\n", err)
		return 2
	}
	defer db.Close()

	c := chain.New()
	genesisHash, exitCode := bootstrap(db, c, stderr)
	if exitCode != 0 {
		return exitCode
	}

	pool := mempool.New(mempool.Config{
		MaxTxs:        5000,
		MaxTotalBytes: 64 * 1024 * 1024,
		MinFeeRate:    0,
	})

	nodeCfg := p2p.Config{
		Version:     1,
		Network:     cfg.Network,
		NodeID:      fmt.Sprintf("utxod-%x", genesisHash[:4]),
		TxidVersion: cfg.TxidVersion,
	}
	n := p2p.NewNode(nodeCfg, c, db, db, pool, genesisHash)

	ln, err := net.Listen("tcp", cfg.BindAddr)
	if err != nil {
		fmt.Fprintf(stderr, "listen failed: %v\n", err)
		return 2
	}
	defer ln.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go acceptLoop(ctx, ln, n)
	n.Seed(cfg.Peers)
	stopStats := make(chan struct{})
	go n.StatsLoop(stopStats, 30*time.Second)
	stopSeed := make(chan struct{})
	go n.SeedLoop(stopSeed)

	fmt.Fprintf(stdout, "utxod listening on %s (network=%s tip=%x)\n", cfg.BindAddr, cfg.Network, genesisHash)
	<-ctx.Done()
	close(stopStats)
	close(stopSeed)
	fmt.Fprintln(stdout, "utxod stopped")
	return 0
}

// bootstrap ensures the store has a genesis entry, persisting one on first
// run, rehydrates the in-memory chain from every previously persisted
// header, and returns the genesis block hash either way.
func bootstrap(db *store.Store, c *chain.Chain, stderr io.Writer) ([32]byte, int) {
	g := consensus.GenesisHeader()
	genesisHash := consensus.HeaderHash(g)

	_, _, hasTip, err := db.Tip()
	if err != nil {
		fmt.Fprintf(stderr, "tip read failed: %v\n", err)
		return [32]byte{}, 2
	}

	if hasTip {
		if err := rehydrateChain(db, c); err != nil {
			fmt.Fprintf(stderr, "chain rehydration failed: %v\n", err)
			return [32]byte{}, 2
		}
		return genesisHash, 0
	}

	if err := c.AddHeader(g, true, g.Time); err != nil {
		fmt.Fprintf(stderr, "genesis header rejected: %v\n", err)
		return [32]byte{}, 2
	}

	genesisWork, err := consensus.WorkFromBits(g.Bits)
	if err != nil {
		fmt.Fprintf(stderr, "genesis work computation failed: %v\n", err)
		return [32]byte{}, 2
	}
	genesisBlock := &consensus.Block{Header: g, Txs: []consensus.Transaction{{}}}
	if err := db.PutHeader(genesisHash, g, 0, genesisWork); err != nil {
		fmt.Fprintf(stderr, "genesis header persist failed: %v\n", err)
		return [32]byte{}, 2
	}
	if err := db.PutBlock(genesisHash, genesisBlock); err != nil {
		fmt.Fprintf(stderr, "genesis block persist failed: %v\n", err)
		return [32]byte{}, 2
	}
	if err := db.SetTip(genesisHash, 0); err != nil {
		fmt.Fprintf(stderr, "genesis tip persist failed: %v\n", err)
		return [32]byte{}, 2
	}
	return genesisHash, 0
}

// rehydrateChain replays every persisted header into c in ascending-height
// order, so each header's parent is already present by the time it is
// re-added (chain.Chain itself is in-memory only; the headers/heights trees
// are its durable source of truth across restarts). PoW is skipped since
// these headers were already validated the first time they were accepted.
func rehydrateChain(db *store.Store, c *chain.Chain) error {
	entries, err := db.AllHeaders()
	if err != nil {
		return fmt.Errorf("load persisted headers: %w", err)
	}
	for _, e := range entries {
		if err := c.AddHeader(e.Header, true, e.Header.Time); err != nil {
			return fmt.Errorf("replay header at height %d: %w", e.Height, err)
		}
	}
	return nil
}

func acceptLoop(ctx context.Context, ln net.Listener, n *p2p.Node) {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				logx.P2P.Warn().Err(err).Msg("accept failed")
				return
			}
		}
		n.Accept(conn)
	}
}

func printConfig(w io.Writer, cfg config) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}
