package p2p

import "sync"

// seen is spec.md §3's Seen: two digest sets used to suppress gossip loops.
// Safe for concurrent use.
type seen struct {
	mu     sync.Mutex
	txs    map[[32]byte]struct{}
	blocks map[[32]byte]struct{}
}

func newSeen() *seen {
	return &seen{txs: make(map[[32]byte]struct{}), blocks: make(map[[32]byte]struct{})}
}

// tx reports whether id was already seen, marking it seen as a side effect
// (an idempotent gate, per spec.md §4.8's Tx dispatch).
func (s *seen) tx(id [32]byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, already := s.txs[id]
	s.txs[id] = struct{}{}
	return already
}

// block reports whether hash was already seen, marking it seen as a side
// effect.
func (s *seen) block(hash [32]byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, already := s.blocks[hash]
	s.blocks[hash] = struct{}{}
	return already
}
