package p2p

import (
	"sync"

	"go.utxod.dev/node/consensus"
)

// BlockStore holds full block bodies keyed by header hash. InMemoryBlockStore
// is the reference implementation; the persistent store package adapts the
// same shape onto its bbolt "blocks" bucket.
type BlockStore interface {
	Block(hash [32]byte) (*consensus.Block, bool)
	Put(hash [32]byte, b *consensus.Block)
}

// InMemoryBlockStore is a map-backed BlockStore. Safe for concurrent use.
type InMemoryBlockStore struct {
	mu sync.Mutex
	m  map[[32]byte]*consensus.Block
}

func NewInMemoryBlockStore() *InMemoryBlockStore {
	return &InMemoryBlockStore{m: make(map[[32]byte]*consensus.Block)}
}

func (s *InMemoryBlockStore) Block(hash [32]byte) (*consensus.Block, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.m[hash]
	return b, ok
}

func (s *InMemoryBlockStore) Put(hash [32]byte, b *consensus.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[hash] = b
}
