// Package chain implements the header DAG: acceptance, difficulty
// retargeting, and best-tip selection by cumulative work (spec.md §4.4, C4).
package chain

import (
	"math/big"
	"sync"

	"go.utxod.dev/node/consensus"
)

var zeroHash [32]byte

// Entry is one accepted header plus the derived chain metadata that makes
// it comparable to its siblings.
type Entry struct {
	Header         consensus.BlockHeader
	Height         uint64
	CumulativeWork *big.Int
}

// Chain is the header DAG of spec.md §4.3's ChainState: every non-genesis
// entry's prev_block_hash is also a key; height and cumulative work are
// monotone along any path to genesis. Safe for concurrent use.
type Chain struct {
	mu      sync.Mutex
	entries map[[32]byte]Entry
	hasTip  bool
	tip     [32]byte
}

// New returns an empty chain with no headers accepted yet.
func New() *Chain {
	return &Chain{entries: make(map[[32]byte]Entry)}
}

// Tip reports the current best-work header hash, height, and cumulative
// work. ok is false if no header has been accepted yet.
func (c *Chain) Tip() (hash [32]byte, entry Entry, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasTip {
		return [32]byte{}, Entry{}, false
	}
	return c.tip, c.entries[c.tip], true
}

// Height reports the height of the given header hash.
func (c *Chain) Height(hash [32]byte) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[hash]
	return e.Height, ok
}

// Get returns the entry for hash, if known.
func (c *Chain) Get(hash [32]byte) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[hash]
	return e, ok
}

// HeaderAt satisfies reorg.ChainView: the header and height for hash.
func (c *Chain) HeaderAt(hash [32]byte) (consensus.BlockHeader, uint64, bool) {
	e, ok := c.Get(hash)
	return e.Header, e.Height, ok
}

// Contains reports whether hash has already been accepted.
func (c *Chain) Contains(hash [32]byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[hash]
	return ok
}

// Len returns the number of accepted headers.
func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// AddHeader implements spec.md §4.4's add_header. skipPoW bypasses the
// proof-of-work check for trusted fast-sync paths; now is the wall-clock
// second used for the future-drift check.
func (c *Chain) AddHeader(h consensus.BlockHeader, skipPoW bool, now uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	hash := consensus.HeaderHash(h)
	if _, exists := c.entries[hash]; exists {
		return nil // idempotent
	}

	var (
		height     uint64
		parentWork = big.NewInt(0)
		parent     *consensus.BlockHeader
	)
	if h.PrevBlockHash != zeroHash {
		parentEntry, ok := c.entries[h.PrevBlockHash]
		if !ok {
			return consensus.NewError(consensus.ErrUnknownPrev, "parent header not found")
		}
		height = parentEntry.Height + 1
		parentWork = parentEntry.CumulativeWork
		parent = &parentEntry.Header
	}

	expectedBits, err := c.expectedBits(h, parent, height)
	if err != nil {
		return err
	}
	if h.Bits != expectedBits {
		return consensus.NewError(consensus.ErrUnexpectedBits, "bits does not match retarget schedule")
	}

	if h.Bits == 0 {
		return consensus.NewError(consensus.ErrInvalidBits, "bits must be nonzero")
	}
	if parent != nil {
		if h.Time < parent.Time {
			return consensus.NewError(consensus.ErrTimeTooOld, "header time before parent")
		}
	}
	if uint64(h.Time) > uint64(now)+consensus.MaxFutureDrift {
		return consensus.NewError(consensus.ErrTimeInFuture, "header time too far in the future")
	}
	if !skipPoW {
		ok, err := consensus.CheckPoW(h)
		if err != nil {
			return err
		}
		if !ok {
			return consensus.NewError(consensus.ErrPowInvalid, "proof of work check failed")
		}
	}

	work, err := consensus.WorkFromBits(h.Bits)
	if err != nil {
		return err
	}
	total := new(big.Int).Add(parentWork, work)

	c.entries[hash] = Entry{Header: h, Height: height, CumulativeWork: total}

	if !c.hasTip {
		c.hasTip = true
		c.tip = hash
		return nil
	}
	tipEntry := c.entries[c.tip]
	switch cmp := total.Cmp(tipEntry.CumulativeWork); {
	case cmp > 0:
		c.tip = hash
	case cmp == 0 && height > tipEntry.Height:
		c.tip = hash
	}
	return nil
}

// expectedBits computes the bits a header at height must carry: parent.bits
// outside retarget boundaries, or the retargeted value every
// consensus.DifficultyWindow blocks (spec.md §4.4). Genesis (no parent)
// trivially expects whatever bits the header itself carries.
func (c *Chain) expectedBits(h consensus.BlockHeader, parent *consensus.BlockHeader, height uint64) (uint32, error) {
	if parent == nil {
		return h.Bits, nil
	}
	if height%consensus.DifficultyWindow != 0 || height == 0 {
		return parent.Bits, nil
	}

	windowStartHash, ok := c.walkBack(h.PrevBlockHash, consensus.DifficultyWindow-1)
	if !ok {
		return 0, consensus.NewError(consensus.ErrUnknownPrev, "retarget window incomplete")
	}
	windowStart, ok := c.entries[windowStartHash]
	if !ok {
		return 0, consensus.NewError(consensus.ErrUnknownPrev, "retarget window start missing")
	}

	parentTargetBytes, err := consensus.BitsToTarget(parent.Bits)
	if err != nil {
		return 0, err
	}
	parentTarget := new(big.Int).SetBytes(parentTargetBytes[:])

	actual := saturatingSub(parent.Time, windowStart.Header.Time)
	expected := uint64(consensus.TargetBlockTime) * uint64(consensus.DifficultyWindow)
	if expected == 0 {
		expected = 1
	}

	newTarget := new(big.Int).Mul(parentTarget, big.NewInt(int64(actual)))
	newTarget.Div(newTarget, big.NewInt(int64(expected)))
	if newTarget.Cmp(parentTarget) > 0 {
		newTarget = parentTarget
	}

	var targetBytes [32]byte
	newTarget.FillBytes(targetBytes[:])
	return consensus.TargetToBits(targetBytes), nil
}

// walkBack follows prev_block_hash steps times starting from hash, returning
// the ancestor hash reached.
func (c *Chain) walkBack(hash [32]byte, steps uint64) ([32]byte, bool) {
	cur := hash
	for i := uint64(0); i < steps; i++ {
		e, ok := c.entries[cur]
		if !ok {
			return [32]byte{}, false
		}
		cur = e.Header.PrevBlockHash
	}
	return cur, true
}

func saturatingSub(a, b uint32) uint64 {
	if a <= b {
		return 0
	}
	return uint64(a - b)
}

// HeadersAfter implements spec.md §4.4's headers_after: find the first
// locator hash known along the current best-work path, then walk forward
// returning up to limit subsequent headers in height order. Returns nil if
// no locator hash is recognized.
func (c *Chain) HeadersAfter(locator [][32]byte, limit int) []consensus.BlockHeader {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasTip || limit <= 0 {
		return nil
	}

	path := c.bestPathLocked()
	startHeight := -1
	for _, loc := range locator {
		e, ok := c.entries[loc]
		if !ok {
			continue
		}
		if path[e.Height] == loc {
			startHeight = int(e.Height)
			break
		}
	}
	if startHeight < 0 {
		return nil
	}

	out := make([]consensus.BlockHeader, 0, limit)
	for h := uint64(startHeight + 1); len(out) < limit; h++ {
		hash, ok := path[h]
		if !ok {
			break
		}
		out = append(out, c.entries[hash].Header)
	}
	return out
}

// bestPathLocked returns a height->hash map for the active best chain,
// walking backward from the current tip. Caller must hold c.mu.
func (c *Chain) bestPathLocked() map[uint64][32]byte {
	path := make(map[uint64][32]byte)
	cur := c.tip
	for {
		e, ok := c.entries[cur]
		if !ok {
			break
		}
		path[e.Height] = cur
		if e.Header.PrevBlockHash == zeroHash {
			break
		}
		cur = e.Header.PrevBlockHash
	}
	return path
}
