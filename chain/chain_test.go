package chain

import (
	"math/big"
	"testing"

	"go.utxod.dev/node/consensus"
)

func genesis() consensus.BlockHeader {
	return consensus.GenesisHeader()
}

// childOf builds a header linked to parent. Every test here passes
// skipPoW=true to AddHeader, so no real proof-of-work search is needed.
func childOf(t *testing.T, parent consensus.BlockHeader, bits uint32, timeOffset uint32) consensus.BlockHeader {
	t.Helper()
	return consensus.BlockHeader{
		Version:       1,
		PrevBlockHash: consensus.HeaderHash(parent),
		MerkleRoot:    [32]byte{1},
		Time:          parent.Time + timeOffset,
		Bits:          bits,
	}
}

func TestAddHeaderGenesisBecomesTip(t *testing.T) {
	c := New()
	g := genesis()
	if err := c.AddHeader(g, true, g.Time); err != nil {
		t.Fatalf("add genesis: %v", err)
	}
	hash, entry, ok := c.Tip()
	if !ok {
		t.Fatalf("expected a tip after genesis")
	}
	if hash != consensus.HeaderHash(g) || entry.Height != 0 {
		t.Fatalf("unexpected tip: hash=%x height=%d", hash, entry.Height)
	}
}

func TestAddHeaderIdempotent(t *testing.T) {
	c := New()
	g := genesis()
	if err := c.AddHeader(g, true, g.Time); err != nil {
		t.Fatalf("add genesis: %v", err)
	}
	if err := c.AddHeader(g, true, g.Time); err != nil {
		t.Fatalf("re-adding the same header should be a no-op success, got %v", err)
	}
	if c.Len() != 1 {
		t.Fatalf("expected exactly one entry, got %d", c.Len())
	}
}

func TestAddHeaderUnknownPrev(t *testing.T) {
	c := New()
	orphan := childOf(t, genesis(), consensus.InitialBits, 600)
	err := c.AddHeader(orphan, true, orphan.Time)
	if err == nil {
		t.Fatalf("expected UnknownPrev error")
	}
	if code, _ := consensus.CodeOf(err); code != consensus.ErrUnknownPrev {
		t.Fatalf("expected ErrUnknownPrev, got %v", code)
	}
}

func TestAddHeaderRejectsTimeTooOld(t *testing.T) {
	c := New()
	g := genesis()
	if err := c.AddHeader(g, true, g.Time); err != nil {
		t.Fatalf("add genesis: %v", err)
	}
	child := childOf(t, g, consensus.InitialBits, 0)
	child.Time = g.Time - 1

	err := c.AddHeader(child, true, g.Time)
	if err == nil {
		t.Fatalf("expected TimeTooOld error")
	}
	if code, _ := consensus.CodeOf(err); code != consensus.ErrTimeTooOld {
		t.Fatalf("expected ErrTimeTooOld, got %v", code)
	}
}

func TestAddHeaderRejectsTimeInFuture(t *testing.T) {
	c := New()
	g := genesis()
	if err := c.AddHeader(g, true, g.Time); err != nil {
		t.Fatalf("add genesis: %v", err)
	}
	child := childOf(t, g, consensus.InitialBits, consensus.MaxFutureDrift+1000)

	err := c.AddHeader(child, true, g.Time)
	if err == nil {
		t.Fatalf("expected TimeInFuture error")
	}
	if code, _ := consensus.CodeOf(err); code != consensus.ErrTimeInFuture {
		t.Fatalf("expected ErrTimeInFuture, got %v", code)
	}
}

func TestAddHeaderRejectsUnexpectedBits(t *testing.T) {
	c := New()
	g := genesis()
	if err := c.AddHeader(g, true, g.Time); err != nil {
		t.Fatalf("add genesis: %v", err)
	}
	child := childOf(t, g, 0x1d00ffff, 600) // not parent.bits, and not a retarget height

	err := c.AddHeader(child, true, g.Time+600)
	if err == nil {
		t.Fatalf("expected UnexpectedBits error")
	}
	if code, _ := consensus.CodeOf(err); code != consensus.ErrUnexpectedBits {
		t.Fatalf("expected ErrUnexpectedBits, got %v", code)
	}
}

// AddHeader rejects a header whose parent is unknown, so only orders in
// which every parent precedes its child are valid. Two competing branches
// off genesis give two such orders: branch A first, or branch B first.
func TestBestTipConvergesRegardlessOfInsertOrder(t *testing.T) {
	g := genesis()
	var branchA, branchB []consensus.BlockHeader
	parent := g
	for i := 0; i < 5; i++ {
		child := childOf(t, parent, consensus.InitialBits, 600)
		branchA = append(branchA, child)
		parent = child
	}
	tipA := parent
	parent = g
	for i := 0; i < 3; i++ {
		child := childOf(t, parent, consensus.InitialBits, 601)
		branchB = append(branchB, child)
		parent = child
	}

	forwardOrder := append(append([]consensus.BlockHeader{g}, branchA...), branchB...)
	forward := New()
	for _, h := range forwardOrder {
		if err := forward.AddHeader(h, true, h.Time); err != nil {
			t.Fatalf("forward insert: %v", err)
		}
	}
	forwardTip, _, _ := forward.Tip()

	reversedOrder := append(append([]consensus.BlockHeader{g}, branchB...), branchA...)
	reversed := New()
	for _, h := range reversedOrder {
		if err := reversed.AddHeader(h, true, h.Time); err != nil {
			t.Fatalf("reverse insert: %v", err)
		}
	}
	reversedTip, _, _ := reversed.Tip()

	if forwardTip != reversedTip {
		t.Fatalf("tip depends on insertion order: forward=%x reversed=%x", forwardTip, reversedTip)
	}
	wantTip := consensus.HeaderHash(tipA)
	if forwardTip != wantTip {
		t.Fatalf("unexpected tip: got %x want %x", forwardTip, wantTip)
	}
}

func TestHeadersAfterWalksForwardFromLocator(t *testing.T) {
	c := New()
	g := genesis()
	if err := c.AddHeader(g, true, g.Time); err != nil {
		t.Fatalf("add genesis: %v", err)
	}
	var chain []consensus.BlockHeader
	parent := g
	for i := 0; i < 4; i++ {
		child := childOf(t, parent, consensus.InitialBits, 600)
		if err := c.AddHeader(child, true, child.Time); err != nil {
			t.Fatalf("add child %d: %v", i, err)
		}
		chain = append(chain, child)
		parent = child
	}

	locator := [][32]byte{consensus.HeaderHash(g)}
	got := c.HeadersAfter(locator, 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 headers, got %d", len(got))
	}
	if consensus.HeaderHash(got[0]) != consensus.HeaderHash(chain[0]) {
		t.Fatalf("unexpected first header returned")
	}
	if consensus.HeaderHash(got[1]) != consensus.HeaderHash(chain[1]) {
		t.Fatalf("unexpected second header returned")
	}
}

// TestRetargetAtWindowBoundary builds a 10-block window where blocks arrive
// twice as fast as the target spacing, so the height-10 header must carry a
// tighter (numerically smaller) target than its parent, computed
// independently here via the same BitsToTarget/TargetToBits primitives
// add_header itself uses (spec.md §4.4).
func TestRetargetAtWindowBoundary(t *testing.T) {
	c := New()
	g := genesis()
	if err := c.AddHeader(g, true, g.Time); err != nil {
		t.Fatalf("add genesis: %v", err)
	}

	parent := g
	for i := 0; i < 9; i++ {
		child := childOf(t, parent, consensus.InitialBits, consensus.TargetBlockTime/2)
		if err := c.AddHeader(child, true, child.Time); err != nil {
			t.Fatalf("add block %d: %v", i+1, err)
		}
		parent = child
	}
	// parent is now height 9. window_start is genesis (height 0).

	parentTargetBytes, err := consensus.BitsToTarget(consensus.InitialBits)
	if err != nil {
		t.Fatalf("bits_to_target: %v", err)
	}
	parentTarget := new(big.Int).SetBytes(parentTargetBytes[:])
	actual := int64(parent.Time - g.Time)
	expected := int64(consensus.TargetBlockTime * consensus.DifficultyWindow)
	want := new(big.Int).Mul(parentTarget, big.NewInt(actual))
	want.Div(want, big.NewInt(expected))
	if want.Cmp(parentTarget) > 0 {
		want = parentTarget
	}
	var wantBytes [32]byte
	want.FillBytes(wantBytes[:])
	wantBits := consensus.TargetToBits(wantBytes)

	height10 := childOf(t, parent, wantBits, consensus.TargetBlockTime/2)
	if err := c.AddHeader(height10, true, height10.Time); err != nil {
		t.Fatalf("height-10 header with correctly retargeted bits was rejected: %v", err)
	}

	wrongBits := childOf(t, parent, consensus.InitialBits, consensus.TargetBlockTime/2)
	wrongBits.MerkleRoot = [32]byte{2} // distinct hash from height10
	err = c.AddHeader(wrongBits, true, wrongBits.Time)
	if err == nil {
		t.Fatalf("expected UnexpectedBits for un-retargeted bits at a window boundary")
	}
	if code, _ := consensus.CodeOf(err); code != consensus.ErrUnexpectedBits {
		t.Fatalf("expected ErrUnexpectedBits, got %v", code)
	}
}

func TestHeadersAfterUnknownLocatorReturnsNil(t *testing.T) {
	c := New()
	g := genesis()
	if err := c.AddHeader(g, true, g.Time); err != nil {
		t.Fatalf("add genesis: %v", err)
	}
	got := c.HeadersAfter([][32]byte{{0xff}}, 10)
	if got != nil {
		t.Fatalf("expected nil for unknown locator, got %v", got)
	}
}
