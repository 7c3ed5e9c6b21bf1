package reindex

import (
	"os"
	"path/filepath"
	"testing"

	"go.utxod.dev/node/consensus"
)

func TestCheckpointRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.json")
	cp := checkpoint{
		NextTxIndex: 5,
		Mappings: Mapping{
			{Txid: [32]byte{1}, Vout: 0}: {Txid: [32]byte{2}, Vout: 0},
		},
		Report: Report{Processed: 5},
	}
	if err := writeCheckpoint(path, cp); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, ok, err := loadCheckpoint(path)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if got.NextTxIndex != 5 || got.Report.Processed != 5 {
		t.Fatalf("checkpoint mismatch: %+v", got)
	}
	v2, ok := got.Mappings[consensus.OutPoint{Txid: [32]byte{1}, Vout: 0}]
	if !ok || v2.Txid != [32]byte{2} {
		t.Fatalf("mapping not round-tripped: %+v ok=%v", v2, ok)
	}
}

func TestLoadCheckpointDetectsCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.json")
	cp := checkpoint{NextTxIndex: 1, Mappings: Mapping{}, Report: Report{Processed: 1}}
	if err := writeCheckpoint(path, cp); err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	corrupted := append(b, '#')
	if err := os.WriteFile(path, corrupted, 0o600); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	if _, _, err := loadCheckpoint(path); err == nil {
		t.Fatalf("expected corrupted checkpoint to be rejected")
	}
}

func TestLoadCheckpointMissingFileIsNotAnError(t *testing.T) {
	_, ok, err := loadCheckpoint(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil || ok {
		t.Fatalf("expected ok=false, err=nil for a missing checkpoint, got ok=%v err=%v", ok, err)
	}
}
