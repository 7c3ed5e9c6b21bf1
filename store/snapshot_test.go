package store

import (
	"os"
	"path/filepath"
	"testing"

	"go.utxod.dev/node/consensus"
)

func TestExportImportUTXOSnapshotRoundTrip(t *testing.T) {
	src := openTest(t)
	src.Insert(consensus.OutPoint{Txid: [32]byte{1}, Vout: 0}, consensus.TxOut{Value: 100, ScriptPubkey: []byte("a")})
	src.Insert(consensus.OutPoint{Txid: [32]byte{2}, Vout: 1}, consensus.TxOut{Value: 200, ScriptPubkey: []byte("bb")})

	path := filepath.Join(t.TempDir(), "snapshot.jsonl")
	if err := src.ExportUTXOSnapshot(path); err != nil {
		t.Fatalf("export: %v", err)
	}

	dst := openTest(t)
	n, err := dst.ImportUTXOSnapshot(path)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 entries imported, got %d", n)
	}
	got, ok := dst.Get(consensus.OutPoint{Txid: [32]byte{2}, Vout: 1})
	if !ok || got.Value != 200 || string(got.ScriptPubkey) != "bb" {
		t.Fatalf("imported entry mismatch: %+v ok=%v", got, ok)
	}
}

func TestExportUTXOSnapshotLeavesNoTempFile(t *testing.T) {
	src := openTest(t)
	src.Insert(consensus.OutPoint{Txid: [32]byte{3}, Vout: 0}, consensus.TxOut{Value: 1})
	dir := t.TempDir()
	path := filepath.Join(dir, "snap.jsonl")
	if err := src.ExportUTXOSnapshot(path); err != nil {
		t.Fatalf("export: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); err == nil {
		t.Fatalf("expected temp file to be renamed away")
	}
}
