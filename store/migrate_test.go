package store

import (
	"encoding/binary"
	"testing"

	bolt "go.etcd.io/bbolt"

	"go.utxod.dev/node/consensus"
)

func TestMigrateFromZeroSetsSchemaVersion(t *testing.T) {
	s := openTest(t)
	// Force the on-disk schema back to 0, as if opened against a
	// pre-migration database.
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put([]byte(metaKeySchemaVersion), encodeU32(0))
	}); err != nil {
		t.Fatalf("force schema 0: %v", err)
	}

	if err := s.Migrate("testnet"); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	var got uint32
	_ = s.db.View(func(tx *bolt.Tx) error {
		got = binary.LittleEndian.Uint32(tx.Bucket(bucketMeta).Get([]byte(metaKeySchemaVersion)))
		return nil
	})
	if got != SchemaVersion {
		t.Fatalf("expected schema_version %d after migration, got %d", SchemaVersion, got)
	}
}

func TestDryRunFlagsUnreferencedUtxoTxid(t *testing.T) {
	s := openTest(t)

	coinbase := consensus.Transaction{Vout: []consensus.TxOut{{Value: 50}}}
	id, _ := consensus.TxIDV2(&coinbase)
	blk := &consensus.Block{Header: consensus.BlockHeader{Version: 1}, Txs: []consensus.Transaction{coinbase}}
	if err := s.PutBlock([32]byte{1}, blk); err != nil {
		t.Fatalf("put block: %v", err)
	}
	s.Insert(consensus.OutPoint{Txid: id, Vout: 0}, consensus.TxOut{Value: 50})
	s.Insert(consensus.OutPoint{Txid: [32]byte{0xAA}, Vout: 0}, consensus.TxOut{Value: 1})

	report, err := s.DryRun(0)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if len(report.UnreferencedTxid) != 1 || report.UnreferencedTxid[0] != [32]byte{0xAA} {
		t.Fatalf("expected exactly the unbacked txid flagged, got %+v", report.UnreferencedTxid)
	}
}
