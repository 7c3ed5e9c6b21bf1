package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/rand"

	bolt "go.etcd.io/bbolt"

	"go.utxod.dev/node/consensus"
)

// Migrate upgrades an already-open store's on-disk schema_version to the
// current SchemaVersion, applying the supported paths in order: 0→1 (set
// schema_version), 1→2 (set schema_version, ensure network_id is present)
// (spec.md §4.9).
func (s *Store) Migrate(networkID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		v := meta.Get([]byte(metaKeySchemaVersion))
		current := uint32(0)
		if len(v) == 4 {
			current = binary.LittleEndian.Uint32(v)
		}
		if current > SchemaVersion {
			return fmt.Errorf("store: schema_version %d newer than supported %d", current, SchemaVersion)
		}
		for current < SchemaVersion {
			switch current {
			case 0:
				if err := meta.Put([]byte(metaKeySchemaVersion), encodeU32(1)); err != nil {
					return err
				}
				current = 1
			case 1:
				if len(meta.Get([]byte(metaKeyNetworkID))) == 0 {
					if networkID == "" {
						return fmt.Errorf("store: migration 1→2 requires a non-empty network_id")
					}
					if err := meta.Put([]byte(metaKeyNetworkID), []byte(networkID)); err != nil {
						return err
					}
				}
				if err := meta.Put([]byte(metaKeySchemaVersion), encodeU32(2)); err != nil {
					return err
				}
				current = 2
			default:
				return fmt.Errorf("store: no migration path from schema_version %d", current)
			}
		}
		return nil
	})
}

// DryRunReport summarizes a non-destructive schema + integrity check.
type DryRunReport struct {
	SchemaVersion    uint32
	NetworkID        string
	UtxoCount        uint64
	SampledUtxos     int
	UnreferencedTxid [][32]byte
}

// DryRun validates the schema and cross-checks a sample of UTXO txids
// against stored blocks: each sampled txid must appear among some stored
// block's transactions (spec.md §4.9). sampleSize bounds how many UTXO
// entries are checked; 0 means "check them all".
func (s *Store) DryRun(sampleSize int) (DryRunReport, error) {
	var report DryRunReport
	err := s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		v := meta.Get([]byte(metaKeySchemaVersion))
		if len(v) != 4 {
			return fmt.Errorf("store: meta.schema_version malformed")
		}
		report.SchemaVersion = binary.LittleEndian.Uint32(v)
		report.NetworkID = string(meta.Get([]byte(metaKeyNetworkID)))
		if report.NetworkID == "" {
			return fmt.Errorf("store: meta.network_id empty")
		}
		cb := meta.Get([]byte(metaKeyUtxoCount))
		if len(cb) != 8 {
			return fmt.Errorf("store: meta.utxo_count malformed")
		}
		report.UtxoCount = binary.LittleEndian.Uint64(cb)

		knownTxids, err := collectBlockTxids(tx)
		if err != nil {
			return err
		}

		utxo := tx.Bucket(bucketUtxo)
		n := utxo.Stats().KeyN
		take := n
		if sampleSize > 0 && sampleSize < n {
			take = sampleSize
		}
		keep := make(map[int]struct{}, take)
		if take < n {
			for len(keep) < take {
				keep[rand.Intn(n)] = struct{}{}
			}
		}

		i := 0
		return utxo.ForEach(func(k, _ []byte) error {
			if take < n {
				if _, want := keep[i]; !want {
					i++
					return nil
				}
			}
			i++
			op, err := decodeOutpoint(k)
			if err != nil {
				return err
			}
			report.SampledUtxos++
			if _, ok := knownTxids[op.Txid]; !ok {
				report.UnreferencedTxid = append(report.UnreferencedTxid, op.Txid)
			}
			return nil
		})
	})
	return report, err
}

func collectBlockTxids(tx *bolt.Tx) (map[[32]byte]struct{}, error) {
	known := make(map[[32]byte]struct{})
	err := tx.Bucket(bucketBlocks).ForEach(func(_, v []byte) error {
		var blk consensus.Block
		if err := json.Unmarshal(v, &blk); err != nil {
			return fmt.Errorf("store: decode block for dry-run: %w", err)
		}
		for i := range blk.Txs {
			id, err := consensus.TxIDV2(&blk.Txs[i])
			if err != nil {
				return err
			}
			known[id] = struct{}{}
		}
		return nil
	})
	return known, err
}
