package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"go.utxod.dev/node/consensus"
)

// snapshotOutPoint/snapshotTxOut mirror spec.md §6's UTXO JSONL schema:
// {"outpoint":{"txid":[...32 bytes...],"vout":N},"txout":{"value":N,"script_pubkey":[...]}}
type snapshotOutPoint struct {
	Txid [32]byte `json:"txid"`
	Vout uint32   `json:"vout"`
}

type snapshotTxOut struct {
	Value        uint64 `json:"value"`
	ScriptPubkey []byte `json:"script_pubkey"`
}

type snapshotEntry struct {
	OutPoint snapshotOutPoint `json:"outpoint"`
	TxOut    snapshotTxOut    `json:"txout"`
}

// ExportUTXOSnapshot writes every UTXO entry as one JSON object per line to
// path, via a temp file in the same directory atomically renamed over the
// target (spec.md §4.9's write discipline).
func (s *Store) ExportUTXOSnapshot(path string) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("store: open snapshot tmp: %w", err)
	}
	w := bufio.NewWriter(f)

	walkErr := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUtxo).ForEach(func(k, v []byte) error {
			op, err := decodeOutpoint(k)
			if err != nil {
				return err
			}
			out, err := decodeTxOut(v)
			if err != nil {
				return err
			}
			entry := snapshotEntry{
				OutPoint: snapshotOutPoint{Txid: op.Txid, Vout: op.Vout},
				TxOut:    snapshotTxOut{Value: out.Value, ScriptPubkey: out.ScriptPubkey},
			}
			line, err := json.Marshal(entry)
			if err != nil {
				return err
			}
			line = append(line, '\n')
			_, err = w.Write(line)
			return err
		})
	})

	if walkErr == nil {
		walkErr = w.Flush()
	}
	syncErr := f.Sync()
	closeErr := f.Close()
	if walkErr != nil {
		return fmt.Errorf("store: export snapshot: %w", walkErr)
	}
	if syncErr != nil {
		return fmt.Errorf("store: fsync snapshot tmp: %w", syncErr)
	}
	if closeErr != nil {
		return fmt.Errorf("store: close snapshot tmp: %w", closeErr)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("store: rename snapshot: %w", err)
	}
	return fsyncDir(filepath.Dir(path))
}

// ImportUTXOSnapshot loads a JSONL UTXO snapshot, inserting every entry.
func (s *Store) ImportUTXOSnapshot(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("store: open snapshot: %w", err)
	}
	defer f.Close()

	var count int
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry snapshotEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return count, fmt.Errorf("store: decode snapshot line %d: %w", count+1, err)
		}
		op := consensus.OutPoint{Txid: entry.OutPoint.Txid, Vout: entry.OutPoint.Vout}
		out := consensus.TxOut{Value: entry.TxOut.Value, ScriptPubkey: entry.TxOut.ScriptPubkey}
		s.Insert(op, out)
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("store: scan snapshot: %w", err)
	}
	return count, nil
}

// fsyncDir durably commits a rename within dir (spec.md §4.9's write
// discipline).
func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("store: fsync dir open: %w", err)
	}
	if err := d.Sync(); err != nil {
		_ = d.Close()
		return fmt.Errorf("store: fsync dir: %w", err)
	}
	return d.Close()
}
