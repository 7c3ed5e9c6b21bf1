package reindex

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/blake2b"

	"go.utxod.dev/node/consensus"
)

// checkpointFile is the on-disk shape of a resumable reindex run (spec.md
// §4.10: next_tx_index, accumulated mappings, partial report), sealed with
// a digest so a half-written file is detected rather than silently resumed
// from corrupt state.
type checkpointFile struct {
	NextTxIndex int            `json:"next_tx_index"`
	Mappings    []mappingEntry `json:"mappings"`
	Report      Report         `json:"report"`
	Digest      string         `json:"digest"`
}

type mappingEntry struct {
	V1 outpointJSON `json:"v1"`
	V2 outpointJSON `json:"v2"`
}

type outpointJSON struct {
	Txid [32]byte `json:"txid"`
	Vout uint32   `json:"vout"`
}

type checkpoint struct {
	NextTxIndex int
	Mappings    Mapping
	Report      Report
}

// writeCheckpoint persists cp to path via a temp file in the same directory,
// fsynced and atomically renamed over the target (spec.md §4.9's write
// discipline, reused here for the reindexer's own resumable state).
func writeCheckpoint(path string, cp checkpoint) error {
	file := toCheckpointFile(cp)
	file.Digest = digestCheckpoint(file)

	body, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	body = append(body, '\n')

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open checkpoint tmp: %w", err)
	}
	_, writeErr := f.Write(body)
	syncErr := f.Sync()
	closeErr := f.Close()
	if writeErr != nil {
		return fmt.Errorf("write checkpoint tmp: %w", writeErr)
	}
	if syncErr != nil {
		return fmt.Errorf("fsync checkpoint tmp: %w", syncErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close checkpoint tmp: %w", closeErr)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}

	dir, err := os.Open(filepath.Dir(path))
	if err != nil {
		return fmt.Errorf("fsync checkpoint dir open: %w", err)
	}
	if err := dir.Sync(); err != nil {
		_ = dir.Close()
		return fmt.Errorf("fsync checkpoint dir: %w", err)
	}
	return dir.Close()
}

// loadCheckpoint reads a previously written checkpoint, verifying its
// digest. ok is false if path does not exist.
func loadCheckpoint(path string) (checkpoint, bool, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return checkpoint{}, false, nil
		}
		return checkpoint{}, false, fmt.Errorf("read checkpoint: %w", err)
	}
	var file checkpointFile
	if err := json.Unmarshal(b, &file); err != nil {
		return checkpoint{}, false, fmt.Errorf("decode checkpoint: %w", err)
	}
	wantDigest := file.Digest
	file.Digest = ""
	if got := digestCheckpoint(file); got != wantDigest {
		return checkpoint{}, false, fmt.Errorf("checkpoint digest mismatch: file is truncated or corrupt")
	}
	return fromCheckpointFile(file), true, nil
}

func toCheckpointFile(cp checkpoint) checkpointFile {
	entries := make([]mappingEntry, 0, len(cp.Mappings))
	for v1, v2 := range cp.Mappings {
		entries = append(entries, mappingEntry{
			V1: outpointJSON{Txid: v1.Txid, Vout: v1.Vout},
			V2: outpointJSON{Txid: v2.Txid, Vout: v2.Vout},
		})
	}
	return checkpointFile{NextTxIndex: cp.NextTxIndex, Mappings: entries, Report: cp.Report}
}

func fromCheckpointFile(file checkpointFile) checkpoint {
	mapping := make(Mapping, len(file.Mappings))
	for _, e := range file.Mappings {
		v1 := consensus.OutPoint{Txid: e.V1.Txid, Vout: e.V1.Vout}
		v2 := consensus.OutPoint{Txid: e.V2.Txid, Vout: e.V2.Vout}
		mapping[v1] = v2
	}
	return checkpoint{NextTxIndex: file.NextTxIndex, Mappings: mapping, Report: file.Report}
}

// digestCheckpoint seals a checkpoint's content against partial writes.
// Not a consensus hash: purely a local corruption check, so blake2b-256 is
// used directly rather than the double-SHA-256 the wire format specifies.
func digestCheckpoint(file checkpointFile) string {
	file.Digest = ""
	body, _ := json.Marshal(file)
	sum := blake2b.Sum256(body)
	return hex.EncodeToString(sum[:])
}
