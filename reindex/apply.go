package reindex

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.utxod.dev/node/consensus"
)

// dumpEntry mirrors spec.md §6's UTXO JSONL schema:
// {"outpoint":{"txid":[...],"vout":N},"txout":{"value":N,"script_pubkey":[...]}}
type dumpEntry struct {
	OutPoint struct {
		Txid [32]byte `json:"txid"`
		Vout uint32   `json:"vout"`
	} `json:"outpoint"`
	TxOut struct {
		Value        uint64 `json:"value"`
		ScriptPubkey []byte `json:"script_pubkey"`
	} `json:"txout"`
}

// ApplyReport summarizes an ApplyToUTXODump run.
type ApplyReport struct {
	Written  int
	Unmapped []consensus.OutPoint // v1 outpoints absent from mapping
}

// ApplyToUTXODump reads a v1-keyed UTXO JSONL dump from srcPath and writes a
// v2-keyed dump to dstPath using mapping, via a temp file atomically renamed
// over the target (spec.md §4.9's write discipline, §4.10's optional
// snapshot-remap step). An outpoint absent from mapping is dropped from the
// output and recorded in the returned report rather than failing the run.
func ApplyToUTXODump(srcPath, dstPath string, mapping Mapping) (ApplyReport, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return ApplyReport{}, fmt.Errorf("reindex: open source dump: %w", err)
	}
	defer src.Close()

	tmp := dstPath + ".tmp"
	dst, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return ApplyReport{}, fmt.Errorf("reindex: open dest tmp: %w", err)
	}
	w := bufio.NewWriter(dst)

	var report ApplyReport
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	scanErr := func() error {
		for scanner.Scan() {
			lineNo++
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var e dumpEntry
			if err := json.Unmarshal(line, &e); err != nil {
				return fmt.Errorf("decode dump line %d: %w", lineNo, err)
			}
			v1 := consensus.OutPoint{Txid: e.OutPoint.Txid, Vout: e.OutPoint.Vout}
			v2, ok := mapping[v1]
			if !ok {
				report.Unmapped = append(report.Unmapped, v1)
				continue
			}
			e.OutPoint.Txid = v2.Txid
			e.OutPoint.Vout = v2.Vout
			out, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("encode remapped entry: %w", err)
			}
			out = append(out, '\n')
			if _, err := w.Write(out); err != nil {
				return err
			}
			report.Written++
		}
		return scanner.Err()
	}()

	if scanErr == nil {
		scanErr = w.Flush()
	}
	syncErr := dst.Sync()
	closeErr := dst.Close()
	if scanErr != nil {
		return ApplyReport{}, fmt.Errorf("reindex: apply dump: %w", scanErr)
	}
	if syncErr != nil {
		return ApplyReport{}, fmt.Errorf("reindex: fsync dest tmp: %w", syncErr)
	}
	if closeErr != nil {
		return ApplyReport{}, fmt.Errorf("reindex: close dest tmp: %w", closeErr)
	}
	if err := os.Rename(tmp, dstPath); err != nil {
		return ApplyReport{}, fmt.Errorf("reindex: rename dest: %w", err)
	}

	dir, err := os.Open(filepath.Dir(dstPath))
	if err != nil {
		return report, fmt.Errorf("reindex: fsync dest dir open: %w", err)
	}
	if err := dir.Sync(); err != nil {
		_ = dir.Close()
		return report, fmt.Errorf("reindex: fsync dest dir: %w", err)
	}
	return report, dir.Close()
}
