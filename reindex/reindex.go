// Package reindex implements the v1→v2 txid outpoint reindexer (spec.md
// §4.10, C11): given a dump of transactions keyed by their legacy txid, it
// recomputes both txid forms on each one and produces the outpoint mapping
// needed to carry a UTXO snapshot from v1 keys to v2 keys.
package reindex

import (
	"fmt"
	"time"

	"go.utxod.dev/node/consensus"
)

// ErrorKind classifies why a single transaction or output could not be
// cleanly carried from v1 outpoints to v2 outpoints.
type ErrorKind string

const (
	ErrorMissingTx         ErrorKind = "missing_tx"
	ErrorInvalidTx         ErrorKind = "invalid_tx"
	ErrorDuplicateOutPoint ErrorKind = "duplicate_outpoint"
)

// ErrorEntry records one reindex failure: which transaction it came from,
// its v1 txid when one could be computed, and a human-readable reason.
type ErrorEntry struct {
	Kind    ErrorKind
	TxIndex int
	TxidV1  *[32]byte `json:",omitempty"`
	Message string
}

// Report summarizes a Reindex run: how much it covered, how long it ran,
// and every output or transaction it could not cleanly map (spec.md
// §4.10).
type Report struct {
	StartedAt    time.Time
	FinishedAt   time.Time
	Processed    int
	TotalOutputs int
	Errors       []ErrorEntry
}

// CountByKind reports how many Errors entries carry the given kind, for
// callers that just need a summary count (e.g. a CLI's one-line tally).
func (r Report) CountByKind(kind ErrorKind) int {
	n := 0
	for _, e := range r.Errors {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Mapping is the accumulated OutPoint_v1 → OutPoint_v2 remap.
type Mapping map[consensus.OutPoint]consensus.OutPoint

// Options configures a Reindex run.
type Options struct {
	// CheckpointPath, if non-empty, persists progress every CheckpointEvery
	// transactions and is consulted at start to resume a prior run.
	CheckpointPath  string
	CheckpointEvery int // defaults to 1000 if <= 0
}

// Reindex walks txs in order, computing OutPoint_v1 → OutPoint_v2 for every
// output of every transaction. A transaction whose txid cannot be computed
// under either scheme is skipped and recorded in the report; an output whose
// v2 outpoint collides with one already mapped is recorded as a duplicate
// and not overwritten (spec.md §4.10).
func Reindex(txs []consensus.Transaction, opts Options) (Mapping, Report, error) {
	every := opts.CheckpointEvery
	if every <= 0 {
		every = 1000
	}

	mapping := Mapping{}
	report := Report{StartedAt: time.Now()}
	start := 0
	seenV2 := map[consensus.OutPoint]struct{}{}

	if opts.CheckpointPath != "" {
		if cp, ok, err := loadCheckpoint(opts.CheckpointPath); err != nil {
			return nil, Report{}, fmt.Errorf("reindex: load checkpoint: %w", err)
		} else if ok {
			start = cp.NextTxIndex
			mapping = cp.Mappings
			report = cp.Report
			for _, v2 := range mapping {
				seenV2[v2] = struct{}{}
			}
		}
	}

	for i := start; i < len(txs); i++ {
		tx := &txs[i]
		txidV1, errV1 := consensus.TxIDV1(tx)
		txidV2, errV2 := consensus.TxIDV2(tx)
		if errV1 != nil || errV2 != nil {
			cause := errV1
			if cause == nil {
				cause = errV2
			}
			report.Errors = append(report.Errors, ErrorEntry{
				Kind:    ErrorInvalidTx,
				TxIndex: i,
				Message: fmt.Sprintf("compute txid: %v", cause),
			})
			report.Processed++
			continue
		}

		for vout := range tx.Vout {
			v1 := consensus.OutPoint{Txid: txidV1, Vout: uint32(vout)}
			v2 := consensus.OutPoint{Txid: txidV2, Vout: uint32(vout)}
			if _, dup := seenV2[v2]; dup {
				v1Copy := v1.Txid
				report.Errors = append(report.Errors, ErrorEntry{
					Kind:    ErrorDuplicateOutPoint,
					TxIndex: i,
					TxidV1:  &v1Copy,
					Message: fmt.Sprintf("v2 outpoint already mapped: vout %d", vout),
				})
				continue
			}
			seenV2[v2] = struct{}{}
			mapping[v1] = v2
			report.TotalOutputs++
		}
		report.Processed++

		if opts.CheckpointPath != "" && (i+1)%every == 0 {
			if err := writeCheckpoint(opts.CheckpointPath, checkpoint{
				NextTxIndex: i + 1,
				Mappings:    mapping,
				Report:      report,
			}); err != nil {
				return nil, Report{}, fmt.Errorf("reindex: write checkpoint at tx %d: %w", i+1, err)
			}
		}
	}

	report.FinishedAt = time.Now()
	if opts.CheckpointPath != "" {
		if err := writeCheckpoint(opts.CheckpointPath, checkpoint{
			NextTxIndex: len(txs),
			Mappings:    mapping,
			Report:      report,
		}); err != nil {
			return nil, Report{}, fmt.Errorf("reindex: write final checkpoint: %w", err)
		}
	}

	return mapping, report, nil
}
