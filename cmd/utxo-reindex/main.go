// Command utxo-reindex recomputes v2 txids for a batch of transactions,
// producing a v1→v2 outpoint mapping and, optionally, remapping a UTXO
// snapshot dump onto the new keys.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"go.utxod.dev/node/consensus"
	"go.utxod.dev/node/reindex"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("utxo-reindex", flag.ContinueOnError)
	fs.SetOutput(stderr)

	txsPath := fs.String("txs", "", "path to a JSON array of transactions to reindex (required)")
	checkpointPath := fs.String("checkpoint", "", "checkpoint file path (enables resume)")
	checkpointEvery := fs.Int("checkpoint-every", 1000, "write a checkpoint every N transactions")
	reportPath := fs.String("report", "", "write the reindex report as JSON to this path (default: stdout)")
	utxoDumpIn := fs.String("utxo-dump", "", "path to a v1-keyed UTXO JSONL dump to remap")
	utxoDumpOut := fs.String("utxo-dump-out", "", "path to write the v2-keyed UTXO JSONL dump (required with -utxo-dump)")
	dryRun := fs.Bool("dry-run", false, "print the effective configuration and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *txsPath == "" {
		fmt.Fprintln(stderr, "utxo-reindex: -txs is required")
		return 2
	}
	if *utxoDumpIn != "" && *utxoDumpOut == "" {
		fmt.Fprintln(stderr, "utxo-reindex: -utxo-dump-out is required with -utxo-dump")
		return 2
	}

	if *dryRun {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(map[string]any{
			"txs":              *txsPath,
			"checkpoint":       *checkpointPath,
			"checkpoint_every": *checkpointEvery,
			"utxo_dump":        *utxoDumpIn,
			"utxo_dump_out":    *utxoDumpOut,
		})
		return 0
	}

	raw, err := os.ReadFile(*txsPath)
	if err != nil {
		fmt.Fprintf(stderr, "utxo-reindex: read txs: %v\n", err)
		return 2
	}
	var txs []consensus.Transaction
	if err := json.Unmarshal(raw, &txs); err != nil {
		fmt.Fprintf(stderr, "utxo-reindex: decode txs: %v\n", err)
		return 2
	}

	mapping, report, err := reindex.Reindex(txs, reindex.Options{
		CheckpointPath:  *checkpointPath,
		CheckpointEvery: *checkpointEvery,
	})
	if err != nil {
		fmt.Fprintf(stderr, "utxo-reindex: reindex: %v\n", err)
		return 1
	}

	if err := writeReport(stdout, *reportPath, report); err != nil {
		fmt.Fprintf(stderr, "utxo-reindex: write report: %v\n", err)
		return 1
	}

	if *utxoDumpIn != "" {
		applyReport, err := reindex.ApplyToUTXODump(*utxoDumpIn, *utxoDumpOut, mapping)
		if err != nil {
			fmt.Fprintf(stderr, "utxo-reindex: apply utxo dump: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "utxo-reindex: remapped %d entries, %d unmapped\n", applyReport.Written, len(applyReport.Unmapped))
	}

	fmt.Fprintf(stdout, "utxo-reindex: processed=%d outputs=%d invalid=%d duplicates=%d\n",
		report.Processed, report.TotalOutputs, report.CountByKind(reindex.ErrorInvalidTx), report.CountByKind(reindex.ErrorDuplicateOutPoint))
	return 0
}

func writeReport(stdout io.Writer, path string, report reindex.Report) error {
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	if path == "" {
		_, err := fmt.Fprintln(stdout, string(body))
		return err
	}
	return os.WriteFile(path, append(body, '\n'), 0o644)
}
