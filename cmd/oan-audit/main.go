package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xisvar/the-oan/internal/app"
	"github.com/xisvar/the-oan/internal/audit"
	"github.com/xisvar/the-oan/internal/config"
	"github.com/xisvar/the-oan/internal/ledger"
	"github.com/xisvar/the-oan/internal/logging"
)

func main() {
	configPath := flag.String("config", "configs/node.yaml", "path to node config (storage and keys)")
	signerID := flag.String("signer", "", "actor whose key signs the report (defaults to keys.node_signer_id)")
	applicant := flag.String("applicant", "", "include inclusion proofs for this applicant's events")
	outPath := flag.String("out", "", "output path for the signed audit report json")
	flag.Parse()

	cfg, err := config.LoadNode(*configPath)
	if err != nil {
		fail("load config", err)
	}
	ctx := context.Background()
	logger := logging.NewJSONLogger(cfg.Logging.Level)

	keys, err := app.OpenKeys(cfg)
	if err != nil {
		fail("open keys", err)
	}
	store, err := app.OpenStore(ctx, cfg)
	if err != nil {
		fail("open store", err)
	}
	defer store.Close()

	l, err := ledger.New(ctx, ledger.Params{Log: store, Signer: keys, Keys: keys, Logger: logger, VerifySignatures: true})
	if err != nil {
		fail("open ledger", err)
	}

	signer := strings.TrimSpace(*signerID)
	if signer == "" {
		signer = cfg.Keys.NodeSignerID
	}
	report, err := audit.Build(ctx, audit.Params{
		Ledger:    l,
		Signer:    keys,
		SignerID:  signer,
		NodeID:    cfg.Logging.NodeID,
		Applicant: strings.TrimSpace(*applicant),
	})
	if err != nil {
		fail("build audit report", err)
	}

	outputPath := strings.TrimSpace(*outPath)
	if outputPath == "" {
		outputPath = defaultOutputPath()
	}
	if err := writeJSON(outputPath, report); err != nil {
		fail("write audit report", err)
	}

	fmt.Printf("audit_report:%s\n", outputPath)
	fmt.Printf("checkpoint:%d %s\n", report.Summary.Checkpoint.TreeSize, report.Summary.Checkpoint.MerkleRoot)
	fmt.Printf("chain_valid:%t\n", report.Summary.ChainValid)
	if !report.Summary.ChainValid {
		os.Exit(1)
	}
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(raw, '\n'), 0o644)
}

func defaultOutputPath() string {
	stamp := time.Now().UTC().Format("20060102T150405Z")
	return filepath.Join("reports", fmt.Sprintf("ledger-audit-%s.json", stamp))
}

func fail(step string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", step, err)
	os.Exit(1)
}
