package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultPassesValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateRejectsUnknownTicker(t *testing.T) {
	cfg := Default()
	cfg.Chain.Ticker = "DOGE"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for unknown ticker")
	}
}

func TestValidateRejectsZeroTxNumLimit(t *testing.T) {
	cfg := Default()
	cfg.Mining.TxNumLimit = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for zero txnumlimit")
	}
}

func TestLoadFileMergesOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "poold.yaml")
	content := "chain:\n  ticker: LTC\nmining:\n  tx_num_limit: 500\nrpc:\n  url: \"http://node:8332\"\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := LoadFile(path, Default())
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Chain.Ticker != "LTC" {
		t.Fatalf("cfg.Chain.Ticker = %q, want LTC", cfg.Chain.Ticker)
	}
	if cfg.Mining.TxNumLimit != 500 {
		t.Fatalf("cfg.Mining.TxNumLimit = %d, want 500", cfg.Mining.TxNumLimit)
	}
	if cfg.RPC.URL != "http://node:8332" {
		t.Fatalf("cfg.RPC.URL = %q, want http://node:8332", cfg.RPC.URL)
	}
	// Fields absent from the file must retain their default values.
	if cfg.Mining.FixedExtraNonceSize != Default().Mining.FixedExtraNonceSize {
		t.Fatalf("unset field was clobbered by partial YAML file")
	}
}

func TestLoadFileMissingFileIsNotAnError(t *testing.T) {
	base := Default()
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), base)
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if cfg != base {
		t.Fatalf("missing file should return base config unchanged")
	}
}

func TestFlagsApplyOverridesDefaults(t *testing.T) {
	cfg := Default()
	f := &Flags{Ticker: "bchn", TxNumLimit: 10}
	f.Apply(&cfg)
	if cfg.Chain.Ticker != "BCHN" {
		t.Fatalf("ticker override not applied: got %q", cfg.Chain.Ticker)
	}
	if cfg.Mining.TxNumLimit != 10 {
		t.Fatalf("txnumlimit override not applied")
	}
}
