package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"crowdcoin/internal/chain"
	"crowdcoin/internal/contracts"
)

func TestLoadReadsSecretsFile(t *testing.T) {
	dir := t.TempDir()
	secrets := filepath.Join(dir, "secrets.env")
	body := "CHAIN_RPC_URL=http://127.0.0.1:8545\nCHAIN_MNEMONIC=\"" + chain.DevMnemonic + "\"\nHTTP_PORT=4000\n"
	if err := os.WriteFile(secrets, []byte(body), 0o600); err != nil {
		t.Fatalf("write secrets: %v", err)
	}
	t.Setenv(secretsFileEnv, secrets)
	t.Setenv("CHAIN_MODE", "wallet")
	// already-set variables win over the file
	t.Setenv("HTTP_PORT", "5000")
	// registered with t.Setenv so whatever the file sets is undone
	for _, key := range []string{"CHAIN_RPC_URL", "CHAIN_MNEMONIC"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Chain.RPCURL != "http://127.0.0.1:8545" {
		t.Fatalf("unexpected rpc url %q", cfg.Chain.RPCURL)
	}
	if cfg.Chain.Mnemonic != chain.DevMnemonic {
		t.Fatalf("unexpected mnemonic %q", cfg.Chain.Mnemonic)
	}
	if cfg.Service.HTTPPort != 5000 {
		t.Fatalf("expected env to win, got port %d", cfg.Service.HTTPPort)
	}
	if cfg.Journal.Retention != 168*time.Hour {
		t.Fatalf("unexpected retention %v", cfg.Journal.Retention)
	}

	opts := cfg.Chain.Options()
	if opts.Mode != chain.ModeWallet || opts.Accounts != 10 {
		t.Fatalf("unexpected chain options %+v", opts)
	}
}

func TestLoadWithoutSecretsFile(t *testing.T) {
	t.Setenv(secretsFileEnv, filepath.Join(t.TempDir(), "missing.env"))
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Contracts.DeploymentPath == "" {
		t.Fatalf("expected a default deployment path")
	}
}

func TestFactoryAddressReadsDeploymentRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deployments", "address.json")
	want := "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	if err := contracts.WriteDeployment(path, contracts.Deployment{Address: want, ChainID: 1337}); err != nil {
		t.Fatalf("write deployment: %v", err)
	}

	cfg := &AppConfig{Contracts: ContractsConfig{DeploymentPath: path}}
	got, err := cfg.FactoryAddress()
	if err != nil {
		t.Fatalf("factory address: %v", err)
	}
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}

	cfg.Contracts.DeploymentPath = filepath.Join(t.TempDir(), "none.json")
	if _, err := cfg.FactoryAddress(); err == nil {
		t.Fatalf("expected error for missing record")
	}
}
