// Package config loads process configuration from the environment, optionally
// populated from a secrets file kept out of version control.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"crowdcoin/internal/chain"
	"crowdcoin/internal/contracts"
	"crowdcoin/internal/logging"
)

const secretsFileEnv = "CROWDCOIN_SECRETS_FILE"

// ChainConfig selects how the process reaches the chain.
type ChainConfig struct {
	// Mode is wallet, readonly or dev. Empty picks from what is configured.
	Mode       string `env:"CHAIN_MODE"`
	RPCURL     string `env:"CHAIN_RPC_URL"`
	Mnemonic   string `env:"CHAIN_MNEMONIC"`
	Passphrase string `env:"CHAIN_MNEMONIC_PASSPHRASE"`
	PrivateKey string `env:"CHAIN_PRIVATE_KEY"`
	Accounts   int    `env:"CHAIN_ACCOUNTS" envDefault:"10"`
	// RateLimit caps node round trips per second; zero disables it.
	RateLimit   float64       `env:"CHAIN_RATE_LIMIT"`
	RateBurst   int           `env:"CHAIN_RATE_BURST" envDefault:"10"`
	CallTimeout time.Duration `env:"CHAIN_CALL_TIMEOUT" envDefault:"2m"`
	ReceiptPoll time.Duration `env:"CHAIN_RECEIPT_POLL" envDefault:"2s"`
}

// Options converts the config into connection options.
func (c ChainConfig) Options() chain.Options {
	return chain.Options{
		Mode:       chain.Mode(c.Mode),
		RPCURL:     c.RPCURL,
		Mnemonic:   c.Mnemonic,
		Passphrase: c.Passphrase,
		PrivateKey: c.PrivateKey,
		Accounts:   c.Accounts,
	}
}

type ContractsConfig struct {
	DeploymentPath string `env:"DEPLOYMENT_PATH" envDefault:"deployments/address.json"`
	// BuildDir overrides the embedded artifacts when set.
	BuildDir string `env:"CONTRACTS_BUILD_DIR"`
	Source   string `env:"CONTRACTS_SOURCE" envDefault:"internal/contracts/src/Campaign.sol"`
	Solc     string `env:"SOLC" envDefault:"solc"`
}

// JournalConfig picks the transaction journal backend. Postgres wins over
// Redis, Redis over a file, and a file over memory.
type JournalConfig struct {
	PostgresDSN   string        `env:"JOURNAL_POSTGRES_DSN"`
	RedisAddr     string        `env:"JOURNAL_REDIS_ADDR"`
	RedisPassword string        `env:"JOURNAL_REDIS_PASSWORD"`
	RedisDB       int           `env:"JOURNAL_REDIS_DB"`
	FilePath      string        `env:"JOURNAL_FILE"`
	Retention     time.Duration `env:"JOURNAL_RETENTION" envDefault:"168h"`
}

type ServiceConfig struct {
	HTTPPort        int           `env:"HTTP_PORT" envDefault:"3000"`
	SessionSecret   string        `env:"SESSION_SECRET"`
	SessionMaxAge   time.Duration `env:"SESSION_MAX_AGE" envDefault:"24h"`
	SessionIdle     time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"30m"`
	SecureCookies   bool          `env:"SESSION_SECURE_COOKIE"`
	RefreshInterval time.Duration `env:"PAGE_REFRESH_INTERVAL" envDefault:"2s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// AppConfig ties together every section.
type AppConfig struct {
	Service   ServiceConfig
	Chain     ChainConfig
	Contracts ContractsConfig
	Journal   JournalConfig
	Log       logging.Config
}

// Load reads the secrets file named by CROWDCOIN_SECRETS_FILE (default .env)
// into the environment without overriding variables already set, then parses
// the environment.
func Load() (*AppConfig, error) {
	if err := loadSecrets(envOr(secretsFileEnv, ".env")); err != nil {
		return nil, fmt.Errorf("load secrets: %w", err)
	}
	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

func loadSecrets(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// FactoryAddress reads the deployed-instance record. Dev mode deploys its
// own factory and does not need one.
func (c *AppConfig) FactoryAddress() (string, error) {
	d, err := contracts.ReadDeployment(c.Contracts.DeploymentPath)
	if err != nil {
		return "", fmt.Errorf("read deployment record: %w", err)
	}
	return d.Address, nil
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}
