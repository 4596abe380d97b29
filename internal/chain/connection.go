package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// Mode is the connection policy, chosen once at startup.
type Mode string

const (
	// ModeWallet signs with locally held keys and talks to an RPC endpoint.
	ModeWallet Mode = "wallet"
	// ModeReadOnly talks to an RPC endpoint and can only perform reads.
	ModeReadOnly Mode = "readonly"
	// ModeDev runs against an in-process backend supplied by the caller.
	ModeDev Mode = "dev"
)

var (
	ErrNotConfigured      = errors.New("chain connection not configured: set an rpc url or wallet credentials")
	ErrMissingCredentials = errors.New("wallet mode requires a mnemonic or private key")
	ErrReadOnly           = errors.New("connection is read-only: no wallet account can sign transactions")
	ErrUnknownAccount     = errors.New("account is not authorized by the wallet")
)

// Backend is everything the contract layer needs from a node.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Options describe how to reach the chain.
type Options struct {
	Mode       Mode
	RPCURL     string
	Mnemonic   string
	Passphrase string
	PrivateKey string
	Accounts   int

	// Backend replaces dialing RPCURL; required for ModeDev.
	Backend Backend
}

// ResolveMode picks the mode when none was configured explicitly.
func ResolveMode(opts Options) (Mode, error) {
	switch opts.Mode {
	case ModeWallet, ModeReadOnly, ModeDev:
		return opts.Mode, nil
	case "", "auto":
	default:
		return "", fmt.Errorf("unknown chain mode %q", opts.Mode)
	}
	hasCreds := strings.TrimSpace(opts.Mnemonic) != "" || strings.TrimSpace(opts.PrivateKey) != ""
	switch {
	case hasCreds && opts.RPCURL != "":
		return ModeWallet, nil
	case hasCreds:
		return "", fmt.Errorf("%w: wallet credentials given without an rpc url", ErrNotConfigured)
	case opts.RPCURL != "":
		return ModeReadOnly, nil
	}
	return "", ErrNotConfigured
}

// Connection is the single, shared link to the chain.
type Connection struct {
	backend Backend
	wallet  *Wallet
	chainID *big.Int
	mode    Mode
	log     *zap.Logger
	closer  func()
}

// Connect establishes the connection. Wallet accounts are authorized here,
// exactly once per process.
func Connect(ctx context.Context, opts Options, logger *zap.Logger) (*Connection, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	mode, err := ResolveMode(opts)
	if err != nil {
		return nil, err
	}

	var wallet *Wallet
	switch mode {
	case ModeWallet, ModeDev:
		wallet, err = openWallet(opts, mode)
		if err != nil {
			return nil, err
		}
	}

	backend := opts.Backend
	closer := func() {}
	if backend == nil {
		if mode == ModeDev {
			return nil, errors.New("dev mode requires an in-process backend")
		}
		if opts.RPCURL == "" {
			return nil, ErrNotConfigured
		}
		cli, err := ethclient.DialContext(ctx, opts.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("dial rpc: %w", err)
		}
		backend = cli
		closer = cli.Close
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		closer()
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	c := &Connection{
		backend: backend,
		wallet:  wallet,
		chainID: chainID,
		mode:    mode,
		log:     logger,
		closer:  closer,
	}

	fields := []zap.Field{zap.String("mode", string(mode)), zap.String("chain_id", chainID.String())}
	if wallet != nil {
		fields = append(fields, zap.Int("accounts", len(wallet.addrs)), zap.String("default_account", wallet.addrs[0].Hex()))
	}
	logger.Info("chain connected", fields...)
	return c, nil
}

func openWallet(opts Options, mode Mode) (*Wallet, error) {
	switch {
	case strings.TrimSpace(opts.PrivateKey) != "":
		return NewKeyWallet(strings.Split(opts.PrivateKey, ",")...)
	case strings.TrimSpace(opts.Mnemonic) != "":
		return NewMnemonicWallet(opts.Mnemonic, opts.Passphrase, opts.Accounts)
	case mode == ModeDev:
		return NewMnemonicWallet(DevMnemonic, "", opts.Accounts)
	}
	return nil, ErrMissingCredentials
}

func (c *Connection) Mode() Mode { return c.mode }

func (c *Connection) Backend() Backend { return c.backend }

func (c *Connection) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

// CanSend reports whether the connection holds signing accounts.
func (c *Connection) CanSend() bool { return c.wallet != nil }

// Accounts lists the authorized accounts; empty when read-only.
func (c *Connection) Accounts(context.Context) ([]common.Address, error) {
	if c.wallet == nil {
		return []common.Address{}, nil
	}
	return c.wallet.Accounts(), nil
}

// Transactor returns signing options for an authorized account.
func (c *Connection) Transactor(ctx context.Context, from common.Address) (*bind.TransactOpts, error) {
	if c.wallet == nil {
		return nil, ErrReadOnly
	}
	key, ok := c.wallet.Key(from)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, from.Hex())
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("transactor: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}

// Ping checks the node is reachable.
func (c *Connection) Ping(ctx context.Context) error {
	_, err := c.backend.BlockNumber(ctx)
	return err
}

func (c *Connection) Close() {
	if c.closer != nil {
		c.closer()
	}
}
