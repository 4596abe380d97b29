package contract

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"crowdcoin/internal/chain"
	"crowdcoin/internal/contracts"
)

const defaultReceiptPoll = 2 * time.Second

// Connector is the part of chain.Connection the clients use.
type Connector interface {
	Backend() chain.Backend
	Transactor(ctx context.Context, from common.Address) (*bind.TransactOpts, error)
}

// Observer receives one event per node round trip.
type Observer interface {
	ObserveCall(contract, method, kind string, err error, elapsed time.Duration)
}

type Option func(*Factory)

// WithRateLimit throttles every call and send made through the factory's
// clients.
func WithRateLimit(l *rate.Limiter) Option {
	return func(f *Factory) { f.limiter = l }
}

func WithObserver(o Observer) Option {
	return func(f *Factory) { f.observer = o }
}

func WithReceiptPoll(d time.Duration) Option {
	return func(f *Factory) {
		if d > 0 {
			f.receiptPoll = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(f *Factory) { f.log = l }
}

// Factory produces clients bound to one connection.
type Factory struct {
	conn        Connector
	limiter     *rate.Limiter
	observer    Observer
	receiptPoll time.Duration
	log         *zap.Logger
}

func NewFactory(conn Connector, opts ...Option) *Factory {
	f := &Factory{
		conn:        conn,
		receiptPoll: defaultReceiptPoll,
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// MakeClient binds desc to address. An empty address returns a client that
// can only Deploy.
func (f *Factory) MakeClient(ctx context.Context, desc *contracts.Descriptor, address string) (*Client, error) {
	parsed, err := desc.ParseABI()
	if err != nil {
		return nil, err
	}
	c := &Client{
		name:    desc.Name,
		abi:     parsed,
		factory: f,
	}
	if address == "" {
		return c, nil
	}

	if !common.IsHexAddress(address) {
		return nil, &BindError{Contract: desc.Name, Address: address, Err: ErrInvalidAddress}
	}
	addr := common.HexToAddress(address)
	if err := f.wait(ctx); err != nil {
		return nil, &BindError{Contract: desc.Name, Address: address, Err: err}
	}
	code, err := f.conn.Backend().CodeAt(ctx, addr, nil)
	if err != nil {
		return nil, &BindError{Contract: desc.Name, Address: address, Err: err}
	}
	if len(code) == 0 {
		return nil, &BindError{Contract: desc.Name, Address: address, Err: ErrNoContract}
	}
	c.bind(addr)
	return c, nil
}

func (f *Factory) wait(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	return f.limiter.Wait(ctx)
}

func (f *Factory) observe(contract, method, kind string, err error, start time.Time) {
	if f.observer != nil {
		f.observer.ObserveCall(contract, method, kind, err, time.Since(start))
	}
}

// Client is a proxy whose methods map 1:1 onto contract functions.
type Client struct {
	name    string
	address common.Address
	abi     abi.ABI
	bound   *bind.BoundContract
	factory *Factory
}

func (c *Client) bind(addr common.Address) {
	backend := c.factory.conn.Backend()
	c.address = addr
	c.bound = bind.NewBoundContract(addr, c.abi, backend, backend, backend)
}

func (c *Client) Address() common.Address { return c.address }

func (c *Client) Name() string { return c.name }

// Call performs a read-only call and returns the decoded outputs in declared
// order.
func (c *Client) Call(ctx context.Context, method string, args ...interface{}) (Result, error) {
	if c.bound == nil {
		return nil, ErrNotDeployed
	}
	start := time.Now()
	if err := c.factory.wait(ctx); err != nil {
		return nil, err
	}
	var out []interface{}
	err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, method, args...)
	c.factory.observe(c.name, method, "call", err, start)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", c.name, method, err)
	}
	return Result(out), nil
}

// SendOpts describe the sender side of a transaction.
type SendOpts struct {
	From     common.Address
	Value    *big.Int
	GasLimit uint64
}

// Send submits a state-changing call and returns once it is mined.
func (c *Client) Send(ctx context.Context, opts SendOpts, method string, args ...interface{}) (*types.Receipt, error) {
	if c.bound == nil {
		return nil, ErrNotDeployed
	}
	start := time.Now()
	receipt, err := c.send(ctx, opts, method, func(txOpts *bind.TransactOpts) (*types.Transaction, error) {
		return c.bound.Transact(txOpts, method, args...)
	})
	c.factory.observe(c.name, method, "send", err, start)
	return receipt, err
}

// Deploy creates a new instance of the contract and binds the client to it.
func (c *Client) Deploy(ctx context.Context, opts SendOpts, bytecode []byte, args ...interface{}) (*types.Receipt, error) {
	start := time.Now()
	receipt, err := c.send(ctx, opts, "deploy", func(txOpts *bind.TransactOpts) (*types.Transaction, error) {
		_, tx, _, err := bind.DeployContract(txOpts, c.abi, bytecode, c.factory.conn.Backend(), args...)
		return tx, err
	})
	c.factory.observe(c.name, "deploy", "send", err, start)
	if err != nil {
		return nil, err
	}
	c.bind(receipt.ContractAddress)
	return receipt, nil
}

func (c *Client) send(ctx context.Context, opts SendOpts, method string, submit func(*bind.TransactOpts) (*types.Transaction, error)) (*types.Receipt, error) {
	fail := func(err error) (*types.Receipt, error) {
		return nil, &TxError{Method: c.name + "." + method, Kind: classify(err), Err: err}
	}

	txOpts, err := c.factory.conn.Transactor(ctx, opts.From)
	if err != nil {
		return fail(err)
	}
	txOpts.Value = opts.Value
	txOpts.GasLimit = opts.GasLimit

	if err := c.factory.wait(ctx); err != nil {
		return fail(err)
	}
	tx, err := submit(txOpts)
	if err != nil {
		return fail(err)
	}
	c.factory.log.Debug("transaction submitted",
		zap.String("contract", c.name),
		zap.String("method", method),
		zap.String("from", opts.From.Hex()),
		zap.String("tx", tx.Hash().Hex()))

	receipt, err := WaitForReceipt(ctx, c.factory.conn.Backend(), tx.Hash(), c.factory.receiptPoll)
	if err != nil {
		return fail(err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return receipt, &TxError{
			Method: c.name + "." + method,
			Kind:   KindReverted,
			Err:    fmt.Errorf("transaction %s reverted in block %s", tx.Hash().Hex(), receipt.BlockNumber),
		}
	}
	return receipt, nil
}

// WaitForReceipt polls until the transaction is mined or ctx is done.
func WaitForReceipt(ctx context.Context, backend bind.DeployBackend, hash common.Hash, every time.Duration) (*types.Receipt, error) {
	if every <= 0 {
		every = defaultReceiptPoll
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		receipt, err := backend.TransactionReceipt(ctx, hash)
		if receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
