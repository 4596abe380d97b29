// Package devchain is an in-process chain that runs the CampaignFactory and
// Campaign contracts natively in Go while speaking the real ABI encoding.
// It satisfies the go-ethereum bind backends, so everything above it (contract
// clients, the campaign service, the web app) runs unchanged against it.
//
// A creation transaction always installs a CampaignFactory. When the
// artifacts carry bytecode, any other creation code is reverted.
package devchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"crowdcoin/internal/contracts"
)

const (
	DefaultChainID = 1337

	callGas     = 300_000
	transferGas = 21_000
)

var (
	_ bind.ContractBackend = (*Chain)(nil)
	_ bind.DeployBackend   = (*Chain)(nil)

	placeholderCode = []byte{0x60, 0x80, 0x60, 0x40}
	oneGwei         = big.NewInt(1_000_000_000)
)

// RevertError mirrors the message a node returns for a failed require().
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string {
	return "execution reverted: " + e.Reason
}

func revert(format string, args ...interface{}) error {
	return &RevertError{Reason: fmt.Sprintf(format, args...)}
}

// CallDelayFunc returns the artificial latency for a read call.
type CallDelayFunc func(method string, args []interface{}) time.Duration

type Option func(*Chain)

func WithChainID(id int64) Option {
	return func(c *Chain) { c.chainID = big.NewInt(id) }
}

// WithAlloc funds accounts at genesis.
func WithAlloc(alloc map[common.Address]*big.Int) Option {
	return func(c *Chain) {
		for addr, amount := range alloc {
			c.balances[addr] = new(big.Int).Set(amount)
		}
	}
}

// WithDescriptors runs the chain against rebuilt artifacts instead of the
// embedded ones. A nil descriptor keeps the embedded one.
func WithDescriptors(factory, campaign *contracts.Descriptor) Option {
	return func(c *Chain) {
		if factory != nil {
			c.factoryDesc = factory
		}
		if campaign != nil {
			c.campaignDesc = campaign
		}
	}
}

// WithCallDelay injects latency into CallContract, outside the chain lock.
func WithCallDelay(fn CallDelayFunc) Option {
	return func(c *Chain) { c.callDelay = fn }
}

// Chain holds world state for factories, campaigns and externally owned
// accounts. Every transaction is mined in its own block as soon as it is sent.
type Chain struct {
	mu        sync.Mutex
	chainID   *big.Int
	signer    types.Signer
	block     uint64
	balances  map[common.Address]*big.Int
	nonces    map[common.Address]uint64
	factories map[common.Address]*factoryState
	campaigns map[common.Address]*campaignState
	receipts  map[common.Hash]*types.Receipt

	factoryDesc  *contracts.Descriptor
	campaignDesc *contracts.Descriptor
	factoryABI   abi.ABI
	campaignABI  abi.ABI
	factoryCode  []byte
	campaignCode []byte
	callDelay    CallDelayFunc
}

func New(opts ...Option) (*Chain, error) {
	c := &Chain{
		chainID:      big.NewInt(DefaultChainID),
		balances:     make(map[common.Address]*big.Int),
		nonces:       make(map[common.Address]uint64),
		factories:    make(map[common.Address]*factoryState),
		campaigns:    make(map[common.Address]*campaignState),
		receipts:     make(map[common.Hash]*types.Receipt),
		factoryDesc:  contracts.MustLoad(contracts.FactoryName),
		campaignDesc: contracts.MustLoad(contracts.CampaignName),
	}
	for _, opt := range opts {
		opt(c)
	}

	var err error
	if c.factoryABI, err = c.factoryDesc.ParseABI(); err != nil {
		return nil, err
	}
	if c.campaignABI, err = c.campaignDesc.ParseABI(); err != nil {
		return nil, err
	}
	// uncompiled artifacts leave the codes empty
	c.factoryCode, _ = c.factoryDesc.Bytecode()
	c.campaignCode, _ = c.campaignDesc.Bytecode()

	c.signer = types.LatestSignerForChainID(c.chainID)
	return c, nil
}

// Fund credits an account outside of any transaction.
func (c *Chain) Fund(addr common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credit(addr, amount)
}

// DeployFactory installs a CampaignFactory on behalf of deployer without a
// signed transaction.
func (c *Chain) DeployFactory(deployer common.Address) common.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	addr := crypto.CreateAddress(deployer, c.nonces[deployer])
	c.nonces[deployer]++
	c.factories[addr] = newFactory()
	c.block++
	return addr
}

func (c *Chain) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.chainID), nil
}

func (c *Chain) BlockNumber(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.block, nil
}

func (c *Chain) BalanceAt(_ context.Context, addr common.Address, _ *big.Int) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.balanceOf(addr)), nil
}

func (c *Chain) CodeAt(_ context.Context, addr common.Address, _ *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codeAt(addr), nil
}

func (c *Chain) PendingCodeAt(_ context.Context, addr common.Address) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codeAt(addr), nil
}

func (c *Chain) CallContract(ctx context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if c.callDelay != nil && call.To != nil {
		if name, args, ok := c.describe(*call.To, call.Data); ok {
			if d := c.callDelay(name, args); d > 0 {
				timer := time.NewTimer(d)
				select {
				case <-ctx.Done():
					timer.Stop()
					return nil, ctx.Err()
				case <-timer.C:
				}
			}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out, _, err := c.execute(messageFromCall(call), false)
	return out, err
}

func (c *Chain) EstimateGas(_ context.Context, call ethereum.CallMsg) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := messageFromCall(call)
	if msg.value.Cmp(c.balanceOf(msg.from)) > 0 {
		return 0, errors.New("insufficient funds for transfer")
	}
	if _, _, err := c.execute(msg, false); err != nil {
		return 0, err
	}
	if msg.to != nil && len(msg.data) == 0 {
		return transferGas, nil
	}
	return callGas, nil
}

func (c *Chain) SuggestGasPrice(context.Context) (*big.Int, error) {
	return new(big.Int).Set(oneGwei), nil
}

func (c *Chain) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return new(big.Int).Set(oneGwei), nil
}

// HeaderByNumber reports a pre-London header so bind builds legacy
// transactions.
func (c *Chain) HeaderByNumber(_ context.Context, _ *big.Int) (*types.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &types.Header{
		Number:     new(big.Int).SetUint64(c.block),
		Difficulty: big.NewInt(0),
		GasLimit:   30_000_000,
		Time:       uint64(time.Now().Unix()),
	}, nil
}

func (c *Chain) PendingNonceAt(_ context.Context, addr common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonces[addr], nil
}

// SendTransaction validates the signature and nonce, then mines the
// transaction immediately. A revert still produces a (failed) receipt.
func (c *Chain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	from, err := types.Sender(c.signer, tx)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if want := c.nonces[from]; tx.Nonce() != want {
		return fmt.Errorf("invalid nonce for %s: have %d, want %d", from.Hex(), tx.Nonce(), want)
	}
	if tx.Value().Cmp(c.balanceOf(from)) > 0 {
		return errors.New("insufficient funds for gas * price + value")
	}

	msg := message{from: from, to: tx.To(), value: tx.Value(), data: tx.Data()}
	_, created, execErr := c.execute(msg, true)

	c.nonces[from]++
	c.block++

	receipt := &types.Receipt{
		Type:              tx.Type(),
		Status:            types.ReceiptStatusSuccessful,
		CumulativeGasUsed: callGas,
		GasUsed:           callGas,
		TxHash:            tx.Hash(),
		BlockNumber:       new(big.Int).SetUint64(c.block),
		Logs:              []*types.Log{},
	}
	if execErr != nil {
		receipt.Status = types.ReceiptStatusFailed
	} else if tx.To() == nil {
		receipt.ContractAddress = created
	}
	c.receipts[tx.Hash()] = receipt
	return nil
}

func (c *Chain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	receipt, ok := c.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (c *Chain) FilterLogs(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (c *Chain) SubscribeFilterLogs(context.Context, ethereum.FilterQuery, chan<- types.Log) (ethereum.Subscription, error) {
	return nil, errors.New("devchain: log subscriptions are not supported")
}

type message struct {
	from  common.Address
	to    *common.Address
	value *big.Int
	data  []byte
}

func messageFromCall(call ethereum.CallMsg) message {
	value := call.Value
	if value == nil {
		value = new(big.Int)
	}
	return message{from: call.From, to: call.To, value: value, data: call.Data}
}

// execute runs msg against current state. With commit=false it only checks
// that the call would succeed and returns its output.
func (c *Chain) execute(msg message, commit bool) ([]byte, common.Address, error) {
	if msg.to == nil {
		if err := c.checkCreation(msg.data); err != nil {
			return nil, common.Address{}, err
		}
		addr := crypto.CreateAddress(msg.from, c.nonces[msg.from])
		if commit {
			c.factories[addr] = newFactory()
			c.transfer(msg.from, addr, msg.value)
		}
		return nil, addr, nil
	}

	to := *msg.to
	if f, ok := c.factories[to]; ok {
		out, err := c.execFactory(f, to, msg, commit)
		return out, common.Address{}, err
	}
	if cs, ok := c.campaigns[to]; ok {
		out, err := c.execCampaign(cs, to, msg, commit)
		return out, common.Address{}, err
	}

	// plain transfer, or a call to an account without code
	if commit {
		c.transfer(msg.from, to, msg.value)
	}
	return nil, common.Address{}, nil
}

// checkCreation admits creation code that installs a CampaignFactory. When the
// artifacts were compiled the code must be the factory's own; campaigns are
// only created through createCampaign.
func (c *Chain) checkCreation(code []byte) error {
	if len(code) == 0 {
		return revert("empty creation code")
	}
	if len(c.factoryCode) > 0 && bytes.Equal(code, c.factoryCode) {
		return nil
	}
	if len(c.campaignCode) > 0 && bytes.HasPrefix(code, c.campaignCode) {
		return revert("campaigns are created through %s.createCampaign", contracts.FactoryName)
	}
	if len(c.factoryCode) > 0 {
		return revert("creation code is not %s", contracts.FactoryName)
	}
	return nil
}

func (c *Chain) describe(to common.Address, data []byte) (string, []interface{}, bool) {
	c.mu.Lock()
	var parsed *abi.ABI
	if _, ok := c.factories[to]; ok {
		parsed = &c.factoryABI
	} else if _, ok := c.campaigns[to]; ok {
		parsed = &c.campaignABI
	}
	c.mu.Unlock()

	if parsed == nil {
		return "", nil, false
	}
	method, args, err := decodeCall(*parsed, data, new(big.Int))
	if err != nil {
		return "", nil, false
	}
	return method.Name, args, true
}

func decodeCall(parsed abi.ABI, data []byte, value *big.Int) (*abi.Method, []interface{}, error) {
	if len(data) < 4 {
		return nil, nil, revert("missing function selector")
	}
	method, err := parsed.MethodById(data[:4])
	if err != nil {
		return nil, nil, revert("unknown function selector %x", data[:4])
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, revert("malformed calldata for %s", method.Name)
	}
	if !method.IsPayable() && value.Sign() > 0 {
		return nil, nil, revert("%s is not payable", method.Name)
	}
	return method, args, nil
}

func (c *Chain) codeAt(addr common.Address) []byte {
	if _, ok := c.factories[addr]; ok {
		return placeholderCode
	}
	if _, ok := c.campaigns[addr]; ok {
		return placeholderCode
	}
	return nil
}

func (c *Chain) balanceOf(addr common.Address) *big.Int {
	if b, ok := c.balances[addr]; ok {
		return b
	}
	return new(big.Int)
}

func (c *Chain) credit(addr common.Address, amount *big.Int) {
	c.balances[addr] = new(big.Int).Add(c.balanceOf(addr), amount)
}

func (c *Chain) transfer(from, to common.Address, amount *big.Int) {
	if amount == nil || amount.Sign() == 0 {
		return
	}
	c.balances[from] = new(big.Int).Sub(c.balanceOf(from), amount)
	c.credit(to, amount)
}
