// Package campaign sequences contract calls into crowdfunding operations.
package campaign

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"crowdcoin/internal/contract"
	"crowdcoin/internal/contracts"
	"crowdcoin/internal/txlog"
)

const defaultRetention = 7 * 24 * time.Hour

// AccountSource lists the accounts the connection may send from.
type AccountSource interface {
	Accounts(ctx context.Context) ([]common.Address, error)
}

type Option func(*Service)

// WithJournal records every send in store, kept for retention.
func WithJournal(store txlog.Store, retention time.Duration) Option {
	return func(s *Service) {
		s.journal = store
		if retention > 0 {
			s.retention = retention
		}
	}
}

// WithDescriptors replaces the embedded artifacts used to bind the factory and
// campaign clients. A nil descriptor keeps the embedded one.
func WithDescriptors(factory, campaign *contracts.Descriptor) Option {
	return func(s *Service) {
		if factory != nil {
			s.factoryDesc = factory
		}
		if campaign != nil {
			s.campaign = campaign
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.log = l }
}

// Service is the application facade over the factory and campaign contracts.
type Service struct {
	accounts    AccountSource
	clients     *contract.Factory
	factory     *contract.Client
	factoryDesc *contracts.Descriptor
	campaign    *contracts.Descriptor
	journal     txlog.Store
	retention   time.Duration
	log         *zap.Logger
	now         func() time.Time
}

// New binds the service to the CampaignFactory deployed at factoryAddress.
func New(ctx context.Context, accounts AccountSource, clients *contract.Factory, factoryAddress string, opts ...Option) (*Service, error) {
	s := &Service{
		accounts:    accounts,
		clients:     clients,
		factoryDesc: contracts.MustLoad(contracts.FactoryName),
		campaign:    contracts.MustLoad(contracts.CampaignName),
		retention:   defaultRetention,
		log:         zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	factory, err := clients.MakeClient(ctx, s.factoryDesc, factoryAddress)
	if err != nil {
		return nil, fmt.Errorf("bind campaign factory: %w", err)
	}
	s.factory = factory
	return s, nil
}

// FactoryAddress is the address of the bound CampaignFactory.
func (s *Service) FactoryAddress() common.Address { return s.factory.Address() }

// GetAccounts returns the authorized accounts, empty when none are.
func (s *Service) GetAccounts(ctx context.Context) ([]common.Address, error) {
	return s.accounts.Accounts(ctx)
}

// GetCampaignByAddress binds a Campaign client to address.
func (s *Service) GetCampaignByAddress(ctx context.Context, address string) (*Campaign, error) {
	client, err := s.clients.MakeClient(ctx, s.campaign, strings.TrimSpace(address))
	if err != nil {
		return nil, &LookupError{Address: address, Err: err}
	}
	if client.Address() == (common.Address{}) {
		return nil, &LookupError{Address: address, Err: contract.ErrInvalidAddress}
	}
	return &Campaign{Address: client.Address(), client: client}, nil
}

// GetCampaigns lists every campaign the factory has created.
func (s *Service) GetCampaigns(ctx context.Context) ([]common.Address, error) {
	res, err := s.factory.Call(ctx, "getCampaigns")
	if err != nil {
		return nil, err
	}
	return res.Addresses(0)
}

// CreateCampaign creates a campaign whose minimum contribution is given in
// wei. Range checks are left to the contract.
func (s *Service) CreateCampaign(ctx context.Context, minContribution string, from common.Address) (*types.Receipt, error) {
	minimum, ok := new(big.Int).SetString(strings.TrimSpace(minContribution), 10)
	if !ok {
		return nil, fmt.Errorf("minimum contribution %q is not an integer amount of wei", minContribution)
	}
	return s.send(ctx, s.factory, from, nil, "createCampaign", minimum)
}

// GetCampaignSummary decodes getSummary() by declared output position.
func (s *Service) GetCampaignSummary(ctx context.Context, c *Campaign) (Summary, error) {
	res, err := c.client.Call(ctx, "getSummary")
	if err != nil {
		return Summary{}, err
	}
	return decodeSummary(res)
}

func (s *Service) GetCampaignSummaryByAddress(ctx context.Context, address string) (Summary, error) {
	c, err := s.GetCampaignByAddress(ctx, address)
	if err != nil {
		return Summary{}, err
	}
	return s.GetCampaignSummary(ctx, c)
}

// GetCampaignRequests reads every request concurrently and returns them in
// index order.
func (s *Service) GetCampaignRequests(ctx context.Context, c *Campaign) ([]Request, error) {
	return s.readRequests(ctx, c, func(ctx context.Context, idx int) (Request, error) {
		return s.getRequest(ctx, c, idx)
	})
}

func (s *Service) GetCampaignRequestsByAddress(ctx context.Context, address string) ([]Request, error) {
	c, err := s.GetCampaignByAddress(ctx, address)
	if err != nil {
		return nil, err
	}
	return s.GetCampaignRequests(ctx, c)
}

// GetCampaignRequestsForUser is GetCampaignRequests with HasUserApproved
// filled in for account.
func (s *Service) GetCampaignRequestsForUser(ctx context.Context, c *Campaign, account common.Address) ([]Request, error) {
	account, err := s.resolveAccount(ctx, account)
	if err != nil {
		return nil, err
	}
	return s.readRequests(ctx, c, func(ctx context.Context, idx int) (Request, error) {
		return s.GetCampaignRequestForUser(ctx, c, idx, account)
	})
}

func (s *Service) readRequests(ctx context.Context, c *Campaign, read func(context.Context, int) (Request, error)) ([]Request, error) {
	res, err := c.client.Call(ctx, "getRequestCount")
	if err != nil {
		return nil, err
	}
	count, err := res.BigInt(0)
	if err != nil {
		return nil, err
	}
	if !count.IsInt64() {
		return nil, fmt.Errorf("request count %s out of range", count)
	}

	requests := make([]Request, count.Int64())
	g, gctx := errgroup.WithContext(ctx)
	for i := range requests {
		i := i
		g.Go(func() error {
			req, err := read(gctx, i)
			if err != nil {
				return fmt.Errorf("request %d: %w", i, err)
			}
			requests[i] = req
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return requests, nil
}

func (s *Service) getRequest(ctx context.Context, c *Campaign, idx int) (Request, error) {
	res, err := c.client.Call(ctx, "requests", big.NewInt(int64(idx)))
	if err != nil {
		return Request{}, err
	}
	return decodeRequest(idx, res)
}

// GetCampaignRequestForUser reads one request and whether account approved
// it. The zero account means the first authorized account.
func (s *Service) GetCampaignRequestForUser(ctx context.Context, c *Campaign, idx int, account common.Address) (Request, error) {
	account, err := s.resolveAccount(ctx, account)
	if err != nil {
		return Request{}, err
	}

	var (
		req      Request
		approved bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		req, err = s.getRequest(gctx, c, idx)
		return err
	})
	g.Go(func() error {
		var err error
		approved, err = s.HasUserApprovedRequest(gctx, c, idx, account)
		return err
	})
	if err := g.Wait(); err != nil {
		return Request{}, err
	}
	req.HasUserApproved = approved
	return req, nil
}

// HasUserApprovedRequest reports whether account approved request idx. The
// zero account means the first authorized account.
func (s *Service) HasUserApprovedRequest(ctx context.Context, c *Campaign, idx int, account common.Address) (bool, error) {
	account, err := s.resolveAccount(ctx, account)
	if err != nil {
		return false, err
	}
	res, err := c.client.Call(ctx, "hasApprovedRequest", big.NewInt(int64(idx)), account)
	if err != nil {
		return false, err
	}
	return res.Bool(0)
}

// IsApprover reports whether account has contributed at least the minimum.
func (s *Service) IsApprover(ctx context.Context, c *Campaign, account common.Address) (bool, error) {
	account, err := s.resolveAccount(ctx, account)
	if err != nil {
		return false, err
	}
	res, err := c.client.Call(ctx, "approvers", account)
	if err != nil {
		return false, err
	}
	return res.Bool(0)
}

func (s *Service) NumApprovers(ctx context.Context, c *Campaign) (*big.Int, error) {
	res, err := c.client.Call(ctx, "numApprovers")
	if err != nil {
		return nil, err
	}
	return res.BigInt(0)
}

// CreateCampaignRequest converts the ether amount to wei and submits a new
// spending request.
func (s *Service) CreateCampaignRequest(ctx context.Context, c *Campaign, in RequestInput, from common.Address) (*types.Receipt, error) {
	value, err := ToWei(in.Amount)
	if err != nil {
		return nil, err
	}
	recipient := strings.TrimSpace(in.Recipient)
	if !common.IsHexAddress(recipient) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRecipient, in.Recipient)
	}
	return s.send(ctx, c.client, from, nil, "createRequest", in.Description, value, common.HexToAddress(recipient))
}

func (s *Service) CreateCampaignRequestByAddress(ctx context.Context, address string, in RequestInput, from common.Address) (*types.Receipt, error) {
	c, err := s.GetCampaignByAddress(ctx, address)
	if err != nil {
		return nil, err
	}
	return s.CreateCampaignRequest(ctx, c, in, from)
}

// Contribute sends value wei to the campaign.
func (s *Service) Contribute(ctx context.Context, c *Campaign, value *big.Int, from common.Address) (*types.Receipt, error) {
	return s.send(ctx, c.client, from, value, "contribute")
}

func (s *Service) ApproveRequest(ctx context.Context, c *Campaign, idx int, from common.Address) (*types.Receipt, error) {
	return s.send(ctx, c.client, from, nil, "approveRequest", big.NewInt(int64(idx)))
}

func (s *Service) FinalizeRequest(ctx context.Context, c *Campaign, idx int, from common.Address) (*types.Receipt, error) {
	return s.send(ctx, c.client, from, nil, "finalizeRequest", big.NewInt(int64(idx)))
}

// Journal returns the most recent journal records, or nil without a journal.
func (s *Service) Journal(ctx context.Context, limit int) ([]txlog.Record, error) {
	if s.journal == nil {
		return nil, nil
	}
	return s.journal.Recent(ctx, limit)
}

func (s *Service) resolveAccount(ctx context.Context, account common.Address) (common.Address, error) {
	if account != (common.Address{}) {
		return account, nil
	}
	accounts, err := s.accounts.Accounts(ctx)
	if err != nil {
		return common.Address{}, err
	}
	if len(accounts) == 0 {
		return common.Address{}, ErrNoAccounts
	}
	return accounts[0], nil
}

func (s *Service) send(ctx context.Context, client *contract.Client, from common.Address, value *big.Int, method string, args ...interface{}) (*types.Receipt, error) {
	from, err := s.resolveAccount(ctx, from)
	if err != nil {
		return nil, err
	}
	receipt, err := client.Send(ctx, contract.SendOpts{From: from, Value: value}, method, args...)
	s.record(ctx, client, from, method, receipt, err)
	if err != nil {
		s.log.Info("transaction failed",
			zap.String("contract", client.Name()),
			zap.String("method", method),
			zap.String("from", from.Hex()),
			zap.Error(err))
		return nil, err
	}
	return receipt, nil
}

func (s *Service) record(ctx context.Context, client *contract.Client, from common.Address, method string, receipt *types.Receipt, sendErr error) {
	if s.journal == nil {
		return
	}
	now := s.now()
	rec := txlog.Record{
		Method:    client.Name() + "." + method,
		Contract:  client.Address().Hex(),
		From:      from.Hex(),
		Status:    txlog.StatusMined,
		CreatedAt: now,
		ExpiresAt: now.Add(s.retention),
	}
	if receipt != nil {
		rec.TxHash = receipt.TxHash.Hex()
		if receipt.BlockNumber != nil {
			rec.Block = receipt.BlockNumber.Uint64()
		}
	}
	if sendErr != nil {
		rec.Status = txlog.StatusFailed
		if contract.KindOf(sendErr) == contract.KindReverted {
			rec.Status = txlog.StatusReverted
		}
		rec.Error = sendErr.Error()
	}

	key := rec.TxHash
	if key == "" {
		key = uuid.NewString()
	}
	if err := s.journal.Save(ctx, key, rec); err != nil {
		s.log.Warn("journal save failed", zap.String("method", rec.Method), zap.Error(err))
	}
}
