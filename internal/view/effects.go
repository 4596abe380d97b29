package view

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"crowdcoin/internal/campaign"
)

// Backend is the part of campaign.Service the pages drive.
type Backend interface {
	ApproveRequest(ctx context.Context, c *campaign.Campaign, idx int, from common.Address) (*types.Receipt, error)
	FinalizeRequest(ctx context.Context, c *campaign.Campaign, idx int, from common.Address) (*types.Receipt, error)
	GetCampaignRequestForUser(ctx context.Context, c *campaign.Campaign, idx int, account common.Address) (campaign.Request, error)
	Contribute(ctx context.Context, c *campaign.Campaign, value *big.Int, from common.Address) (*types.Receipt, error)
}

var _ Backend = (*campaign.Service)(nil)

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// RequestsEffect executes the request listing commands as account.
func RequestsEffect(b Backend, c *campaign.Campaign, account common.Address, timeout time.Duration) Effect {
	return func(ctx context.Context, cmd Cmd) Msg {
		ctx, cancel := withTimeout(ctx, timeout)
		defer cancel()

		switch cmd := cmd.(type) {
		case SendApprove:
			_, err := b.ApproveRequest(ctx, c, cmd.Index, account)
			return ApproveDone{Index: cmd.Index, Err: err}
		case SendFinalize:
			_, err := b.FinalizeRequest(ctx, c, cmd.Index, account)
			return FinalizeDone{Index: cmd.Index, Err: err}
		case RefreshRow:
			req, err := b.GetCampaignRequestForUser(ctx, c, cmd.Index, account)
			return RowLoaded{Index: cmd.Index, Request: req, Err: err}
		}
		return nil
	}
}

// ContributeEffect executes contribution commands as account.
func ContributeEffect(b Backend, c *campaign.Campaign, account common.Address, timeout time.Duration) Effect {
	return func(ctx context.Context, cmd Cmd) Msg {
		send, ok := cmd.(SendContribute)
		if !ok {
			return nil
		}
		value, err := campaign.ToWei(send.Value)
		if err != nil {
			return ContributeDone{Err: err}
		}
		ctx, cancel := withTimeout(ctx, timeout)
		defer cancel()
		_, err = b.Contribute(ctx, c, value, account)
		return ContributeDone{Err: err}
	}
}
