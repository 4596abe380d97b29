package view

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crowdcoin/internal/campaign"
)

type fakeBackend struct {
	mu        sync.Mutex
	err       error
	gate      chan struct{}
	approved  []int
	finalized []int
	values    []*big.Int
}

func (b *fakeBackend) wait(ctx context.Context) error {
	if b.gate == nil {
		return nil
	}
	select {
	case <-b.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *fakeBackend) ApproveRequest(ctx context.Context, _ *campaign.Campaign, idx int, _ common.Address) (*types.Receipt, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.approved = append(b.approved, idx)
	return &types.Receipt{}, b.err
}

func (b *fakeBackend) FinalizeRequest(ctx context.Context, _ *campaign.Campaign, idx int, _ common.Address) (*types.Receipt, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finalized = append(b.finalized, idx)
	return &types.Receipt{}, b.err
}

func (b *fakeBackend) GetCampaignRequestForUser(_ context.Context, _ *campaign.Campaign, idx int, _ common.Address) (campaign.Request, error) {
	return campaign.Request{Index: idx, ApprovalCount: big.NewInt(2), HasUserApproved: true}, nil
}

func (b *fakeBackend) Contribute(ctx context.Context, _ *campaign.Campaign, value *big.Int, _ common.Address) (*types.Receipt, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values = append(b.values, value)
	return &types.Receipt{}, b.err
}

func newRequestsComponent(b *fakeBackend, clk clock.Clock) *Component[RequestsPage] {
	page := samplePage(true, campaign.Request{}, campaign.Request{ApprovalCount: big.NewInt(2)})
	return NewComponent(context.Background(), page, UpdateRequests, RequestsEffect(b, &campaign.Campaign{}, common.Address{}, time.Second), clk)
}

func TestComponentApproveRefreshesRow(t *testing.T) {
	b := &fakeBackend{}
	c := newRequestsComponent(b, clock.NewMock())

	c.Dispatch(ApproveClicked{Index: 0})
	c.Wait()
	c.Wait()

	require.Eventually(t, func() bool {
		return c.Model().Rows[0].Request.ApprovalCount.Int64() == 2
	}, time.Second, 5*time.Millisecond)
	assert.True(t, c.Model().Rows[0].Approved)
	assert.Equal(t, []int{0}, b.approved)
}

func TestComponentRowErrorAutoClears(t *testing.T) {
	mock := clock.NewMock()
	b := &fakeBackend{err: errors.New("execution reverted: not an approver")}
	c := newRequestsComponent(b, mock)

	c.Dispatch(FinalizeClicked{Index: 1})
	c.Wait()
	require.Equal(t, StatusError, c.Model().Rows[1].Finalize.Status)

	mock.Add(RowErrorTTL - time.Millisecond)
	assert.Equal(t, StatusError, c.Model().Rows[1].Finalize.Status)

	mock.Add(time.Millisecond)
	assert.Eventually(t, func() bool {
		return c.Model().Rows[1].Finalize.Status == StatusIdle
	}, time.Second, 5*time.Millisecond)
	assert.False(t, c.Model().Rows[1].Finalized)
}

func TestComponentTimersDoNotFireAfterDispose(t *testing.T) {
	mock := clock.NewMock()
	b := &fakeBackend{err: errors.New("user denied transaction signature")}
	c := newRequestsComponent(b, mock)

	c.Dispatch(ApproveClicked{Index: 0})
	c.Wait()
	require.Equal(t, StatusError, c.Model().Rows[0].Approve.Status)

	c.Dispose()
	mock.Add(time.Minute)
	assert.Never(t, func() bool {
		return c.Model().Rows[0].Approve.Status != StatusError
	}, 50*time.Millisecond, 5*time.Millisecond)
	assert.True(t, c.Disposed())
}

func TestComponentDropsResultsAfterDispose(t *testing.T) {
	b := &fakeBackend{gate: make(chan struct{})}
	c := newRequestsComponent(b, clock.NewMock())

	c.Dispatch(ApproveClicked{Index: 0})
	require.True(t, c.Model().Rows[0].Approve.Pending())

	c.Dispose()
	close(b.gate)
	c.Wait()

	assert.Equal(t, []int{0}, b.approved, "the send itself completes")
	assert.True(t, c.Model().Rows[0].Approve.Pending(), "but the torn down model is untouched")

	c.Dispatch(FinalizeClicked{Index: 1})
	assert.False(t, c.Model().Rows[1].Finalize.Pending())
}

func TestContributeComponentClearsAfterTenSeconds(t *testing.T) {
	mock := clock.NewMock()
	b := &fakeBackend{}
	form := NewContributeForm(common.Address{})
	c := NewComponent(context.Background(), form, UpdateContribute, ContributeEffect(b, &campaign.Campaign{}, common.Address{}, 0), mock)

	c.Dispatch(ContributeSubmitted{Value: "0.25"})
	c.Wait()
	require.Equal(t, StatusSuccess, c.Model().Op.Status)
	require.Len(t, b.values, 1)
	assert.Equal(t, "250000000000000000", b.values[0].String())

	mock.Add(5 * time.Second)
	assert.Equal(t, StatusSuccess, c.Model().Op.Status)

	mock.Add(5 * time.Second)
	assert.Eventually(t, func() bool {
		return c.Model().Op.Status == StatusIdle
	}, time.Second, 5*time.Millisecond)
}

func TestContributeComponentRejectsBadAmount(t *testing.T) {
	b := &fakeBackend{}
	c := NewComponent(context.Background(), NewContributeForm(common.Address{}), UpdateContribute, ContributeEffect(b, &campaign.Campaign{}, common.Address{}, 0), clock.NewMock())

	c.Dispatch(ContributeSubmitted{Value: "lots"})
	c.Wait()
	assert.Equal(t, StatusError, c.Model().Op.Status)
	assert.Empty(t, b.values)
}
