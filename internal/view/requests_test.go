package view

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crowdcoin/internal/campaign"
)

func samplePage(isApprover bool, reqs ...campaign.Request) RequestsPage {
	for i := range reqs {
		reqs[i].Index = i
		if reqs[i].ApprovalCount == nil {
			reqs[i].ApprovalCount = new(big.Int)
		}
	}
	return NewRequestsPage(common.HexToAddress("0xC0FFEE"), common.HexToAddress("0xA11CE"), isApprover, big.NewInt(3), reqs)
}

func TestFinalizeOnCompletedRowIsDropped(t *testing.T) {
	p := samplePage(true, campaign.Request{IsComplete: true, ApprovalCount: big.NewInt(3)})
	require.True(t, p.Rows[0].Finalized)
	assert.False(t, p.Rows[0].CanFinalize(p.NumApprovers))

	next, cmds := UpdateRequests(p, FinalizeClicked{Index: 0})
	assert.Empty(t, cmds)
	assert.Equal(t, p, next)
}

func TestFinalizeWithoutMajorityIsDropped(t *testing.T) {
	p := samplePage(true, campaign.Request{ApprovalCount: big.NewInt(1)})
	_, cmds := UpdateRequests(p, FinalizeClicked{Index: 0})
	assert.Empty(t, cmds)

	p = samplePage(true, campaign.Request{ApprovalCount: big.NewInt(2)})
	next, cmds := UpdateRequests(p, FinalizeClicked{Index: 0})
	require.Len(t, cmds, 2)
	assert.Equal(t, SendFinalize{Index: 0}, cmds[1])
	assert.True(t, next.Rows[0].Finalize.Pending())
}

func TestApproveFlowIsStickyAndPure(t *testing.T) {
	p := samplePage(true, campaign.Request{Description: "a"}, campaign.Request{Description: "b"})

	next, cmds := UpdateRequests(p, ApproveClicked{Index: 1})
	assert.Equal(t, []Cmd{Cancel{Key: "approve-1"}, SendApprove{Index: 1}}, cmds)
	assert.True(t, next.Rows[1].Approve.Pending())
	assert.False(t, p.Rows[1].Approve.Pending(), "input model must not change")

	// a second click while pending does nothing
	again, cmds := UpdateRequests(next, ApproveClicked{Index: 1})
	assert.Empty(t, cmds)
	assert.Equal(t, next, again)

	next, cmds = UpdateRequests(next, ApproveDone{Index: 1})
	assert.Equal(t, []Cmd{RefreshRow{Index: 1}}, cmds)
	assert.True(t, next.Rows[1].Approved)

	// a refresh that lags behind the chain never unsets the flag
	next, _ = UpdateRequests(next, RowLoaded{Index: 1, Request: campaign.Request{Index: 1, Description: "b", ApprovalCount: big.NewInt(1)}})
	assert.True(t, next.Rows[1].Approved)
	assert.Equal(t, int64(1), next.Rows[1].Request.ApprovalCount.Int64())

	_, cmds = UpdateRequests(next, ApproveClicked{Index: 1})
	assert.Empty(t, cmds)
}

func TestApproveRequiresApprover(t *testing.T) {
	p := samplePage(false, campaign.Request{})
	_, cmds := UpdateRequests(p, ApproveClicked{Index: 0})
	assert.Empty(t, cmds)

	_, cmds = UpdateRequests(p, ApproveClicked{Index: 7})
	assert.Empty(t, cmds)
}

func TestApproveErrorSchedulesClear(t *testing.T) {
	p := samplePage(true, campaign.Request{})
	p, _ = UpdateRequests(p, ApproveClicked{Index: 0})
	p, cmds := UpdateRequests(p, ApproveDone{Index: 0, Err: errors.New("user denied")})

	require.Len(t, cmds, 1)
	sched, ok := cmds[0].(Schedule)
	require.True(t, ok)
	assert.Equal(t, RowErrorTTL, sched.After)
	assert.Equal(t, StatusError, p.Rows[0].Approve.Status)
	assert.Equal(t, "user denied", p.Rows[0].Approve.Message)
	assert.False(t, p.Rows[0].Approved)
	assert.True(t, p.InFlight())

	// a stale clear does nothing
	stale, _ := UpdateRequests(p, ClearApproveError{Index: 0, Seq: sched.Msg.(ClearApproveError).Seq - 1})
	assert.Equal(t, StatusError, stale.Rows[0].Approve.Status)

	cleared, _ := UpdateRequests(p, sched.Msg)
	assert.Equal(t, StatusIdle, cleared.Rows[0].Approve.Status)
	assert.False(t, cleared.InFlight())
}

func TestFinalizeSuccessIsSticky(t *testing.T) {
	p := samplePage(true, campaign.Request{ApprovalCount: big.NewInt(2)})
	p, _ = UpdateRequests(p, FinalizeClicked{Index: 0})
	p, cmds := UpdateRequests(p, FinalizeDone{Index: 0})
	assert.Equal(t, []Cmd{RefreshRow{Index: 0}}, cmds)
	assert.True(t, p.Rows[0].Finalized)

	p, _ = UpdateRequests(p, RowLoaded{Index: 0, Request: campaign.Request{ApprovalCount: big.NewInt(2)}})
	assert.True(t, p.Rows[0].Finalized)
	_, cmds = UpdateRequests(p, FinalizeClicked{Index: 0})
	assert.Empty(t, cmds)
}
