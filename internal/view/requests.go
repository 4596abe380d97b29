package view

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"crowdcoin/internal/campaign"
)

// RowState is one request row. Approved and Finalized are sticky: once set
// they stay set for the life of the page.
type RowState struct {
	Request   campaign.Request
	Approve   Op
	Finalize  Op
	Approved  bool
	Finalized bool
}

func (r RowState) busy() bool {
	return r.Approve.Pending() || r.Finalize.Pending()
}

// CanApprove reports whether the approve button is enabled.
func (r RowState) CanApprove(isApprover bool) bool {
	return isApprover && !r.busy() && !r.Approved && !r.Finalized
}

// CanFinalize reports whether the finalize button is enabled.
func (r RowState) CanFinalize(numApprovers *big.Int) bool {
	return !r.busy() && !r.Finalized && Finalizable(r.Request.ApprovalCount, numApprovers)
}

// RequestsPage is the request listing of one campaign as seen by Account.
type RequestsPage struct {
	Campaign     common.Address
	Account      common.Address
	IsApprover   bool
	NumApprovers *big.Int
	Rows         []RowState
}

// NewRequestsPage seeds rows from a fresh read.
func NewRequestsPage(addr, account common.Address, isApprover bool, numApprovers *big.Int, requests []campaign.Request) RequestsPage {
	rows := make([]RowState, len(requests))
	for i, req := range requests {
		rows[i] = RowState{
			Request:   req,
			Approved:  req.HasUserApproved,
			Finalized: req.IsComplete,
		}
	}
	return RequestsPage{
		Campaign:     addr,
		Account:      account,
		IsApprover:   isApprover,
		NumApprovers: numApprovers,
		Rows:         rows,
	}
}

// InFlight reports whether any row is waiting on the chain or showing a
// transient error.
func (p RequestsPage) InFlight() bool {
	for _, r := range p.Rows {
		if r.busy() || r.Approve.Status == StatusError || r.Finalize.Status == StatusError {
			return true
		}
	}
	return false
}

// Messages handled by UpdateRequests.
type (
	ApproveClicked  struct{ Index int }
	FinalizeClicked struct{ Index int }

	ApproveDone struct {
		Index int
		Err   error
	}
	FinalizeDone struct {
		Index int
		Err   error
	}
	RowLoaded struct {
		Index   int
		Request campaign.Request
		Err     error
	}
	ClearApproveError struct {
		Index int
		Seq   uint64
	}
	ClearFinalizeError struct {
		Index int
		Seq   uint64
	}
)

func (ApproveClicked) isMsg()     {}
func (FinalizeClicked) isMsg()    {}
func (ApproveDone) isMsg()        {}
func (FinalizeDone) isMsg()       {}
func (RowLoaded) isMsg()          {}
func (ClearApproveError) isMsg()  {}
func (ClearFinalizeError) isMsg() {}

// Commands produced by UpdateRequests.
type (
	SendApprove  struct{ Index int }
	SendFinalize struct{ Index int }
	RefreshRow   struct{ Index int }
)

func (SendApprove) isCmd()  {}
func (SendFinalize) isCmd() {}
func (RefreshRow) isCmd()   {}

func approveTimer(i int) string  { return fmt.Sprintf("approve-%d", i) }
func finalizeTimer(i int) string { return fmt.Sprintf("finalize-%d", i) }

// UpdateRequests is the request listing reducer. It never mutates p.
func UpdateRequests(p RequestsPage, msg Msg) (RequestsPage, []Cmd) {
	switch m := msg.(type) {
	case ApproveClicked:
		row, ok := p.row(m.Index)
		if !ok || !row.CanApprove(p.IsApprover) {
			return p, nil
		}
		row.Approve = row.Approve.next(StatusPending, "")
		return p.withRow(m.Index, row), []Cmd{Cancel{Key: approveTimer(m.Index)}, SendApprove{Index: m.Index}}

	case FinalizeClicked:
		row, ok := p.row(m.Index)
		if !ok || !row.CanFinalize(p.NumApprovers) {
			return p, nil
		}
		row.Finalize = row.Finalize.next(StatusPending, "")
		return p.withRow(m.Index, row), []Cmd{Cancel{Key: finalizeTimer(m.Index)}, SendFinalize{Index: m.Index}}

	case ApproveDone:
		row, ok := p.row(m.Index)
		if !ok {
			return p, nil
		}
		if m.Err != nil {
			row.Approve = row.Approve.next(StatusError, m.Err.Error())
			return p.withRow(m.Index, row), []Cmd{Schedule{
				Key:   approveTimer(m.Index),
				After: RowErrorTTL,
				Msg:   ClearApproveError{Index: m.Index, Seq: row.Approve.Seq},
			}}
		}
		row.Approve = row.Approve.next(StatusSuccess, "")
		row.Approved = true
		return p.withRow(m.Index, row), []Cmd{RefreshRow{Index: m.Index}}

	case FinalizeDone:
		row, ok := p.row(m.Index)
		if !ok {
			return p, nil
		}
		if m.Err != nil {
			row.Finalize = row.Finalize.next(StatusError, m.Err.Error())
			return p.withRow(m.Index, row), []Cmd{Schedule{
				Key:   finalizeTimer(m.Index),
				After: RowErrorTTL,
				Msg:   ClearFinalizeError{Index: m.Index, Seq: row.Finalize.Seq},
			}}
		}
		row.Finalize = row.Finalize.next(StatusSuccess, "")
		row.Finalized = true
		return p.withRow(m.Index, row), []Cmd{RefreshRow{Index: m.Index}}

	case RowLoaded:
		row, ok := p.row(m.Index)
		if !ok || m.Err != nil {
			return p, nil
		}
		row.Request = m.Request
		row.Approved = row.Approved || m.Request.HasUserApproved
		row.Finalized = row.Finalized || m.Request.IsComplete
		return p.withRow(m.Index, row), nil

	case ClearApproveError:
		row, ok := p.row(m.Index)
		if !ok || row.Approve.Status != StatusError || row.Approve.Seq != m.Seq {
			return p, nil
		}
		row.Approve = row.Approve.next(StatusIdle, "")
		return p.withRow(m.Index, row), nil

	case ClearFinalizeError:
		row, ok := p.row(m.Index)
		if !ok || row.Finalize.Status != StatusError || row.Finalize.Seq != m.Seq {
			return p, nil
		}
		row.Finalize = row.Finalize.next(StatusIdle, "")
		return p.withRow(m.Index, row), nil
	}
	return p, nil
}

func (p RequestsPage) row(i int) (RowState, bool) {
	if i < 0 || i >= len(p.Rows) {
		return RowState{}, false
	}
	return p.Rows[i], true
}

func (p RequestsPage) withRow(i int, row RowState) RequestsPage {
	rows := make([]RowState, len(p.Rows))
	copy(rows, p.Rows)
	rows[i] = row
	p.Rows = rows
	return p
}
