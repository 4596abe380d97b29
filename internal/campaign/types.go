package campaign

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"crowdcoin/internal/contract"
)

var (
	ErrNoAccounts       = errors.New("no authorized accounts")
	ErrInvalidRecipient = errors.New("recipient is not a valid address")
)

// LookupError reports that a campaign address could not be bound.
type LookupError struct {
	Address string
	Err     error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("campaign %q: %v", e.Address, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// Campaign is a bound Campaign contract. Its address is its identity.
type Campaign struct {
	Address common.Address
	client  *contract.Client
}

// Summary is the decoded getSummary() tuple.
type Summary struct {
	MinContribution *big.Int
	Balance         *big.Int
	NumRequests     *big.Int
	NumApprovers    *big.Int
	Manager         common.Address
}

// Request is one spending request. HasUserApproved is filled in per viewing
// account and is not stored on-chain.
type Request struct {
	Index           int
	Description     string
	Value           *big.Int
	Recipient       common.Address
	IsComplete      bool
	ApprovalCount   *big.Int
	HasUserApproved bool
}

// RequestInput is the user-entered form for a new spending request.
type RequestInput struct {
	Description string
	// Amount is in ether.
	Amount    string
	Recipient string
}

func decodeSummary(r contract.Result) (Summary, error) {
	var (
		s   Summary
		err error
	)
	if s.MinContribution, err = r.BigInt(0); err != nil {
		return s, err
	}
	if s.Balance, err = r.BigInt(1); err != nil {
		return s, err
	}
	if s.NumRequests, err = r.BigInt(2); err != nil {
		return s, err
	}
	if s.NumApprovers, err = r.BigInt(3); err != nil {
		return s, err
	}
	s.Manager, err = r.Address(4)
	return s, err
}

func decodeRequest(idx int, r contract.Result) (Request, error) {
	var (
		req = Request{Index: idx}
		err error
	)
	if req.Description, err = r.String(0); err != nil {
		return req, err
	}
	if req.Value, err = r.BigInt(1); err != nil {
		return req, err
	}
	if req.Recipient, err = r.Address(2); err != nil {
		return req, err
	}
	if req.IsComplete, err = r.Bool(3); err != nil {
		return req, err
	}
	req.ApprovalCount, err = r.BigInt(4)
	return req, err
}
