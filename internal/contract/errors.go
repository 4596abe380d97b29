package contract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"crowdcoin/internal/chain"
)

var (
	ErrInvalidAddress = errors.New("not a valid contract address")
	ErrNoContract     = errors.New("no contract code at address")
	ErrNotDeployed    = errors.New("client is not bound to a deployed address")
)

// BindError reports that an address could not be bound to a usable contract.
type BindError struct {
	Contract string
	Address  string
	Err      error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s at %q: %v", e.Contract, e.Address, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// Kind classifies a transaction failure.
type Kind string

const (
	KindRejected Kind = "rejected"
	KindReverted Kind = "reverted"
	KindOutOfGas Kind = "out-of-gas"
	KindNetwork  Kind = "network"
)

// TxError is a failed state-changing call.
type TxError struct {
	Method string
	Kind   Kind
	Err    error
}

func (e *TxError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Method, e.Kind, e.Err)
}

func (e *TxError) Unwrap() error { return e.Err }

// KindOf returns the classification of err, or "" when it is not a TxError.
func KindOf(err error) Kind {
	var txErr *TxError
	if errors.As(err, &txErr) {
		return txErr.Kind
	}
	return ""
}

func classify(err error) Kind {
	if errors.Is(err, chain.ErrReadOnly) || errors.Is(err, chain.ErrUnknownAccount) {
		return KindRejected
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "user rejected"), strings.Contains(msg, "user denied"):
		return KindRejected
	case strings.Contains(msg, "out of gas"), strings.Contains(msg, "gas required exceeds"), strings.Contains(msg, "intrinsic gas too low"):
		return KindOutOfGas
	case strings.Contains(msg, "revert"), strings.Contains(msg, "insufficient funds"), strings.Contains(msg, "invalid opcode"):
		return KindReverted
	}
	return KindNetwork
}
