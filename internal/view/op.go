// Package view holds the page state machines. Each page is a model plus a
// pure update function that returns the next model and the commands to run;
// Component executes those commands.
package view

import (
	"math/big"
	"time"
)

// Status of one user operation.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Auto-clear delays for transient banners.
const (
	RowErrorTTL   = 5 * time.Second
	ContributeTTL = 10 * time.Second
)

// Op is the visible state of an operation. Seq increases on every transition
// so a stale clear timer can be recognised.
type Op struct {
	Status  Status
	Message string
	Seq     uint64
}

func (o Op) Pending() bool { return o.Status == StatusPending }

func (o Op) next(status Status, message string) Op {
	return Op{Status: status, Message: message, Seq: o.Seq + 1}
}

// Finalizable reports whether a request has a strict majority of approvers,
// with integer division as the contract does it.
func Finalizable(approvalCount, numApprovers *big.Int) bool {
	if approvalCount == nil || numApprovers == nil {
		return false
	}
	half := new(big.Int).Quo(numApprovers, big.NewInt(2))
	return approvalCount.Cmp(half) > 0
}

// Msg is an input to an update function.
type Msg interface{ isMsg() }

// Cmd is an effect requested by an update function.
type Cmd interface{ isCmd() }

// Schedule delivers Msg after the delay. A second Schedule with the same Key
// replaces the first.
type Schedule struct {
	Key   string
	After time.Duration
	Msg   Msg
}

// Cancel stops the timer scheduled under Key, if any.
type Cancel struct {
	Key string
}

func (Schedule) isCmd() {}
func (Cancel) isCmd()   {}
