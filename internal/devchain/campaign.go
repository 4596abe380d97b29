package devchain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

type factoryState struct {
	campaigns []common.Address
	nonce     uint64
}

func newFactory() *factoryState {
	// EIP-161: contract nonces start at 1
	return &factoryState{nonce: 1}
}

type requestState struct {
	description   string
	value         *big.Int
	recipient     common.Address
	complete      bool
	approvalCount *big.Int
	approvals     map[common.Address]bool
}

type campaignState struct {
	manager      common.Address
	minimum      *big.Int
	approvers    map[common.Address]bool
	numApprovers *big.Int
	requests     []*requestState
}

func (c *Chain) execFactory(f *factoryState, self common.Address, msg message, commit bool) ([]byte, error) {
	method, args, err := decodeCall(c.factoryABI, msg.data, msg.value)
	if err != nil {
		return nil, err
	}

	switch method.Name {
	case "createCampaign":
		minimum := args[0].(*big.Int)
		if commit {
			addr := crypto.CreateAddress(self, f.nonce)
			f.nonce++
			c.campaigns[addr] = &campaignState{
				manager:      msg.from,
				minimum:      new(big.Int).Set(minimum),
				approvers:    make(map[common.Address]bool),
				numApprovers: new(big.Int),
			}
			f.campaigns = append(f.campaigns, addr)
		}
		return nil, nil

	case "getCampaigns":
		out := make([]common.Address, len(f.campaigns))
		copy(out, f.campaigns)
		return method.Outputs.Pack(out)

	case "deployedCampaigns":
		idx, ok := index(args[0].(*big.Int), len(f.campaigns))
		if !ok {
			return nil, revert("index out of bounds")
		}
		return method.Outputs.Pack(f.campaigns[idx])
	}
	return nil, revert("unsupported method %s", method.Name)
}

func (c *Chain) execCampaign(cs *campaignState, self common.Address, msg message, commit bool) ([]byte, error) {
	method, args, err := decodeCall(c.campaignABI, msg.data, msg.value)
	if err != nil {
		return nil, err
	}

	switch method.Name {
	case "contribute":
		if msg.value.Cmp(cs.minimum) < 0 {
			return nil, revert("contribution below minimum")
		}
		if commit {
			if !cs.approvers[msg.from] {
				cs.approvers[msg.from] = true
				cs.numApprovers.Add(cs.numApprovers, big.NewInt(1))
			}
			c.transfer(msg.from, self, msg.value)
		}
		return nil, nil

	case "createRequest":
		if msg.from != cs.manager {
			return nil, revert("only the manager")
		}
		if commit {
			cs.requests = append(cs.requests, &requestState{
				description:   args[0].(string),
				value:         new(big.Int).Set(args[1].(*big.Int)),
				recipient:     args[2].(common.Address),
				approvalCount: new(big.Int),
				approvals:     make(map[common.Address]bool),
			})
		}
		return nil, nil

	case "approveRequest":
		r, err := cs.request(args[0].(*big.Int))
		if err != nil {
			return nil, err
		}
		if !cs.approvers[msg.from] {
			return nil, revert("not an approver")
		}
		if r.approvals[msg.from] {
			return nil, revert("already approved")
		}
		if commit {
			r.approvals[msg.from] = true
			r.approvalCount.Add(r.approvalCount, big.NewInt(1))
		}
		return nil, nil

	case "finalizeRequest":
		if msg.from != cs.manager {
			return nil, revert("only the manager")
		}
		r, err := cs.request(args[0].(*big.Int))
		if err != nil {
			return nil, err
		}
		if r.complete {
			return nil, revert("request already complete")
		}
		half := new(big.Int).Quo(cs.numApprovers, big.NewInt(2))
		if r.approvalCount.Cmp(half) <= 0 {
			return nil, revert("not enough approvals")
		}
		if c.balanceOf(self).Cmp(r.value) < 0 {
			return nil, revert("insufficient campaign balance")
		}
		if commit {
			r.complete = true
			c.transfer(self, r.recipient, r.value)
		}
		return nil, nil

	case "hasApprovedRequest":
		r, err := cs.request(args[0].(*big.Int))
		if err != nil {
			return nil, err
		}
		return method.Outputs.Pack(r.approvals[args[1].(common.Address)])

	case "getSummary":
		return method.Outputs.Pack(
			cs.minimum,
			c.balanceOf(self),
			big.NewInt(int64(len(cs.requests))),
			cs.numApprovers,
			cs.manager,
		)

	case "getRequestCount":
		return method.Outputs.Pack(big.NewInt(int64(len(cs.requests))))

	case "requests":
		r, err := cs.request(args[0].(*big.Int))
		if err != nil {
			return nil, err
		}
		return method.Outputs.Pack(r.description, r.value, r.recipient, r.complete, r.approvalCount)

	case "manager":
		return method.Outputs.Pack(cs.manager)
	case "minimumContribution":
		return method.Outputs.Pack(cs.minimum)
	case "numApprovers":
		return method.Outputs.Pack(cs.numApprovers)
	case "approvers":
		return method.Outputs.Pack(cs.approvers[args[0].(common.Address)])
	}
	return nil, revert("unsupported method %s", method.Name)
}

func (cs *campaignState) request(i *big.Int) (*requestState, error) {
	idx, ok := index(i, len(cs.requests))
	if !ok {
		return nil, revert("invalid request index %s", i)
	}
	return cs.requests[idx], nil
}

func index(i *big.Int, n int) (int, bool) {
	if i.Sign() < 0 || !i.IsInt64() || i.Int64() >= int64(n) {
		return 0, false
	}
	return int(i.Int64()), true
}
