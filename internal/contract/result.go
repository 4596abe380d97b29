package contract

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

// Result holds the decoded outputs of a call, in the order the ABI declares
// them.
type Result []interface{}

func (r Result) at(i int) (interface{}, error) {
	if i < 0 || i >= len(r) {
		return nil, fmt.Errorf("output %d out of range (%d outputs)", i, len(r))
	}
	return r[i], nil
}

func (r Result) BigInt(i int) (*big.Int, error) {
	v, err := r.at(i)
	if err != nil {
		return nil, err
	}
	n, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("output %d: want integer, got %T", i, v)
	}
	return new(big.Int).Set(n), nil
}

func (r Result) Address(i int) (common.Address, error) {
	v, err := r.at(i)
	if err != nil {
		return common.Address{}, err
	}
	a, ok := v.(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("output %d: want address, got %T", i, v)
	}
	return a, nil
}

func (r Result) Addresses(i int) ([]common.Address, error) {
	v, err := r.at(i)
	if err != nil {
		return nil, err
	}
	a, ok := v.([]common.Address)
	if !ok {
		return nil, fmt.Errorf("output %d: want address[], got %T", i, v)
	}
	return a, nil
}

func (r Result) Bool(i int) (bool, error) {
	v, err := r.at(i)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("output %d: want bool, got %T", i, v)
	}
	return b, nil
}

func (r Result) String(i int) (string, error) {
	v, err := r.at(i)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("output %d: want string, got %T", i, v)
	}
	return s, nil
}

// Strings coerces every output to text: integers as decimal strings so no
// precision is lost, addresses as checksummed hex.
func (r Result) Strings() []string {
	out := make([]string, len(r))
	for i, v := range r {
		out[i] = Stringify(v)
	}
	return out
}

func Stringify(v interface{}) string {
	switch t := v.(type) {
	case *big.Int:
		if t == nil {
			return "0"
		}
		return t.String()
	case common.Address:
		return t.Hex()
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case uint8, uint16, uint32, uint64, int8, int16, int32, int64:
		return fmt.Sprintf("%d", t)
	case []common.Address:
		parts := make([]string, len(t))
		for i, a := range t {
			parts[i] = a.Hex()
		}
		return fmt.Sprint(parts)
	}
	return fmt.Sprint(v)
}
